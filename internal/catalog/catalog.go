// Package catalog holds the treatment advice, yield-loss factors and chat replies
// keyed by disease name. The tables come from a versioned YAML document so the
// disease vocabulary can change without a rebuild.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cropscan/cropscan/internal/errors"
)

// SupportedVersion is the catalog schema version this build understands.
const SupportedVersion = 1

const (
	fallbackTreatment = "No treatment available"
	fallbackBaseLoss  = 0.15
)

//go:embed catalog.yaml
var embeddedCatalog []byte

// ChatReply is a canned answer for one disease key.
type ChatReply struct {
	Key   string `yaml:"key"`
	Reply string `yaml:"reply"`
}

// ChatTable is the ordered rule set of the chat responder.
type ChatTable struct {
	Fallback string      `yaml:"fallback"`
	Replies  []ChatReply `yaml:"replies"`
}

// Catalog is an immutable set of lookup tables.
type Catalog struct {
	Version          int                `yaml:"version"`
	DefaultTreatment string             `yaml:"default_treatment"`
	DefaultBaseLoss  float64            `yaml:"default_base_loss"`
	Treatments       map[string]string  `yaml:"treatments"`
	BaseLoss         map[string]float64 `yaml:"base_loss"`
	Chat             ChatTable          `yaml:"chat"`
}

// Default returns the catalog compiled into the binary.
func Default() *Catalog {
	c, err := Parse(embeddedCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
	}
	return c
}

// Load reads a catalog from path. An empty path returns the embedded catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err).
			Component("catalog").
			Category(errors.CategoryConfiguration).
			Context("operation", "read_catalog").
			Build()
	}
	return Parse(data)
}

// Parse decodes and validates a catalog document, applying defaults for omitted fields.
func Parse(data []byte) (*Catalog, error) {
	c := &Catalog{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, errors.New(fmt.Errorf("decode catalog: %w", err)).
			Component("catalog").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if c.Version != SupportedVersion {
		return nil, errors.Newf("unsupported catalog version %d, want %d", c.Version, SupportedVersion).
			Component("catalog").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if c.DefaultTreatment == "" {
		c.DefaultTreatment = fallbackTreatment
	}
	if c.DefaultBaseLoss == 0 {
		c.DefaultBaseLoss = fallbackBaseLoss
	}
	if c.Treatments == nil {
		c.Treatments = map[string]string{}
	}
	if c.BaseLoss == nil {
		c.BaseLoss = map[string]float64{}
	}

	var problems []string
	if c.DefaultBaseLoss < 0 || c.DefaultBaseLoss > 1 {
		problems = append(problems, fmt.Sprintf("default_base_loss %g outside [0,1]", c.DefaultBaseLoss))
	}
	for disease, loss := range c.BaseLoss {
		if loss < 0 || loss > 1 {
			problems = append(problems, fmt.Sprintf("base_loss[%s] %g outside [0,1]", disease, loss))
		}
	}
	for i, r := range c.Chat.Replies {
		if r.Key == "" || r.Reply == "" {
			problems = append(problems, fmt.Sprintf("chat reply %d needs key and reply", i))
		}
		c.Chat.Replies[i].Key = strings.ToLower(r.Key)
	}
	if len(problems) > 0 {
		return nil, errors.Newf("invalid catalog: %s", strings.Join(problems, "; ")).
			Component("catalog").
			Category(errors.CategoryValidation).
			Build()
	}

	return c, nil
}

// Treatment returns the advice for a label, or the default treatment.
func (c *Catalog) Treatment(label string) string {
	if t, ok := c.Treatments[label]; ok {
		return t
	}
	return c.DefaultTreatment
}

// BaseLossFor returns the fractional yield loss at full severity for a disease.
func (c *Catalog) BaseLossFor(disease string) float64 {
	if loss, ok := c.BaseLoss[disease]; ok {
		return loss
	}
	return c.DefaultBaseLoss
}
