package classifier

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/cropscan/cropscan/internal/errors"
)

// LoadLabels reads an ordered label vocabulary, one label per line. Blank lines
// and lines starting with '#' are skipped.
func LoadLabels(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryLabelLoad).
			Context("label_path", path).
			Build()
	}

	labels, err := ParseLabels(data)
	if err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryLabelLoad).
			Context("label_path", path).
			Build()
	}
	return labels, nil
}

// ParseLabels parses a label file body. Duplicate labels are rejected since
// they would make the probability vector ambiguous.
func ParseLabels(data []byte) ([]string, error) {
	var labels []string
	seen := make(map[string]int)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for scanner.Scan() {
		line++
		label := strings.TrimSpace(scanner.Text())
		if label == "" || strings.HasPrefix(label, "#") {
			continue
		}
		if prev, ok := seen[label]; ok {
			return nil, fmt.Errorf("duplicate label %q on lines %d and %d", label, prev, line)
		}
		seen[label] = line
		labels = append(labels, label)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("label vocabulary is empty")
	}
	return labels, nil
}
