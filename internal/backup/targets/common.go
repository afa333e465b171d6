// Package targets provides backup target implementations
package targets

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cropscan/cropscan/internal/backup"
	"github.com/cropscan/cropscan/internal/errors"
)

const (
	dirPermissions  = 0o700
	filePermissions = 0o600
	metaSuffix      = ".meta.json"
	tempPrefix      = "upload-"
)

func metaName(id string) string {
	return id + metaSuffix
}

func isMetaName(name string) bool {
	return strings.HasSuffix(name, metaSuffix)
}

func encodeMetadata(m *backup.Metadata) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

func decodeMetadata(data []byte) (backup.Metadata, error) {
	var m backup.Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode backup metadata: %w", err)
	}
	if m.Version > backup.MetadataVersion {
		return m, fmt.Errorf("backup metadata version %d is newer than supported %d", m.Version, backup.MetadataVersion)
	}
	return m, nil
}

// validID rejects ids that could escape the target directory.
func validID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return errors.ValidationError(fmt.Sprintf("invalid backup id %q", id))
	}
	return nil
}

func sortNewestFirst(list []backup.Metadata) {
	sort.Slice(list, func(i, j int) bool { return list[i].Timestamp.After(list[j].Timestamp) })
}

func targetError(err error, target, op string) error {
	category := errors.CategoryBackup
	if errors.IsCategory(err, errors.CategoryValidation) {
		category = errors.CategoryValidation
	}
	return errors.New(err).
		Component("backup").
		Category(category).
		Context("target", target).
		Context("operation", op).
		Build()
}

func configError(target, msg string) error {
	return errors.Newf("%s: %s", target, msg).
		Component("backup").
		Category(errors.CategoryConfiguration).
		Context("target", target).
		Build()
}
