// Package secrets resolves credentials from mounted secret files or
// environment references. Values are never logged.
package secrets

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cropscan/cropscan/internal/errors"
	"github.com/cropscan/cropscan/internal/logger"
)

// maxFileSize bounds secret reads; tokens and passwords are small.
const maxFileSize = 64 * 1024

// ExpandString expands ${VAR} and ${VAR:-fallback} references in s. A
// reference without a fallback to an unset variable is an error.
func ExpandString(s string) (string, error) {
	if s == "" {
		return "", nil
	}

	var missing []string
	expanded := os.Expand(s, func(key string) string {
		name, fallback, hasFallback := strings.Cut(key, ":-")
		if v := os.Getenv(name); v != "" {
			return v
		}
		if hasFallback {
			return fallback
		}
		missing = append(missing, name)
		return ""
	})

	if len(missing) > 0 {
		return "", errors.Newf("missing environment variable(s): %s", strings.Join(missing, ", ")).
			Component("secrets").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return expanded, nil
}

// ReadFile reads a secret file such as /run/secrets/admin_token. Trailing
// newlines are trimmed and an empty file is an error.
func ReadFile(path string) (string, error) {
	clean := filepath.Clean(path)

	info, err := os.Stat(clean)
	if err != nil {
		return "", fileError(err, clean)
	}
	if !info.Mode().IsRegular() {
		return "", errors.Newf("secret path is not a regular file").
			Component("secrets").
			Category(errors.CategoryConfiguration).
			Context("path", clean).
			Build()
	}
	if info.Size() > maxFileSize {
		return "", errors.Newf("secret file exceeds %d bytes", maxFileSize).
			Component("secrets").
			Category(errors.CategoryConfiguration).
			Context("path", clean).
			Build()
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		GetLogger().Warn("secret file is readable by group or others",
			logger.String("path", clean),
			logger.String("mode", perm.String()))
	}

	data, err := os.ReadFile(clean)
	if err != nil {
		return "", fileError(err, clean)
	}
	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", errors.Newf("secret file is empty").
			Component("secrets").
			Category(errors.CategoryConfiguration).
			Context("path", clean).
			Build()
	}
	return secret, nil
}

// Resolve prefers filePath when set. Otherwise value is expanded when it
// holds a ${VAR} reference and returned as is when it does not, so literal
// passwords containing '$' survive.
func Resolve(filePath, value string) (string, error) {
	if filePath != "" {
		return ReadFile(filePath)
	}
	if !strings.Contains(value, "${") {
		return value, nil
	}
	return ExpandString(value)
}

func fileError(err error, path string) error {
	return errors.New(err).
		Component("secrets").
		Category(errors.CategoryFileIO).
		Context("path", path).
		Build()
}
