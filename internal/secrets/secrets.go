// Package secrets resolves credentials from the configuration. A value may
// reference environment variables as ${VAR} or ${VAR:-fallback}, and a
// companion file path (Docker or Kubernetes secret mounts) takes precedence
// over the value.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tphakala/agm/internal/errors"
	"github.com/tphakala/agm/internal/logger"
)

const (
	// ComponentSecrets tags errors raised while resolving credentials
	ComponentSecrets = "secrets"

	maxFileSize = 64 * 1024
)

// Expand substitutes environment references in s. Referenced variables
// without a fallback must be set.
func Expand(s string) (string, error) {
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
			Component(ComponentSecrets).
			Category(errors.CategoryConfiguration).
			Build()
	}
	return expanded, nil
}

// ReadFile returns the content of a secret file without its trailing
// newlines. Files readable by group or others are accepted with a warning.
func ReadFile(path string) (string, error) {
	if path == "" {
		return "", fileError(fmt.Errorf("secret file path is empty"), path)
	}
	clean := filepath.Clean(path)

	info, err := os.Stat(clean)
	if err != nil {
		return "", fileError(err, clean)
	}
	switch {
	case !info.Mode().IsRegular():
		return "", fileError(fmt.Errorf("secret path is not a regular file"), clean)
	case info.Size() > maxFileSize:
		return "", fileError(fmt.Errorf("secret file larger than %d bytes", maxFileSize), clean)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Global().Module(ComponentSecrets).Warn("secret file is readable by group or others",
			logger.String("path", clean),
			logger.String("mode", fmt.Sprintf("%04o", perm)))
	}

	data, err := os.ReadFile(clean)
	if err != nil {
		return "", fileError(err, clean)
	}
	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", fileError(fmt.Errorf("secret file is empty"), clean)
	}
	return secret, nil
}

// Resolve returns the file content when filePath is set, otherwise the
// expanded value. Both empty resolve to "".
func Resolve(filePath, value string) (string, error) {
	if filePath != "" {
		return ReadFile(filePath)
	}
	return Expand(value)
}

func fileError(err error, path string) error {
	return errors.New(err).
		Component(ComponentSecrets).
		Category(errors.CategoryConfiguration).
		Context("path", path).
		Build()
}
