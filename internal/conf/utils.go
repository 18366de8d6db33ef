// conf/utils.go: config search paths and file helpers
package conf

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/tphakala/agm/internal/errors"
)

const (
	componentConf = "conf"

	// ConfigDirEnv overrides the config search path with a single directory
	ConfigDirEnv = "AGM_CONFIG_DIR"
)

// GetDefaultConfigPaths returns the directories searched for config.yaml in
// order. A directory that already holds a config.yaml is returned alone, so
// a default written on first start lands in the first entry.
func GetDefaultConfigPaths() ([]string, error) {
	if dir := os.Getenv(ConfigDirEnv); dir != "" {
		return []string{dir}, nil
	}

	var configPaths []string
	switch runtime.GOOS {
	case "windows":
		exePath, err := os.Executable()
		if err != nil {
			return nil, systemError(err, "get-executable-path")
		}
		appData, err := os.UserConfigDir()
		if err != nil {
			return nil, systemError(err, "get-config-directory")
		}
		configPaths = []string{filepath.Dir(exePath), filepath.Join(appData, "agm")}
	default:
		userDir, err := os.UserConfigDir()
		if err != nil {
			return nil, systemError(err, "get-config-directory")
		}
		configPaths = []string{filepath.Join(userDir, "agm"), "/etc/agm"}
	}

	for _, path := range configPaths {
		if _, err := os.Stat(filepath.Join(path, "config.yaml")); err == nil {
			return []string{path}, nil
		}
	}
	return configPaths, nil
}

func systemError(err error, operation string) error {
	return errors.New(err).
		Component(componentConf).
		Category(errors.CategorySystem).
		Context("operation", operation).
		Build()
}

// moveFile renames src to dst, copying across filesystems when rename fails
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return fmt.Errorf("error opening source file: %w", err)
	}
	defer in.Close()

	out, err := os.Create(filepath.Clean(dst))
	if err != nil {
		return fmt.Errorf("error creating destination file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("error copying file contents: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("error closing destination file: %w", err)
	}
	return os.Remove(src)
}
