package utils

import (
	"os"
	"path/filepath"
	"strings"
)

// XDGPaths holds the XDG base directories for one application.
type XDGPaths struct {
	ConfigHome string
	CacheHome  string
	ConfigDirs []string
}

// GetXDGPaths resolves the XDG base directories for appName, falling back to
// ~/.config, ~/.cache and /etc/xdg.
func GetXDGPaths(appName string) *XDGPaths {
	home, _ := os.UserHomeDir()

	configHome := envOr("XDG_CONFIG_HOME", joinHome(home, ".config"))
	cacheHome := envOr("XDG_CACHE_HOME", joinHome(home, ".cache"))

	paths := &XDGPaths{}
	if configHome != "" {
		paths.ConfigHome = filepath.Join(configHome, appName)
	}
	if cacheHome != "" {
		paths.CacheHome = filepath.Join(cacheHome, appName)
	}
	for _, dir := range strings.Split(envOr("XDG_CONFIG_DIRS", "/etc/xdg"), ":") {
		if dir != "" {
			paths.ConfigDirs = append(paths.ConfigDirs, filepath.Join(dir, appName))
		}
	}
	return paths
}

// ConfigSearchPaths lists directories searched for a config file, working
// directory first, then the user directory, then system directories.
func (x *XDGPaths) ConfigSearchPaths() []string {
	var dirs []string
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd)
	}
	if x.ConfigHome != "" {
		dirs = append(dirs, x.ConfigHome)
	}
	return append(dirs, x.ConfigDirs...)
}

// ConfigFilenames returns candidate file names in priority order.
func ConfigFilenames(appName string) []string {
	return []string{
		"." + appName + ".yaml",
		"." + appName + ".yml",
		"." + appName + ".json",
		"config.yaml",
		"config.yml",
		"config.json",
	}
}

// FindConfigFile returns the first config file found on the search path.
func FindConfigFile(appName string) (string, bool) {
	paths := GetXDGPaths(appName)
	names := ConfigFilenames(appName)
	for _, dir := range paths.ConfigSearchPaths() {
		for _, name := range names {
			candidate := filepath.Join(dir, name)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, true
			}
		}
	}
	return "", false
}

// CacheFile returns a path for name inside the application cache directory,
// creating the directory if needed.
func CacheFile(appName, name string) (string, error) {
	dir := GetXDGPaths(appName).CacheHome
	if dir == "" {
		dir = filepath.Join(os.TempDir(), appName)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func joinHome(home, dir string) string {
	if home == "" {
		return ""
	}
	return filepath.Join(home, dir)
}
