// Package paths resolves the configuration and cache directory locations.
// See docs/ARCHITECTURE.md § Directories.
package paths

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/mitchellh/go-homedir"
)

// AppName names the per-user directories.
const AppName = "idcache"

// Environment variable names for directory overrides.
const (
	EnvConfigDir = "IDCACHE_CONFIG_DIR"
	EnvCacheDir  = "IDCACHE_CACHE_DIR"
)

// platformDir holds platform-detection functions that can be overridden in tests.
var platformDir = struct {
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
	userCacheDir  func() (string, error)
}{
	homeDir:       homedir.Dir,
	userConfigDir: os.UserConfigDir,
	userCacheDir:  os.UserCacheDir,
}

// DefaultConfigDir returns the platform-specific default configuration directory.
//
// Linux:   $XDG_CONFIG_HOME/idcache (fallback ~/.config/idcache)
// macOS:   ~/Library/Application Support/idcache
// Windows: %APPDATA%/idcache
func DefaultConfigDir() (string, error) {
	if runtime.GOOS == "linux" {
		return xdgDir("XDG_CONFIG_HOME", ".config")
	}
	dir, err := platformDir.userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, AppName), nil
}

// DefaultCacheDir returns the platform-specific default cache root.
//
// Linux:   $XDG_CACHE_HOME/idcache (fallback ~/.cache/idcache)
// macOS:   ~/Library/Caches/idcache
// Windows: %LocalAppData%/idcache
func DefaultCacheDir() (string, error) {
	if runtime.GOOS == "linux" {
		return xdgDir("XDG_CACHE_HOME", ".cache")
	}
	dir, err := platformDir.userCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, AppName), nil
}

func xdgDir(env, fallback string) (string, error) {
	if xdg := os.Getenv(env); xdg != "" {
		return filepath.Join(xdg, AppName), nil
	}
	home, err := platformDir.homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, fallback, AppName), nil
}

// abs expands a leading ~ and makes path absolute.
func abs(path string) (string, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", err
	}
	return filepath.Abs(expanded)
}

// ResolveConfigDir returns the configuration directory following the precedence
// chain: flag > IDCACHE_CONFIG_DIR env > DefaultConfigDir().
func ResolveConfigDir(flag string) (string, error) {
	if flag != "" {
		return abs(flag)
	}
	if env := os.Getenv(EnvConfigDir); env != "" {
		return abs(env)
	}
	return DefaultConfigDir()
}

// ResolveCacheDir returns the cache root following the precedence chain:
// flag > IDCACHE_CACHE_DIR env > configValue > DefaultCacheDir().
func ResolveCacheDir(flag, configValue string) (string, error) {
	if flag != "" {
		return abs(flag)
	}
	if env := os.Getenv(EnvCacheDir); env != "" {
		return abs(env)
	}
	if configValue != "" {
		return abs(configValue)
	}
	return DefaultCacheDir()
}
