package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the settings shared by all thunderkeep commands.
type Config struct {
	// ManifestURL is the URL of the release manifest published upstream.
	ManifestURL string `yaml:"manifest_url"`
	// InstallRoot is the directory holding versioned installs and the
	// "current" link the application is launched from.
	InstallRoot string `yaml:"install_root"`
	// CacheDir is where verified release archives are kept between runs.
	CacheDir string `yaml:"cache_dir"`
	// StateFile is the path to the JSON file recording what is installed.
	StateFile string `yaml:"state_file"`
	// Timeout bounds every network request.
	Timeout time.Duration `yaml:"timeout"`
	// MaxRetries is the number of additional attempts for transport failures.
	MaxRetries uint64 `yaml:"max_retries"`
}

const (
	// DefaultConfigFilename is the default location of the settings file,
	// relative to the user's home directory.
	DefaultConfigFilename = ".config/thunderkeep/settings.yaml"

	// DefaultTimeout is the default duration for network operations.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the default retry budget for transport failures.
	DefaultMaxRetries = 3

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600

	// EnvInstallRoot overrides the install_root setting.
	EnvInstallRoot = "THUNDERKEEP_INSTALL_ROOT"

	// EnvCacheDir overrides the cache_dir setting.
	EnvCacheDir = "THUNDERKEEP_CACHE_DIR"

	defaultInstallRootRel = ".local/opt/thunderbird"
	defaultCacheDirRel    = ".cache/thunderkeep"
	defaultStateFileRel   = ".config/thunderkeep/state.json"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errManifestURLRequired is returned when the manifest URL is missing.
	errManifestURLRequired = errors.New("manifest URL must be provided")
)

// DefaultPath returns the default settings file location for the current user.
func DefaultPath() string {
	return expandHome("~/" + DefaultConfigFilename)
}

// Load reads configuration from the provided path, applies environment
// overrides and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultPath()
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks required fields, expands "~" and fills in defaults.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.ManifestURL == "" {
		return errManifestURLRequired
	}

	if _, err := url.ParseRequestURI(cfg.ManifestURL); err != nil {
		return fmt.Errorf("invalid manifest URL: %w", err)
	}

	if cfg.InstallRoot == "" {
		cfg.InstallRoot = "~/" + defaultInstallRootRel
	}

	if cfg.CacheDir == "" {
		cfg.CacheDir = "~/" + defaultCacheDirRel
	}

	if cfg.StateFile == "" {
		cfg.StateFile = "~/" + defaultStateFileRel
	}

	cfg.InstallRoot = expandHome(cfg.InstallRoot)
	cfg.CacheDir = expandHome(cfg.CacheDir)
	cfg.StateFile = expandHome(cfg.StateFile)

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	return nil
}

// applyEnvOverrides lets the environment redirect the install root and
// cache directory without editing the settings file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvInstallRoot); v != "" {
		cfg.InstallRoot = v
	}

	if v := os.Getenv(EnvCacheDir); v != "" {
		cfg.CacheDir = v
	}
}

// expandHome replaces a leading "~" with the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
