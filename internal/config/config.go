package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alekspetrov/conductor/internal/logging"
)

// Config represents the main configuration
type Config struct {
	Version   string           `yaml:"version"`
	GitHub    *GitHubConfig    `yaml:"github"`
	Storage   *StorageConfig   `yaml:"storage"`
	Scheduler *SchedulerConfig `yaml:"scheduler"`
	SSH       *SSHConfig       `yaml:"ssh"`
	Docker    *DockerConfig    `yaml:"docker"`
	Keyring   *KeyringConfig   `yaml:"keyring"`
	Logging   *logging.Config  `yaml:"logging"`
}

// GitHubConfig holds the account the conductor acts as
type GitHubConfig struct {
	Token  string `yaml:"token"`
	Login  string `yaml:"login"`
	APIURL string `yaml:"api_url"`
}

// StorageConfig selects the talk database
type StorageConfig struct {
	// Driver is "sqlite" (pure Go) or "sqlite3" (cgo).
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// SchedulerConfig holds tick settings
type SchedulerConfig struct {
	Interval time.Duration `yaml:"interval"`
	MaxTalks int           `yaml:"max_talks"`
	// Isolate runs each talk in its own unit so one failure does not
	// abort the others.
	Isolate  bool `yaml:"isolate"`
	Parallel int  `yaml:"parallel"`
}

// SSHConfig describes the build host
type SSHConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Login      string `yaml:"login"`
	KeyFile    string `yaml:"key_file"`
	KnownHosts string `yaml:"known_hosts"`
}

// DockerConfig holds build container settings
type DockerConfig struct {
	Image   string `yaml:"image"`
	WorkDir string `yaml:"work_dir"`
}

// KeyringConfig points to GPG keys uploaded for profiles that decrypt
// secrets
type KeyringConfig struct {
	Pubring string `yaml:"pubring"`
	Secring string `yaml:"secring"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Version: "1.0",
		GitHub: &GitHubConfig{
			Login:  "conductor",
			APIURL: "https://api.github.com",
		},
		Storage: &StorageConfig{
			Driver: "sqlite",
			Path:   filepath.Join(homeDir, ".conductor", "talks.db"),
		},
		Scheduler: &SchedulerConfig{
			Interval: time.Minute,
			MaxTalks: 10,
			Isolate:  true,
			Parallel: 1,
		},
		SSH: &SSHConfig{
			Port:  22,
			Login: "conductor",
		},
		Docker: &DockerConfig{
			Image:   "ubuntu:22.04",
			WorkDir: "/tmp",
		},
		Keyring: &KeyringConfig{},
		Logging: logging.DefaultConfig(),
	}
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil // Return defaults if no config file
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Expand paths
	if config.Storage != nil {
		config.Storage.Path = expandPath(config.Storage.Path)
	}
	if config.SSH != nil {
		config.SSH.KeyFile = expandPath(config.SSH.KeyFile)
		config.SSH.KnownHosts = expandPath(config.SSH.KnownHosts)
	}
	if config.Keyring != nil {
		config.Keyring.Pubring = expandPath(config.Keyring.Pubring)
		config.Keyring.Secring = expandPath(config.Keyring.Secring)
	}
	if config.Logging != nil {
		config.Logging.Output = expandPath(config.Logging.Output)
	}

	return config, nil
}

// Save saves configuration to a YAML file
func Save(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// DefaultConfigPath returns the default config path
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".conductor", "config.yaml")
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.GitHub == nil || c.GitHub.Token == "" {
		return fmt.Errorf("github token is required")
	}
	if c.GitHub.Login == "" {
		return fmt.Errorf("github login is required")
	}
	if c.Storage == nil || c.Storage.Path == "" {
		return fmt.Errorf("storage path is required")
	}
	switch c.Storage.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("invalid storage driver %q: must be sqlite or sqlite3", c.Storage.Driver)
	}
	if c.Scheduler == nil {
		return fmt.Errorf("scheduler configuration is required")
	}
	if c.Scheduler.Interval < time.Second {
		return fmt.Errorf("invalid scheduler interval %s: must be at least 1s", c.Scheduler.Interval)
	}
	if c.Scheduler.MaxTalks < 1 {
		return fmt.Errorf("invalid scheduler max_talks: %d", c.Scheduler.MaxTalks)
	}
	if c.Scheduler.Parallel < 1 {
		return fmt.Errorf("invalid scheduler parallel: %d", c.Scheduler.Parallel)
	}
	if c.SSH == nil || c.SSH.Host == "" || c.SSH.Login == "" || c.SSH.KeyFile == "" {
		return fmt.Errorf("ssh host, login and key_file are required")
	}
	if c.SSH.Port < 1 || c.SSH.Port > 65535 {
		return fmt.Errorf("invalid ssh port: %d", c.SSH.Port)
	}
	if c.Keyring != nil && (c.Keyring.Pubring == "") != (c.Keyring.Secring == "") {
		return fmt.Errorf("keyring needs both pubring and secring")
	}
	return nil
}

// SSHKey reads the private key of the build host.
func (c *Config) SSHKey() (string, error) {
	data, err := os.ReadFile(c.SSH.KeyFile)
	if err != nil {
		return "", fmt.Errorf("failed to read ssh key: %w", err)
	}
	return string(data), nil
}
