package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	RPCAddress  string `toml:"RPCAddress"`
	DataDir     string `toml:"DataDir"`
	GenesisFile string `toml:"GenesisFile"`
	ExplorerDSN string `toml:"ExplorerDSN"`

	LogLevel      string `toml:"LogLevel"`
	LogFile       string `toml:"LogFile"`
	LogFileMaxMB  int    `toml:"LogFileMaxMB"`
	LogFileBackup int    `toml:"LogFileBackup"`

	AuthSecret        string  `toml:"AuthSecret"`
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	RequestBurst      int     `toml:"RequestBurst"`

	OTLPEndpoint string `toml:"OTLPEndpoint"`
	OTLPInsecure bool   `toml:"OTLPInsecure"`
	Environment  string `toml:"Environment"`
}

// Load reads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = "127.0.0.1:8645"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./proxyvm-data"
	}
	if strings.TrimSpace(cfg.ExplorerDSN) == "" {
		cfg.ExplorerDSN = "sqlite:" + filepath.Join(cfg.DataDir, "explorer.db")
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFileMaxMB <= 0 {
		cfg.LogFileMaxMB = 64
	}
	if cfg.LogFileBackup <= 0 {
		cfg.LogFileBackup = 3
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 600
	}
	if cfg.RequestBurst <= 0 {
		cfg.RequestBurst = 20
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
}

func validate(cfg *Config) error {
	switch strings.ToLower(strings.TrimSpace(cfg.LogLevel)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown LogLevel %q", cfg.LogLevel)
	}
	if !strings.HasPrefix(cfg.ExplorerDSN, "sqlite:") && !strings.HasPrefix(cfg.ExplorerDSN, "postgres:") {
		return fmt.Errorf("config: ExplorerDSN must start with sqlite: or postgres:")
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
