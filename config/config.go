package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"creditline/native/credit"

	"github.com/BurntSushi/toml"
)

// Config is the top-level daemon configuration, decoded from TOML.
type Config struct {
	RPCAddress  string `toml:"RPCAddress"`
	DataDir     string `toml:"DataDir"`
	Environment string `toml:"Environment"`
	// RPCAuthTokenEnv names the environment variable holding the bearer
	// token for mutating RPC methods. The token itself never lives in the
	// config file.
	RPCAuthTokenEnv string `toml:"RPCAuthTokenEnv"`

	Pauses Pauses        `toml:"pauses"`
	Credit credit.Config `toml:"credit"`
}

// Pauses flags modules whose mutating operations are administratively halted.
type Pauses struct {
	Credit bool `toml:"Credit"`
}

// IsPaused reports whether the named module is halted.
func (p Pauses) IsPaused(module string) bool {
	switch module {
	case "credit":
		return p.Credit
	default:
		return false
	}
}

// Load reads the configuration at path, writing a commented default file first
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = ":8080"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./creditline-data"
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = "local"
	}
	if strings.TrimSpace(c.RPCAuthTokenEnv) == "" {
		c.RPCAuthTokenEnv = "CREDITLINE_RPC_TOKEN"
	}
	c.Credit.EnsureDefaults()
}

// RPCAuthToken resolves the bearer token from the configured environment
// variable. Empty means mutating methods stay disabled.
func (c *Config) RPCAuthToken() string {
	return strings.TrimSpace(os.Getenv(c.RPCAuthTokenEnv))
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// Validate rejects configurations the daemon could not run safely with.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil configuration")
	}
	return cfg.Validate()
}

func (c *Config) Validate() error {
	if c.Credit.FeeBps > 10_000 {
		return fmt.Errorf("credit: FeeBps %d exceeds 10000", c.Credit.FeeBps)
	}
	if c.Credit.Kink < 0 || c.Credit.Kink > 1 {
		return fmt.Errorf("credit: Kink %v outside [0, 1]", c.Credit.Kink)
	}
	if c.Credit.BaseRate < 0 || c.Credit.Slope1 < 0 || c.Credit.Slope2 < 0 {
		return fmt.Errorf("credit: negative rate curve parameter")
	}
	if strings.TrimSpace(c.Credit.MarkdownRatePerSecondWad) != "" && c.Credit.MarkdownManager() == nil {
		return fmt.Errorf("credit: invalid MarkdownRatePerSecondWad %q", c.Credit.MarkdownRatePerSecondWad)
	}
	return nil
}
