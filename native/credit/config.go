package credit

import "math/big"

// Default repayment windows: seven days of grace, twenty-three further days
// of delinquency before default.
const (
	DefaultGraceDuration       = 7 * 24 * 60 * 60
	DefaultDelinquencyDuration = 23 * 24 * 60 * 60
)

// Config captures the runtime configuration for the credit module.
type Config struct {
	GraceDurationSeconds       uint64 `toml:"GraceDurationSeconds"`
	DelinquencyDurationSeconds uint64 `toml:"DelinquencyDurationSeconds"`
	FeeBps                     uint64 `toml:"FeeBps"`
	// MarkdownRatePerSecondWad is the default markdown multiplier growth,
	// WAD-scaled per second of default, as a decimal string.
	MarkdownRatePerSecondWad string `toml:"MarkdownRatePerSecondWad"`
	// MarkdownCapWad is the asymptotic write-down ceiling, WAD-scaled, as a
	// decimal string. "700000000000000000" caps markdown at 70%.
	MarkdownCapWad string `toml:"MarkdownCapWad"`
	// Authority is the bech32 address allowed to manage credit lines,
	// cycles, and settlements.
	Authority string `toml:"Authority"`
	// Base rate curve parameters, expressed as decimals (0.02 == 2% APR).
	BaseRate float64 `toml:"BaseRate"`
	Slope1   float64 `toml:"Slope1"`
	Slope2   float64 `toml:"Slope2"`
	Kink     float64 `toml:"Kink"`
}

// EnsureDefaults populates zero-valued durations and curve parameters.
func (c *Config) EnsureDefaults() {
	if c.GraceDurationSeconds == 0 {
		c.GraceDurationSeconds = DefaultGraceDuration
	}
	if c.DelinquencyDurationSeconds == 0 {
		c.DelinquencyDurationSeconds = DefaultDelinquencyDuration
	}
	if c.BaseRate == 0 && c.Slope1 == 0 && c.Slope2 == 0 && c.Kink == 0 {
		c.BaseRate = 0.02
		c.Slope1 = 0.15
		c.Slope2 = 0.6
		c.Kink = 0.8
	}
}

// Terms derives the state-machine durations from the configuration.
func (c *Config) Terms() Terms {
	terms := Terms{
		GraceDuration:       c.GraceDurationSeconds,
		DelinquencyDuration: c.DelinquencyDurationSeconds,
	}
	if terms.GraceDuration == 0 {
		terms.GraceDuration = DefaultGraceDuration
	}
	if terms.DelinquencyDuration == 0 {
		terms.DelinquencyDuration = DefaultDelinquencyDuration
	}
	return terms
}

// MarkdownManager builds the configured default markdown schedule, or nil
// when no rate is configured.
func (c *Config) MarkdownManager() *LinearMarkdownManager {
	rate, ok := new(big.Int).SetString(c.MarkdownRatePerSecondWad, 10)
	if !ok || rate.Sign() <= 0 {
		return nil
	}
	capWad, ok := new(big.Int).SetString(c.MarkdownCapWad, 10)
	if !ok || capWad.Sign() < 0 {
		capWad = big.NewInt(0)
	}
	return NewLinearMarkdownManager(rate, capWad)
}

// RateModel builds the configured kinked interest curve.
func (c *Config) RateModel() *InterestModel {
	return NewInterestModel(c.BaseRate, c.Slope1, c.Slope2, c.Kink)
}
