package bitgrind

import (
	"runtime"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Config holds the core inputs to a mining session. Start from
// DefaultConfig; the zero value does not validate.
type Config struct {
	// Identity is hashed between the previous hash and the nonce in every
	// scored candidate, and recorded on the chain file's first line.
	Identity string

	// Workers is the number of parallel scan goroutines.
	Workers int

	// TargetDifficulty is the ceiling in leading zero bits; reaching it
	// ends the session.
	TargetDifficulty int

	// Strategy selects the nonce generator.
	Strategy Strategy

	// ProgressInterval bounds how often each worker reports throughput.
	ProgressInterval time.Duration

	// HashRateInterval is how often the coordinator logs the pool rate.
	HashRateInterval time.Duration

	// EventBuffer is the worker event channel capacity.
	EventBuffer int
}

// DefaultConfig returns a configuration with every tunable at its default.
// Identity has no default and must be set by the caller.
func DefaultConfig() *Config {
	return &Config{
		Workers:          runtime.NumCPU(),
		TargetDifficulty: 32,
		Strategy:         StrategySequential,
		ProgressInterval: 5 * time.Second,
		HashRateInterval: 10 * time.Second,
		EventBuffer:      256,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Identity == "" {
		return errors.New("identity is required")
	}
	if strings.ContainsAny(c.Identity, "\r\n") {
		return errors.New("identity must not contain line breaks")
	}
	if c.Workers < 1 {
		return errors.New("at least one worker is required")
	}
	if c.TargetDifficulty < 1 || c.TargetDifficulty > HashBits {
		return errors.Errorf("target difficulty must be between 1 and %d bits", HashBits)
	}
	if _, err := ParseStrategy(string(c.Strategy)); err != nil {
		return err
	}
	if c.ProgressInterval <= 0 {
		return errors.New("progress interval must be positive")
	}
	if c.HashRateInterval <= 0 {
		return errors.New("hash rate interval must be positive")
	}
	if c.EventBuffer < 1 {
		return errors.New("event buffer must hold at least one event")
	}
	return nil
}

// IsHexHash reports whether s is a 64-character lowercase hex digest.
func IsHexHash(s string) bool {
	if len(s) != hashHexLen {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
