// Package config defines the tunables of a miknet node and loads them from
// the environment.
package config

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sethvargo/go-envconfig"
)

// Config holds every timing, retry, and sizing knob the dispatcher and
// sequence windows consult. Zero-value Config is never valid; use Load or
// Default.
type Config struct {
	// InitTimer bounds how long InitSent waits for the InitAck before giving
	// up.
	InitTimer time.Duration `env:"MIKNET_INIT_TIMER,default=3s"`

	// CookieSentTimer bounds how long CookieEchoed waits for the CookieAck.
	CookieSentTimer time.Duration `env:"MIKNET_COOKIE_SENT_TIMER,default=5s"`

	// RetransmitTick is the period of the Established-connection service
	// pass that drives retransmission and ack coalescing.
	RetransmitTick time.Duration `env:"MIKNET_RETRANSMIT_TICK,default=50ms"`

	// MaxTries is loaded from the environment but not read by the sequence
	// window, whose per-segment retransmission budget is the
	// sequence.MaxTries constant.
	MaxTries int `env:"MIKNET_MAX_TRIES,default=5"`

	// MaxDatagramSize is the largest encoded Gram accepted off the wire.
	MaxDatagramSize int `env:"MIKNET_MAX_DATAGRAM_SIZE,default=8192"`

	// BandwidthBudgetPerTick is the number of bytes a single retransmit
	// tick may spend on transmissions, shared across every stream of every
	// connection on the node.
	BandwidthBudgetPerTick int `env:"MIKNET_BANDWIDTH_BUDGET_PER_TICK,default=65536"`
}

// RoundTrip is the minimum interval between retransmissions of the same
// segment. It is not independently configurable: a fixed multiple of
// RetransmitTick tracks the ambient retransmit cadence without requiring a
// live RTT estimator, which this implementation does not maintain.
func (c Config) RoundTrip() time.Duration {
	return 3 * c.RetransmitTick
}

// Default returns the configuration this package uses when no environment
// override is present.
func Default() Config {
	return Config{
		InitTimer:              3 * time.Second,
		CookieSentTimer:        5 * time.Second,
		RetransmitTick:         50 * time.Millisecond,
		MaxTries:               5,
		MaxDatagramSize:        8192,
		BandwidthBudgetPerTick: 65536,
	}
}

// Load reads Config from the process environment, applying the defaults
// documented on each field for anything unset.
func Load(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "config: loading from environment")
	}
	return cfg, nil
}
