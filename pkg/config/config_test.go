package config_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miknet/miknet/pkg/config"
)

func TestLoadAppliesDocumentedDefaults(t *testing.T) {
	cfg, err := config.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoadHonorsEnvironmentOverride(t *testing.T) {
	t.Setenv("MIKNET_MAX_TRIES", "9")
	t.Setenv("MIKNET_RETRANSMIT_TICK", "10ms")

	cfg, err := config.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.MaxTries)
	assert.Equal(t, 10*time.Millisecond, cfg.RetransmitTick)
}

func TestRoundTripIsThreeTimesRetransmitTick(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, 150*time.Millisecond, cfg.RoundTrip())
}
