package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudetc/awswipe/pkg/config"
)

func TestApplyFlagOverrides(t *testing.T) {
	// given
	cfg := config.Default()

	// when
	applyFlagOverrides(cfg, []string{"eu-west-1"}, true, 1, true)

	// then
	assert.Equal(t, []string{"eu-west-1"}, cfg.Regions)
	assert.False(t, cfg.DryRun)
	assert.Equal(t, 1, cfg.Verbosity)
	assert.True(t, cfg.JSONLogs)
}

func TestApplyFlagOverrides_KeepsConfigWithoutFlags(t *testing.T) {
	// given
	cfg := config.Default()
	cfg.Regions = []string{"us-east-1"}
	cfg.Verbosity = 2

	// when
	applyFlagOverrides(cfg, nil, false, 0, false)

	// then
	assert.Equal(t, []string{"us-east-1"}, cfg.Regions)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, 2, cfg.Verbosity)
}

func TestApplyFlagOverrides_ClampsVerbosityToDebug(t *testing.T) {
	// given
	cfg := config.Default()

	// when -vvv
	applyFlagOverrides(cfg, nil, false, 3, false)

	// then
	assert.Equal(t, config.MaxVerbosity, cfg.Verbosity)
	require.NoError(t, cfg.Validate())
}
