package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.App.Env)
	assert.Equal(t, "127.0.0.1", cfg.Bridge.Host)
	assert.Equal(t, 7497, cfg.Bridge.Port)
	require.NotNil(t, cfg.Bridge.AutoStart)
	assert.True(t, *cfg.Bridge.AutoStart)
	assert.Equal(t, 10*time.Second, cfg.Bridge.JoinTimeout())
	assert.Equal(t, 5*time.Second, cfg.Sim.ScannerInterval())
	assert.Equal(t, uint64(42), cfg.Sim.Seed)

	require.Len(t, cfg.Sim.Accounts, 1)
	acc := cfg.Sim.Accounts[0]
	assert.Equal(t, "DU1234567", acc.ID)
	require.Len(t, acc.Values, 3)
	assert.Equal(t, "NetLiquidation", acc.Values[0].Key)
	assert.Equal(t, "100000.00", acc.Values[0].Value)
	require.Len(t, acc.Positions, 2)
	assert.Equal(t, "MSFT", acc.Positions[1].Symbol)
	assert.InDelta(t, 120.35, acc.Positions[1].RealizedPNL, 1e-9)
	assert.InDelta(t, 555.6, acc.Positions[1].UnrealizedPNL, 1e-9)
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "minimal.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Bridge.Host)
	assert.Equal(t, 4002, cfg.Bridge.Port)
	assert.Equal(t, 7, cfg.Bridge.ClientID)
	require.NotNil(t, cfg.Bridge.AutoStart)
	assert.False(t, *cfg.Bridge.AutoStart)
	assert.Equal(t, 5*time.Second, cfg.Bridge.ConnectTimeout())
	assert.Zero(t, cfg.Bridge.JoinTimeout())
	assert.Equal(t, 1024, cfg.Bridge.CommandCapacity)

	assert.Equal(t, "1 Y", cfg.Defaults.DurationStr)
	assert.Equal(t, "1 day", cfg.Defaults.BarSizeSetting)
	assert.Equal(t, "TRADES", cfg.Defaults.WhatToShow)
	assert.Equal(t, "STK.US", cfg.Defaults.LocationCode)

	assert.Equal(t, 50, cfg.Sim.ScannerRows)
	assert.Zero(t, cfg.Sim.ScannerInterval())
	require.Len(t, cfg.Sim.Accounts, 1)
	assert.Equal(t, "EUR", cfg.Sim.Accounts[0].Values[0].Currency)

	assert.Equal(t, "127.0.0.1:8088", cfg.API.ListenAddress)
	assert.Equal(t, 50*time.Millisecond, cfg.API.PollInterval())
	assert.False(t, cfg.Publish.Enabled)
	assert.Equal(t, "twsbridge", cfg.Publish.TopicPrefix)
}

func TestLoadRejectsNegativeJoinTimeout(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "negative.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "joinTimeoutMs")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "does-not-exist.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("bridge: [not, a, map"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config YAML")
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, 7497, cfg.Bridge.Port)
	assert.Equal(t, 200*time.Millisecond, cfg.Sim.Handshake())
	assert.Empty(t, cfg.Sim.Accounts)
}
