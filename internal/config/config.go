// Package config handles loading and validating bridge configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"tws-bridge/internal/model"
)

// Config is the root configuration structure.
type Config struct {
	App      AppConfig      `yaml:"app"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Defaults DefaultsConfig `yaml:"defaults"`
	Sim      SimConfig      `yaml:"sim"`
	API      APIConfig      `yaml:"api"`
	Publish  PublishConfig  `yaml:"publish"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Env      string `yaml:"env"`
	LogLevel string `yaml:"logLevel"`
	LogFile  string `yaml:"logFile"`
}

// BridgeConfig configures the handle and the TWS endpoint it connects to.
type BridgeConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	ClientID         int    `yaml:"clientId"`
	AutoStart        *bool  `yaml:"autoStart"`
	ConnectTimeoutMs int    `yaml:"connectTimeoutMs"`
	JoinTimeoutMs    int    `yaml:"joinTimeoutMs"`
	CommandCapacity  int    `yaml:"commandCapacity"`
}

// DefaultsConfig holds the values applied to commands that leave optional fields empty.
type DefaultsConfig struct {
	DurationStr    string `yaml:"durationStr"`
	BarSizeSetting string `yaml:"barSizeSetting"`
	WhatToShow     string `yaml:"whatToShow"`
	LocationCode   string `yaml:"locationCode"`
}

// SimConfig configures the simulated TWS session.
type SimConfig struct {
	HandshakeMs       int             `yaml:"handshakeMs"`
	ScannerIntervalMs int             `yaml:"scannerIntervalMs"`
	ScannerRows       int             `yaml:"scannerRows"`
	Seed              uint64          `yaml:"seed"`
	Accounts          []AccountConfig `yaml:"accounts"`
}

// AccountConfig is one account fixture reported by the simulator.
type AccountConfig struct {
	ID        string               `yaml:"id"`
	Values    []model.AccountValue `yaml:"values"`
	Positions []model.PositionRow  `yaml:"positions"`
}

// APIConfig holds REST API server settings.
type APIConfig struct {
	ListenAddress      string `yaml:"listenAddress"`
	RateLimitPerMinute int    `yaml:"rateLimitPerMinute"`
	RateLimitBurst     int    `yaml:"rateLimitBurst"`
	PollIntervalMs     int    `yaml:"pollIntervalMs"`
	RecentRecords      int    `yaml:"recentRecords"`
}

// PublishConfig controls fan-out of delivered records to a message broker.
type PublishConfig struct {
	Enabled     bool   `yaml:"enabled"`
	NatsURL     string `yaml:"natsUrl"`
	TopicPrefix string `yaml:"topicPrefix"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := cfg.setDefaults(); err != nil {
		return nil, fmt.Errorf("setting config defaults: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	_ = cfg.setDefaults()
	return &cfg
}

// setDefaults applies sensible defaults for optional fields.
func (c *Config) setDefaults() error {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.LogFile == "" {
		c.App.LogFile = "logs/twsbridge.log"
	}

	if c.Bridge.Host == "" {
		c.Bridge.Host = "127.0.0.1"
	}
	if c.Bridge.Port == 0 {
		c.Bridge.Port = 7497
	}
	if c.Bridge.ClientID < 0 {
		return fmt.Errorf("bridge.clientId must not be negative, got %d", c.Bridge.ClientID)
	}
	if c.Bridge.AutoStart == nil {
		on := true
		c.Bridge.AutoStart = &on
	}
	if c.Bridge.ConnectTimeoutMs == 0 {
		c.Bridge.ConnectTimeoutMs = 5000
	}
	if c.Bridge.JoinTimeoutMs < 0 {
		return fmt.Errorf("bridge.joinTimeoutMs must not be negative, got %d", c.Bridge.JoinTimeoutMs)
	}
	if c.Bridge.CommandCapacity == 0 {
		c.Bridge.CommandCapacity = 1024
	}

	if c.Defaults.DurationStr == "" {
		c.Defaults.DurationStr = "1 Y"
	}
	if c.Defaults.BarSizeSetting == "" {
		c.Defaults.BarSizeSetting = "1 day"
	}
	if c.Defaults.WhatToShow == "" {
		c.Defaults.WhatToShow = "TRADES"
	}
	if c.Defaults.LocationCode == "" {
		c.Defaults.LocationCode = "STK.US"
	}

	if c.Sim.HandshakeMs == 0 {
		c.Sim.HandshakeMs = 200
	}
	if c.Sim.ScannerRows == 0 {
		c.Sim.ScannerRows = 50
	}

	if c.API.ListenAddress == "" {
		c.API.ListenAddress = "127.0.0.1:8088"
	}
	if c.API.RateLimitPerMinute == 0 {
		c.API.RateLimitPerMinute = 120
	}
	if c.API.RateLimitBurst == 0 {
		c.API.RateLimitBurst = 20
	}
	if c.API.PollIntervalMs == 0 {
		c.API.PollIntervalMs = 50
	}
	if c.API.RecentRecords == 0 {
		c.API.RecentRecords = 256
	}

	if c.Publish.TopicPrefix == "" {
		c.Publish.TopicPrefix = "twsbridge"
	}
	return nil
}

// ConnectTimeout returns bridge.connectTimeoutMs as a duration.
func (c BridgeConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMs) * time.Millisecond
}

// JoinTimeout returns bridge.joinTimeoutMs as a duration. Zero means unbounded.
func (c BridgeConfig) JoinTimeout() time.Duration {
	return time.Duration(c.JoinTimeoutMs) * time.Millisecond
}

// Handshake returns sim.handshakeMs as a duration.
func (c SimConfig) Handshake() time.Duration {
	return time.Duration(c.HandshakeMs) * time.Millisecond
}

// ScannerInterval returns sim.scannerIntervalMs as a duration.
func (c SimConfig) ScannerInterval() time.Duration {
	return time.Duration(c.ScannerIntervalMs) * time.Millisecond
}

// PollInterval returns api.pollIntervalMs as a duration.
func (c APIConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}
