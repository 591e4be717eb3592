// Package config loads the on-disk JSON configuration for a securepeerd
// instance, in the teacher's pkg/matter.NodeConfig idiom: a flat struct
// of required/optional fields, an explicit Validate, and an
// applyDefaults pass for anything left zero.
package config

import (
	"encoding/json"
	"os"
	"time"
)

// Config holds everything a bus.Runtime needs to start.
type Config struct {
	// BusName is this device's AllJoyn unique bus name, used as the
	// identity recorded in ExchangeGuids' local GUID binding.
	BusName string `json:"busName"`

	// KeyStorePath is the file the encrypted key store is persisted to.
	KeyStorePath string `json:"keyStorePath"`
	// KeyStorePassword seeds the key store's master-key derivation.
	// In production this is supplied out of band (env var, secret
	// manager); it is a plain config field here because §1 scopes
	// secret provisioning out.
	KeyStorePassword string `json:"keyStorePassword"`

	// Port is the UDP/TCP listen port for internal/transport.
	Port int `json:"port"`

	// Claimable, when true, starts the permission object already in the
	// Claimable application state (§4.H) instead of NotClaimable.
	Claimable bool `json:"claimable"`

	// DefaultTimeout/AuthTimeout are defaulted by applyDefaults (10s and 30s); no
	// package in this module reads them, so no call is bounded by them.
	DefaultTimeout time.Duration `json:"defaultTimeout"`
	AuthTimeout    time.Duration `json:"authTimeout"`

	// ExpansionQueueDepth bounds pkg/peer's pending compression-expansion
	// requests (§4.D/§4.G).
	ExpansionQueueDepth int `json:"expansionQueueDepth"`
}

// Validate checks the configuration for the fields that have no sane
// default.
func (c *Config) Validate() error {
	if c.BusName == "" {
		return ErrBusNameRequired
	}
	if c.KeyStorePath == "" {
		return ErrKeyStorePathRequired
	}
	return nil
}

// applyDefaults fills in anything left zero.
func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = 10 * time.Second
	}
	if c.AuthTimeout == 0 {
		c.AuthTimeout = 30 * time.Second
	}
	if c.ExpansionQueueDepth == 0 {
		c.ExpansionQueueDepth = 32
	}
}

// DefaultPort is the default AllJoyn-alike daemon port this repository
// uses for internal/transport.
const DefaultPort = 9955

// Load reads and validates a Config from a JSON file at path, applying
// defaults to any unset field.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
