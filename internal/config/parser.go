package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadGlobalConfig reads a YAML config file at path and fills in defaults
// for every unset field.
func LoadGlobalConfig(path string) (*GlobalConfig, error) {
	var c GlobalConfig
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}
	applyDefaults(&c)
	return &c, nil
}

func applyDefaults(c *GlobalConfig) {
	if c.Drivers.WSAdvertiseHost == "" {
		c.Drivers.WSAdvertiseHost = "127.0.0.1"
	}
	if c.Drivers.LoopbackHost == "" {
		c.Drivers.LoopbackHost = "loopback"
	}
	if c.BWU.InitialBackoff == 0 {
		c.BWU.InitialBackoff = 3 * time.Second
	}
	if c.BWU.MaxBackoff == 0 {
		c.BWU.MaxBackoff = 300 * time.Second
	}
	if c.BWU.BackoffFactor == 0 {
		c.BWU.BackoffFactor = 2
	}
	if c.BWU.MaxAttemptsPerMedium == 0 {
		c.BWU.MaxAttemptsPerMedium = 3
	}
	if c.BWU.AcceptTimeout == 0 {
		c.BWU.AcceptTimeout = 10 * time.Second
	}
	if c.BWU.HandoffTimeout == 0 {
		c.BWU.HandoffTimeout = 10 * time.Second
	}
}

// LoadSessionOptions reads a YAML document describing one
// AdvertisingOptions/DiscoveryOptions value (the two share a shape). It
// fills in no defaults itself: SessionOptions' accessor methods fall back to
// the keep-alive/topology defaults at read time.
func LoadSessionOptions(path string) (SessionOptions, error) {
	var o SessionOptions
	b, err := os.ReadFile(path)
	if err != nil {
		return o, err
	}
	if err := yaml.Unmarshal(b, &o); err != nil {
		return o, err
	}
	return o, nil
}
