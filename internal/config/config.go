// Package config is the YAML configuration surface of the stack.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	DatabasePath string `yaml:"database_path"`

	Device struct {
		Driver      string `yaml:"driver"`
		Path        string `yaml:"path"`
		Baudrate    int    `yaml:"baudrate"`
		FlowControl string `yaml:"flow_control"`
	} `yaml:"device"`

	Network struct {
		Channel       uint8  `yaml:"channel"`
		Channels      uint32 `yaml:"channels"`
		PanID         uint16 `yaml:"pan_id"`
		ExtendedPanID string `yaml:"extended_pan_id"`
		NetworkKey    string `yaml:"network_key"`
		NetworkKeySeq uint8  `yaml:"network_key_seq"`
		TCLinkKey     string `yaml:"tc_link_key"`
		TCAddress     string `yaml:"tc_address"`
		UpdateID      uint8  `yaml:"update_id"`
	} `yaml:"network"`

	OTA struct {
		OTAUDirectory    string   `yaml:"otau_directory"`
		IkeaProvider     bool     `yaml:"ikea_provider"`
		LedvanceProvider bool     `yaml:"ledvance_provider"`
		SonoffProvider   bool     `yaml:"sonoff_provider"`
		InovelliProvider bool     `yaml:"inovelli_provider"`
		SalusProvider    bool     `yaml:"salus_provider"`
		ExtraProviders   []string `yaml:"extra_providers"`
	} `yaml:"ota"`

	SourceRouting struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"source_routing"`

	Startup struct {
		AutoForm bool `yaml:"auto_form"`
	} `yaml:"startup"`

	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`

	Web struct {
		Enabled bool   `yaml:"enabled"`
		Listen  string `yaml:"listen"`
	} `yaml:"web"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the required fields and ranges.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}
	if c.Device.Path == "" {
		return fmt.Errorf("device.path is required")
	}
	if c.Network.Channel != 0 && (c.Network.Channel < 11 || c.Network.Channel > 26) {
		return fmt.Errorf("network.channel must be 11-26, got %d", c.Network.Channel)
	}
	if c.Network.PanID == 0xFFFF {
		return fmt.Errorf("network.pan_id must not be 0xFFFF")
	}
	return nil
}
