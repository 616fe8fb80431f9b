// Package config loads the optional show configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable pointing at the show config.
const EnvConfigPath = "LIVEMIX_CONFIG"

const (
	defaultShowID    = "default"
	defaultTickMS    = 10
	defaultQueueSize = 1024
	defaultAPIPort   = 8080
	defaultMQTTURL   = "tcp://localhost:1883"
)

type ShowConfig struct {
	Version int `yaml:"version"`
	Show    struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"show"`
	Scheduler struct {
		TickMS    int `yaml:"tick_ms"`
		QueueSize int `yaml:"queue_size"`
	} `yaml:"scheduler"`
	Network struct {
		APIPort     int  `yaml:"api_port"`
		APIDisabled bool `yaml:"api_disabled"`
	} `yaml:"network"`
	MQTT struct {
		Enabled  bool   `yaml:"enabled"`
		URL      string `yaml:"url"`
		Topic    string `yaml:"topic"`
		ClientID string `yaml:"client_id"`
		Username string `yaml:"username"`
	} `yaml:"mqtt"`
	Postgres struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"postgres"`
}

// Default returns the configuration used when no file is given.
func Default() *ShowConfig {
	return &ShowConfig{Version: 1}
}

// ShowID returns the show identifier, defaulting to "default".
func (c *ShowConfig) ShowID() string {
	if c.Show.ID == "" {
		return defaultShowID
	}
	return c.Show.ID
}

// TickInterval returns the scheduler period, defaulting to 10ms.
func (c *ShowConfig) TickInterval() time.Duration {
	if c.Scheduler.TickMS <= 0 {
		return defaultTickMS * time.Millisecond
	}
	return time.Duration(c.Scheduler.TickMS) * time.Millisecond
}

// QueueSize returns the command queue bound, defaulting to 1024.
func (c *ShowConfig) QueueSize() int {
	if c.Scheduler.QueueSize <= 0 {
		return defaultQueueSize
	}
	return c.Scheduler.QueueSize
}

// APIPort returns the HTTP port, defaulting to 8080.
func (c *ShowConfig) APIPort() int {
	if c.Network.APIPort == 0 {
		return defaultAPIPort
	}
	return c.Network.APIPort
}

// MQTTURL returns the broker URL: the config value, then MQTT_URL, then localhost.
func (c *ShowConfig) MQTTURL() string {
	if c.MQTT.URL != "" {
		return c.MQTT.URL
	}
	if v := os.Getenv("MQTT_URL"); v != "" {
		return v
	}
	return defaultMQTTURL
}

// MQTTTopic returns the command topic, defaulting to livemix/<show id>/commands.
func (c *ShowConfig) MQTTTopic() string {
	if c.MQTT.Topic != "" {
		return c.MQTT.Topic
	}
	return fmt.Sprintf("livemix/%s/commands", c.ShowID())
}

// MQTTClientID returns the client identifier, defaulting to livemix-<show id>.
func (c *ShowConfig) MQTTClientID() string {
	if c.MQTT.ClientID != "" {
		return c.MQTT.ClientID
	}
	return "livemix-" + c.ShowID()
}

func LoadShowConfig(path string) (*ShowConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg ShowConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if cfg.Version != 1 {
		return nil, fmt.Errorf("unsupported show config version: %d", cfg.Version)
	}
	if cfg.Scheduler.TickMS < 0 || cfg.Scheduler.QueueSize < 0 {
		return nil, fmt.Errorf("scheduler.tick_ms and scheduler.queue_size must not be negative")
	}

	return &cfg, nil
}

// Load reads the file named by LIVEMIX_CONFIG, or returns Default when unset.
func Load() (*ShowConfig, error) {
	path := os.Getenv(EnvConfigPath)
	if path == "" {
		return Default(), nil
	}
	return LoadShowConfig(path)
}
