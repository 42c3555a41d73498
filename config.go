package main

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config holds the per-device identity loaded once at startup. It is never
// mutated after loadConfig returns; every component borrows it read-only.
type Config struct {
	MachineID    string `json:"machine_id" yaml:"machine_id"`
	WifiSSID     string `json:"wifi_ssid" yaml:"wifi_ssid"`
	WifiPassword string `json:"wifi_password" yaml:"wifi_password"`
	MQTTBroker   string `json:"mqtt_broker" yaml:"mqtt_broker"`
	MQTTPort     int    `json:"mqtt_port" yaml:"mqtt_port"`

	// UpdateTarget is the live logic file replaced by a self-update.
	// Empty means "the running executable", resolved at startup.
	UpdateTarget string `json:"update_target" yaml:"update_target"`
}

// loadConfig reads the device configuration file. JSON is tried first, then
// YAML, so either format works on the device.
func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := json.Unmarshal(data, config); err != nil {
		if yamlErr := yaml.Unmarshal(data, config); yamlErr != nil {
			return nil, fmt.Errorf("failed to parse config file (tried JSON and YAML): %v", yamlErr)
		}
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

func validateConfig(config *Config) error {
	if config.MachineID == "" {
		return fmt.Errorf("machine_id is required")
	}
	if config.WifiSSID == "" {
		return fmt.Errorf("wifi_ssid is required")
	}
	if config.WifiPassword == "" {
		return fmt.Errorf("wifi_password is required")
	}
	if config.MQTTBroker == "" {
		return fmt.Errorf("mqtt_broker is required")
	}
	if config.MQTTPort == 0 {
		config.MQTTPort = 1883
	}
	return nil
}

// TopicSet is the four channel names derived from the machine ID. Built once
// after the config is known; immutable for the process lifetime.
type TopicSet struct {
	Trigger string // command-in
	Status  string // free-form status/diagnostics out
	Confirm string // qrcode-correlated acknowledgement out
	Health  string // periodic vitals out
}

// NewTopicSet builds the topic names for a machine.
func NewTopicSet(machineID string) TopicSet {
	prefix := fmt.Sprintf("vending/machine/%s", machineID)
	return TopicSet{
		Trigger: prefix + "/trigger",
		Status:  prefix + "/status",
		Confirm: prefix + "/confirm",
		Health:  prefix + "/health",
	}
}
