package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigJSON(t *testing.T) {
	path := writeConfig(t, `{
		"machine_id": "VENDING_001",
		"wifi_ssid": "shopfloor",
		"wifi_password": "secret",
		"mqtt_broker": "10.0.0.5"
	}`)

	config, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "VENDING_001", config.MachineID)
	assert.Equal(t, "10.0.0.5", config.MQTTBroker)
	assert.Equal(t, 1883, config.MQTTPort, "port defaults to 1883")
}

func TestLoadConfigYAMLFallback(t *testing.T) {
	path := writeConfig(t, "machine_id: VENDING_002\nwifi_ssid: shopfloor\nwifi_password: secret\nmqtt_broker: broker.local\nmqtt_port: 8883\n")

	config, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "VENDING_002", config.MachineID)
	assert.Equal(t, 8883, config.MQTTPort)
}

func TestLoadConfigMissingFieldFails(t *testing.T) {
	path := writeConfig(t, `{"wifi_ssid":"s","wifi_password":"p","mqtt_broker":"b"}`)

	_, err := loadConfig(path)
	require.Error(t, err)
	assert.ErrorContains(t, err, "machine_id is required")
}

func TestLoadConfigMissingFileFails(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestLoadConfigGarbageFails(t *testing.T) {
	path := writeConfig(t, "{{{ not a config")
	_, err := loadConfig(path)
	require.Error(t, err)
}

func TestTopicSetDerivation(t *testing.T) {
	topics := NewTopicSet("VENDING_001")
	assert.Equal(t, "vending/machine/VENDING_001/trigger", topics.Trigger)
	assert.Equal(t, "vending/machine/VENDING_001/status", topics.Status)
	assert.Equal(t, "vending/machine/VENDING_001/confirm", topics.Confirm)
	assert.Equal(t, "vending/machine/VENDING_001/health", topics.Health)
}
