package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// validConfig returns settings that pass validation with an MQTT transport.
func validConfig() *Config {
	return &Config{
		Station: "OTY",
		Transport: TransportConfig{
			Kind: "mqtt",
			MQTT: MQTTConfig{BrokerURL: "wss://broker.example.com:8084/mqtt"},
		},
		Storage: StorageConfig{Driver: "memory"},
	}
}

// TestValidate checks required fields, defaults and format validations.
func TestValidate(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, Validate(nil), errConfigIsNotSet)

	// Missing broker.
	cfg := &Config{}
	require.ErrorIs(t, Validate(cfg), errBrokerRequired)

	// Defaults applied.
	cfg = validConfig()
	require.NoError(t, Validate(cfg))
	require.Equal(t, DefaultListenAddress, cfg.HTTP.ListenAddress)
	require.Equal(t, DefaultMQTTTopic, cfg.Transport.MQTT.Topic)
	require.Equal(t, DefaultQueueSize, cfg.Storage.QueueSize)
	require.Equal(t, DefaultKeepAliveInterval, cfg.HTTP.KeepAliveInterval)

	// Bad scheme.
	cfg = validConfig()
	cfg.Transport.MQTT.BrokerURL = "http://broker:80"
	require.ErrorIs(t, Validate(cfg), errUnsupportedScheme)

	// Broker without port.
	cfg = validConfig()
	cfg.Transport.MQTT.BrokerURL = "tcp://broker"
	require.Error(t, Validate(cfg))

	// Postgres needs a DSN.
	cfg = validConfig()
	cfg.Storage.Driver = "postgres"
	require.Error(t, Validate(cfg))

	// Unknown driver.
	cfg = validConfig()
	cfg.Storage.Driver = "mongo"
	require.Error(t, Validate(cfg))

	// NATS needs a URL.
	cfg = validConfig()
	cfg.Transport.Kind = "nats"
	require.ErrorIs(t, Validate(cfg), errNATSURLRequired)

	cfg.Transport.NATS.URL = "nats://127.0.0.1:4222"
	require.NoError(t, Validate(cfg))
	require.Equal(t, DefaultNATSSubject, cfg.Transport.NATS.Subject)

	// QoS above 2.
	cfg = validConfig()
	cfg.Transport.MQTT.QoS = 3
	require.Error(t, Validate(cfg))
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
//
//nolint:paralleltest // Load reads the process environment.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Setenv(EnvDatabaseURL, "")
	t.Setenv(EnvPort, "")

	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	cfg := validConfig()
	cfg.Storage = StorageConfig{Driver: "sqlite", DSN: filepath.Join(dir, "history.db"), Retention: 48 * time.Hour}

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Station, loaded.Station)
	require.Equal(t, cfg.Transport.MQTT.BrokerURL, loaded.Transport.MQTT.BrokerURL)
	require.Equal(t, "sqlite", loaded.Storage.Driver)
	require.Equal(t, 48*time.Hour, loaded.Storage.Retention)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(DefaultFilePermissions), info.Mode().Perm())
}

// TestLoad_EnvOverrides checks that the dotenv file and environment win over YAML.
//
//nolint:paralleltest // Mutates the process environment.
func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvDatabaseURL, "")
	t.Setenv(EnvPort, "8080")
	t.Setenv(EnvMQTTUsername, "")
	t.Setenv(EnvMQTTPassword, "")

	dir := t.TempDir()
	path := filepath.Join(dir, DefaultConfigFilename)
	require.NoError(t, Save(path, validConfig()))

	// godotenv does not override variables already present, so DATABASE_URL
	// stays empty here and MQTT_USERNAME comes from the file.
	require.NoError(t, os.Unsetenv(EnvMQTTUsername))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, DefaultEnvFilename),
		[]byte("MQTT_USERNAME=field-user\n"),
		DefaultFilePermissions,
	))

	t.Cleanup(func() { _ = os.Unsetenv(EnvMQTTUsername) })

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTP.ListenAddress)
	require.Equal(t, "field-user", cfg.Transport.MQTT.Username)
	require.Equal(t, "memory", cfg.Storage.Driver)
}

// TestLoad_Missing reports a missing file.
func TestLoad_Missing(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestLoadEnvFile_Missing tolerates a missing dotenv file.
func TestLoadEnvFile_Missing(t *testing.T) {
	t.Parallel()

	require.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), ".env")))
}
