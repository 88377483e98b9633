package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every setting of the alarm monitor process.
type Config struct {
	// Station names the telemetry source fed by the configured transport.
	Station string `yaml:"station" validate:"required,max=64"`
	// BaselineFile optionally persists the last status word per station across restarts.
	BaselineFile string `yaml:"baseline_file"`
	// Log configures the zap logger.
	Log LogConfig `yaml:"log"`
	// HTTP configures the REST API and observer streams.
	HTTP HTTPConfig `yaml:"http"`
	// GRPC configures the gRPC station service.
	GRPC GRPCConfig `yaml:"grpc"`
	// Transport configures where status words come from.
	Transport TransportConfig `yaml:"transport"`
	// Storage configures the transition history store.
	Storage StorageConfig `yaml:"storage"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	// Level is the minimum level (debug, info, warn, error).
	Level string `yaml:"level"`
	// Format is the output encoding, console or json.
	Format string `yaml:"format" validate:"omitempty,oneof=console json"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	// ListenAddress is the address the HTTP server binds to.
	ListenAddress string `yaml:"listen_address" validate:"required"`
	// StaticDir is served at / when set.
	StaticDir string `yaml:"static_dir"`
	// AllowedOrigins lists CORS origins; "*" allows any.
	AllowedOrigins []string `yaml:"allowed_origins"`
	// KeepAliveInterval is the period of SSE comment pings and websocket pings.
	KeepAliveInterval time.Duration `yaml:"keepalive_interval" validate:"gte=0"`
	// ObserverBuffer is the number of notifications queued per observer.
	ObserverBuffer int `yaml:"observer_buffer" validate:"gte=0"`
	// ShutdownTimeout bounds graceful shutdown of the HTTP server.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// GRPCConfig holds gRPC server and client settings.
type GRPCConfig struct {
	// ListenAddress enables the gRPC server when set.
	ListenAddress string `yaml:"listen_address"`
	// Timeout bounds individual client calls.
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// TransportConfig selects and configures the ingestion transport.
type TransportConfig struct {
	// Kind is either mqtt or nats.
	Kind string `yaml:"kind" validate:"required,oneof=mqtt nats"`
	// MQTT is used when Kind is mqtt.
	MQTT MQTTConfig `yaml:"mqtt"`
	// NATS is used when Kind is nats.
	NATS NATSConfig `yaml:"nats"`
}

// MQTTConfig holds MQTT broker settings.
type MQTTConfig struct {
	// BrokerURL is the broker address, for example wss://host:8084/mqtt.
	BrokerURL string `yaml:"broker_url"`
	// ClientIDPrefix is combined with a random suffix to build the client id.
	ClientIDPrefix string `yaml:"client_id_prefix"`
	// Username authenticates against the broker.
	Username string `yaml:"username"`
	// Password authenticates against the broker.
	Password string `yaml:"password"`
	// Topic carries the 2-byte status payloads.
	Topic string `yaml:"topic"`
	// QoS is the subscription quality of service.
	QoS byte `yaml:"qos" validate:"lte=2"`
	// KeepAlive is the MQTT keep-alive period.
	KeepAlive time.Duration `yaml:"keep_alive" validate:"gte=0"`
	// ConnectTimeout bounds a single connection attempt.
	ConnectTimeout time.Duration `yaml:"connect_timeout" validate:"gte=0"`
}

// NATSConfig holds NATS settings.
type NATSConfig struct {
	// URL is the NATS server address.
	URL string `yaml:"url"`
	// Subject carries the 2-byte status payloads.
	Subject string `yaml:"subject"`
}

// StorageConfig holds transition history settings.
type StorageConfig struct {
	// Driver is postgres, sqlite or memory.
	Driver string `yaml:"driver" validate:"required,oneof=postgres sqlite memory"`
	// DSN is the connection string or the sqlite file path.
	DSN string `yaml:"dsn" validate:"required_unless=Driver memory"`
	// QueueSize bounds pending appends per station.
	QueueSize int `yaml:"queue_size" validate:"gte=0"`
	// Retention deletes transitions older than this when positive.
	Retention time.Duration `yaml:"retention" validate:"gte=0"`
	// RetentionInterval is how often the retention purge runs.
	RetentionInterval time.Duration `yaml:"retention_interval" validate:"gte=0"`
}

const (
	// DefaultConfigFilename is the default filename for settings.
	DefaultConfigFilename = "alarm-monitor.yaml"
	// DefaultEnvFilename is the optional dotenv file read before the environment.
	DefaultEnvFilename = ".env"
	// DefaultStation is the station fed by the field device when none is configured.
	DefaultStation = "OTY"
	// DefaultListenAddress is the HTTP listen address.
	DefaultListenAddress = ":3000"
	// DefaultTimeout is the default duration for client calls.
	DefaultTimeout = 5 * time.Second
	// DefaultKeepAliveInterval is the default observer ping period.
	DefaultKeepAliveInterval = 25 * time.Second
	// DefaultObserverBuffer is the default per-observer queue length.
	DefaultObserverBuffer = 64
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultMQTTTopic is the topic the field devices publish to.
	DefaultMQTTTopic = "esp32/External_Alarms_2"
	// DefaultClientIDPrefix prefixes generated MQTT client ids.
	DefaultClientIDPrefix = "backend"
	// DefaultMQTTKeepAlive is the MQTT keep-alive period.
	DefaultMQTTKeepAlive = 30 * time.Second
	// DefaultConnectTimeout bounds a transport connection attempt.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultNATSSubject is the subject used when none is configured.
	DefaultNATSSubject = "alarms.status"
	// DefaultQueueSize bounds pending appends per station.
	DefaultQueueSize = 256
	// DefaultRetentionInterval is how often retention runs.
	DefaultRetentionInterval = time.Hour

	// DefaultFilePermissions is the default file permission for config and state files.
	DefaultFilePermissions = 0o600
)

// Storage drivers.
const (
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
	StorageMemory   = "memory"
)

// Transport kinds.
const (
	TransportMQTT = "mqtt"
	TransportNATS = "nats"
)

// Environment variables that override file settings.
const (
	EnvDatabaseURL  = "DATABASE_URL"
	EnvPort         = "PORT"
	EnvMQTTUsername = "MQTT_USERNAME"
	EnvMQTTPassword = "MQTT_PASSWORD"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errBrokerRequired is returned when MQTT is selected without a broker.
	errBrokerRequired = errors.New("mqtt broker_url must be provided")
	// errNATSURLRequired is returned when NATS is selected without a server URL.
	errNATSURLRequired = errors.New("nats url must be provided")
	// errUnsupportedScheme is returned for broker URLs paho cannot dial.
	errUnsupportedScheme = errors.New("unsupported broker scheme")

	//nolint:gochecknoglobals // validator caches struct metadata and is safe for concurrent use.
	validate = validator.New(validator.WithRequiredStructEnabled())
)

// Load reads configuration from the provided path, applies the .env file and
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err = yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err = LoadEnvFile(filepath.Join(filepath.Dir(path), DefaultEnvFilename)); err != nil {
		return nil, err
	}

	ApplyEnv(&cfg)

	if err = Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadEnvFile loads variables from a dotenv file without overriding ones already set.
// A missing file is not an error.
func LoadEnvFile(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}

	return fmt.Errorf("load env file: %w", err)
}

// ApplyEnv overrides secrets and deployment specifics from the environment.
func ApplyEnv(cfg *Config) {
	if dsn := os.Getenv(EnvDatabaseURL); dsn != "" {
		cfg.Storage.DSN = dsn
		if cfg.Storage.Driver == "" {
			cfg.Storage.Driver = StoragePostgres
		}
	}

	if port := os.Getenv(EnvPort); port != "" {
		cfg.HTTP.ListenAddress = ":" + strings.TrimPrefix(port, ":")
	}

	if username := os.Getenv(EnvMQTTUsername); username != "" {
		cfg.Transport.MQTT.Username = username
	}

	if password := os.Getenv(EnvMQTTPassword); password != "" {
		cfg.Transport.MQTT.Password = password
	}
}

// Save writes settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions, the file may carry broker credentials.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate fills defaults and checks the provided settings.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	applyDefaults(cfg)

	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	switch cfg.Transport.Kind {
	case TransportMQTT:
		return validateMQTT(&cfg.Transport.MQTT)
	case TransportNATS:
		if cfg.Transport.NATS.URL == "" {
			return errNATSURLRequired
		}
	}

	return nil
}

func validateMQTT(cfg *MQTTConfig) error {
	if cfg.BrokerURL == "" {
		return errBrokerRequired
	}

	broker, err := url.Parse(cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("invalid broker url: %w", err)
	}

	switch broker.Scheme {
	case "tcp", "mqtt", "ssl", "tls", "mqtts", "ws", "wss":
	default:
		return fmt.Errorf("%w %q", errUnsupportedScheme, broker.Scheme)
	}

	if _, _, err = net.SplitHostPort(broker.Host); err != nil {
		return fmt.Errorf("invalid broker address: %w", err)
	}

	return nil
}

//nolint:cyclop // Flat list of independent defaults.
func applyDefaults(cfg *Config) {
	if cfg.Station == "" {
		cfg.Station = DefaultStation
	}

	if cfg.HTTP.ListenAddress == "" {
		cfg.HTTP.ListenAddress = DefaultListenAddress
	}

	if cfg.HTTP.KeepAliveInterval == 0 {
		cfg.HTTP.KeepAliveInterval = DefaultKeepAliveInterval
	}

	if cfg.HTTP.ObserverBuffer == 0 {
		cfg.HTTP.ObserverBuffer = DefaultObserverBuffer
	}

	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = DefaultShutdownTimeout
	}

	if cfg.GRPC.Timeout == 0 {
		cfg.GRPC.Timeout = DefaultTimeout
	}

	if cfg.Transport.Kind == "" {
		cfg.Transport.Kind = TransportMQTT
	}

	if cfg.Transport.MQTT.Topic == "" {
		cfg.Transport.MQTT.Topic = DefaultMQTTTopic
	}

	if cfg.Transport.MQTT.ClientIDPrefix == "" {
		cfg.Transport.MQTT.ClientIDPrefix = DefaultClientIDPrefix
	}

	if cfg.Transport.MQTT.KeepAlive == 0 {
		cfg.Transport.MQTT.KeepAlive = DefaultMQTTKeepAlive
	}

	if cfg.Transport.MQTT.ConnectTimeout == 0 {
		cfg.Transport.MQTT.ConnectTimeout = DefaultConnectTimeout
	}

	if cfg.Transport.NATS.Subject == "" {
		cfg.Transport.NATS.Subject = DefaultNATSSubject
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = StorageMemory
	}

	if cfg.Storage.QueueSize == 0 {
		cfg.Storage.QueueSize = DefaultQueueSize
	}

	if cfg.Storage.RetentionInterval == 0 {
		cfg.Storage.RetentionInterval = DefaultRetentionInterval
	}
}
