// Package config loads and validates Hearth Core configuration.
//
// Configuration is read from a single YAML file, merged over hardcoded
// defaults, and finally overridden by HEARTH_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Hearth Core.
type Config struct {
	Site         SiteConfig         `yaml:"site"`
	Database     DatabaseConfig     `yaml:"database"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	API          APIConfig          `yaml:"api"`
	WebSocket    WebSocketConfig    `yaml:"websocket"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	Prometheus   PrometheusConfig   `yaml:"prometheus"`
	Logging      LoggingConfig      `yaml:"logging"`
	Recorder     RecorderConfig     `yaml:"recorder"`
	Security     SecurityConfig     `yaml:"security"`
	WebRTC       WebRTCConfig       `yaml:"webrtc"`
	Integrations IntegrationsConfig `yaml:"integrations"`
}

// SiteConfig identifies the installation.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"` // seconds
}

// MQTTConfig contains broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains broker address details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains broker credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains reconnection behaviour (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeouts (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains event-stream settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"` // seconds
	PongTimeout    int    `yaml:"pong_timeout"`  // seconds
}

// InfluxDBConfig contains the long-term state exporter settings.
type InfluxDBConfig struct {
	Enabled         bool     `yaml:"enabled"`
	URL             string   `yaml:"url"`
	Token           string   `yaml:"token"`
	Org             string   `yaml:"org"`
	Bucket          string   `yaml:"bucket"`
	BatchSize       int      `yaml:"batch_size"`
	FlushInterval   int      `yaml:"flush_interval"` // seconds
	IncludeDomains  []string `yaml:"include_domains"`
	ExcludeEntities []string `yaml:"exclude_entities"`
}

// PrometheusConfig controls the /metrics exposition endpoint.
type PrometheusConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// RecorderConfig controls short-term state history in SQLite.
type RecorderConfig struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retention_days"`
}

// SecurityConfig contains API security settings.
type SecurityConfig struct {
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// JWTConfig contains token signing settings.
type JWTConfig struct {
	Secret          string `yaml:"secret"`
	AccessTokenTTL  int    `yaml:"access_token_ttl"`  // minutes
	RefreshTokenTTL int    `yaml:"refresh_token_ttl"` // minutes
}

// RateLimitConfig contains request throttling settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
}

// WebRTCConfig lists statically configured ICE servers.
type WebRTCConfig struct {
	ICEServers []ICEServerConfig `yaml:"ice_servers"`
}

// ICEServerConfig describes one STUN/TURN server.
type ICEServerConfig struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username"`
	Credential string   `yaml:"credential"`
}

// IntegrationsConfig seeds config entries for built-in integrations.
// Each present section creates an entry on first boot; entries carry a
// unique id so repeat boots do not duplicate them.
type IntegrationsConfig struct {
	Hygrostat []HygrostatConfig `yaml:"hygrostat"`
	ESPHome   []ESPHomeConfig   `yaml:"esphome"`
	Olarm     *OlarmConfig      `yaml:"olarm"`
	Vaillant  *VaillantConfig   `yaml:"vaillant"`
	Hardware  *HardwareConfig   `yaml:"hardware"`
}

// HygrostatConfig configures one generic hygrostat controller.
type HygrostatConfig struct {
	Name             string        `yaml:"name"`
	HumidifierEntity string        `yaml:"humidifier"`   // switch entity to drive
	SensorEntity     string        `yaml:"sensor"`       // humidity sensor entity
	DeviceClass      string        `yaml:"device_class"` // humidifier | dehumidifier
	TargetHumidity   float64       `yaml:"target_humidity"`
	MinHumidity      float64       `yaml:"min_humidity"`
	MaxHumidity      float64       `yaml:"max_humidity"`
	DryTolerance     float64       `yaml:"dry_tolerance"`
	WetTolerance     float64       `yaml:"wet_tolerance"`
	MinCycleDuration time.Duration `yaml:"min_cycle_duration"`
	KeepAlive        time.Duration `yaml:"keep_alive"`
	InitialState     string        `yaml:"initial_state"` // on | off
	AwayHumidity     float64       `yaml:"away_humidity"`
	AwayFixed        bool          `yaml:"away_fixed"`
	SensorStale      time.Duration `yaml:"sensor_stale_duration"`
}

// ESPHomeConfig configures one ESPHome node adapter.
type ESPHomeConfig struct {
	Node            string `yaml:"node"`
	TopicPrefix     string `yaml:"topic_prefix"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	Optimistic      bool   `yaml:"optimistic"`
}

// OlarmConfig configures the Olarm alarm cloud integration.
type OlarmConfig struct {
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// VaillantConfig configures the Vaillant heating integration.
type VaillantConfig struct {
	Serial       string        `yaml:"serial"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	BaseURL      string        `yaml:"base_url"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// HardwareConfig configures the radio firmware update integration.
type HardwareConfig struct {
	ManifestURL   string        `yaml:"manifest_url"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	FlasherBinary string        `yaml:"flasher_binary"`
	SerialPort    string        `yaml:"serial_port"`
	BaudRate      int           `yaml:"baud_rate"`
}

// Load reads configuration from a YAML file and applies env overrides.
//
// Loading order: defaults, then YAML values, then HEARTH_* environment
// variables. The merged result is validated before being returned.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with working defaults for a local install.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "home",
			Name:     "Hearth",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/hearth.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "hearth-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8123,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Prometheus: PrometheusConfig{
			Enabled:   true,
			Namespace: "hearth",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Recorder: RecorderConfig{
			Enabled:       true,
			RetentionDays: 10,
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL:  15,
				RefreshTokenTTL: 1440,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 120,
			},
		},
	}
}

// applyEnvOverrides applies HEARTH_SECTION_KEY environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HEARTH_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("HEARTH_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HEARTH_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HEARTH_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("HEARTH_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("HEARTH_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv("HEARTH_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("HEARTH_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("HEARTH_OLARM_API_KEY"); v != "" {
		if cfg.Integrations.Olarm == nil {
			cfg.Integrations.Olarm = &OlarmConfig{}
		}
		cfg.Integrations.Olarm.APIKey = v
	}
	if v := os.Getenv("HEARTH_VAILLANT_PASSWORD"); v != "" {
		if cfg.Integrations.Vaillant != nil {
			cfg.Integrations.Vaillant.Password = v
		}
	}
}

// minJWTSecretLength is the minimum accepted JWT signing secret length.
// Short secrets make forged bearer tokens practical.
const minJWTSecretLength = 32

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set HEARTH_JWT_SECRET)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}
	for i, h := range c.Integrations.Hygrostat {
		if h.HumidifierEntity == "" || h.SensorEntity == "" {
			errs = append(errs, fmt.Sprintf("integrations.hygrostat[%d]: humidifier and sensor are required", i))
		}
		if h.DeviceClass != "" && h.DeviceClass != "humidifier" && h.DeviceClass != "dehumidifier" {
			errs = append(errs, fmt.Sprintf("integrations.hygrostat[%d]: device_class must be humidifier or dehumidifier", i))
		}
	}
	if c.Integrations.Olarm != nil && c.Integrations.Olarm.APIKey == "" {
		errs = append(errs, "integrations.olarm.api_key is required (set HEARTH_OLARM_API_KEY)")
	}
	if c.Integrations.Hardware != nil {
		if c.Integrations.Hardware.FlasherBinary == "" {
			errs = append(errs, "integrations.hardware.flasher_binary is required")
		}
		if c.Integrations.Hardware.SerialPort == "" {
			errs = append(errs, "integrations.hardware.serial_port is required")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
