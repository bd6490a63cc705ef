// Package config handles configuration loading, validation, and persistence
// for the alphacraft server.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir   = "config"
	DefaultConfigFile  = "config.json"
	DefaultBindAddress = "::"
	DefaultGamePort    = 25565
	DefaultAPIPort     = 5080
	DefaultProtocol    = 3
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Server          ServerConfig    `json:"server"`
	ApplicationData ApplicationData `json:"application_data"`
}

// ServerConfig contains the game listener and world settings.
type ServerConfig struct {
	Name            string `json:"name"`
	MOTD            string `json:"motd"`
	BindAddress     string `json:"bind_address"`
	Port            int    `json:"port"`
	ProtocolVersion int    `json:"protocol_version"`
	MaxPlayers      int    `json:"max_players"`

	// Spawn pose sent at login
	SpawnX      float64 `json:"spawn_x"`
	SpawnY      float64 `json:"spawn_y"`
	SpawnZ      float64 `json:"spawn_z"`
	SpawnStance float64 `json:"spawn_stance"`

	// Chunk column pushed at login
	SpawnChunkX int32 `json:"spawn_chunk_x"`
	SpawnChunkZ int32 `json:"spawn_chunk_z"`

	// Seconds without client traffic before a session is dropped, 0 disables.
	IdleTimeout int `json:"idle_timeout_sec"`
}

// ApplicationData contains settings for everything around the game listener.
type ApplicationData struct {
	API      APIConfig      `json:"api"`
	Timers   TimerConfig    `json:"timers"`
	Database DatabaseConfig `json:"database"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Webhook  WebhookConfig  `json:"webhook"`
	Security SecurityConfig `json:"security"`
	Logging  LoggingConfig  `json:"logging"`
}

// APIConfig holds admin REST API settings.
type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Token   string `json:"token"`
}

// TimerConfig holds periodic task intervals.
type TimerConfig struct {
	StatusInterval       int `json:"status_interval_sec"`
	StaleCheckInterval   int `json:"stale_check_interval_sec"`
	HistoryPruneInterval int `json:"history_prune_interval_sec"`
	HistoryRetentionDays int `json:"history_retention_days"`
	HealthCheckInterval  int `json:"health_check_interval_sec"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	CAFile      string `json:"ca_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// WebhookConfig holds Discord-compatible webhook notification settings.
type WebhookConfig struct {
	Enabled        bool   `json:"enabled"`
	URL            string `json:"url"`
	NotifyOnJoin   bool   `json:"notify_on_join"`
	NotifyOnHealth bool   `json:"notify_on_health"`
}

// SecurityConfig holds API security settings.
type SecurityConfig struct {
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	IPWhitelist    []string `json:"ip_whitelist"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level"`
	Directory string `json:"directory"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Name:            "alphacraft",
			MOTD:            "A flat alpha world",
			BindAddress:     DefaultBindAddress,
			Port:            DefaultGamePort,
			ProtocolVersion: DefaultProtocol,
			MaxPlayers:      20,
			SpawnX:          0,
			SpawnY:          80,
			SpawnZ:          0,
			SpawnStance:     81.6,
			SpawnChunkX:     1,
			SpawnChunkZ:     1,
			IdleTimeout:     0,
		},
		ApplicationData: ApplicationData{
			API: APIConfig{
				Enabled: true,
				Host:    "127.0.0.1",
				Port:    DefaultAPIPort,
			},
			Timers: TimerConfig{
				StatusInterval:       30,
				StaleCheckInterval:   60,
				HistoryPruneInterval: 3600,
				HistoryRetentionDays: 30,
				HealthCheckInterval:  60,
			},
			Database: DatabaseConfig{
				Enabled: true,
				Path:    "data/alphacraft.db",
			},
			MQTT: MQTTConfig{
				Enabled:     false,
				BrokerURL:   "localhost",
				Port:        1883,
				TopicPrefix: "alphacraft",
			},
			Webhook: WebhookConfig{
				NotifyOnHealth: true,
			},
			Security: SecurityConfig{
				RateLimitRPS: 50,
			},
			Logging: LoggingConfig{
				Level:     "info",
				Directory: "logs",
			},
		},
	}
}

// Load reads configuration from a JSON file.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so the file always lists every option known to this build.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetServer returns a copy of the server configuration.
func (c *Config) GetServer() ServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server
}

// SetServer updates the server configuration.
func (c *Config) SetServer(data ServerConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Server = data
}

// GetApplicationData returns a copy of the application data configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// SetApplicationData updates the application data configuration.
func (c *Config) SetApplicationData(data ApplicationData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ApplicationData = data
}

// UpdateServerField updates a single server field by its JSON key.
func (c *Config) UpdateServerField(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, _ := json.Marshal(c.Server)
	m := make(map[string]interface{})
	json.Unmarshal(data, &m)

	if _, ok := m[key]; !ok {
		return fmt.Errorf("unknown server field %q", key)
	}
	m[key] = value

	updated, _ := json.Marshal(m)
	next := c.Server
	if err := json.Unmarshal(updated, &next); err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}
	c.Server = next
	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// SetPath sets the file used by Save.
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}

// ListenAddress returns the host:port the game listener binds to.
func (s ServerConfig) ListenAddress() string {
	return net.JoinHostPort(s.BindAddress, strconv.Itoa(s.Port))
}

// IdleTimeoutDuration returns the idle timeout, zero when disabled.
func (s ServerConfig) IdleTimeoutDuration() time.Duration {
	if s.IdleTimeout <= 0 {
		return 0
	}
	return time.Duration(s.IdleTimeout) * time.Second
}

// ListenAddress returns the host:port the API binds to.
func (a APIConfig) ListenAddress() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}
