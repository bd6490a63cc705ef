package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	server := cfg.GetServer()
	app := cfg.GetApplicationData()

	validateServer(&server, result)
	validateApplicationData(&app, result)

	if app.API.Enabled && app.API.Port == server.Port {
		result.AddError("ports", "port conflict detected: game and api ports must differ")
	}

	return result
}

func validateServer(data *ServerConfig, result *ValidationResult) {
	if strings.TrimSpace(data.Name) == "" {
		result.AddWarning("server.name", "server name is empty")
	}

	if data.BindAddress != "" && net.ParseIP(data.BindAddress) == nil {
		result.AddError("server.bind_address",
			fmt.Sprintf("not an IP address: %s", data.BindAddress))
	}

	validatePort(data.Port, "server.port", result)

	if data.ProtocolVersion != DefaultProtocol {
		result.AddError("server.protocol_version",
			fmt.Sprintf("unsupported protocol version %d (only %d is implemented)", data.ProtocolVersion, DefaultProtocol))
	}

	if data.MaxPlayers < 0 {
		result.AddError("server.max_players", "must not be negative")
	} else if data.MaxPlayers == 0 {
		result.AddWarning("server.max_players", "player limit disabled")
	}

	if data.SpawnY < 0 || data.SpawnY > 127 {
		result.AddWarning("server.spawn_y", "spawn height is outside the world")
	}
	if data.SpawnStance < data.SpawnY {
		result.AddError("server.spawn_stance", "stance must not be below spawn y")
	}

	if data.IdleTimeout < 0 {
		result.AddError("server.idle_timeout_sec", "must not be negative")
	} else if data.IdleTimeout > 0 && data.IdleTimeout < 10 {
		result.AddWarning("server.idle_timeout_sec", "idle timeout less than 10 seconds may drop idle clients")
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	validateTimers(&data.Timers, result)

	if data.API.Enabled {
		validatePort(data.API.Port, "application_data.api.port", result)
		if strings.TrimSpace(data.API.Token) == "" {
			result.AddWarning("application_data.api.token",
				"no api token set, control endpoints are unauthenticated")
		}
	}

	if data.Database.Enabled && strings.TrimSpace(data.Database.Path) == "" {
		result.AddError("application_data.database.path", "database path is required when enabled")
	}

	// MQTT
	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
	}

	if data.Webhook.Enabled {
		u, err := url.Parse(data.Webhook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			result.AddError("application_data.webhook.url", "webhook URL must be an absolute http(s) URL")
		}
	}

	// Security
	if data.Security.TLSEnabled {
		if strings.TrimSpace(data.Security.TLSCertFile) == "" {
			result.AddError("application_data.security.tls_cert_file",
				"TLS certificate file is required when TLS is enabled")
		}
		if strings.TrimSpace(data.Security.TLSKeyFile) == "" {
			result.AddError("application_data.security.tls_key_file",
				"TLS key file is required when TLS is enabled")
		}
	}

	if data.Security.RateLimitRPS < 1 {
		result.AddWarning("application_data.security.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}

	switch strings.ToLower(data.Logging.Level) {
	case "trace", "debug", "info", "warn", "error", "":
	default:
		result.AddWarning("application_data.logging.level",
			fmt.Sprintf("unknown log level %q, falling back to info", data.Logging.Level))
	}
}

func validateTimers(timers *TimerConfig, result *ValidationResult) {
	if timers.StatusInterval < 5 {
		result.AddWarning("timers.status_interval",
			"status interval less than 5s may flood telemetry")
	}
	if timers.HistoryRetentionDays < 1 {
		result.AddWarning("timers.history_retention_days",
			"history retention disabled, login history is never pruned")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a TCP address is available for binding.
func IsPortAvailable(addr string) bool {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
