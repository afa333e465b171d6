package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/cropscan/cropscan/internal/secrets"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		// Integration credentials
		{"security.admintoken", "ADMIN_TOKEN", nil},
		{"places.apikey", "GOOGLE_MAPS_API_KEY", nil},
		{"chat.apikey", "OPENAI_API_KEY", nil},
		{"chat.baseurl", "OPENAI_BASE_URL", validateEnvURL},
		{"tts.apikey", "GOOGLE_TTS_API_KEY", nil},
		{"server.backendurl", "BACKEND_URL", validateEnvURL},
		{"sentry.dsn", "SENTRY_DSN", validateEnvURL},

		// Server
		{"server.port", "CROPSCAN_PORT", validateEnvPort},

		// Model
		{"model.backend", "CROPSCAN_BACKEND", validateEnvBackend},
		{"model.modelpath", "CROPSCAN_MODEL_PATH", nil},
		{"model.labelpath", "CROPSCAN_LABEL_PATH", nil},
		{"model.threads", "CROPSCAN_THREADS", validateEnvThreads},
		{"model.onnx.librarypath", "ONNXRUNTIME_LIB", nil},
		{"model.remote.url", "CROPSCAN_MODEL_URL", validateEnvURL},

		// Scan store
		{"output.sqlite.path", "CROPSCAN_SQLITE_PATH", nil},
		{"output.mysql.enabled", "CROPSCAN_MYSQL_ENABLED", validateEnvBool},
		{"output.mysql.host", "CROPSCAN_MYSQL_HOST", nil},
		{"output.mysql.port", "CROPSCAN_MYSQL_PORT", validateEnvPort},
		{"output.mysql.username", "CROPSCAN_MYSQL_USER", nil},
		{"output.mysql.password", "CROPSCAN_MYSQL_PASSWORD", nil},
		{"output.mysql.database", "CROPSCAN_MYSQL_DATABASE", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value: %v", binding.EnvVar, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("invalid boolean value '%s'", value)
	}
	return nil
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid port: %w", err)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

func validateEnvThreads(value string) error {
	threads, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid thread count: %w", err)
	}
	if threads < 0 {
		return fmt.Errorf("thread count must be >= 0, got %d", threads)
	}
	return nil
}

func validateEnvBackend(value string) error {
	switch strings.ToLower(value) {
	case BackendTFLite, BackendONNX, BackendRemote:
		return nil
	default:
		return fmt.Errorf("backend must be one of %s, %s, %s; got '%s'", BackendTFLite, BackendONNX, BackendRemote, value)
	}
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("URL must include scheme and host, got '%s'", value)
	}
	return nil
}

// secretFields maps credentials to the environment variable naming a secret
// file, as mounted by Docker or Kubernetes under /run/secrets.
func secretFields(s *Settings) map[string]*string {
	return map[string]*string{
		"ADMIN_TOKEN_FILE":             &s.Security.AdminToken,
		"GOOGLE_MAPS_API_KEY_FILE":     &s.Places.APIKey,
		"OPENAI_API_KEY_FILE":          &s.Chat.APIKey,
		"GOOGLE_TTS_API_KEY_FILE":      &s.TTS.APIKey,
		"SENTRY_DSN_FILE":              &s.Sentry.DSN,
		"CROPSCAN_MYSQL_PASSWORD_FILE": &s.Output.MySQL.Password,
		"CROPSCAN_MQTT_PASSWORD_FILE":  &s.MQTT.Password,
		"CROPSCAN_FTP_PASSWORD_FILE":   &s.Backup.FTP.Password,
		"CROPSCAN_SFTP_PASSWORD_FILE":  &s.Backup.SFTP.Password,
	}
}

// resolveSecrets replaces credentials with the contents of their *_FILE
// secret when one is set. Other values may reference ${VAR}.
func resolveSecrets(s *Settings) error {
	for envVar, field := range secretFields(s) {
		value, err := secrets.Resolve(os.Getenv(envVar), *field)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", strings.TrimSuffix(envVar, "_FILE"), err)
		}
		*field = value
	}
	return nil
}
