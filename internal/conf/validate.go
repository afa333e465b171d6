package conf

import (
	"fmt"
	"strings"

	"github.com/labstack/gommon/bytes"
)

// Classifier backends
const (
	BackendTFLite = "tflite"
	BackendONNX   = "onnx"
	BackendRemote = "remote"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	for _, validate := range []func(*Settings) []string{
		validateServerSettings,
		validateModelSettings,
		validatePredictionSettings,
		validateOutputSettings,
		validateIntegrationSettings,
		validateBackupSettings,
	} {
		ve.Errors = append(ve.Errors, validate(settings)...)
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateServerSettings(s *Settings) []string {
	var errs []string
	if s.Server.Port == "" {
		errs = append(errs, "server port must be set")
	}
	if _, err := bytes.Parse(s.Server.BodyLimit); err != nil {
		errs = append(errs, fmt.Sprintf("invalid server body limit %q: %v", s.Server.BodyLimit, err))
	}
	return errs
}

func validateModelSettings(s *Settings) []string {
	var errs []string
	s.Model.Backend = strings.ToLower(s.Model.Backend)
	switch s.Model.Backend {
	case BackendTFLite, BackendONNX:
		if s.Model.ModelPath == "" {
			errs = append(errs, "model path must be set for local backends")
		}
	case BackendRemote:
		if s.Model.Remote.URL == "" || s.Model.Remote.Name == "" {
			errs = append(errs, "remote model requires url and name")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown model backend %q", s.Model.Backend))
	}
	if s.Model.LabelPath == "" {
		errs = append(errs, "label path must be set")
	}
	if s.Model.InputSize <= 0 {
		errs = append(errs, "model input size must be positive")
	}
	s.Model.Layout = strings.ToUpper(s.Model.Layout)
	if s.Model.Layout != "NHWC" && s.Model.Layout != "NCHW" {
		errs = append(errs, fmt.Sprintf("model layout must be NHWC or NCHW, got %q", s.Model.Layout))
	}
	switch s.Model.Softmax {
	case "auto", "always", "never":
	default:
		errs = append(errs, fmt.Sprintf("model softmax must be auto, always or never, got %q", s.Model.Softmax))
	}
	if s.Model.Threads < 0 {
		errs = append(errs, "model threads must be >= 0")
	}
	return errs
}

func validatePredictionSettings(s *Settings) []string {
	var errs []string
	if s.Prediction.TopK < 1 {
		errs = append(errs, "prediction topk must be at least 1")
	}
	if s.Prediction.CropSeparator == "" {
		errs = append(errs, "prediction crop separator must not be empty")
	}
	return errs
}

func validateOutputSettings(s *Settings) []string {
	var errs []string
	switch {
	case s.Output.SQLite.Enabled && s.Output.MySQL.Enabled:
		errs = append(errs, "only one of sqlite and mysql output may be enabled")
	case !s.Output.SQLite.Enabled && !s.Output.MySQL.Enabled:
		errs = append(errs, "a scan store must be enabled")
	case s.Output.SQLite.Enabled && s.Output.SQLite.Path == "":
		errs = append(errs, "sqlite path must be set")
	case s.Output.MySQL.Enabled && (s.Output.MySQL.Host == "" || s.Output.MySQL.Database == ""):
		errs = append(errs, "mysql host and database must be set")
	}
	return errs
}

func validateIntegrationSettings(s *Settings) []string {
	var errs []string
	if s.Places.DefaultRadius <= 0 {
		errs = append(errs, "places default radius must be positive")
	}
	if s.Chat.MaxTokens <= 0 {
		errs = append(errs, "chat max tokens must be positive")
	}
	if s.MQTT.Enabled && s.MQTT.Broker == "" {
		errs = append(errs, "mqtt broker must be set when mqtt is enabled")
	}
	if s.Notification.Enabled && len(s.Notification.URLs) == 0 {
		errs = append(errs, "notification urls must be set when notifications are enabled")
	}
	if s.Notification.MinConfidence < 0 || s.Notification.MinConfidence > 1 {
		errs = append(errs, "notification min confidence must be between 0 and 1")
	}
	if s.Sentry.Enabled && s.Sentry.DSN == "" {
		errs = append(errs, "sentry dsn must be set when sentry is enabled")
	}
	return errs
}

func validateBackupSettings(s *Settings) []string {
	if !s.Backup.Enabled {
		return nil
	}
	var errs []string
	if s.Backup.MaxAttempts < 1 {
		errs = append(errs, "backup max attempts must be at least 1")
	}
	if s.Backup.Interval < 0 || s.Backup.Keep < 0 {
		errs = append(errs, "backup interval and keep must not be negative")
	}
	if s.Backup.FTP.Enabled && s.Backup.FTP.Host == "" {
		errs = append(errs, "ftp backup target requires a host")
	}
	if s.Backup.SFTP.Enabled {
		if s.Backup.SFTP.Host == "" {
			errs = append(errs, "sftp backup target requires a host")
		}
		if s.Backup.SFTP.Password == "" && s.Backup.SFTP.KeyFile == "" {
			errs = append(errs, "sftp backup target requires a password or key file")
		}
	}
	if !s.Backup.Local.Enabled && !s.Backup.FTP.Enabled && !s.Backup.SFTP.Enabled {
		errs = append(errs, "backup requires at least one target")
	}
	return errs
}
