// Package conf loads CropScan settings from config.yaml, environment variables and .env files.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/cropscan/cropscan/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// ServerSettings configures the HTTP gateway
type ServerSettings struct {
	Host            string
	Port            string
	BodyLimit       string        // maximum request body, e.g. "15M"
	AllowedOrigins  []string      // CORS origins
	ShutdownTimeout time.Duration // graceful shutdown budget
	BackendURL      string        // base URL clients use to reach the gateway
}

// ClientSettings are used by the CLI when it talks to a running gateway.
type ClientSettings struct {
	PredictTimeout time.Duration
	DefaultTimeout time.Duration
}

// SecuritySettings holds the shared admin token
type SecuritySettings struct {
	AdminToken string
}

// ONNXSettings configures the onnxruntime backend
type ONNXSettings struct {
	LibraryPath string // path to libonnxruntime, empty for the system default
	InputName   string
	OutputName  string
}

// RemoteModelSettings configures an HTTP inference server
type RemoteModelSettings struct {
	URL     string
	Name    string
	Timeout time.Duration
}

// ModelSettings configures the classifier
type ModelSettings struct {
	Backend   string // tflite, onnx or remote
	ModelPath string
	LabelPath string
	InputSize int
	Layout    string // NHWC or NCHW
	Threads   int    // 0 selects automatically
	Softmax   string // auto, always or never
	ONNX      ONNXSettings
	Remote    RemoteModelSettings
}

// PredictionSettings controls ranking and crop derivation
type PredictionSettings struct {
	TopK          int
	CropSeparator string
}

// SQLiteSettings configures the SQLite store
type SQLiteSettings struct {
	Enabled bool
	Path    string
}

// MySQLSettings configures the MySQL store
type MySQLSettings struct {
	Enabled  bool
	Username string
	Password string
	Database string
	Host     string
	Port     string
}

// OutputSettings selects the scan store
type OutputSettings struct {
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// PlacesSettings configures the nearby agro-store lookup
type PlacesSettings struct {
	APIKey        string
	BaseURL       string
	DefaultRadius int
	DefaultQuery  string
	CacheTTL      time.Duration
	RateLimit     float64 // requests per second
	Timeout       time.Duration
}

// TTSSettings configures text-to-speech synthesis
type TTSSettings struct {
	APIKey    string
	Endpoint  string // override for the Cloud Text-to-Speech endpoint
	Dir       string
	VoiceName string
	Timeout   time.Duration
}

// ChatSettings configures the LLM fallback of the chat responder
type ChatSettings struct {
	APIKey       string
	BaseURL      string
	Model        string
	MaxTokens    int
	SystemPrompt string
	Timeout      time.Duration
}

// MQTTSettings configures scan event publication
type MQTTSettings struct {
	Enabled  bool
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	Retain   bool
	Timeout  time.Duration
}

// NotificationSettings configures disease alerts
type NotificationSettings struct {
	Enabled       bool
	URLs          []string // shoutrrr service URLs
	MinConfidence float64
	Timeout       time.Duration
}

// FTPTargetSettings configures the FTP backup target
type FTPTargetSettings struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	Path     string
	Timeout  time.Duration
}

// SFTPTargetSettings configures the SFTP backup target
type SFTPTargetSettings struct {
	Enabled        bool
	Host           string
	Port           int
	Username       string
	Password       string
	KeyFile        string
	KnownHostsFile string
	Path           string
	Timeout        time.Duration
}

// LocalTargetSettings configures the local directory backup target
type LocalTargetSettings struct {
	Enabled bool
	Path    string
}

// BackupSettings configures database backups
type BackupSettings struct {
	Enabled     bool
	StagingDir  string
	MaxAttempts int
	Interval    time.Duration // 0 disables scheduled backups
	Keep        int           // snapshots retained per target, 0 keeps all
	Local       LocalTargetSettings
	FTP         FTPTargetSettings
	SFTP        SFTPTargetSettings
}

// MetricsSettings configures the Prometheus endpoint
type MetricsSettings struct {
	Enabled bool
	Listen  string // separate listener, empty to serve /metrics on the gateway
}

// SentrySettings configures error telemetry
type SentrySettings struct {
	Enabled bool
	DSN     string
}

// Settings is the root configuration
type Settings struct {
	Debug bool

	Version   string `yaml:"-"`
	BuildDate string `yaml:"-"`

	Logging      logger.LoggingConfig
	Server       ServerSettings
	Client       ClientSettings
	Security     SecuritySettings
	Model        ModelSettings
	Prediction   PredictionSettings
	CatalogPath  string // external treatment catalog, empty for the embedded one
	ReportsDir   string
	UploadsDir   string // keeps a copy of each persisted upload when set
	Output       OutputSettings
	Places       PlacesSettings
	TTS          TTSSettings
	Chat         ChatSettings
	MQTT         MQTTSettings
	Notification NotificationSettings
	Backup       BackupSettings
	Metrics      MetricsSettings
	Sentry       SentrySettings
}

var (
	settingsMutex    sync.RWMutex
	settingsInstance *Settings
)

// Load reads .env, config.yaml and environment overrides into a validated Settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := resolveSecrets(settings); err != nil {
		return nil, err
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// GetSettings returns the last loaded settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// loadDotEnv loads .env from the working directory. Variables already set in the environment win.
func loadDotEnv() error {
	path := os.Getenv("CROPSCAN_DOTENV")
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("error loading %s: %w", path, err)
	}
	return nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	if err := bindEnvVars(); err != nil {
		return err
	}

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig(configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded config.yaml to dir and reads it back
func createDefaultConfig(dir string) error {
	configPath := filepath.Join(dir, "config.yaml")

	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return fmt.Errorf("error reading embedded config: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// GetDefaultConfigPaths returns the directories searched for config.yaml.
// CROPSCAN_CONFIG_DIR, when set, is the only path.
func GetDefaultConfigPaths() ([]string, error) {
	if dir := os.Getenv("CROPSCAN_CONFIG_DIR"); dir != "" {
		return []string{dir}, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("error getting home directory: %w", err)
	}

	configPaths := []string{
		".",
		filepath.Join(homeDir, ".config", "cropscan"),
		"/etc/cropscan",
	}

	for _, path := range configPaths {
		if _, err := os.Stat(filepath.Join(path, "config.yaml")); err == nil {
			return []string{path}, nil
		}
	}

	return configPaths[1:], nil
}

// Addr returns the listen address of the gateway
func (s *ServerSettings) Addr() string {
	return s.Host + ":" + s.Port
}
