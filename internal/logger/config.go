package logger

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	DefaultLevel string            // default log level for all modules
	Timezone     string            // "Local", "UTC", or IANA name
	Console      *ConsoleOutput    // console output configuration
	FileOutput   *FileOutput       // file output configuration
	ModuleLevels map[string]string // per-module log levels
}

// ConsoleOutput is human-readable text without timestamps; the supervisor adds them.
type ConsoleOutput struct {
	Enabled bool
	Level   string
}

// FileOutput is JSON with RFC3339 timestamps, rotated by lumberjack.
type FileOutput struct {
	Enabled         bool
	Path            string
	MaxSize         int // megabytes before rotation
	MaxAge          int // days to keep rotated files
	MaxRotatedFiles int
	Compress        bool
	Level           string
}

const (
	DefaultLogLevel        = "info"
	DefaultLogPath         = "logs/cropscan.log"
	DefaultMaxSize         = 100
	DefaultMaxAge          = 30
	DefaultMaxRotatedFiles = 10
)

// applyConfigDefaults fills nil sections so older config files keep console and file logging.
func applyConfigDefaults(cfg *LoggingConfig) {
	if cfg.DefaultLevel == "" {
		cfg.DefaultLevel = DefaultLogLevel
	}
	if cfg.Console == nil {
		cfg.Console = &ConsoleOutput{Enabled: true, Level: cfg.DefaultLevel}
	}
	if cfg.FileOutput == nil {
		cfg.FileOutput = &FileOutput{
			Enabled:         true,
			Path:            DefaultLogPath,
			Level:           cfg.DefaultLevel,
			MaxSize:         DefaultMaxSize,
			MaxAge:          DefaultMaxAge,
			MaxRotatedFiles: DefaultMaxRotatedFiles,
		}
	}
	if cfg.FileOutput.Path == "" {
		cfg.FileOutput.Path = DefaultLogPath
	}
}
