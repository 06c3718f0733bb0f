package logger

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	// Default log level for all modules
	DefaultLevel  string                  `yaml:"default_level" mapstructure:"defaultlevel"`
	// "Local", "UTC", or IANA timezone name
	Timezone      string                  `yaml:"timezone" mapstructure:"timezone"`
	// Console output configuration
	Console       *ConsoleOutput          `yaml:"console" mapstructure:"console"`
	// File output configuration
	FileOutput    *FileOutput             `yaml:"file_output" mapstructure:"fileoutput"`
	// Per-module output configuration
	ModuleOutputs map[string]ModuleOutput `yaml:"modules" mapstructure:"modules"`
	// Per-module log levels
	ModuleLevels  map[string]string       `yaml:"module_levels" mapstructure:"modulelevels"`
}

// ConsoleOutput represents console logging configuration.
// Console output is human-readable text without timestamps; journald or the
// terminal supplies them.
type ConsoleOutput struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Level   string `yaml:"level" mapstructure:"level"`
}

// FileOutput represents file logging configuration. File output is JSON.
type FileOutput struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	Path            string `yaml:"path" mapstructure:"path"`
	// MB before rotation (0 = no rotation)
	MaxSize         int    `yaml:"max_size" mapstructure:"maxsize"`
	// Days to keep rotated logs (0 = no limit)
	MaxAge          int    `yaml:"max_age" mapstructure:"maxage"`
	// Rotated files to keep (0 = no limit)
	MaxRotatedFiles int    `yaml:"max_rotated_files" mapstructure:"maxrotatedfiles"`
	// Gzip rotated logs
	Compress        bool   `yaml:"compress" mapstructure:"compress"`
	Level           string `yaml:"level" mapstructure:"level"`
}

// ModuleOutput represents per-module output configuration
type ModuleOutput struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	FilePath    string `yaml:"file_path" mapstructure:"filepath"`
	Level       string `yaml:"level" mapstructure:"level"`
	ConsoleAlso bool   `yaml:"console_also" mapstructure:"consolealso"`
	// 0 = use FileOutput default
	MaxSize     int    `yaml:"max_size" mapstructure:"maxsize"`
}

// Default values for logging configuration.
const (
	DefaultLogLevel        = "info"
	DefaultLogPath         = "logs/trackmix.log"
	DefaultMaxSize         = 50 // MB before rotation
	DefaultMaxAge          = 14 // days to keep rotated files
	DefaultMaxRotatedFiles = 5
	DefaultConsoleEnabled  = true
	DefaultFileEnabled     = false
)

// applyConfigDefaults fills nil sections so a partial config still logs somewhere.
func applyConfigDefaults(cfg *LoggingConfig) {
	if cfg == nil {
		return
	}

	if cfg.DefaultLevel == "" {
		cfg.DefaultLevel = DefaultLogLevel
	}

	if cfg.Console == nil {
		cfg.Console = &ConsoleOutput{
			Enabled: DefaultConsoleEnabled,
			Level:   cfg.DefaultLevel,
		}
	}

	if cfg.FileOutput == nil {
		cfg.FileOutput = &FileOutput{
			Enabled:         DefaultFileEnabled,
			Path:            DefaultLogPath,
			Level:           cfg.DefaultLevel,
			MaxSize:         DefaultMaxSize,
			MaxAge:          DefaultMaxAge,
			MaxRotatedFiles: DefaultMaxRotatedFiles,
		}
	}

	if cfg.ModuleOutputs == nil {
		cfg.ModuleOutputs = make(map[string]ModuleOutput)
	}
}
