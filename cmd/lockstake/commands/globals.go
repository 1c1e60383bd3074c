package commands

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/moltbunker/lockstake/internal/config"
	"github.com/moltbunker/lockstake/internal/logging"
)

// Global CLI flags
var (
	// ConfigPath overrides the default config file location
	ConfigPath string

	// MockMode forces the in-memory ledger
	MockMode bool

	// LogLevel overrides log.level from the config file
	LogLevel string

	// OutputFormat controls output format: "" (auto), "json"
	OutputFormat string

	// AssumeYes skips confirmation prompts
	AssumeYes bool
)

// configPath returns the config file path from flag or default.
func configPath() string {
	if ConfigPath != "" {
		return ConfigPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config file and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, err
	}
	if MockMode {
		cfg.Mock.Enabled = true
	}
	if LogLevel != "" {
		cfg.Log.Level = LogLevel
	}
	return cfg, nil
}

// SetupLogging configures the global logger from config. Redaction is
// always on so passwords and keys never reach the log.
func SetupLogging() error {
	cfg, err := loadConfig()
	if err != nil {
		// config init must work with a broken file
		cfg = config.DefaultConfig()
	}
	level := cfg.Log.Level
	if LogLevel != "" {
		level = LogLevel
	}
	logging.Setup(logging.Options{
		Level:  level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
		Redact: true,
	})
	return nil
}

func jsonOutput() bool {
	return OutputFormat == "json"
}

// Version information (set at build time)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// GetVersion returns the version string
func GetVersion() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
	}
	return "dev"
}

// GetCommit returns the git commit
func GetCommit() string {
	if Commit != "unknown" {
		return Commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				if len(setting.Value) > 8 {
					return setting.Value[:8]
				}
				return setting.Value
			}
		}
	}
	return "unknown"
}

func platform() string {
	return fmt.Sprintf("%s/%s (%s)", runtime.GOOS, runtime.GOARCH, runtime.Version())
}
