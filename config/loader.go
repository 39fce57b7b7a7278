package config

import (
	"log/slog"
	"os"
	"path/filepath"
)

const (
	// ProjectConfigFile is the name of the project-level config file.
	ProjectConfigFile = "contractforge.yaml"
	// UserConfigDir is the directory for user-level config.
	UserConfigDir = ".config/contractforge"
	// UserConfigFile is the name of the user-level config file.
	UserConfigFile = "config.yaml"
)

// Loader handles configuration loading with layered precedence.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a new configuration loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load loads configuration with layered precedence:
//  1. Default config
//  2. User config (~/.config/contractforge/config.yaml)
//  3. Project config (contractforge.yaml in current or parent directories)
//  4. Environment variables
func (l *Loader) Load() (*Config, error) {
	config := DefaultConfig()

	userConfigPath := l.userConfigPath()
	if userConfig, err := LoadFromFile(userConfigPath); err == nil {
		l.logger.Debug("loaded user config", slog.String("path", userConfigPath))
		config.Merge(userConfig)
	} else if !os.IsNotExist(err) {
		l.logger.Warn("failed to load user config", slog.String("path", userConfigPath), slog.String("error", err.Error()))
	}

	projectConfigPath := l.findProjectConfig()
	if projectConfigPath != "" {
		if projectConfig, err := LoadFromFile(projectConfigPath); err == nil {
			l.logger.Debug("loaded project config", slog.String("path", projectConfigPath))
			config.Merge(projectConfig)
		} else {
			l.logger.Warn("failed to load project config", slog.String("path", projectConfigPath), slog.String("error", err.Error()))
		}
	} else {
		l.logger.Debug("no project config found")
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides layers environment variables over the file-derived
// config, the last precedence tier per Load's doc comment. Only secrets
// and deployment-environment-specific values get an env var; everything
// else belongs in the YAML layers.
func applyEnvOverrides(c *Config) {
	if v := os.Getenv("CONTRACTFORGE_DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("CONTRACTFORGE_EVENTBUS_URL"); v != "" {
		c.EventBus.URL = v
	}
	if v := os.Getenv("CONTRACTFORGE_HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("CONTRACTFORGE_ANTHROPIC_API_KEY"); v != "" {
		c.LLM.AnthropicAPIKey = v
	}
	if v := os.Getenv("CONTRACTFORGE_OPENAI_API_KEY"); v != "" {
		c.LLM.OpenAIAPIKey = v
	}
	if v := os.Getenv("CONTRACTFORGE_BEDROCK_REGION"); v != "" {
		c.LLM.BedrockRegion = v
	}
}

// EnsureUserConfig creates the user config file with defaults if it
// doesn't exist.
func (l *Loader) EnsureUserConfig() error {
	userConfigPath := l.userConfigPath()

	if _, err := os.Stat(userConfigPath); err == nil {
		return nil
	}

	config := DefaultConfig()
	if err := config.SaveToFile(userConfigPath); err != nil {
		return err
	}

	l.logger.Info("created default user config", slog.String("path", userConfigPath))
	return nil
}

// userConfigPath returns the path to the user config file.
func (l *Loader) userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// findProjectConfig searches for contractforge.yaml in the current and
// parent directories.
func (l *Loader) findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		configPath := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}
