package internal

import (
	"fmt"
	"os"

	"github.com/hbomb79/anyvid/internal/api"
	"github.com/hbomb79/anyvid/internal/database"
	"github.com/hbomb79/anyvid/internal/engine"
	"github.com/hbomb79/anyvid/internal/extract"
	"github.com/hbomb79/anyvid/internal/transcode"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/mitchellh/go-homedir"
)

// AnyVidConfig is the struct used to contain the
// various user config supplied by file and/or
// environment variables.
type AnyVidConfig struct {
	LogLevel          string           `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	HistoryBufferSize int              `yaml:"history_buffer_size" env:"HISTORY_BUFFER_SIZE" env-default:"256"`
	Engine            engine.Config    `yaml:"engine"`
	Transcode         transcode.Config `yaml:"transcode"`
	Extract           extract.Config   `yaml:"extract"`
	RestConfig        api.RestConfig   `yaml:"rest"`
	Database          database.Config  `yaml:"database"`
}

// LoadConfig reads the YAML configuration file at the path provided (if
// any), applying environment overrides and defaults on top. When the path is
// empty, or the file does not exist, only the environment is consulted.
func LoadConfig(configPath string) (*AnyVidConfig, error) {
	config := &AnyVidConfig{}
	if configPath != "" {
		expanded, err := homedir.Expand(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to expand config path %s: %w", configPath, err)
		}

		if _, err := os.Stat(expanded); err == nil {
			if err := cleanenv.ReadConfig(expanded, config); err != nil {
				return nil, fmt.Errorf("failed to load configuration from %s: %w", expanded, err)
			}

			return config, config.validate()
		}
	}

	if err := cleanenv.ReadEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load configuration from environment: %w", err)
	}

	return config, config.validate()
}

func (config *AnyVidConfig) validate() error {
	if len(config.Extract.Endpoints) == 0 {
		return fmt.Errorf("at least one extraction endpoint must be configured")
	}
	if config.Extract.AttemptTimeoutSecs <= 0 {
		return fmt.Errorf("extraction attempt timeout must be positive (got %d seconds)", config.Extract.AttemptTimeoutSecs)
	}
	if config.Engine.LoadTimeoutSecs <= 0 {
		return fmt.Errorf("engine load timeout must be positive (got %d seconds)", config.Engine.LoadTimeoutSecs)
	}
	if config.Database.Enabled && (config.Database.User == "" || config.Database.Password == "") {
		return fmt.Errorf("database username and password are required when the database is enabled")
	}

	return nil
}
