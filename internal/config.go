package internal

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/hbomb79/Tempo/internal/api"
	"github.com/hbomb79/Tempo/internal/database"
	"github.com/hbomb79/Tempo/internal/download"
	"github.com/hbomb79/Tempo/internal/extract"
	"github.com/hbomb79/Tempo/internal/ingest"
	"github.com/hbomb79/Tempo/internal/storage"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
)

// TempoConfig is the struct used to contain the
// various user config supplied by file, or
// by the environment.
type TempoConfig struct {
	Database   database.DatabaseConfig `yaml:"database" env-required:"true"`
	Storage    storage.Config          `yaml:"storage"`
	Download   download.Config         `yaml:"download"`
	Ingest     ingest.Config           `yaml:"ingest"`
	Extract    ExtractConfig           `yaml:"extract"`
	RestConfig api.RestConfig          `yaml:"api"`
}

// ExtractConfig is a subset of the configuration that focuses
// only on the tools and clients used to extract metadata.
type ExtractConfig struct {
	YtDlp   extract.YtDlpConfig   `yaml:"ytdlp"`
	Spotify extract.SpotifyConfig `yaml:"spotify"`
}

// LoadEnvFile loads the variables in the dotenv file provided in to the
// environment, without overriding those already set. A missing file is
// not an error.
func LoadEnvFile(envPath string) error {
	path, err := homedir.Expand(envPath)
	if err != nil {
		return fmt.Errorf("failed to expand env file path %s: %w", envPath, err)
	}

	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}

	return nil
}

// LoadFromFile loads a configuration file formatted in YAML in to a
// TempoConfig struct. Environment variables take precedence over
// the values in the file.
func (config *TempoConfig) LoadFromFile(configPath string) error {
	path, err := homedir.Expand(configPath)
	if err != nil {
		return fmt.Errorf("failed to expand config path %s: %w", configPath, err)
	}

	if err := cleanenv.ReadConfig(path, config); err != nil {
		return fmt.Errorf("failed to load configuration for Tempo - %v", err.Error())
	}

	return nil
}

// LoadFromEnv populates the config using only the environment.
func (config *TempoConfig) LoadFromEnv() error {
	if err := cleanenv.ReadEnv(config); err != nil {
		return fmt.Errorf("failed to load configuration for Tempo from environment - %v", err.Error())
	}

	return nil
}
