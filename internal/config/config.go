package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	Debug    bool           `mapstructure:"debug"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	BodyLimit    int           `mapstructure:"body_limit"`
	BasePath     string        `mapstructure:"base_path"`
}

// UploadConfig contains the upload protocol settings advertised to clients
type UploadConfig struct {
	ChunkSize          int64    `mapstructure:"chunk_size"`
	MaxFileSize        int64    `mapstructure:"max_file_size"`
	MaxFiles           int      `mapstructure:"max_files"`
	AllowedTypes       []string `mapstructure:"allowed_types"`
	MaxParallelUploads int      `mapstructure:"max_parallel_uploads"`
}

// StorageConfig contains filesystem layout and lifecycle settings
type StorageConfig struct {
	StorageRoot   string        `mapstructure:"storage_root"`
	StagingRoot   string        `mapstructure:"staging_root"`
	ChunkTimeout  time.Duration `mapstructure:"chunk_timeout"`
	RetentionDays int           `mapstructure:"retention_days"`
}

// DatabaseConfig contains the session database settings
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := loadEnvFile(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	viper.SetConfigName("mediastash")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/mediastash")

	setDefaults()

	// Enable environment variable support with underscore replacer
	viper.AutomaticEnv()
	viper.SetEnvPrefix("MEDIASTASH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file (if it exists)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Info().Msg("No config file found, using environment variables and defaults")
	} else {
		log.Info().Str("file", viper.ConfigFileUsed()).Msg("Config file loaded")
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// loadEnvFile loads environment variables from .env file
func loadEnvFile() error {
	locations := []string{
		".env",
		".env.local",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			if err := godotenv.Load(location); err != nil {
				return fmt.Errorf("error loading .env file from %s: %w", location, err)
			}
			log.Info().Str("file", location).Msg(".env file loaded")
			return nil
		}
	}

	return fmt.Errorf("no .env file found")
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "60s")
	viper.SetDefault("server.body_limit", 8*1024*1024) // one chunk plus multipart overhead
	viper.SetDefault("server.base_path", "/api/upload")

	// Upload protocol defaults
	viper.SetDefault("upload.chunk_size", int64(1048576))
	viper.SetDefault("upload.max_file_size", int64(524288000))
	viper.SetDefault("upload.max_files", 10)
	viper.SetDefault("upload.allowed_types", []string{
		"image/jpeg", "image/png", "image/gif", "image/webp",
		"video/mp4", "video/quicktime", "video/x-msvideo", "video/mpeg",
	})
	viper.SetDefault("upload.max_parallel_uploads", 3)

	// Storage defaults
	viper.SetDefault("storage.storage_root", "./data/storage")
	viper.SetDefault("storage.staging_root", "./data/staging")
	viper.SetDefault("storage.chunk_timeout", "30m")
	viper.SetDefault("storage.retention_days", 30)

	// Database defaults
	viper.SetDefault("database.path", "./data/mediastash.db")
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.Upload.ChunkSize <= 0 {
		return fmt.Errorf("upload.chunk_size must be positive, got %d", c.Upload.ChunkSize)
	}
	if c.Upload.MaxFileSize <= 0 {
		return fmt.Errorf("upload.max_file_size must be positive, got %d", c.Upload.MaxFileSize)
	}
	if c.Upload.MaxFileSize < c.Upload.ChunkSize {
		return fmt.Errorf("upload.max_file_size %d is smaller than upload.chunk_size %d",
			c.Upload.MaxFileSize, c.Upload.ChunkSize)
	}
	if len(c.Upload.AllowedTypes) == 0 {
		return fmt.Errorf("upload.allowed_types must not be empty")
	}
	if c.Storage.StorageRoot == "" {
		return fmt.Errorf("storage.storage_root is required")
	}
	if c.Storage.StagingRoot == "" {
		return fmt.Errorf("storage.staging_root is required")
	}
	if c.Storage.ChunkTimeout <= 0 {
		return fmt.Errorf("storage.chunk_timeout must be positive, got %s", c.Storage.ChunkTimeout)
	}
	if c.Storage.RetentionDays <= 0 {
		return fmt.Errorf("storage.retention_days must be positive, got %d", c.Storage.RetentionDays)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	return nil
}
