package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:  ":8080",
			BasePath: "/api/upload",
		},
		Upload: UploadConfig{
			ChunkSize:    1048576,
			MaxFileSize:  524288000,
			AllowedTypes: []string{"image/jpeg"},
		},
		Storage: StorageConfig{
			StorageRoot:   "./data/storage",
			StagingRoot:   "./data/staging",
			ChunkTimeout:  30 * time.Minute,
			RetentionDays: 30,
		},
		Database: DatabaseConfig{Path: "./data/mediastash.db"},
	}
}

func TestValidate_OK(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero chunk size", func(c *Config) { c.Upload.ChunkSize = 0 }},
		{"zero max file size", func(c *Config) { c.Upload.MaxFileSize = 0 }},
		{"max smaller than chunk", func(c *Config) { c.Upload.MaxFileSize = c.Upload.ChunkSize - 1 }},
		{"no allowed types", func(c *Config) { c.Upload.AllowedTypes = nil }},
		{"no storage root", func(c *Config) { c.Storage.StorageRoot = "" }},
		{"no staging root", func(c *Config) { c.Storage.StagingRoot = "" }},
		{"zero chunk timeout", func(c *Config) { c.Storage.ChunkTimeout = 0 }},
		{"zero retention", func(c *Config) { c.Storage.RetentionDays = 0 }},
		{"no database path", func(c *Config) { c.Database.Path = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
