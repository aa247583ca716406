// Package config loads host configuration from environment variables, an
// optional .env file, and an optional YAML file for project-root hints.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the host.
type Config struct {
	QdrantURL        string
	QdrantCollection string
	EmbeddingBaseURL string
	EmbeddingAPIKey  string
	EmbeddingModel   string
	EmbeddingDim     int
	DBPath           string
	APIPort          string
	LogLevel         slog.Level
	LogFormat        string

	// Session-resolver hints, loaded from the YAML file.
	ExtraProjectRoots  []string
	RecentProjectsPath string
}

// fileConfig is the YAML shape of the optional MOVESIA_CONFIG file.
type fileConfig struct {
	ExtraProjectRoots  []string `yaml:"extra_project_roots"`
	RecentProjectsPath string   `yaml:"recent_projects_path"`
}

// Load reads configuration, applying defaults for optional fields.
// Environment variables already set take precedence over .env values.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		QdrantURL:        getEnv("QDRANT_URL", "http://127.0.0.1:6333"),
		QdrantCollection: getEnv("QDRANT_COLLECTION", "movesia"),
		EmbeddingBaseURL: getEnv("EMBEDDING_BASE_URL", "http://127.0.0.1:8081"),
		EmbeddingAPIKey:  getEnv("EMBEDDING_API_KEY", "dummy-key"),
		EmbeddingModel:   getEnv("EMBEDDING_MODEL_NAME", "all-MiniLM-L6-v2"),
		APIPort:          getEnv("API_PORT", "9700"),
		LogFormat:        getEnv("LOG_FORMAT", "text"),
	}

	dimStr := getEnv("EMBEDDING_DIM", "384")
	dim, err := strconv.Atoi(dimStr)
	if err != nil || dim <= 0 {
		return nil, fmt.Errorf("EMBEDDING_DIM must be a positive integer, got %q", dimStr)
	}
	cfg.EmbeddingDim = dim

	cfg.LogLevel = parseLevel(getEnv("LOG_LEVEL", "info"))

	cfg.DBPath = os.Getenv("DB_PATH")
	if cfg.DBPath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve user config dir: %w", err)
		}
		cfg.DBPath = filepath.Join(dir, "movesia", "catalog.db")
	}

	if path := os.Getenv("MOVESIA_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// loadFile merges the YAML hints file into the config.
func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	c.ExtraProjectRoots = append(c.ExtraProjectRoots, fc.ExtraProjectRoots...)
	if fc.RecentProjectsPath != "" {
		c.RecentProjectsPath = fc.RecentProjectsPath
	}
	return nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
