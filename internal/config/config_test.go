package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"QDRANT_URL", "QDRANT_COLLECTION", "EMBEDDING_DIM",
		"DB_PATH", "MOVESIA_CONFIG", "LOG_LEVEL"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.QdrantURL != "http://127.0.0.1:6333" {
		t.Errorf("QdrantURL = %q", cfg.QdrantURL)
	}
	if cfg.QdrantCollection != "movesia" {
		t.Errorf("QdrantCollection = %q", cfg.QdrantCollection)
	}
	if cfg.EmbeddingDim != 384 {
		t.Errorf("EmbeddingDim = %d, want 384", cfg.EmbeddingDim)
	}
	if cfg.DBPath == "" {
		t.Error("DBPath should default under the user config dir")
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want info", cfg.LogLevel)
	}
}

func TestLoad_InvalidDim(t *testing.T) {
	t.Setenv("EMBEDDING_DIM", "zero")
	if _, err := Load(); err == nil {
		t.Error("Load() should reject a non-integer EMBEDDING_DIM")
	}
}

func TestLoad_YAMLHints(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "movesia.yaml")
	body := "extra_project_roots:\n  - /projects/a\n  - /projects/b\nrecent_projects_path: /home/u/.config/hub/projects.json\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MOVESIA_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.ExtraProjectRoots) != 2 || cfg.ExtraProjectRoots[0] != "/projects/a" {
		t.Errorf("ExtraProjectRoots = %v", cfg.ExtraProjectRoots)
	}
	if cfg.RecentProjectsPath != "/home/u/.config/hub/projects.json" {
		t.Errorf("RecentProjectsPath = %q", cfg.RecentProjectsPath)
	}
}
