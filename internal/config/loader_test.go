package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, name string, cfg *Config) string {
	t.Helper()
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name          string
		globalConfig  *Config
		projectConfig *Config
		check         func(t *testing.T, cfg *Config)
	}{
		{
			name: "no config files returns defaults",
			check: func(t *testing.T, cfg *Config) {
				if cfg.Scheduler.Concurrency != 4 {
					t.Errorf("concurrency = %d, want 4", cfg.Scheduler.Concurrency)
				}
				if len(cfg.Backends) != 3 {
					t.Errorf("got %d backends, want 3", len(cfg.Backends))
				}
				if !cfg.Triage.Enabled {
					t.Error("triage disabled by default")
				}
			},
		},
		{
			name: "global adds a backend",
			globalConfig: &Config{
				Backends: map[string]BackendConfig{
					"aider": {Command: "aider", Args: []string{"--yes"}},
				},
			},
			check: func(t *testing.T, cfg *Config) {
				if len(cfg.Backends) != 4 {
					t.Errorf("got %d backends, want 4", len(cfg.Backends))
				}
				if cfg.Backends["aider"].Command != "aider" {
					t.Errorf("aider backend = %+v", cfg.Backends["aider"])
				}
			},
		},
		{
			name: "project overrides global scalar",
			globalConfig: &Config{
				Scheduler: SchedulerConfig{Concurrency: 8},
			},
			projectConfig: &Config{
				Scheduler: SchedulerConfig{Concurrency: 2, DefaultBackend: "codex"},
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Scheduler.Concurrency != 2 {
					t.Errorf("concurrency = %d, want 2", cfg.Scheduler.Concurrency)
				}
				if cfg.Scheduler.DefaultBackend != "codex" {
					t.Errorf("default backend = %q, want codex", cfg.Scheduler.DefaultBackend)
				}
			},
		},
		{
			name: "unset scalars keep defaults",
			projectConfig: &Config{
				Scheduler: SchedulerConfig{PollInterval: "5s"},
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Scheduler.Concurrency != 4 {
					t.Errorf("concurrency = %d, want default 4", cfg.Scheduler.Concurrency)
				}
				if got := cfg.Scheduler.PollDuration(); got != 5*time.Second {
					t.Errorf("poll = %v, want 5s", got)
				}
				if cfg.Paths.Graph == "" {
					t.Error("paths lost during merge")
				}
			},
		},
		{
			name: "project can disable triage",
			projectConfig: &Config{
				Triage: TriageConfig{Enabled: false, MaxRecoveries: 5},
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Triage.Enabled {
					t.Error("triage still enabled")
				}
				if cfg.Triage.MaxRecoveries != 5 {
					t.Errorf("max recoveries = %d, want 5", cfg.Triage.MaxRecoveries)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			var globalPath, projectPath string
			if tt.globalConfig != nil {
				globalPath = writeConfig(t, dir, "global.json", tt.globalConfig)
			}
			if tt.projectConfig != nil {
				projectPath = writeConfig(t, dir, "project.json", tt.projectConfig)
			}

			cfg, err := Load(globalPath, projectPath)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestLoadMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load("", path); err == nil {
		t.Fatal("expected error for malformed config")
	}
}

func TestLoadMissingFilesAreNotErrors(t *testing.T) {
	cfg, err := Load("/nonexistent/global.json", "/nonexistent/project.json")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.Concurrency != 4 {
		t.Errorf("defaults not applied: %+v", cfg.Scheduler)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")

	cfg := DefaultConfig()
	cfg.Scheduler.Concurrency = 9
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load("", path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Scheduler.Concurrency != 9 {
		t.Errorf("concurrency = %d, want 9", loaded.Scheduler.Concurrency)
	}
}

func TestDurationFallbacks(t *testing.T) {
	s := SchedulerConfig{PollInterval: "not-a-duration"}
	if got := s.PollDuration(); got != 15*time.Second {
		t.Errorf("PollDuration fallback = %v, want 15s", got)
	}
	tr := TriageConfig{}
	if got := tr.TimeoutDuration(); got != 30*time.Second {
		t.Errorf("TimeoutDuration fallback = %v, want 30s", got)
	}
}
