package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	// Set required env vars for all subtests
	cleanup := setEnvs(t, map[string]string{
		"DATABASE_URL": "postgres://localhost/test",
	})
	defer cleanup()

	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":8080" {
			t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
		}
		if cfg.TempDir != "/tmp/sq-engine" {
			t.Errorf("TempDir = %q, want /tmp/sq-engine", cfg.TempDir)
		}
		if cfg.QueueSize != 10000 {
			t.Errorf("QueueSize = %d, want 10000", cfg.QueueSize)
		}
		if cfg.QueueWorkers != 4 {
			t.Errorf("QueueWorkers = %d, want 4", cfg.QueueWorkers)
		}
		if cfg.QueueMaxRetries != 3 {
			t.Errorf("QueueMaxRetries = %d, want 3", cfg.QueueMaxRetries)
		}
		if cfg.UploadsPerMinute != 10 {
			t.Errorf("UploadsPerMinute = %d, want 10", cfg.UploadsPerMinute)
		}
		if cfg.UploadsPerHour != 100 {
			t.Errorf("UploadsPerHour = %d, want 100", cfg.UploadsPerHour)
		}
		if cfg.MinUploadBytes != 1024 {
			t.Errorf("MinUploadBytes = %d, want 1024", cfg.MinUploadBytes)
		}
		if cfg.MaxUploadBytes != 104857600 {
			t.Errorf("MaxUploadBytes = %d, want 104857600", cfg.MaxUploadBytes)
		}
		if cfg.TaskRetention != 24*time.Hour {
			t.Errorf("TaskRetention = %v, want 24h", cfg.TaskRetention)
		}
		if cfg.MQTTClientID != "sq-engine" {
			t.Errorf("MQTTClientID = %q, want sq-engine", cfg.MQTTClientID)
		}
		if cfg.MQTTTopic != "sq-engine/transcriptions" {
			t.Errorf("MQTTTopic = %q, want sq-engine/transcriptions", cfg.MQTTTopic)
		}
	})

	t.Run("cli_overrides_take_priority", func(t *testing.T) {
		cfg, err := Load(Overrides{
			EnvFile:     "nonexistent.env",
			HTTPAddr:    ":9090",
			LogLevel:    "debug",
			DatabaseURL: "postgres://override/db",
			TempDir:     "/tmp/override",
		})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":9090" {
			t.Errorf("HTTPAddr = %q, want :9090", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
		}
		if cfg.DatabaseURL != "postgres://override/db" {
			t.Errorf("DatabaseURL = %q, want override", cfg.DatabaseURL)
		}
		if cfg.TempDir != "/tmp/override" {
			t.Errorf("TempDir = %q, want /tmp/override", cfg.TempDir)
		}
	})

	t.Run("env_vars_read", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.DatabaseURL != "postgres://localhost/test" {
			t.Errorf("DatabaseURL = %q, want postgres://localhost/test", cfg.DatabaseURL)
		}
	})

	t.Run("empty_overrides_use_env", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		// Empty override fields should not overwrite env values
		if cfg.DatabaseURL != "postgres://localhost/test" {
			t.Errorf("DatabaseURL = %q, want env value", cfg.DatabaseURL)
		}
	})
}

func TestLoadMissingRequired(t *testing.T) {
	cleanup := setEnvs(t, map[string]string{
		"DATABASE_URL": "",
	})
	defer cleanup()
	os.Unsetenv("DATABASE_URL")

	_, err := Load(Overrides{EnvFile: "nonexistent.env"})
	if err == nil {
		t.Error("expected error when required env vars are missing")
	}
}

// setEnvs sets environment variables and returns a cleanup function.
func setEnvs(t *testing.T, envs map[string]string) func() {
	t.Helper()
	originals := make(map[string]string)
	unset := make([]string, 0)

	for k, v := range envs {
		if orig, ok := os.LookupEnv(k); ok {
			originals[k] = orig
		} else {
			unset = append(unset, k)
		}
		os.Setenv(k, v)
	}

	return func() {
		for k, v := range originals {
			os.Setenv(k, v)
		}
		for _, k := range unset {
			os.Unsetenv(k)
		}
	}
}
