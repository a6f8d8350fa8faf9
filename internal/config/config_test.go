package config

import (
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ConfidenceThreshold != 0.45 {
		t.Errorf("Expected threshold 0.45, got %v", cfg.ConfidenceThreshold)
	}
	if cfg.AlertCooldown != time.Second {
		t.Errorf("Expected cooldown 1s, got %v", cfg.AlertCooldown)
	}
	if cfg.SensorFallbackProbability != 0.7 {
		t.Errorf("Expected fallback probability 0.7, got %v", cfg.SensorFallbackProbability)
	}
	if cfg.SensorTimeout != 100*time.Millisecond {
		t.Errorf("Expected sensor timeout 100ms, got %v", cfg.SensorTimeout)
	}
	want := []string{"person", "car", "motorbike", "bicycle", "dog", "cat"}
	if !reflect.DeepEqual(cfg.AlertClasses, want) {
		t.Errorf("Expected alert classes %v, got %v", want, cfg.AlertClasses)
	}
	if len(cfg.SensorPorts) != 3 {
		t.Errorf("Expected 3 candidate sensor ports, got %v", cfg.SensorPorts)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CONF_THRESHOLD", "0.6")
	t.Setenv("ALERT_CLASSES", " person , dog ,, ")
	t.Setenv("ALERT_COOLDOWN", "2.5")
	t.Setenv("SENSOR_TIMEOUT", "250ms")
	t.Setenv("SENSOR_PORTS", "/dev/ttyS9")
	t.Setenv("HEADLESS", "true")
	t.Setenv("EVENT_DB", "")
	t.Setenv("HTTP_PORT", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ConfidenceThreshold != 0.6 {
		t.Errorf("Expected threshold 0.6, got %v", cfg.ConfidenceThreshold)
	}
	if !reflect.DeepEqual(cfg.AlertClasses, []string{"person", "dog"}) {
		t.Errorf("Unexpected alert classes: %v", cfg.AlertClasses)
	}
	if cfg.AlertCooldown != 2500*time.Millisecond {
		t.Errorf("Expected cooldown 2.5s, got %v", cfg.AlertCooldown)
	}
	if cfg.SensorTimeout != 250*time.Millisecond {
		t.Errorf("Expected sensor timeout 250ms, got %v", cfg.SensorTimeout)
	}
	if !reflect.DeepEqual(cfg.SensorPorts, []string{"/dev/ttyS9"}) {
		t.Errorf("Unexpected sensor ports: %v", cfg.SensorPorts)
	}
	if !cfg.Headless {
		t.Error("Expected headless mode")
	}
	if cfg.EventDBPath != "" {
		t.Errorf("Expected event db disabled, got %q", cfg.EventDBPath)
	}
	if cfg.Port != 0 {
		t.Errorf("Expected http port 0, got %d", cfg.Port)
	}
}

func TestLoad_InvalidEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("CONF_THRESHOLD", "abc")
	t.Setenv("SENSOR_BAUD", "fast")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ConfidenceThreshold != 0.45 {
		t.Errorf("Expected default threshold, got %v", cfg.ConfidenceThreshold)
	}
	if cfg.SensorBaud != 9600 {
		t.Errorf("Expected default baud, got %d", cfg.SensorBaud)
	}
}

func TestLoad_RejectsNaN(t *testing.T) {
	for _, key := range []string{"CONF_THRESHOLD", "SENSOR_FALLBACK_PROBABILITY"} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, "NaN")
			if _, err := Load(); err == nil {
				t.Errorf("Expected error for %s=NaN", key)
			}
		})
	}
}

func TestLoad_YAMLFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cavas.yaml")
	content := `
confidence_threshold: 0.8
alert_classes: [cat, dog]
alert_cooldown: 3s
mqtt_topic: yard/events
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("MQTT_TOPIC", "garage/events")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ConfidenceThreshold != 0.8 {
		t.Errorf("Expected threshold from file, got %v", cfg.ConfidenceThreshold)
	}
	if !reflect.DeepEqual(cfg.AlertClasses, []string{"cat", "dog"}) {
		t.Errorf("Unexpected alert classes: %v", cfg.AlertClasses)
	}
	if cfg.AlertCooldown != 3*time.Second {
		t.Errorf("Expected cooldown 3s, got %v", cfg.AlertCooldown)
	}
	if cfg.MQTTTopic != "garage/events" {
		t.Errorf("Expected env to win over file, got %q", cfg.MQTTTopic)
	}
	if cfg.SensorBaud != 9600 {
		t.Errorf("Expected untouched default baud, got %d", cfg.SensorBaud)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := Load(); err == nil {
		t.Fatal("Expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"threshold above one", func(c *Config) { c.ConfidenceThreshold = 1.5 }},
		{"negative probability", func(c *Config) { c.SensorFallbackProbability = -0.1 }},
		{"NaN threshold", func(c *Config) { c.ConfidenceThreshold = math.NaN() }},
		{"NaN probability", func(c *Config) { c.SensorFallbackProbability = math.NaN() }},
		{"no alert classes", func(c *Config) { c.AlertClasses = nil }},
		{"negative cooldown", func(c *Config) { c.AlertCooldown = -time.Second }},
		{"zero sensor timeout", func(c *Config) { c.SensorTimeout = 0 }},
		{"empty event log", func(c *Config) { c.EventLogPath = "" }},
		{"port out of range", func(c *Config) { c.Port = 70000 }},
		{"snapshot without limit", func(c *Config) { c.SnapshotDirectory = "snaps"; c.SnapshotLimit = 0 }},
	}

	if err := Validate(Default()); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}
