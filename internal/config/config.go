package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	VideoSource string `yaml:"video_source"`
	ModelPath   string `yaml:"model_path"`
	ConfigPath  string `yaml:"config_path"`
	Headless    bool   `yaml:"headless"`

	ConfidenceThreshold float64  `yaml:"confidence_threshold"`
	AlertClasses        []string `yaml:"alert_classes"`

	SensorPorts               []string      `yaml:"sensor_ports"`
	SensorBaud                int           `yaml:"sensor_baud"`
	SensorTimeout             time.Duration `yaml:"sensor_timeout"`
	SensorSettle              time.Duration `yaml:"sensor_settle"`
	SensorFallbackProbability float64       `yaml:"sensor_fallback_probability"`

	AlertCooldown  time.Duration `yaml:"alert_cooldown"`
	SoundPath      string        `yaml:"sound_path"`
	AlertGPIOPin   string        `yaml:"alert_gpio_pin"`
	AlertGPIOPulse time.Duration `yaml:"alert_gpio_pulse"`

	EventLogPath string `yaml:"event_log"`
	EventDBPath  string `yaml:"event_db"` // pusty = bez lustra SQLite

	SnapshotDirectory     string `yaml:"snapshot_dir"`
	SnapshotLimit         int    `yaml:"snapshot_limit"`
	SnapshotFlushInterval int    `yaml:"snapshot_flush_interval"` // w sekundach

	MQTTBroker string `yaml:"mqtt_broker"`
	MQTTTopic  string `yaml:"mqtt_topic"`

	Port         int    `yaml:"http_port"` // 0 wyłącza serwer HTTP
	LogDirectory string `yaml:"log_dir"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		VideoSource:               "0",
		ModelPath:                 filepath.Join(".", "models", "frozen_inference_graph.pb"),
		ConfigPath:                filepath.Join(".", "models", "ssd_mobilenet_v1_coco_2017_11_17.pbtxt"),
		ConfidenceThreshold:       0.45,
		AlertClasses:              []string{"person", "car", "motorbike", "bicycle", "dog", "cat"},
		SensorPorts:               []string{"COM3", "/dev/ttyUSB0", "/dev/ttyACM0"},
		SensorBaud:                9600,
		SensorTimeout:             100 * time.Millisecond,
		SensorSettle:              2 * time.Second,
		SensorFallbackProbability: 0.7,
		AlertCooldown:             time.Second,
		SoundPath:                 filepath.Join(".", "sounds", "engine_idle.wav"),
		AlertGPIOPulse:            500 * time.Millisecond,
		EventLogPath:              filepath.Join(".", "logs", "detections.csv"),
		EventDBPath:               filepath.Join(".", "data", "events.db"),
		SnapshotLimit:             20,
		SnapshotFlushInterval:     30,
		MQTTTopic:                 "cavas/events",
		Port:                      8080,
		LogDirectory:              filepath.Join(".", "logs"),
	}
}

// Load builds the configuration: defaults, then the optional CONFIG_FILE (YAML),
// then environment variables (a .env file is loaded first when present).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// mergeFile overlays keys present in a YAML file onto cfg.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.VideoSource = getEnv("VIDEO_SOURCE", c.VideoSource)
	c.ModelPath = getEnv("MODEL_PATH", c.ModelPath)
	c.ConfigPath = getEnv("CONFIG_PATH", c.ConfigPath)
	c.Headless = getEnvAsBool("HEADLESS", c.Headless)

	c.ConfidenceThreshold = getEnvAsFloat("CONF_THRESHOLD", c.ConfidenceThreshold)
	c.AlertClasses = getEnvAsList("ALERT_CLASSES", c.AlertClasses)

	c.SensorPorts = getEnvAsList("SENSOR_PORTS", c.SensorPorts)
	c.SensorBaud = getEnvAsInt("SENSOR_BAUD", c.SensorBaud)
	c.SensorTimeout = getEnvAsDuration("SENSOR_TIMEOUT", c.SensorTimeout)
	c.SensorSettle = getEnvAsDuration("SENSOR_SETTLE", c.SensorSettle)
	c.SensorFallbackProbability = getEnvAsFloat("SENSOR_FALLBACK_PROBABILITY", c.SensorFallbackProbability)

	c.AlertCooldown = getEnvAsDuration("ALERT_COOLDOWN", c.AlertCooldown)
	c.SoundPath = getEnv("SOUND_PATH", c.SoundPath)
	c.AlertGPIOPin = getEnv("ALERT_GPIO_PIN", c.AlertGPIOPin)
	c.AlertGPIOPulse = getEnvAsDuration("ALERT_GPIO_PULSE", c.AlertGPIOPulse)

	c.EventLogPath = getEnv("EVENT_LOG", c.EventLogPath)
	c.EventDBPath = getEnvAllowEmpty("EVENT_DB", c.EventDBPath)

	c.SnapshotDirectory = getEnv("SNAPSHOT_DIR", c.SnapshotDirectory)
	c.SnapshotLimit = getEnvAsInt("SNAPSHOT_LIMIT", c.SnapshotLimit)
	c.SnapshotFlushInterval = getEnvAsInt("SNAPSHOT_FLUSH_INTERVAL", c.SnapshotFlushInterval)

	c.MQTTBroker = getEnv("MQTT_BROKER", c.MQTTBroker)
	c.MQTTTopic = getEnv("MQTT_TOPIC", c.MQTTTopic)

	c.Port = getEnvAsInt("HTTP_PORT", c.Port)
	c.LogDirectory = getEnv("LOG_DIR", c.LogDirectory)
}

// Validate rejects values the pipeline cannot run with.
func Validate(c *Config) error {
	if math.IsNaN(c.ConfidenceThreshold) || c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold %.2f out of range [0,1]", c.ConfidenceThreshold)
	}
	if math.IsNaN(c.SensorFallbackProbability) || c.SensorFallbackProbability < 0 || c.SensorFallbackProbability > 1 {
		return fmt.Errorf("sensor fallback probability %.2f out of range [0,1]", c.SensorFallbackProbability)
	}
	if len(c.AlertClasses) == 0 {
		return fmt.Errorf("at least one alert class is required")
	}
	if c.AlertCooldown < 0 {
		return fmt.Errorf("alert cooldown must not be negative")
	}
	if c.SensorTimeout <= 0 {
		return fmt.Errorf("sensor timeout must be positive")
	}
	if c.SensorBaud <= 0 {
		return fmt.Errorf("sensor baud rate must be positive")
	}
	if c.EventLogPath == "" {
		return fmt.Errorf("event log path is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("http port %d out of range", c.Port)
	}
	if c.SnapshotDirectory != "" && (c.SnapshotLimit <= 0 || c.SnapshotFlushInterval <= 0) {
		return fmt.Errorf("snapshot limit and flush interval must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAllowEmpty distinguishes an unset variable from one set to "".
func getEnvAllowEmpty(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("250ms") or plain seconds ("1.5").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(seconds * float64(time.Second))
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}
