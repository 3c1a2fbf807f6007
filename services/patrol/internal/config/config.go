package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default location of the service config file.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL string `yaml:"databaseURL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	QueueStream   string `yaml:"queueStream"`
	QueueGroup    string `yaml:"queueGroup"`
	QueueConsumer string `yaml:"queueConsumer"`
	QueueWorkers  int    `yaml:"queueWorkers"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	ScanServiceURL     string `yaml:"scanServiceURL"`
	ScanAPIKey         string `yaml:"scanApiKey"`
	ScanTimeoutSeconds int    `yaml:"scanTimeoutSeconds"`

	SessionSecret   string `yaml:"sessionSecret"`
	SessionTTLHours int    `yaml:"sessionTtlHours"`

	DefaultWhitelist     []string `yaml:"defaultWhitelist"`
	PresignExpiryMinutes int      `yaml:"presignExpiryMinutes"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("PATROL_QUEUE_STREAM"); v != "" {
		cfg.QueueStream = v
	}
	if v := os.Getenv("PATROL_QUEUE_GROUP"); v != "" {
		cfg.QueueGroup = v
	}
	if v := os.Getenv("PATROL_QUEUE_CONSUMER"); v != "" {
		cfg.QueueConsumer = v
	}
	if v := os.Getenv("PATROL_QUEUE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueWorkers = n
		}
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("PATROL_SCAN_SERVICE_URL"); v != "" {
		cfg.ScanServiceURL = v
	}
	if v := os.Getenv("PATROL_SCAN_API_KEY"); v != "" {
		cfg.ScanAPIKey = v
	}
	if v := os.Getenv("PATROL_SCAN_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ScanTimeoutSeconds = n
		}
	}
	if v := os.Getenv("PATROL_SESSION_SECRET"); v != "" {
		cfg.SessionSecret = v
	}
	if v := os.Getenv("PATROL_SESSION_TTL_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SessionTTLHours = n
		}
	}
	if v := os.Getenv("PATROL_DEFAULT_WHITELIST"); v != "" {
		var domains []string
		for _, d := range strings.Split(v, ",") {
			if d = strings.TrimSpace(d); d != "" {
				domains = append(domains, d)
			}
		}
		cfg.DefaultWhitelist = domains
	}
	if v := os.Getenv("PATROL_PRESIGN_EXPIRY_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PresignExpiryMinutes = n
		}
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.MinioEndpoint == "" {
		return errors.New("config: minioEndpoint is required (set in config.yaml or MINIO_ENDPOINT)")
	}
	if cfg.MinioBucket == "" {
		return errors.New("config: minioBucket is required (set in config.yaml or MINIO_BUCKET)")
	}
	if cfg.ScanServiceURL == "" {
		return errors.New("config: scanServiceURL is required (set in config.yaml or PATROL_SCAN_SERVICE_URL)")
	}
	if len(strings.TrimSpace(cfg.SessionSecret)) < 16 {
		return errors.New("config: sessionSecret must be at least 16 characters (set in config.yaml or PATROL_SESSION_SECRET)")
	}
	if cfg.QueueWorkers < 0 {
		return errors.New("config: queueWorkers must be >= 0")
	}
	if cfg.ScanTimeoutSeconds < 0 {
		return errors.New("config: scanTimeoutSeconds must be >= 0")
	}
	if cfg.SessionTTLHours < 0 {
		return errors.New("config: sessionTtlHours must be >= 0")
	}
	if cfg.PresignExpiryMinutes < 0 {
		return errors.New("config: presignExpiryMinutes must be >= 0")
	}
	return nil
}
