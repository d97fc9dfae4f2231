package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL     string        `env:"DATABASE_URL,required"`
	DBMinConns      int32         `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConns      int32         `env:"DB_MAX_CONNS" envDefault:"20"`
	DBQueryTimeout  time.Duration `env:"DB_QUERY_TIMEOUT" envDefault:"60s"`
	DBInitSchema    bool          `env:"DB_INIT_SCHEMA" envDefault:"true"`
	DBUseTimescale  bool          `env:"DB_USE_TIMESCALE" envDefault:"false"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	// Upload authentication. Empty LegacyAPIKey + no keys file disables auth.
	LegacyAPIKey string `env:"API_KEY"`
	APIKeysFile  string `env:"API_KEYS_FILE"`

	// Bearer token guarding the security/audit endpoints. Empty disables.
	AdminToken string `env:"ADMIN_TOKEN"`

	// Upload validation limits.
	MinUploadBytes int64 `env:"MIN_UPLOAD_BYTES" envDefault:"1024"`
	MaxUploadBytes int64 `env:"MAX_UPLOAD_BYTES" envDefault:"104857600"`

	// Per-IP rate limits.
	UploadsPerMinute int `env:"UPLOADS_PER_MINUTE" envDefault:"10"`
	UploadsPerHour   int `env:"UPLOADS_PER_HOUR" envDefault:"100"`

	TempDir string `env:"TEMP_DIR" envDefault:"/tmp/sq-engine"`

	// Transcription queue.
	QueueSize       int           `env:"QUEUE_SIZE" envDefault:"10000"`
	QueueWorkers    int           `env:"QUEUE_WORKERS" envDefault:"4"`
	QueueMaxRetries int           `env:"QUEUE_MAX_RETRIES" envDefault:"3"`
	TaskRetention   time.Duration `env:"TASK_RETENTION" envDefault:"24h"`

	// Whisper endpoint. Empty URL means uploads are accepted but never
	// transcribed (useful for ingest-only deployments).
	WhisperURL     string        `env:"WHISPER_URL"`
	WhisperModel   string        `env:"WHISPER_MODEL" envDefault:"whisper-1"`
	WhisperTimeout time.Duration `env:"WHISPER_TIMEOUT" envDefault:"5m"`

	// Audio archive. S3 engages when the bucket is set.
	ArchiveDir  string `env:"ARCHIVE_DIR" envDefault:"./archive"`
	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`
	S3Bucket    string `env:"S3_BUCKET"`
	S3Prefix    string `env:"S3_PREFIX"`

	// Completion event publishing. Empty broker URL disables it.
	MQTTBrokerURL string `env:"MQTT_BROKER_URL"`
	MQTTClientID  string `env:"MQTT_CLIENT_ID" envDefault:"sq-engine"`
	MQTTUsername  string `env:"MQTT_USERNAME"`
	MQTTPassword  string `env:"MQTT_PASSWORD"`
	MQTTTopic     string `env:"MQTT_TOPIC" envDefault:"sq-engine/transcriptions"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
	TempDir     string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	// Parse environment variables into config struct
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.TempDir != "" {
		cfg.TempDir = overrides.TempDir
	}

	return cfg, nil
}
