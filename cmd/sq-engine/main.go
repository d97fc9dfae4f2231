package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	sqengine "github.com/snarg/sq-engine"
	"github.com/snarg/sq-engine/internal/api"
	"github.com/snarg/sq-engine/internal/audit"
	"github.com/snarg/sq-engine/internal/auth"
	"github.com/snarg/sq-engine/internal/config"
	"github.com/snarg/sq-engine/internal/database"
	"github.com/snarg/sq-engine/internal/engine"
	"github.com/snarg/sq-engine/internal/metrics"
	"github.com/snarg/sq-engine/internal/mqttclient"
	"github.com/snarg/sq-engine/internal/ratelimit"
	"github.com/snarg/sq-engine/internal/storage"
	"github.com/snarg/sq-engine/internal/transcribe"
	"github.com/snarg/sq-engine/internal/validate"
)

var version = "dev"

func main() {
	startTime := time.Now()

	// CLI flags override env vars
	envFile := flag.String("env", "", "path to .env file (default .env)")
	addr := flag.String("addr", "", "http listen address")
	logLevelFlag := flag.String("log-level", "", "log level (trace|debug|info|warn|error)")
	dbURL := flag.String("db", "", "database connection URL")
	tempDir := flag.String("temp-dir", "", "directory for staged uploads")
	flag.Parse()

	// Config
	cfg, err := config.Load(config.Overrides{
		EnvFile:     *envFile,
		HTTPAddr:    *addr,
		LogLevel:    *logLevelFlag,
		DatabaseURL: *dbURL,
		TempDir:     *tempDir,
	})
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("sq-engine starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	dbLog := log.With().Str("component", "database").Logger()
	db, err := database.Connect(ctx, database.Options{
		URL:          cfg.DatabaseURL,
		MinConns:     cfg.DBMinConns,
		MaxConns:     cfg.DBMaxConns,
		QueryTimeout: cfg.DBQueryTimeout,
	}, dbLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if cfg.DBInitSchema {
		if err := db.InitSchema(ctx, sqengine.SchemaSQL); err != nil {
			log.Fatal().Err(err).Msg("failed to initialize schema")
		}
	}
	if cfg.DBUseTimescale {
		db.EnsureTimescale(ctx)
	}

	// Security event log
	events := audit.NewLogger(db, log.With().Str("component", "audit").Logger())

	// Upload authentication
	var keys []auth.KeyDescriptor
	if cfg.APIKeysFile != "" {
		keys, err = auth.LoadKeysFile(cfg.APIKeysFile)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.APIKeysFile).Msg("failed to load API keys file")
		}
	}
	authn := auth.New(cfg.LegacyAPIKey, keys, events, log.With().Str("component", "auth").Logger())
	if !authn.Enabled() {
		log.Warn().Msg("no API keys configured - upload authentication disabled")
	}

	var keysWatcher *auth.KeysWatcher
	if cfg.APIKeysFile != "" {
		keysWatcher = auth.NewKeysWatcher(authn, cfg.APIKeysFile, log.With().Str("component", "keys-watcher").Logger())
	}

	validator := validate.New(validate.Config{
		MinSizeBytes: cfg.MinUploadBytes,
		MaxSizeBytes: cfg.MaxUploadBytes,
	})
	limiter := ratelimit.New(cfg.UploadsPerMinute, cfg.UploadsPerHour)

	// Audio archive
	store, err := storage.New(storage.Options{
		ArchiveDir: cfg.ArchiveDir,
		Endpoint:   cfg.S3Endpoint,
		Region:     cfg.S3Region,
		AccessKey:  cfg.S3AccessKey,
		SecretKey:  cfg.S3SecretKey,
		Bucket:     cfg.S3Bucket,
		Prefix:     cfg.S3Prefix,
	}, log.With().Str("component", "storage").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize audio archive")
	}
	log.Info().Str("type", store.Type()).Msg("audio archive ready")

	// MQTT (optional)
	var mqtt *mqttclient.Client
	if cfg.MQTTBrokerURL != "" {
		mqtt, err = mqttclient.Connect(mqttclient.Options{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			Log:       log.With().Str("component", "mqtt").Logger(),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer mqtt.Close()
	}

	// Transcription
	var transcriber transcribe.Transcriber
	if cfg.WhisperURL != "" {
		whisper := transcribe.NewWhisperClient(cfg.WhisperURL, cfg.WhisperModel, cfg.WhisperTimeout)
		svc := transcribe.NewService(whisper, cfg.WhisperModel, db, log.With().Str("component", "transcribe").Logger()).
			WithArchive(store)
		if mqtt != nil {
			svc = svc.WithPublisher(mqtt, cfg.MQTTTopic)
		}
		transcriber = svc
	} else {
		log.Warn().Msg("no whisper endpoint configured - calls are accepted but not transcribed")
		transcriber = transcribe.Noop{}
	}

	eng := engine.New(engine.Options{
		DB:              db,
		Transcriber:     transcriber,
		KeysWatcher:     keysWatcher,
		QueueSize:       cfg.QueueSize,
		QueueWorkers:    cfg.QueueWorkers,
		QueueMaxRetries: cfg.QueueMaxRetries,
		TaskRetention:   cfg.TaskRetention,
	}, log.With().Str("component", "engine").Logger())

	prometheus.MustRegister(metrics.NewCollector(db.Pool, eng.Queue()))

	// HTTP Server
	httpLog := log.With().Str("component", "http").Logger()
	upload := api.NewUploadHandler(authn, limiter, validator, events, db, eng.Queue(), transcriber,
		cfg.TempDir, cfg.MaxUploadBytes, httpLog)

	var broker api.Broker
	if mqtt != nil {
		broker = mqtt
	}
	srv := api.NewServer(api.Options{
		Addr:         cfg.HTTPAddr,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		AdminToken:   cfg.AdminToken,
		Version:      version,
		StartTime:    startTime,
		Upload:       upload,
		DB:           db,
		Queue:        eng.Queue(),
		Broker:       broker,
	}, httpLog)

	// The engine runs on its own context so the listener can close
	// before the queue begins draining.
	engCtx, engCancel := context.WithCancel(context.Background())
	defer engCancel()

	engErr := make(chan error, 1)
	go func() {
		engErr <- eng.Run(engCtx)
	}()
	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Start()
	}()

	// Wait for shutdown signal or component error
	engDone := false
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-srvErr:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	case err := <-engErr:
		engDone = true
		if err != nil {
			log.Error().Err(err).Msg("engine error")
		}
	}
	stop()

	// Listener first so no new uploads are admitted, then the queue
	// drains in-hand work, then the pool closes (deferred).
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	engCancel()
	if !engDone {
		if err := <-engErr; err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("engine shutdown error")
		}
	}

	log.Info().Msg("sq-engine stopped")
}
