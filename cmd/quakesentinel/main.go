package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/rewired-gh/quakesentinel/internal/aftershock"
	"github.com/rewired-gh/quakesentinel/internal/api"
	"github.com/rewired-gh/quakesentinel/internal/auth"
	"github.com/rewired-gh/quakesentinel/internal/classifier"
	"github.com/rewired-gh/quakesentinel/internal/config"
	"github.com/rewired-gh/quakesentinel/internal/logger"
	"github.com/rewired-gh/quakesentinel/internal/metrics"
	"github.com/rewired-gh/quakesentinel/internal/mqtt"
	"github.com/rewired-gh/quakesentinel/internal/notify"
	"github.com/rewired-gh/quakesentinel/internal/pipeline"
	"github.com/rewired-gh/quakesentinel/internal/settings"
	"github.com/rewired-gh/quakesentinel/internal/stats"
	"github.com/rewired-gh/quakesentinel/internal/storage"
	"github.com/rewired-gh/quakesentinel/internal/telegram"
	"github.com/rewired-gh/quakesentinel/internal/whatsapp"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
	issueToken = flag.String("issue-token", "", "Print a JWT for the given role (e.g. admin) and exit")
	tokenTTL   = flag.Duration("token-ttl", 24*time.Hour, "Lifetime of a token printed by -issue-token")
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if *issueToken != "" {
		token, err := auth.IssueJWT([]byte(cfg.Server.JWTSecret), "cli", *issueToken, *tokenTTL)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	// Setup logging with level support
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	logger.Info("Configuration loaded from %s", *configPath)

	// Initialize storage
	store, err := openStore(cfg.Storage)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	// Settings snapshot: config defaults plus stored overrides
	provider := settings.NewProvider(store, cfg.Settings())
	if err := provider.Refresh(ctx); err != nil {
		logger.Fatal("Failed to load settings: %v", err)
	}
	go provider.Run(ctx, cfg.Pipeline.SettingsRefresh)

	// Delivery transports
	whatsappClient := whatsapp.NewClient(cfg.WhatsApp.APIURL, cfg.WhatsApp.Token, cfg.WhatsApp.Timeout, cfg.WhatsApp.MaxRetries)
	if whatsappClient.Simulated() {
		logger.Warn("WhatsApp gateway not configured, deliveries are simulated")
	}
	transports := []notify.Transport{whatsappClient}

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.OpsChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		transports = append(transports, telegramClient)
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	// Cooldown gate
	gate, closeGate, err := openGate(ctx, cfg, store)
	if err != nil {
		logger.Fatal("Failed to initialize cooldown gate: %v", err)
	}
	defer closeGate()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	dispatchOpts := []notify.Option{notify.WithMaxParallel(cfg.Notifications.MaxParallel)}
	pipelineOpts := []pipeline.Option{
		pipeline.WithWorkers(cfg.Pipeline.Workers, cfg.Pipeline.QueueSize),
		pipeline.WithNotifyVibrations(cfg.Notifications.NotifyVibrations),
	}
	if m != nil {
		dispatchOpts = append(dispatchOpts, notify.WithObserver(m))
		pipelineOpts = append(pipelineOpts, pipeline.WithObserver(m))
	}
	if telegramClient != nil {
		pipelineOpts = append(pipelineOpts, pipeline.WithOpsNotifier(telegramClient))
	}

	estimator := aftershock.New(store)
	dispatcher := notify.NewDispatcher(store, gate, transports, dispatchOpts...)
	pipe := pipeline.New(classifier.New(store), estimator, dispatcher, store, provider, pipelineOpts...)
	pipe.Start(ctx)

	// Sensor ingestion over MQTT
	var subscriber *mqtt.Subscriber
	if cfg.MQTT.Enabled {
		subscriber = mqtt.NewSubscriber(cfg.MQTT, pipe)
		if err := subscriber.Start(ctx); err != nil {
			logger.Fatal("Failed to start MQTT subscriber: %v", err)
		}
	}

	// HTTP server
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	deps := api.Deps{
		Store:      store,
		Ingester:   pipe,
		Estimator:  estimator,
		Stats:      stats.New(store),
		Settings:   provider,
		TestSender: whatsappClient,
		JWTSecret:  []byte(cfg.Server.JWTSecret),
	}
	if m != nil {
		deps.Metrics = m.Handler()
	}
	if cfg.Server.JWTSecret == "" {
		logger.Warn("server.jwt_secret is empty, admin routes are unavailable")
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Info("HTTP server listening on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed: %v", err)
			cancel()
		}
	}()

	logger.Info("Starting quakesentinel (threshold: %.2f m/s², cooldown: %dm, workers: %d, cooldown backend: %s)",
		provider.Snapshot().EarthquakeThreshold,
		provider.Snapshot().CooldownMinutes(),
		cfg.Pipeline.Workers,
		cfg.Notifications.CooldownBackend,
	)

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown: %v", err)
	}
	if subscriber != nil {
		subscriber.Stop()
	}
	pipe.Stop()
	logger.Info("Service stopped")
}

func openStore(cfg config.StorageConfig) (storage.Store, error) {
	if cfg.Driver == "memory" {
		logger.Warn("Using in-memory storage, data is lost on restart")
		return storage.NewMemoryStore(), nil
	}
	if cfg.Driver == "sqlite" && cfg.DSN != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	return storage.NewSQLStore(cfg.Driver, cfg.DSN, cfg.MaxOpenConns)
}

func openGate(ctx context.Context, cfg *config.Config, store storage.Store) (notify.Gate, func(), error) {
	if cfg.Notifications.CooldownBackend != "redis" {
		return notify.NewStoreGate(store), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
	}
	logger.Info("Using Redis cooldown gate at %s", cfg.Redis.Addr)
	return notify.NewRedisGate(client, cfg.Redis.KeyPrefix), func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close redis client: %v", err)
		}
	}, nil
}
