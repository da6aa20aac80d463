package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"chat-escalation-engine/pkg/config"
	"chat-escalation-engine/pkg/engine"
	"chat-escalation-engine/pkg/events"
	"chat-escalation-engine/pkg/metrics"
	"chat-escalation-engine/pkg/redisclient"
	"chat-escalation-engine/pkg/server"
	"chat-escalation-engine/pkg/store"
	"chat-escalation-engine/pkg/template"
)

func main() {
	// Local development convenience: a missing .env is not an error.
	_ = godotenv.Load()

	// Load configuration
	cfg := config.Load()

	// Setup logger
	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithField("instance_id", cfg.InstanceID).Info("Starting chat escalation engine")

	// Initialize metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	// Templates and vocabulary, optionally overlaid from a YAML file
	templates := template.NewDefault()
	if cfg.TemplatesPath != "" {
		loaded, err := template.LoadFile(cfg.TemplatesPath)
		if err != nil {
			logger.WithError(err).WithField("path", cfg.TemplatesPath).Fatal("Failed to load templates")
		}
		templates = loaded
	}

	// Session storage: Redis when configured, in-memory otherwise
	var sessionStore store.SessionStore
	if cfg.RedisURL != "" {
		redisConfig := redisclient.DefaultConnectionConfig()
		redisConfig.URL = cfg.RedisURL

		rdb, err := redisclient.Connect(redisConfig, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer rdb.Close()
		sessionStore = store.NewRedisStore(rdb, logger, m)
	} else {
		logger.Warn("REDIS_URL not set, using in-memory storage")
		sessionStore = store.NewMemoryStore()
	}

	// Event producer: Kafka when brokers are configured, no-op otherwise
	var producer events.Producer = events.NopProducer{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopicEvent, logger)
		defer kp.Close()
		producer = kp
	}

	operators := engine.StaticDirectory{IDs: onlineOperators()}

	eng := engine.New(cfg, logger, m, engine.Deps{
		Store:     sessionStore,
		Templates: templates,
		Operators: operators,
		Events:    producer,
	})

	srv := server.New(cfg, logger, eng, registry)

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start engine")
	}
	if err := srv.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start HTTP server")
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Info("Received shutdown signal")

	// Graceful shutdown: stop accepting traffic, then drain state
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Error during HTTP server shutdown")
	}
	if err := eng.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Error during engine shutdown")
	}

	logger.Info("Chat escalation engine shutdown complete")
}

func onlineOperators() []string {
	raw := os.Getenv("OPERATORS_ONLINE")
	if raw == "" {
		return nil
	}
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	return ids
}
