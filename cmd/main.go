package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/flow-orchestrator/internal/api"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/config"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/dedup"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/flow"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/gateway"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/interfaces"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/normalize"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/ratelimit"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/repository"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/service"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/stream"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/telemetry"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize telemetry
	if err := telemetry.InitTelemetry("flow-orchestrator", cfg.JaegerEndpoint); err != nil {
		panic(fmt.Sprintf("Failed to initialize telemetry: %v", err))
	}
	defer telemetry.Shutdown(context.Background())

	telemetry.Logger.Info("Starting Payment Flow Orchestrator")

	// Fallback policy is validated once here; a bad config never becomes
	// a per-flow error.
	if err := cfg.Fallback.Validate(); err != nil {
		telemetry.Logger.Fatal("Invalid fallback configuration", zap.Error(err))
	}

	// Connect to PostgreSQL
	var (
		persistence flow.PersistenceSink
		store       interfaces.FlowSnapshotRepository
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			telemetry.Logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		repo := repository.NewFlowSnapshotRepository(db)
		if err := repo.InitDB(); err != nil {
			telemetry.Logger.Fatal("Failed to initialize database", zap.Error(err))
		}
		persistence = repository.NewSink(repo)
		store = repo
	} else {
		telemetry.Logger.Warn("DATABASE_URL not set, snapshots are not persisted")
	}

	// Connect to Redis
	var nonceGuard dedup.Guard
	if cfg.RedisURL != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisURL,
		})
		nonceGuard = dedup.NewNonceGuard(redisClient, 24*time.Hour, telemetry.Logger)
	}

	// Telemetry sinks: Prometheus always, Kafka when configured
	sinks := []flow.TelemetrySink{telemetry.PromSink{}}
	if cfg.KafkaBrokers != "" {
		kafkaWriter := &kafka.Writer{
			Addr:     kafka.TCP(cfg.KafkaBrokers),
			Topic:    "payment.flow.events",
			Balancer: &kafka.LeastBytes{},
		}
		defer kafkaWriter.Close()
		sinks = append(sinks, telemetry.NewKafkaSink(kafkaWriter, telemetry.Logger))
	} else {
		sinks = append(sinks, telemetry.ZapSink{Logger: telemetry.Logger})
	}

	// Provider operations, gated by the rate limiter
	ops := gateway.NewMockOps(map[string]*gateway.MockProvider{
		"stripe": {},
		"paypal": {NoFinalize: true},
	})
	limiter := ratelimit.New(cfg.RateLimit, clockz.RealClock)
	guarded := ratelimit.NewGuard(ops, limiter)
	guarded.OnReject = func(endpoint string) {
		telemetry.RateLimitRejections.WithLabelValues(endpoint).Inc()
	}

	// Normalizers, populated at startup and immutable afterwards
	normalizers := normalize.NewRegistry(map[string]normalize.Normalizer{
		"stripe": normalize.StripeNormalizer{},
		"paypal": normalize.PayPalNormalizer{},
	})

	verifier := buildVerifier()

	manager, err := service.NewFlowManager(service.Deps{
		Ops:         guarded,
		PostAuth:    gateway.MockPostAuth{},
		Normalizers: normalizers,
		Telemetry:   sinks,
		Persistence: persistence,
		Store:       store,
		Fallback:    cfg.Fallback,
		Clock:       clockz.RealClock,
		NonceGuard:  nonceGuard,
		Logger:      telemetry.Logger,
		OpTimeout:   cfg.OpTimeout,
	})
	if err != nil {
		telemetry.Logger.Fatal("Failed to initialize flow manager", zap.Error(err))
	}

	// Connect to NATS for out-of-band provider status pushes
	if cfg.NatsURL != "" {
		nc, err := nats.Connect(cfg.NatsURL)
		if err != nil {
			telemetry.Logger.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer nc.Close()

		listener := stream.NewProviderUpdateListener(nc, manager, telemetry.Logger)
		if err := listener.Start(); err != nil {
			telemetry.Logger.Fatal("Failed to subscribe to provider updates", zap.Error(err))
		}
		defer listener.Stop()
	}

	// Setup HTTP server
	r := api.NewRouter(manager, verifier, normalizers)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	// Start server in goroutine
	go func() {
		telemetry.Logger.Info("Flow Orchestrator starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			telemetry.Logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	telemetry.Logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		telemetry.Logger.Error("Server forced to shutdown", zap.Error(err))
	}

	telemetry.Logger.Info("Server exited")
}

func buildVerifier() gateway.WebhookVerifier {
	secrets := map[string]string{
		"stripe": os.Getenv("WEBHOOK_SECRET_STRIPE"),
		"paypal": os.Getenv("WEBHOOK_SECRET_PAYPAL"),
	}
	configured := false
	for _, s := range secrets {
		if s != "" {
			configured = true
		}
	}
	if !configured {
		telemetry.Logger.Warn("No webhook secrets configured, accepting all deliveries")
		return gateway.AllowAllVerifier{}
	}
	return gateway.NewHMACVerifier(secrets)
}
