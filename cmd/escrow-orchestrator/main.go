// Command escrow-orchestrator wires the transaction store, custody adapter,
// audit log, cache, resilience registry, workflow engine, and orchestrator
// façade into one process, and exposes the ambient operational surface
// (health, readiness, metrics, and the custody webhook and engine-dispatch
// endpoints) described in SPEC_FULL.md §6, plus a thin JSON API over the
// orchestrator façade under /v1/transactions (handlers.go). The full
// transaction/task/settlement REST API is not part of this process.
package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ycagentic/escrow-orchestrator/internal/config"
	"github.com/ycagentic/escrow-orchestrator/internal/database"
	"github.com/ycagentic/escrow-orchestrator/internal/encryption"
	"github.com/ycagentic/escrow-orchestrator/internal/errors"
	"github.com/ycagentic/escrow-orchestrator/internal/hotreload"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/audit"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/cache"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/custody"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/engine"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/orchestrator"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/resilience"
	"github.com/ycagentic/escrow-orchestrator/pkg/escrow/store"
)

func main() {
	if err := run(); err != nil {
		zap.L().Fatal("escrow-orchestrator exited", zap.Error(err))
	}
}

func run() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level, logger := buildLogger(cfg.Logging)
	defer logger.Sync() //nolint:errcheck

	tp, err := buildTracerProvider()
	if err != nil {
		return err
	}
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background()) //nolint:errcheck

	dbConfig := database.DefaultConfig()
	dbConfig.LoadFromEnv()
	if cfg.Store.MaxOpenConns > 0 {
		dbConfig.MaxOpenConns = cfg.Store.MaxOpenConns
	}
	db, err := database.Connect(dbConfig, logger)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck

	transactionStore, err := newTransactionStore(db, cfg.Security.EncryptionKey, logger)
	if err != nil {
		return err
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Cache.Addr})
	defer redisClient.Close() //nolint:errcheck
	escrowCache := cache.New(redisClient, cache.WithTTLs(cache.TTLs{
		Transaction: cfg.Cache.TransactionTTL,
		Report:      cfg.Cache.ReportTTL,
		Workflow:    cfg.Cache.WorkflowTTL,
	}))

	custodyAdapter := custody.NewHTTPAdapter(cfg.Custody.Endpoint, cfg.Custody.WebhookSecret, cfg.Custody.Timeout)
	auditSink := audit.NewHTTPSink(cfg.AuditSink.Endpoint, cfg.AuditSink.Timeout)
	auditLog := audit.New(transactionStore, auditSink)
	reconciler := audit.NewReconciler(auditLog, cfg.AuditSink.ReconcileInterval, 50, logger)

	breakers := resilience.NewRegistry(breakerConfigs(cfg.Resilience), logger)

	orch := orchestrator.New(transactionStore, custodyAdapter, auditLog, escrowCache, breakers, logger)
	verificationEngine := engine.New(transactionStore, escrowCache, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go reconciler.Run(ctx)

	watcher := hotreload.New(configPath, func(reloaded *config.Config) {
		level.SetLevel(parseLevel(reloaded.Logging.Level))
		breakers.Rebuild(breakerConfigs(reloaded.Resilience))
		escrowCache.SetTTLs(cache.TTLs{
			Transaction: reloaded.Cache.TransactionTTL,
			Report:      reloaded.Cache.ReportTTL,
			Workflow:    reloaded.Cache.WorkflowTTL,
		})
	}, logger)
	go func() {
		if err := watcher.Run(ctx); err != nil {
			logger.Warn("config watcher stopped", zap.Error(err))
		}
	}()

	router := newRouter(db, redisClient, custodyAdapter, verificationEngine, orch, logger)

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: otelhttp.NewHandler(router, "escrow-orchestrator"),
	}
	metricsServer := &http.Server{
		Addr:    ":" + cfg.Server.MetricsPort,
		Handler: promhttp.Handler(),
	}

	errs := make(chan error, 2)
	go func() { errs <- server.ListenAndServe() }()
	go func() { errs <- metricsServer.ListenAndServe() }()

	logger.Info("escrow-orchestrator started",
		zap.String("port", cfg.Server.Port),
		zap.String("metrics_port", cfg.Server.MetricsPort))

	select {
	case <-ctx.Done():
	case err := <-errs:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)

	logger.Info("escrow-orchestrator stopped")
	return nil
}

// newTransactionStore wires metadata encryption into the store when
// ENCRYPTION_KEY is set. In production APP_ENV it is mandatory; elsewhere a
// missing key only disables encryption, matching the original key
// management service's local-development fallback.
func newTransactionStore(db *sqlx.DB, encryptionKey string, logger *zap.Logger) (*store.Store, error) {
	if encryptionKey == "" {
		if os.Getenv("APP_ENV") == "production" {
			return nil, errors.New(errors.ErrorTypeInternal, "ENCRYPTION_KEY must be set in production")
		}
		logger.Warn("encryption_key_not_set_metadata_will_be_stored_plaintext")
		return store.New(db), nil
	}

	cipher, err := encryption.NewCipher(encryptionKey)
	if err != nil {
		return nil, err
	}
	return store.NewWithCipher(db, cipher), nil
}

func breakerConfigs(cfg config.ResilienceConfig) []resilience.BreakerConfig {
	return []resilience.BreakerConfig{
		{Name: "custody", FailureThreshold: uint32(cfg.CustodyFailureThreshold), RecoveryTimeout: cfg.CustodyRecoveryTimeout},
		{Name: "audit_sink", FailureThreshold: uint32(cfg.AuditSinkFailureThreshold), RecoveryTimeout: cfg.AuditSinkRecoveryTimeout},
		{Name: "notification", FailureThreshold: uint32(cfg.NotificationFailureThreshold), RecoveryTimeout: cfg.NotificationRecoveryTimeout},
	}
}

func parseLevel(name string) zapcore.Level {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return zapcore.InfoLevel
	}
	return level
}

func buildLogger(cfg config.LoggingConfig) (zap.AtomicLevel, *zap.Logger) {
	atomicLevel := zap.NewAtomicLevelAt(parseLevel(cfg.Level))

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), atomicLevel)
	logger := zap.New(core, zap.AddCaller())
	zap.ReplaceGlobals(logger)
	return atomicLevel, logger
}

// buildTracerProvider builds a stdouttrace exporter whose writer is
// io.Discard, so spans are recorded but not written anywhere. A production
// deployment would point an OTLP exporter at a collector instead;
// stdouttrace keeps this entrypoint dependency-free of any particular
// collector endpoint.
func buildTracerProvider() (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(io.Discard))
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter)), nil
}

func newRouter(db interface{ Ping() error }, redisClient *redis.Client, custodyAdapter custody.Adapter, verificationEngine *engine.Engine, orch *orchestrator.Orchestrator, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}))

	mountOrchestratorRoutes(router, orch)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if err := redisClient.Ping(r.Context()).Err(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	router.Post("/webhooks/custody", custodyWebhookHandler(custodyAdapter, logger))

	router.Route("/internal/transactions/{transactionID}/engine", func(r chi.Router) {
		r.Post("/run", engineRunHandler(verificationEngine))
		r.Get("/deadlines", engineDeadlinesHandler(verificationEngine))
	})

	return router
}

// custodyWebhookHandler verifies the HMAC-SHA-256 signature on an inbound
// custody event and logs it; per §6, webhooks are treated only as a hint to
// re-read the adapter's authoritative state, never acted on directly, so
// this handler does nothing beyond acknowledging a verified delivery.
func custodyWebhookHandler(adapter custody.Adapter, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read webhook body", http.StatusBadRequest)
			return
		}
		signature := r.Header.Get("X-Custody-Signature")
		if !adapter.VerifyWebhookSignature(body, signature) {
			http.Error(w, "invalid webhook signature", http.StatusUnauthorized)
			return
		}

		var payload map[string]interface{}
		if err := json.Unmarshal(body, &payload); err != nil {
			http.Error(w, "invalid webhook payload", http.StatusBadRequest)
			return
		}
		logger.Info("custody webhook received", zap.Any("payload", payload))
		w.WriteHeader(http.StatusAccepted)
	}
}

// engineRunHandler drives one round of automated task dispatch for a
// transaction's executable frontier — an operational trigger for the
// automated-verification path, distinct from the orchestrator's
// externally-reported ProcessVerificationCompletion.
func engineRunHandler(e *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		transactionID := chi.URLParam(r, "transactionID")
		reports, err := e.ExecuteParallelTasks(r.Context(), transactionID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(reports)
	}
}

func engineDeadlinesHandler(e *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		transactionID := chi.URLParam(r, "transactionID")
		overdue, err := e.CheckDeadlines(r.Context(), transactionID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(overdue)
	}
}
