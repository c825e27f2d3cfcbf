package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	_ "github.com/jackc/pgx/v5/stdlib"

	audittrailhandler "cardgate/internal/audittrail/handler"
	"cardgate/internal/form"
	formhandler "cardgate/internal/form/handler"
	formservice "cardgate/internal/form/service"
	"cardgate/internal/instance"
	instancehandler "cardgate/internal/instance/handler"
	instanceservice "cardgate/internal/instance/service"
	"cardgate/internal/issuance"
	issuancehandler "cardgate/internal/issuance/handler"
	issuanceservice "cardgate/internal/issuance/service"
	"cardgate/internal/platform/config"
	"cardgate/internal/platform/httpserver"
	"cardgate/internal/platform/logger"
	"cardgate/internal/platform/metrics"
	"cardgate/internal/platform/middleware"
	"cardgate/internal/platform/ratelimit"
	platformredis "cardgate/internal/platform/redis"
	"cardgate/internal/schema"
	"cardgate/internal/token"
	"cardgate/internal/verify"
	verifyhandler "cardgate/internal/verify/handler"
	audit "cardgate/pkg/platform/audit"
	"cardgate/pkg/platform/audit/publisher"
	auditmem "cardgate/pkg/platform/audit/store/memory"
	auditpg "cardgate/pkg/platform/audit/store/postgres"
	"cardgate/pkg/platform/tx"
)

// main wires the stores, services, and HTTP surface. Business rules live in
// the internal service packages; everything here is plumbing.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.New()
	appMetrics := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Store wiring: postgres when DATABASE_URL is set, memory otherwise.
	var (
		forms     form.Store
		instances instance.Store
		issuances issuance.Store
		auditor   audit.Store
		runner    tx.Runner
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			log.Error("open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Error("ping database", "error", err)
			os.Exit(1)
		}
		forms = form.NewPostgresStore(db)
		instances = instance.NewPostgresStore(db)
		issuances = issuance.NewPostgresStore(db)
		auditor = auditpg.New(db)
		runner = newPostgresRunner(db)
		log.Info("using postgres stores")
	} else {
		memForms := form.NewInMemoryStore()
		forms = memForms
		instances = instance.NewInMemoryStore(memForms)
		issuances = issuance.NewInMemoryStore()
		auditor = auditmem.NewInMemoryStore()
		runner = tx.NewMutexRunner()
		log.Info("using in-memory stores")
	}

	// Optional Kafka mirror for audit entries.
	if len(cfg.KafkaBrokers) > 0 {
		kafkaClient, err := kgo.NewClient(
			kgo.SeedBrokers(cfg.KafkaBrokers...),
			kgo.DefaultProduceTopic(cfg.AuditTopic),
		)
		if err != nil {
			log.Error("kafka client", "error", err)
			os.Exit(1)
		}
		mirror := publisher.New(auditor, kafkaClient, cfg.AuditTopic, log)
		defer mirror.Close()
		auditor = mirror
		log.Info("audit mirror enabled", "topic", cfg.AuditTopic)
	}

	// Optional Redis-backed rate limit on the public verification endpoint.
	var verifyLimiter func(http.Handler) http.Handler
	redisClient, err := platformredis.New(ctx, cfg.RedisURL)
	if err != nil {
		log.Error("redis client", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		limiter := ratelimit.New(redisClient.Client, cfg.VerifyRateLimit, cfg.VerifyRateWindow, "cardgate:verify", log)
		verifyLimiter = limiter.Middleware
		log.Info("verify rate limit enabled", "limit", cfg.VerifyRateLimit, "window", cfg.VerifyRateWindow)
	}

	validator := schema.NewJSONSchemaValidator()
	tokens := token.NewService(cfg.JWTSigningKey, "cardgate")

	formSvc := formservice.New(forms, validator, auditor, runner)
	instanceSvc := instanceservice.New(instances, forms, validator, auditor, runner)
	issuanceSvc := issuanceservice.New(issuances, instances, auditor, runner)
	verifySvc := verify.New(instances, issuances, auditor, log)

	router := chi.NewRouter()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestID)
	router.Use(middleware.ClientMetadata)
	router.Use(middleware.Logger(log))
	router.Use(middleware.Timeout(30 * time.Second))

	formhandler.New(formSvc, log, appMetrics, tokens, cfg.SystemKey).Register(router)
	instancehandler.New(instanceSvc, log, appMetrics, tokens).Register(router)
	issuancehandler.New(issuanceSvc, log, appMetrics, tokens).Register(router)
	audittrailhandler.New(auditor, log, tokens).Register(router)
	verifyhandler.New(verifySvc, log, appMetrics, verifyLimiter).Register(router)

	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := httpserver.New(cfg.Addr, router)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("starting cardgate", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
