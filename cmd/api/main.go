package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"prank-platform/db/migrations"
	"prank-platform/internal/audit"
	"prank-platform/internal/auth"
	"prank-platform/internal/callerid"
	"prank-platform/internal/calls"
	"prank-platform/internal/config"
	"prank-platform/internal/consumption"
	"prank-platform/internal/httpapi"
	"prank-platform/internal/lifecycle"
	"prank-platform/internal/metrics"
	"prank-platform/internal/queue"
	"prank-platform/internal/reporting"
	"prank-platform/internal/telephony"
	"prank-platform/internal/transcript"
	"prank-platform/internal/wallet"
	"prank-platform/pkg/logger"
	"prank-platform/pkg/utils"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New("prank-api", cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	errorReporter := initSentry(cfg.Sentry, log)
	if errorReporter != nil {
		defer sentry.Flush(2 * time.Second)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, utils.DriverPgx, cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := utils.Migrate(rootCtx, db, migrations.Files); err != nil {
		log.Error("migrations failed", "err", err)
		os.Exit(1)
	}

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Storage
	jobs := calls.NewPostgresRepo(db)
	identities := callerid.NewPostgresRepo(db)
	entries := queue.NewPostgresRepo(db)
	credits := wallet.NewPostgresStore(db)
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))

	// Lifecycle collaborators
	pool := callerid.NewPool(identities)
	promoter := queue.NewPromoter(entries, pool, queue.NewHTTPInitiator(cfg.Initiator.URL, cfg.Initiator.Timeout))
	promoter.MaxPerRelease = cfg.Queue.MaxPromotionsPerRelease
	walletSvc := wallet.NewService(credits)
	rules := consumption.NewCachedRules(rdb, consumption.NewSettingsRules(db), cfg.Settings.CacheTTL)
	engine := consumption.NewEngine(rules, walletSvc, jobs)

	dispatcher := lifecycle.NewDispatcher(jobs, transcript.NewAggregator(jobs), pool, promoter, engine)
	dispatcher.Audit = auditSvc
	dispatcher.Metrics = m
	dispatcher.Guard = lifecycle.NewRedisReportGuard(rdb, cfg.Webhook.ReportLeaseTTL)
	if errorReporter != nil {
		dispatcher.Errors = errorReporter
	}

	deps := routeDeps{
		authMW:  auth.RequireAccessToken(authManager),
		limiter: httpapi.NewRateLimiter(cfg.Ops.RateLimitPerMinute, cfg.Ops.RateLimitBurst),
		metrics: m,
		db:      db,
		webhook: telephony.WebhookHandler{
			Dispatcher:   dispatcher,
			Secret:       cfg.Webhook.Secret,
			MaxBodyBytes: cfg.Webhook.MaxBodyBytes,
			Metrics:      m,
		},
		api: httpapi.Handlers{
			Calls:    jobs,
			Audit:    auditSvc,
			Pool:     pool,
			Promoter: promoter,
			Wallet:   walletSvc,
			Reports:  reporting.NewService(jobs),
		},
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(m.Middleware())
	registerRoutes(r, deps)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}

// initSentry returns nil when error reporting is disabled or fails to start.
func initSentry(cfg config.SentryConfig, log *slog.Logger) *sentry.Hub {
	if cfg.DSN == "" {
		log.Info("sentry disabled (no DSN configured)")
		return nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		AttachStacktrace: true,
	})
	if err != nil {
		log.Warn("sentry init failed", "err", err)
		return nil
	}
	log.Info("sentry initialized", "environment", cfg.Environment)
	return sentry.CurrentHub()
}
