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

	"dialer-platform/internal/audit"
	"dialer-platform/internal/auth"
	"dialer-platform/internal/calls"
	"dialer-platform/internal/campaigns"
	"dialer-platform/internal/config"
	"dialer-platform/internal/contacts"
	"dialer-platform/internal/dialer"
	"dialer-platform/internal/events"
	"dialer-platform/internal/httpapi"
	"dialer-platform/internal/telephony"
	"dialer-platform/internal/transfer"
	"dialer-platform/pkg/logger"
	"dialer-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
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

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	// Redis is an accelerator, not a dependency: the cross-instance
	// concurrency cap and the DNC fast path degrade to postgres-only
	// behavior without it.
	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Warn("redis unavailable, continuing without fast paths", "err", err)
		rdb = nil
	} else {
		defer rdb.Close()
	}

	bus := events.NewBus()
	hub := events.NewHub(bus, logger.Component(log, "events"))
	go hub.Run(rootCtx)

	campaignStore := campaigns.NewStore(db)
	contactStore := contacts.NewStore(db)
	callStore := calls.NewStore(db)

	resources, err := transfer.LoadResources(rootCtx, db)
	if err != nil {
		log.Error("transfer resource load failed", "err", err)
		os.Exit(1)
	}
	pool := transfer.NewPool(resources, logger.Component(log, "transfer"))
	log.Info("transfer pool loaded", "resources", len(resources), "routing_keys", len(pool.Keys()))

	dncCache := contacts.NewDNCCache(rdb, contactStore, logger.Component(log, "dnc"))

	cache := campaigns.NewCache(campaignStore, bus, logger.Component(log, "campaigns"))
	if rdb != nil {
		cache.WithRedisCap(rdb, cfg.Dialer.CapTTL)
	}

	auditService := audit.NewService(audit.NewPostgresRepo(db))

	tracker := calls.NewTracker(
		callStore, contactStore, cache, pool, dncCache, auditService, bus,
		logger.Component(log, "tracker"), cfg.Dialer.DisallowDigit,
	)

	provider := &telephony.SIPProvider{
		GatewayAddr:  cfg.SIP.GatewayAddr,
		CallerDomain: cfg.SIP.CallerDomain,
	}

	stats := dialer.NewStats()
	engine := dialer.NewEngine(
		cfg.Dialer, cache, contactStore, callStore, campaignStore,
		provider, tracker, dncCache, bus, stats,
		logger.Component(log, "engine"),
	)
	direct := dialer.NewDirectDispatch(
		campaignStore, contactStore, callStore,
		provider, tracker, bus, stats, cfg.Dialer.MaxRetries,
		logger.Component(log, "direct"),
	)

	ping := func(ctx context.Context) error {
		return utils.HealthCheck(ctx, db, 5*time.Second)
	}
	supervisor := dialer.NewSupervisor(
		cfg.Dialer, engine, direct, cache, tracker, pool, bus, ping,
		logger.Component(log, "supervisor"),
	)
	if err := supervisor.Start(rootCtx); err != nil {
		log.Error("supervisor start failed", "err", err)
		os.Exit(1)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		handlers: httpapi.Handlers{
			Auth:       authManager,
			Supervisor: supervisor,
			Cache:      cache,
			Tracker:    tracker,
			Pool:       pool,
			Stats:      stats,
			Engine:     engine,
			Bus:        bus,
			Hub:        hub,
			Audit:      auditService,
		},
		authManager: authManager,
		hub:         hub,
		webhooks:    telephony.WebhookHandler{Signals: tracker},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("dialer listening", "addr", srv.Addr, "env", cfg.App.Env)
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

	// Stop dispatch after the HTTP surface drains so in-flight webhook
	// signals still reach the tracker.
	supervisor.Stop()
}
