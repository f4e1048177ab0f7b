package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loomworks/loom-go/internal/engine"
	"github.com/loomworks/loom-go/internal/platform/auth"
	"github.com/loomworks/loom-go/internal/platform/httpserver"
	"github.com/loomworks/loom-go/internal/platform/objectstore"
	"github.com/loomworks/loom-go/internal/platform/postgres"
	"github.com/loomworks/loom-go/internal/platform/ratelimit"
	repopg "github.com/loomworks/loom-go/internal/repo/postgres"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadServiceConfig()
	if err != nil {
		logger.Error("invalid service config", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	engineCfg, err := engine.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid engine config", "error", err)
		os.Exit(2)
	}
	engineAPI, err := engine.NewClient(engineCfg)
	if err != nil {
		logger.Error("engine client init failed", "error", err)
		os.Exit(2)
	}

	users := repopg.NewUserStore(db)
	apps := repopg.NewAppStore(db)
	providers := repopg.NewProviderStore(db)
	keys := repopg.NewKeyStore(db)
	datasets := repopg.NewDatasetStore(db)
	dataSources := repopg.NewDataSourceStore(db)
	clones := repopg.NewCloneStore(db)

	sessionCfg, err := auth.SessionConfigFromEnv()
	if err != nil {
		logger.Error("invalid session config", "error", err)
		os.Exit(2)
	}
	sessions, err := auth.NewSessionService(ctx, sessionCfg, users, logger)
	if err != nil {
		logger.Error("oidc init failed", "error", err)
		os.Exit(1)
	}
	loginHandler, err := sessions.LoginHandler()
	if err != nil {
		logger.Error("invalid oidc login config", "error", err)
		os.Exit(2)
	}
	callbackHandler, err := sessions.CallbackHandler()
	if err != nil {
		logger.Error("invalid oidc callback config", "error", err)
		os.Exit(2)
	}

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	var archive *objectstore.Archive
	if storeCfg.Enabled() {
		storeClient, err := objectstore.NewMinIOClient(storeCfg)
		if err != nil {
			logger.Error("object store client init failed", "error", err)
			os.Exit(2)
		}
		startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := objectstore.EnsureBucket(startupCtx, storeClient, storeCfg); err != nil {
			cancel()
			logger.Error("object store unavailable", "error", err)
			os.Exit(1)
		}
		cancel()
		archive = objectstore.NewArchive(storeClient, storeCfg)
	}

	api := &frontAPI{
		logger:      logger,
		users:       users,
		apps:        apps,
		providers:   providers,
		keys:        keys,
		datasets:    datasets,
		dataSources: dataSources,
		clones:      clones,
		engine:      engineAPI,
		sessions:    sessions,
		keyAuth:     &auth.KeyAuthenticator{Keys: keys, Users: users},
		archive:     archive,
		runLimiter:  ratelimit.New(cfg.RunRate, cfg.RunBurst),
		audit:       db,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("front"))
	mux.HandleFunc(
		"/readyz",
		httpserver.Readyz(
			"front",
			httpserver.ReadinessCheck{
				Name:  "postgres",
				Check: httpserver.WithTimeout(750*time.Millisecond, db.PingContext),
			},
		),
	)
	mux.HandleFunc("GET /auth/login", loginHandler)
	mux.HandleFunc("GET /auth/callback", callbackHandler)
	mux.HandleFunc("POST /auth/logout", sessions.LogoutHandler())
	api.register(mux)

	handler := httpserver.Wrap(logger, "front", mux)

	serverCfg := httpserver.Config{
		Service:         "front",
		Addr:            cfg.Addr,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}
	if err := httpserver.Run(ctx, logger, serverCfg, handler); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}
