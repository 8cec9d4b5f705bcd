package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.io/infrasutra/cwmail/internal/config"
	"github.io/infrasutra/cwmail/internal/guard"
	"github.io/infrasutra/cwmail/internal/mailapi"
	"github.io/infrasutra/cwmail/internal/session"
	"github.io/infrasutra/cwmail/internal/store"
	"github.io/infrasutra/cwmail/internal/submission"
	"github.io/infrasutra/cwmail/internal/web"
)

const purgeEvery = time.Hour

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	ctx := context.Background()
	db, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		logger.Error("ensure schema", "error", err)
		os.Exit(1)
	}

	sessions, err := session.New(cfg.AuthSecret, cfg.SessionMaxAge, db)
	if err != nil {
		logger.Error("init sessions", "error", err)
		os.Exit(1)
	}
	sessions.SecureCookies(cfg.CookieSecure)
	if cfg.AuthSecret == "" {
		logger.Warn("AUTH_SECRET not set; sessions reset on restart")
	}

	client := mailapi.New(cfg.APIBaseURL, &http.Client{Timeout: cfg.APITimeout}, logger)
	verifier, err := guard.NewVerifier(cfg.SessionVerify, client)
	if err != nil {
		logger.Error("init session verification", "error", err)
		os.Exit(1)
	}
	routeGuard := guard.New(sessions, verifier, logger)

	webServer, err := web.NewServer(cfg, client, sessions, routeGuard, db, logger)
	if err != nil {
		logger.Error("init web server", "error", err)
		os.Exit(1)
	}

	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           webServer,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var submissionSrv *submission.Server
	if cfg.SubmissionEnabled {
		submissionSrv = submission.New(client, logger, fmt.Sprintf(":%d", cfg.SubmissionPort))
		go func() {
			if err := submissionSrv.ListenAndServe(); err != nil {
				logger.Error("submission server stopped", "error", err)
			}
		}()
	}

	go func() {
		logger.Info("http server listening", "addr", httpAddr, "api", cfg.APIBaseURL, "session_verify", cfg.SessionVerify)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
		}
	}()

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		purgeSessions(janitorCtx, db, cfg.SessionMaxAge, logger)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	stopJanitor()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("shutdown http", "error", err)
	}
	if submissionSrv != nil {
		if err := submissionSrv.Close(); err != nil {
			logger.Error("shutdown submission", "error", err)
		}
	}
	wg.Wait()
}

// purgeSessions deletes sessions idle for longer than maxAge until ctx is
// done.
func purgeSessions(ctx context.Context, db *store.Store, maxAge time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(purgeEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := db.PurgeSessions(ctx, now.Add(-maxAge))
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.Warn("purge sessions", "error", err)
				}
				continue
			}
			if removed > 0 {
				logger.Info("purged idle sessions", "count", removed)
			}
		}
	}
}
