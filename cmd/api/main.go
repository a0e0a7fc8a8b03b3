package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"journal/api/internal/app"
	"journal/api/internal/archive"
	"journal/api/internal/config"
	"journal/api/internal/export"
	"journal/api/internal/history"
	"journal/api/internal/journal"
	"journal/api/internal/logger"
	"journal/api/internal/ratelimit"
	"journal/api/internal/reflection"
	"journal/api/internal/search"
	"journal/api/internal/session"
	"journal/api/internal/store"
)

const tokenPurgeInterval = time.Hour

func main() {
	cfg := config.Load()
	log := logger.New(logger.Config{Format: cfg.LogFormat, Level: cfg.LogLevel})
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("journal api stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL, store.DefaultPoolOptions())
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
		return err
	}

	dataStore := store.NewPostgresStore(db)
	journalService := journal.NewService(journal.NewPostgres(dataStore))

	var sessions app.SessionStore = dataStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisStore.Close()
		sessions = redisStore
		log.Info("refresh sessions in redis")
	} else {
		log.Info("refresh sessions in postgres")
	}

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts, log)

	deps := app.Deps{
		Accounts: dataStore,
		Sessions: sessions,
		Journal:  journalService,
		Search:   searchService,
		History:  history.New(cfg.HistoryDir),
		Export:   export.NewService(journalService),
		Logger:   log,
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		archiver, err := archive.NewMinio(archive.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return err
		}
		deps.Archive = archiver
	}

	limiter := ratelimit.New(cfg.ReflectionRPS, cfg.ReflectionBurst, 10*time.Minute)
	defer limiter.Stop()
	var generator reflection.Generator
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		client, err := reflection.NewOpenAI(reflection.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
		})
		if err != nil {
			return err
		}
		generator = client
		log.Info("reflection enabled", "model", client.Model())
	} else {
		log.Warn("OPENAI_API_KEY not set, reflection requests will fail")
	}
	deps.Reflection = reflection.NewService(dataStore, generator, limiter, log)

	service := app.New(cfg, deps)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go purgeExpiredTokens(ctx, dataStore, log)

	errCh := make(chan error, 1)
	go func() {
		log.Info("journal api listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	searchService.Close()
	log.Info("journal api stopped")
	return nil
}

func purgeExpiredTokens(ctx context.Context, dataStore *store.PostgresStore, log *slog.Logger) {
	ticker := time.NewTicker(tokenPurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := dataStore.PurgeExpiredTokens(ctx)
			if err != nil {
				log.Warn("purge expired tokens failed", "error", err)
				continue
			}
			if removed > 0 {
				log.Info("purged expired tokens", "rows", removed)
			}
		}
	}
}
