package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ecocropshare/api/internal/app"
	"ecocropshare/api/internal/config"
	"ecocropshare/api/internal/email"
	"ecocropshare/api/internal/export"
	"ecocropshare/api/internal/gitrepo"
	"ecocropshare/api/internal/log"
	"ecocropshare/api/internal/media"
	"ecocropshare/api/internal/search"
	"ecocropshare/api/internal/session"
	"ecocropshare/api/internal/store"
	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := config.Load()
	log.Init("ecocropshare-api", cfg.LogLevel, cfg.LogJSON)
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Log.WithError(err).Fatal("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Log.WithError(err).Fatal("migrations failed")
	}

	if err := os.MkdirAll(cfg.RevisionsDir, 0o755); err != nil {
		log.Log.WithError(err).Fatal("failed to create revisions dir")
	}

	dataStore := store.NewPostgresStore(db)
	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)

	var service *app.Service
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Log.WithError(err).Warn("redis unavailable, using PostgreSQL for refresh tokens")
			service = app.New(cfg, dataStore)
		} else {
			log.Log.Info("using Redis for refresh token storage")
			defer redisStore.Close()
			service = app.NewWithSessionStore(cfg, dataStore, redisStore)
		}
	} else {
		log.Log.Info("using PostgreSQL for refresh token storage")
		service = app.New(cfg, dataStore)
	}

	service.
		WithSearch(searchService).
		WithRevisions(gitrepo.New(cfg.RevisionsDir)).
		WithEmail(email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		})).
		WithExporter(export.NewService())

	if strings.TrimSpace(cfg.MediaEndpoint) != "" {
		mediaService, err := media.New(ctx, media.Config{
			Endpoint:  cfg.MediaEndpoint,
			AccessKey: cfg.MediaAccessKey,
			SecretKey: cfg.MediaSecretKey,
			Bucket:    cfg.MediaBucket,
			UseSSL:    cfg.MediaUseSSL,
			PublicURL: cfg.MediaPublicURL,
			MaxBytes:  cfg.MaxUploadBytes,
		})
		if err != nil {
			log.Log.WithError(err).Warn("media host unavailable, uploads disabled")
		} else {
			service.WithMedia(mediaService)
		}
	}

	go func() {
		// Give the Meilisearch health loop a moment before the first push.
		time.Sleep(2 * time.Second)
		searchService.ReindexAllFromPG(ctx)
	}()

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Log.WithField("addr", cfg.Addr).Info("EcoCropShare API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Log.WithError(err).Fatal("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Log.WithError(err).Error("shutdown error")
	}
}
