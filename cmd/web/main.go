package main

import (
	"context"
	"embed"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"banana-tryon/internal/config"
	"banana-tryon/internal/gemini"
	"banana-tryon/internal/httpclient"
	"banana-tryon/internal/imagecodec"
	"banana-tryon/internal/library"
	"banana-tryon/internal/storage"
	"banana-tryon/internal/webapi"
	"banana-tryon/internal/wizard"
)

//go:embed static/*
var staticFS embed.FS

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4: cfg.PreferIPv4,
		Timeout:    cfg.HTTPTimeout,
	})

	backend, err := gemini.OpenBackend(ctx, gemini.BackendConfig{
		Transport:  cfg.GeminiTransport,
		APIKey:     cfg.GeminiAPIKey,
		BaseURL:    cfg.GeminiBaseURL,
		APIVersion: cfg.GeminiAPIVersion,
		HTTPClient: httpClient,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("gemini backend init failed", "err", err)
		os.Exit(1)
	}
	if c, ok := backend.(io.Closer); ok {
		defer c.Close()
	}
	if cfg.GeminiAPIKey == "" {
		logger.Warn("GEMINI_API_KEY is not set, generation calls will be rejected")
	}

	gem := gemini.New(gemini.Options{
		Backend: backend,
		Model:   cfg.GeminiModel,
		Logger:  logger,
	})

	store, err := storage.Open(ctx, storage.Config{
		Backend:         cfg.StorageBackend,
		Dir:             cfg.DataDir,
		RedisAddr:       cfg.RedisAddr,
		RedisPassword:   cfg.RedisPassword,
		RedisDB:         cfg.RedisDB,
		MongoURI:        cfg.MongoURI,
		MongoDatabase:   cfg.MongoDatabase,
		MongoCollection: cfg.MongoCollection,
		S3Bucket:        cfg.S3Bucket,
		S3Prefix:        cfg.S3Prefix,
		AWSRegion:       cfg.AWSRegion,
		Logger:          logger,
	})
	if err != nil {
		logger.Error("storage init failed", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	lib := library.New(library.Options{
		Backend:  store,
		MaxItems: cfg.MaxLibraryItems,
		Logger:   logger,
	})
	lib.Load(ctx)

	wiz := wizard.New(wizard.Options{
		Generator:     gem,
		Library:       lib,
		Remote:        imagecodec.NewFetcher(httpClient),
		PresetPersons: library.Presets(library.PrefixPresetPerson, cfg.PresetPersonURLs),
		PresetCloths:  library.Presets(library.PrefixPresetCloth, cfg.PresetClothURLs),
		Logger:        logger,
	})

	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}

	api := webapi.New(webapi.Options{
		Wizard:         wiz,
		History:        lib,
		MaxUploadBytes: cfg.MaxUploadBytes,
		RequestTimeout: cfg.RequestTimeout,
		Static:         staticSub,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:              cfg.WebAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("web started",
		"addr", cfg.WebAddr,
		"storage", cfg.StorageBackend,
		"transport", cfg.GeminiTransport,
		"persons", len(lib.Persons()),
		"cloths", len(lib.Cloths()),
		"history", len(lib.History()),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
	logger.Info("web stopped")
}

func newLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}
