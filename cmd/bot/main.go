package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"banana-tryon/internal/config"
	"banana-tryon/internal/gemini"
	"banana-tryon/internal/handlers"
	"banana-tryon/internal/httpclient"
	"banana-tryon/internal/imagecodec"
	"banana-tryon/internal/library"
	"banana-tryon/internal/mediagroup"
	"banana-tryon/internal/storage"
	"banana-tryon/internal/telegram"
	"banana-tryon/internal/wizard"
)

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

	tg, err := telegram.New(telegram.Options{
		Token:      cfg.TelegramToken,
		HTTPClient: httpClient,
		Logger:     logger,
		Debug:      cfg.TelegramDebug,
	})
	if err != nil {
		logger.Error("telegram init failed", "err", err)
		os.Exit(1)
	}

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

	fetcher := imagecodec.NewFetcher(httpClient)
	presetPersons := library.Presets(library.PrefixPresetPerson, cfg.PresetPersonURLs)
	presetCloths := library.Presets(library.PrefixPresetCloth, cfg.PresetClothURLs)

	// One wizard and one storage namespace per chat.
	wizards := wizard.NewRegistry(func(chatID int64) *wizard.Controller {
		chatLogger := logger.With("chat_id", chatID)
		lib := library.New(library.Options{
			Backend:  storage.WithPrefix(store, fmt.Sprintf("chat:%d:", chatID)),
			MaxItems: cfg.MaxLibraryItems,
			Logger:   chatLogger,
		})

		loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		lib.Load(loadCtx)
		cancel()

		return wizard.New(wizard.Options{
			Generator:     gem,
			Library:       lib,
			Remote:        fetcher,
			PresetPersons: presetPersons,
			PresetCloths:  presetCloths,
			Logger:        chatLogger,
		})
	})

	handler := handlers.New(handlers.Options{
		Telegram: tg,
		Wizards:  wizards,
		Logger:   logger,
	})

	sem := make(chan struct{}, cfg.MaxConcurrent)
	onGroupFlush := func(group mediagroup.Group) {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		go func() {
			defer func() { <-sem }()

			reqCtx, cancel := requestContext(ctx, cfg.RequestTimeout)
			defer cancel()

			handler.HandleMediaGroup(reqCtx, group)
		}()
	}

	aggregator := mediagroup.New(mediagroup.Options{
		Debounce: cfg.MediaGroupDebounce,
		OnFlush:  onGroupFlush,
	})
	handler.SetMediaGroupAggregator(aggregator)

	logger.Info("bot started",
		"username", tg.Username(),
		"storage", cfg.StorageBackend,
		"transport", cfg.GeminiTransport,
		"max_concurrent", cfg.MaxConcurrent,
	)

	updates := tg.Updates(telegram.UpdatesOptions{
		Timeout: 30 * time.Second,
	})
	defer tg.StopUpdates()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down", "chats", wizards.Len(), "pending_albums", aggregator.Pending())
			return
		case update, ok := <-updates:
			if !ok {
				logger.Info("updates channel closed")
				return
			}

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}

			go func(update telegram.Update) {
				defer func() { <-sem }()

				reqCtx, cancel := requestContext(ctx, cfg.RequestTimeout)
				defer cancel()

				if err := handler.HandleUpdate(reqCtx, update); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("handle update failed", "err", err)
				}
			}(update)
		}
	}
}

func requestContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
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
