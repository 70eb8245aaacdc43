package gemini

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

type BackendConfig struct {
	Transport  string // "rest" | "sdk"
	APIKey     string
	BaseURL    string
	APIVersion string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// OpenBackend builds the transport named by cfg.Transport. The SDK backend
// implements io.Closer.
func OpenBackend(ctx context.Context, cfg BackendConfig) (Backend, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Transport)) {
	case "", "rest":
		return NewREST(RESTOptions{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			APIVersion: cfg.APIVersion,
			HTTPClient: cfg.HTTPClient,
			Logger:     logger,
		}), nil
	case "sdk":
		sdk, err := NewSDK(ctx, SDKOptions{APIKey: cfg.APIKey, Logger: logger})
		if err != nil {
			return nil, err
		}
		return sdk, nil
	default:
		return nil, fmt.Errorf("unknown gemini transport %q", cfg.Transport)
	}
}
