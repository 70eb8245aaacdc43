package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"GEMINI_API_KEY", "API_KEY", "GEMINI_TRANSPORT", "STORAGE_BACKEND",
		"MAX_LIBRARY_ITEMS", "PRESET_PERSON_URLS", "HTTP_TIMEOUT_SECONDS", "MAX_CONCURRENT",
		"REQUEST_TIMEOUT_SECONDS",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.GeminiAPIKey != "" {
		t.Fatalf("GeminiAPIKey: want empty got=%q", cfg.GeminiAPIKey)
	}
	if cfg.GeminiModel != "gemini-2.5-flash-image" {
		t.Fatalf("GeminiModel: got=%q", cfg.GeminiModel)
	}
	if cfg.GeminiTransport != "rest" {
		t.Fatalf("GeminiTransport: want=rest got=%q", cfg.GeminiTransport)
	}
	if cfg.StorageBackend != "file" {
		t.Fatalf("StorageBackend: want=file got=%q", cfg.StorageBackend)
	}
	if cfg.MaxLibraryItems != 50 {
		t.Fatalf("MaxLibraryItems: want=50 got=%d", cfg.MaxLibraryItems)
	}
	if cfg.HTTPTimeout != 180*time.Second {
		t.Fatalf("HTTPTimeout: got=%s", cfg.HTTPTimeout)
	}
	if len(cfg.PresetPersonURLs) != 0 {
		t.Fatalf("PresetPersonURLs: want none got=%v", cfg.PresetPersonURLs)
	}
	if cfg.RequestTimeout != 0 {
		t.Fatalf("RequestTimeout: want unbounded got=%s", cfg.RequestTimeout)
	}
}

func TestLoadRequestTimeout(t *testing.T) {
	t.Setenv("REQUEST_TIMEOUT_SECONDS", "-5")
	if got := Load().RequestTimeout; got != 0 {
		t.Fatalf("negative RequestTimeout: want=0 got=%s", got)
	}

	t.Setenv("REQUEST_TIMEOUT_SECONDS", "90")
	if got := Load().RequestTimeout; got != 90*time.Second {
		t.Fatalf("RequestTimeout: want=90s got=%s", got)
	}
}

func TestLoadAPIKeyFallback(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("API_KEY", " legacy-key ")

	if got := Load().GeminiAPIKey; got != "legacy-key" {
		t.Fatalf("GeminiAPIKey: want=%q got=%q", "legacy-key", got)
	}

	t.Setenv("GEMINI_API_KEY", "primary")
	if got := Load().GeminiAPIKey; got != "primary" {
		t.Fatalf("GeminiAPIKey: want=%q got=%q", "primary", got)
	}
}

func TestLoadClampsInvalidValues(t *testing.T) {
	t.Setenv("GEMINI_TRANSPORT", "grpc")
	t.Setenv("MAX_LIBRARY_ITEMS", "-3")
	t.Setenv("HTTP_TIMEOUT_SECONDS", "0")
	t.Setenv("MAX_CONCURRENT", "abc")
	t.Setenv("PRESET_PERSON_URLS", " https://a.example/p.jpg, ,https://b.example/q.png ")

	cfg := Load()
	if cfg.GeminiTransport != "rest" {
		t.Fatalf("GeminiTransport: want=rest got=%q", cfg.GeminiTransport)
	}
	if cfg.MaxLibraryItems != 0 {
		t.Fatalf("MaxLibraryItems: want=0 got=%d", cfg.MaxLibraryItems)
	}
	if cfg.HTTPTimeout != 180*time.Second {
		t.Fatalf("HTTPTimeout: got=%s", cfg.HTTPTimeout)
	}
	if cfg.MaxConcurrent != 4 {
		t.Fatalf("MaxConcurrent: want=4 got=%d", cfg.MaxConcurrent)
	}
	if len(cfg.PresetPersonURLs) != 2 || cfg.PresetPersonURLs[1] != "https://b.example/q.png" {
		t.Fatalf("PresetPersonURLs: got=%v", cfg.PresetPersonURLs)
	}
}
