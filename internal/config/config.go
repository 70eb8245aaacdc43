package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	GeminiAPIKey     string
	GeminiBaseURL    string
	GeminiAPIVersion string
	GeminiModel      string
	GeminiTransport  string // "rest" | "sdk"

	LogLevel string

	PreferIPv4  bool
	HTTPTimeout time.Duration

	StorageBackend  string // "file" | "memory" | "redis" | "mongo" | "s3"
	DataDir         string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	MongoURI        string
	MongoDatabase   string
	MongoCollection string
	S3Bucket        string
	S3Prefix        string
	AWSRegion       string

	MaxLibraryItems  int
	PresetPersonURLs []string
	PresetClothURLs  []string
	WebAddr          string
	MaxUploadBytes   int64
	// RequestTimeout bounds one front-end request. Zero means no bound.
	RequestTimeout   time.Duration

	TelegramToken      string
	TelegramDebug      bool
	MediaGroupDebounce time.Duration
	MaxConcurrent      int
}

// Load reads the process environment. The Gemini key is not validated here:
// a missing key surfaces as an authorization failure on the first call.
func Load() Config {
	cfg := Config{
		GeminiBaseURL:      strings.TrimRight(getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"), "/"),
		GeminiAPIVersion:   getEnv("GEMINI_API_VERSION", "v1beta"),
		GeminiModel:        getEnv("GEMINI_MODEL", "gemini-2.5-flash-image"),
		GeminiTransport:    strings.ToLower(getEnv("GEMINI_TRANSPORT", "rest")),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", "info")),
		PreferIPv4:         getEnvBool("PREFER_IPV4", true),
		HTTPTimeout:        time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 180)) * time.Second,
		StorageBackend:     strings.ToLower(getEnv("STORAGE_BACKEND", "file")),
		DataDir:            getEnv("DATA_DIR", "data"),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      strings.TrimSpace(os.Getenv("REDIS_PASSWORD")),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		MongoURI:           getEnv("MONGO_URI", "mongodb://localhost:27017/"),
		MongoDatabase:      getEnv("MONGO_DATABASE", "tryon"),
		MongoCollection:    getEnv("MONGO_COLLECTION", "kv"),
		S3Bucket:           strings.TrimSpace(os.Getenv("S3_BUCKET")),
		S3Prefix:           getEnv("S3_PREFIX", "tryon/"),
		AWSRegion:          getEnv("AWS_REGION", "us-east-1"),
		MaxLibraryItems:    getEnvInt("MAX_LIBRARY_ITEMS", 50),
		PresetPersonURLs:   splitCSV(os.Getenv("PRESET_PERSON_URLS")),
		PresetClothURLs:    splitCSV(os.Getenv("PRESET_CLOTH_URLS")),
		WebAddr:            getEnv("WEB_ADDR", "127.0.0.1:8080"),
		MaxUploadBytes:     int64(getEnvInt("MAX_UPLOAD_MB", 25)) << 20,
		RequestTimeout:     time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 0)) * time.Second,
		TelegramToken:      strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")),
		TelegramDebug:      getEnvBool("TELEGRAM_DEBUG", false),
		MediaGroupDebounce: time.Duration(getEnvInt("MEDIA_GROUP_DEBOUNCE_MS", 1200)) * time.Millisecond,
		MaxConcurrent:      getEnvInt("MAX_CONCURRENT", 4),
	}

	cfg.GeminiAPIKey = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	if cfg.GeminiAPIKey == "" {
		cfg.GeminiAPIKey = strings.TrimSpace(os.Getenv("API_KEY"))
	}

	if cfg.GeminiTransport != "sdk" {
		cfg.GeminiTransport = "rest"
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 180 * time.Second
	}
	if cfg.RequestTimeout < 0 {
		cfg.RequestTimeout = 0
	}
	if cfg.MaxLibraryItems < 0 {
		cfg.MaxLibraryItems = 0
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 25 << 20
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	var out []string
	for _, p := range strings.Split(value, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
