// Package storage provides durable key-value backends holding string blobs.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Backend stores whole string values under string keys. Get reports a missing
// key with ok=false and a nil error.
type Backend interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

type Config struct {
	Backend string // "file" | "memory" | "redis" | "mongo" | "s3"

	Dir string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MongoURI        string
	MongoDatabase   string
	MongoCollection string

	S3Bucket  string
	S3Prefix  string
	AWSRegion string

	Logger *slog.Logger
}

// Open builds the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg Config) (Backend, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var (
		b   Backend
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "file":
		b, err = NewFile(cfg.Dir)
	case "memory":
		b = NewMemory()
	case "redis":
		b, err = NewRedis(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	case "mongo", "mongodb":
		b, err = NewMongo(ctx, MongoOptions{
			URI:        cfg.MongoURI,
			Database:   cfg.MongoDatabase,
			Collection: cfg.MongoCollection,
		})
	case "s3":
		b, err = NewS3(ctx, S3Options{
			Bucket: cfg.S3Bucket,
			Prefix: cfg.S3Prefix,
			Region: cfg.AWSRegion,
			Logger: logger,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("storage opened", "backend", fmt.Sprintf("%T", b))
	return b, nil
}

type prefixed struct {
	next   Backend
	prefix string
}

// WithPrefix namespaces every key with prefix. Closing the returned backend
// does not close next, which is usually shared.
func WithPrefix(next Backend, prefix string) Backend {
	return &prefixed{next: next, prefix: prefix}
}

func (p *prefixed) Get(ctx context.Context, key string) (string, bool, error) {
	return p.next.Get(ctx, p.prefix+key)
}

func (p *prefixed) Set(ctx context.Context, key, value string) error {
	return p.next.Set(ctx, p.prefix+key, value)
}

func (p *prefixed) Close() error { return nil }
