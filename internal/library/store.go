// Package library holds the persisted person library, clothing library and
// try-on history.
package library

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"banana-tryon/internal/storage"
)

type Options struct {
	Backend storage.Backend
	// MaxItems caps each collection; the oldest entries are evicted first.
	// Zero means unbounded.
	MaxItems int
	// WriteTimeout bounds each backend write. Defaults to 10s.
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// Store is the only writer of the storage backend. Every mutation rewrites the
// whole affected collection before returning. Writes happen under the store
// mutex, so readers wait for an in-flight write for at most WriteTimeout.
type Store struct {
	mu           sync.Mutex
	backend      storage.Backend
	maxItems     int
	writeTimeout time.Duration
	logger       *slog.Logger

	persons []ImageAsset
	cloths  []ImageAsset
	history []HistoryItem
}

func New(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	backend := opts.Backend
	if backend == nil {
		backend = storage.NewMemory()
	}
	maxItems := opts.MaxItems
	if maxItems < 0 {
		maxItems = 0
	}

	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	return &Store{
		backend:      backend,
		maxItems:     maxItems,
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// Load rehydrates all three collections. A missing, unreadable or corrupt
// entry yields an empty collection.
func (s *Store) Load(ctx context.Context) {
	persons := loadCollection[ImageAsset](ctx, s, KeyPersons)
	cloths := loadCollection[ImageAsset](ctx, s, KeyCloths)
	history := loadCollection[HistoryItem](ctx, s, KeyHistory)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.persons, s.cloths, s.history = persons, cloths, history
}

func (s *Store) Persons() []ImageAsset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ImageAsset(nil), s.persons...)
}

func (s *Store) Cloths() []ImageAsset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ImageAsset(nil), s.cloths...)
}

func (s *Store) History() []HistoryItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Store) FindPerson(id string) (ImageAsset, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return findAsset(s.persons, id)
}

func (s *Store) FindCloth(id string) (ImageAsset, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return findAsset(s.cloths, id)
}

func (s *Store) FindHistory(id string) (HistoryItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.history {
		if h.ID == id {
			return h, true
		}
	}
	return HistoryItem{}, false
}

// AddPerson prepends the asset and persists the person library. The returned
// asset carries the id actually stored, which differs from the given one only
// when it collided with an existing entry.
func (s *Store) AddPerson(ctx context.Context, asset ImageAsset) ImageAsset {
	s.mu.Lock()
	defer s.mu.Unlock()

	asset.ID = uniqueID(asset.ID, func(id string) bool { _, ok := findAsset(s.persons, id); return ok })
	s.persons = prepend(s.persons, asset, s.maxItems)
	s.persist(ctx, KeyPersons, s.persons)
	return asset
}

func (s *Store) AddCloth(ctx context.Context, asset ImageAsset) ImageAsset {
	s.mu.Lock()
	defer s.mu.Unlock()

	asset.ID = uniqueID(asset.ID, func(id string) bool { _, ok := findAsset(s.cloths, id); return ok })
	s.cloths = prepend(s.cloths, asset, s.maxItems)
	s.persist(ctx, KeyCloths, s.cloths)
	return asset
}

func (s *Store) AddHistory(ctx context.Context, item HistoryItem) HistoryItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	item.ID = uniqueID(item.ID, func(id string) bool {
		for _, h := range s.history {
			if h.ID == id {
				return true
			}
		}
		return false
	})
	s.history = prepend(s.history, item, s.maxItems)
	s.persist(ctx, KeyHistory, s.history)
	return item
}

// persist must be called with s.mu held.
func (s *Store) persist(ctx context.Context, key string, collection any) {
	raw, err := json.Marshal(collection)
	if err == nil {
		writeCtx, cancel := context.WithTimeout(ctx, s.writeTimeout)
		err = s.backend.Set(writeCtx, key, string(raw))
		cancel()
	}
	if err != nil {
		storageErr := &StorageError{Key: key, Err: err}
		s.logger.Error("storage write failed, keeping in-memory state", "key", key, "err", storageErr)
		return
	}
	s.logger.Debug("collection persisted", "key", key, "bytes", len(raw))
}

func loadCollection[T any](ctx context.Context, s *Store, key string) []T {
	raw, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		s.logger.Error("storage read failed, starting empty", "key", key, "err", err)
		return nil
	}
	if !ok || raw == "" {
		return nil
	}

	var out []T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		s.logger.Warn("stored collection is corrupt, starting empty", "key", key, "err", err)
		return nil
	}
	return out
}

func prepend[T any](list []T, item T, max int) []T {
	out := make([]T, 0, len(list)+1)
	out = append(out, item)
	out = append(out, list...)
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

func findAsset(list []ImageAsset, id string) (ImageAsset, bool) {
	for _, a := range list {
		if a.ID == id {
			return a, true
		}
	}
	return ImageAsset{}, false
}

func uniqueID(id string, taken func(string) bool) string {
	if !taken(id) {
		return id
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d", id, n)
		if !taken(candidate) {
			return candidate
		}
	}
}
