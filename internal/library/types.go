package library

import (
	"fmt"
	"strconv"
	"time"
)

// Storage keys, one per collection.
const (
	KeyPersons = "personLibrary"
	KeyCloths  = "clothLibrary"
	KeyHistory = "history"
)

// Asset id prefixes.
const (
	PrefixPerson         = "person"
	PrefixCloth          = "cloth"
	PrefixGeneratedCloth = "gen_cloth"
	PrefixPresetPerson   = "preset_person"
	PrefixPresetCloth    = "preset_cloth"
)

// ImageAsset is an image available for selection as person or clothing input.
type ImageAsset struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	IsGenerated bool   `json:"isGenerated"`
}

// HistoryItem records one completed try-on: both inputs and the output.
type HistoryItem struct {
	ID          string `json:"id"`
	PersonImage string `json:"personImage"`
	ClothImage  string `json:"clothImage"`
	ResultImage string `json:"resultImage"`
	Timestamp   int64  `json:"timestamp"`
}

func NewAsset(prefix, url string, generated bool, now time.Time) ImageAsset {
	return ImageAsset{
		ID:          fmt.Sprintf("%s_%d", prefix, now.UnixMilli()),
		URL:         url,
		IsGenerated: generated,
	}
}

func NewHistoryItem(person, cloth, result string, now time.Time) HistoryItem {
	ms := now.UnixMilli()
	return HistoryItem{
		ID:          strconv.FormatInt(ms, 10),
		PersonImage: person,
		ClothImage:  cloth,
		ResultImage: result,
		Timestamp:   ms,
	}
}

// StorageError is a failed durable write. It is logged, never surfaced: the
// in-memory collection keeps the change.
type StorageError struct {
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Presets builds never-persisted assets for remote image URLs, numbered from 1
// in the given order.
func Presets(prefix string, urls []string) []ImageAsset {
	out := make([]ImageAsset, 0, len(urls))
	for i, u := range urls {
		out = append(out, ImageAsset{ID: fmt.Sprintf("%s_%d", prefix, i+1), URL: u})
	}
	return out
}
