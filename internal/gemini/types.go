package gemini

import (
	"context"
	"fmt"
)

// Part is one entry of a content list: either Text or InlineImage.
type Part interface {
	isPart()
}

type Text string

// InlineImage carries base64 image data, without any data: prefix.
type InlineImage struct {
	MimeType string
	Data     string
}

func (Text) isPart()        {}
func (InlineImage) isPart() {}

// Backend performs a single generateContent round trip and returns the parts
// of the first candidate, in order. An empty result is not an error here.
type Backend interface {
	GenerateContent(ctx context.Context, model string, parts []Part) ([]Part, error)
}

// GenerationError means the service answered but gave no usable image.
type GenerationError struct {
	Message string
}

func (e *GenerationError) Error() string { return e.Message }

var (
	ErrNoContent   = &GenerationError{Message: "no content generated"}
	ErrNoImageData = &GenerationError{Message: "no image data found"}
	ErrRefused     = &GenerationError{Message: "model refused to generate image"}
)

// APIError is a non-2xx answer from the generation endpoint.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini API %s: %s", e.Status, e.Body)
}

// FirstInlineImage returns the first part that carries image data.
func FirstInlineImage(parts []Part) (InlineImage, bool) {
	for _, p := range parts {
		if img, ok := p.(InlineImage); ok && img.Data != "" {
			return img, true
		}
	}
	return InlineImage{}, false
}
