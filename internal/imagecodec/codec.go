// Package imagecodec converts image bytes to and from embedded image strings
// of the form "data:<mime>;base64,<payload>".
package imagecodec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

const DefaultMimeType = "image/jpeg"

var (
	mimeTypeRegex = regexp.MustCompile(`^data:(image/[a-zA-Z+]+);base64,`)
	payloadPrefix = regexp.MustCompile(`^data:image/(png|jpeg|jpg|webp);base64,`)
)

// ReadError reports that a local file or upload stream could not be read.
type ReadError struct {
	Name string
	Err  error
}

func (e *ReadError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("read image: %v", e.Err)
	}
	return fmt.Sprintf("read image %s: %v", e.Name, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// Encode builds an embedded image string from raw bytes.
func Encode(mimeType string, data []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}

func EncodeFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &ReadError{Name: path, Err: err}
	}
	if len(data) == 0 {
		return "", &ReadError{Name: path, Err: errors.New("file is empty")}
	}
	return Encode(DetectMimeType(data, ""), data), nil
}

// EncodeReader reads r to the end. mimeHint is typically the Content-Type of
// an upload part; it is used only when it names a concrete image type.
func EncodeReader(r io.Reader, mimeHint string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", &ReadError{Err: err}
	}
	if len(data) == 0 {
		return "", &ReadError{Err: errors.New("upload is empty")}
	}
	return Encode(DetectMimeType(data, mimeHint), data), nil
}

// DetectMimeType prefers a concrete image/* hint, then sniffs the bytes, then
// falls back to image/jpeg.
func DetectMimeType(data []byte, hint string) string {
	hint = normalizeMime(hint)
	if strings.HasPrefix(hint, "image/") {
		return hint
	}

	detected := normalizeMime(mimetype.Detect(data).String())
	if strings.HasPrefix(detected, "image/") {
		return detected
	}
	return DefaultMimeType
}

// DecodeMimeType never fails; strings that do not look like an embedded image
// yield image/jpeg.
func DecodeMimeType(s string) string {
	if m := mimeTypeRegex.FindStringSubmatch(s); len(m) == 2 {
		return m[1]
	}
	return DefaultMimeType
}

// DecodePayload strips the prefix of png, jpeg, jpg and webp embedded images.
// Anything else, including an already stripped payload, is returned as is.
func DecodePayload(s string) string {
	return payloadPrefix.ReplaceAllLiteralString(s, "")
}

// DecodeBytes returns the mime type and raw bytes behind an embedded image.
func DecodeBytes(s string) (string, []byte, error) {
	if !strings.HasPrefix(s, "data:") {
		return "", nil, errors.New("not an embedded image")
	}
	meta, payload, ok := strings.Cut(s, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return "", nil, errors.New("invalid embedded image")
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode base64: %w", err)
	}

	mimeType := strings.TrimSuffix(strings.TrimPrefix(meta, "data:"), ";base64")
	if mimeType == "" {
		mimeType = DefaultMimeType
	}
	return mimeType, data, nil
}

func IsEmbedded(s string) bool {
	return strings.HasPrefix(s, "data:")
}

// DownloadName is the file name offered when a result image is downloaded.
func DownloadName(t time.Time) string {
	return fmt.Sprintf("ai-try-on-%d.png", t.UnixMilli())
}

func normalizeMime(value string) string {
	value = strings.TrimSpace(value)
	if i := strings.IndexByte(value, ';'); i >= 0 {
		value = strings.TrimSpace(value[:i])
	}
	return strings.ToLower(value)
}
