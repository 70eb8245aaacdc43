package gemini

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeBackend struct {
	parts []Part
	err   error

	gotModel string
	gotParts []Part
	calls    int
}

func (f *fakeBackend) GenerateContent(_ context.Context, model string, parts []Part) ([]Part, error) {
	f.calls++
	f.gotModel = model
	f.gotParts = parts
	return f.parts, f.err
}

func TestGenerateClothingImage(t *testing.T) {
	backend := &fakeBackend{parts: []Part{
		Text("here you go"),
		InlineImage{MimeType: "image/webp", Data: "UklGRg=="},
	}}
	c := New(Options{Backend: backend})

	got, err := c.GenerateClothingImage(context.Background(), "  red silk evening gown ")
	if err != nil {
		t.Fatalf("GenerateClothingImage: %v", err)
	}
	if got != "data:image/webp;base64,UklGRg==" {
		t.Fatalf("result: got=%q", got)
	}
	if backend.gotModel != DefaultModel {
		t.Fatalf("model: got=%q", backend.gotModel)
	}
	if len(backend.gotParts) != 1 {
		t.Fatalf("parts: want 1 got=%d", len(backend.gotParts))
	}
	text, ok := backend.gotParts[0].(Text)
	if !ok || !strings.Contains(string(text), "clothing: red silk evening gown. White background") {
		t.Fatalf("instruction: got=%v", backend.gotParts[0])
	}
}

func TestGenerateClothingImageDefaultsToPNG(t *testing.T) {
	c := New(Options{Backend: &fakeBackend{parts: []Part{InlineImage{Data: "AAAA"}}}})

	got, err := c.GenerateClothingImage(context.Background(), "hat")
	if err != nil {
		t.Fatalf("GenerateClothingImage: %v", err)
	}
	if got != "data:image/png;base64,AAAA" {
		t.Fatalf("result: got=%q", got)
	}
}

func TestGenerateClothingImageFailures(t *testing.T) {
	cases := []struct {
		name  string
		parts []Part
		want  error
	}{
		{name: "no parts", parts: nil, want: ErrNoContent},
		{name: "text only", parts: []Part{Text("sorry")}, want: ErrNoImageData},
		{name: "empty inline data", parts: []Part{InlineImage{MimeType: "image/png"}}, want: ErrNoImageData},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := New(Options{Backend: &fakeBackend{parts: tc.parts}})
			_, err := c.GenerateClothingImage(context.Background(), "scarf")
			if !errors.Is(err, tc.want) {
				t.Fatalf("want=%v got=%v", tc.want, err)
			}
			var genErr *GenerationError
			if !errors.As(err, &genErr) {
				t.Fatalf("want *GenerationError got=%T", err)
			}
		})
	}
}

func TestGenerateTryOnImageSendsBothImages(t *testing.T) {
	backend := &fakeBackend{parts: []Part{InlineImage{MimeType: "image/png", Data: "UkVTVUxU"}}}
	c := New(Options{Backend: backend, Model: "custom-model"})

	got, err := c.GenerateTryOnImage(context.Background(),
		"data:image/jpeg;base64,UEVSU09O",
		"data:image/webp;base64,Q0xPVEg=",
	)
	if err != nil {
		t.Fatalf("GenerateTryOnImage: %v", err)
	}
	if got != "data:image/png;base64,UkVTVUxU" {
		t.Fatalf("result: got=%q", got)
	}
	if backend.gotModel != "custom-model" {
		t.Fatalf("model: got=%q", backend.gotModel)
	}
	if len(backend.gotParts) != 3 {
		t.Fatalf("parts: want 3 got=%d", len(backend.gotParts))
	}

	person, ok := backend.gotParts[0].(InlineImage)
	if !ok || person.MimeType != "image/jpeg" || person.Data != "UEVSU09O" {
		t.Fatalf("person part: got=%#v", backend.gotParts[0])
	}
	cloth, ok := backend.gotParts[1].(InlineImage)
	if !ok || cloth.MimeType != "image/webp" || cloth.Data != "Q0xPVEg=" {
		t.Fatalf("cloth part: got=%#v", backend.gotParts[1])
	}
	text, ok := backend.gotParts[2].(Text)
	if !ok || !strings.Contains(string(text), "IDENTITY") || !strings.Contains(string(text), "INTEGRATION") {
		t.Fatalf("instruction part: got=%v", backend.gotParts[2])
	}
}

func TestGenerateTryOnImageRefusal(t *testing.T) {
	cases := []struct {
		name  string
		parts []Part
		want  error
	}{
		{name: "explanation", parts: []Part{Text("I can't help with that image.")}, want: ErrRefused},
		{name: "whitespace", parts: []Part{Text(" \n")}, want: ErrRefused},
		{name: "empty text", parts: []Part{Text("")}, want: ErrNoImageData},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := New(Options{Backend: &fakeBackend{parts: tc.parts}})

			_, err := c.GenerateTryOnImage(context.Background(), "data:image/png;base64,AA==", "data:image/png;base64,BB==")
			if !errors.Is(err, tc.want) {
				t.Fatalf("want %v got=%v", tc.want, err)
			}
		})
	}
}

func TestGenerateTryOnImageNoImage(t *testing.T) {
	c := New(Options{Backend: &fakeBackend{parts: []Part{InlineImage{MimeType: "image/png"}, Text("trailing")}}})

	_, err := c.GenerateTryOnImage(context.Background(), "data:image/png;base64,AA==", "data:image/png;base64,BB==")
	if !errors.Is(err, ErrNoImageData) {
		t.Fatalf("want ErrNoImageData got=%v", err)
	}

	c = New(Options{Backend: &fakeBackend{}})
	_, err = c.GenerateTryOnImage(context.Background(), "data:image/png;base64,AA==", "data:image/png;base64,BB==")
	if !errors.Is(err, ErrNoContent) {
		t.Fatalf("want ErrNoContent got=%v", err)
	}
}

func TestGenerateTryOnImageBackendError(t *testing.T) {
	apiErr := &APIError{StatusCode: 403, Status: "403 Forbidden", Body: "API key not valid"}
	backend := &fakeBackend{err: apiErr}
	c := New(Options{Backend: backend})

	_, err := c.GenerateTryOnImage(context.Background(), "data:image/png;base64,AA==", "data:image/png;base64,BB==")
	var got *APIError
	if !errors.As(err, &got) || got.StatusCode != 403 {
		t.Fatalf("want *APIError got=%v", err)
	}
	if backend.calls != 1 {
		t.Fatalf("calls: want exactly 1 got=%d", backend.calls)
	}
}

func TestFirstInlineImage(t *testing.T) {
	img, ok := FirstInlineImage([]Part{
		Text("a"),
		InlineImage{MimeType: "image/png"},
		InlineImage{MimeType: "image/jpeg", Data: "first"},
		InlineImage{MimeType: "image/png", Data: "second"},
	})
	if !ok || img.Data != "first" || img.MimeType != "image/jpeg" {
		t.Fatalf("FirstInlineImage: got=%#v ok=%v", img, ok)
	}

	if _, ok := FirstInlineImage([]Part{Text("only text")}); ok {
		t.Fatal("FirstInlineImage: want not found")
	}
}
