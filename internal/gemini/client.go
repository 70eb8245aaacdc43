package gemini

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"banana-tryon/internal/imagecodec"
)

const DefaultModel = "gemini-2.5-flash-image"

const clothingInstruction = "Generate a high-quality, flat-lay or mannequin style photo of a piece of clothing: %s. White background, clear details, photorealistic."

const tryOnInstruction = `Given the first image of a person and the second image of a clothing item. Generate a photorealistic image of the person wearing the clothing.

REQUIREMENTS:
1. **IDENTITY**: Preserve the person's face and identity from the first image exactly.
2. **CLOTHING**: Adapt the clothing to fit the person naturally.
3. **QUALITY**: Maintain high resolution, realistic lighting, and photorealistic textures.
4. **INTEGRATION**: Ensure the new clothing looks like it is actually being worn by the person in the original environment.`

type Options struct {
	Backend Backend
	Model   string
	Logger  *slog.Logger
}

type Client struct {
	backend Backend
	model   string
	logger  *slog.Logger
}

func New(opts Options) *Client {
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		backend: opts.Backend,
		model:   model,
		logger:  logger,
	}
}

// GenerateClothingImage asks for a product-style photo of the described
// garment and returns it as an embedded image string.
func (c *Client) GenerateClothingImage(ctx context.Context, prompt string) (string, error) {
	parts, err := c.backend.GenerateContent(ctx, c.model, []Part{
		Text(fmt.Sprintf(clothingInstruction, strings.TrimSpace(prompt))),
	})
	if err != nil {
		c.logger.Error("clothing generation failed", "err", err)
		return "", err
	}

	result, err := extractImage(parts, false)
	if err != nil {
		c.logger.Warn("clothing generation returned no image", "err", err, "parts", len(parts))
		return "", err
	}
	return result, nil
}

// GenerateTryOnImage composites the clothing onto the person. Both inputs are
// embedded image strings.
func (c *Client) GenerateTryOnImage(ctx context.Context, personImage, clothImage string) (string, error) {
	parts, err := c.backend.GenerateContent(ctx, c.model, []Part{
		InlineImage{
			MimeType: imagecodec.DecodeMimeType(personImage),
			Data:     imagecodec.DecodePayload(personImage),
		},
		InlineImage{
			MimeType: imagecodec.DecodeMimeType(clothImage),
			Data:     imagecodec.DecodePayload(clothImage),
		},
		Text(tryOnInstruction),
	})
	if err != nil {
		c.logger.Error("try-on generation failed", "err", err)
		return "", err
	}

	result, err := extractImage(parts, true)
	if err != nil {
		if err == ErrRefused {
			text, _ := parts[0].(Text)
			c.logger.Warn("model returned text instead of image", "text", truncate(string(text), 300))
		} else {
			c.logger.Warn("try-on generation returned no image", "err", err, "parts", len(parts))
		}
		return "", err
	}
	return result, nil
}

func extractImage(parts []Part, detectRefusal bool) (string, error) {
	if len(parts) == 0 {
		return "", ErrNoContent
	}

	if img, ok := FirstInlineImage(parts); ok {
		mimeType := img.MimeType
		if mimeType == "" {
			mimeType = "image/png"
		}
		return fmt.Sprintf("data:%s;base64,%s", mimeType, img.Data), nil
	}

	if detectRefusal {
		if text, ok := parts[0].(Text); ok && len(text) > 0 {
			return "", ErrRefused
		}
	}
	return "", ErrNoImageData
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
