package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

type SDKOptions struct {
	APIKey string
	Logger *slog.Logger
}

// SDK is the Backend built on the official generative-ai-go client.
type SDK struct {
	client *genai.Client
	logger *slog.Logger
}

func NewSDK(ctx context.Context, opts SDKOptions) (*SDK, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(opts.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &SDK{client: client, logger: logger}, nil
}

func (s *SDK) Close() error {
	return s.client.Close()
}

func (s *SDK) GenerateContent(ctx context.Context, model string, parts []Part) ([]Part, error) {
	reqParts := make([]genai.Part, 0, len(parts))
	for _, p := range parts {
		switch v := p.(type) {
		case Text:
			reqParts = append(reqParts, genai.Text(v))
		case InlineImage:
			data, err := base64.StdEncoding.DecodeString(v.Data)
			if err != nil {
				return nil, fmt.Errorf("decode inline image: %w", err)
			}
			reqParts = append(reqParts, genai.Blob{MIMEType: v.MimeType, Data: data})
		}
	}

	resp, err := s.client.GenerativeModel(model).GenerateContent(ctx, reqParts...)
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			s.logger.Warn("generation blocked", "model", model, "err", blocked)
			return nil, ErrRefused
		}
		return nil, fmt.Errorf("generate content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, nil
	}

	out := make([]Part, 0, len(resp.Candidates[0].Content.Parts))
	for _, p := range resp.Candidates[0].Content.Parts {
		switch v := p.(type) {
		case genai.Text:
			out = append(out, Text(v))
		case genai.Blob:
			out = append(out, InlineImage{
				MimeType: v.MIMEType,
				Data:     base64.StdEncoding.EncodeToString(v.Data),
			})
		default:
			s.logger.Debug("ignoring response part", "type", fmt.Sprintf("%T", p))
		}
	}
	return out, nil
}
