package advisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const geminiAttempts = 3

// Gemini asks a Gemini vision model for advice.
type Gemini struct {
	APIKey string
	Model  string
	log    *zap.Logger

	backoff time.Duration
	// generate is replaced in tests.
	generate func(ctx context.Context, parts []genai.Part) (*genai.GenerateContentResponse, error)
}

// NewGemini creates an advisor for the given key and model.
func NewGemini(apiKey, model string, log *zap.Logger) *Gemini {
	g := &Gemini{
		APIKey: strings.TrimSpace(apiKey),
		Model:  strings.TrimSpace(model),
		log:    log,

		backoff: 300 * time.Millisecond,
	}
	g.generate = g.callModel
	return g
}

// Advise sends the prompt and photos, retrying transient failures.
func (g *Gemini) Advise(ctx context.Context, req Request) (string, error) {
	if g.APIKey == "" {
		return "", fmt.Errorf("%w: GEMINI_API_KEY is empty", ErrUnavailable)
	}

	parts := make([]genai.Part, 0, len(req.Images)+1)
	parts = append(parts, genai.Text(prompt(req)))
	for _, img := range req.Images {
		parts = append(parts, &genai.Blob{MIMEType: img.MIMEType, Data: img.Data})
	}

	var lastErr error
	for attempt := 1; attempt <= geminiAttempts; attempt++ {
		resp, err := g.generate(ctx, parts)
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		if err != nil {
			lastErr = err
			g.log.Warn("gemini request failed", zap.Int("attempt", attempt), zap.Error(err))
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
			case <-time.After(time.Duration(attempt) * g.backoff):
			}
			continue
		}
		txt := strings.TrimSpace(firstText(resp))
		if txt == "" {
			return "", fmt.Errorf("%w: empty response", ErrUnavailable)
		}
		return txt, nil
	}
	return "", fmt.Errorf("%w: %w", ErrUnavailable, lastErr)
}

func (g *Gemini) callModel(ctx context.Context, parts []genai.Part) (*genai.GenerateContentResponse, error) {
	cl, err := genai.NewClient(ctx, option.WithAPIKey(g.APIKey))
	if err != nil {
		return nil, err
	}
	defer cl.Close()

	m := cl.GenerativeModel(g.Model)
	if m == nil {
		return nil, errors.New("gemini: model is nil")
	}
	m.SetTemperature(0.65)
	return m.GenerateContent(ctx, parts...)
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}
