package advisor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mishura/stylist/internal/models"
)

func textResponse(s string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
		{Content: &genai.Content{Parts: []genai.Part{genai.Text(s)}}},
	}}
}

func testGemini(fn func(ctx context.Context, parts []genai.Part) (*genai.GenerateContentResponse, error)) *Gemini {
	g := NewGemini(" key ", " gemini-1.5-flash ", zap.NewNop())
	g.backoff = time.Millisecond
	g.generate = fn
	return g
}

func TestGemini_SendsPromptAndImages(t *testing.T) {
	var got []genai.Part
	g := testGemini(func(_ context.Context, parts []genai.Part) (*genai.GenerateContentResponse, error) {
		got = parts
		return textResponse("  Отличный выбор!  "), nil
	})

	advice, err := g.Advise(context.Background(), Request{
		Kind:     models.CompareAnalysis,
		Occasion: "свадьба",
		Images: []models.Image{
			{MIMEType: "image/jpeg", Data: []byte{1}},
			{MIMEType: "image/png", Data: []byte{2}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Отличный выбор!", advice)
	assert.Equal(t, "gemini-1.5-flash", g.Model)

	require.Len(t, got, 3)
	text, ok := got[0].(genai.Text)
	require.True(t, ok)
	assert.Contains(t, string(text), "Повод: свадьба")
	assert.Contains(t, string(text), "Предпочтения: не указаны")
	assert.Contains(t, string(text), "На фото 2 вариантов")
	blob, ok := got[2].(*genai.Blob)
	require.True(t, ok)
	assert.Equal(t, "image/png", blob.MIMEType)
}

func TestGemini_RetriesThenSucceeds(t *testing.T) {
	calls := 0
	g := testGemini(func(context.Context, []genai.Part) (*genai.GenerateContentResponse, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("503")
		}
		return textResponse("ok"), nil
	})

	advice, err := g.Advise(context.Background(), Request{Kind: models.SingleAnalysis, Occasion: "work"})
	require.NoError(t, err)
	assert.Equal(t, "ok", advice)
	assert.Equal(t, 3, calls)
}

func TestGemini_Failures(t *testing.T) {
	tests := []struct {
		name  string
		fn    func(context.Context, []genai.Part) (*genai.GenerateContentResponse, error)
		calls int
	}{
		{
			name:  "all attempts fail",
			fn:    func(context.Context, []genai.Part) (*genai.GenerateContentResponse, error) { return nil, errors.New("503") },
			calls: geminiAttempts,
		},
		{
			name: "blocked prompt is not retried",
			fn: func(context.Context, []genai.Part) (*genai.GenerateContentResponse, error) {
				return nil, &genai.BlockedError{PromptFeedback: &genai.PromptFeedback{BlockReason: genai.BlockReasonSafety}}
			},
			calls: 1,
		},
		{
			name:  "empty text",
			fn:    func(context.Context, []genai.Part) (*genai.GenerateContentResponse, error) { return textResponse("  "), nil },
			calls: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			g := testGemini(func(ctx context.Context, parts []genai.Part) (*genai.GenerateContentResponse, error) {
				calls++
				return tt.fn(ctx, parts)
			})
			_, err := g.Advise(context.Background(), Request{Kind: models.SingleAnalysis, Occasion: "work"})
			assert.ErrorIs(t, err, ErrUnavailable)
			assert.Equal(t, tt.calls, calls)
		})
	}
}

func TestGemini_NoKey(t *testing.T) {
	_, err := NewGemini("", "m", zap.NewNop()).Advise(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestUnavailable(t *testing.T) {
	_, err := Unavailable{}.Advise(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestPrompt_Single(t *testing.T) {
	p := prompt(Request{Kind: models.SingleAnalysis, Occasion: "офис", Preferences: " классика "})
	assert.Contains(t, p, "Предпочтения: классика")
	assert.Contains(t, p, "Описание вещи")
	assert.False(t, strings.Contains(p, "Предмет 1"))
}

func TestLooksLikeError(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Ошибка: превышен лимит запросов", true},
		{"Service unavailable", true},
		{"### Описание вещи\nНе ошибка надеть этот пиджак на встречу.", false},
		{"Отличный выбор для офиса!", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LooksLikeError(tt.text), tt.text)
	}
}
