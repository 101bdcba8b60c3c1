package inference

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"adaparse/internal/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// fakeGenerator answers with the image bytes of the request, optionally failing the
// first failures calls for each image.
type fakeGenerator struct {
	mu       sync.Mutex
	failures int
	attempts map[string]int
	prompts  []string
	temps    []float32
	inFlight atomic.Int32
	peak     atomic.Int32
	reply    func(image string) string
}

func (g *fakeGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)

	parts := contents[0].Parts
	image := string(parts[0].InlineData.Data)

	g.mu.Lock()
	if g.attempts == nil {
		g.attempts = map[string]int{}
	}
	g.attempts[image]++
	attempt := g.attempts[image]
	g.prompts = append(g.prompts, parts[1].Text)
	if config != nil && config.Temperature != nil {
		g.temps = append(g.temps, *config.Temperature)
	}
	g.mu.Unlock()

	if attempt <= g.failures {
		return nil, errors.New("503 unavailable")
	}
	text := image
	if g.reply != nil {
		text = g.reply(image)
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: text}}},
		}},
	}, nil
}

func pagesOf(images ...string) []Page {
	pages := make([]Page, len(images))
	for i, img := range images {
		pages[i] = Page{Doc: "doc.pdf", Index: i, Image: []byte(img)}
	}
	return pages
}

func TestGemini_PredictionsFollowPageOrder(t *testing.T) {
	gen := &fakeGenerator{}
	m := newGeminiModel(gen, GeminiOptions{Concurrency: 3, Markdown: true})

	out, err := m.Inference(context.Background(), pagesOf("p0", "p1", "p2", "p3", "p4"), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"p0", "p1", "p2", "p3", "p4"}, out.Predictions)
	assert.LessOrEqual(t, gen.peak.Load(), int32(3))

	for _, p := range gen.prompts {
		assert.Equal(t, markdownPrompt, p)
	}
	for _, temp := range gen.temps {
		assert.Zero(t, temp)
	}
}

func TestGemini_PlainPrompt(t *testing.T) {
	gen := &fakeGenerator{}
	m := newGeminiModel(gen, GeminiOptions{Markdown: false})

	_, err := m.Inference(context.Background(), pagesOf("p0"), false)
	require.NoError(t, err)
	assert.Equal(t, []string{plainPrompt}, gen.prompts)
}

func TestGemini_RetriesTransientErrors(t *testing.T) {
	gen := &fakeGenerator{failures: 2}
	m := newGeminiModel(gen, GeminiOptions{MaxRetries: 2, Backoff: time.Millisecond})

	out, err := m.Inference(context.Background(), pagesOf("p0", "p1"), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"p0", "p1"}, out.Predictions)
	assert.Equal(t, 3, gen.attempts["p0"])
}

func TestGemini_FailsBatchAfterRetries(t *testing.T) {
	gen := &fakeGenerator{failures: 5}
	m := newGeminiModel(gen, GeminiOptions{MaxRetries: 1, Backoff: time.Millisecond})

	out, err := m.Inference(context.Background(), pagesOf("p0"), false)
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Contains(t, err.Error(), "doc.pdf page 0")
	assert.Equal(t, 2, gen.attempts["p0"])
}

func TestGemini_EarlyStoppingTrimsLoops(t *testing.T) {
	loop := "intro\n" + strings.Repeat("| a | b |\n", 6)
	gen := &fakeGenerator{reply: func(string) string { return loop }}
	m := newGeminiModel(gen, GeminiOptions{})

	out, err := m.Inference(context.Background(), pagesOf("p0"), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"intro\n| a | b |"}, out.Predictions)

	out, err = m.Inference(context.Background(), pagesOf("p0"), false)
	require.NoError(t, err)
	assert.Equal(t, strings.TrimSpace(loop), out.Predictions[0])
}

func TestGemini_EmptyBatch(t *testing.T) {
	m := newGeminiModel(&fakeGenerator{}, GeminiOptions{})
	out, err := m.Inference(context.Background(), nil, false)
	require.NoError(t, err)
	assert.Empty(t, out.Predictions)
}

func TestNewGeminiModel_RequiresKey(t *testing.T) {
	_, err := NewGeminiModel(context.Background(), GeminiOptions{})
	require.Error(t, err)
	assert.True(t, errs.IsConfiguration(err))
}

func TestTrimRepetition(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"short text", "a\nb", "a\nb"},
		{"no loop", "a\nb\nc\nd\ne", "a\nb\nc\nd\ne"},
		{"three repeats kept", "a\nx\nx\nx", "a\nx\nx\nx"},
		{"four repeats trimmed", "a\nx\nx\nx\nx", "a\nx"},
		{"whole text loops", "x\nx\nx\nx\nx\n", "x"},
		{"blank tail kept", "a\n\n\n\n\n", "a\n\n\n\n\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, trimRepetition(tt.in))
		})
	}
}

func TestRetryable_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := retryable(ctx, func() error {
		calls++
		cancel()
		return errors.New("boom")
	}, 5, time.Hour, zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
