package inference

import (
	"context"
	"fmt"
	"strings"
	"time"

	"adaparse/internal/errs"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"
)

const (
	markdownPrompt = "Transcribe this document page to Markdown. Write equations in LaTeX and tables in Markdown. Return only the transcription."
	plainPrompt    = "Transcribe all text on this document page as plain text in reading order. Return only the transcription."
)

// generator is the slice of the genai client the model needs.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiOptions configures NewGeminiModel.
type GeminiOptions struct {
	APIKey      string
	Model       string
	Markdown    bool
	MaxRetries  int
	Backoff     time.Duration
	Timeout     time.Duration // per request
	Concurrency int           // requests in flight per batch
	Logger      *zap.Logger
}

// GeminiModel transcribes page images with a Gemini model, one request per page.
type GeminiModel struct {
	gen  generator
	opts GeminiOptions
	log  *zap.Logger
}

// NewGeminiModel creates a Gemini API client.
func NewGeminiModel(ctx context.Context, opts GeminiOptions) (*GeminiModel, error) {
	if opts.APIKey == "" {
		return nil, errs.Config("api_key", "Gemini API key is required (set api_key, GEMINI_API_KEY or GOOGLE_API_KEY)")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return newGeminiModel(client.Models, opts), nil
}

func newGeminiModel(gen generator, opts GeminiOptions) *GeminiModel {
	if opts.Model == "" {
		opts.Model = "gemini-2.5-flash"
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &GeminiModel{gen: gen, opts: opts, log: log}
}

// Name returns the model identifier.
func (m *GeminiModel) Name() string {
	return fmt.Sprintf("genai:%s", m.opts.Model)
}

// Inference transcribes every page of the batch concurrently. The batch fails if any
// page still fails after its retries.
func (m *GeminiModel) Inference(ctx context.Context, pages []Page, earlyStopping bool) (*Output, error) {
	out := &Output{Predictions: make([]string, len(pages))}
	if len(pages) == 0 {
		return out, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Concurrency)
	for i := range pages {
		i := i
		g.Go(func() error {
			text, err := m.transcribe(ctx, pages[i])
			if err != nil {
				return fmt.Errorf("%s page %d: %w", pages[i].Doc, pages[i].Index, err)
			}
			if earlyStopping {
				text = trimRepetition(text)
			}
			out.Predictions[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *GeminiModel) transcribe(ctx context.Context, page Page) (string, error) {
	prompt := plainPrompt
	if m.opts.Markdown {
		prompt = markdownPrompt
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(page.Image, "image/png"),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}
	temperature := float32(0)
	config := &genai.GenerateContentConfig{Temperature: &temperature}

	var text string
	err := retryable(ctx, func() error {
		reqCtx := ctx
		if m.opts.Timeout > 0 {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, m.opts.Timeout)
			defer cancel()
		}
		resp, err := m.gen.GenerateContent(reqCtx, m.opts.Model, contents, config)
		if err != nil {
			return fmt.Errorf("failed to generate content: %w", err)
		}
		if resp == nil || len(resp.Candidates) == 0 {
			return fmt.Errorf("no candidates in response")
		}
		text = strings.TrimSpace(resp.Text())
		return nil
	}, m.opts.MaxRetries, m.opts.Backoff, m.log)
	return text, err
}

// retryable calls fn up to max+1 times, doubling the delay after each failure.
func retryable(ctx context.Context, fn func() error, max int, backoff time.Duration, log *zap.Logger) error {
	delay := backoff
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 0 {
				log.Debug("Attempt succeeded", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if attempt >= max || ctx.Err() != nil {
			return err
		}
		log.Debug("Attempt failed, retrying", zap.Int("attempt", attempt+1), zap.Duration("delay", delay), zap.Error(err))

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
		delay *= 2
	}
}
