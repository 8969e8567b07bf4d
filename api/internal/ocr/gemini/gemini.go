package gemini

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"glm-ocr/api/internal/ocr"
)

// Engine runs OCR prompts against a Gemini vision model. The client is created
// once in Load and shared by all requests.
type Engine struct {
	APIKey string
	Model  string

	mu     sync.Mutex
	client *genai.Client
	opts   []option.ClientOption
}

func New(apiKey, model string, opts ...option.ClientOption) *Engine {
	return &Engine{
		APIKey: strings.TrimSpace(apiKey),
		Model:  strings.TrimSpace(model),
		opts:   opts,
	}
}

func (e *Engine) Name() string     { return "gemini" }
func (e *Engine) GetModel() string { return e.Model }

func (e *Engine) Load(ctx context.Context) error {
	if e.APIKey == "" {
		return errors.New("GEMINI_API_KEY is empty")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		return nil
	}

	opts := append([]option.ClientOption{option.WithAPIKey(e.APIKey)}, e.opts...)
	cl, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return err
	}
	if _, err := cl.GenerativeModel(e.Model).Info(ctx); err != nil {
		_ = cl.Close()
		return fmt.Errorf("gemini model %s: %w", e.Model, err)
	}
	e.client = cl
	return nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	return err
}

func buildParts(p ocr.Prompt) []genai.Part {
	var parts []genai.Part
	for _, m := range p.Conversation() {
		for _, part := range m.Parts {
			switch part.Type {
			case ocr.PartImage:
				parts = append(parts, genai.Blob{MIMEType: part.Image.MIME, Data: part.Image.Data})
			case ocr.PartText:
				parts = append(parts, genai.Text(part.Text))
			}
		}
	}
	return parts
}

func (e *Engine) Generate(ctx context.Context, p ocr.Prompt) (string, error) {
	if p.Image == nil {
		return "", fmt.Errorf("gemini generate: image is nil")
	}
	e.mu.Lock()
	cl := e.client
	e.mu.Unlock()
	if cl == nil {
		return "", errors.New("gemini: model is not loaded")
	}

	budget := p.MaxNewTokens
	if budget > math.MaxInt32 {
		budget = math.MaxInt32
	}
	m := cl.GenerativeModel(e.Model)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:     ptrFloat32(0),
		MaxOutputTokens: ptrInt32(int32(budget)),
	}

	resp, err := m.GenerateContent(ctx, buildParts(p)...)
	if err != nil {
		return "", err
	}
	return allText(resp), nil
}

// allText concatenates the text parts of the first candidate that has content.
func allText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		var b strings.Builder
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		return b.String()
	}
	return ""
}

func ptrFloat32(v float32) *float32 { return &v }

func ptrInt32(v int32) *int32 { return &v }
