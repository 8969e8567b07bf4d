package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"glm-ocr/api/internal/ocr"
	"glm-ocr/api/internal/util"
)

// Engine talks to an OpenAI-compatible chat-completions server (vLLM, SGLang)
// that serves the OCR model.
type Engine struct {
	BaseURL string
	APIKey  string
	Model   string
	httpc   *http.Client
}

func New(baseURL, key, model string) *Engine {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
	}

	return &Engine{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		APIKey:  strings.TrimSpace(key),
		Model:   strings.TrimSpace(model),
		// Timeout=0: генерация ограничена только бюджетом токенов
		httpc: &http.Client{
			Timeout:   0,
			Transport: tr,
		},
	}
}

// WithHTTPClient overrides the internal HTTP client (e.g., for custom timeouts or tracing).
func (e *Engine) WithHTTPClient(c *http.Client) *Engine {
	if c != nil {
		e.httpc = c
	}
	return e
}

func (e *Engine) Name() string     { return "openai" }
func (e *Engine) GetModel() string { return e.Model }

// Load checks that the server is up and serves the configured model.
func (e *Engine) Load(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.BaseURL+"/models", nil)
	if err != nil {
		return err
	}
	e.authorize(req)

	resp, err := e.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		x, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("openai models %d: %s", resp.StatusCode, strings.TrimSpace(string(x)))
	}

	var out struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("openai models: bad JSON: %w", err)
	}
	served := make([]string, 0, len(out.Data))
	for _, m := range out.Data {
		if m.ID == e.Model {
			return nil
		}
		served = append(served, m.ID)
	}
	return fmt.Errorf("model %q is not served by %s (served: %s)", e.Model, e.BaseURL, strings.Join(served, ", "))
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`

	// vLLM extensions: keep special-token markup in the decoded text.
	SkipSpecialTokens          bool `json:"skip_special_tokens"`
	SpacesBetweenSpecialTokens bool `json:"spaces_between_special_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func buildMessages(p ocr.Prompt) []chatMessage {
	conv := p.Conversation()
	msgs := make([]chatMessage, 0, len(conv))
	for _, m := range conv {
		cm := chatMessage{Role: m.Role}
		for _, part := range m.Parts {
			switch part.Type {
			case ocr.PartImage:
				cm.Content = append(cm.Content, contentPart{Type: "image_url", ImageURL: &imageURL{URL: part.Image.DataURL()}})
			case ocr.PartText:
				cm.Content = append(cm.Content, contentPart{Type: "text", Text: part.Text})
			}
		}
		msgs = append(msgs, cm)
	}
	return msgs
}

// Generate runs one greedy completion. The server returns only newly generated text.
func (e *Engine) Generate(ctx context.Context, p ocr.Prompt) (string, error) {
	if p.Image == nil {
		return "", fmt.Errorf("openai generate: image is nil")
	}
	body := chatRequest{
		Model:       e.Model,
		Messages:    buildMessages(p),
		MaxTokens:   p.MaxNewTokens,
		Temperature: 0,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	e.authorize(req)

	resp, err := e.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openai generate %d: %s", resp.StatusCode, util.Truncate(strings.TrimSpace(string(raw)), 1024))
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("openai generate: bad JSON: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("openai generate: empty response; body=%s", util.TruncateBytes(raw, 1024))
	}
	return out.Choices[0].Message.Content, nil
}

func (e *Engine) authorize(req *http.Request) {
	if e.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.APIKey)
	}
}
