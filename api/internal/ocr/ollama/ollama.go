package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"glm-ocr/api/internal/ocr"
)

// Engine runs the OCR model through a local Ollama daemon.
type Engine struct {
	Model string
	// Pull downloads the model on Load when the daemon does not have it.
	Pull   bool
	client *api.Client
}

// New uses OLLAMA_HOST when host is empty.
func New(host, model string, pull bool) (*Engine, error) {
	var (
		client *api.Client
		err    error
	)
	if strings.TrimSpace(host) == "" {
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, err
		}
	} else {
		u, err := url.Parse(strings.TrimSpace(host))
		if err != nil {
			return nil, fmt.Errorf("ollama host %q: %w", host, err)
		}
		client = api.NewClient(u, http.DefaultClient)
	}
	return &Engine{Model: strings.TrimSpace(model), Pull: pull, client: client}, nil
}

func (e *Engine) Name() string     { return "ollama" }
func (e *Engine) GetModel() string { return e.Model }

func (e *Engine) Load(ctx context.Context) error {
	if err := e.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("ollama heartbeat: %w", err)
	}
	_, err := e.client.Show(ctx, &api.ShowRequest{Model: e.Model})
	if err == nil {
		return nil
	}
	var se api.StatusError
	if !e.Pull || !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		return fmt.Errorf("ollama show %s: %w", e.Model, err)
	}
	return e.client.Pull(ctx, &api.PullRequest{Model: e.Model}, func(api.ProgressResponse) error { return nil })
}

func buildMessages(p ocr.Prompt) []api.Message {
	conv := p.Conversation()
	msgs := make([]api.Message, 0, len(conv))
	for _, m := range conv {
		am := api.Message{Role: m.Role}
		var text []string
		for _, part := range m.Parts {
			switch part.Type {
			case ocr.PartImage:
				am.Images = append(am.Images, api.ImageData(part.Image.Data))
			case ocr.PartText:
				text = append(text, part.Text)
			}
		}
		am.Content = strings.Join(text, "\n")
		msgs = append(msgs, am)
	}
	return msgs
}

func (e *Engine) Generate(ctx context.Context, p ocr.Prompt) (string, error) {
	if p.Image == nil {
		return "", fmt.Errorf("ollama generate: image is nil")
	}
	stream := false
	req := &api.ChatRequest{
		Model:    e.Model,
		Messages: buildMessages(p),
		Stream:   &stream,
		Options: map[string]any{
			"num_predict": p.MaxNewTokens,
			"temperature": 0,
		},
	}

	var b strings.Builder
	err := e.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		b.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}
