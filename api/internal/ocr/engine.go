package ocr

import (
	"context"
)

// Generator is a loaded vision-language model that can run one generation.
type Generator interface {
	Name() string
	GetModel() string
	// Load is called once at boot; the generator is then shared read-only.
	Load(ctx context.Context) error
	Generate(ctx context.Context, p Prompt) (string, error)
}

// Closer is implemented by generators owning a client that must be released.
type Closer interface {
	Close() error
}

// Prompt is one generation call: instruction, image and token budget.
type Prompt struct {
	Text         string
	Image        *Image
	MaxNewTokens int
}

type PartType string

const (
	PartImage PartType = "image"
	PartText  PartType = "text"
)

type Part struct {
	Type  PartType
	Text  string
	Image *Image
}

type Message struct {
	Role  string
	Parts []Part
}

// Conversation builds the single-turn chat input: one user message, image first, then text.
func (p Prompt) Conversation() []Message {
	return []Message{{
		Role: "user",
		Parts: []Part{
			{Type: PartImage, Image: p.Image},
			{Type: PartText, Text: p.Text},
		},
	}}
}
