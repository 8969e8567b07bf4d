package telegram

import (
	"strings"
	"sync"

	"glm-ocr/api/internal/ocr"
	"glm-ocr/api/internal/util"
)

// PromptManager хранит инструкцию OCR, выбранную в чате.
type PromptManager struct {
	def string
	m   sync.Map // chatID -> string
}

func NewPromptManager(defaultPrompt string) *PromptManager {
	if strings.TrimSpace(defaultPrompt) == "" {
		defaultPrompt = ocr.DefaultPrompt
	}
	return &PromptManager{def: defaultPrompt}
}

func (m *PromptManager) Get(chatID int64) string {
	if v, ok := m.m.Load(chatID); ok {
		return v.(string)
	}
	return m.def
}

func (m *PromptManager) Set(chatID int64, prompt string) {
	m.m.Store(chatID, prompt)
}

func (m *PromptManager) Reset(chatID int64) {
	m.m.Delete(chatID)
}

// Resolve maps a preset name ("table") to its instruction; other text is used as is.
func Resolve(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if !strings.ContainsAny(text, " :") {
		if p, err := util.LoadPrompt(text); err == nil {
			return p
		}
	}
	return text
}
