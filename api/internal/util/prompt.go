package util

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Встроенные инструкции GLM-OCR; файл <PROMPT_DIR>/<name>.txt перекрывает встроенную.
var builtinPrompts = map[string]string{
	"text":    "Text Recognition:",
	"formula": "Formula Recognition:",
	"table":   "Table Recognition:",
}

// LoadPrompt resolves a named prompt preset.
func LoadPrompt(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "", fmt.Errorf("prompt name is empty")
	}
	if dir := os.Getenv("PROMPT_DIR"); dir != "" {
		p := filepath.Join(dir, name+".txt")
		if b, err := os.ReadFile(p); err == nil && len(b) > 0 {
			return strings.TrimSpace(string(b)), nil
		}
	}
	if s, ok := builtinPrompts[name]; ok {
		return s, nil
	}
	return "", fmt.Errorf("prompt %q not found (known: %s)", name, strings.Join(PromptNames(), ", "))
}

func PromptNames() []string {
	names := make([]string, 0, len(builtinPrompts))
	for k := range builtinPrompts {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
