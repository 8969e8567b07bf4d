package ocr

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	DefaultPrompt       = "Text Recognition:"
	DefaultMaxNewTokens = 8192
)

// Event is the platform job envelope: {"input": {...}}.
type Event struct {
	ID    string          `json:"id,omitempty"`
	Input json.RawMessage `json:"input"`
}

// Request is a handler input with defaults applied. A field of the wrong type
// does not fail decoding: the failure is kept and reported by Service.Run under
// the kind of the step that consumes the field.
type Request struct {
	Prompt       string `json:"prompt"`
	ImageURL     string `json:"image_url,omitempty"`
	ImageB64     string `json:"image_b64,omitempty"`
	MaxNewTokens int    `json:"max_new_tokens"`

	urlErr    error // image_url, image load
	b64Err    error // image_b64, image load
	promptErr error // prompt, inference
	budgetErr error // max_new_tokens, inference
}

// TokenBudget accepts a JSON integer, an integral float or a numeric string.
type TokenBudget int

func (t *TokenBudget) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
	}
	if n, err := strconv.Atoi(s); err == nil {
		*t = TokenBudget(n)
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return fmt.Errorf("max_new_tokens: %s is not an integer", s)
	}
	*t = TokenBudget(int(f))
	return nil
}

// ParseRequest decodes the "input" object of a job. Missing or null input is treated as {}.
// Only input that is not a JSON object fails here, as an image load error: no image
// source can be read from it.
func ParseRequest(raw []byte) (Request, error) {
	req := Request{Prompt: DefaultPrompt, MaxNewTokens: DefaultMaxNewTokens}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return req, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Request{}, imageLoadError(fmt.Errorf("input is not a JSON object: %v", err))
	}

	if v, ok := present(fields, "prompt"); ok {
		if err := json.Unmarshal(v, &req.Prompt); err != nil {
			req.Prompt = DefaultPrompt
			req.promptErr = fmt.Errorf("prompt must be a string: %v", err)
		}
	}
	if v, ok := present(fields, "image_url"); ok {
		if err := json.Unmarshal(v, &req.ImageURL); err != nil {
			req.urlErr = fmt.Errorf("image_url must be a string: %v", err)
		}
	}
	if v, ok := present(fields, "image_b64"); ok {
		if err := json.Unmarshal(v, &req.ImageB64); err != nil {
			req.b64Err = fmt.Errorf("image_b64 must be a string: %v", err)
		}
	}
	if v, ok := present(fields, "max_new_tokens"); ok {
		var n TokenBudget
		if err := json.Unmarshal(v, &n); err != nil {
			req.budgetErr = err
		} else {
			req.MaxNewTokens = int(n)
		}
	}
	return req, nil
}

// present returns the raw value of key unless it is missing or null.
func present(fields map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	v, ok := fields[key]
	if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return nil, false
	}
	return v, true
}

// ParseEvent decodes the platform envelope and its input.
func ParseEvent(raw []byte) (Request, error) {
	var ev Event
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &ev); err != nil {
			return Request{}, imageLoadError(fmt.Errorf("job is not a JSON object: %v", err))
		}
	}
	return ParseRequest(ev.Input)
}

// Response holds exactly one of Output or Error.
type Response struct {
	Output *string `json:"output,omitempty"`
	Error  string  `json:"error,omitempty"`
}

func Success(text string) Response { return Response{Output: &text} }

func Failure(err error) Response {
	if err == nil {
		err = errors.New("unknown error")
	}
	return Response{Error: err.Error()}
}

func (r Response) OK() bool { return r.Error == "" && r.Output != nil }

// Text returns the output, or "" for a failed response.
func (r Response) Text() string {
	if r.Output == nil {
		return ""
	}
	return *r.Output
}

func (r Response) MarshalJSON() ([]byte, error) {
	if r.Error != "" {
		return json.Marshal(struct {
			Error string `json:"error"`
		}{r.Error})
	}
	return json.Marshal(struct {
		Output string `json:"output"`
	}{r.Text()})
}
