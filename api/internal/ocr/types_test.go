package ocr

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseRequestDefaults(t *testing.T) {
	for _, raw := range []string{"", "null", "{}"} {
		req, err := ParseRequest([]byte(raw))
		if err != nil {
			t.Fatalf("ParseRequest(%q): %v", raw, err)
		}
		if req.Prompt != DefaultPrompt || req.MaxNewTokens != DefaultMaxNewTokens {
			t.Fatalf("ParseRequest(%q) = %+v, want defaults", raw, req)
		}
		if req.ImageURL != "" || req.ImageB64 != "" {
			t.Fatalf("ParseRequest(%q) has an image source: %+v", raw, req)
		}
	}
}

func TestParseRequestFields(t *testing.T) {
	req, err := ParseRequest([]byte(`{"prompt":"Table Recognition:","image_url":"https://x/y.png","image_b64":"AAAA","max_new_tokens":128}`))
	if err != nil {
		t.Fatal(err)
	}
	want := Request{Prompt: "Table Recognition:", ImageURL: "https://x/y.png", ImageB64: "AAAA", MaxNewTokens: 128}
	if req != want {
		t.Fatalf("got %+v, want %+v", req, want)
	}
}

func TestParseRequestEmptyPromptIsKept(t *testing.T) {
	req, err := ParseRequest([]byte(`{"prompt":""}`))
	if err != nil {
		t.Fatal(err)
	}
	if req.Prompt != "" {
		t.Fatalf("prompt = %q, want empty", req.Prompt)
	}
}

func TestTokenBudgetForms(t *testing.T) {
	cases := map[string]int{
		`{"max_new_tokens":64}`:     64,
		`{"max_new_tokens":64.0}`:   64,
		`{"max_new_tokens":"64"}`:   64,
		`{"max_new_tokens":" 7 "}`:  7,
		`{"max_new_tokens":0}`:      0,
		`{"max_new_tokens":null}`:   DefaultMaxNewTokens,
		`{"max_new_tokens":1e3}`:    1000,
		`{"max_new_tokens":"2048"}`: 2048,
	}
	for raw, want := range cases {
		req, err := ParseRequest([]byte(raw))
		if err != nil {
			t.Fatalf("%s: %v", raw, err)
		}
		if req.MaxNewTokens != want {
			t.Fatalf("%s: budget = %d, want %d", raw, req.MaxNewTokens, want)
		}
	}
}

func TestParseRequestNotAnObject(t *testing.T) {
	for _, raw := range []string{`[1,2]`, `"text"`, `{"prompt":`} {
		_, err := ParseRequest([]byte(raw))
		if KindOf(err) != KindImageLoad {
			t.Fatalf("ParseRequest(%s): err = %v, want image load error", raw, err)
		}
	}
	if _, err := ParseEvent([]byte(`{"input":`)); KindOf(err) != KindImageLoad {
		t.Fatalf("ParseEvent: err = %v, want image load error", err)
	}
}

func TestParseRequestKeepsFieldErrors(t *testing.T) {
	cases := []struct {
		raw      string
		urlErr   bool
		b64Err   bool
		inferErr bool
	}{
		{raw: `{"image_url":123}`, urlErr: true},
		{raw: `{"image_b64":{"a":1}}`, b64Err: true},
		{raw: `{"prompt":42}`, inferErr: true},
		{raw: `{"max_new_tokens":1.5}`, inferErr: true},
		{raw: `{"max_new_tokens":"many"}`, inferErr: true},
		{raw: `{"max_new_tokens":true}`, inferErr: true},
	}
	for _, c := range cases {
		req, err := ParseRequest([]byte(c.raw))
		if err != nil {
			t.Fatalf("%s: %v", c.raw, err)
		}
		if (req.urlErr != nil) != c.urlErr || (req.b64Err != nil) != c.b64Err {
			t.Fatalf("%s: image field errors = %v / %v", c.raw, req.urlErr, req.b64Err)
		}
		if (firstErr(req.promptErr, req.budgetErr) != nil) != c.inferErr {
			t.Fatalf("%s: inference field errors = %v / %v", c.raw, req.promptErr, req.budgetErr)
		}
	}
}

func TestParseRequestNegativeBudgetPassesThrough(t *testing.T) {
	req, err := ParseRequest([]byte(`{"max_new_tokens":-1}`))
	if err != nil {
		t.Fatal(err)
	}
	if req.MaxNewTokens != -1 {
		t.Fatalf("budget = %d, want -1", req.MaxNewTokens)
	}
}

func TestParseEvent(t *testing.T) {
	req, err := ParseEvent([]byte(`{"id":"job-1","input":{"image_url":"https://x/a.jpg"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if req.ImageURL != "https://x/a.jpg" || req.Prompt != DefaultPrompt {
		t.Fatalf("got %+v", req)
	}

	req, err = ParseEvent([]byte(`{"id":"job-2"}`))
	if err != nil {
		t.Fatal(err)
	}
	if req.MaxNewTokens != DefaultMaxNewTokens {
		t.Fatalf("missing input: got %+v", req)
	}
}

func TestResponseJSONHasOneKey(t *testing.T) {
	cases := []struct {
		resp Response
		want string
	}{
		{Success("hello"), `{"output":"hello"}`},
		{Success(""), `{"output":""}`},
		{Response{Error: "inference error: boom"}, `{"error":"inference error: boom"}`},
		{Response{Output: ptr("ignored"), Error: "failed"}, `{"error":"failed"}`},
	}
	for _, c := range cases {
		b, err := json.Marshal(c.resp)
		if err != nil {
			t.Fatal(err)
		}
		if string(b) != c.want {
			t.Fatalf("Marshal(%+v) = %s, want %s", c.resp, b, c.want)
		}
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			t.Fatal(err)
		}
		if len(m) != 1 {
			t.Fatalf("%s has %d keys", b, len(m))
		}
	}
}

func TestResponseRoundTripThroughEnvelope(t *testing.T) {
	b, _ := json.Marshal(map[string]any{"output": Success("text")})
	var env struct {
		Output Response `json:"output"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		t.Fatal(err)
	}
	if !env.Output.OK() || env.Output.Text() != "text" {
		t.Fatalf("got %+v", env.Output)
	}
}

func TestFailureNil(t *testing.T) {
	r := Failure(nil)
	if r.OK() || !strings.Contains(r.Error, "unknown") {
		t.Fatalf("got %+v", r)
	}
}

func ptr(s string) *string { return &s }
