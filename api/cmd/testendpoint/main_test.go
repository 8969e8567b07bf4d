package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"glm-ocr/api/internal/runpod"
)

func result(t *testing.T, raw string) *runpod.RunSyncResult {
	t.Helper()
	var r runpod.RunSyncResult
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		t.Fatal(err)
	}
	r.Raw = []byte(raw)
	return &r
}

func TestReport(t *testing.T) {
	cases := []struct {
		name   string
		res    *runpod.RunSyncResult
		err    error
		code   int
		stdout string
		stderr string
	}{
		{
			name:   "success",
			res:    result(t, `{"status":"COMPLETED","output":{"output":"Hello"},"executionTime":1200}`),
			stdout: "--- OCR result ---\nHello\n---\nExecution time: 1200 ms\n",
		},
		{
			name:   "handler error",
			res:    result(t, `{"status":"COMPLETED","output":{"error":"failed to load image: x"}}`),
			code:   1,
			stderr: "Error from handler: failed to load image: x",
		},
		{
			name:   "not completed",
			res:    result(t, `{"id":"j","status":"IN_PROGRESS"}`),
			code:   1,
			stdout: "Job status: IN_PROGRESS",
		},
		{
			name:   "http error",
			err:    &runpod.StatusError{StatusCode: 401, Body: "unauthorized"},
			code:   1,
			stderr: "Error 401: unauthorized",
		},
		{
			name:   "transport error",
			err:    errors.New("dial tcp: refused"),
			code:   1,
			stderr: "Request failed: dial tcp: refused",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var out, errb bytes.Buffer
			code := report(c.res, c.err, false, &out, &errb)
			if code != c.code {
				t.Fatalf("code = %d, want %d", code, c.code)
			}
			if !strings.Contains(out.String(), c.stdout) {
				t.Fatalf("stdout = %q, want %q", out.String(), c.stdout)
			}
			if !strings.Contains(errb.String(), c.stderr) {
				t.Fatalf("stderr = %q, want %q", errb.String(), c.stderr)
			}
		})
	}
}

func TestRunMissingImage(t *testing.T) {
	var out, errb bytes.Buffer
	opts := options{EndpointID: "ep", APIKey: "k"}
	path := filepath.Join(t.TempDir(), "test.jpg")
	if code := run(context.Background(), opts, path, &out, &errb); code != 1 {
		t.Fatalf("code = %d", code)
	}
	if !strings.Contains(errb.String(), "Error: Test image not found at "+path) {
		t.Fatalf("stderr = %q", errb.String())
	}
}

func TestRunMissingCredentials(t *testing.T) {
	var out, errb bytes.Buffer
	if code := run(context.Background(), options{}, "test.jpg", &out, &errb); code != 1 {
		t.Fatalf("code = %d", code)
	}
}

func TestRunSendsDataURL(t *testing.T) {
	var input map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env struct {
			Input map[string]any `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&env)
		input = env.Input
		_, _ = w.Write([]byte(`{"status":"COMPLETED","output":{"output":"ok"}}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "test.jpg")
	if err := os.WriteFile(path, []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0}, 0o644); err != nil {
		t.Fatal(err)
	}
	opts := options{EndpointID: "ep", APIKey: "k", BaseURL: srv.URL, Prompt: "Text Recognition:", Wait: time.Second}

	var out, errb bytes.Buffer
	if code := run(context.Background(), opts, path, &out, &errb); code != 0 {
		t.Fatalf("code = %d stderr=%s", code, errb.String())
	}
	url, _ := input["image_url"].(string)
	if !strings.HasPrefix(url, "data:image/jpeg;base64,") {
		t.Fatalf("image_url = %.40q", url)
	}
	if _, ok := input["max_new_tokens"]; ok {
		t.Fatal("max_new_tokens sent without --max-new-tokens")
	}
}
