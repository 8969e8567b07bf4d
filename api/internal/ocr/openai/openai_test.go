package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"glm-ocr/api/internal/ocr"
)

func fakeServer(t *testing.T, models []string, reply string, got *chatRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("Authorization = %q", auth)
		}
		switch r.URL.Path {
		case "/v1/models":
			data := make([]map[string]string, 0, len(models))
			for _, m := range models {
				data = append(data, map[string]string{"id": m})
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
		case "/v1/chat/completions":
			if got != nil {
				if err := json.NewDecoder(r.Body).Decode(got); err != nil {
					t.Errorf("decode body: %v", err)
				}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{{"message": map[string]string{"content": reply}, "finish_reason": "stop"}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
}

func testImage() *ocr.Image {
	return &ocr.Image{Width: 1, Height: 1, MIME: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}
}

func TestLoad(t *testing.T) {
	srv := fakeServer(t, []string{"other", "zai-org/GLM-OCR"}, "", nil)
	defer srv.Close()

	if err := New(srv.URL+"/v1/", "sk-test", "zai-org/GLM-OCR").Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	err := New(srv.URL+"/v1", "sk-test", "missing").Load(context.Background())
	if err == nil || !strings.Contains(err.Error(), "not served") {
		t.Fatalf("err = %v", err)
	}
}

func TestGenerate(t *testing.T) {
	var got chatRequest
	srv := fakeServer(t, nil, "Hello <|end_of_box|>", &got)
	defer srv.Close()

	e := New(srv.URL+"/v1", "sk-test", "zai-org/GLM-OCR")
	text, err := e.Generate(context.Background(), ocr.Prompt{Text: "Text Recognition:", Image: testImage(), MaxNewTokens: 512})
	if err != nil {
		t.Fatal(err)
	}
	if text != "Hello <|end_of_box|>" {
		t.Fatalf("text = %q", text)
	}

	if got.Model != "zai-org/GLM-OCR" || got.MaxTokens != 512 || got.Temperature != 0 || got.Stream {
		t.Fatalf("request = %+v", got)
	}
	if got.SkipSpecialTokens {
		t.Fatal("special tokens must be kept")
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" || len(got.Messages[0].Content) != 2 {
		t.Fatalf("messages = %+v", got.Messages)
	}
	img, txt := got.Messages[0].Content[0], got.Messages[0].Content[1]
	if img.Type != "image_url" || img.ImageURL == nil || !strings.HasPrefix(img.ImageURL.URL, "data:image/png;base64,") {
		t.Fatalf("first part = %+v", img)
	}
	if txt.Type != "text" || txt.Text != "Text Recognition:" {
		t.Fatalf("second part = %+v", txt)
	}
}

func TestGenerateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"CUDA out of memory"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "", "m").Generate(context.Background(), ocr.Prompt{Text: "x", Image: testImage(), MaxNewTokens: 1})
	if err == nil || !strings.Contains(err.Error(), "500") || !strings.Contains(err.Error(), "CUDA out of memory") {
		t.Fatalf("err = %v", err)
	}
}

func TestGenerateNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "", "m").Generate(context.Background(), ocr.Prompt{Text: "x", Image: testImage(), MaxNewTokens: 1})
	if err == nil || !strings.Contains(err.Error(), "empty response") {
		t.Fatalf("err = %v", err)
	}
}
