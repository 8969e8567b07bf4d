package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ollama/ollama/api"

	"glm-ocr/api/internal/ocr"
)

func TestLoadAndGenerate(t *testing.T) {
	var chat api.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.WriteHeader(http.StatusOK)
		case "/api/show":
			_ = json.NewEncoder(w).Encode(api.ShowResponse{})
		case "/api/chat":
			if err := json.NewDecoder(r.Body).Decode(&chat); err != nil {
				t.Errorf("decode chat: %v", err)
			}
			_ = json.NewEncoder(w).Encode(api.ChatResponse{
				Model:   "glm-ocr",
				Message: api.Message{Role: "assistant", Content: "Invoice #42"},
				Done:    true,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	e, err := New(srv.URL, "glm-ocr", false)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	img := &ocr.Image{MIME: "image/png", Data: []byte("png-bytes")}
	text, err := e.Generate(context.Background(), ocr.Prompt{Text: "Text Recognition:", Image: img, MaxNewTokens: 99})
	if err != nil {
		t.Fatal(err)
	}
	if text != "Invoice #42" {
		t.Fatalf("text = %q", text)
	}

	if chat.Model != "glm-ocr" || chat.Stream == nil || *chat.Stream {
		t.Fatalf("chat request = %+v", chat)
	}
	if len(chat.Messages) != 1 || chat.Messages[0].Content != "Text Recognition:" || len(chat.Messages[0].Images) != 1 {
		t.Fatalf("messages = %+v", chat.Messages)
	}
	if string(chat.Messages[0].Images[0]) != "png-bytes" {
		t.Fatal("image bytes not forwarded")
	}
	if n, ok := chat.Options["num_predict"].(float64); !ok || n != 99 {
		t.Fatalf("num_predict = %v", chat.Options["num_predict"])
	}
}

func TestLoadPullsMissingModel(t *testing.T) {
	var pulled atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
		case "/api/show":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"model 'glm-ocr' not found"}`))
		case "/api/pull":
			pulled.Store(true)
			_ = json.NewEncoder(w).Encode(api.ProgressResponse{Status: "success"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	e, _ := New(srv.URL, "glm-ocr", false)
	if err := e.Load(context.Background()); err == nil {
		t.Fatal("expected error without pull")
	}

	e, _ = New(srv.URL, "glm-ocr", true)
	if err := e.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !pulled.Load() {
		t.Fatal("model was not pulled")
	}
}
