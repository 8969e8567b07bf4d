package handle

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"glm-ocr/api/internal/ocr"
)

// Service is the loaded model service the handlers delegate to.
type Service interface {
	Handle(ctx context.Context, req ocr.Request) ocr.Response
	Backend() string
	Model() string
}

type Handle struct {
	svc Service
	log *zap.SugaredLogger
}

func New(svc Service, log *zap.SugaredLogger) *Handle {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handle{
		svc: svc,
		log: log,
	}
}

// Routes registers the local API on mux.
func (h *Handle) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.Healthz)
	mux.HandleFunc("/runsync", h.RunSync)
	mux.HandleFunc("/run", h.RunSync)
	mux.HandleFunc("/prompts", h.Prompts)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
