package handle

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"glm-ocr/api/internal/ocr"
	"glm-ocr/api/internal/util"
)

const maxBodyBytes = 96 << 20

// JobResult mirrors the hosting platform's synchronous-run envelope.
type JobResult struct {
	ID            string       `json:"id"`
	Status        string       `json:"status"`
	Output        ocr.Response `json:"output"`
	ExecutionTime int64        `json:"executionTime"`
}

// RunSync handles POST /runsync and /run: {"input": {...}} → job envelope.
func (h *Handle) RunSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "POST only"})
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body: " + err.Error()})
		return
	}
	if len(bytes.TrimSpace(raw)) > 0 && !json.Valid(raw) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json: request body is not valid JSON"})
		return
	}

	ctx := r.Context()
	if deadline := requestDeadline(r); deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	id := uuid.NewString()
	start := time.Now()
	var out ocr.Response
	if req, err := ocr.ParseEvent(raw); err != nil {
		out = ocr.Failure(err)
	} else {
		out = h.svc.Handle(ctx, req)
	}
	elapsed := time.Since(start)
	h.log.Infow("local job finished", "job_id", id, "ok", out.OK(), "elapsed", elapsed.Round(time.Millisecond))

	writeJSON(w, http.StatusOK, JobResult{
		ID:            id,
		Status:        "COMPLETED",
		Output:        out,
		ExecutionTime: elapsed.Milliseconds(),
	})
}

// requestDeadline reads X-Request-Timeout or ?timeoutSec (seconds); 0 means none.
func requestDeadline(r *http.Request) time.Duration {
	ts := util.FirstNonEmpty(r.Header.Get("X-Request-Timeout"), r.URL.Query().Get("timeoutSec"))
	if ts == "" {
		return 0
	}
	if v, _ := strconv.Atoi(ts); v > 0 {
		return time.Duration(v) * time.Second
	}
	return 0
}

func (h *Handle) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"backend": h.svc.Backend(),
		"model":   h.svc.Model(),
	})
}

func (h *Handle) Prompts(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]string)
	for _, name := range util.PromptNames() {
		if p, err := util.LoadPrompt(name); err == nil {
			out[name] = p
		}
	}
	writeJSON(w, http.StatusOK, out)
}
