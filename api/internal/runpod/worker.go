package runpod

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"glm-ocr/api/internal/ocr"
)

// Handler is the per-job callback; the raw job body is {"id": ..., "input": {...}}.
type Handler interface {
	HandleEvent(ctx context.Context, raw []byte) ocr.Response
}

type WorkerConfig struct {
	JobGetURL    string // $ID → worker id
	JobDoneURL   string // $ID → job id, $RUNPOD_POD_ID → worker id
	PingURL      string // $RUNPOD_POD_ID → worker id
	PingInterval time.Duration
	WorkerID     string
	APIKey       string
}

// Worker pulls jobs from the platform one at a time and posts each result back.
type Worker struct {
	cfg   WorkerConfig
	h     Handler
	httpc *http.Client
	log   *zap.SugaredLogger

	mu         sync.Mutex
	currentJob string

	idleDelay time.Duration
}

type job struct {
	ID  string `json:"id"`
	raw []byte
}

func NewWorker(cfg WorkerConfig, h Handler, log *zap.SugaredLogger) (*Worker, error) {
	if cfg.JobGetURL == "" || cfg.JobDoneURL == "" {
		return nil, errors.New("RUNPOD_WEBHOOK_GET_JOB and RUNPOD_WEBHOOK_POST_OUTPUT are required in serverless mode")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	// GET job держит соединение, пока нет задачи
	return &Worker{
		cfg:       cfg,
		h:         h,
		httpc:     &http.Client{Timeout: 90 * time.Second},
		log:       log,
		idleDelay: 200 * time.Millisecond,
	}, nil
}

func (w *Worker) WithHTTPClient(c *http.Client) *Worker {
	if c != nil {
		w.httpc = c
	}
	return w
}

// Run polls for jobs until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	if w.cfg.PingURL != "" && w.cfg.PingInterval > 0 {
		go w.heartbeat(ctx)
	}
	w.log.Infow("worker started", "worker_id", w.cfg.WorkerID)

	baseDelay := 1 * time.Second
	maxDelay := 15 * time.Second

	for {
		select {
		case <-ctx.Done():
			w.log.Infow("worker stopping", "reason", ctx.Err())
			return nil
		default:
		}

		j, err := w.nextJob(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			d := retryDelayFromError(err)
			if d < baseDelay {
				d = baseDelay
			}
			if d > maxDelay {
				d = maxDelay
			}
			w.log.Warnw("get job failed", "err", err, "retry_in", d)
			sleep(ctx, d)
			continue
		}
		if j == nil {
			sleep(ctx, w.idleDelay)
			continue
		}
		w.runJob(ctx, j)
	}
}

func (w *Worker) nextJob(ctx context.Context) (*job, error) {
	u, err := url.Parse(strings.ReplaceAll(w.cfg.JobGetURL, "$ID", w.cfg.WorkerID))
	if err != nil {
		return nil, fmt.Errorf("job url: %w", err)
	}
	q := u.Query()
	q.Set("job_in_progress", "0")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	w.authorize(req)

	resp, err := w.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, nil
	case http.StatusOK:
	default:
		x, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("get job %d: %s", resp.StatusCode, strings.TrimSpace(string(x)))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var j job
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, fmt.Errorf("get job: bad JSON: %w", err)
	}
	if j.ID == "" {
		return nil, errors.New("get job: job has no id")
	}
	j.raw = raw
	return &j, nil
}

func (w *Worker) runJob(ctx context.Context, j *job) {
	w.setCurrentJob(j.ID)
	defer w.setCurrentJob("")

	start := time.Now()
	resp := w.h.HandleEvent(ctx, j.raw)
	w.log.Infow("job finished", "job_id", j.ID, "ok", resp.OK(), "elapsed", time.Since(start).Round(time.Millisecond))

	body, err := json.Marshal(map[string]any{"output": resp})
	if err != nil {
		w.log.Errorw("encode job output", "job_id", j.ID, "err", err)
		return
	}

	// результат задачи доставляем до 3 раз; саму задачу не перезапускаем
	for attempt := 1; attempt <= 3; attempt++ {
		if err = w.postOutput(ctx, j.ID, body); err == nil {
			return
		}
		w.log.Warnw("post job output failed", "job_id", j.ID, "attempt", attempt, "err", err)
		sleep(ctx, time.Duration(attempt)*500*time.Millisecond)
	}
	w.log.Errorw("job output lost", "job_id", j.ID, "err", err)
}

func (w *Worker) postOutput(ctx context.Context, jobID string, body []byte) error {
	raw := strings.ReplaceAll(w.cfg.JobDoneURL, "$RUNPOD_POD_ID", w.cfg.WorkerID)
	raw = strings.ReplaceAll(raw, "$ID", jobID)
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("output url: %w", err)
	}
	q := u.Query()
	q.Set("isStream", "false")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	w.authorize(req)

	resp, err := w.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post output %d", resp.StatusCode)
	}
	return nil
}

func (w *Worker) heartbeat(ctx context.Context) {
	t := time.NewTicker(w.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := w.ping(ctx); err != nil && ctx.Err() == nil {
				w.log.Debugw("heartbeat failed", "err", err)
			}
		}
	}
}

func (w *Worker) ping(ctx context.Context) error {
	u, err := url.Parse(strings.ReplaceAll(w.cfg.PingURL, "$RUNPOD_POD_ID", w.cfg.WorkerID))
	if err != nil {
		return err
	}
	q := u.Query()
	if id := w.CurrentJob(); id != "" {
		q.Set("job_id", id)
	}
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(ctx, w.cfg.PingInterval)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	w.authorize(req)
	resp, err := w.httpc.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (w *Worker) authorize(req *http.Request) {
	if w.cfg.APIKey != "" {
		req.Header.Set("Authorization", w.cfg.APIKey)
	}
}

func (w *Worker) setCurrentJob(id string) {
	w.mu.Lock()
	w.currentJob = id
	w.mu.Unlock()
}

// CurrentJob is the id of the job in progress, or "".
func (w *Worker) CurrentJob() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentJob
}

func retryDelayFromError(err error) time.Duration {
	if err == nil {
		return 0
	}
	if strings.Contains(err.Error(), " 429") {
		return 3 * time.Second
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return 2 * time.Second
	}
	return 1 * time.Second
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
