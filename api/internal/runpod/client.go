package runpod

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"glm-ocr/api/internal/ocr"
	"glm-ocr/api/internal/util"
)

const (
	DefaultBaseURL  = "https://api.runpod.ai/v2"
	StatusCompleted = "COMPLETED"
)

var ErrJobNotCompleted = errors.New("job not completed")

// StatusError is a non-2xx answer of the endpoint API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("endpoint %d: %s", e.StatusCode, util.Truncate(strings.TrimSpace(e.Body), 2048))
}

// RunSyncResult is the endpoint's job envelope.
type RunSyncResult struct {
	ID            string          `json:"id"`
	Status        string          `json:"status"`
	Output        json.RawMessage `json:"output,omitempty"`
	Error         string          `json:"error,omitempty"`
	DelayTime     int64           `json:"delayTime,omitempty"`
	ExecutionTime int64           `json:"executionTime,omitempty"`

	Raw []byte `json:"-"`
}

func (r *RunSyncResult) Completed() bool { return r.Status == StatusCompleted }

// HandlerResponse decodes Output as the worker's {output}|{error} object.
func (r *RunSyncResult) HandlerResponse() (ocr.Response, error) {
	var resp ocr.Response
	if len(bytes.TrimSpace(r.Output)) == 0 || bytes.Equal(bytes.TrimSpace(r.Output), []byte("null")) {
		return resp, errors.New("job output is empty")
	}
	if err := json.Unmarshal(r.Output, &resp); err != nil {
		return resp, fmt.Errorf("job output: %w", err)
	}
	return resp, nil
}

// Client submits jobs to a deployed endpoint.
type Client struct {
	BaseURL    string
	EndpointID string
	APIKey     string
	httpc      *http.Client
}

func NewClient(baseURL, endpointID, apiKey string) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		EndpointID: strings.TrimSpace(endpointID),
		APIKey:     strings.TrimSpace(apiKey),
		// таймаут задаётся на запрос через контекст: wait + запас
		httpc: &http.Client{},
	}
}

func (c *Client) WithHTTPClient(h *http.Client) *Client {
	if h != nil {
		c.httpc = h
	}
	return c
}

// RunSync posts {"input": input} and blocks up to wait for the job to finish.
func (c *Client) RunSync(ctx context.Context, input any, wait time.Duration) (*RunSyncResult, error) {
	if c.EndpointID == "" {
		return nil, errors.New("endpoint id is empty")
	}
	payload, err := json.Marshal(map[string]any{"input": input})
	if err != nil {
		return nil, err
	}

	u := c.BaseURL + "/" + url.PathEscape(c.EndpointID) + "/runsync"
	if wait > 0 {
		u += "?wait=" + strconv.FormatInt(wait.Milliseconds(), 10)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wait+10*time.Second)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	// ключ передаётся как есть, без "Bearer "
	if c.APIKey != "" {
		req.Header.Set("Authorization", c.APIKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var out RunSyncResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("runsync: bad JSON: %w", err)
	}
	out.Raw = raw
	return &out, nil
}

// Recognize submits one OCR request. A handler-level error is returned in the
// Response, not as err.
func (c *Client) Recognize(ctx context.Context, in ocr.Request, wait time.Duration) (ocr.Response, error) {
	input := map[string]any{"prompt": in.Prompt}
	if in.ImageURL != "" {
		input["image_url"] = in.ImageURL
	}
	if in.ImageB64 != "" {
		input["image_b64"] = in.ImageB64
	}
	if in.MaxNewTokens > 0 {
		input["max_new_tokens"] = in.MaxNewTokens
	}

	res, err := c.RunSync(ctx, input, wait)
	if err != nil {
		return ocr.Response{}, err
	}
	if !res.Completed() {
		return ocr.Response{}, fmt.Errorf("%w: status %q", ErrJobNotCompleted, res.Status)
	}
	return res.HandlerResponse()
}
