// Package calling provides a client for the outbound voice-calling service.
package calling

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/recruit-orchestrator/internal/model"
	"github.com/sells-group/recruit-orchestrator/internal/resilience"
)

const defaultBaseURL = "http://127.0.0.1:8002"

// Service acknowledgements.
const (
	StatusStarted   = "started"
	StatusCancelled = "cancelled"
)

// Client drives calling runs. Runs are keyed by the numeric pipeline id.
type Client interface {
	// StartCalls begins calling every candidate and returns the service status.
	StartCalls(ctx context.Context, pipelineID int, candidates []model.CandidateRecord) (string, error)
	// CheckStatus returns per-candidate call progress.
	CheckStatus(ctx context.Context, pipelineID int) ([]model.CallStatus, error)
	// Cancel aborts outstanding call attempts.
	Cancel(ctx context.Context, pipelineID int) (string, error)
}

type statusResponse struct {
	Status string `json:"status"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default service URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a calling service client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) StartCalls(ctx context.Context, pipelineID int, candidates []model.CandidateRecord) (string, error) {
	if candidates == nil {
		candidates = []model.CandidateRecord{}
	}
	var out statusResponse
	if err := c.post(ctx, "/call_webhook", pipelineID, candidates, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func (c *httpClient) CheckStatus(ctx context.Context, pipelineID int) ([]model.CallStatus, error) {
	var out []model.CallStatus
	if err := c.post(ctx, "/check_status", pipelineID, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *httpClient) Cancel(ctx context.Context, pipelineID int) (string, error) {
	var out statusResponse
	if err := c.post(ctx, "/kill_task", pipelineID, nil, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func (c *httpClient) post(ctx context.Context, path string, pipelineID int, in, out any) error {
	q := url.Values{}
	q.Set("index", strconv.Itoa(pipelineID))

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return eris.Wrap(err, "calling: marshal request")
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path+"?"+q.Encode(), body)
	if err != nil {
		return eris.Wrap(err, "calling: create request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "calling: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "calling: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return resilience.StatusError("calling", resp.StatusCode, respBody)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return eris.Wrap(err, "calling: unmarshal response")
	}
	return nil
}
