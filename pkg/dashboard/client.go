// Package dashboard provides a client for the observer dashboard. Every call
// is fire-and-forget from the orchestrator's point of view.
package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/recruit-orchestrator/internal/model"
	"github.com/sells-group/recruit-orchestrator/internal/resilience"
)

const defaultBaseURL = "http://localhost:8765"

// Client pushes pipeline events to the dashboard.
type Client interface {
	UpdateStatus(ctx context.Context, req StatusUpdate) error
	BroadcastCandidates(ctx context.Context, req CandidatesBroadcast) error
	BroadcastPipeline(ctx context.Context, req PipelineBroadcast) error
}

// StatusUpdate is the body of POST /update_pipeline_status.
type StatusUpdate struct {
	PipelineID     string            `json:"index_of_pipeline"`
	ComponentIndex int               `json:"index_of_component"`
	StateChanges   model.StatusDelta `json:"state_changes"`
	Stats          *model.CallStats  `json:"clients_stats,omitempty"`
}

// CandidatesBroadcast is the body of POST /broadcast_candidates.
type CandidatesBroadcast struct {
	PipelineID string                  `json:"index_of_pipeline"`
	Candidates []model.CandidateRecord `json:"candidates"`
	Count      int                     `json:"count"`
}

// PipelineBroadcast is the body of POST /broadcast.
type PipelineBroadcast struct {
	PipelineID string         `json:"index"`
	Pipeline   model.Pipeline `json:"pipeline"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default dashboard URL.
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

// NewClient creates a dashboard client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) UpdateStatus(ctx context.Context, req StatusUpdate) error {
	return c.post(ctx, "/update_pipeline_status", req)
}

func (c *httpClient) BroadcastCandidates(ctx context.Context, req CandidatesBroadcast) error {
	if req.Candidates == nil {
		req.Candidates = []model.CandidateRecord{}
	}
	return c.post(ctx, "/broadcast_candidates", req)
}

func (c *httpClient) BroadcastPipeline(ctx context.Context, req PipelineBroadcast) error {
	return c.post(ctx, "/broadcast", req)
}

func (c *httpClient) post(ctx context.Context, path string, in any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return eris.Wrap(err, "dashboard: marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return eris.Wrap(err, "dashboard: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "dashboard: send request")
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resilience.StatusError("dashboard", resp.StatusCode, body)
	}
	return nil
}
