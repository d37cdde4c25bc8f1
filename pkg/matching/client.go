// Package matching provides a client for the AI matching service: the shared
// candidate pool and the relevance search over it.
package matching

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

const defaultBaseURL = "http://127.0.0.1:8001"

// Client talks to the matching service.
type Client interface {
	// AddCandidates appends records to the service's candidate pool.
	AddCandidates(ctx context.Context, records []model.CandidateRecord) error
	// Pool returns the whole candidate pool.
	Pool(ctx context.Context) ([]model.CandidateRecord, error)
	// SearchBatch asks the matcher which records of one batch fit query.
	SearchBatch(ctx context.Context, query string, batch []model.CandidateRecord) ([]model.CandidateRecord, error)
	// Search runs the service-side batched search for count candidates.
	Search(ctx context.Context, query string, count int) ([]Batch, error)
}

// Batch is one batch result of a service-side search. Result is nil when the
// batch contributed nothing.
type Batch struct {
	Result []model.CandidateRecord `json:"result"`
}

type poolResponse struct {
	ListOfCandidates []model.CandidateRecord `json:"list_of_candidates"`
}

type searchBatchRequest struct {
	DesiredResume    string                  `json:"desired_resume"`
	ListOfCandidates []model.CandidateRecord `json:"list_of_candidates"`
}

type searchBatchResponse struct {
	ListOfCandidates []model.CandidateRecord `json:"list_of_candidates"`
}

type searchResponse struct {
	Result []Batch `json:"result"`
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

// NewClient creates a matching service client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 120 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) AddCandidates(ctx context.Context, records []model.CandidateRecord) error {
	if records == nil {
		records = []model.CandidateRecord{}
	}
	return c.do(ctx, http.MethodPost, "/add_candidates", records, nil)
}

func (c *httpClient) Pool(ctx context.Context) ([]model.CandidateRecord, error) {
	var out poolResponse
	if err := c.do(ctx, http.MethodGet, "/get_memory", nil, &out); err != nil {
		return nil, err
	}
	return out.ListOfCandidates, nil
}

func (c *httpClient) SearchBatch(ctx context.Context, query string, batch []model.CandidateRecord) ([]model.CandidateRecord, error) {
	var out searchBatchResponse
	req := searchBatchRequest{DesiredResume: query, ListOfCandidates: batch}
	if err := c.do(ctx, http.MethodPost, "/search_batch", req, &out); err != nil {
		return nil, err
	}
	return out.ListOfCandidates, nil
}

func (c *httpClient) Search(ctx context.Context, query string, count int) ([]Batch, error) {
	q := url.Values{}
	q.Set("jobpost", query)
	q.Set("number_of_candidates", strconv.Itoa(count))
	var out searchResponse
	if err := c.do(ctx, http.MethodGet, "/start_search_candidates?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Result, nil
}

func (c *httpClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return eris.Wrap(err, "matching: marshal request")
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return eris.Wrap(err, "matching: create request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "matching: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "matching: read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resilience.StatusError("matching", resp.StatusCode, respBody)
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return eris.Wrap(err, "matching: unmarshal response")
	}
	return nil
}
