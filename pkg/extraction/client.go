// Package extraction provides a client for the candidate-source (ATS) service.
package extraction

import (
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

const defaultBaseURL = "http://127.0.0.1:8080"

// Client fetches candidate records from the ATS.
type Client interface {
	// FetchCandidates returns count randomly chosen resumes.
	FetchCandidates(ctx context.Context, count int) ([]model.CandidateRecord, error)
}

type fetchResponse struct {
	ChosenCandidates []model.CandidateRecord `json:"chosen_candidates"`
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

// NewClient creates an ATS client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) FetchCandidates(ctx context.Context, count int) ([]model.CandidateRecord, error) {
	if count <= 0 {
		return nil, eris.Errorf("extraction: count must be positive, got %d", count)
	}
	q := url.Values{}
	q.Set("number_of_resumes", strconv.Itoa(count))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/get_candidates?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "extraction: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "extraction: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "extraction: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.StatusError("extraction", resp.StatusCode, body)
	}

	var out fetchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "extraction: unmarshal response")
	}
	return out.ChosenCandidates, nil
}
