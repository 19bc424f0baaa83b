package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/remrun/remrun/types"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPClient talks to a test execution backend over a JSON HTTP API:
//
//	POST {base}/api/runs                  submit a run
//	GET  {base}/api/runs/{id}/results     poll results known so far
//	GET  {base}/api/artifacts/{id}        fetch artifact content
type HTTPClient struct {
	baseURL string
	client  *http.Client
	log     log.Logger
}

// HTTPConfig holds configuration for creating an HTTP backend client
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration
	Log     log.Logger
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a backend client for the given base URL
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid backend base URL %q: %w", cfg.BaseURL, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		log:     cfg.Log,
	}, nil
}

type submitRequest struct {
	Suites []string      `json:"suites,omitempty"`
	Cases  []caseRefJSON `json:"cases,omitempty"`
}

type caseRefJSON struct {
	Suite string `json:"suite"`
	Case  string `json:"case"`
}

type submitResponse struct {
	RunID string `json:"runId"`
}

// SubmitRun implements the Client interface
func (c *HTTPClient) SubmitRun(ctx context.Context, suites []string, cases []CaseRef) (RunID, error) {
	body := submitRequest{Suites: suites}
	for _, ref := range cases {
		body.Cases = append(body.Cases, caseRefJSON{Suite: ref.Suite, Case: ref.Case})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", NewSubmissionError(fmt.Errorf("encoding request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/runs", bytes.NewReader(payload))
	if err != nil {
		return "", NewSubmissionError(err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.log.Debug("Submitting run", "suites", suites, "cases", len(cases))
	resp, err := c.client.Do(req)
	if err != nil {
		return "", NewSubmissionError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", NewSubmissionError(fmt.Errorf("backend returned %s: %s", resp.Status, readErrorBody(resp.Body)))
	}

	var decoded submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", NewSubmissionError(fmt.Errorf("decoding response: %w", err))
	}
	if decoded.RunID == "" {
		return "", NewSubmissionError(fmt.Errorf("backend returned no run id"))
	}
	return RunID(decoded.RunID), nil
}

// caseResultJSON is the loose wire shape of a case result. Field-name matching
// is case-insensitive in encoding/json, which absorbs the casing variants some
// backends emit; the remaining variants are normalized in normalize().
type caseResultJSON struct {
	Suite      string `json:"suite"`
	Case       string `json:"case"`
	Method     string `json:"method"` // legacy alias for case
	Outcome    string `json:"outcome"`
	Message    string `json:"message"`
	StackTrace string `json:"stackTrace"`
	ArtifactID string `json:"artifactId"`
	DurationMs int64  `json:"durationMs"`
}

type pollResponse struct {
	Results []caseResultJSON `json:"results"`
}

// PollResults implements the Client interface
func (c *HTTPClient) PollResults(ctx context.Context, id RunID) ([]types.CaseResult, error) {
	endpoint := fmt.Sprintf("%s/api/runs/%s/results", c.baseURL, url.PathEscape(string(id)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, NewPollError(err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, NewPollError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, NewPollError(fmt.Errorf("backend returned %s: %s", resp.Status, readErrorBody(resp.Body)))
	}

	var decoded pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, NewPollError(fmt.Errorf("decoding response: %w", err))
	}

	normalized := make([]types.CaseResult, 0, len(decoded.Results))
	for _, raw := range decoded.Results {
		result, err := normalize(raw)
		if err != nil {
			c.log.Warn("Dropping malformed case result", "run_id", id, "error", err)
			continue
		}
		normalized = append(normalized, result)
	}
	return normalized, nil
}

// FetchArtifact implements the Client interface
func (c *HTTPClient) FetchArtifact(ctx context.Context, artifactID string) (string, error) {
	endpoint := fmt.Sprintf("%s/api/artifacts/%s", c.baseURL, url.PathEscape(artifactID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", NewFetchError(artifactID, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", NewFetchError(artifactID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", NewFetchError(artifactID, fmt.Errorf("backend returned %s", resp.Status))
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", NewFetchError(artifactID, fmt.Errorf("reading body: %w", err))
	}
	return string(content), nil
}

// normalize converts a loose wire result into the canonical CaseResult shape
func normalize(raw caseResultJSON) (types.CaseResult, error) {
	caseName := raw.Case
	if caseName == "" {
		caseName = raw.Method
	}
	if raw.Suite == "" || caseName == "" {
		return types.CaseResult{}, fmt.Errorf("result missing suite or case name")
	}

	outcome, ok := types.ParseOutcome(raw.Outcome)
	if !ok {
		return types.CaseResult{}, fmt.Errorf("unknown outcome %q for %s.%s", raw.Outcome, raw.Suite, caseName)
	}

	return types.CaseResult{
		Suite:      raw.Suite,
		Case:       caseName,
		Outcome:    outcome,
		Message:    raw.Message,
		StackTrace: raw.StackTrace,
		ArtifactID: raw.ArtifactID,
		Duration:   time.Duration(raw.DurationMs) * time.Millisecond,
	}, nil
}

func readErrorBody(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil || len(body) == 0 {
		return "<no body>"
	}
	return strings.TrimSpace(string(body))
}
