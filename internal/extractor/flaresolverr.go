package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// FlareSolverrClient proxies page fetches through a FlareSolverr instance
// so pages behind anti-bot challenges can still be resolved.
type FlareSolverrClient struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

// NewFlareSolverrClient creates a FlareSolverr client.
func NewFlareSolverrClient(baseURL string, log *slog.Logger) *FlareSolverrClient {
	if log == nil {
		log = slog.Default()
	}
	return &FlareSolverrClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		log:     log.With("component", "flaresolverr"),
		httpClient: &http.Client{
			// Challenge solving takes a while; the per-request maxTimeout
			// below is what actually bounds the solve.
			Timeout: 90 * time.Second,
		},
	}
}

type solverRequest struct {
	Cmd        string `json:"cmd"`
	URL        string `json:"url"`
	MaxTimeout int    `json:"maxTimeout"`
}

type solverResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Solution struct {
		URL      string `json:"url"`
		Status   int    `json:"status"`
		Response string `json:"response"`
	} `json:"solution"`
}

// Get fetches a page through FlareSolverr and returns the rendered HTML.
func (c *FlareSolverrClient) Get(ctx context.Context, pageURL string) (string, error) {
	payload, err := json.Marshal(solverRequest{
		Cmd:        "request.get",
		URL:        pageURL,
		MaxTimeout: 60000,
	})
	if err != nil {
		return "", fmt.Errorf("marshal solver request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create solver request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("flaresolverr unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var sr solverResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", fmt.Errorf("decode solver response: %w", err)
	}
	if sr.Status != "ok" {
		return "", fmt.Errorf("flaresolverr: %s", sr.Message)
	}

	c.log.Debug("page solved", "url", pageURL, "duration_ms", time.Since(start).Milliseconds())
	return sr.Solution.Response, nil
}
