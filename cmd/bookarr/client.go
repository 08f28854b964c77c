package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client wraps HTTP calls to the bookarr server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new bookarr API client.
func NewClient(serverURL string) *Client {
	return &Client{
		baseURL: serverURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) get(path string, result any) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error %d: %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

func (c *Client) post(path string, body any, result any) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	} else {
		reader = bytes.NewReader(nil)
	}

	resp, err := c.httpClient.Post(c.baseURL+path, "application/json", reader)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error %d: %s", resp.StatusCode, string(respBody))
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}
	return nil
}

func (c *Client) delete(path string) error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("request creation failed: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// API response types (mirror server types)

type RequestResponse struct {
	ID           int64   `json:"id"`
	Type         string  `json:"type"`
	Title        string  `json:"title"`
	Author       string  `json:"author"`
	Status       string  `json:"status"`
	Progress     int     `json:"progress"`
	ErrorMessage *string `json:"error_message,omitempty"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

type ListRequestsResponse struct {
	Items []RequestResponse `json:"items"`
	Total int               `json:"total"`
}

type AddRequestBody struct {
	Type           string   `json:"type"`
	Title          string   `json:"title"`
	Author         string   `json:"author,omitempty"`
	ReleaseName    string   `json:"release_name,omitempty"`
	Client         string   `json:"client"`
	DownloadURL    string   `json:"download_url,omitempty"`
	SourceURLs     []string `json:"source_urls,omitempty"`
	TargetFilename string   `json:"target_filename,omitempty"`
}

type DownloadResponse struct {
	ID          int64    `json:"id"`
	RequestID   int64    `json:"request_id"`
	ReleaseName string   `json:"release_name"`
	Client      string   `json:"client"`
	ClientID    string   `json:"client_id,omitempty"`
	Status      string   `json:"status"`
	Size        int64    `json:"size"`
	Progress    *float64 `json:"progress,omitempty"`
	Speed       *int64   `json:"speed_bps,omitempty"`
	ETA         *int64   `json:"eta_seconds,omitempty"`
	Path        *string  `json:"path,omitempty"`
}

type ListDownloadsResponse struct {
	Items []DownloadResponse `json:"items"`
	Total int                `json:"total"`
}

type SweepResponse struct {
	Triggered int `json:"triggered"`
	Skipped   int `json:"skipped"`
}

type StatusResponse struct {
	Version         string `json:"version"`
	DownloadClient  string `json:"download_client"`
	ClientReachable *bool  `json:"client_reachable,omitempty"`
	ActiveRequests  int    `json:"active_requests"`
	QueuedJobs      int    `json:"queued_jobs"`
}

// API methods

func (c *Client) Requests(typeFilter, statusFilter string) (*ListRequestsResponse, error) {
	q := url.Values{}
	if typeFilter != "" {
		q.Set("type", typeFilter)
	}
	if statusFilter != "" {
		q.Set("status", statusFilter)
	}
	path := "/api/v1/requests"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp ListRequestsResponse
	if err := c.get(path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Request(id int64) (*RequestResponse, error) {
	var resp RequestResponse
	if err := c.get(fmt.Sprintf("/api/v1/requests/%d", id), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) AddRequest(body *AddRequestBody) (*RequestResponse, error) {
	var resp RequestResponse
	if err := c.post("/api/v1/requests", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) DeleteRequest(id int64) error {
	return c.delete(fmt.Sprintf("/api/v1/requests/%d", id))
}

func (c *Client) Downloads(requestID *int64) (*ListDownloadsResponse, error) {
	path := "/api/v1/downloads"
	if requestID != nil {
		path += fmt.Sprintf("?request_id=%d", *requestID)
	}

	var resp ListDownloadsResponse
	if err := c.get(path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Sweep() (*SweepResponse, error) {
	var resp SweepResponse
	if err := c.post("/api/v1/sweep", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.get("/api/v1/status", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
