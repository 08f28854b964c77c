package download

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"
)

// QBittorrentClient interacts with the qBittorrent Web API v2.
type QBittorrentClient struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	log        *slog.Logger

	mu  sync.Mutex
	sid string // session cookie from /api/v2/auth/login
}

// NewQBittorrentClient creates a new qBittorrent client.
func NewQBittorrentClient(baseURL, username, password string, log *slog.Logger) *QBittorrentClient {
	if log == nil {
		log = slog.Default()
	}
	return &QBittorrentClient{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		username: username,
		password: password,
		log:      log.With("component", "qbittorrent"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// TestConnection verifies credentials by logging in.
func (c *QBittorrentClient) TestConnection(ctx context.Context) error {
	return c.login(ctx)
}

// magnetHashRegex extracts the info hash from a magnet URI's xt parameter.
var magnetHashRegex = regexp.MustCompile(`(?i)urn:btih:([0-9a-f]{40}|[a-z2-7]{32})`)

// parseMagnetHash returns the lowercased info hash from a magnet URI, or "".
func parseMagnetHash(magnetURI string) string {
	m := magnetHashRegex.FindStringSubmatch(magnetURI)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}

// Add sends a torrent URL or magnet URI to qBittorrent and returns the
// torrent's info hash. For magnet links the hash is parsed from the URI;
// for .torrent URLs the newest torrent is queried after the add since the
// add endpoint itself returns no identifier.
func (c *QBittorrentClient) Add(ctx context.Context, torrentURL string) (string, error) {
	form := url.Values{}
	form.Set("urls", torrentURL)

	body, err := c.doRequest(ctx, http.MethodPost, "/api/v2/torrents/add", form)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(string(body)) == "Fails." {
		return "", fmt.Errorf("qbittorrent rejected torrent")
	}

	if hash := parseMagnetHash(torrentURL); hash != "" {
		c.log.Debug("torrent added", "hash", hash)
		return hash, nil
	}

	// No hash in the URL; the client needs a moment to register the new
	// torrent before it shows up in the info listing.
	deadline := time.Now().Add(15 * time.Second)
	for {
		hash, err := c.newestHash(ctx)
		if err != nil {
			return "", err
		}
		if hash != "" {
			c.log.Debug("torrent added", "hash", hash)
			return hash, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("qbittorrent did not register torrent in time")
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// Status returns the status of a torrent by info hash.
func (c *QBittorrentClient) Status(ctx context.Context, clientID string) (*ClientStatus, error) {
	torrents, err := c.getTorrents(ctx, url.Values{"hashes": {strings.ToLower(clientID)}})
	if err != nil {
		return nil, err
	}
	if len(torrents) == 0 {
		return nil, ErrDownloadNotFound
	}
	return torrentToStatus(&torrents[0]), nil
}

// List returns all torrents the client knows about.
func (c *QBittorrentClient) List(ctx context.Context) ([]*ClientStatus, error) {
	torrents, err := c.getTorrents(ctx, url.Values{})
	if err != nil {
		return nil, err
	}

	items := make([]*ClientStatus, 0, len(torrents))
	for i := range torrents {
		items = append(items, torrentToStatus(&torrents[i]))
	}
	return items, nil
}

// Pause suspends a torrent.
func (c *QBittorrentClient) Pause(ctx context.Context, clientID string) error {
	return c.hashAction(ctx, "/api/v2/torrents/pause", clientID)
}

// Resume continues a paused torrent.
func (c *QBittorrentClient) Resume(ctx context.Context, clientID string) error {
	return c.hashAction(ctx, "/api/v2/torrents/resume", clientID)
}

// Remove deletes a torrent, optionally with its downloaded files.
func (c *QBittorrentClient) Remove(ctx context.Context, clientID string, deleteFiles bool) error {
	form := url.Values{}
	form.Set("hashes", strings.ToLower(clientID))
	if deleteFiles {
		form.Set("deleteFiles", "true")
	} else {
		form.Set("deleteFiles", "false")
	}
	_, err := c.doRequest(ctx, http.MethodPost, "/api/v2/torrents/delete", form)
	return err
}

func (c *QBittorrentClient) hashAction(ctx context.Context, path, clientID string) error {
	form := url.Values{}
	form.Set("hashes", strings.ToLower(clientID))
	_, err := c.doRequest(ctx, http.MethodPost, path, form)
	return err
}

// torrentInfo is the subset of /api/v2/torrents/info this client reads.
type torrentInfo struct {
	Hash     string  `json:"hash"`
	Name     string  `json:"name"`
	State    string  `json:"state"`
	Progress float64 `json:"progress"` // 0.0-1.0
	Size     int64   `json:"size"`
	DlSpeed  int64   `json:"dlspeed"`
	ETA      int64   `json:"eta"` // seconds
	SavePath string  `json:"save_path"`
	AddedOn  int64   `json:"added_on"`
}

func (c *QBittorrentClient) getTorrents(ctx context.Context, params url.Values) ([]torrentInfo, error) {
	path := "/api/v2/torrents/info"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var torrents []torrentInfo
	if err := json.Unmarshal(body, &torrents); err != nil {
		return nil, fmt.Errorf("decode torrents: %w", err)
	}
	return torrents, nil
}

// newestHash returns the hash of the most recently added torrent, or "".
func (c *QBittorrentClient) newestHash(ctx context.Context) (string, error) {
	params := url.Values{
		"sort":    {"added_on"},
		"reverse": {"true"},
		"limit":   {"1"},
	}
	torrents, err := c.getTorrents(ctx, params)
	if err != nil {
		return "", err
	}
	if len(torrents) == 0 {
		return "", nil
	}
	return strings.ToLower(torrents[0].Hash), nil
}

func torrentToStatus(t *torrentInfo) *ClientStatus {
	return &ClientStatus{
		ID:       strings.ToLower(t.Hash),
		Name:     t.Name,
		Status:   mapTorrentState(t.State),
		Progress: t.Progress * 100,
		Size:     t.Size,
		Speed:    t.DlSpeed,
		ETA:      time.Duration(t.ETA) * time.Second,
		Path:     t.SavePath,
	}
}

// mapTorrentState maps a qBittorrent torrent state to our Status type.
func mapTorrentState(state string) Status {
	switch state {
	case "downloading", "metaDL", "stalledDL", "checkingDL", "forcedDL", "allocating", "checkingResumeData":
		return StatusDownloading
	case "queuedDL", "pausedDL", "stoppedDL":
		return StatusQueued
	case "uploading", "stalledUP", "pausedUP", "stoppedUP", "queuedUP", "checkingUP", "forcedUP":
		// Seeding states mean the payload is fully downloaded.
		return StatusCompleted
	case "error", "missingFiles":
		return StatusFailed
	default:
		return StatusDownloading
	}
}

// login authenticates and stores the SID session cookie.
func (c *QBittorrentClient) login(ctx context.Context) error {
	form := url.Values{}
	form.Set("username", c.username)
	form.Set("password", c.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v2/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug("login failed", "error", err)
		return ErrClientUnavailable
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != "Ok." {
		return ErrInvalidAPIKey
	}

	for _, cookie := range resp.Cookies() {
		if cookie.Name == "SID" {
			c.mu.Lock()
			c.sid = cookie.Value
			c.mu.Unlock()
			return nil
		}
	}

	return fmt.Errorf("qbittorrent login: no SID cookie in response")
}

// doRequest performs an authenticated API request, re-logging-in once on 403.
func (c *QBittorrentClient) doRequest(ctx context.Context, method, path string, form url.Values) ([]byte, error) {
	start := time.Now()

	do := func() (*http.Response, error) {
		var bodyReader io.Reader
		if form != nil {
			bodyReader = strings.NewReader(form.Encode())
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		if form != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}

		c.mu.Lock()
		sid := c.sid
		c.mu.Unlock()
		if sid != "" {
			req.AddCookie(&http.Cookie{Name: "SID", Value: sid})
		}

		return c.httpClient.Do(req)
	}

	resp, err := do()
	if err != nil {
		c.log.Debug("api request failed", "path", path, "error", err)
		return nil, ErrClientUnavailable
	}

	if resp.StatusCode == http.StatusForbidden {
		_ = resp.Body.Close()
		if err := c.login(ctx); err != nil {
			return nil, err
		}
		resp, err = do()
		if err != nil {
			return nil, ErrClientUnavailable
		}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.log.Debug("api unexpected status", "path", path, "status", resp.StatusCode)
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	c.log.Debug("api request complete", "path", path, "duration_ms", time.Since(start).Milliseconds())
	return body, nil
}
