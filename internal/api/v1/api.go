// Package v1 implements the native REST API.
package v1

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/vmunix/bookarr/internal/download"
	"github.com/vmunix/bookarr/internal/processor"
	"github.com/vmunix/bookarr/internal/queue"
	"github.com/vmunix/bookarr/internal/request"
)

// Sweeper triggers a recovery sweep pass.
type Sweeper interface {
	Sweep(ctx context.Context) (*processor.SweepResult, error)
}

// Server is the v1 API server.
type Server struct {
	requests   *request.Store
	history    *download.Store
	client     download.Downloader // nil when only direct downloads are configured
	clientType download.Client
	queue      *queue.Queue
	sweeper    Sweeper
	version    string
	log        *slog.Logger
}

// New creates a new v1 API server.
func New(requests *request.Store, history *download.Store, client download.Downloader,
	clientType download.Client, q *queue.Queue, sweeper Sweeper, version string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		requests:   requests,
		history:    history,
		client:     client,
		clientType: clientType,
		queue:      q,
		sweeper:    sweeper,
		version:    version,
		log:        log.With("component", "api"),
	}
}

// RegisterRoutes registers API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	// Requests
	mux.HandleFunc("GET /api/v1/requests", s.listRequests)
	mux.HandleFunc("GET /api/v1/requests/{id}", s.getRequest)
	mux.HandleFunc("POST /api/v1/requests", s.addRequest)
	mux.HandleFunc("DELETE /api/v1/requests/{id}", s.deleteRequest)

	// Downloads
	mux.HandleFunc("GET /api/v1/downloads", s.listDownloads)

	// System
	mux.HandleFunc("POST /api/v1/sweep", s.triggerSweep)
	mux.HandleFunc("GET /api/v1/status", s.getStatus)
}

// Error response
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, code int, errCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: message, Code: errCode})
}

func writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

// pathID extracts an integer ID from the URL path.
func pathID(r *http.Request, name string) (int64, error) {
	idStr := r.PathValue(name)
	if idStr == "" {
		return 0, fmt.Errorf("missing path parameter: %s", name)
	}
	return strconv.ParseInt(idStr, 10, 64)
}

// queryInt extracts an optional integer from query string.
func queryInt(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}

// queryString extracts an optional string from query string.
func queryString(r *http.Request, name string) *string {
	val := r.URL.Query().Get(name)
	if val == "" {
		return nil
	}
	return &val
}

func (s *Server) listRequests(w http.ResponseWriter, r *http.Request) {
	filter := request.Filter{}
	if typeStr := queryString(r, "type"); typeStr != nil {
		t := request.Type(*typeStr)
		filter.Type = &t
	}
	if statusStr := queryString(r, "status"); statusStr != nil {
		st := request.Status(*statusStr)
		filter.Status = &st
	}

	items, err := s.requests.List(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}

	resp := listRequestsResponse{Items: make([]requestResponse, len(items)), Total: len(items)}
	for i, item := range items {
		resp.Items[i] = requestToResponse(item)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", err.Error())
		return
	}

	req, err := s.requests.Get(id)
	if errors.Is(err, request.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, requestToResponse(req))
}

func (s *Server) addRequest(w http.ResponseWriter, r *http.Request) {
	var body addRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if err := validateAddRequest(&body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	client := download.Client(body.Client)
	if client != download.ClientDirect && client != s.clientType {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST",
			fmt.Sprintf("client %q is not the configured download client", body.Client))
		return
	}

	req := &request.Request{
		Type:            request.Type(body.Type),
		Title:           body.Title,
		Author:          body.Author,
		ParentRequestID: body.ParentRequestID,
	}
	if err := s.requests.Add(req); err != nil {
		writeError(w, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}

	hist := &download.History{
		RequestID:   req.ID,
		ReleaseName: body.ReleaseName,
		Client:      client,
		Selected:    true,
	}
	if err := s.history.Add(hist, body.SourceURLs); err != nil {
		writeError(w, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}

	if client == download.ClientDirect {
		s.queue.Enqueue(queue.Job{
			Type: queue.TypeDirectDownload,
			Payload: queue.DirectDownloadPayload{
				RequestID:      req.ID,
				HistoryID:      hist.ID,
				TargetFilename: body.TargetFilename,
			},
		})
	} else {
		s.queue.Enqueue(queue.Job{
			Type: queue.TypeDownload,
			Payload: queue.DownloadPayload{
				RequestID: req.ID,
				HistoryID: hist.ID,
				URL:       body.DownloadURL,
			},
		})
	}

	s.log.Info("request created", "request_id", req.ID, "type", req.Type, "client", client)
	writeJSON(w, http.StatusCreated, requestToResponse(req))
}

func validateAddRequest(body *addRequestRequest) error {
	switch request.Type(body.Type) {
	case request.TypeAudiobook, request.TypeEbook:
	default:
		return fmt.Errorf("type must be audiobook or ebook")
	}
	if body.Title == "" {
		return fmt.Errorf("title is required")
	}

	switch download.Client(body.Client) {
	case download.ClientDirect:
		if len(body.SourceURLs) == 0 {
			return fmt.Errorf("direct downloads need at least one source url")
		}
		if body.TargetFilename == "" {
			return fmt.Errorf("direct downloads need a target filename")
		}
	case download.ClientQBittorrent, download.ClientSABnzbd:
		if body.DownloadURL == "" {
			return fmt.Errorf("download_url is required for %s", body.Client)
		}
	default:
		return fmt.Errorf("client must be qbittorrent, sabnzbd, or direct")
	}
	return nil
}

func (s *Server) deleteRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", err.Error())
		return
	}

	if err := s.requests.SoftDelete(id); err != nil {
		if errors.Is(err, request.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listDownloads(w http.ResponseWriter, r *http.Request) {
	var requestID *int64
	if idStr := queryString(r, "request_id"); idStr != nil {
		id, err := strconv.ParseInt(*idStr, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_ID", "request_id must be an integer")
			return
		}
		requestID = &id
	}

	items, err := s.history.List(requestID, queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}

	resp := listDownloadsResponse{Items: make([]downloadResponse, len(items)), Total: len(items)}
	for i, h := range items {
		resp.Items[i] = historyToResponse(h)
		s.mergeLiveStatus(r.Context(), h, &resp.Items[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

// mergeLiveStatus overlays the client's current view onto a history row.
// Best effort: an unreachable client or stale id just leaves the
// persisted fields as they are.
func (s *Server) mergeLiveStatus(ctx context.Context, h *download.History, out *downloadResponse) {
	if s.client == nil || h.Status.IsTerminal() {
		return
	}
	clientID := h.ClientID()
	if clientID == "" {
		return
	}

	st, err := s.client.Status(ctx, clientID)
	if err != nil {
		return
	}
	out.Progress = &st.Progress
	out.Speed = &st.Speed
	eta := int64(st.ETA.Seconds())
	out.ETA = &eta
	out.Path = &st.Path
	out.Status = string(st.Status)
}

func (s *Server) triggerSweep(w http.ResponseWriter, r *http.Request) {
	result, err := s.sweeper.Sweep(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SWEEP_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Version:        s.version,
		DownloadClient: string(s.clientType),
		QueuedJobs:     s.queue.Pending(),
	}

	items, err := s.requests.List(request.Filter{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	for _, item := range items {
		if item.Status.IsActive() {
			resp.ActiveRequests++
		}
	}

	if s.client != nil {
		reachable := s.client.TestConnection(r.Context()) == nil
		resp.ClientReachable = &reachable
	}

	writeJSON(w, http.StatusOK, resp)
}
