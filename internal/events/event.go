package events

import "time"

// Event is the base interface all events implement.
type Event interface {
	EventType() string
	EntityType() string // "request", "download"
	EntityID() int64
	OccurredAt() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	Type      string    `json:"type"`
	Entity    string    `json:"entity_type"`
	ID        int64     `json:"entity_id"`
	Timestamp time.Time `json:"occurred_at"`
}

func (e BaseEvent) EventType() string     { return e.Type }
func (e BaseEvent) EntityType() string    { return e.Entity }
func (e BaseEvent) EntityID() int64       { return e.ID }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }

// NewBaseEvent creates a BaseEvent with the current timestamp.
func NewBaseEvent(eventType, entityType string, entityID int64) BaseEvent {
	return BaseEvent{
		Type:      eventType,
		Entity:    entityType,
		ID:        entityID,
		Timestamp: time.Now(),
	}
}

// Entity types
const (
	EntityRequest  = "request"
	EntityDownload = "download"
)

// Event type constants
const (
	EventRequestStatusChanged = "request.status.changed"
	EventDownloadProgressed   = "download.progressed"
	EventDownloadCompleted    = "download.completed"
	EventDownloadFailed       = "download.failed"
	EventOrganizeCompleted    = "organize.completed"
)

// RequestStatusChanged is emitted on every validated request transition.
type RequestStatusChanged struct {
	BaseEvent
	RequestID int64  `json:"request_id"`
	From      string `json:"from"`
	To        string `json:"to"`
}

// DownloadProgressed is emitted periodically while a download is active.
type DownloadProgressed struct {
	BaseEvent
	HistoryID int64   `json:"history_id"`
	RequestID int64   `json:"request_id"`
	Progress  float64 `json:"progress"`  // 0.0 - 100.0
	Speed     int64   `json:"speed_bps"` // bytes per second
	Size      int64   `json:"size_bytes"`
}

// DownloadCompleted is emitted when the payload is fully on disk.
type DownloadCompleted struct {
	BaseEvent
	HistoryID  int64  `json:"history_id"`
	RequestID  int64  `json:"request_id"`
	SourcePath string `json:"source_path"` // where the client put files
}

// DownloadFailed is emitted when a download attempt gives up.
type DownloadFailed struct {
	BaseEvent
	HistoryID int64  `json:"history_id"`
	RequestID int64  `json:"request_id"`
	Reason    string `json:"reason"`
}

// OrganizeCompleted is emitted after files land in the library.
type OrganizeCompleted struct {
	BaseEvent
	RequestID   int64  `json:"request_id"`
	LibraryPath string `json:"library_path"`
}

// NewRequestStatusChanged builds the event for a request transition.
func NewRequestStatusChanged(requestID int64, from, to string) RequestStatusChanged {
	return RequestStatusChanged{
		BaseEvent: NewBaseEvent(EventRequestStatusChanged, EntityRequest, requestID),
		RequestID: requestID,
		From:      from,
		To:        to,
	}
}

// NewDownloadProgressed builds a progress event.
func NewDownloadProgressed(historyID, requestID int64, progress float64, speed, size int64) DownloadProgressed {
	return DownloadProgressed{
		BaseEvent: NewBaseEvent(EventDownloadProgressed, EntityDownload, historyID),
		HistoryID: historyID,
		RequestID: requestID,
		Progress:  progress,
		Speed:     speed,
		Size:      size,
	}
}

// NewDownloadCompleted builds a completion event.
func NewDownloadCompleted(historyID, requestID int64, sourcePath string) DownloadCompleted {
	return DownloadCompleted{
		BaseEvent:  NewBaseEvent(EventDownloadCompleted, EntityDownload, historyID),
		HistoryID:  historyID,
		RequestID:  requestID,
		SourcePath: sourcePath,
	}
}

// NewDownloadFailed builds a failure event.
func NewDownloadFailed(historyID, requestID int64, reason string) DownloadFailed {
	return DownloadFailed{
		BaseEvent: NewBaseEvent(EventDownloadFailed, EntityDownload, historyID),
		HistoryID: historyID,
		RequestID: requestID,
		Reason:    reason,
	}
}

// NewOrganizeCompleted builds an organize-completion event.
func NewOrganizeCompleted(requestID int64, libraryPath string) OrganizeCompleted {
	return OrganizeCompleted{
		BaseEvent:   NewBaseEvent(EventOrganizeCompleted, EntityRequest, requestID),
		RequestID:   requestID,
		LibraryPath: libraryPath,
	}
}
