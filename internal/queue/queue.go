// Package queue is the in-process job queue driving the background
// processors. Jobs are typed, carry a uuid, and are consumed by a worker
// pool; delayed enqueue supports cooperative re-scheduling (poll ticks).
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Type identifies what a job asks the workers to do.
type Type string

const (
	TypeOrganize       Type = "organize"
	TypeDownload       Type = "download"
	TypeMonitor        Type = "monitor"
	TypeDirectDownload Type = "direct_download"
	TypeMonitorDirect  Type = "monitor_direct"
	TypeSearch         Type = "search"
)

// Job is a unit of background work.
type Job struct {
	ID       string
	Type     Type
	Payload  any
	Attempts int
}

// Typed payloads, one per job type.
type (
	OrganizePayload struct {
		RequestID int64
		HistoryID int64
		Path      string
	}
	DownloadPayload struct {
		RequestID int64
		HistoryID int64
		URL       string
	}
	MonitorPayload struct {
		RequestID int64
		HistoryID int64
	}
	DirectDownloadPayload struct {
		RequestID      int64
		HistoryID      int64
		TargetFilename string
	}
	MonitorDirectPayload struct {
		RequestID  int64
		HistoryID  int64
		TargetPath string
	}
	SearchPayload struct {
		RequestID int64
		Query     string
	}
)

// Handler processes one job. A returned error requeues the job until the
// retry budget runs out.
type Handler func(ctx context.Context, job Job) error

// Enqueuer is the producer-side surface of the queue. Processors depend
// on this rather than the concrete Queue.
type Enqueuer interface {
	Enqueue(job Job)
	EnqueueAfter(job Job, delay time.Duration)
}

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = 5 * time.Second
)

// Queue is an in-process job queue with per-type handlers.
type Queue struct {
	jobs chan Job
	log  *slog.Logger

	mu       sync.RWMutex
	handlers map[Type]Handler
	timers   map[*time.Timer]struct{}
	closed   bool

	maxAttempts int
	retryDelay  time.Duration
}

// New creates a queue with the given buffer size.
func New(bufferSize int, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	return &Queue{
		jobs:        make(chan Job, bufferSize),
		log:         log.With("component", "queue"),
		handlers:    make(map[Type]Handler),
		timers:      make(map[*time.Timer]struct{}),
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
	}
}

// Handle registers the handler for a job type. Must be called before Run.
func (q *Queue) Handle(t Type, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[t] = h
}

// Enqueue adds a job for immediate processing. Jobs without an ID get a
// fresh uuid. Enqueueing on a stopped queue drops the job with a warning.
func (q *Queue) Enqueue(job Job) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		q.log.Warn("queue stopped, dropping job", "type", job.Type, "job_id", job.ID)
		return
	}

	// A full buffer blocks rather than drops; producers are few.
	q.jobs <- job
}

// EnqueueAfter schedules a job after the given delay. Used for poll-tick
// re-scheduling rather than long-lived monitor loops.
func (q *Queue) EnqueueAfter(job Job, delay time.Duration) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.log.Warn("queue stopped, dropping delayed job", "type", job.Type, "job_id", job.ID)
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		q.mu.Unlock()
		q.Enqueue(job)
	})
	q.timers[timer] = struct{}{}
	q.mu.Unlock()
}

// Run consumes jobs with the given number of workers until ctx is
// cancelled. It returns nil on clean shutdown.
func (q *Queue) Run(ctx context.Context, workers int) error {
	if workers < 1 {
		workers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			return q.worker(ctx)
		})
	}

	err := g.Wait()

	q.mu.Lock()
	q.closed = true
	for timer := range q.timers {
		timer.Stop()
	}
	q.timers = map[*time.Timer]struct{}{}
	q.mu.Unlock()

	return err
}

func (q *Queue) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-q.jobs:
			q.process(ctx, job)
		}
	}
}

func (q *Queue) process(ctx context.Context, job Job) {
	q.mu.RLock()
	handler, ok := q.handlers[job.Type]
	q.mu.RUnlock()
	if !ok {
		q.log.Error("no handler for job type", "type", job.Type, "job_id", job.ID)
		return
	}

	job.Attempts++
	start := time.Now()
	err := handler(ctx, job)
	if err == nil {
		q.log.Debug("job complete", "type", job.Type, "job_id", job.ID,
			"duration_ms", time.Since(start).Milliseconds())
		return
	}

	if job.Attempts >= q.maxAttempts {
		q.log.Error("job failed permanently", "type", job.Type, "job_id", job.ID,
			"attempts", job.Attempts, "error", err)
		return
	}

	q.log.Warn("job failed, retrying", "type", job.Type, "job_id", job.ID,
		"attempt", job.Attempts, "error", err)
	q.EnqueueAfter(job, q.retryDelay)
}

// Pending returns the number of jobs waiting in the buffer. Delayed jobs
// whose timers have not fired are not counted.
func (q *Queue) Pending() int {
	return len(q.jobs)
}

// payloadError is the shared complaint for a job whose payload does not
// match its type.
func payloadError(job Job) error {
	return fmt.Errorf("job %s: unexpected payload %T for type %s", job.ID, job.Payload, job.Type)
}

// OrganizeFrom extracts an organize payload or fails.
func OrganizeFrom(job Job) (OrganizePayload, error) {
	p, ok := job.Payload.(OrganizePayload)
	if !ok {
		return OrganizePayload{}, payloadError(job)
	}
	return p, nil
}

// DownloadFrom extracts a download payload or fails.
func DownloadFrom(job Job) (DownloadPayload, error) {
	p, ok := job.Payload.(DownloadPayload)
	if !ok {
		return DownloadPayload{}, payloadError(job)
	}
	return p, nil
}

// MonitorFrom extracts a monitor payload or fails.
func MonitorFrom(job Job) (MonitorPayload, error) {
	p, ok := job.Payload.(MonitorPayload)
	if !ok {
		return MonitorPayload{}, payloadError(job)
	}
	return p, nil
}

// DirectDownloadFrom extracts a direct-download payload or fails.
func DirectDownloadFrom(job Job) (DirectDownloadPayload, error) {
	p, ok := job.Payload.(DirectDownloadPayload)
	if !ok {
		return DirectDownloadPayload{}, payloadError(job)
	}
	return p, nil
}

// MonitorDirectFrom extracts a monitor-direct payload or fails.
func MonitorDirectFrom(job Job) (MonitorDirectPayload, error) {
	p, ok := job.Payload.(MonitorDirectPayload)
	if !ok {
		return MonitorDirectPayload{}, payloadError(job)
	}
	return p, nil
}
