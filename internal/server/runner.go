// Package server wires the background components together and runs them.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-co-op/gocron"
	"golang.org/x/sync/errgroup"

	"github.com/vmunix/bookarr/internal/events"
	"github.com/vmunix/bookarr/internal/organizer"
	"github.com/vmunix/bookarr/internal/processor"
	"github.com/vmunix/bookarr/internal/queue"
)

// Config for the runner.
type Config struct {
	Addr          string
	Workers       int
	SweepInterval time.Duration
}

// Runner owns the lifecycle of the queue workers, the periodic recovery
// sweep, the event log subscriber, and the HTTP server. Components are
// constructed by the caller; Run only wires and supervises them.
type Runner struct {
	config    Config
	queue     *queue.Queue
	direct    *processor.Direct
	monitor   *processor.Monitor // nil when no torrent/Usenet client is configured
	sweeper   *processor.Sweeper
	organizer *organizer.Organizer
	bus       *events.Bus
	handler   http.Handler
	logger    *slog.Logger
}

// NewRunner creates a runner over already-constructed components. monitor
// may be nil when only direct downloads are configured.
func NewRunner(cfg Config, q *queue.Queue, direct *processor.Direct, monitor *processor.Monitor,
	sweeper *processor.Sweeper, org *organizer.Organizer, bus *events.Bus,
	handler http.Handler, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 4
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Minute
	}
	return &Runner{
		config:    cfg,
		queue:     q,
		direct:    direct,
		monitor:   monitor,
		sweeper:   sweeper,
		organizer: org,
		bus:       bus,
		handler:   handler,
		logger:    logger.With("component", "runner"),
	}
}

// Run starts all components and blocks until the context is canceled or a
// component fails.
func (r *Runner) Run(ctx context.Context) error {
	r.registerHandlers()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return r.queue.Run(ctx, r.config.Workers)
	})

	g.Go(func() error {
		return r.runSweep(ctx)
	})

	g.Go(func() error {
		r.logEvents(ctx)
		return nil
	})

	if r.handler != nil {
		g.Go(func() error {
			return r.serveHTTP(ctx)
		})
	}

	r.logger.Info("runner started", "addr", r.config.Addr, "workers", r.config.Workers,
		"sweep_interval", r.config.SweepInterval)

	err := g.Wait()
	r.bus.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// registerHandlers binds each job type to its processor. The search type
// has no processor yet; jobs of that type are acknowledged and logged so
// an upstream producer does not wedge a worker.
func (r *Runner) registerHandlers() {
	r.queue.Handle(queue.TypeDirectDownload, func(ctx context.Context, job queue.Job) error {
		p, err := queue.DirectDownloadFrom(job)
		if err != nil {
			return err
		}
		_, err = r.direct.Start(ctx, p.RequestID, p.HistoryID, p.TargetFilename)
		return err
	})

	r.queue.Handle(queue.TypeMonitorDirect, func(ctx context.Context, job queue.Job) error {
		p, err := queue.MonitorDirectFrom(job)
		if err != nil {
			return err
		}
		_, err = r.direct.Monitor(ctx, p.RequestID, p.HistoryID, p.TargetPath)
		return err
	})

	r.queue.Handle(queue.TypeDownload, func(ctx context.Context, job queue.Job) error {
		p, err := queue.DownloadFrom(job)
		if err != nil {
			return err
		}
		if r.monitor == nil {
			return errors.New("no download client configured")
		}
		return r.monitor.Dispatch(ctx, p.RequestID, p.HistoryID, p.URL)
	})

	r.queue.Handle(queue.TypeMonitor, func(ctx context.Context, job queue.Job) error {
		p, err := queue.MonitorFrom(job)
		if err != nil {
			return err
		}
		if r.monitor == nil {
			return errors.New("no download client configured")
		}
		_, err = r.monitor.Tick(ctx, p.RequestID, p.HistoryID)
		return err
	})

	r.queue.Handle(queue.TypeOrganize, func(ctx context.Context, job queue.Job) error {
		p, err := queue.OrganizeFrom(job)
		if err != nil {
			return err
		}
		return r.organizer.Organize(ctx, p.RequestID, p.HistoryID, p.Path)
	})

	r.queue.Handle(queue.TypeSearch, func(_ context.Context, job queue.Job) error {
		r.logger.Info("search jobs are not handled by this process", "job_id", job.ID)
		return nil
	})
}

// runSweep schedules the periodic recovery sweep. SingletonMode keeps a
// slow sweep from overlapping the next one.
func (r *Runner) runSweep(ctx context.Context) error {
	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.SingletonModeAll()

	_, err := scheduler.Every(r.config.SweepInterval).Do(func() {
		result, err := r.sweeper.Sweep(ctx)
		if err != nil {
			r.logger.Error("recovery sweep failed", "error", err)
			return
		}
		if result.Triggered > 0 || result.Skipped > 0 {
			r.logger.Info("recovery sweep finished",
				"triggered", result.Triggered, "skipped", result.Skipped)
		}
	})
	if err != nil {
		return err
	}

	scheduler.StartAsync()
	<-ctx.Done()
	scheduler.Stop()
	return ctx.Err()
}

// logEvents mirrors every bus event into the structured log.
func (r *Runner) logEvents(ctx context.Context) {
	ch := r.bus.SubscribeAll(64)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			r.logger.Info("event", "type", ev.EventType(), "entity", ev.EntityType(), "entity_id", ev.EntityID())
		}
	}
}

func (r *Runner) serveHTTP(ctx context.Context) error {
	srv := &http.Server{
		Addr:              r.config.Addr,
		Handler:           r.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}
