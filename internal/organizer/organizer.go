// Package organizer moves completed downloads into the media library.
// Metadata tagging and library scans belong to external collaborators;
// this package only files things where they go and closes out the rows.
package organizer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/vmunix/bookarr/internal/download"
	"github.com/vmunix/bookarr/internal/events"
	"github.com/vmunix/bookarr/internal/request"
)

// Organizer consumes organize jobs.
type Organizer struct {
	requests      *request.Store
	history       *download.Store
	bus           *events.Bus
	audiobookRoot string
	ebookRoot     string
	log           *slog.Logger
}

// New creates an organizer writing into the two library roots.
func New(requests *request.Store, history *download.Store, bus *events.Bus,
	audiobookRoot, ebookRoot string, log *slog.Logger) *Organizer {
	if log == nil {
		log = slog.Default()
	}
	return &Organizer{
		requests:      requests,
		history:       history,
		bus:           bus,
		audiobookRoot: audiobookRoot,
		ebookRoot:     ebookRoot,
		log:           log.With("component", "organizer"),
	}
}

// Organize moves sourcePath into <root>/<Author>/<Title>/ for the
// request's media type and marks both rows done. A missing source is a
// domain failure recorded on the request, not a retryable job error.
func (o *Organizer) Organize(ctx context.Context, requestID, historyID int64, sourcePath string) error {
	r, err := o.requests.Get(requestID)
	if err != nil {
		return err
	}
	h, err := o.history.Get(historyID)
	if err != nil {
		return err
	}

	if _, err := os.Stat(sourcePath); err != nil {
		if os.IsNotExist(err) {
			miss := fmt.Errorf("%w: downloaded files not found at %s", ErrSourceMissing, sourcePath)
			if ferr := o.requests.Fail(requestID, miss.Error()); ferr != nil {
				return ferr
			}
			o.log.Warn("organize source missing", "request_id", requestID, "path", sourcePath)
			return nil
		}
		return fmt.Errorf("stat source: %w", err)
	}

	root := o.audiobookRoot
	if r.Type == request.TypeEbook {
		root = o.ebookRoot
	}

	destDir := filepath.Join(root, SanitizeName(r.Author), SanitizeName(r.Title))
	dest := filepath.Join(destDir, filepath.Base(sourcePath))
	if err := ValidatePath(dest, root); err != nil {
		return fmt.Errorf("organize request %d: %w", requestID, err)
	}

	if err := move(sourcePath, dest); err != nil {
		return fmt.Errorf("organize request %d: %w", requestID, err)
	}

	if h.Status.CanTransitionTo(download.StatusImported) {
		if err := o.history.Transition(h, download.StatusImported); err != nil {
			return err
		}
	}
	if err := o.requests.SetProgress(requestID, 100); err != nil {
		return err
	}
	if r.Status.CanTransitionTo(request.StatusCompleted) {
		from := r.Status
		if err := o.requests.Transition(r, request.StatusCompleted); err != nil {
			return err
		}
		if o.bus != nil {
			_ = o.bus.Publish(ctx, events.NewRequestStatusChanged(requestID, string(from), string(r.Status)))
		}
	}
	if o.bus != nil {
		_ = o.bus.Publish(ctx, events.NewOrganizeCompleted(requestID, dest))
	}

	o.log.Info("organized into library", "request_id", requestID, "dest", dest)
	return nil
}

// move renames src to dst, falling back to copy-and-remove when the
// rename crosses filesystems.
func move(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create library directory: %w", err)
	}

	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	if info.IsDir() {
		if err := copyDir(src, dst); err != nil {
			return err
		}
		return os.RemoveAll(src)
	}
	if _, err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

// copyFile copies a single file, removing the partial target on failure.
func copyFile(src, dst string) (int64, error) {
	srcFile, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("%w: open source: %v", ErrCopyFailed, err)
	}
	defer func() { _ = srcFile.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("%w: create directory: %v", ErrCopyFailed, err)
	}
	dstFile, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("%w: create destination: %v", ErrCopyFailed, err)
	}
	defer func() { _ = dstFile.Close() }()

	size, err := io.Copy(dstFile, srcFile)
	if err != nil {
		_ = os.Remove(dst)
		return 0, fmt.Errorf("%w: copy content: %v", ErrCopyFailed, err)
	}
	if err := dstFile.Sync(); err != nil {
		return 0, fmt.Errorf("%w: sync: %v", ErrCopyFailed, err)
	}
	return size, nil
}

// copyDir copies a directory tree.
func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		_, err = copyFile(path, target)
		return err
	})
}
