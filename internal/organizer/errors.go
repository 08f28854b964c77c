package organizer

import "errors"

var (
	// ErrSourceMissing means the downloaded files are not where the
	// completed download said they would be.
	ErrSourceMissing = errors.New("source path missing")

	// ErrPathTraversal means a computed destination would escape the
	// library root.
	ErrPathTraversal = errors.New("path escapes library root")

	// ErrCopyFailed wraps filesystem errors during the copy fallback.
	ErrCopyFailed = errors.New("copy failed")
)
