package download

import (
	"path/filepath"
	"strings"
)

// PathMapping translates a download client's view of a path into this
// application's view, for when the two run in different mount namespaces.
type PathMapping struct {
	Enabled    bool
	RemotePath string
	LocalPath  string
}

// MapPath rewrites the remote prefix of path to the local prefix. Paths
// outside the remote prefix, or any path when mapping is disabled, pass
// through unchanged.
func MapPath(path string, m PathMapping) string {
	if !m.Enabled || path == "" {
		return path
	}

	remote := strings.TrimSuffix(m.RemotePath, "/")
	if path != remote && !strings.HasPrefix(path, remote+"/") {
		return path
	}

	rest := strings.TrimPrefix(path, remote)
	rest = strings.TrimPrefix(rest, "/")
	if rest == "" {
		return filepath.Clean(m.LocalPath)
	}
	return filepath.Join(m.LocalPath, rest)
}
