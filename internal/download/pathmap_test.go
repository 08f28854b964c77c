package download

import "testing"

func TestMapPath(t *testing.T) {
	tests := []struct {
		name string
		path string
		m    PathMapping
		want string
	}{
		{
			name: "disabled passes through",
			path: "/downloads/complete/Dune",
			m:    PathMapping{Enabled: false, RemotePath: "/downloads", LocalPath: "/mnt/downloads"},
			want: "/downloads/complete/Dune",
		},
		{
			name: "remote prefix rewritten",
			path: "/downloads/complete/Dune",
			m:    PathMapping{Enabled: true, RemotePath: "/downloads", LocalPath: "/mnt/downloads"},
			want: "/mnt/downloads/complete/Dune",
		},
		{
			name: "exact prefix match",
			path: "/downloads",
			m:    PathMapping{Enabled: true, RemotePath: "/downloads", LocalPath: "/mnt/downloads"},
			want: "/mnt/downloads",
		},
		{
			name: "trailing slash on remote",
			path: "/downloads/Dune",
			m:    PathMapping{Enabled: true, RemotePath: "/downloads/", LocalPath: "/mnt/dl"},
			want: "/mnt/dl/Dune",
		},
		{
			name: "unrelated path untouched",
			path: "/other/Dune",
			m:    PathMapping{Enabled: true, RemotePath: "/downloads", LocalPath: "/mnt/downloads"},
			want: "/other/Dune",
		},
		{
			name: "partial component not treated as prefix",
			path: "/downloads2/Dune",
			m:    PathMapping{Enabled: true, RemotePath: "/downloads", LocalPath: "/mnt/downloads"},
			want: "/downloads2/Dune",
		},
		{
			name: "empty path",
			path: "",
			m:    PathMapping{Enabled: true, RemotePath: "/downloads", LocalPath: "/mnt/downloads"},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MapPath(tt.path, tt.m); got != tt.want {
				t.Errorf("MapPath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}
