// Package config handles TOML configuration loading with environment variable substitution.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration structure.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Database    DatabaseConfig    `toml:"database"`
	Downloads   DownloadsConfig   `toml:"downloads"`
	Library     LibraryConfig     `toml:"library"`
	Downloaders DownloadersConfig `toml:"downloaders"`
	Ebook       EbookConfig       `toml:"ebook"`
	Monitor     MonitorConfig     `toml:"monitor"`
	Sweep       SweepConfig       `toml:"sweep"`
}

type ServerConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	LogLevel string `toml:"log_level"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

// DownloadsConfig describes where in-flight downloads land.
type DownloadsConfig struct {
	// Dir is where direct HTTP downloads are streamed to.
	Dir string `toml:"dir"`
	// ClientDir is the base directory the torrent/Usenet client downloads
	// into, used as the fallback when a completed item has left the client.
	ClientDir string `toml:"client_dir"`
}

// LibraryConfig describes where organized files end up.
type LibraryConfig struct {
	AudiobookRoot string `toml:"audiobook_root"`
	EbookRoot     string `toml:"ebook_root"`
}

// DownloadersConfig selects and configures the active download client.
// Exactly one backend is active at a time; Type decides which.
type DownloadersConfig struct {
	Type        string             `toml:"type"` // "qbittorrent" or "sabnzbd"
	QBittorrent *QBittorrentConfig `toml:"qbittorrent"`
	SABnzbd     *SABnzbdConfig     `toml:"sabnzbd"`
	PathMapping PathMappingConfig  `toml:"path_mapping"`
}

type QBittorrentConfig struct {
	URL      string `toml:"url"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

type SABnzbdConfig struct {
	URL      string `toml:"url"`
	APIKey   string `toml:"api_key"`
	Category string `toml:"category"`
}

// PathMappingConfig rewrites the download client's view of a path into
// this application's view, for when the two run in different mount
// namespaces.
type PathMappingConfig struct {
	Enabled    bool   `toml:"enabled"`
	RemotePath string `toml:"remote_path"`
	LocalPath  string `toml:"local_path"`
}

// EbookConfig configures the e-book archive extractor.
type EbookConfig struct {
	BaseURL         string `toml:"base_url"`
	PreferredFormat string `toml:"preferred_format"`
	FlareSolverrURL string `toml:"flaresolverr_url"`
}

type MonitorConfig struct {
	PollInterval time.Duration `toml:"poll_interval"`
	MaxAge       time.Duration `toml:"max_age"`
}

type SweepConfig struct {
	IntervalMinutes int `toml:"interval_minutes"`
	BatchSize       int `toml:"batch_size"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Substitute environment variables
	content := substituteEnvVars(string(data))

	var cfg Config
	if _, err := toml.Decode(content, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8787
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/bookarr.db"
	}
	if cfg.Downloads.Dir == "" {
		cfg.Downloads.Dir = "./data/downloads"
	}
	if cfg.Downloads.ClientDir == "" {
		cfg.Downloads.ClientDir = cfg.Downloads.Dir
	}
	if cfg.Ebook.PreferredFormat == "" {
		cfg.Ebook.PreferredFormat = "epub"
	}
	if cfg.Monitor.PollInterval == 0 {
		cfg.Monitor.PollInterval = 10 * time.Second
	}
	if cfg.Monitor.MaxAge == 0 {
		cfg.Monitor.MaxAge = 24 * time.Hour
	}
	if cfg.Sweep.IntervalMinutes == 0 {
		cfg.Sweep.IntervalMinutes = 30
	}
	if cfg.Sweep.BatchSize == 0 {
		cfg.Sweep.BatchSize = 50
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		varName := match[2 : len(match)-1] // Strip ${ and }
		if value, ok := os.LookupEnv(varName); ok {
			return value
		}
		return match // Leave unchanged if not found
	})
}
