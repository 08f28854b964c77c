package config

import "fmt"

// Validate checks cross-field constraints the TOML decoder cannot express.
func (c *Config) Validate() error {
	switch c.Downloaders.Type {
	case "":
		// No torrent/Usenet backend configured; direct downloads still work.
	case "qbittorrent":
		if c.Downloaders.QBittorrent == nil || c.Downloaders.QBittorrent.URL == "" {
			return fmt.Errorf("downloaders.type is qbittorrent but [downloaders.qbittorrent] is not configured")
		}
	case "sabnzbd":
		if c.Downloaders.SABnzbd == nil || c.Downloaders.SABnzbd.URL == "" {
			return fmt.Errorf("downloaders.type is sabnzbd but [downloaders.sabnzbd] is not configured")
		}
	default:
		return fmt.Errorf("downloaders.type must be qbittorrent or sabnzbd, got %q", c.Downloaders.Type)
	}

	if c.Downloaders.PathMapping.Enabled {
		if c.Downloaders.PathMapping.RemotePath == "" || c.Downloaders.PathMapping.LocalPath == "" {
			return fmt.Errorf("path mapping enabled but remote_path or local_path is empty")
		}
	}

	return nil
}
