package davsdk

import (
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultDavRoot is where Nextcloud exposes a user's files.
	DefaultDavRoot  = "remote.php/dav/files/{user}"
	userPlaceholder = "{user}"

	// DefaultResponseHeaderTimeout bounds the wait for a response to start.
	// Bodies are never time limited; a run is cancelled through its context.
	DefaultResponseHeaderTimeout = 30 * time.Second
)

// Config is the connection configuration for a WebDAV server.
type Config struct {
	BaseURL               string        // BaseURL is required
	User                  string        // User is required
	Password              string        // Password is required
	DavRoot               string        // DavRoot is optional, defaults to DefaultDavRoot
	ResponseHeaderTimeout time.Duration // ResponseHeaderTimeout is optional, defaults to DefaultResponseHeaderTimeout
}

func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrNoServerURL
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ErrNoServerURL
	}
	return nil
}

func (c *Config) davRoot() string {
	root := c.DavRoot
	if root == "" {
		root = DefaultDavRoot
	}
	return strings.ReplaceAll(root, userPlaceholder, c.User)
}

func (c *Config) responseHeaderTimeout() time.Duration {
	if c.ResponseHeaderTimeout <= 0 {
		return DefaultResponseHeaderTimeout
	}
	return c.ResponseHeaderTimeout
}
