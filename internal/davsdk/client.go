package davsdk

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"path"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/imroc/req/v3"
	"github.com/openmined/davsync/internal/version"
)

const (
	methodPropfind = "PROPFIND"
	headerDepth    = "Depth"
)

// Client talks to a WebDAV server. Requests are never retried: a failed
// listing must abort the whole run.
type Client struct {
	http    *req.Client
	baseURL *url.URL
	davRoot string
}

// New creates a new Client
func New(cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("davsdk: parse base url: %w", err)
	}

	// req defaults to a whole-request timeout, which would cut off large
	// downloads. Only the wait for headers is bounded here.
	client := req.C().
		SetTimeout(0).
		SetUserAgent(version.UserAgent()).
		SetCommonBasicAuth(cfg.User, cfg.Password).
		SetCommonHeader("Accept", "*/*")
	client.GetTransport().SetResponseHeaderTimeout(cfg.responseHeaderTimeout())

	return &Client{
		http:    client,
		baseURL: baseURL,
		davRoot: cfg.davRoot(),
	}, nil
}

// RootPath maps a user facing remote path (e.g. "Photos/2024") to the
// absolute URL path of the collection on the server.
func (c *Client) RootPath(remotePath string) string {
	return path.Join("/", c.baseURL.Path, c.davRoot, remotePath)
}

func (c *Client) urlFor(p string) string {
	u := *c.baseURL
	u.Path = p
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// ReadDir lists the direct children of the collection at dirPath.
func (c *Client) ReadDir(ctx context.Context, dirPath string) ([]*Entry, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader(headerDepth, "1").
		SetHeader("Content-Type", "application/xml; charset=utf-8").
		SetBodyString(propfindBody).
		Send(methodPropfind, c.urlFor(dirPath+"/"))
	if err != nil {
		return nil, fmt.Errorf("davsdk: propfind %q: %w", dirPath, err)
	}
	if res.StatusCode != http.StatusMultiStatus {
		return nil, &StatusError{Method: methodPropfind, Path: dirPath, StatusCode: res.StatusCode}
	}

	body, err := res.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("davsdk: propfind %q: read body: %w", dirPath, err)
	}

	self, children, err := parseMultistatus(body, dirPath)
	if err != nil {
		return nil, fmt.Errorf("davsdk: propfind %q: %w", dirPath, err)
	}
	if self != nil && !self.IsDir {
		return nil, fmt.Errorf("davsdk: propfind %q: %w", dirPath, ErrNotCollection)
	}
	return children, nil
}

// ListRecursive yields every file below root. Directories are visited with an
// explicit worklist and are never yielded themselves. Iteration stops at the
// first error, which is yielded with a nil entry.
func (c *Client) ListRecursive(ctx context.Context, root string) iter.Seq2[*Entry, error] {
	return func(yield func(*Entry, error) bool) {
		root = cleanHref(root)
		pending := []string{root}
		visited := mapset.NewThreadUnsafeSet(root)

		for len(pending) > 0 {
			dir := pending[len(pending)-1]
			pending = pending[:len(pending)-1]

			entries, err := c.ReadDir(ctx, dir)
			if err != nil {
				yield(nil, err)
				return
			}
			slog.Debug("davsdk", "op", methodPropfind, "path", dir, "entries", len(entries))

			for _, entry := range entries {
				if entry.IsDir {
					if visited.Add(entry.Path) {
						pending = append(pending, entry.Path)
					}
					continue
				}
				if !yield(entry, nil) {
					return
				}
			}
		}
	}
}

// Download streams the content of the file at remotePath into w and returns
// the number of bytes written.
func (c *Client) Download(ctx context.Context, remotePath string, w io.Writer) (int64, error) {
	res, err := c.http.R().
		SetContext(ctx).
		DisableAutoReadResponse().
		Get(c.urlFor(remotePath))
	if err != nil {
		return 0, fmt.Errorf("davsdk: download %q: %w", remotePath, err)
	}
	defer res.Body.Close()

	if res.IsErrorState() {
		return 0, &StatusError{Method: http.MethodGet, Path: remotePath, StatusCode: res.StatusCode}
	}

	n, err := io.Copy(w, res.Body)
	if err != nil {
		return n, fmt.Errorf("davsdk: download %q: %w", remotePath, err)
	}
	return n, nil
}
