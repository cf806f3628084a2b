package davsdk

import (
	"strings"
	"time"
)

// Entry is a single resource reported by the server.
type Entry struct {
	Path         string // decoded absolute URL path, without trailing slash
	IsDir        bool
	ETag         string // normalized, see NormalizeETag
	Size         int64
	LastModified time.Time
	ContentType  string
}

// RelPath returns the entry's path relative to root, using "/" separators and
// no leading slash.
func (e *Entry) RelPath(root string) string {
	root = strings.TrimRight(root, "/")
	rel := strings.TrimPrefix(e.Path, root+"/")
	return strings.TrimLeft(rel, "/")
}

// NormalizeETag strips exactly one pair of surrounding double or single
// quotes. Anything else, including mismatched quotes, is returned as is.
func NormalizeETag(raw string) string {
	if len(raw) < 2 {
		return raw
	}
	first, last := raw[0], raw[len(raw)-1]
	if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
		return raw[1 : len(raw)-1]
	}
	return raw
}
