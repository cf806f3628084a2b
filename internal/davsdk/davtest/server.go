// Package davtest provides an in-memory WebDAV server for tests.
package davtest

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type file struct {
	content string
	etag    string
}

type pacing struct {
	header time.Duration
	chunk  time.Duration
}

// Server serves a Nextcloud-like tree under /remote.php/dav/files/<user>/.
type Server struct {
	*httptest.Server
	User     string
	Password string

	mu        sync.Mutex
	files     map[string]file
	failures  map[string]int
	pacing    map[string]pacing
	downloads atomic.Int64
	propfinds atomic.Int64
}

func NewServer(t testing.TB, user, password string) *Server {
	s := &Server{
		User:     user,
		Password: password,
		files:    make(map[string]file),
		failures: make(map[string]int),
		pacing:   make(map[string]pacing),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// UserRoot is the absolute URL path of the user's files.
func (s *Server) UserRoot() string {
	return "/remote.php/dav/files/" + s.User
}

func (s *Server) abs(rel string) string {
	return path.Join(s.UserRoot(), rel)
}

// Put creates or replaces a file. etag is sent verbatim, quotes included.
func (s *Server) Put(rel, content, etag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[s.abs(rel)] = file{content: content, etag: etag}
}

func (s *Server) Remove(rel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, s.abs(rel))
}

// Fail makes every request for rel answer with status.
func (s *Server) Fail(rel string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[s.abs(rel)] = status
}

// Slow delays the response headers for rel by header, then sends its body
// one byte at a time with chunk between writes.
func (s *Server) Slow(rel string, header, chunk time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pacing[s.abs(rel)] = pacing{header: header, chunk: chunk}
}

func (s *Server) Downloads() int64 { return s.downloads.Load() }
func (s *Server) Propfinds() int64 { return s.propfinds.Load() }

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok || user != s.User || pass != s.Password {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	p := strings.TrimRight(r.URL.Path, "/")

	s.mu.Lock()
	if status, ok := s.failures[p]; ok {
		s.mu.Unlock()
		w.WriteHeader(status)
		return
	}

	switch r.Method {
	case "PROPFIND":
		s.propfinds.Add(1)
		s.propfind(w, p)
		s.mu.Unlock()
	case http.MethodGet:
		f, ok := s.files[p]
		pace, slow := s.pacing[p]
		s.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		s.downloads.Add(1)
		if slow {
			stream(w, r, f, pace)
			return
		}
		w.Header().Set("ETag", f.etag)
		fmt.Fprint(w, f.content)
	default:
		s.mu.Unlock()
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func stream(w http.ResponseWriter, r *http.Request, f file, pace pacing) {
	if !sleep(r, pace.header) {
		return
	}
	w.Header().Set("ETag", f.etag)
	w.Header().Set("Content-Length", strconv.Itoa(len(f.content)))
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	for i := 0; i < len(f.content); i++ {
		if _, err := w.Write([]byte{f.content[i]}); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		if !sleep(r, pace.chunk) {
			return
		}
	}
}

// sleep waits for d and reports false if the client went away first.
func sleep(r *http.Request, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-r.Context().Done():
		return false
	}
}

func (s *Server) propfind(w http.ResponseWriter, p string) {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0"?><d:multistatus xmlns:d="DAV:">`)

	if f, ok := s.files[p]; ok {
		writeFile(&buf, p, f)
		buf.WriteString(`</d:multistatus>`)
		w.WriteHeader(http.StatusMultiStatus)
		w.Write(buf.Bytes())
		return
	}

	children, ok := s.children(p)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	writeDir(&buf, p)
	for _, child := range children {
		if f, isFile := s.files[child]; isFile {
			writeFile(&buf, child, f)
		} else {
			writeDir(&buf, child)
		}
	}
	buf.WriteString(`</d:multistatus>`)

	w.WriteHeader(http.StatusMultiStatus)
	w.Write(buf.Bytes())
}

// children returns the direct children of dir, and false when dir does not exist.
func (s *Server) children(dir string) ([]string, bool) {
	prefix := dir + "/"
	seen := make(map[string]struct{})
	for name := range s.files {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := strings.TrimPrefix(name, prefix)
		if i := strings.Index(rest, "/"); i >= 0 {
			rest = rest[:i]
		}
		seen[prefix+rest] = struct{}{}
	}
	if len(seen) == 0 && dir != s.UserRoot() {
		return nil, false
	}

	children := make([]string, 0, len(seen))
	for c := range seen {
		children = append(children, c)
	}
	sort.Strings(children)
	return children, true
}

func href(p string, dir bool) string {
	escaped := (&url.URL{Path: p}).EscapedPath()
	if dir {
		escaped += "/"
	}
	return escaped
}

func writeDir(buf *bytes.Buffer, p string) {
	fmt.Fprintf(buf, `<d:response><d:href>%s</d:href><d:propstat><d:prop><d:resourcetype><d:collection/></d:resourcetype><d:getetag>"dir-%s"</d:getetag></d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat></d:response>`,
		escape(href(p, true)), escape(path.Base(p)))
}

func writeFile(buf *bytes.Buffer, p string, f file) {
	fmt.Fprintf(buf, `<d:response><d:href>%s</d:href><d:propstat><d:prop><d:resourcetype/><d:getetag>%s</d:getetag><d:getcontentlength>%d</d:getcontentlength><d:getlastmodified>%s</d:getlastmodified><d:getcontenttype>text/plain</d:getcontenttype></d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat><d:propstat><d:prop><d:quota-used-bytes/></d:prop><d:status>HTTP/1.1 404 Not Found</d:status></d:propstat></d:response>`,
		escape(href(p, false)), escape(f.etag), len(f.content), time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).Format(http.TimeFormat))
}

func escape(s string) string {
	var b strings.Builder
	xml.EscapeText(&b, []byte(s))
	return b.String()
}
