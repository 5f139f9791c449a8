package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/TheMichaelB/marksync/internal/config"
)

// RecordedRequest is a request seen by WebDAVServer.
type RecordedRequest struct {
	Method string
	Path   string
}

type davFile struct {
	data    []byte
	modTime time.Time
	etag    string
}

// WebDAVServer is a minimal in-memory WebDAV server for tests.
type WebDAVServer struct {
	*httptest.Server

	mu       sync.Mutex
	files    map[string]*davFile
	dirs     map[string]bool
	requests []RecordedRequest
	failures map[string][]int
	username string
	password string
	now      func() time.Time
}

// NewWebDAVServer starts a test WebDAV server.
func NewWebDAVServer() *WebDAVServer {
	s := &WebDAVServer{
		files:    make(map[string]*davFile),
		dirs:     map[string]bool{"/": true},
		failures: make(map[string][]int),
		now:      time.Now,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// SetCredentials requires basic auth on every request.
func (s *WebDAVServer) SetCredentials(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username = username
	s.password = password
}

// SetClock overrides the time used for Last-Modified.
func (s *WebDAVServer) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// PutFile stores a file directly, creating parent collections.
func (s *WebDAVServer) PutFile(p string, data []byte, modTime time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p = cleanPath(p)
	for dir := path.Dir(p); dir != "/"; dir = path.Dir(dir) {
		s.dirs[dir] = true
	}
	s.files[p] = newDavFile(data, modTime)
}

// File returns the stored content at p.
func (s *WebDAVServer) File(p string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[cleanPath(p)]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), f.data...), true
}

// HasCollection reports whether a collection exists at p.
func (s *WebDAVServer) HasCollection(p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirs[cleanPath(p)]
}

// FailNext makes the next requests with method answer with the given statuses.
func (s *WebDAVServer) FailNext(method string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = append(s.failures[method], statuses...)
}

// Requests returns every recorded request.
func (s *WebDAVServer) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

// CountRequests counts recorded requests with method.
func (s *WebDAVServer) CountRequests(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, r := range s.requests {
		if r.Method == method {
			n++
		}
	}
	return n
}

// ResetRequests clears the request log.
func (s *WebDAVServer) ResetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}

func (s *WebDAVServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := cleanPath(r.URL.Path)
	s.requests = append(s.requests, RecordedRequest{Method: r.Method, Path: p})

	if s.username != "" {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.username || pass != s.password {
			w.Header().Set("WWW-Authenticate", `Basic realm="test"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	if queued := s.failures[r.Method]; len(queued) > 0 {
		s.failures[r.Method] = queued[1:]
		http.Error(w, http.StatusText(queued[0]), queued[0])
		return
	}

	switch r.Method {
	case "PROPFIND":
		s.propfind(w, p)
	case "MKCOL":
		s.mkcol(w, p)
	case http.MethodHead, http.MethodGet:
		f, ok := s.files[p]
		if !ok {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		w.Header().Set("Last-Modified", f.modTime.UTC().Format(http.TimeFormat))
		w.Header().Set("ETag", f.etag)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Length", fmt.Sprint(len(f.data)))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(f.data)
		}
	case http.MethodPut:
		if !s.dirs[path.Dir(p)] {
			http.Error(w, "Conflict", http.StatusConflict)
			return
		}
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, existed := s.files[p]
		s.files[p] = newDavFile(data, s.now())
		if existed {
			w.WriteHeader(http.StatusNoContent)
		} else {
			w.WriteHeader(http.StatusCreated)
		}
	default:
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

func (s *WebDAVServer) propfind(w http.ResponseWriter, p string) {
	if !s.dirs[p] {
		if _, ok := s.files[p]; !ok {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
	}

	w.Header().Set("Content-Type", `application/xml; charset="utf-8"`)
	w.WriteHeader(http.StatusMultiStatus)
	_, _ = fmt.Fprintf(w, `<?xml version="1.0" encoding="utf-8"?>
<d:multistatus xmlns:d="DAV:"><d:response><d:href>%s</d:href><d:propstat><d:prop/><d:status>HTTP/1.1 200 OK</d:status></d:propstat></d:response></d:multistatus>`, p)
}

func (s *WebDAVServer) mkcol(w http.ResponseWriter, p string) {
	if s.dirs[p] {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.dirs[path.Dir(p)] {
		http.Error(w, "Conflict", http.StatusConflict)
		return
	}
	s.dirs[p] = true
	w.WriteHeader(http.StatusCreated)
}

// Collections lists created collections, sorted.
func (s *WebDAVServer) Collections() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.dirs))
	for d := range s.dirs {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func newDavFile(data []byte, modTime time.Time) *davFile {
	sum := sha256.Sum256(data)
	return &davFile{
		data:    append([]byte(nil), data...),
		modTime: modTime,
		etag:    `"` + hex.EncodeToString(sum[:8]) + `"`,
	}
}

func cleanPath(p string) string {
	p = path.Clean("/" + strings.TrimSpace(p))
	return p
}

// TestTimeout provides timeout context for tests.
func TestTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

// TestContext creates a test context with reasonable timeout.
func TestContext() (context.Context, context.CancelFunc) {
	return TestTimeout(30 * time.Second)
}

// TestConfigWithDir creates a test configuration rooted at dataDir.
func TestConfigWithDir(dataDir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Storage.DataDir = dataDir
	cfg.Storage.DatabasePath = filepath.Join(dataDir, "bookmarks.db")
	cfg.Queue.BaseDelay = time.Millisecond
	cfg.Queue.MaxDelay = 10 * time.Millisecond
	cfg.Queue.Jitter = false
	cfg.Queue.BatchPause = 0
	cfg.Sync.Debounce = 0
	cfg.WebDAV.RetryDelay = time.Millisecond
	cfg.Log.Level = "debug"
	cfg.Log.Format = "json"
	cfg.Log.Color = false
	return cfg
}

// WaitForCondition waits for a condition to be true with timeout.
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration, message string) {
	t.Helper()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			t.Fatalf("Timeout waiting for condition: %s", message)
		case <-ticker.C:
			if condition() {
				return
			}
		}
	}
}

// LogEntry represents a captured log entry for testing.
type LogEntry struct {
	Level   string `json:"level"`
	Message string `json:"msg"`
}

// LogOutput captures JSON log output for testing.
type LogOutput struct {
	mu      sync.RWMutex
	entries []LogEntry
}

// NewLogOutput creates a new log output capturer.
func NewLogOutput() *LogOutput {
	return &LogOutput{}
}

// Write implements io.Writer to capture log output.
func (lo *LogOutput) Write(p []byte) (n int, err error) {
	var entry LogEntry
	if err := json.Unmarshal(p, &entry); err == nil {
		lo.mu.Lock()
		lo.entries = append(lo.entries, entry)
		lo.mu.Unlock()
	}
	return len(p), nil
}

// Entries returns captured log entries.
func (lo *LogOutput) Entries() []LogEntry {
	lo.mu.RLock()
	defer lo.mu.RUnlock()

	entries := make([]LogEntry, len(lo.entries))
	copy(entries, lo.entries)
	return entries
}

// HasMessage checks if any log entry contains the message.
func (lo *LogOutput) HasMessage(message string) bool {
	lo.mu.RLock()
	defer lo.mu.RUnlock()

	for _, entry := range lo.entries {
		if strings.Contains(entry.Message, message) {
			return true
		}
	}
	return false
}

// SkipIfShort skips test if testing.Short() is true.
func SkipIfShort(t *testing.T, reason string) {
	if testing.Short() {
		t.Skipf("Skipping test in short mode: %s", reason)
	}
}
