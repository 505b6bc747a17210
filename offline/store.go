package offline

import (
	"bytes"
	"io"
	"net/http"
	"slices"
	"strconv"
	"sync"
)

// Entry is a stored response.
type Entry struct {
	Status int
	Header http.Header
	Body   []byte
}

// Response materializes a fresh *http.Response for req. Each call returns an independent body.
func (e *Entry) Response(req *http.Request) *http.Response {
	header := e.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Length", strconv.Itoa(len(e.Body)))
	return &http.Response{
		Status:        strconv.Itoa(e.Status) + " " + http.StatusText(e.Status),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

// readEntry drains resp into an Entry and replaces resp.Body so the caller can still read it.
func readEntry(resp *http.Response) (*Entry, error) {
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	return &Entry{Status: resp.StatusCode, Header: resp.Header.Clone(), Body: body}, nil
}

// Storage holds named caches of responses keyed by URL.
type Storage interface {
	Put(cache, key string, entry *Entry)
	Match(cache, key string) (*Entry, bool)
	Names() []string
	Delete(cache string) bool
}

// MemoryStorage is a process-local Storage. The zero value is ready to use.
type MemoryStorage struct {
	mu     sync.RWMutex
	caches map[string]map[string]*Entry
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (s *MemoryStorage) Put(cache, key string, entry *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.caches == nil {
		s.caches = make(map[string]map[string]*Entry)
	}
	entries, ok := s.caches[cache]
	if !ok {
		entries = make(map[string]*Entry)
		s.caches[cache] = entries
	}
	entries[key] = entry
}

func (s *MemoryStorage) Match(cache, key string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.caches[cache][key]
	return entry, ok
}

// Names lists cache names in sorted order.
func (s *MemoryStorage) Names() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.caches))
	for name := range s.caches {
		names = append(names, name)
	}
	s.mu.RUnlock()
	slices.Sort(names)
	return names
}

func (s *MemoryStorage) Delete(cache string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.caches[cache]; !ok {
		return false
	}
	delete(s.caches, cache)
	return true
}
