// Package testutil provides testing utilities for facility-sync.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockProviderAPI is a configurable mock provider HTTP server for testing.
type MockProviderAPI struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount      int
	HealthCount       int
	ReadCount         int
	LastRequestHeader http.Header
}

// NewMockProviderAPI creates a new mock provider server. By default it
// reports healthy with the given total count and serves full pages of
// generated facilities.
func NewMockProviderAPI(totalCount int) *MockProviderAPI {
	mock := &MockProviderAPI{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		switch r.URL.Path {
		case "/facilities/health":
			mock.HealthCount++
		case "/facilities":
			mock.ReadCount++
		}
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r, totalCount)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockProviderAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockProviderAPI) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockProviderAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.HealthCount = 0
	m.ReadCount = 0
	m.LastRequestHeader = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockProviderAPI) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetHealth overrides the health endpoint response.
func (m *MockProviderAPI) SetHealth(healthy bool, totalCount int) {
	m.SetHandler("/facilities/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"healthy": %t, "total_count": %d}`, healthy, totalCount)
	})
}

// FailWith makes a path respond with the given status code.
func (m *MockProviderAPI) FailWith(path string, statusCode int) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(statusCode), statusCode)
	})
}

// Delay makes a path respond after a pause, for timeout testing.
func (m *MockProviderAPI) Delay(path string, d time.Duration, statusCode int, body string) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(d)
		w.WriteHeader(statusCode)
		fmt.Fprint(w, body)
	})
}

// defaultHandler serves a healthy health check and generated facility pages.
func (m *MockProviderAPI) defaultHandler(w http.ResponseWriter, r *http.Request, totalCount int) {
	switch r.URL.Path {
	case "/facilities/health":
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"healthy": true, "total_count": %d}`, totalCount)
	case "/facilities":
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		size, _ := strconv.Atoi(r.URL.Query().Get("size"))
		if page < 1 || size < 1 {
			http.Error(w, "bad pagination", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, FacilitiesPage(totalCount, page, size))
	default:
		http.NotFound(w, r)
	}
}

// FacilitiesPage builds the JSON body for one page of generated facilities.
// Records are numbered globally so tests can assert on exact contents.
func FacilitiesPage(totalCount, page, size int) string {
	first := (page-1)*size + 1
	last := page * size
	if last > totalCount {
		last = totalCount
	}

	var items []string
	for i := first; i <= last; i++ {
		items = append(items, fmt.Sprintf(
			`{"id": "lot-%d", "name": "Lot %d", "address": "%d Main St", "total_spaces": 100, "available_spaces": %d}`,
			i, i, i, i%100))
	}
	return `{"facilities": [` + strings.Join(items, ",") + `]}`
}

// Counts returns the tracked request counters.
func (m *MockProviderAPI) Counts() (requests, health, reads int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount, m.HealthCount, m.ReadCount
}
