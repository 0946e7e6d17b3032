// Package testutil provides a mock feed API for tests.
package testutil

import (
	"fmt"
	"hash/fnv"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// API paths served by MockFeedAPI.
const (
	PathUnifiedDocuments = "/api/researchhub_unified_document/get_unified_documents/"
	PathContributions    = "/api/contribution/"
	PathBounties         = "/api/bounty/"
)

// DocumentTypes cycles through the document types of the generated corpus.
var DocumentTypes = []string{"PAPER", "DISCUSSION", "HYPOTHESIS", "QUESTION"}

// docTypeFilter maps the feed's type filter to the generated document types.
var docTypeFilter = map[string]string{
	"paper":      "PAPER",
	"posts":      "DISCUSSION",
	"hypothesis": "HYPOTHESIS",
	"question":   "QUESTION",
}

// HubCount is the number of hubs documents are spread over.
const HubCount = 5

// MockResponse defines a canned response for a path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// Document is one generated corpus entry.
type Document struct {
	ID           int64
	DocumentType string
	HubID        int64
	Score        int
	CreatedDate  time.Time
}

// MockFeedAPI is a configurable mock of the feed backend.
type MockFeedAPI struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc

	corpus   []Document
	pageSize int
	delay    time.Duration
	hold     chan struct{}
	release  func()

	failures   map[int]int
	failStatus int

	remaining int
	reset     int

	requestCount      int
	conditionalCount  int
	pageRequests      map[int]int
	lastRequestHeader http.Header
	lastQuery         url.Values
}

// NewMockFeedAPI starts a mock backend with total generated documents.
func NewMockFeedAPI(total int) *MockFeedAPI {
	mock := &MockFeedAPI{
		handlers:     make(map[string]http.HandlerFunc),
		pageSize:     20,
		failures:     make(map[int]int),
		failStatus:   http.StatusInternalServerError,
		remaining:    100,
		reset:        60,
		pageRequests: make(map[int]int),
	}

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= total; i++ {
		mock.corpus = append(mock.corpus, Document{
			ID:           int64(i),
			DocumentType: DocumentTypes[(i-1)%len(DocumentTypes)],
			HubID:        int64((i-1)%HubCount + 1),
			Score:        (i * 37) % 101,
			CreatedDate:  base.Add(time.Duration(i) * time.Hour),
		})
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.serve))
	return mock
}

func (m *MockFeedAPI) serve(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requestCount++
	m.lastRequestHeader = r.Header.Clone()
	m.lastQuery = r.URL.Query()
	if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
		m.conditionalCount++
	}
	handler, custom := m.handlers[r.URL.Path]
	delay := m.delay
	hold := m.hold
	m.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if custom {
		handler(w, r)
		return
	}

	switch r.URL.Path {
	case PathUnifiedDocuments:
		m.serveFeed(w, r)
	case PathContributions:
		m.serveContributions(w, r)
	case PathBounties:
		m.serveBounties(w, r)
	default:
		http.NotFound(w, r)
	}
}

// URL returns the mock server URL.
func (m *MockFeedAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockFeedAPI) Close() {
	m.mu.Lock()
	release := m.release
	m.mu.Unlock()
	if release != nil {
		release()
	}
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockFeedAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.conditionalCount = 0
	m.pageRequests = make(map[int]int)
	m.lastRequestHeader = nil
	m.lastQuery = nil
}

// SetHandler overrides the handler of a path.
func (m *MockFeedAPI) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse serves a canned response for a path.
func (m *MockFeedAPI) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetPageSize changes the number of documents per feed page.
func (m *MockFeedAPI) SetPageSize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageSize = n
}

// SetDelay delays every response.
func (m *MockFeedAPI) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// SetRateLimit sets the quota headers sent with every feed response.
func (m *MockFeedAPI) SetRateLimit(remaining, resetSeconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remaining = remaining
	m.reset = resetSeconds
}

// FailPage makes the next times requests for a feed page answer with status.
func (m *MockFeedAPI) FailPage(page, times, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[page] = times
	m.failStatus = status
}

// Hold blocks every request until the returned release function is called.
func (m *MockFeedAPI) Hold() (release func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hold := make(chan struct{})
	m.hold = hold

	var once sync.Once
	release = func() {
		once.Do(func() {
			m.mu.Lock()
			if m.hold == hold {
				m.hold = nil
				m.release = nil
			}
			m.mu.Unlock()
			close(hold)
		})
	}
	m.release = release
	return release
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockFeedAPI) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// GetConditionalCount returns the number of conditional requests.
func (m *MockFeedAPI) GetConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conditionalCount
}

// PageRequests returns how often a feed page was requested.
func (m *MockFeedAPI) PageRequests(page int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pageRequests[page]
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockFeedAPI) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRequestHeader
}

// LastQuery returns the query of the most recent request.
func (m *MockFeedAPI) LastQuery() url.Values {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastQuery
}

// Matching returns the corpus filtered the way the feed endpoint filters it.
func (m *MockFeedAPI) Matching(query url.Values, authorized bool) []Document {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.matchingLocked(query, authorized)
}

func (m *MockFeedAPI) matchingLocked(query url.Values, authorized bool) []Document {
	if query.Get("subscribed_hubs") == "true" && !authorized {
		return nil
	}

	wantType := docTypeFilter[query.Get("type")]
	hubID, _ := strconv.ParseInt(query.Get("hub_id"), 10, 64)

	out := make([]Document, 0, len(m.corpus))
	for _, d := range m.corpus {
		if wantType != "" && d.DocumentType != wantType {
			continue
		}
		if hubID > 0 && d.HubID != hubID {
			continue
		}
		out = append(out, d)
	}

	if query.Get("ordering") == "new" {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

func (m *MockFeedAPI) serveFeed(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page := 1
	if p, err := strconv.Atoi(query.Get("page")); err == nil && p > 0 {
		page = p
	}

	m.mu.Lock()
	m.pageRequests[page]++
	failing := m.failures[page] > 0
	if failing {
		m.failures[page]--
	}
	status := m.failStatus
	remaining, reset := m.remaining, m.reset
	docs := m.matchingLocked(query, r.Header.Get("Authorization") != "")
	pageSize := m.pageSize
	m.mu.Unlock()

	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.Itoa(reset))
	w.Header().Set("Content-Type", "application/json")

	if failing {
		writeError(w, status)
		return
	}

	results := make([]map[string]interface{}, 0, pageSize)
	from := (page - 1) * pageSize
	for i := from; i < from+pageSize && i < len(docs); i++ {
		results = append(results, documentJSON(docs[i]))
	}

	m.writeEnvelope(w, r, len(docs), page, from+pageSize < len(docs), results)
}

func (m *MockFeedAPI) serveContributions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page := 1
	if p, err := strconv.Atoi(query.Get("page")); err == nil && p > 0 {
		page = p
	}
	const size = 10

	m.mu.RLock()
	docs := m.corpus
	m.mu.RUnlock()

	results := make([]map[string]interface{}, 0, size)
	from := (page - 1) * size
	for i := from; i < from+size && i < len(docs); i++ {
		results = append(results, map[string]interface{}{
			"id":           docs[i].ID,
			"content_type": query.Get("type"),
			"created_by":   query.Get("author_id"),
			"text":         fmt.Sprintf("Comment on document %d", docs[i].ID),
		})
	}
	m.writeEnvelope(w, r, len(docs), page, from+size < len(docs), results)
}

func (m *MockFeedAPI) serveBounties(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = "OPEN"
	}
	results := []map[string]interface{}{
		{"id": 1, "status": status, "amount": "150.0"},
		{"id": 2, "status": status, "amount": "75.5"},
	}
	m.writeEnvelope(w, r, len(results), 1, false, results)
}

// writeEnvelope writes a paginated body with absolute next/previous links and
// answers matching If-None-Match requests with 304.
func (m *MockFeedAPI) writeEnvelope(w http.ResponseWriter, r *http.Request, count, page int, hasNext bool, results []map[string]interface{}) {
	link := func(p int) interface{} {
		q := r.URL.Query()
		q.Set("page", strconv.Itoa(p))
		return m.server.URL + r.URL.Path + "?" + q.Encode()
	}

	body := map[string]interface{}{
		"count":    count,
		"next":     nil,
		"previous": nil,
		"results":  results,
	}
	if hasNext {
		body["next"] = link(page + 1)
	}
	if page > 1 {
		body["previous"] = link(page - 1)
	}

	data, err := json.Marshal(body)
	if err != nil {
		writeError(w, http.StatusInternalServerError)
		return
	}

	h := fnv.New64a()
	h.Write(data)
	etag := fmt.Sprintf(`"%x"`, h.Sum64())

	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "max-age=60")
	w.Header().Set("Content-Type", "application/json")

	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func documentJSON(d Document) map[string]interface{} {
	return map[string]interface{}{
		"id":            d.ID,
		"document_type": d.DocumentType,
		"score":         d.Score,
		"created_date":  d.CreatedDate.Format(time.RFC3339),
		"hubs": []map[string]interface{}{
			{"id": d.HubID, "name": fmt.Sprintf("Hub %d", d.HubID), "slug": fmt.Sprintf("hub-%d", d.HubID)},
		},
		"documents": map[string]interface{}{
			"title": fmt.Sprintf("Document %d", d.ID),
		},
	}
}

func writeError(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "1")
	}
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"detail": %q}`, http.StatusText(status))
}

// NewJSONResponse creates a 200 OK response with body.
func NewJSONResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"ETag":          `"test-etag-123"`,
			"Cache-Control": "max-age=60",
			"Content-Type":  "application/json",
		},
	}
}

// NewNotModifiedResponse creates a 304 Not Modified response.
func NewNotModifiedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotModified,
		Headers: map[string]string{
			"Cache-Control": "max-age=60",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfterSeconds int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"detail": "Request was throttled."}`,
		Headers: map[string]string{
			"Retry-After":           strconv.Itoa(retryAfterSeconds),
			"X-RateLimit-Remaining": "0",
			"X-RateLimit-Reset":     strconv.Itoa(retryAfterSeconds),
			"Content-Type":          "application/json",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"detail": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}
