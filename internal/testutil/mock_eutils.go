// Package testutil provides a scripted mock of the upstream E-utilities
// endpoints for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// MockEUtils is a configurable mock upstream server exposing search, id
// conversion, and document fetch endpoints with request tracking.
type MockEUtils struct {
	server *httptest.Server

	mu sync.Mutex

	// Search scripting: per-term page sequences served in order. Failed
	// requests do not advance the sequence.
	searchPages    map[string][][]string
	searchServed   map[string]int
	searchFailures int
	SearchOffsets  []int

	// Conversion scripting.
	convMap      map[string]string
	convFailures int
	convGarbage  bool
	ConvBatches  [][]string

	// Fetch scripting: handler receives the requested id batch.
	fetchHandler func(ids []string) (status int, body string)
	FetchBatches [][]string
}

// NewMockEUtils creates a mock server. The default fetch handler returns a
// well-formed article set with one article per requested id.
func NewMockEUtils() *MockEUtils {
	m := &MockEUtils{
		searchPages:  make(map[string][][]string),
		searchServed: make(map[string]int),
		convMap:      make(map[string]string),
	}
	m.fetchHandler = DefaultFetchHandler

	mux := http.NewServeMux()
	mux.HandleFunc("/esearch.fcgi", m.handleSearch)
	mux.HandleFunc("/idconv", m.handleConv)
	mux.HandleFunc("/efetch.fcgi", m.handleFetch)
	m.server = httptest.NewServer(mux)

	return m
}

// URL returns the mock server base URL.
func (m *MockEUtils) URL() string { return m.server.URL }

// SearchURL returns the search endpoint URL.
func (m *MockEUtils) SearchURL() string { return m.server.URL + "/esearch.fcgi" }

// ConvURL returns the id conversion endpoint URL.
func (m *MockEUtils) ConvURL() string { return m.server.URL + "/idconv" }

// FetchURL returns the document fetch endpoint URL.
func (m *MockEUtils) FetchURL() string { return m.server.URL + "/efetch.fcgi" }

// Close shuts down the mock server.
func (m *MockEUtils) Close() { m.server.Close() }

// SetSearchPages scripts the page sequence for a term. The sequence is
// served in order; once exhausted, further requests return an empty page.
func (m *MockEUtils) SetSearchPages(term string, pages [][]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchPages[term] = pages
}

// FailNextSearches makes the next n search requests return a 500.
func (m *MockEUtils) FailNextSearches(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchFailures = n
}

// SetConversion maps a primary id to a secondary id.
func (m *MockEUtils) SetConversion(pmid, pmcid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convMap[pmid] = pmcid
}

// FailNextConversions makes the next n conversion requests return a 500.
func (m *MockEUtils) FailNextConversions(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convFailures = n
}

// SetConversionGarbage makes conversion responses a non-JSON 200 body.
func (m *MockEUtils) SetConversionGarbage(garbage bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convGarbage = garbage
}

// SetFetchHandler installs a custom fetch handler.
func (m *MockEUtils) SetFetchHandler(h func(ids []string) (status int, body string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchHandler = h
}

// FetchCount returns the number of fetch requests served.
func (m *MockEUtils) FetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.FetchBatches)
}

// DefaultFetchHandler returns one <article> per requested id, each carrying
// the id so tests can verify positional association.
func DefaultFetchHandler(ids []string) (int, string) {
	return http.StatusOK, ArticleSet(ids)
}

// ArticleSet builds a well-formed article container for the given ids.
func ArticleSet(ids []string) string {
	var b strings.Builder
	b.WriteString("<pmc-articleset>")
	for _, id := range ids {
		fmt.Fprintf(&b, "<article><front><article-id>%s</article-id></front></article>", id)
	}
	b.WriteString("</pmc-articleset>")
	return b.String()
}

func (m *MockEUtils) handleSearch(w http.ResponseWriter, r *http.Request) {
	term := strings.Trim(r.URL.Query().Get("term"), `"`)
	offset, _ := strconv.Atoi(r.URL.Query().Get("retstart"))

	m.mu.Lock()
	m.SearchOffsets = append(m.SearchOffsets, offset)

	if m.searchFailures > 0 {
		m.searchFailures--
		m.mu.Unlock()
		http.Error(w, "upstream unavailable", http.StatusInternalServerError)
		return
	}

	var page []string
	pages := m.searchPages[term]
	if idx := m.searchServed[term]; idx < len(pages) {
		page = pages[idx]
		m.searchServed[term]++
	}
	m.mu.Unlock()

	if page == nil {
		page = []string{}
	}
	resp := map[string]any{"esearchresult": map[string]any{"idlist": page}}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (m *MockEUtils) handleConv(w http.ResponseWriter, r *http.Request) {
	ids := strings.Split(r.URL.Query().Get("ids"), ",")

	m.mu.Lock()
	m.ConvBatches = append(m.ConvBatches, ids)

	if m.convFailures > 0 {
		m.convFailures--
		m.mu.Unlock()
		http.Error(w, "upstream unavailable", http.StatusInternalServerError)
		return
	}
	garbage := m.convGarbage

	records := make([]map[string]string, 0, len(ids))
	for _, id := range ids {
		rec := map[string]string{"pmid": id}
		if pmcid, ok := m.convMap[id]; ok {
			rec["pmcid"] = pmcid
		}
		records = append(records, rec)
	}
	m.mu.Unlock()

	if garbage {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>not json</html>"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"records": records})
}

func (m *MockEUtils) handleFetch(w http.ResponseWriter, r *http.Request) {
	ids := strings.Split(r.URL.Query().Get("id"), ",")

	m.mu.Lock()
	m.FetchBatches = append(m.FetchBatches, ids)
	handler := m.fetchHandler
	m.mu.Unlock()

	status, body := handler(ids)
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	w.Write([]byte(body))
}
