package harvest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/geneius/pmc-harvester/internal/testutil"
)

// fakeSink records stores in memory and can be told to fail specific ids.
type fakeSink struct {
	mu      sync.Mutex
	stored  map[string][]byte
	failIDs map[string]bool
}

func newFakeSink(failIDs ...string) *fakeSink {
	fail := make(map[string]bool, len(failIDs))
	for _, id := range failIDs {
		fail[id] = true
	}
	return &fakeSink{stored: make(map[string][]byte), failIDs: fail}
}

func (s *fakeSink) Store(_ context.Context, id string, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failIDs[id] {
		return errors.New("disk full")
	}
	s.stored[id] = append([]byte(nil), content...)
	return nil
}

func (s *fakeSink) Name() string { return "fake" }

func (s *fakeSink) get(id string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.stored[id]
	return b, ok
}

func TestDownload_CompletenessAndAssociation(t *testing.T) {
	svc, _ := newTestService(t)
	snk := newFakeSink()

	ids := []string{"PMC1", "PMC2", "PMC3", "PMC4", "PMC5"}
	d := NewDownloader(svc, 2, 2, fastRetry(3))
	outcomes := d.Download(context.Background(), "TESTGENE", ids, snk)

	if len(outcomes) != len(ids) {
		t.Fatalf("len(outcomes) = %d, want %d", len(outcomes), len(ids))
	}

	seen := make(map[string]int)
	for _, o := range outcomes {
		seen[o.ID]++
		if !o.Persisted {
			t.Errorf("outcome for %s not persisted: %s", o.ID, o.Err)
		}
	}
	for _, id := range ids {
		if seen[id] != 1 {
			t.Errorf("id %s has %d outcomes, want exactly 1", id, seen[id])
		}
	}

	// The mock embeds each requested id in its article, so a stored document
	// must contain its own identifier: positional association held.
	for _, id := range ids {
		doc, ok := snk.get(id)
		if !ok {
			t.Errorf("id %s not stored", id)
			continue
		}
		if !strings.Contains(string(doc), ">"+id+"<") {
			t.Errorf("document for %s does not contain its id: %s", id, doc)
		}
	}
}

func TestDownload_CountMismatchFailsChunkAfterRetries(t *testing.T) {
	svc, mock := newTestService(t)
	mock.SetFetchHandler(func(ids []string) (int, string) {
		// Drop the last article: positional pairing would mis-attribute.
		return http.StatusOK, testutil.ArticleSet(ids[:len(ids)-1])
	})

	snk := newFakeSink()
	ids := []string{"PMC1", "PMC2", "PMC3"}

	d := NewDownloader(svc, 3, 1, fastRetry(3))
	outcomes := d.Download(context.Background(), "TESTGENE", ids, snk)

	if got := mock.FetchCount(); got != 3 {
		t.Errorf("fetch attempts = %d, want 3 (retry bound)", got)
	}
	if len(outcomes) != len(ids) {
		t.Fatalf("len(outcomes) = %d, want %d", len(outcomes), len(ids))
	}
	for _, o := range outcomes {
		if o.Persisted {
			t.Errorf("id %s persisted despite count mismatch", o.ID)
		}
		if !strings.Contains(o.Err, "article count mismatch") {
			t.Errorf("id %s error = %q, want count mismatch reason", o.ID, o.Err)
		}
	}
	if len(snk.stored) != 0 {
		t.Errorf("sink received %d documents from a mismatched chunk", len(snk.stored))
	}
}

func TestDownload_TransportFailureReasonDistinct(t *testing.T) {
	svc, mock := newTestService(t)
	mock.SetFetchHandler(func(ids []string) (int, string) {
		return http.StatusBadGateway, "bad gateway"
	})

	d := NewDownloader(svc, 2, 1, fastRetry(2))
	outcomes := d.Download(context.Background(), "TESTGENE", []string{"PMC1", "PMC2"}, newFakeSink())

	for _, o := range outcomes {
		if strings.Contains(o.Err, "mismatch") {
			t.Errorf("transport failure reported as mismatch: %q", o.Err)
		}
		if !strings.Contains(o.Err, "fetch failed") {
			t.Errorf("id %s error = %q, want fetch failure reason", o.ID, o.Err)
		}
	}
}

func TestDownload_SinkFailureIsolatedPerID(t *testing.T) {
	svc, _ := newTestService(t)
	snk := newFakeSink("X123")

	ids := []string{"PMC1", "X123", "PMC3"}
	d := NewDownloader(svc, 3, 1, fastRetry(3))
	outcomes := d.Download(context.Background(), "TESTGENE", ids, snk)

	byID := make(map[string]string)
	persisted := make(map[string]bool)
	for _, o := range outcomes {
		byID[o.ID] = o.Err
		persisted[o.ID] = o.Persisted
	}

	if persisted["X123"] {
		t.Error("X123 persisted, want sink failure")
	}
	if !strings.Contains(byID["X123"], "sink") {
		t.Errorf("X123 error = %q, want sink reason", byID["X123"])
	}
	for _, id := range []string{"PMC1", "PMC3"} {
		if !persisted[id] {
			t.Errorf("sibling %s failed alongside X123: %s", id, byID[id])
		}
	}
}

func TestDownload_ConcurrencyCapEnforced(t *testing.T) {
	svc, mock := newTestService(t)

	var inFlight, peak int64
	mock.SetFetchHandler(func(ids []string) (int, string) {
		n := atomic.AddInt64(&inFlight, 1)
		for {
			old := atomic.LoadInt64(&peak)
			if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return http.StatusOK, testutil.ArticleSet(ids)
	})

	ids := make([]string, 12)
	for i := range ids {
		ids[i] = fmt.Sprintf("PMC%d", i)
	}

	d := NewDownloader(svc, 2, 2, fastRetry(3))
	outcomes := d.Download(context.Background(), "TESTGENE", ids, newFakeSink())

	if len(outcomes) != len(ids) {
		t.Fatalf("len(outcomes) = %d, want %d", len(outcomes), len(ids))
	}
	if p := atomic.LoadInt64(&peak); p > 2 {
		t.Errorf("peak in-flight fetches = %d, want <= 2", p)
	}
}

func TestDownload_NonPositiveParametersClamped(t *testing.T) {
	svc, _ := newTestService(t)
	snk := newFakeSink()
	ids := []string{"PMC1", "PMC2"}

	// Zero concurrency would start no workers and silently drop every
	// outcome; zero chunk size would produce no chunks. Both fall back.
	d := NewDownloader(svc, 0, 0, fastRetry(3))
	outcomes := d.Download(context.Background(), "TESTGENE", ids, snk)

	if len(outcomes) != len(ids) {
		t.Fatalf("len(outcomes) = %d, want %d", len(outcomes), len(ids))
	}
	for _, o := range outcomes {
		if !o.Persisted {
			t.Errorf("outcome for %s not persisted: %s", o.ID, o.Err)
		}
	}
}

func TestDownload_MixedFailuresStillComplete(t *testing.T) {
	svc, mock := newTestService(t)

	var calls int64
	mock.SetFetchHandler(func(ids []string) (int, string) {
		// Every other request fails hard so some chunks exhaust retries.
		if atomic.AddInt64(&calls, 1)%2 == 0 {
			return http.StatusInternalServerError, "boom"
		}
		return http.StatusOK, testutil.ArticleSet(ids)
	})

	ids := make([]string, 10)
	for i := range ids {
		ids[i] = fmt.Sprintf("PMC%d", i)
	}

	d := NewDownloader(svc, 2, 3, fastRetry(2))
	outcomes := d.Download(context.Background(), "TESTGENE", ids, newFakeSink())

	seen := make(map[string]int)
	for _, o := range outcomes {
		seen[o.ID]++
	}
	if len(outcomes) != len(ids) {
		t.Errorf("len(outcomes) = %d, want %d", len(outcomes), len(ids))
	}
	for _, id := range ids {
		if seen[id] != 1 {
			t.Errorf("id %s has %d outcomes, want exactly 1", id, seen[id])
		}
	}
}
