package harvest

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/geneius/pmc-harvester/internal/testutil"
	"github.com/geneius/pmc-harvester/pkg/client"
	"github.com/geneius/pmc-harvester/pkg/credentials"
	"github.com/geneius/pmc-harvester/pkg/eutils"
)

func newTestService(t *testing.T) (*eutils.Service, *testutil.MockEUtils) {
	t.Helper()

	mock := testutil.NewMockEUtils()
	t.Cleanup(mock.Close)

	pool, err := credentials.NewPool([]credentials.Credential{
		{Email: "a@example.org", APIKey: "key-a"},
	}, 0, 1)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	c, err := client.New(client.Config{Pool: pool, Tool: "harvester-test"})
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}

	svc := eutils.NewService(c, eutils.Config{
		SearchURL: mock.SearchURL(),
		ConvURL:   mock.ConvURL(),
		FetchURL:  mock.FetchURL(),
	})
	return svc, mock
}

func fastRetry(maxAttempts int) client.Policy {
	return client.Bounded(maxAttempts, time.Millisecond)
}

func TestFetchAll_Pagination(t *testing.T) {
	svc, mock := newTestService(t)
	mock.SetSearchPages("TESTGENE", [][]string{
		{"p1", "p2"},
		{"p3"},
		{},
	})

	fetcher := NewSearchFetcher(svc, 2, 9999, fastRetry(3))
	ids, truncated, err := fetcher.FetchAll(context.Background(), "TESTGENE")
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}

	if want := []string{"p1", "p2", "p3"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("ids = %v, want %v", ids, want)
	}
	if truncated {
		t.Error("truncated = true, want false")
	}

	// Cursor must advance strictly: 0, 2, 3 and never repeat an offset.
	if want := []int{0, 2, 3}; !reflect.DeepEqual(mock.SearchOffsets, want) {
		t.Errorf("offsets = %v, want %v", mock.SearchOffsets, want)
	}
}

func TestFetchAll_RetriesSamePageWithoutAdvancing(t *testing.T) {
	svc, mock := newTestService(t)
	mock.SetSearchPages("TESTGENE", [][]string{{"p1"}, {}})
	mock.FailNextSearches(2)

	fetcher := NewSearchFetcher(svc, 10, 9999, fastRetry(5))
	ids, _, err := fetcher.FetchAll(context.Background(), "TESTGENE")
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}

	if want := []string{"p1"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("ids = %v, want %v", ids, want)
	}

	// Two failures then success: offset 0 requested three times, then 1.
	if want := []int{0, 0, 0, 1}; !reflect.DeepEqual(mock.SearchOffsets, want) {
		t.Errorf("offsets = %v, want %v", mock.SearchOffsets, want)
	}
}

func TestFetchAll_CeilingTruncatesSoftly(t *testing.T) {
	svc, mock := newTestService(t)
	mock.SetSearchPages("TESTGENE", [][]string{
		{"p1", "p2"},
		{"p3", "p4"},
		{"p5", "p6"},
	})

	fetcher := NewSearchFetcher(svc, 2, 4, fastRetry(3))
	ids, truncated, err := fetcher.FetchAll(context.Background(), "TESTGENE")
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}

	if len(ids) != 4 {
		t.Errorf("len(ids) = %d, want 4 (stop at ceiling)", len(ids))
	}
	if !truncated {
		t.Error("truncated = false, want true")
	}
	// The third page must never be requested.
	if want := []int{0, 2}; !reflect.DeepEqual(mock.SearchOffsets, want) {
		t.Errorf("offsets = %v, want %v", mock.SearchOffsets, want)
	}
}

func TestFetchAll_ZeroResults(t *testing.T) {
	svc, mock := newTestService(t)
	mock.SetSearchPages("UNKNOWN", [][]string{{}})

	fetcher := NewSearchFetcher(svc, 2, 9999, fastRetry(3))
	ids, truncated, err := fetcher.FetchAll(context.Background(), "UNKNOWN")
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(ids) != 0 || truncated {
		t.Errorf("ids = %v, truncated = %v; want empty, false", ids, truncated)
	}
}
