package common

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"torrentstream/streamservice/internal/domain"
)

func TestFetcherRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "tester/1.0" {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		if hits.Add(1) == 1 {
			http.Error(w, "busy", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	fetcher := NewFetcher(srv.Client(), "tester/1.0")
	fetcher.Retry = fastRetry(3)

	var payload struct {
		OK bool `json:"ok"`
	}
	if err := fetcher.GetJSON(context.Background(), srv.URL+"/q?x=1", &payload); err != nil {
		t.Fatalf("GetJSON error: %v", err)
	}
	if !payload.OK || hits.Load() != 2 {
		t.Fatalf("expected success on second attempt, ok=%v hits=%d", payload.OK, hits.Load())
	}
}

func TestFetcherDoesNotRetryNotFound(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	fetcher := NewFetcher(srv.Client(), "")
	fetcher.Retry = fastRetry(3)

	_, err := fetcher.Get(context.Background(), srv.URL, "")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 StatusError, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected a single request, got %d", hits.Load())
	}
}

func TestLazyRunsOnRange(t *testing.T) {
	calls := 0
	seq := Lazy(context.Background(), func(context.Context) ([]domain.CandidateStream, error) {
		calls++
		return []domain.CandidateStream{{InfoHash: "a"}, {InfoHash: "b"}, {InfoHash: "c"}}, nil
	})
	if calls != 0 {
		t.Fatalf("expected search to be deferred")
	}

	var got []string
	for candidate, err := range seq {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, candidate.Hash())
		if len(got) == 2 {
			break
		}
	}
	if !slices.Equal(got, []string{"a", "b"}) || calls != 1 {
		t.Fatalf("unexpected iteration: %v calls=%d", got, calls)
	}
}

func TestLazyYieldsError(t *testing.T) {
	boom := errors.New("boom")
	seq := Lazy(context.Background(), func(context.Context) ([]domain.CandidateStream, error) {
		return nil, boom
	})
	for candidate, err := range seq {
		if candidate != nil || !errors.Is(err, boom) {
			t.Fatalf("expected a single error element, got %v %v", candidate, err)
		}
	}
}

func TestPagesStopsOnLastPage(t *testing.T) {
	var pages []int
	seq := Pages(context.Background(), func(_ context.Context, page int) ([]domain.Candidate, bool, error) {
		pages = append(pages, page)
		return []domain.Candidate{domain.CandidateStream{InfoHash: "p"}}, page == 3, nil
	})
	count := 0
	for _, err := range seq {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		count++
	}
	if count != 3 || !slices.Equal(pages, []int{1, 2, 3}) {
		t.Fatalf("expected three pages, got %v (%d items)", pages, count)
	}
}

func TestNewHTTPClientTimeout(t *testing.T) {
	client := NewHTTPClient(3 * time.Second)
	if client.Timeout != 3*time.Second || client.Transport == nil {
		t.Fatalf("unexpected client: %+v", client)
	}
}
