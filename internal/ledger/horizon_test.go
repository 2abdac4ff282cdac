package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/Stellara/internal/domain"
)

// fakeHorizon отдаёт операции с paging token 1..n.
type fakeHorizon struct {
	mu       sync.Mutex
	total    int
	requests []string
	status   int
}

func (f *fakeHorizon) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.URL.RawQuery)
	status := f.status
	f.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}

	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	cursor, _ := strconv.Atoi(q.Get("cursor"))

	var records []string
	if q.Get("order") == "desc" {
		records = append(records, record(f.total))
	} else {
		for seq := cursor + 1; seq <= f.total && len(records) < limit; seq++ {
			records = append(records, record(seq))
		}
	}

	w.Header().Set("Content-Type", "application/hal+json")
	fmt.Fprintf(w, `{"_links":{},"_embedded":{"records":[%s]}}`, strings.Join(records, ","))
}

func record(seq int) string {
	return fmt.Sprintf(`{"_links":{"self":{"href":"x"}},"id":"%d","paging_token":"%d","type":"payment","amount":"%d.0000000","asset_type":"native"}`, seq, seq, seq*10)
}

func newTestClient(srv *httptest.Server) *HorizonClient {
	return NewHorizonClient(HorizonConfig{
		BaseURL:      srv.URL,
		PageSize:     2,
		PollInterval: 10 * time.Millisecond,
		RateLimit:    1000,
		HTTPClient:   srv.Client(),
	})
}

func TestHorizonClient_Subscribe(t *testing.T) {
	fake := &fakeHorizon{total: 5}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	entries, errs := newTestClient(srv).Subscribe(ctx, 1)

	var got []string
	for e := range entries {
		got = append(got, e.PagingToken)
		if len(got) == 4 {
			cancel()
		}
	}

	want := []string{"2", "3", "4", "5"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("got tokens %v, want %v", got, want)
	}

	select {
	case err := <-errs:
		t.Errorf("unexpected error after cancel: %v", err)
	default:
	}
}

func TestHorizonClient_SubscribeError(t *testing.T) {
	fake := &fakeHorizon{status: http.StatusServiceUnavailable}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	entries, errs := newTestClient(srv).Subscribe(context.Background(), 0)
	for range entries {
		t.Fatal("no entries expected")
	}

	err := <-errs
	if !errors.Is(err, ErrUnavailable) || !domain.IsTransient(err) {
		t.Errorf("expected transient ErrUnavailable, got %v", err)
	}
}

func TestHorizonClient_CurrentCursor(t *testing.T) {
	srv := httptest.NewServer(&fakeHorizon{total: 42})
	defer srv.Close()

	cursor, err := newTestClient(srv).CurrentCursor(context.Background())
	if err != nil {
		t.Fatalf("CurrentCursor() error = %v", err)
	}
	if cursor != 42 {
		t.Errorf("CurrentCursor() = %d, want 42", cursor)
	}
}

func TestHorizonClient_ClientError(t *testing.T) {
	srv := httptest.NewServer(&fakeHorizon{status: http.StatusBadRequest})
	defer srv.Close()

	_, err := newTestClient(srv).CurrentCursor(context.Background())
	if err == nil || domain.IsTransient(err) {
		t.Errorf("4xx should be a permanent error, got %v", err)
	}
}
