package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testOptions() Options {
	return Options{
		Concurrency:    10,
		MaxAttempts:    5,
		Timeout:        2 * time.Second,
		NetworkBackoff: time.Millisecond,
		StatusBackoff:  time.Millisecond,
	}
}

type countingServer struct {
	mu    sync.Mutex
	calls map[string]int
}

func newCountingServer(t *testing.T, handler func(path string, call int, w http.ResponseWriter)) (*httptest.Server, *countingServer) {
	t.Helper()
	cs := &countingServer{calls: make(map[string]int)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.mu.Lock()
		cs.calls[r.URL.Path]++
		n := cs.calls[r.URL.Path]
		cs.mu.Unlock()
		handler(r.URL.Path, n, w)
	}))
	t.Cleanup(srv.Close)
	return srv, cs
}

func (cs *countingServer) count(path string) int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.calls[path]
}

func TestFetch_TerminalStatuses(t *testing.T) {
	srv, cs := newCountingServer(t, func(path string, _ int, w http.ResponseWriter) {
		code, _ := strconv.Atoi(strings.TrimPrefix(path, "/"))
		w.WriteHeader(code)
		fmt.Fprint(w, path)
	})
	f := NewFetcher(testOptions())

	for _, code := range []int{200, 403, 404} {
		path := fmt.Sprintf("/%d", code)
		resp := f.Fetch(context.Background(), srv.URL+path)
		if resp.StatusCode != code || resp.Err != nil {
			t.Errorf("%s: status=%d err=%v", path, resp.StatusCode, resp.Err)
		}
		if resp.Attempts != 1 || cs.count(path) != 1 {
			t.Errorf("%s: attempts=%d calls=%d, want 1", path, resp.Attempts, cs.count(path))
		}
		if resp.OK() != (code == 200) {
			t.Errorf("%s: OK() = %v", path, resp.OK())
		}
	}
}

func TestFetch_RetriesServerErrorsUpToCap(t *testing.T) {
	srv, cs := newCountingServer(t, func(_ string, _ int, w http.ResponseWriter) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	f := NewFetcher(testOptions())

	resp := f.Fetch(context.Background(), srv.URL+"/img.jpg")
	if got := cs.count("/img.jpg"); got != 5 {
		t.Errorf("server saw %d requests, want 5", got)
	}
	if resp.Attempts != 5 {
		t.Errorf("Attempts = %d, want 5", resp.Attempts)
	}
	if resp.StatusCode != http.StatusServiceUnavailable || resp.OK() {
		t.Errorf("last response should be returned, got status %d", resp.StatusCode)
	}
}

func TestFetch_RecoversAfterTransientStatus(t *testing.T) {
	srv, cs := newCountingServer(t, func(_ string, call int, w http.ResponseWriter) {
		if call < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("image-bytes"))
	})
	f := NewFetcher(testOptions())

	resp := f.Fetch(context.Background(), srv.URL+"/a")
	if !resp.OK() || string(resp.Body) != "image-bytes" {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Attempts != 3 || cs.count("/a") != 3 {
		t.Errorf("attempts=%d calls=%d, want 3", resp.Attempts, cs.count("/a"))
	}
}

type failingTransport struct {
	calls atomic.Int32
}

func (ft *failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	ft.calls.Add(1)
	return nil, errors.New("connection reset by peer")
}

func TestFetch_RetriesNetworkErrorsUpToCap(t *testing.T) {
	ft := &failingTransport{}
	f := NewFetcher(testOptions(), WithHTTPClient(&http.Client{Transport: ft}))

	resp := f.Fetch(context.Background(), "http://images.example.org/1.jpg")
	if got := ft.calls.Load(); got != 5 {
		t.Errorf("transport saw %d calls, want 5", got)
	}
	if resp.Err == nil || resp.OK() {
		t.Errorf("expected final network error, got %+v", resp)
	}
	if resp.Attempts != 5 {
		t.Errorf("Attempts = %d, want 5", resp.Attempts)
	}
}

func TestFetch_MalformedURL(t *testing.T) {
	ft := &failingTransport{}
	f := NewFetcher(testOptions(), WithHTTPClient(&http.Client{Transport: ft}))

	for _, raw := range []string{"", "not a url", "ftp://host/x.jpg", "http://"} {
		resp := f.Fetch(context.Background(), raw)
		if !errors.Is(resp.Err, ErrMalformedURL) {
			t.Errorf("%q: err = %v, want ErrMalformedURL", raw, resp.Err)
		}
	}
	if ft.calls.Load() != 0 {
		t.Errorf("malformed URLs must not be requested, got %d calls", ft.calls.Load())
	}
}

func TestFetch_ContextCancelStopsBackoff(t *testing.T) {
	ft := &failingTransport{}
	opts := testOptions()
	opts.NetworkBackoff = time.Hour
	f := NewFetcher(opts, WithHTTPClient(&http.Client{Transport: ft}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	done := make(chan *Response, 1)
	go func() { done <- f.Fetch(ctx, "http://images.example.org/1.jpg") }()

	select {
	case resp := <-done:
		if resp.OK() || resp.Err == nil {
			t.Errorf("expected error after cancel, got %+v", resp)
		}
		if ft.calls.Load() != 1 {
			t.Errorf("calls = %d, want 1", ft.calls.Load())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Fetch did not return after cancel")
	}
}

func TestFetchAll_PreservesInputOrder(t *testing.T) {
	srv, _ := newCountingServer(t, func(path string, _ int, w http.ResponseWriter) {
		n, _ := strconv.Atoi(strings.TrimPrefix(path, "/"))
		// later items finish first
		time.Sleep(time.Duration(20-n) * time.Millisecond)
		fmt.Fprint(w, n)
	})
	f := NewFetcher(testOptions())

	urls := make([]string, 20)
	for i := range urls {
		urls[i] = fmt.Sprintf("%s/%d", srv.URL, i)
	}
	responses := f.FetchAll(context.Background(), urls)
	if len(responses) != len(urls) {
		t.Fatalf("got %d responses, want %d", len(responses), len(urls))
	}
	for i, resp := range responses {
		if resp.URL != urls[i] || string(resp.Body) != strconv.Itoa(i) {
			t.Errorf("slot %d holds %q (%q)", i, resp.URL, resp.Body)
		}
	}
}

func TestFetchAll_BoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
	}))
	defer srv.Close()

	opts := testOptions()
	opts.Concurrency = 3
	f := NewFetcher(opts)

	urls := make([]string, 15)
	for i := range urls {
		urls[i] = fmt.Sprintf("%s/%d", srv.URL, i)
	}
	for _, resp := range f.FetchAll(context.Background(), urls) {
		if !resp.OK() {
			t.Errorf("%s: status %d err %v", resp.URL, resp.StatusCode, resp.Err)
		}
	}
	if got := peak.Load(); got > 3 {
		t.Errorf("peak in-flight = %d, want <= 3", got)
	}
}

func TestFetchAll_Empty(t *testing.T) {
	f := NewFetcher(Options{})
	if got := f.FetchAll(context.Background(), nil); len(got) != 0 {
		t.Errorf("got %d responses for no input", len(got))
	}
}
