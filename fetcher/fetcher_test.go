package fetcher

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func resourceMock(contentType, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write([]byte(body))
	}
}

func newTestFetcher(c clock.Clock) *Fetcher {
	return New(Config{UserAgent: "test-agent", Clock: c})
}

func TestFetchReturnsHTMLBody(t *testing.T) {
	handler := http.NewServeMux()
	handler.HandleFunc("/page", resourceMock("text/html; charset=utf-8", "<html><body>hi</body></html>"))
	server := httptest.NewServer(handler)
	defer server.Close()

	f := newTestFetcher(clock.NewMock())
	resp, err := f.Fetch(server.URL+"/page", nil)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if string(resp.Body) != "<html><body>hi</body></html>" {
		t.Errorf("unexpected body: %s", resp.Body)
	}
}

func TestFetchSkipsNonHTMLContentType(t *testing.T) {
	handler := http.NewServeMux()
	handler.HandleFunc("/image", resourceMock("image/png", "binary"))
	server := httptest.NewServer(handler)
	defer server.Close()

	f := newTestFetcher(clock.NewMock())
	_, err := f.Fetch(server.URL+"/image", nil)
	if err == nil {
		t.Fatal("expected an error for a non-HTML content type")
	}
}

func TestFetchReportsHTTPStatusError(t *testing.T) {
	handler := http.NewServeMux()
	handler.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	f := newTestFetcher(clock.NewMock())
	_, err := f.Fetch(server.URL+"/missing", nil)
	if err == nil {
		t.Fatal("expected an error for a 404 response")
	}
}

// failingTransport errors every round trip, counting the attempts, so the
// retry ladder can be driven without a network.
type failingTransport struct {
	calls int32
}

func (tr *failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	atomic.AddInt32(&tr.calls, 1)
	return nil, errors.New("connection reset")
}

func TestFetchRetriesTransportFailuresOnMockClock(t *testing.T) {
	transport := &failingTransport{}
	mock := clock.NewMock()
	f := New(Config{UserAgent: "test-agent", Transport: transport, Clock: mock})

	start := mock.Now()
	done := make(chan error, 1)
	go func() {
		_, err := f.Fetch("http://example.invalid/page", nil)
		done <- err
	}()

	// Drive the mock clock forward until the retry ladder runs out; the
	// fetch goroutine only progresses when an Add releases its Sleep.
	var err error
	for waiting := true; waiting; {
		select {
		case err = <-done:
			waiting = false
		default:
			mock.Add(100 * time.Millisecond)
			time.Sleep(time.Millisecond)
		}
	}

	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected a transport failure after exhausting retries, got %v", err)
	}
	if got := atomic.LoadInt32(&transport.calls); got != maxAttempts {
		t.Errorf("expected %d attempts, got %d", maxAttempts, got)
	}
	// Two backoff sleeps separate the three attempts: 1s and 2s bases,
	// each with up to 1s of jitter.
	elapsed := mock.Now().Sub(start)
	if elapsed < 3*time.Second || elapsed > 6*time.Second {
		t.Errorf("expected between 3s and 6s of mock-clock backoff, got %s", elapsed)
	}
}

func TestBackoffDelayIsBoundedWithJitter(t *testing.T) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		d := backoffDelay(attempt)
		if d < time.Second || d >= 11*time.Second {
			t.Errorf("attempt %d backoff %s outside [1s, 11s)", attempt, d)
		}
	}
}

func TestRedirectHopDelayGrowsAndCaps(t *testing.T) {
	if d := redirectHopDelay(0); d != 200*time.Millisecond {
		t.Errorf("expected the first hop to pause 200ms, got %s", d)
	}
	if d := redirectHopDelay(50); d != 2*time.Second {
		t.Errorf("expected the hop pause to cap at 2s, got %s", d)
	}
}

func TestFetchCapsBodyAtOneMiB(t *testing.T) {
	big := make([]byte, 3<<20)
	for i := range big {
		big[i] = 'x'
	}
	handler := http.NewServeMux()
	handler.HandleFunc("/huge", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write(big)
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	f := newTestFetcher(clock.NewMock())
	resp, err := f.Fetch(server.URL+"/huge", nil)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(resp.Body) != 1<<20 {
		t.Errorf("expected the body to be truncated at 1 MiB, got %d bytes", len(resp.Body))
	}
}

func TestFetchFollowsRedirectChain(t *testing.T) {
	handler := http.NewServeMux()
	handler.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/middle", http.StatusFound)
	})
	handler.HandleFunc("/middle", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/end", http.StatusFound)
	})
	handler.HandleFunc("/end", resourceMock("text/html", "<html>done</html>"))
	server := httptest.NewServer(handler)
	defer server.Close()

	f := New(Config{UserAgent: "test-agent"})
	resp, err := f.Fetch(server.URL+"/start", nil)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if resp.FinalURL != server.URL+"/end" {
		t.Errorf("expected final url %s/end, got %s", server.URL, resp.FinalURL)
	}
}

func TestFetchDetectsRedirectLoopAndReturnsLastResponse(t *testing.T) {
	handler := http.NewServeMux()
	handler.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/b", http.StatusFound)
	})
	handler.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/a", http.StatusFound)
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	f := New(Config{UserAgent: "test-agent"})
	resp, err := f.Fetch(server.URL+"/a", func(raw string) (string, error) { return raw, nil })
	if err != nil {
		t.Fatalf("expected the loop to break without error, got %v", err)
	}
	if resp.StatusCode < 300 || resp.StatusCode >= 400 {
		t.Errorf("expected the last (redirect) response to be surfaced, got status %d", resp.StatusCode)
	}
}
