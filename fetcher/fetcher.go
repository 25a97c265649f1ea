// Package fetcher implements the HTTP fetch pipeline (execute-with-retry,
// manual redirect chasing, content-type gating) and the HTML extraction
// that turns a fetched page into image candidates and outbound links.
package fetcher

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aybabtme/iocontrol"
	"github.com/benbjohnson/clock"
)

const (
	baseConnectTimeout = 30 * time.Second
	baseReadTimeout    = 60 * time.Second
	maxAttempts        = 3
	maxRedirectHops    = 5
	maxBodyBytes       = 1 << 20 // 1 MiB
)

// attemptTimeoutMultiplier implements "attempt 1 uses the base timeout;
// attempt 2 uses 3x; attempt 3 uses 4x".
var attemptTimeoutMultiplier = [maxAttempts + 1]int{0: 0, 1: 1, 2: 3, 3: 4}

var acceptedContentTypePrefixes = []string{
	"text/html", "application/xhtml+xml", "application/xml", "text/xml",
}

// Sentinel errors for the content-gate and retry outcomes. Wrapped with
// fmt.Errorf("...: %w", ...) so callers can test with errors.Is.
var (
	ErrTransport        = fmt.Errorf("transport failure")
	ErrHTTPStatus       = fmt.Errorf("http error status")
	ErrRedirectExceeded = fmt.Errorf("redirect hop limit exceeded")
	ErrContentSkipped   = fmt.Errorf("content type skipped")
)

// Response is the result of a successful fetch: the final (post-redirect)
// URL, status, content type, body (capped at 1 MiB) and basic timing.
type Response struct {
	FinalURL      string
	StatusCode    int
	ContentType   string
	Body          []byte
	Elapsed       time.Duration
	BytesPerSec   float64
	RedirectCount int
}

// Config configures one Fetcher instance. UserAgent is sent on every
// request, including robots.txt fetches performed elsewhere. Transport, if
// set, is used as the base RoundTripper (tests inject an in-memory one);
// otherwise a TLS-tolerant transport is built.
// BaseReadTimeout/BaseConnectTimeout default to this package's constants
// when left zero.
type Config struct {
	UserAgent          string
	Transport          http.RoundTripper
	Clock              clock.Clock
	BaseReadTimeout    time.Duration
	BaseConnectTimeout time.Duration
}

// Fetcher executes the three-stage fetch pipeline: retry ladder, manual
// redirect chasing, and a content-type gate.
type Fetcher struct {
	userAgent          string
	transport          http.RoundTripper
	clock              clock.Clock
	baseReadTimeout    time.Duration
	baseConnectTimeout time.Duration
}

// New creates a Fetcher from cfg, filling in defaults where fields were
// left zero: a certificate-tolerant TLS transport and a real clock.Clock.
func New(cfg Config) *Fetcher {
	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	c := cfg.Clock
	if c == nil {
		c = clock.New()
	}
	readTimeout := cfg.BaseReadTimeout
	if readTimeout == 0 {
		readTimeout = baseReadTimeout
	}
	connectTimeout := cfg.BaseConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = baseConnectTimeout
	}
	return &Fetcher{
		userAgent:          cfg.UserAgent,
		transport:          transport,
		clock:              c,
		baseReadTimeout:    readTimeout,
		baseConnectTimeout: connectTimeout,
	}
}

// clientForAttempt builds an http.Client scoped to one attempt, with the
// connect timeout carried by a net.Dialer and the overall deadline carried
// by http.Client.Timeout, both scaled by attemptTimeoutMultiplier.
// Redirects are never followed automatically: the pipeline chases them
// itself so it can canonicalize, detect loops, and apply the per-hop pause.
func (f *Fetcher) clientForAttempt(attempt int) *http.Client {
	mult := attemptTimeoutMultiplier[attempt]
	transport := f.transport
	if base, ok := transport.(*http.Transport); ok {
		cloned := base.Clone()
		cloned.DialContext = (&net.Dialer{Timeout: f.baseConnectTimeout * time.Duration(mult)}).DialContext
		transport = cloned
	}
	return &http.Client{
		Timeout:   f.baseReadTimeout * time.Duration(mult),
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// CanonicalizeFunc is supplied by the caller (the imagecrawler package) to
// avoid an import cycle: the fetch pipeline needs to canonicalize
// redirect targets for loop detection but must not import the root
// package that imports fetcher.
type CanonicalizeFunc func(raw string) (string, error)

// gateError marks a failure produced by the content gate or the redirect
// hop limit as terminal: retrying would reach the same verdict, so Fetch
// surfaces it immediately instead of burning the retry ladder.
type gateError struct{ err error }

func (g gateError) Error() string { return g.err.Error() }
func (g gateError) Unwrap() error { return g.err }

// Fetch runs the pipeline against startURL: up to maxAttempts attempts,
// with exponential backoff between them, on transport failures, manual redirect chasing up to
// maxRedirectHops with loop detection via canonicalize, and a final
// content-type gate. Gate verdicts (HTTP status, content type, redirect
// hop limit) are terminal and are not retried.
func (f *Fetcher) Fetch(startURL string, canonicalize CanonicalizeFunc) (*Response, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := f.attempt(startURL, attempt, canonicalize)
		if err == nil {
			return resp, nil
		}
		var ge gateError
		if errors.As(err, &ge) {
			return nil, ge.err
		}
		lastErr = err
		if attempt < maxAttempts {
			f.clock.Sleep(backoffDelay(attempt))
		}
	}
	return nil, fmt.Errorf("fetch %s: %w: %v", startURL, ErrTransport, lastErr)
}

// backoffDelay implements min(1000*2^(attempt-1), 10000)ms plus jitter in
// [0, 1000)ms.
func backoffDelay(attempt int) time.Duration {
	ms := 1000 * (1 << uint(attempt-1))
	if ms > 10000 {
		ms = 10000
	}
	jitter := rand.Intn(1000)
	return time.Duration(ms+jitter) * time.Millisecond
}

// attempt performs one full execute-then-chase-redirects cycle.
func (f *Fetcher) attempt(startURL string, attemptNum int, canonicalize CanonicalizeFunc) (*Response, error) {
	client := f.clientForAttempt(attemptNum)
	curURL := startURL
	trail := map[string]bool{}
	redirects := 0

	for {
		req, err := http.NewRequest(http.MethodGet, curURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build request for %s: %w", curURL, err)
		}
		req.Header.Set("User-Agent", f.userAgent)

		start := time.Now()
		resp, err := client.Do(req)
		elapsed := time.Since(start)
		if err != nil {
			return nil, fmt.Errorf("request %s: %w", curURL, err)
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			redirects++
			if redirects > maxRedirectHops {
				_ = resp.Body.Close()
				return nil, gateError{fmt.Errorf("fetch %s: %w", startURL, ErrRedirectExceeded)}
			}
			loc := resp.Header.Get("Location")
			if loc == "" {
				return f.gate(resp, curURL, elapsed)
			}
			nextURL, err := resolveRedirect(curURL, loc)
			if err != nil {
				_ = resp.Body.Close()
				return nil, fmt.Errorf("resolve redirect from %s: %w", curURL, err)
			}
			canon := nextURL
			if canonicalize != nil {
				if c, err := canonicalize(nextURL); err == nil {
					canon = c
				}
			}
			if trail[canon] {
				// Redirect loop: stop chasing and surface the last
				// response without error.
				return f.gate(resp, curURL, elapsed)
			}
			_ = resp.Body.Close()
			trail[canon] = true
			f.clock.Sleep(redirectHopDelay(redirects - 1))
			curURL = nextURL
			continue
		}

		return f.gate(resp, curURL, elapsed)
	}
}

// redirectHopDelay implements min(200*(hop+1), 2000)ms.
func redirectHopDelay(hop int) time.Duration {
	ms := 200 * (hop + 1)
	if ms > 2000 {
		ms = 2000
	}
	return time.Duration(ms) * time.Millisecond
}

func resolveRedirect(curURL, location string) (string, error) {
	base, err := url.Parse(curURL)
	if err != nil {
		return "", err
	}
	loc, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(loc).String(), nil
}

// gate applies the status and content-type checks and, on acceptance,
// reads the body through a measured, size-capped reader.
func (f *Fetcher) gate(resp *http.Response, finalURL string, elapsed time.Duration) (*Response, error) {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, gateError{fmt.Errorf("fetch %s: %w: status %d", finalURL, ErrHTTPStatus, resp.StatusCode)}
	}

	contentType := resp.Header.Get("Content-Type")
	if idx := strings.IndexByte(contentType, ';'); idx >= 0 {
		contentType = contentType[:idx]
	}
	contentType = strings.TrimSpace(contentType)
	if !acceptedContentType(contentType) {
		return nil, gateError{fmt.Errorf("fetch %s: %w: content-type %q", finalURL, ErrContentSkipped, contentType)}
	}

	measured := iocontrol.NewMeasuredReader(resp.Body)
	limited := io.LimitReader(measured, maxBodyBytes)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read body from %s: %w", finalURL, err)
	}

	return &Response{
		FinalURL:    finalURL,
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Body:        body,
		Elapsed:     elapsed,
		BytesPerSec: float64(measured.BytesPerSec()),
	}, nil
}

func acceptedContentType(contentType string) bool {
	lower := strings.ToLower(contentType)
	for _, prefix := range acceptedContentTypePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
