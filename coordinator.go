package imagecrawler

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bits-and-blooms/bloom/v3"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/codepr/imagecrawler/fetcher"
	"github.com/codepr/imagecrawler/queue"
)

// bloomFalsePositiveRate bounds the probabilistic prefilter's error rate;
// a false positive only costs an extra (correct) map lookup, it can never
// cause a page to be skipped, since the exact map is always authoritative.
const bloomFalsePositiveRate = 0.01

// CrawlResult is the outcome of a completed Crawl: the record of every
// distinct image discovered, in order of first sighting, and the number of
// pages processed.
type CrawlResult struct {
	Images         []ImageRecord
	PagesProcessed int
}

// crawlState is the mutable, per-run state of a single Crawl invocation:
// the visited-set (bloom prefilter + authoritative exact map), the
// admission queue, the accumulated image store, and the atomic counters
// the public observer methods read while the crawl is in flight.
type crawlState struct {
	host   string
	scheme string
	agent  string
	policy *HostPolicy

	queue *queue.Queue[CanonicalURL]

	visitedMu    sync.Mutex
	visitedBloom *bloom.BloomFilter
	visitedExact map[CanonicalURL]bool

	images *imageStore

	pagesProcessed int64
	activeFetches  int32
	running        int32

	lastDelayMs int64
}

func newCrawlState(host, scheme, agent string, policy *HostPolicy, queueCapacity int) *crawlState {
	return &crawlState{
		host:         host,
		scheme:       scheme,
		agent:        agent,
		policy:       policy,
		queue:        queue.New[CanonicalURL](queueCapacity),
		visitedBloom: bloom.NewWithEstimates(uint(queueCapacity*8+1024), bloomFalsePositiveRate),
		visitedExact: make(map[CanonicalURL]bool),
		images:       newImageStore(),
		running:      1,
	}
}

// admitVisited performs the locked visited-set test-and-insert: the bloom
// filter is consulted first as a fast reject (a miss there means the URL
// is definitely new), falling back to the authoritative exact map only
// when the bloom filter reports a possible (but unconfirmed) hit.
func (s *crawlState) admitVisited(canon CanonicalURL) bool {
	s.visitedMu.Lock()
	defer s.visitedMu.Unlock()
	key := string(canon)
	if !s.visitedBloom.TestString(key) {
		s.visitedBloom.AddString(key)
		s.visitedExact[canon] = true
		return true
	}
	if s.visitedExact[canon] {
		return false
	}
	s.visitedExact[canon] = true
	s.visitedBloom.AddString(key)
	return true
}

func (s *crawlState) visitedSnapshot() []CanonicalURL {
	s.visitedMu.Lock()
	defer s.visitedMu.Unlock()
	out := make([]CanonicalURL, 0, len(s.visitedExact))
	for u := range s.visitedExact {
		out = append(out, u)
	}
	return out
}

// politenessDelay combines the robots.txt crawl-delay (if any), the fixed
// configured delay and the last observed response time, taking the larger
// of robots/fixed against a squared-and-capped feedback term derived from
// response latency, then adds jitter in [0, 200)ms.
func (s *crawlState) politenessDelay(fixed time.Duration) time.Duration {
	base := s.policy.CrawlDelay(s.agent, fixed)
	if base < fixed {
		base = fixed
	}
	if last := time.Duration(atomic.LoadInt64(&s.lastDelayMs)) * time.Millisecond; last > base {
		base = last
	}
	jitter := time.Duration(rand.Intn(200)) * time.Millisecond
	return base + jitter
}

// updateLastDelay folds the most recent response latency into the
// feedback term used by politenessDelay, squared and capped at 5s so a
// single slow response can't stall the whole crawl.
func (s *crawlState) updateLastDelay(observed time.Duration) {
	ms := float64(observed.Milliseconds())
	squared := ms * ms / 1000
	if squared > 5000 {
		squared = 5000
	}
	atomic.StoreInt64(&s.lastDelayMs, int64(squared))
}

// Crawler runs bounded, polite, single-site image-harvesting crawls. A
// Crawler is reusable across successive Crawl calls but only one crawl may
// be in flight at a time; Stop/PagesProcessed/VisitedSnapshot/IsRunning
// observe whichever crawl is currently running, if any.
type Crawler struct {
	settings *CrawlSettings
	logger   *log.Logger
	clock    clock.Clock
	client   *http.Client

	mu      sync.Mutex
	current *crawlState
}

// New creates a Crawler from the given options layered onto the package
// defaults.
func New(opts ...CrawlerOpt) *Crawler {
	settings := defaultSettings()
	for _, opt := range opts {
		opt(settings)
	}
	return &Crawler{
		settings: settings,
		logger:   log.New(os.Stderr, "imagecrawler: ", log.LstdFlags),
		clock:    clock.New(),
		client:   &http.Client{},
	}
}

// NewFromEnv creates a Crawler with settings read from the environment,
// with opts applied on top.
func NewFromEnv(opts ...CrawlerOpt) *Crawler {
	settings := settingsFromEnv()
	for _, opt := range opts {
		opt(settings)
	}
	return &Crawler{
		settings: settings,
		logger:   log.New(os.Stderr, "imagecrawler: ", log.LstdFlags),
		clock:    clock.New(),
		client:   &http.Client{},
	}
}

// Crawl runs a bounded crawl starting from seed, blocking until the page
// budget is exhausted, the queue drains with no fetch in flight, or Stop
// is called.
func (c *Crawler) Crawl(seed string) (*CrawlResult, error) {
	seedCanon, err := Canonicalize(seed)
	if err != nil {
		return nil, fmt.Errorf("crawl seed %q: %w", seed, err)
	}
	if c.settings.MaxPages <= 0 {
		return &CrawlResult{}, nil
	}
	host := seedCanon.Host()
	scheme := "https"
	if strings.HasPrefix(seedCanon.String(), "http://") {
		scheme = "http"
	}

	policy := FetchHostPolicy(c.client, scheme, host, c.settings.UserAgent)
	if policy.fetchFailed {
		c.logger.Printf("no valid %s/robots.txt found, treating as fully permissive", host)
	} else {
		c.logger.Printf("loaded robots.txt policy for %s", host)
	}
	if !policy.Allowed(urlPath(seedCanon), c.settings.UserAgent) {
		return nil, fmt.Errorf("crawl seed %q: %w", seed, ErrRobotsDenied)
	}

	state := newCrawlState(host, scheme, c.settings.UserAgent, policy, c.settings.QueueCapacity)

	c.mu.Lock()
	c.current = state
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.current = nil
		c.mu.Unlock()
	}()

	state.admitVisited(seedCanon)
	state.queue.Push(seedCanon)

	fetch := fetcher.New(fetcher.Config{
		UserAgent:       c.settings.UserAgent,
		Clock:           c.clock,
		BaseReadTimeout: c.settings.FetchTimeout,
	})

	g := new(errgroup.Group)
	for i := 0; i < c.settings.Workers; i++ {
		g.Go(func() error {
			c.runWorker(state, fetch)
			return nil
		})
	}
	_ = g.Wait()

	result := &CrawlResult{PagesProcessed: int(atomic.LoadInt64(&state.pagesProcessed))}
	snap := state.images.snapshot()
	for _, url := range state.images.orderedURLs() {
		if rec, ok := snap[url]; ok {
			result.Images = append(result.Images, *rec)
		}
	}
	c.logger.Printf("crawl of %s done: %d pages, %s images", host,
		result.PagesProcessed, humanize.Comma(int64(len(result.Images))))
	return result, nil
}

// runWorker is one fetch worker's loop: dequeue with a 1s timeout, fetch
// and extract, admit discovered links and images, then pause for
// politeness. It stops when the page budget is spent, Stop was called, or
// the queue has drained with no sibling worker still fetching.
func (c *Crawler) runWorker(state *crawlState, fetch *fetcher.Fetcher) {
	for {
		if atomic.LoadInt32(&state.running) == 0 {
			return
		}
		if atomic.LoadInt64(&state.pagesProcessed) >= int64(c.settings.MaxPages) {
			return
		}
		target, ok := state.queue.PopWait(time.Second)
		if !ok {
			if state.queue.Len() == 0 && atomic.LoadInt32(&state.activeFetches) == 0 &&
				atomic.LoadInt64(&state.pagesProcessed) > 0 {
				return
			}
			continue
		}

		atomic.AddInt32(&state.activeFetches, 1)
		atomic.AddInt64(&state.pagesProcessed, 1)
		c.fetchAndExpand(state, fetch, target)
		atomic.AddInt32(&state.activeFetches, -1)

		c.clock.Sleep(state.politenessDelay(c.settings.PolitenessFixedDelay))
	}
}

// fetchAndExpand fetches one page, records its images, and admits its
// outbound links back onto the queue.
func (c *Crawler) fetchAndExpand(state *crawlState, fetch *fetcher.Fetcher, target CanonicalURL) {
	resp, err := fetch.Fetch(target.String(), func(raw string) (string, error) {
		u, err := Canonicalize(raw)
		return u.String(), err
	})
	if err != nil {
		c.logFetchError(target, err)
		return
	}
	state.updateLastDelay(resp.Elapsed)

	finalCanon, err := Canonicalize(resp.FinalURL)
	if err != nil {
		c.logger.Printf("skip %s: final url %q failed to canonicalize: %v", target, resp.FinalURL, err)
		return
	}
	if finalCanon.Host() != state.host {
		c.logger.Printf("discard %s: %v: redirected to %s", target, ErrOutOfScope, finalCanon.Host())
		return
	}
	if finalCanon != target {
		// The redirect target stands in for the requested URL from now on,
		// so later sightings of it are not fetched a second time.
		state.admitVisited(finalCanon)
	}

	extracted, err := fetcher.Extract(resp.Body, resp.FinalURL)
	if err != nil {
		c.logger.Printf("fetch %s: %v: %v", target, ErrParse, err)
		return
	}

	for _, img := range extracted.Images {
		c.admitImage(state, finalCanon, img)
	}
	for _, link := range extracted.Links {
		c.admitLink(state, link)
	}
}

// admitImage canonicalizes and, if new, classifies and records an image
// candidate found on page.
func (c *Crawler) admitImage(state *crawlState, page CanonicalURL, candidate fetcher.ImageCandidate) {
	if candidate.RawURL == "" || strings.HasPrefix(candidate.RawURL, "data:") {
		return
	}
	canon, err := Canonicalize(candidate.RawURL)
	if err != nil {
		return
	}
	width := parseDimension(candidate.Width)
	height := parseDimension(candidate.Height)
	detector := NewLogoDetector()
	logo := detector.Classify(canon.String(), width, height, candidate.Alt, page.String())

	state.images.insertIfNew(&ImageRecord{
		URL:    canon,
		Page:   page,
		Alt:    candidate.Alt,
		Width:  width,
		Height: height,
		Logo:   logo,
	})
}

// admitLink runs the admission pipeline against a discovered outbound
// link (canonicalize, depth cap, scheme and host scope, robots policy,
// visited-set test-and-insert) and, if accepted, enqueues it.
func (c *Crawler) admitLink(state *crawlState, raw string) {
	if raw == "" {
		return
	}
	canon, err := Canonicalize(raw)
	if err != nil {
		return
	}
	if pathDepth(canon) > c.settings.MaxPathDepth {
		return
	}
	if !strings.HasPrefix(string(canon), state.scheme+"://") {
		return
	}
	if canon.Host() != state.host {
		return
	}
	if !state.policy.Allowed(urlPath(canon), state.agent) {
		return
	}
	if !state.admitVisited(canon) {
		return
	}
	if !state.queue.TryPush(canon) {
		c.logger.Printf("admission queue full, dropping %s", canon)
	}
}

func (c *Crawler) logFetchError(target CanonicalURL, err error) {
	switch {
	case errors.Is(err, fetcher.ErrContentSkipped):
		c.logger.Printf("skip %s: %v", target, err)
	case errors.Is(err, fetcher.ErrRedirectExceeded):
		c.logger.Printf("fetch %s: %v: %v", target, ErrRedirectExceeded, err)
	case errors.Is(err, fetcher.ErrHTTPStatus):
		c.logger.Printf("fetch %s: %v: %v", target, ErrHTTPStatus, err)
	default:
		c.logger.Printf("fetch %s: %v: %v", target, ErrTransport, err)
	}
}

// Stop signals the currently running crawl, if any, to wind down: workers
// observe it at their next loop iteration and exit without waiting for the
// queue to drain.
func (c *Crawler) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		atomic.StoreInt32(&c.current.running, 0)
	}
}

// PagesProcessed reports how many pages the in-flight crawl (if any) has
// processed so far.
func (c *Crawler) PagesProcessed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return 0
	}
	return int(atomic.LoadInt64(&c.current.pagesProcessed))
}

// VisitedSnapshot returns the canonical page URLs admitted by the
// in-flight crawl (if any) so far.
func (c *Crawler) VisitedSnapshot() []CanonicalURL {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	return c.current.visitedSnapshot()
}

// IsRunning reports whether a crawl is currently in flight on this
// Crawler.
func (c *Crawler) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil && atomic.LoadInt32(&c.current.running) == 1
}
