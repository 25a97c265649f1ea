package imagecrawler

import (
	"time"

	"github.com/codepr/imagecrawler/env"
)

const (
	// defaultFetchTimeout is the base per-attempt read timeout before the
	// retry ladder's multiplier is applied.
	defaultFetchTimeout time.Duration = 60 * time.Second
	// defaultPolitenessDelay is the fixed delay used to derive the
	// randomized wait between subsequent requests to the same host.
	defaultPolitenessDelay time.Duration = 500 * time.Millisecond
	// defaultMaxPages bounds a single crawl run.
	defaultMaxPages int = 1000
	// defaultWorkers is the number of concurrent fetch workers.
	defaultWorkers int = 8
	// defaultMaxPathDepth is the path-segment admission limit.
	defaultMaxPathDepth int = 20
	// defaultUserAgent identifies the crawler and selects which robots.txt
	// group applies.
	defaultUserAgent string = "Eulerity-Crawler/1.0"
	// defaultQueueCapacity sizes the admission queue's buffer.
	defaultQueueCapacity int = 4096
)

// CrawlSettings holds the tunables of a single crawl run:
// how many pages to visit, how many workers fetch concurrently, the
// politeness delay, the identifying user agent, and the admission limits.
type CrawlSettings struct {
	// MaxPages caps the number of pages processed (dequeued and fetched) in
	// a crawl; link admission itself does not consult it.
	MaxPages int
	// Workers is the number of concurrent fetch workers. The actual pages
	// processed may briefly overshoot MaxPages by up to Workers-1, since
	// in-flight fetches aren't cancelled when the cap is reached.
	Workers int
	// FetchTimeout is the base per-attempt timeout before the retry
	// ladder's multiplier is applied.
	FetchTimeout time.Duration
	// PolitenessFixedDelay is the delay used to pace subsequent requests
	// to the same host, taken against any robots.txt crawl-delay and the
	// last observed response time, the largest of the three winning.
	PolitenessFixedDelay time.Duration
	// UserAgent is sent on every request and selects the robots.txt group.
	UserAgent string
	// MaxPathDepth caps the number of path segments a URL may have to be
	// admitted.
	MaxPathDepth int
	// QueueCapacity sizes the admission queue's buffer.
	QueueCapacity int
}

// CrawlerOpt is the functional-option type for configuring a Crawler.
type CrawlerOpt func(*CrawlSettings)

// WithMaxPages overrides the page budget of a crawl.
func WithMaxPages(n int) CrawlerOpt {
	return func(s *CrawlSettings) { s.MaxPages = n }
}

// WithWorkers overrides the fetch worker pool size.
func WithWorkers(n int) CrawlerOpt {
	return func(s *CrawlSettings) { s.Workers = n }
}

// WithFetchTimeout overrides the base per-attempt fetch timeout.
func WithFetchTimeout(d time.Duration) CrawlerOpt {
	return func(s *CrawlSettings) { s.FetchTimeout = d }
}

// WithPolitenessDelay overrides the fixed politeness delay.
func WithPolitenessDelay(d time.Duration) CrawlerOpt {
	return func(s *CrawlSettings) { s.PolitenessFixedDelay = d }
}

// WithUserAgent overrides the identifying user agent.
func WithUserAgent(agent string) CrawlerOpt {
	return func(s *CrawlSettings) { s.UserAgent = agent }
}

// WithMaxPathDepth overrides the admission path-depth limit.
func WithMaxPathDepth(n int) CrawlerOpt {
	return func(s *CrawlSettings) { s.MaxPathDepth = n }
}

// defaultSettings returns the baseline CrawlSettings before any option or
// environment override is applied.
func defaultSettings() *CrawlSettings {
	return &CrawlSettings{
		MaxPages:             defaultMaxPages,
		Workers:              defaultWorkers,
		FetchTimeout:         defaultFetchTimeout,
		PolitenessFixedDelay: defaultPolitenessDelay,
		UserAgent:            defaultUserAgent,
		MaxPathDepth:         defaultMaxPathDepth,
		QueueCapacity:        defaultQueueCapacity,
	}
}

// settingsFromEnv overlays environment-variable overrides onto the default
// settings.
func settingsFromEnv() *CrawlSettings {
	s := defaultSettings()
	s.MaxPages = env.GetEnvAsInt("MAX_PAGES", s.MaxPages)
	s.Workers = env.GetEnvAsInt("WORKERS", s.Workers)
	s.FetchTimeout = env.GetEnvAsDuration("FETCH_TIMEOUT_MS", s.FetchTimeout)
	s.PolitenessFixedDelay = env.GetEnvAsDuration("POLITENESS_DELAY_MS", s.PolitenessFixedDelay)
	s.UserAgent = env.GetEnv("USER_AGENT", s.UserAgent)
	s.MaxPathDepth = env.GetEnvAsInt("MAX_PATH_DEPTH", s.MaxPathDepth)
	s.QueueCapacity = env.GetEnvAsInt("QUEUE_CAPACITY", s.QueueCapacity)
	return s
}
