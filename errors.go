package imagecrawler

import "errors"

// Sentinel errors identifying the fetch/admission failure kinds from the
// crawl engine's error handling design. ErrMalformedURL (from Canonicalize
// and Crawl) and ErrRobotsDenied (from Crawl, for the seed) are returned
// wrapped with fmt.Errorf("...: %w", ...), so callers can test them with
// errors.Is. Per-page failures do not fail a crawl: ErrOutOfScope,
// ErrTransport, ErrHTTPStatus, ErrRedirectExceeded and ErrParse only label
// the coordinator's log lines, and ErrRedirectLoop and ErrSkipped are not
// produced by this package.
var (
	// ErrMalformedURL means canonicalization failed: the input was empty,
	// unparsable, or used a scheme other than http/https.
	ErrMalformedURL = errors.New("malformed url")
	// ErrOutOfScope means the URL's host does not match the crawl session's
	// host after www.-normalization.
	ErrOutOfScope = errors.New("url out of scope")
	// ErrRobotsDenied means the host's robots policy disallows the path for
	// our agent.
	ErrRobotsDenied = errors.New("robots disallowed")
	// ErrTransport means the HTTP transport failed (connection refused,
	// timeout, DNS failure, ...) after exhausting the retry ladder.
	ErrTransport = errors.New("transport failure")
	// ErrHTTPStatus means the final response (after redirects) carried a
	// status code >= 400.
	ErrHTTPStatus = errors.New("http error status")
	// ErrRedirectExceeded means more than 5 redirect hops were required to
	// resolve a request.
	ErrRedirectExceeded = errors.New("redirect hop limit exceeded")
	// ErrRedirectLoop means a redirect chain revisited a canonical URL
	// already present in its own trail; chasing stops and the last response
	// is used instead of failing outright.
	ErrRedirectLoop = errors.New("redirect loop detected")
	// ErrSkipped means the response's Content-Type did not match any of the
	// accepted HTML-ish prefixes; the page is not an error, just not parsed.
	ErrSkipped = errors.New("content type skipped")
	// ErrParse means the document failed to parse as HTML.
	ErrParse = errors.New("document parse error")
)
