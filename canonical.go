package imagecrawler

import (
	"fmt"
	"net/url"
	"strings"
)

// trackingParams lists the query parameter names stripped during
// canonicalization, matched case-insensitively against the parameter name.
var trackingParams = map[string]bool{
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
	"fbclid":       true,
	"gclid":        true,
	"msclkid":      true,
	"ref":          true,
	"source":       true,
	"session":      true,
	"timestamp":    true,
}

// indexFileNames are stripped from the final path segment, with the
// canonical form falling back to the containing directory.
var indexFileNames = map[string]bool{
	"index.html":   true,
	"index.php":    true,
	"index.asp":    true,
	"index.jsp":    true,
	"default.html": true,
	"default.php":  true,
	"default.asp":  true,
	"default.jsp":  true,
	"home.html":    true,
	"home.php":     true,
	"home.asp":     true,
	"home.jsp":     true,
}

// CanonicalURL is the normalized string form of a fetched or discovered URL,
// used for equality, visited-set membership and image-record identity.
type CanonicalURL string

// String implements fmt.Stringer.
func (c CanonicalURL) String() string { return string(c) }

// Host returns the lower-cased, www.-stripped host of the canonical URL.
func (c CanonicalURL) Host() string {
	u, err := url.Parse(string(c))
	if err != nil {
		return ""
	}
	return u.Host
}

// Canonicalize normalizes a raw URL string into its CanonicalURL form:
// scheme defaulting, host lower-casing and www.-stripping, default-port
// elision, index-file collapsing, fragment removal and tracking-parameter
// stripping. It fails if the (possibly defaulted) scheme is not http or
// https.
func Canonicalize(raw string) (CanonicalURL, error) {
	if raw == "" {
		return "", fmt.Errorf("canonicalize %q: %w", raw, ErrMalformedURL)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize %q: %w: %v", raw, ErrMalformedURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("canonicalize %q: %w: scheme %s", raw, ErrMalformedURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("canonicalize %q: %w: no host", raw, ErrMalformedURL)
	}
	u.Scheme = scheme

	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		u.Host = host + ":" + port
	} else {
		u.Host = host
	}

	u.Path = canonicalizePath(u.Path)
	u.Fragment = ""
	u.RawQuery = stripTrackingParams(u.RawQuery)

	return CanonicalURL(u.String()), nil
}

// canonicalizePath collapses empty paths to "/", drops trailing slashes
// (except root) and replaces a trailing index/default/home filename with
// its containing directory.
func canonicalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}
	if path == "" {
		return "/"
	}
	idx := strings.LastIndex(path, "/")
	last := path[idx+1:]
	if indexFileNames[strings.ToLower(last)] {
		if idx == 0 {
			return "/"
		}
		return path[:idx]
	}
	return path
}

// stripTrackingParams removes tracking query parameters by name
// (case-insensitive) while preserving the relative order of the rest.
func stripTrackingParams(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	pairs := strings.Split(rawQuery, "&")
	kept := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		if pair == "" {
			continue
		}
		name := pair
		if idx := strings.IndexByte(pair, '='); idx >= 0 {
			name = pair[:idx]
		}
		if decoded, err := url.QueryUnescape(name); err == nil {
			name = decoded
		}
		if trackingParams[strings.ToLower(name)] {
			continue
		}
		kept = append(kept, pair)
	}
	return strings.Join(kept, "&")
}

// urlPath returns the path component of a CanonicalURL, for robots.txt
// matching.
func urlPath(c CanonicalURL) string {
	u, err := url.Parse(string(c))
	if err != nil {
		return "/"
	}
	if u.Path == "" {
		return "/"
	}
	return u.Path
}

// pathDepth counts the non-empty path segments of a CanonicalURL, used by
// the admission pipeline's depth cap.
func pathDepth(c CanonicalURL) int {
	path := urlPath(c)
	segments := strings.Split(strings.Trim(path, "/"), "/")
	depth := 0
	for _, seg := range segments {
		if seg != "" {
			depth++
		}
	}
	return depth
}

// SiteName derives the "eTLD+1-minus-TLD" label used by the logo heuristic:
// strip a leading www., drop the terminal TLD label, and if the remaining
// tail label is 2-3 characters, drop one more label to handle co.uk-style
// suffixes.
func SiteName(host string) string {
	host = strings.ToLower(strings.TrimPrefix(host, "www."))
	if idx := strings.IndexByte(host, ':'); idx >= 0 {
		host = host[:idx]
	}
	labels := strings.Split(host, ".")
	if len(labels) <= 1 {
		return host
	}
	// Drop the terminal TLD label.
	labels = labels[:len(labels)-1]
	if len(labels) > 1 {
		tail := labels[len(labels)-1]
		if len(tail) >= 2 && len(tail) <= 3 {
			labels = labels[:len(labels)-1]
		}
	}
	return strings.Join(labels, ".")
}
