package imagecrawler

import (
	"bufio"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const robotsFetchTimeout = 5 * time.Second

// pathRule is a single Allow/Disallow directive compiled to a matcher:
// `*` becomes `.*`, `?` and `.` are literal, the match is anchored to the
// start of the path, with an optional trailing `$` anchor.
type pathRule struct {
	allow   bool
	matcher *regexp.Regexp
}

// HostPolicy is the immutable, per-host cached robots state: disallow/allow
// rule groups keyed by agent token, a per-agent crawl-delay, and a
// fetch-failed flag meaning "treat as fully permissive".
type HostPolicy struct {
	groups      map[string][]pathRule
	delaysMs    map[string]int
	fetchFailed bool
}

// compilePattern turns a raw robots.txt path pattern into a matcher
// implementing pathRule's wildcard rules.
func compilePattern(pattern string) *regexp.Regexp {
	anchoredEnd := strings.HasSuffix(pattern, "$")
	if anchoredEnd {
		pattern = strings.TrimSuffix(pattern, "$")
	}
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	expr := "^" + strings.Join(parts, ".*")
	if anchoredEnd {
		expr += "$"
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		// A pattern that fails to compile can never match; treat it as
		// inert rather than propagating a parse error through the crawl.
		return regexp.MustCompile(`[^\s\S]`)
	}
	return re
}

// parseRobotsTxt parses the body of a robots.txt file into per-agent rule
// groups and crawl-delays: blank lines and #-comments are skipped,
// consecutive User-agent lines form a shared group, and
// Disallow/Allow/Crawl-delay apply to every agent token of the group most
// recently opened.
func parseRobotsTxt(body string) (map[string][]pathRule, map[string]int) {
	groups := make(map[string][]pathRule)
	delaysMs := make(map[string]int)

	var currentAgents []string
	groupOpen := false

	addRule := func(allow bool, pattern string) {
		if pattern == "" && !allow {
			// An empty Disallow means "allow everything" per convention;
			// skip rather than compiling a rule that matches all paths.
			return
		}
		rule := pathRule{allow: allow, matcher: compilePattern(pattern)}
		for _, agent := range currentAgents {
			groups[agent] = append(groups[agent], rule)
		}
	}

	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := splitDirective(line)
		if !ok {
			continue
		}
		switch strings.ToLower(key) {
		case "user-agent":
			agent := strings.ToLower(val)
			if groupOpen {
				currentAgents = []string{agent}
				groupOpen = false
			} else {
				currentAgents = append(currentAgents, agent)
			}
			if _, ok := groups[agent]; !ok {
				groups[agent] = nil
			}
		case "disallow":
			addRule(false, val)
			groupOpen = true
		case "allow":
			addRule(true, val)
			groupOpen = true
		case "crawl-delay":
			groupOpen = true
			secs, err := strconv.ParseFloat(val, 64)
			if err != nil {
				continue
			}
			ms := int(secs * 1000)
			for _, agent := range currentAgents {
				delaysMs[agent] = ms
			}
		}
	}
	return groups, delaysMs
}

// splitDirective splits a "Key: value" robots.txt line.
func splitDirective(line string) (key, val string, ok bool) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), true
}

// FetchHostPolicy fetches and parses {scheme}://{host}/robots.txt with a
// 5-second connect/read timeout and the given User-Agent header. Any
// non-200 response or transport failure yields a fetchFailed=true policy,
// which Allowed treats as fully permissive.
func FetchHostPolicy(client *http.Client, scheme, host, userAgent string) *HostPolicy {
	req, err := http.NewRequest(http.MethodGet, scheme+"://"+host+"/robots.txt", nil)
	if err != nil {
		return &HostPolicy{fetchFailed: true}
	}
	req.Header.Set("User-Agent", userAgent)

	c := &http.Client{Timeout: robotsFetchTimeout}
	if client != nil {
		c.Transport = client.Transport
	}
	resp, err := c.Do(req)
	if err != nil {
		return &HostPolicy{fetchFailed: true}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &HostPolicy{fetchFailed: true}
	}
	body := make([]byte, 0, 4096)
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		body = append(body, buf[:n]...)
		if readErr != nil {
			break
		}
	}
	groups, delaysMs := parseRobotsTxt(string(body))
	return &HostPolicy{groups: groups, delaysMs: delaysMs}
}

// Allowed reports whether path P is fetchable by agent A: allow everything
// if the fetch failed; otherwise consult A's group if present, else `*`'s,
// else allow; within a group, allow iff some Allow pattern matches or no
// Disallow pattern matches. This is deliberately weaker than standard
// longest-match precedence.
func (h *HostPolicy) Allowed(path, agent string) bool {
	if h == nil || h.fetchFailed {
		return true
	}
	group, ok := h.groups[strings.ToLower(agent)]
	if !ok {
		group, ok = h.groups["*"]
		if !ok {
			return true
		}
	}
	anyAllow, anyDisallow := false, false
	for _, rule := range group {
		if rule.matcher.MatchString(path) {
			if rule.allow {
				anyAllow = true
			} else {
				anyDisallow = true
			}
		}
	}
	return anyAllow || !anyDisallow
}

// CrawlDelay returns the crawl-delay for agent A, falling back to `*`'s
// delay, falling back to fallback.
func (h *HostPolicy) CrawlDelay(agent string, fallback time.Duration) time.Duration {
	if h == nil {
		return fallback
	}
	if ms, ok := h.delaysMs[strings.ToLower(agent)]; ok {
		return time.Duration(ms) * time.Millisecond
	}
	if ms, ok := h.delaysMs["*"]; ok {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
