package fetcher

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// imageExtensions gates which <a href> targets count as direct image links:
// an anchor pointing straight at an image file is itself a candidate,
// independent of any <img> tag.
var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".svg": true, ".webp": true, ".bmp": true, ".ico": true,
}

// ImageCandidate is a single image reference found on a page, before
// canonicalization: the raw (possibly relative) URL, alt text and declared
// dimensions as they appeared in the markup.
type ImageCandidate struct {
	RawURL string
	Alt    string
	Width  string
	Height string
}

// Extracted is the result of parsing one page: every image reference found
// (two streams merged) and every outbound link worth queuing.
type Extracted struct {
	Images []ImageCandidate
	Links  []string
}

// lazyLoadAttrs are the data-* attributes lazy-loading libraries commonly
// use to hold the real image URL until the src attribute is swapped in by
// JavaScript; the extractor reads these since it never runs any script.
var lazyLoadAttrs = []string{"data-src", "data-original", "data-lazy-src", "data-lazy"}

// Extract parses an HTML document into image candidates and outbound links,
// resolving relative references against baseURL.
func Extract(body []byte, baseURL string) (*Extracted, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}

	result := &Extracted{}
	seenImage := map[string]bool{}
	addImage := func(raw, alt, width, height string) {
		resolved := resolve(base, raw)
		if resolved == "" || seenImage[resolved] {
			return
		}
		seenImage[resolved] = true
		result.Images = append(result.Images, ImageCandidate{RawURL: resolved, Alt: alt, Width: width, Height: height})
	}

	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		alt, _ := sel.Attr("alt")
		width, _ := sel.Attr("width")
		height, _ := sel.Attr("height")

		if src, ok := sel.Attr("src"); ok && src != "" {
			addImage(src, alt, width, height)
		}
		for _, attr := range lazyLoadAttrs {
			if v, ok := sel.Attr(attr); ok && v != "" {
				addImage(v, alt, width, height)
			}
		}
		if srcset, ok := sel.Attr("data-srcset"); ok {
			for _, u := range parseSrcset(srcset) {
				addImage(u, alt, width, height)
			}
		}
		if srcset, ok := sel.Attr("srcset"); ok {
			for _, u := range parseSrcset(srcset) {
				addImage(u, alt, width, height)
			}
		}
	})

	// Elements carrying a background-image in an inline style are a second
	// image stream independent of <img>.
	doc.Find("[style]").Each(func(_ int, sel *goquery.Selection) {
		style, _ := sel.Attr("style")
		if u := extractBackgroundImage(style); u != "" {
			addImage(u, "", "", "")
		}
	})

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if href == "" {
			return
		}
		if hasImageExtension(href) {
			addImage(href, sel.Text(), "", "")
			return
		}
		if resolved := resolveLink(base, href); resolved != "" {
			result.Links = append(result.Links, resolved)
		}
	})

	doc.Find("iframe[src]").Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("src"); ok {
			if resolved := resolveLink(base, src); resolved != "" {
				result.Links = append(result.Links, resolved)
			}
		}
	})

	doc.Find("form[action]").Each(func(_ int, sel *goquery.Selection) {
		if action, ok := sel.Attr("action"); ok {
			if resolved := resolveLink(base, action); resolved != "" {
				result.Links = append(result.Links, resolved)
			}
		}
	})

	return result, nil
}

func resolve(base *url.URL, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "data:") {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// resolveLink filters link schemes that don't belong in the outbound queue
// (javascript:, mailto:, tel:, bare fragments) and any link pointing at an
// image file, which belongs to the image stream instead.
func resolveLink(base *url.URL, href string) string {
	trimmed := strings.TrimSpace(href)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return ""
	}
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:") {
		return ""
	}
	if hasImageExtension(trimmed) {
		return ""
	}
	ref, err := url.Parse(trimmed)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

func hasImageExtension(raw string) bool {
	lower := strings.ToLower(raw)
	if idx := strings.IndexAny(lower, "?#"); idx >= 0 {
		lower = lower[:idx]
	}
	for ext := range imageExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// parseSrcset splits a srcset attribute ("a.jpg 1x, b.jpg 2x") into its
// component URLs, discarding the density/width descriptors.
func parseSrcset(srcset string) []string {
	var urls []string
	for _, part := range strings.Split(srcset, ",") {
		fields := strings.Fields(strings.TrimSpace(part))
		if len(fields) > 0 {
			urls = append(urls, fields[0])
		}
	}
	return urls
}

// extractBackgroundImage pulls the url(...) argument out of a CSS
// background-image declaration in an inline style attribute. Styles whose
// url() belongs to some other property (cursor, border-image, mask) are
// not image candidates and yield "".
func extractBackgroundImage(style string) string {
	lower := strings.ToLower(style)
	bg := strings.Index(lower, "background-image")
	if bg < 0 {
		return ""
	}
	decl := lower[bg:]
	if semi := strings.IndexByte(decl, ';'); semi >= 0 {
		decl = decl[:semi]
	}
	idx := strings.Index(decl, "url(")
	if idx < 0 {
		return ""
	}
	rest := style[bg+idx+4:]
	end := strings.IndexByte(rest, ')')
	if end < 0 {
		return ""
	}
	u := strings.Trim(strings.TrimSpace(rest[:end]), `'"`)
	return u
}
