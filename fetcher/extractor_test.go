package fetcher

import "testing"

func TestExtractFindsImgSrcAndLazyAttributes(t *testing.T) {
	html := `<body>
		<img src="/logo.png" alt="Site logo" width="120" height="40">
		<img data-src="/lazy.jpg" alt="Lazy loaded">
		<img data-srcset="/small.jpg 1x, /large.jpg 2x">
	</body>`
	result, err := Extract([]byte(html), "https://example.com/page")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	want := map[string]bool{
		"https://example.com/logo.png":  true,
		"https://example.com/lazy.jpg":  true,
		"https://example.com/small.jpg": true,
		"https://example.com/large.jpg": true,
	}
	if len(result.Images) != len(want) {
		t.Fatalf("expected %d images, got %d: %+v", len(want), len(result.Images), result.Images)
	}
	for _, img := range result.Images {
		if !want[img.RawURL] {
			t.Errorf("unexpected image url %s", img.RawURL)
		}
	}
}

func TestExtractParsesSrcsetDescriptors(t *testing.T) {
	html := `<body><img srcset="a.png 1x, b.png 2x"></body>`
	result, err := Extract([]byte(html), "https://example.com/")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	want := map[string]bool{
		"https://example.com/a.png": true,
		"https://example.com/b.png": true,
	}
	if len(result.Images) != len(want) {
		t.Fatalf("expected %d srcset candidates, got %d: %+v", len(want), len(result.Images), result.Images)
	}
	for _, img := range result.Images {
		if !want[img.RawURL] {
			t.Errorf("unexpected srcset candidate %s", img.RawURL)
		}
	}
}

func TestExtractReadsBackgroundImageFromInlineStyle(t *testing.T) {
	html := `<body><div style="background-image: url('/hero.jpg'); color: red;"></div></body>`
	result, err := Extract([]byte(html), "https://example.com/")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(result.Images) != 1 || result.Images[0].RawURL != "https://example.com/hero.jpg" {
		t.Errorf("expected one hero.jpg image, got %+v", result.Images)
	}
}

func TestExtractIgnoresNonBackgroundStyleURLs(t *testing.T) {
	html := `<body>
		<div style="cursor: url(/cursor.png), auto;"></div>
		<div style="border-image: url(/border.png) 30;"></div>
		<ul style="list-style-image: url(/bullet.png);"></ul>
	</body>`
	result, err := Extract([]byte(html), "https://example.com/")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(result.Images) != 0 {
		t.Errorf("expected url() outside background-image to be ignored, got %+v", result.Images)
	}
}

func TestExtractTreatsImageAnchorAsImageCandidate(t *testing.T) {
	html := `<body><a href="/full-size.png">View full size</a></body>`
	result, err := Extract([]byte(html), "https://example.com/")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(result.Images) != 1 || result.Images[0].RawURL != "https://example.com/full-size.png" {
		t.Errorf("expected the image anchor to be captured as an image, got %+v", result.Images)
	}
	if len(result.Links) != 0 {
		t.Errorf("expected no outbound links from an image anchor, got %v", result.Links)
	}
}

func TestExtractLinksFiltersNonNavigableSchemes(t *testing.T) {
	html := `<body>
		<a href="/about">About</a>
		<a href="javascript:void(0)">Nothing</a>
		<a href="mailto:hi@example.com">Mail</a>
		<a href="#section">Jump</a>
		<a href="tel:+15551234">Call</a>
	</body>`
	result, err := Extract([]byte(html), "https://example.com/")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(result.Links) != 1 || result.Links[0] != "https://example.com/about" {
		t.Errorf("expected only /about to survive filtering, got %v", result.Links)
	}
}

func TestExtractIgnoresDataURIImages(t *testing.T) {
	html := `<body><img src="data:image/png;base64,abcd"></body>`
	result, err := Extract([]byte(html), "https://example.com/")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(result.Images) != 0 {
		t.Errorf("expected data: URIs to be ignored, got %v", result.Images)
	}
}

func TestExtractResolvesRelativeLinksAndIframes(t *testing.T) {
	html := `<body>
		<a href="foo/bar">Relative</a>
		<iframe src="/embed/widget"></iframe>
		<form action="submit"></form>
	</body>`
	result, err := Extract([]byte(html), "https://example.com/page/")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	want := map[string]bool{
		"https://example.com/page/foo/bar": true,
		"https://example.com/embed/widget": true,
		"https://example.com/page/submit":  true,
	}
	if len(result.Links) != len(want) {
		t.Fatalf("expected %d links, got %d: %v", len(want), len(result.Links), result.Links)
	}
	for _, link := range result.Links {
		if !want[link] {
			t.Errorf("unexpected link %s", link)
		}
	}
}
