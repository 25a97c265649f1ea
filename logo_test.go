package imagecrawler

import "testing"

func TestLogoDetectorClassifiesObviousLogo(t *testing.T) {
	d := NewLogoDetector()
	got := d.Classify("https://example.com/static/logo/example-logo.svg", 200, 60,
		"Example logo", "https://example.com/")
	if !got {
		t.Errorf("expected a logo classification for an svg named after the site with matching alt text")
	}
}

func TestLogoDetectorRejectsContentPhoto(t *testing.T) {
	d := NewLogoDetector()
	got := d.Classify("https://example.com/uploads/2024/05/vacation-photo.jpg", 1920, 1080,
		"Photo of the beach at sunset", "https://example.com/blog/summer-trip")
	if got {
		t.Errorf("expected a large, unrelated content photo to score below the logo threshold")
	}
}

func TestLogoDetectorClassifiesBrandAssetWithoutAltOrDims(t *testing.T) {
	d := NewLogoDetector()
	got := d.Classify("https://cdn.foo.com/assets/brand/foo-logo.svg", -1, -1, "", "https://foo.com/")
	if !got {
		t.Errorf("expected a branded asset path to classify as a logo even without dimensions or alt text")
	}
}

func TestLogoDetectorUnknownDimensionsNeverOutscoreFavorableOnes(t *testing.T) {
	withDims := logoScore("https://example.com/img/icon.png", 32, 32, "", "https://example.com/")
	withoutDims := logoScore("https://example.com/img/icon.png", -1, -1, "", "https://example.com/")
	if withoutDims > withDims {
		t.Errorf("unknown dimensions should never score higher than known favorable ones")
	}
}

func TestLogoDetectorThresholdIsTunable(t *testing.T) {
	strict := NewLogoDetectorWithThreshold(100)
	got := strict.Classify("https://example.com/static/logo/example-logo.svg", 200, 60,
		"Example logo", "https://example.com/")
	if got {
		t.Errorf("expected a high threshold to reject an image the default threshold accepts")
	}
}

func TestSiteNameCueScoreIgnoresShortSiteNames(t *testing.T) {
	got := siteNameCueScore("https://ab.com/img/ab-logo.png", "https://ab.com/")
	if got != 0 {
		t.Errorf("expected a 2-character site name to be excluded from the juxtaposition cue, got %d", got)
	}
}

func TestUrlCueScoreCapsAtThree(t *testing.T) {
	lower := "https://example.com/img/logo/brand-logo.svg"
	got := urlCueScore(lower)
	if got > 3 {
		t.Errorf("url cue score must be capped at 3, got %d", got)
	}
}

func TestAltCueScoreMatchesLogoPhrase(t *testing.T) {
	got := altCueScore("acme logo")
	if got < 2 {
		t.Errorf("expected alt text containing a logo cue token to score at least 2, got %d", got)
	}
}

func TestDimensionCueScoreGuardsZeroHeight(t *testing.T) {
	got := dimensionCueScore(100, 0)
	if got < 0 {
		t.Errorf("dimension cue score must never go negative, got %d", got)
	}
}
