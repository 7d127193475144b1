package worker

import "testing"

func TestMatchesAnyExclusion(t *testing.T) {
	exclusions := []string{`^/content/foo/excluded/.*`}
	if !matchesAnyExclusion("/content/foo/excluded/bar", exclusions) {
		t.Fatal("expected exclusion match")
	}
	if matchesAnyExclusion("/content/foo/kept/bar", exclusions) {
		t.Fatal("expected no exclusion match")
	}
}

func TestMatchesAnyExclusionEmpty(t *testing.T) {
	if matchesAnyExclusion("/content/foo/bar", nil) {
		t.Fatal("expected no match with no exclusions")
	}
}

func TestReplacePrefix(t *testing.T) {
	got := replacePrefix("/content/dist/repo/1/x", "/content/dist", "/content/rhui")
	if got != "/content/rhui/repo/1/x" {
		t.Fatalf("got %q", got)
	}
}

func TestReplacePrefixNoMatchLeavesUnchanged(t *testing.T) {
	got := replacePrefix("/content/other/x", "/content/dist", "/content/rhui")
	if got != "/content/other/x" {
		t.Fatalf("got %q", got)
	}
}

func TestListingPathsForFlush(t *testing.T) {
	config := map[string]any{
		"listing": map[string]any{
			"/content/foo": []any{"1", "2"},
			"/content/bar": []any{"3"},
		},
	}
	got := listingPathsForFlush(config)
	want := map[string]bool{"/content/foo/listing": true, "/content/bar/listing": true}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for p := range want {
		if !got[p] {
			t.Fatalf("missing expected path %q in %v", p, got)
		}
	}
}

func TestListingPathsForFlushNoListingKey(t *testing.T) {
	got := listingPathsForFlush(map[string]any{"other": "value"})
	if len(got) != 0 {
		t.Fatalf("expected empty result, got %v", got)
	}
}
