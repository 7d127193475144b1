package worker

import "testing"

func TestMarshalArgsRoundTrips(t *testing.T) {
	got, err := marshalArgs(map[string]any{"a": "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != `{"a":"b"}` {
		t.Fatalf("got %s", got)
	}
}

func TestRegexpMatch(t *testing.T) {
	if !regexpMatch(`^/content/foo/.*`, "/content/foo/bar") {
		t.Fatal("expected match")
	}
	if regexpMatch(`^/content/foo/.*`, "/content/baz/bar") {
		t.Fatal("expected no match")
	}
}

func TestRegexpMatchInvalidPatternIsNonMatch(t *testing.T) {
	if regexpMatch(`(unclosed`, "/content/foo/bar") {
		t.Fatal("expected an invalid pattern to be treated as a non-match")
	}
}
