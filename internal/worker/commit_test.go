package worker

import "testing"

func TestIsAutoindexEntryPoint(t *testing.T) {
	cases := []struct {
		webURI string
		want   bool
	}{
		{"/content/dist/rhel/8/repodata/repomd.xml", true},
		{"/content/dist/rhel/8/PULP_MANIFEST", true},
		{"/content/dist/rhel/8/repodata/repomd.xml.asc", false},
		{"/content/dist/rhel/8/some-other-file", false},
		{"repomd.xml", false},
	}
	for _, c := range cases {
		if got := isAutoindexEntryPoint(c.webURI); got != c.want {
			t.Errorf("isAutoindexEntryPoint(%q) = %v, want %v", c.webURI, got, c.want)
		}
	}
}
