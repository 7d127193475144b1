// Package alias resolves transitive src->dest URL-prefix aliases, used by
// the cache-flush and deploy-config workers to map a published path onto
// every CDN-facing path that should also be invalidated. Grounded on
// original_source/exodus_gw/aws/util.py's uri_alias.
package alias

import "strings"

// Alias is one alias entry (typically sourced from the external config
// table's "origin_alias"/"release_alias" data).
type Alias struct {
	Src  string
	Dest string
}

// Resolve applies every alias in aliases to uri whose src prefix matches,
// repeating in passes so nested aliases (src of one rule equals dest of
// another) are also resolved, while never re-applying an already-applied
// alias within a single call -- this prevents infinite recursion on a
// misconfigured alias cycle.
func Resolve(uri string, aliases []Alias) string {
	remaining := make([]Alias, len(aliases))
	copy(remaining, aliases)

	for len(remaining) > 0 {
		var applied []int
		for i, a := range remaining {
			if uri == a.Src || strings.HasPrefix(uri, a.Src+"/") {
				uri = strings.Replace(uri, a.Src, a.Dest, 1)
				applied = append(applied, i)
			}
		}
		if len(applied) == 0 {
			break
		}
		remaining = removeIndices(remaining, applied)
	}

	return uri
}

// ResolveAll expands prefixes with every prefix transitively reachable
// through aliases, in either direction (src->dest or dest->src), returning
// the union. Used by the deploy-config worker to grow its set of
// cache-flush-eligible prefixes when an alias changes (generalizing the
// original's uris_with_aliases onto a caller-supplied prefix set rather
// than a single URI).
func ResolveAll(prefixes []string, aliases []Alias) []string {
	set := make(map[string]bool, len(prefixes))
	for _, p := range prefixes {
		set[p] = true
	}

	for {
		added := false
		for p := range set {
			for _, a := range aliases {
				if p == a.Src && !set[a.Dest] {
					set[a.Dest] = true
					added = true
				}
				if p == a.Dest && !set[a.Src] {
					set[a.Src] = true
					added = true
				}
			}
		}
		if !added {
			break
		}
	}

	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return out
}

func removeIndices(aliases []Alias, indices []int) []Alias {
	drop := make(map[int]bool, len(indices))
	for _, i := range indices {
		drop[i] = true
	}
	out := make([]Alias, 0, len(aliases)-len(indices))
	for i, a := range aliases {
		if !drop[i] {
			out = append(out, a)
		}
	}
	return out
}
