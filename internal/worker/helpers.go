package worker

import (
	"encoding/json"
	"regexp"
)

func marshalArgs(v any) ([]byte, error) {
	return json.Marshal(v)
}

// regexpMatch reports whether uri matches pattern, treating an invalid
// pattern as a non-match rather than propagating a compile error -- mirrors
// deploy.py's exclusion matching, where exclusions are free-form regexes
// supplied via the external table.
func regexpMatch(pattern, uri string) bool {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(uri)
}
