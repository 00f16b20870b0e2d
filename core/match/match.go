// Package match implements the glob dialect used by scope filters and
// forbidden-path rules: '*' and '?' match within a path segment, '**'
// matches zero or more whole segments.
package match

import (
	"path"
	"strings"
)

// Path reports whether a slash-separated path matches a glob pattern.
// Matching is segment-wise; a '**' segment may absorb any number of
// segments, including none. Patterns and paths are compared after trimming
// a leading "./".
func Path(pattern, target string) bool {
	pattern = normalize(pattern)
	target = normalize(target)
	if pattern == "" {
		return false
	}
	return matchSegments(strings.Split(pattern, "/"), strings.Split(target, "/"))
}

// Any reports whether the target matches at least one pattern.
func Any(patterns []string, target string) bool {
	for _, pattern := range patterns {
		if Path(pattern, target) {
			return true
		}
	}
	return false
}

func normalize(value string) string {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "./")
	return strings.Trim(value, "/")
}

func matchSegments(pattern, target []string) bool {
	if len(pattern) == 0 {
		return len(target) == 0
	}
	if pattern[0] == "**" {
		// '**' absorbs zero or more leading segments.
		if matchSegments(pattern[1:], target) {
			return true
		}
		if len(target) == 0 {
			return false
		}
		return matchSegments(pattern, target[1:])
	}
	if len(target) == 0 {
		return false
	}
	ok, err := path.Match(pattern[0], target[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pattern[1:], target[1:])
}
