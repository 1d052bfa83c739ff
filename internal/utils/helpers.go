package utils

import "strings"

// SliceToSet converts a slice of any comparable type to a set represented by a map[T]struct{}.
func SliceToSet[T comparable](slice []T) map[T]struct{} {
	set := make(map[T]struct{}, len(slice))
	for _, item := range slice {
		set[item] = struct{}{}
	}
	return set
}

// SplitList splits a comma separated list, trimming blanks and dropping
// duplicates while keeping first-seen order.
func SplitList(v string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, dup := seen[part]; dup {
			continue
		}
		seen[part] = struct{}{}
		out = append(out, part)
	}
	return out
}
