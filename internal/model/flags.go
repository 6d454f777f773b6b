package model

import (
	"sort"
	"strings"
)

// AddFlags returns the union of existing and added flags, deduplicated and
// sorted. The input slices are not modified.
func AddFlags(existing []string, added ...string) []string {
	seen := make(map[string]struct{}, len(existing)+len(added))
	out := make([]string, 0, len(existing)+len(added))
	for _, set := range [][]string{existing, added} {
		for _, flag := range set {
			flag = strings.TrimSpace(flag)
			if flag == "" {
				continue
			}
			if _, ok := seen[flag]; ok {
				continue
			}
			seen[flag] = struct{}{}
			out = append(out, flag)
		}
	}
	sort.Strings(out)
	return out
}

// JoinFlags renders a flag set as a single semicolon-separated CSV cell.
func JoinFlags(flags []string) string {
	return strings.Join(flags, ";")
}

// SplitFlags parses a semicolon-separated cell back into a flag list,
// dropping empty segments.
func SplitFlags(cell string) []string {
	if strings.TrimSpace(cell) == "" {
		return nil
	}
	parts := strings.Split(cell, ";")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
