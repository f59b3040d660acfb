package tags

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxTagLen is the exclusive upper bound on tag length.
const MaxTagLen = 30

// Ops are the user-supplied edits applied to a base tag set.
// A nil slice means "not given"; an empty non-nil Replace clears all tags.
type Ops struct {
	Custom  []string `json:"customTags,omitempty"`
	Add     []string `json:"addTags,omitempty"`
	Remove  []string `json:"removeTags,omitempty"`
	Replace []string `json:"replaceTags,omitempty"`
}

// IsZero reports whether no operation was given.
func (o Ops) IsZero() bool {
	return o.Custom == nil && o.Add == nil && o.Remove == nil && o.Replace == nil
}

// Reconcile merges ops into base. Replace wins outright; otherwise Custom is
// unioned with base and Add/Remove are ignored; otherwise Add is unioned in
// and Remove subtracted. The result is normalized and order-preserving.
func Reconcile(base []string, ops Ops) []string {
	if ops.Replace != nil {
		return Normalize(ops.Replace)
	}
	if ops.Custom != nil {
		return Union(base, ops.Custom)
	}
	return Subtract(Union(base, ops.Add), ops.Remove)
}

// Normalize trims, lower-cases, strips list punctuation and drops empty or
// overlong tags, keeping the first occurrence of each.
func Normalize(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, raw := range in {
		tag := normalizeOne(raw)
		if tag == "" || utf8.RuneCountInString(tag) >= MaxTagLen || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

// Union returns the normalized tags of a followed by those of b.
func Union(a, b []string) []string {
	all := make([]string, 0, len(a)+len(b))
	all = append(all, a...)
	all = append(all, b...)
	return Normalize(all)
}

// Subtract returns the normalized tags of a that are not in b.
func Subtract(a, b []string) []string {
	drop := make(map[string]bool, len(b))
	for _, t := range b {
		drop[normalizeOne(t)] = true
	}
	var out []string
	for _, t := range Normalize(a) {
		if !drop[t] {
			out = append(out, t)
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}

// Parse splits a comma-separated model reply into normalized tags.
func Parse(s string) []string {
	s = strings.ReplaceAll(s, "\n", ",")
	return Normalize(strings.Split(s, ","))
}

var listMarker = regexp.MustCompile(`^(\d+[.)]|[-*•#]+)\s*`)

func normalizeOne(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = listMarker.ReplaceAllString(s, "")
	s = strings.Trim(s, "\"'`[]. ")
	return strings.TrimSpace(s)
}
