// Package query filters, sorts and paginates an in-memory story snapshot.
package query

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/user/bedtime/internal/types"
)

// SortKey selects the field stories are ordered by.
type SortKey string

const (
	SortAge        SortKey = "age"
	SortCreatedAt  SortKey = "created_at"
	SortLastEdited SortKey = "last_edited"
	SortTitle      SortKey = "title"
)

// SortOrder is asc or desc.
type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Filter describes one query. Zero Page, PageSize, SortKey and SortOrder take
// defaults (1, DefaultPageSize, created_at, desc).
type Filter struct {
	Tags      []string
	Category  string
	AgeMin    *int
	AgeMax    *int
	Theme     string
	OwnerID   string
	SortKey   SortKey
	SortOrder SortOrder
	Page      int
	PageSize  int
}

// Result is one page of matching stories.
type Result struct {
	Stories    []*types.StoryRecord `json:"stories"`
	Total      int                  `json:"total"`
	TotalPages int                  `json:"totalPages"`
	Page       int                  `json:"page"`
	PageSize   int                  `json:"limit"`
}

// ParseSortKey maps API spellings onto a SortKey. Empty means created_at.
func ParseSortKey(s string) (SortKey, error) {
	switch strings.ToLower(s) {
	case "", "created_at", "createdat", "date":
		return SortCreatedAt, nil
	case "age":
		return SortAge, nil
	case "last_edited", "lastedited":
		return SortLastEdited, nil
	case "title":
		return SortTitle, nil
	}
	return "", fmt.Errorf("%w: unknown sort key %q", types.ErrInvalidInput, s)
}

// ParseSortOrder accepts asc or desc. Empty means desc.
func ParseSortOrder(s string) (SortOrder, error) {
	switch strings.ToLower(s) {
	case "", "desc":
		return Desc, nil
	case "asc":
		return Asc, nil
	}
	return "", fmt.Errorf("%w: unknown sort order %q", types.ErrInvalidInput, s)
}

// Validate rejects a negative page or page size, unknown sort settings and
// an inverted age range.
func (f Filter) Validate() error {
	if f.Page < 0 {
		return fmt.Errorf("%w: page must be >= 1", types.ErrInvalidInput)
	}
	if f.PageSize < 0 || f.PageSize > MaxPageSize {
		return fmt.Errorf("%w: page size must be between 1 and %d", types.ErrInvalidInput, MaxPageSize)
	}
	if _, err := ParseSortKey(string(f.SortKey)); err != nil {
		return err
	}
	if _, err := ParseSortOrder(string(f.SortOrder)); err != nil {
		return err
	}
	if f.AgeMin != nil && f.AgeMax != nil && *f.AgeMin > *f.AgeMax {
		return fmt.Errorf("%w: ageMin exceeds ageMax", types.ErrInvalidInput)
	}
	return nil
}

func (f Filter) withDefaults() Filter {
	if f.Page == 0 {
		f.Page = 1
	}
	if f.PageSize == 0 {
		f.PageSize = DefaultPageSize
	}
	f.SortKey, _ = ParseSortKey(string(f.SortKey))
	f.SortOrder, _ = ParseSortOrder(string(f.SortOrder))
	return f
}

// Run applies f to records. It does not modify records or their order.
func Run(records []*types.StoryRecord, f Filter) (Result, error) {
	if err := f.Validate(); err != nil {
		return Result{}, err
	}
	f = f.withDefaults()

	matched := make([]*types.StoryRecord, 0, len(records))
	for _, r := range records {
		if matches(r, f) {
			matched = append(matched, r)
		}
	}

	less := lessFunc(f.SortKey)
	sort.SliceStable(matched, func(i, j int) bool {
		if f.SortOrder == Desc {
			return less(matched[j], matched[i])
		}
		return less(matched[i], matched[j])
	})

	total := len(matched)
	res := Result{
		Stories:    []*types.StoryRecord{},
		Total:      total,
		TotalPages: (total + f.PageSize - 1) / f.PageSize,
		Page:       f.Page,
		PageSize:   f.PageSize,
	}
	// Compare pages before multiplying so a huge page cannot overflow.
	if f.Page <= res.TotalPages {
		start := (f.Page - 1) * f.PageSize
		end := min(start+f.PageSize, total)
		res.Stories = matched[start:end]
	}
	return res, nil
}

func matches(r *types.StoryRecord, f Filter) bool {
	m := r.Metadata
	if f.OwnerID != "" && m.OwnerID != f.OwnerID {
		return false
	}
	if len(f.Tags) > 0 && !anyTag(m.Tags, f.Tags) {
		return false
	}
	if f.Category != "" && !contains(m.Categories, f.Category) {
		return false
	}
	if f.AgeMin != nil && m.Age < *f.AgeMin {
		return false
	}
	if f.AgeMax != nil && m.Age > *f.AgeMax {
		return false
	}
	if f.Theme != "" && !strings.EqualFold(m.Theme, f.Theme) {
		return false
	}
	return true
}

func anyTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if strings.EqualFold(strings.TrimSpace(h), strings.TrimSpace(w)) {
				return true
			}
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func lessFunc(key SortKey) func(a, b *types.StoryRecord) bool {
	switch key {
	case SortAge:
		return func(a, b *types.StoryRecord) bool { return a.Metadata.Age < b.Metadata.Age }
	case SortTitle:
		return func(a, b *types.StoryRecord) bool {
			return strings.ToLower(a.Metadata.Title) < strings.ToLower(b.Metadata.Title)
		}
	case SortLastEdited:
		return func(a, b *types.StoryRecord) bool {
			return lastTouched(a).Before(lastTouched(b))
		}
	default:
		return func(a, b *types.StoryRecord) bool {
			return a.Metadata.CreatedAt.Before(b.Metadata.CreatedAt)
		}
	}
}

// lastTouched is the last edit time, or creation time for unedited stories.
func lastTouched(r *types.StoryRecord) time.Time {
	if r.Metadata.LastEdited != nil {
		return *r.Metadata.LastEdited
	}
	return r.Metadata.CreatedAt
}

// AllTags returns every tag used by records, sorted and unique.
func AllTags(records []*types.StoryRecord) []string {
	return collect(records, func(r *types.StoryRecord) []string { return r.Metadata.Tags })
}

// AllCategories returns every category used by records, sorted and unique.
func AllCategories(records []*types.StoryRecord) []string {
	return collect(records, func(r *types.StoryRecord) []string { return r.Metadata.Categories })
}

func collect(records []*types.StoryRecord, field func(*types.StoryRecord) []string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, r := range records {
		for _, v := range field(r) {
			v = strings.TrimSpace(v)
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
