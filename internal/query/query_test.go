package query

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/user/bedtime/internal/types"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func record(id string, age int, theme string, tags []string, created int) *types.StoryRecord {
	return &types.StoryRecord{
		ID: types.StoryID(id),
		Metadata: types.Metadata{
			Title:     "Story " + id,
			Age:       age,
			Theme:     theme,
			Tags:      tags,
			CreatedAt: epoch.Add(time.Duration(created) * time.Hour),
		},
	}
}

func many(n int) []*types.StoryRecord {
	out := make([]*types.StoryRecord, n)
	for i := range out {
		out[i] = record(fmt.Sprintf("s%02d", i), 3+i%8, "ocean", nil, i)
	}
	return out
}

func ids(rs []*types.StoryRecord) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = string(r.ID)
	}
	return out
}

func intp(v int) *int { return &v }

func TestOutOfRangePage(t *testing.T) {
	res, err := Run(many(25), Filter{Page: 100, PageSize: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Stories) != 0 {
		t.Errorf("expected empty page, got %d", len(res.Stories))
	}
	if res.TotalPages != 3 || res.Total != 25 {
		t.Errorf("expected total 25 in 3 pages, got %d/%d", res.Total, res.TotalPages)
	}
}

func TestHugePageIsEmpty(t *testing.T) {
	for _, page := range []int{184467440737095517, math.MaxInt} {
		res, err := Run(many(25), Filter{Page: page, PageSize: MaxPageSize})
		if err != nil {
			t.Fatalf("page %d: %v", page, err)
		}
		if len(res.Stories) != 0 || res.Total != 25 || res.Page != page {
			t.Errorf("page %d: got %d stories, total %d, page %d", page, len(res.Stories), res.Total, res.Page)
		}
	}
}

func TestPagesPartitionResult(t *testing.T) {
	records := many(25)
	for _, size := range []int{1, 4, 10, 25, 30} {
		seen := map[string]bool{}
		sum := 0
		first, _ := Run(records, Filter{PageSize: size})
		for page := 1; page <= first.TotalPages; page++ {
			res, err := Run(records, Filter{Page: page, PageSize: size})
			if err != nil {
				t.Fatal(err)
			}
			sum += len(res.Stories)
			for _, r := range res.Stories {
				if seen[string(r.ID)] {
					t.Errorf("size %d: %s appears on two pages", size, r.ID)
				}
				seen[string(r.ID)] = true
			}
		}
		if sum != first.Total {
			t.Errorf("size %d: pages hold %d records, total is %d", size, sum, first.Total)
		}
	}
}

func TestDefaultsSortNewestFirst(t *testing.T) {
	res, err := Run(many(12), Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Page != 1 || res.PageSize != DefaultPageSize {
		t.Errorf("unexpected defaults page=%d size=%d", res.Page, res.PageSize)
	}
	if res.Stories[0].ID != "s11" || res.Stories[9].ID != "s02" {
		t.Errorf("expected newest first, got %v", ids(res.Stories))
	}
}

func TestFilters(t *testing.T) {
	a := record("a", 4, "Ocean", []string{"whales", "friendship"}, 1)
	a.Metadata.OwnerID = "u1"
	a.Metadata.Categories = []string{"favorites"}
	b := record("b", 7, "space", []string{"Rockets"}, 2)
	b.Metadata.OwnerID = "u2"
	c := record("c", 10, "ocean", []string{"pirates"}, 3)
	c.Metadata.OwnerID = "u1"
	c.Metadata.Categories = []string{"favorites", "long"}
	records := []*types.StoryRecord{a, b, c}

	tests := []struct {
		name string
		f    Filter
		want []string
	}{
		{"owner", Filter{OwnerID: "u1", SortOrder: Asc}, []string{"a", "c"}},
		{"tags any, case-insensitive", Filter{Tags: []string{"rockets", "PIRATES"}, SortOrder: Asc}, []string{"b", "c"}},
		{"category", Filter{Category: "long"}, []string{"c"}},
		{"age range", Filter{AgeMin: intp(5), AgeMax: intp(10), SortOrder: Asc}, []string{"b", "c"}},
		{"theme case-insensitive", Filter{Theme: "OCEAN", SortOrder: Asc}, []string{"a", "c"}},
		{"combined", Filter{OwnerID: "u1", Theme: "ocean", AgeMax: intp(5)}, []string{"a"}},
		{"no match", Filter{Tags: []string{"dragons"}}, []string{}},
	}
	for _, tt := range tests {
		res, err := Run(records, tt.f)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if got := ids(res.Stories); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestStableSortKeepsTies(t *testing.T) {
	records := []*types.StoryRecord{
		record("x", 5, "t", nil, 0),
		record("y", 5, "t", nil, 0),
		record("z", 4, "t", nil, 0),
	}
	asc, _ := Run(records, Filter{SortKey: SortAge, SortOrder: Asc})
	if got := ids(asc.Stories); !reflect.DeepEqual(got, []string{"z", "x", "y"}) {
		t.Errorf("asc: %v", got)
	}
	desc, _ := Run(records, Filter{SortKey: SortAge, SortOrder: Desc})
	if got := ids(desc.Stories); !reflect.DeepEqual(got, []string{"x", "y", "z"}) {
		t.Errorf("desc: %v", got)
	}
}

func TestSortByTitleAndLastEdited(t *testing.T) {
	a := record("a", 5, "t", nil, 0)
	a.Metadata.Title = "banana"
	b := record("b", 5, "t", nil, 1)
	b.Metadata.Title = "Apple"
	edited := epoch.Add(100 * time.Hour)
	a.Metadata.LastEdited = &edited
	records := []*types.StoryRecord{a, b}

	byTitle, _ := Run(records, Filter{SortKey: SortTitle, SortOrder: Asc})
	if got := ids(byTitle.Stories); !reflect.DeepEqual(got, []string{"b", "a"}) {
		t.Errorf("title: %v", got)
	}
	byEdit, _ := Run(records, Filter{SortKey: SortLastEdited, SortOrder: Desc})
	if got := ids(byEdit.Stories); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("last edited: %v", got)
	}
}

func TestRunDoesNotReorderInput(t *testing.T) {
	records := many(5)
	before := ids(records)
	Run(records, Filter{SortKey: SortAge, SortOrder: Desc})
	if !reflect.DeepEqual(ids(records), before) {
		t.Error("input slice must not be reordered")
	}
}

func TestValidate(t *testing.T) {
	bad := []Filter{
		{Page: -1},
		{PageSize: -5},
		{PageSize: MaxPageSize + 1},
		{SortKey: "color"},
		{SortOrder: "sideways"},
		{AgeMin: intp(9), AgeMax: intp(3)},
	}
	for _, f := range bad {
		if _, err := Run(nil, f); !errors.Is(err, types.ErrInvalidInput) {
			t.Errorf("filter %+v: expected ErrInvalidInput, got %v", f, err)
		}
	}
}

func TestParseSortKey(t *testing.T) {
	for in, want := range map[string]SortKey{"": SortCreatedAt, "createdAt": SortCreatedAt, "AGE": SortAge, "lastEdited": SortLastEdited, "title": SortTitle} {
		got, err := ParseSortKey(in)
		if err != nil || got != want {
			t.Errorf("ParseSortKey(%q) = %q, %v", in, got, err)
		}
	}
}

func TestAllTagsAndCategories(t *testing.T) {
	a := record("a", 5, "t", []string{"whales", "ocean"}, 0)
	a.Metadata.Categories = []string{"favorites"}
	b := record("b", 5, "t", []string{"ocean", "", "dragons"}, 0)
	b.Metadata.Categories = []string{"bedtime", "favorites"}

	if got := AllTags([]*types.StoryRecord{a, b}); !reflect.DeepEqual(got, []string{"dragons", "ocean", "whales"}) {
		t.Errorf("AllTags = %v", got)
	}
	if got := AllCategories([]*types.StoryRecord{a, b}); !reflect.DeepEqual(got, []string{"bedtime", "favorites"}) {
		t.Errorf("AllCategories = %v", got)
	}
	if got := AllTags(nil); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", got)
	}
}
