// SPDX-License-Identifier: MIT

package report

import (
	"testing"
	"time"

	"github.com/wikimedia/reportupdater/internal/dates"
)

func TestCopyIsIndependent(t *testing.T) {
	orig := &Report{
		Key:           "visits",
		Type:          TypeSQL,
		Granularity:   dates.Days,
		ExplodeBy:     map[string][]string{"wiki": {"enwiki", "dewiki"}},
		ExplodeValues: map[string]string{"wiki": "enwiki"},
		Results: Results{
			Header: []string{"date", "value"},
			Data: map[time.Time][]Row{
				time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC): {{time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC), "1"}},
			},
		},
	}

	c := orig.Copy()
	c.ExplodeBy["wiki"][0] = "frwiki"
	c.ExplodeValues["wiki"] = "frwiki"

	if orig.ExplodeBy["wiki"][0] != "enwiki" {
		t.Error("ExplodeBy shared between copies")
	}
	if orig.ExplodeValues["wiki"] != "enwiki" {
		t.Error("ExplodeValues shared between copies")
	}
	if c.Results.Data != nil || c.Results.Header != nil {
		t.Error("results must not carry over into a copy")
	}
}

func TestDimensionsSorted(t *testing.T) {
	r := &Report{ExplodeValues: map[string]string{"wiki": "enwiki", "editor": "ve", "platform": "mobile"}}
	got := r.Dimensions()
	want := []string{"editor", "platform", "wiki"}
	if len(got) != len(want) {
		t.Fatalf("Dimensions = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Dimensions = %v, want %v", got, want)
		}
	}
}

func TestFormatCell(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{time.Date(2015, 1, 2, 0, 0, 0, 0, time.UTC), "2015-01-02"},
		{[]byte("blob"), "blob"},
		{"text", "text"},
		{int64(42), "42"},
		{3.5, "3.5"},
	}
	for _, c := range cases {
		if got := FormatCell(c.in); got != c.want {
			t.Errorf("FormatCell(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestString(t *testing.T) {
	r := &Report{
		Key:           "visits",
		Type:          TypeSQL,
		Granularity:   dates.Days,
		Start:         time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC),
		End:           time.Date(2015, 1, 2, 0, 0, 0, 0, time.UTC),
		ExplodeValues: map[string]string{"wiki": "enwiki"},
	}
	want := "<report visits type=sql granularity=days start=2015-01-01 end=2015-01-02 explode=[wiki=enwiki]>"
	if got := r.String(); got != want {
		t.Errorf("String = %q, want %q", got, want)
	}
}
