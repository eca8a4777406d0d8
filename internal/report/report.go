// SPDX-License-Identifier: MIT

// Package report holds the unit of work passed between the pipeline stages.
// A Report carries everything read from its config section, and, once the
// selector has sliced it, the start/end of the one interval to compute and
// the fixed values of its explode dimensions.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wikimedia/reportupdater/internal/dates"
)

// Type tells how a report is executed.
type Type string

const (
	TypeSQL    Type = "sql"
	TypeScript Type = "script"
)

// Row is one result row. The first cell is always the row's date.
type Row []any

// Results is the outcome of executing one interval, keyed by date. Funnel
// reports may accumulate several rows under one date; all other reports
// keep exactly one.
type Results struct {
	Header []string
	Data   map[time.Time][]Row
}

// GraphiteOptions is the per-report graphite section: a path template and
// a metric-name to column-name map.
type GraphiteOptions struct {
	Path    string            `yaml:"path"`
	Metrics map[string]string `yaml:"metrics"`
}

// Report is the pipeline's unit of work.
type Report struct {
	Key         string
	Type        Type
	Granularity dates.Granularity
	LagSeconds  int
	FirstDate   time.Time

	// Start and End delimit the one interval this instance computes,
	// set by the selector: [Start, End).
	Start time.Time
	End   time.Time

	DBKey       string
	SQLTemplate string
	Script      string

	// ExplodeBy holds the configured value lists per placeholder;
	// ExplodeValues holds the one fixed value per placeholder after
	// explosion.
	ExplodeBy     map[string][]string
	ExplodeValues map[string]string

	MaxDataPoints int // 0 means unlimited
	Funnel        bool
	Graphite      GraphiteOptions
	Group         string

	Results Results
}

// Copy returns an independent instance: maps are cloned, results are not
// carried over.
func (r *Report) Copy() *Report {
	c := *r
	if r.ExplodeBy != nil {
		c.ExplodeBy = make(map[string][]string, len(r.ExplodeBy))
		for k, v := range r.ExplodeBy {
			c.ExplodeBy[k] = append([]string(nil), v...)
		}
	}
	if r.ExplodeValues != nil {
		c.ExplodeValues = make(map[string]string, len(r.ExplodeValues))
		for k, v := range r.ExplodeValues {
			c.ExplodeValues[k] = v
		}
	}
	c.Results = Results{}
	return &c
}

// Dimensions returns the explode placeholder names in sorted order. Script
// arguments and output paths depend on this order being stable.
func (r *Report) Dimensions() []string {
	names := make([]string, 0, len(r.ExplodeValues))
	for name := range r.ExplodeValues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "<report %s type=%s granularity=%s", r.Key, r.Type, r.Granularity)
	if !r.Start.IsZero() {
		fmt.Fprintf(&b, " start=%s end=%s", r.Start.Format(dates.DateFormat), r.End.Format(dates.DateFormat))
	}
	if len(r.ExplodeValues) > 0 {
		vals := make([]string, 0, len(r.ExplodeValues))
		for _, name := range r.Dimensions() {
			vals = append(vals, name+"="+r.ExplodeValues[name])
		}
		fmt.Fprintf(&b, " explode=[%s]", strings.Join(vals, " "))
	}
	b.WriteString(">")
	return b.String()
}

// FormatCell renders one result cell the way it appears in report files and
// graphite records: nil is empty, dates use the report date format, byte
// blobs (as MySQL returns text) become strings.
func FormatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case time.Time:
		return t.Format(dates.DateFormat)
	case []byte:
		return string(t)
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
