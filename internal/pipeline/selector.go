// SPDX-License-Identifier: MIT

package pipeline

import (
	"errors"
	"sort"
	"time"

	"github.com/wikimedia/reportupdater/internal/dates"
	"github.com/wikimedia/reportupdater/internal/log"
	"github.com/wikimedia/reportupdater/internal/report"
	"github.com/wikimedia/reportupdater/internal/rerun"
	"github.com/wikimedia/reportupdater/internal/tsv"
)

// Selector decides which intervals of a report actually need computing:
// it explodes the report over its dimensions, walks the dates from the
// report's first date up to the last complete period, and drops every
// date already present in the report file. Dates marked for rerun are
// treated as missing.
type Selector struct {
	outputFolder string
	reruns       map[string][]rerun.Interval
	now          time.Time
}

func NewSelector(outputFolder string, reruns map[string][]rerun.Interval, now time.Time) *Selector {
	return &Selector{outputFolder: outputFolder, reruns: reruns, now: now}
}

// Instances returns one Report per pending interval per explode
// combination. On error the already triaged instances are returned along
// with it; they are still valid to execute.
func (s *Selector) Instances(rep *report.Report) ([]*report.Report, error) {
	var instances []*report.Report
	for _, exploded := range explode(rep) {
		pending, err := s.pendingIntervals(exploded)
		instances = append(instances, pending...)
		if err != nil {
			return instances, err
		}
	}
	return instances, nil
}

// explode builds the cartesian product of the report's dimension values.
// Dimensions are walked in name order, so the combination order is stable
// across runs.
func explode(rep *report.Report) []*report.Report {
	dims := make([]string, 0, len(rep.ExplodeBy))
	for dim := range rep.ExplodeBy {
		dims = append(dims, dim)
	}
	sort.Strings(dims)

	combos := []*report.Report{rep}
	for _, dim := range dims {
		next := make([]*report.Report, 0, len(combos)*len(rep.ExplodeBy[dim]))
		for _, combo := range combos {
			for _, value := range rep.ExplodeBy[dim] {
				c := combo.Copy()
				if c.ExplodeValues == nil {
					c.ExplodeValues = make(map[string]string, len(dims))
				}
				c.ExplodeValues[dim] = value
				next = append(next, c)
			}
		}
		combos = next
	}
	return combos
}

// pendingIntervals slices one exploded report into its missing intervals.
func (s *Selector) pendingIntervals(rep *report.Report) ([]*report.Report, error) {
	g := rep.Granularity
	firstDate, err := dates.Truncate(rep.FirstDate, g)
	if err != nil {
		return nil, err
	}

	// The last complete period: one granularity step behind now, with the
	// report's lag on top. Truncate before stepping; stepping a month back
	// from the 29th..31st would otherwise land inside the current month.
	relativeNow, err := dates.Truncate(s.now.Add(-time.Duration(rep.LagSeconds)*time.Second), g)
	if err != nil {
		return nil, err
	}
	lastDate, err := dates.Add(relativeNow, g, -1)
	if err != nil {
		return nil, err
	}

	if rep.MaxDataPoints > 0 {
		capped, err := dates.Add(lastDate, g, -(rep.MaxDataPoints - 1))
		if err != nil {
			return nil, err
		}
		if capped.After(firstDate) {
			firstDate = capped
		}
	}

	previous, err := tsv.ReadResults(tsv.OutputPath(s.outputFolder, rep), rep.Funnel, func(date time.Time) bool {
		return rerun.Covered(date, s.reruns[rep.Key])
	})
	if err != nil {
		return nil, err
	}
	logger := log.WithComponent("selector")
	logger.Debug().
		Str("event", "selector.triage").
		Str("report", rep.String()).
		Int("already_done", len(previous.Data)).
		Msg("triaging report")

	if firstDate.After(lastDate) {
		return nil, errors.New("first date is greater than current date")
	}

	var instances []*report.Report
	for start := firstDate; !start.After(lastDate); {
		end, err := dates.Add(start, g, 1)
		if err != nil {
			return instances, err
		}
		if _, done := previous.Data[start]; !done {
			inst := rep.Copy()
			inst.Start = start
			inst.End = end
			instances = append(instances, inst)
		}
		start = end
	}
	return instances, nil
}
