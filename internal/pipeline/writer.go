// SPDX-License-Identifier: MIT

package pipeline

import (
	"errors"
	"slices"
	"sort"
	"time"

	"github.com/wikimedia/reportupdater/internal/dates"
	"github.com/wikimedia/reportupdater/internal/graphite"
	"github.com/wikimedia/reportupdater/internal/metrics"
	"github.com/wikimedia/reportupdater/internal/report"
	"github.com/wikimedia/reportupdater/internal/tsv"
)

// Writer merges executed intervals into the report files and forwards new
// dates to graphite.
type Writer struct {
	outputFolder string
	graphite     *graphite.Client
}

func NewWriter(outputFolder string, client *graphite.Client) *Writer {
	return &Writer{outputFolder: outputFolder, graphite: client}
}

// Write folds the instance's results into its report file. It returns how
// many dates were new. The file is replaced before graphite is contacted,
// so a graphite failure never loses computed data.
func (w *Writer) Write(rep *report.Report) (int, error) {
	header, merged, newDates, err := w.mergeResults(rep)
	if err != nil {
		return 0, err
	}
	path := tsv.OutputPath(w.outputFolder, rep)
	if err := tsv.WriteResults(path, header, merged, rep.Group); err != nil {
		return 0, err
	}
	if err := w.recordToGraphite(rep, newDates); err != nil {
		return len(newDates), err
	}
	return len(newDates), nil
}

// mergeResults reconciles the executed interval with the existing report
// file. The current header wins: columns it dropped are re-appended at the
// end (sorted, nil-filled) and previous rows are rewritten into the new
// column order. With max_data_points set, previous dates older than the
// retention window fall off.
func (w *Writer) mergeResults(rep *report.Report) ([]string, map[time.Time][]report.Row, []time.Time, error) {
	currentHeader := append([]string(nil), rep.Results.Header...)
	currentData := make(map[time.Time][]report.Row, len(rep.Results.Data))
	for date, rows := range rep.Results.Data {
		copied := make([]report.Row, len(rows))
		for i, row := range rows {
			if len(row) != len(currentHeader) {
				return nil, nil, nil, errors.New("results and header do not match")
			}
			copied[i] = append(report.Row(nil), row...)
		}
		currentData[date] = copied
	}

	previous, err := tsv.ReadResults(tsv.OutputPath(w.outputFolder, rep), rep.Funnel, nil)
	if err != nil {
		return nil, nil, nil, err
	}
	previousHeader := previous.Header
	previousData := previous.Data
	if len(previousHeader) == 0 {
		if len(previousData) > 0 {
			return nil, nil, nil, errors.New("previous results have no header")
		}
		previousHeader = currentHeader
	}

	// Rerun dates are already in the file, so they do not count as new.
	var newDates []time.Time
	for date := range currentData {
		if _, ok := previousData[date]; !ok {
			newDates = append(newDates, date)
		}
	}
	sort.Slice(newDates, func(i, j int) bool { return newDates[i].Before(newDates[j]) })

	if !slices.Equal(currentHeader, previousHeader) {
		removed := missingColumns(previousHeader, currentHeader)
		if len(removed) > 0 {
			currentHeader = append(currentHeader, removed...)
			for _, rows := range currentData {
				for i, row := range rows {
					rows[i] = append(row, make(report.Row, len(removed))...)
				}
			}
		}

		type mapping struct{ to, from int }
		var columnMap []mapping
		for to, column := range currentHeader {
			if from := slices.Index(previousHeader, column); from >= 0 {
				columnMap = append(columnMap, mapping{to: to, from: from})
			}
		}
		for date, rows := range previousData {
			rewritten := make([]report.Row, len(rows))
			for i, row := range rows {
				newRow := make(report.Row, len(currentHeader))
				for _, m := range columnMap {
					if m.from < len(row) {
						newRow[m.to] = row[m.from]
					}
				}
				rewritten[i] = newRow
			}
			previousData[date] = rewritten
		}
	}

	merged := make(map[time.Time][]report.Row, len(previousData)+len(currentData))
	threshold, limited, err := dateThreshold(rep, previousData)
	if err != nil {
		return nil, nil, nil, err
	}
	for date, rows := range previousData {
		if !limited || date.After(threshold) {
			merged[date] = rows
		}
	}
	for date, rows := range currentData {
		merged[date] = rows
	}
	return currentHeader, merged, newDates, nil
}

// missingColumns returns the columns of previous that current lost, in
// sorted order.
func missingColumns(previous, current []string) []string {
	var missing []string
	for _, column := range previous {
		if !slices.Contains(current, column) && !slices.Contains(missing, column) {
			missing = append(missing, column)
		}
	}
	sort.Strings(missing)
	return missing
}

// dateThreshold computes the retention cutoff: only previous dates after
// it survive. The current interval start counts as a data point, so a
// report that is behind does not prune from a stale anchor.
func dateThreshold(rep *report.Report, previousData map[time.Time][]report.Row) (time.Time, bool, error) {
	if rep.MaxDataPoints == 0 {
		return time.Time{}, false, nil
	}
	last := rep.Start
	for date := range previousData {
		if date.After(last) {
			last = date
		}
	}
	threshold, err := dates.Add(last, rep.Granularity, -rep.MaxDataPoints)
	if err != nil {
		return time.Time{}, false, err
	}
	return threshold, true, nil
}

func (w *Writer) recordToGraphite(rep *report.Report, newDates []time.Time) error {
	if w.graphite == nil || len(newDates) == 0 {
		return nil
	}
	for _, date := range newDates {
		for _, row := range rep.Results.Data[date] {
			err := w.graphite.RecordRow(rep, row)
			metrics.RecordGraphite(err)
			if err != nil {
				return err
			}
		}
	}
	return nil
}
