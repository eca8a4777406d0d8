// SPDX-License-Identifier: MIT

// Package tsv reads and writes the report files. One file per report (one
// per explode combination for exploded reports): a header line, then one
// row per date — funnel reports may carry several rows per date. The first
// column is always the date.
package tsv

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/wikimedia/reportupdater/internal/dates"
	"github.com/wikimedia/reportupdater/internal/report"
)

// OutputPath returns the report file location under the output folder.
// Exploded reports nest under their dimension values, ordered by
// placeholder name: <output>/<key>/<v1>/.../<vN-1>/<vN>.tsv.
func OutputPath(outputFolder string, rep *report.Report) string {
	if len(rep.ExplodeValues) == 0 {
		return filepath.Join(outputFolder, rep.Key+".tsv")
	}
	dims := rep.Dimensions()
	parts := []string{outputFolder, rep.Key}
	for _, dim := range dims[:len(dims)-1] {
		parts = append(parts, rep.ExplodeValues[dim])
	}
	last := rep.ExplodeValues[dims[len(dims)-1]]
	parts = append(parts, last+".tsv")
	return filepath.Join(parts...)
}

// ReadResults loads a report file into date-keyed rows. A missing file is
// an empty result, not an error. Dates for which skip returns true are left
// out, so the selector sees them as not done and the writer overwrites
// them.
func ReadResults(path string, funnel bool, skip func(time.Time) bool) (*report.Results, error) {
	results := &report.Results{Data: make(map[time.Time][]report.Row)}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return results, nil
		}
		return nil, fmt.Errorf("could not read the output file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = '\t'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("could not read the output file: %w", err)
	}
	for i, record := range records {
		if i == 0 {
			results.Header = record
			continue
		}
		date, err := dates.Parse(record[0])
		if err != nil {
			return nil, fmt.Errorf("output file date does not match date format: %q", record[0])
		}
		if skip != nil && skip(date) {
			continue
		}
		row := make(report.Row, len(record))
		row[0] = date
		for j := 1; j < len(record); j++ {
			row[j] = record[j]
		}
		if funnel {
			results.Data[date] = append(results.Data[date], row)
		} else {
			results.Data[date] = []report.Row{row}
		}
	}
	return results, nil
}

// encode writes the header and the date-sorted rows as tab-separated
// values.
func encode(w io.Writer, header []string, data map[time.Time][]report.Row) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, date := range sortedDates(data) {
		for _, row := range data[date] {
			fields := make([]string, len(row))
			for i, cell := range row {
				fields[i] = report.FormatCell(cell)
			}
			if err := cw.Write(fields); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func sortedDates(data map[time.Time][]report.Row) []time.Time {
	out := make([]time.Time, 0, len(data))
	for date := range data {
		out = append(out, date)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
