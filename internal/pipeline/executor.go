// SPDX-License-Identifier: MIT

package pipeline

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/wikimedia/reportupdater/internal/config"
	"github.com/wikimedia/reportupdater/internal/dates"
	"github.com/wikimedia/reportupdater/internal/format"
	"github.com/wikimedia/reportupdater/internal/log"
	"github.com/wikimedia/reportupdater/internal/procgroup"
	"github.com/wikimedia/reportupdater/internal/report"
)

// DBProvider hands out database pools by config key. Implemented by
// db.Connector; tests plug in their own.
type DBProvider interface {
	Get(ctx context.Context, key string, databases map[string]*config.Database) (*sql.DB, error)
	Close()
}

// Executor runs one report instance and stores the normalized results on
// it.
type Executor struct {
	db        DBProvider
	databases map[string]*config.Database
}

func NewExecutor(provider DBProvider, databases map[string]*config.Database) *Executor {
	return &Executor{db: provider, databases: databases}
}

func (e *Executor) Execute(ctx context.Context, rep *report.Report) error {
	switch rep.Type {
	case report.TypeSQL:
		return e.executeSQL(ctx, rep)
	case report.TypeScript:
		return e.executeScript(ctx, rep)
	}
	return fmt.Errorf("report type %q is not valid", rep.Type)
}

func (e *Executor) executeSQL(ctx context.Context, rep *report.Report) error {
	query, err := renderSQL(rep)
	if err != nil {
		return err
	}
	logger := log.WithComponent("executor")
	logger.Debug().
		Str("event", "executor.query").
		Str("report", rep.Key).
		Str("query", query).
		Msg("running query")

	pool, err := e.db.Get(ctx, rep.DBKey, e.databases)
	if err != nil {
		return err
	}
	header, data, err := runQuery(ctx, pool, query)
	if err != nil {
		return err
	}
	results, err := normalize(rep, header, data)
	if err != nil {
		return err
	}
	rep.Results = results
	return nil
}

// renderSQL fills the {from_timestamp}/{to_timestamp} placeholders and the
// explode dimensions into the report's template.
func renderSQL(rep *report.Report) (string, error) {
	values := map[string]string{
		"from_timestamp": rep.Start.Format(dates.TimestampFormat),
		"to_timestamp":   rep.End.Format(dates.TimestampFormat),
	}
	for dim, value := range rep.ExplodeValues {
		values[dim] = value
	}
	query, err := format.Expand(rep.SQLTemplate, values)
	if err != nil {
		if errors.Is(err, format.ErrUnknownPlaceholder) {
			return "", errors.New("sql template contains unknown placeholders")
		}
		return "", err
	}
	return query, nil
}

func runQuery(ctx context.Context, pool *sql.DB, query string) ([]string, [][]any, error) {
	rows, err := pool.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot execute query: %w", err)
	}
	defer rows.Close()

	header, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("cannot execute query: %w", err)
	}
	var data [][]any
	for rows.Next() {
		values := make([]any, len(header))
		ptrs := make([]any, len(header))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("cannot execute query: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		data = append(data, values)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("cannot execute query: %w", err)
	}
	return header, data, nil
}

func (e *Executor) executeScript(ctx context.Context, rep *report.Report) error {
	args := []string{
		rep.Start.Format(dates.DateFormat),
		rep.End.Format(dates.DateFormat),
	}
	for _, dim := range rep.Dimensions() {
		args = append(args, rep.ExplodeValues[dim])
	}
	// Scripts get their own folder as a last argument.
	args = append(args, filepath.Dir(rep.Script))

	cmd := exec.CommandContext(ctx, rep.Script, args...)
	procgroup.Set(cmd)
	// Scripts may spawn helpers; cancelling must take those down too.
	cmd.Cancel = func() error { return procgroup.Kill(cmd) }
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("script failed: %w: %s", err, msg)
		}
		return fmt.Errorf("script failed: %w", err)
	}

	reader := csv.NewReader(&stdout)
	reader.Comma = '\t'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	records, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("cannot parse script output: %w", err)
	}
	data := make([][]any, len(records))
	for i, record := range records {
		row := make([]any, len(record))
		for j, cell := range record {
			row[j] = cell
		}
		data[i] = row
	}
	results, err := normalize(rep, nil, data)
	if err != nil {
		return err
	}
	rep.Results = results
	return nil
}

// normalize keys the raw rows by the date in their first column. A nil
// header means the first row carries it, which is how scripts report
// theirs. Empty results become a single row of nulls for the interval
// start, so the date is not recomputed on the next run.
func normalize(rep *report.Report, header []string, data [][]any) (report.Results, error) {
	results := report.Results{Header: header, Data: make(map[time.Time][]report.Row)}
	for _, raw := range data {
		if results.Header == nil {
			results.Header = toStrings(raw)
			continue
		}
		if len(raw) == 0 {
			continue
		}
		date, err := cellDate(raw[0])
		if err != nil {
			return report.Results{}, err
		}
		row := make(report.Row, len(raw))
		row[0] = date
		copy(row[1:], raw[1:])
		if rep.Funnel {
			results.Data[date] = append(results.Data[date], row)
		} else {
			results.Data[date] = []report.Row{row}
		}
	}
	if len(results.Data) == 0 {
		if len(results.Header) == 0 {
			return report.Results{}, errors.New("results are empty")
		}
		row := make(report.Row, len(results.Header))
		row[0] = rep.Start
		results.Data[rep.Start] = []report.Row{row}
	}
	return results, nil
}

func cellDate(cell any) (time.Time, error) {
	switch v := cell.(type) {
	case time.Time:
		return dates.Day(v), nil
	case string:
		date, err := dates.Parse(strings.TrimSpace(v))
		if err != nil {
			return time.Time{}, errors.New("could not parse date from results")
		}
		return date, nil
	case []byte:
		return cellDate(string(v))
	default:
		return time.Time{}, errors.New("results do not have dates in first column")
	}
}

func toStrings(raw []any) []string {
	header := make([]string, len(raw))
	for i, cell := range raw {
		header[i] = report.FormatCell(cell)
	}
	return header
}
