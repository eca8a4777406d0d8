// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wikimedia/reportupdater/internal/lock"
	"github.com/wikimedia/reportupdater/internal/rerun"
)

const scriptConfig = `reports:
    visits:
        type: script
        granularity: days
        starts: 2015-05-01
`

// countingScript emits one row for its interval start and logs every call,
// so tests can tell recomputations from skips.
const countingScript = `echo "$1" >> "$(dirname "$0")/calls.txt"
printf 'date\tvisits\n%s\t10\n' "$1"`

type runFixture struct {
	queryFolder  string
	outputFolder string
	params       Params
}

func newRunFixture(t *testing.T, config string) *runFixture {
	t.Helper()
	f := &runFixture{queryFolder: t.TempDir(), outputFolder: t.TempDir()}
	require.NoError(t, os.WriteFile(
		filepath.Join(f.queryFolder, "config.yaml"), []byte(config), 0o644))
	f.params = Params{
		QueryFolder:  f.queryFolder,
		OutputFolder: f.outputFolder,
		// Saturday noon: the last complete day is 2015-05-02.
		Now: func() time.Time {
			return time.Date(2015, time.May, 3, 12, 0, 0, 0, time.UTC)
		},
	}
	return f
}

func (f *runFixture) addScript(t *testing.T, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(
		filepath.Join(f.queryFolder, name), []byte("#!/bin/sh\n"+body+"\n"), 0o755))
}

func (f *runFixture) calls(t *testing.T) []string {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(f.queryFolder, "calls.txt"))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(raw)), "\n")
}

func (f *runFixture) reportFile(t *testing.T, name string) string {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(f.outputFolder, name))
	require.NoError(t, err)
	return string(raw)
}

func TestRunEndToEnd(t *testing.T) {
	f := newRunFixture(t, scriptConfig)
	f.addScript(t, "visits", countingScript)

	require.NoError(t, Run(context.Background(), f.params))

	assert.Equal(t,
		"date\tvisits\n2015-05-01\t10\n2015-05-02\t10\n",
		f.reportFile(t, "visits.tsv"))
	assert.Equal(t, []string{"2015-05-01", "2015-05-02"}, f.calls(t))
	assert.NoFileExists(t, filepath.Join(f.queryFolder, ".reportupdater.pid"))
}

func TestRunSecondPassDoesNothing(t *testing.T) {
	f := newRunFixture(t, scriptConfig)
	f.addScript(t, "visits", countingScript)

	require.NoError(t, Run(context.Background(), f.params))
	require.NoError(t, Run(context.Background(), f.params))

	assert.Len(t, f.calls(t), 2, "completed dates are not recomputed")
	assert.Equal(t,
		"date\tvisits\n2015-05-01\t10\n2015-05-02\t10\n",
		f.reportFile(t, "visits.tsv"))
}

func TestRunAppliesRerunMarks(t *testing.T) {
	f := newRunFixture(t, scriptConfig)
	f.addScript(t, "visits", countingScript)
	require.NoError(t, Run(context.Background(), f.params))

	_, err := rerun.Mark(rerun.MarkParams{
		QueryFolder: f.queryFolder,
		ConfigPath:  filepath.Join(f.queryFolder, "config.yaml"),
		StartDate:   "2015-05-01",
		EndDate:     "2015-05-02",
		Now:         f.params.Now,
	})
	require.NoError(t, err)

	require.NoError(t, Run(context.Background(), f.params))

	calls := f.calls(t)
	require.Len(t, calls, 3, "only the marked date is recomputed")
	assert.Equal(t, "2015-05-01", calls[2])
	assert.Equal(t,
		"date\tvisits\n2015-05-01\t10\n2015-05-02\t10\n",
		f.reportFile(t, "visits.tsv"))

	marks, err := os.ReadDir(filepath.Join(f.queryFolder, rerun.FolderName))
	require.NoError(t, err)
	assert.Empty(t, marks, "processed mark files are deleted")
}

func TestRunWhileAnotherInstanceRuns(t *testing.T) {
	f := newRunFixture(t, scriptConfig)
	f.addScript(t, "visits", countingScript)
	pidFile := filepath.Join(f.queryFolder, ".reportupdater.pid")
	require.NoError(t, os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0o644))

	err := Run(context.Background(), f.params)
	require.ErrorIs(t, err, lock.ErrAlreadyRunning)
	assert.Empty(t, f.calls(t))
	assert.FileExists(t, pidFile, "the other instance's pid file is left alone")
}

func TestRunCanceledContext(t *testing.T) {
	f := newRunFixture(t, scriptConfig)
	f.addScript(t, "visits", countingScript)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Run(ctx, f.params)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.calls(t))
	assert.NoFileExists(t, filepath.Join(f.queryFolder, ".reportupdater.pid"),
		"the pid file is released on the way out")
}

func TestRunSQLReport(t *testing.T) {
	f := newRunFixture(t, `databases:
    analytics:
        host: localhost
        port: 3306
        creds_file: creds.cnf
        db: analytics
reports:
    visits:
        granularity: days
        starts: 2015-05-01
        db: analytics
`)
	require.NoError(t, os.WriteFile(filepath.Join(f.queryFolder, "visits.sql"), []byte(
		"SELECT day AS date, total AS visits FROM visits"+
			" WHERE ts >= '{from_timestamp}' AND ts < '{to_timestamp}'",
	), 0o644))

	pool := openSQLite(t)
	_, err := pool.Exec(`CREATE TABLE visits (day TEXT, ts TEXT, total INTEGER)`)
	require.NoError(t, err)
	_, err = pool.Exec(`INSERT INTO visits VALUES
		('2015-05-01', '20150501120000', 10),
		('2015-05-02', '20150502120000', 12)`)
	require.NoError(t, err)
	f.params.DB = &testDB{pool: pool}

	require.NoError(t, Run(context.Background(), f.params))

	assert.Equal(t,
		"date\tvisits\n2015-05-01\t10\n2015-05-02\t12\n",
		f.reportFile(t, "visits.tsv"))
}

func TestRunSQLReportWithoutDatabases(t *testing.T) {
	f := newRunFixture(t, `reports:
    visits:
        granularity: days
        starts: 2015-05-01
        db: analytics
`)
	require.NoError(t, os.WriteFile(
		filepath.Join(f.queryFolder, "visits.sql"), []byte("SELECT 1"), 0o644))

	err := Run(context.Background(), f.params)
	require.Error(t, err)
	assert.Equal(t, "databases is not in config", err.Error())
}

func TestRunCountsDatesWrittenWhenGraphiteFails(t *testing.T) {
	f := newRunFixture(t, `graphite:
    host: 127.0.0.1
    port: 1
reports:
    visits:
        type: script
        granularity: days
        starts: 2015-05-01
        graphite:
            path: daily.{_metric}
            metrics:
                visits: visits
`)
	f.addScript(t, "visits", countingScript)
	before := counterValue(t, "reportupdater_dates_written_total")

	require.NoError(t, Run(context.Background(), f.params))

	assert.Equal(t,
		"date\tvisits\n2015-05-01\t10\n2015-05-02\t10\n",
		f.reportFile(t, "visits.tsv"))
	assert.Equal(t, 2.0, counterValue(t, "reportupdater_dates_written_total")-before,
		"dates that reached the file count even though graphite was down")
}

// counterValue reads a counter from the default registry by name.
func counterValue(t *testing.T, name string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == name {
			return family.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func TestRunMissingConfig(t *testing.T) {
	err := Run(context.Background(), Params{
		QueryFolder:  t.TempDir(),
		OutputFolder: t.TempDir(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot read the config file")
}
