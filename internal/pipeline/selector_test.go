// SPDX-License-Identifier: MIT

package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wikimedia/reportupdater/internal/dates"
	"github.com/wikimedia/reportupdater/internal/report"
	"github.com/wikimedia/reportupdater/internal/rerun"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dailyReport(key string) *report.Report {
	return &report.Report{
		Key:         key,
		Type:        report.TypeScript,
		Granularity: dates.Days,
		FirstDate:   day(2015, time.May, 1),
	}
}

func TestInstancesWalksPendingDates(t *testing.T) {
	now := time.Date(2015, time.May, 3, 12, 0, 0, 0, time.UTC)
	selector := NewSelector(t.TempDir(), nil, now)

	instances, err := selector.Instances(dailyReport("visits"))
	require.NoError(t, err)

	// 2015-05-03 is not complete yet: the last interval is 05-02..05-03.
	require.Len(t, instances, 2)
	assert.Equal(t, day(2015, time.May, 1), instances[0].Start)
	assert.Equal(t, day(2015, time.May, 2), instances[0].End)
	assert.Equal(t, day(2015, time.May, 2), instances[1].Start)
	assert.Equal(t, day(2015, time.May, 3), instances[1].End)
}

func TestInstancesSkipsAlreadyDoneDates(t *testing.T) {
	outputFolder := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(outputFolder, "visits.tsv"),
		[]byte("date\tvisits\n2015-05-01\t10\n"),
		0o644,
	))
	now := time.Date(2015, time.May, 3, 12, 0, 0, 0, time.UTC)
	selector := NewSelector(outputFolder, nil, now)

	instances, err := selector.Instances(dailyReport("visits"))
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, day(2015, time.May, 2), instances[0].Start)
}

func TestInstancesReselectsRerunDates(t *testing.T) {
	outputFolder := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(outputFolder, "visits.tsv"),
		[]byte("date\tvisits\n2015-05-01\t10\n2015-05-02\t12\n"),
		0o644,
	))
	now := time.Date(2015, time.May, 3, 12, 0, 0, 0, time.UTC)
	reruns := map[string][]rerun.Interval{
		"visits": {{Start: day(2015, time.May, 1), End: day(2015, time.May, 2)}},
	}
	selector := NewSelector(outputFolder, reruns, now)

	instances, err := selector.Instances(dailyReport("visits"))
	require.NoError(t, err)
	require.Len(t, instances, 1, "only the rerun-covered date comes back")
	assert.Equal(t, day(2015, time.May, 1), instances[0].Start)
}

func TestInstancesRespectsLag(t *testing.T) {
	// Two hours of lag push 01:00 UTC back before the day boundary.
	now := time.Date(2015, time.May, 3, 1, 0, 0, 0, time.UTC)
	rep := dailyReport("visits")
	rep.LagSeconds = 7200

	instances, err := NewSelector(t.TempDir(), nil, now).Instances(rep)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, day(2015, time.May, 1), instances[0].Start)
}

func TestInstancesWeeksTruncation(t *testing.T) {
	// Wednesday. The last complete week is the one starting Sunday 04-26.
	now := time.Date(2015, time.May, 13, 0, 0, 0, 0, time.UTC)
	rep := dailyReport("weekly")
	rep.Granularity = dates.Weeks
	rep.FirstDate = day(2015, time.April, 26)

	instances, err := NewSelector(t.TempDir(), nil, now).Instances(rep)
	require.NoError(t, err)
	require.Len(t, instances, 2)
	assert.Equal(t, day(2015, time.April, 26), instances[0].Start)
	assert.Equal(t, day(2015, time.May, 3), instances[0].End)
	assert.Equal(t, day(2015, time.May, 3), instances[1].Start)
}

func TestInstancesMonthsStopAtLastCompleteMonth(t *testing.T) {
	// The 31st. Stepping one month back before truncating would land
	// inside May and select the month that is still running.
	now := time.Date(2015, time.May, 31, 12, 0, 0, 0, time.UTC)
	rep := dailyReport("monthly")
	rep.Granularity = dates.Months
	rep.FirstDate = day(2015, time.January, 1)

	instances, err := NewSelector(t.TempDir(), nil, now).Instances(rep)
	require.NoError(t, err)
	require.Len(t, instances, 4)
	assert.Equal(t, day(2015, time.April, 1), instances[3].Start)
	assert.Equal(t, day(2015, time.May, 1), instances[3].End)
}

func TestInstancesMaxDataPointsCapsBackfill(t *testing.T) {
	now := time.Date(2015, time.May, 31, 12, 0, 0, 0, time.UTC)
	rep := dailyReport("visits")
	rep.FirstDate = day(2015, time.January, 1)
	rep.MaxDataPoints = 5

	instances, err := NewSelector(t.TempDir(), nil, now).Instances(rep)
	require.NoError(t, err)
	require.Len(t, instances, 5)
	assert.Equal(t, day(2015, time.May, 26), instances[0].Start)
	assert.Equal(t, day(2015, time.May, 30), instances[4].Start)
}

func TestInstancesFirstDateInFuture(t *testing.T) {
	now := time.Date(2015, time.May, 3, 12, 0, 0, 0, time.UTC)
	rep := dailyReport("visits")
	rep.FirstDate = day(2015, time.June, 1)

	instances, err := NewSelector(t.TempDir(), nil, now).Instances(rep)
	require.Error(t, err)
	assert.Equal(t, "first date is greater than current date", err.Error())
	assert.Empty(t, instances)
}

func TestExplode(t *testing.T) {
	rep := dailyReport("visits")
	rep.ExplodeBy = map[string][]string{
		"wiki":     {"enwiki", "dewiki"},
		"platform": {"desktop", "mobile"},
	}

	combos := explode(rep)
	require.Len(t, combos, 4)

	var seen []map[string]string
	for _, combo := range combos {
		seen = append(seen, combo.ExplodeValues)
	}
	// platform sorts before wiki, so it is the outer dimension.
	assert.Equal(t, []map[string]string{
		{"platform": "desktop", "wiki": "enwiki"},
		{"platform": "desktop", "wiki": "dewiki"},
		{"platform": "mobile", "wiki": "enwiki"},
		{"platform": "mobile", "wiki": "dewiki"},
	}, seen)
}

func TestInstancesExplodedReadSeparateFiles(t *testing.T) {
	outputFolder := t.TempDir()
	// enwiki is done for 05-01, dewiki is not.
	require.NoError(t, os.MkdirAll(filepath.Join(outputFolder, "visits"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(outputFolder, "visits", "enwiki.tsv"),
		[]byte("date\tvisits\n2015-05-01\t10\n"),
		0o644,
	))
	now := time.Date(2015, time.May, 2, 12, 0, 0, 0, time.UTC)
	rep := dailyReport("visits")
	rep.ExplodeBy = map[string][]string{"wiki": {"enwiki", "dewiki"}}

	instances, err := NewSelector(outputFolder, nil, now).Instances(rep)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "dewiki", instances[0].ExplodeValues["wiki"])
	assert.Equal(t, day(2015, time.May, 1), instances[0].Start)
}
