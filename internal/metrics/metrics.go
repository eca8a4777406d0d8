// SPDX-License-Identifier: MIT
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	// Pipeline metrics
	reportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reportupdater_reports_total",
		Help: "Report instances executed, by query type and outcome",
	}, []string{"type", "outcome"}) // type=sql|script, outcome=success|failure

	datesWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reportupdater_dates_written_total",
		Help: "Total number of new dates appended to report files",
	})

	graphiteRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reportupdater_graphite_records_total",
		Help: "Graphite record attempts by outcome",
	}, []string{"outcome"}) // outcome=success|failure

	// Run metrics
	runDurationSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reportupdater_run_duration_seconds",
		Help: "Duration of the last complete run",
	})

	lastRunTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reportupdater_last_run_timestamp_seconds",
		Help: "Unix timestamp of the last complete run",
	})
)

func RecordReport(reportType string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	reportsTotal.WithLabelValues(reportType, outcome).Inc()
}

func AddDatesWritten(n int) { datesWrittenTotal.Add(float64(n)) }

func RecordGraphite(err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	graphiteRecordsTotal.WithLabelValues(outcome).Inc()
}

func RecordRun(duration time.Duration) {
	runDurationSeconds.Set(duration.Seconds())
	lastRunTimestamp.SetToCurrentTime()
}

// Push sends everything in the default registry to a pushgateway. Runs
// are short-lived, so scraping is not an option.
func Push(gateway string) error {
	return push.New(gateway, "reportupdater").
		Gatherer(prometheus.DefaultGatherer).
		Push()
}
