// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/wikimedia/reportupdater/internal/config"
	"github.com/wikimedia/reportupdater/internal/db"
	"github.com/wikimedia/reportupdater/internal/graphite"
	"github.com/wikimedia/reportupdater/internal/lock"
	"github.com/wikimedia/reportupdater/internal/log"
	"github.com/wikimedia/reportupdater/internal/metrics"
	"github.com/wikimedia/reportupdater/internal/rerun"
	"github.com/wikimedia/reportupdater/internal/report"
)

// Params configures one run. ConfigPath and PIDFilePath default to the
// conventional files inside the query folder; Now and DB exist so tests
// can pin the clock and the database.
type Params struct {
	QueryFolder  string
	OutputFolder string
	ConfigPath   string
	PIDFilePath  string
	Now          func() time.Time
	DB           DBProvider
}

// Run executes the whole pipeline once: takes the pid lock, reads config
// and rerun marks, then reads, triages, executes and writes every report.
// Per-report failures are logged and skipped; only structural problems
// return an error.
func Run(ctx context.Context, p Params) error {
	if p.ConfigPath == "" {
		p.ConfigPath = filepath.Join(p.QueryFolder, "config.yaml")
	}
	if p.PIDFilePath == "" {
		p.PIDFilePath = filepath.Join(p.QueryFolder, ".reportupdater.pid")
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	logger := log.WithComponent("pipeline")

	if err := lock.Acquire(p.PIDFilePath); err != nil {
		return err
	}
	defer lock.Release(p.PIDFilePath)

	logger.Info().
		Str("event", "run.start").
		Str("query_folder", p.QueryFolder).
		Str("output_folder", p.OutputFolder).
		Msg("starting execution")
	started := time.Now()
	now := p.Now().UTC()

	cfg, err := config.Load(p.ConfigPath)
	if err != nil {
		return err
	}
	reruns, processedReruns, err := rerun.Read(p.QueryFolder)
	if err != nil {
		return err
	}

	var graphiteClient *graphite.Client
	if cfg.Graphite != nil {
		lookups, err := config.LoadLookups(cfg.Graphite, p.QueryFolder)
		if err != nil {
			return err
		}
		if graphiteClient, err = graphite.New(cfg.Graphite, lookups); err != nil {
			return err
		}
	}

	reports, err := NewReader(cfg, p.QueryFolder).Reports()
	if err != nil {
		return err
	}
	if usesDatabase(reports) && len(cfg.Databases) == 0 {
		return errors.New("databases is not in config")
	}

	provider := p.DB
	if provider == nil {
		provider = db.NewConnector()
	}
	defer provider.Close()

	selector := NewSelector(p.OutputFolder, reruns, now)
	executor := NewExecutor(provider, cfg.Databases)
	writer := NewWriter(p.OutputFolder, graphiteClient)

	for _, rep := range reports {
		instances, triageErr := selector.Instances(rep)
		for _, inst := range instances {
			if err := ctx.Err(); err != nil {
				return err
			}
			logger.Info().
				Str("event", "run.execute").
				Str("report", inst.String()).
				Msg("executing report")
			execErr := executor.Execute(ctx, inst)
			metrics.RecordReport(string(inst.Type), execErr)
			if execErr != nil {
				logger.Error().
					Str("event", "run.execute_failed").
					Str("report", inst.Key).
					Err(execErr).
					Msg("report could not be executed")
				continue
			}
			// Write reports the dates it put into the file even when the
			// graphite send afterwards failed, so count them first.
			newDates, writeErr := writer.Write(inst)
			metrics.AddDatesWritten(newDates)
			if writeErr != nil {
				logger.Error().
					Str("event", "run.write_failed").
					Str("report", inst.Key).
					Err(writeErr).
					Msg("report could not be written")
				continue
			}
			logger.Info().
				Str("event", "run.report_updated").
				Str("report", inst.Key).
				Int("new_dates", newDates).
				Msg("report has been updated")
		}
		if triageErr != nil {
			logger.Error().
				Str("event", "run.triage_failed").
				Str("report", rep.Key).
				Err(triageErr).
				Msg("report could not be triaged for execution")
		}
	}

	rerun.Delete(processedReruns)
	metrics.RecordRun(time.Since(started))
	logger.Info().
		Str("event", "run.complete").
		Dur("duration", time.Since(started)).
		Msg("execution complete")
	return nil
}

func usesDatabase(reports []*report.Report) bool {
	for _, rep := range reports {
		if rep.Type == report.TypeSQL {
			return true
		}
	}
	return false
}
