// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/wikimedia/reportupdater/internal/lock"
	"github.com/wikimedia/reportupdater/internal/log"
	"github.com/wikimedia/reportupdater/internal/metrics"
	"github.com/wikimedia/reportupdater/internal/pipeline"
	"github.com/wikimedia/reportupdater/internal/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	flags := flag.NewFlagSet("reportupdater", flag.ExitOnError)
	var (
		logLevel       string
		logFile        string
		configPath     string
		pidFile        string
		metricsGateway string
		showVersion    bool
	)
	flags.StringVar(&logLevel, "l", "warn", "log level (debug, info, warn, error)")
	flags.StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	flags.StringVar(&logFile, "log-file", "", "write logs to this file instead of stderr")
	flags.StringVar(&configPath, "config-path", "", "config file (default <query_folder>/config.yaml)")
	flags.StringVar(&pidFile, "pid-file", "", "pid file (default <query_folder>/.reportupdater.pid)")
	flags.StringVar(&metricsGateway, "metrics-gateway", "", "prometheus pushgateway to push run metrics to")
	flags.BoolVar(&showVersion, "version", false, "print version and exit")
	flags.Usage = func() {
		fmt.Fprintln(flags.Output(), "usage: reportupdater [flags] <query_folder> <output_folder>")
		flags.PrintDefaults()
	}
	folders := parseArgs(flags, os.Args[1:])

	if showVersion {
		fmt.Printf("reportupdater %s (commit: %s, built: %s)\n",
			version.Version, version.Commit, version.Date)
		return 0
	}
	if len(folders) != 2 {
		flags.Usage()
		return 1
	}

	var output io.Writer
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot open the log file: %v\n", err)
			return 1
		}
		defer f.Close()
		output = f
	}
	log.Configure(log.Config{
		Level:   logLevel,
		Output:  output,
		RunID:   uuid.NewString(),
		Version: version.Version,
	})
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := pipeline.Run(ctx, pipeline.Params{
		QueryFolder:  folders[0],
		OutputFolder: folders[1],
		ConfigPath:   configPath,
		PIDFilePath:  pidFile,
	})
	switch {
	case errors.Is(err, lock.ErrAlreadyRunning):
		logger.Warn().
			Str("event", "main.already_running").
			Msg("Another instance is already running. Exiting.")
		return 1
	case err != nil:
		logger.Error().
			Str("event", "main.failed").
			Err(err).
			Msg("execution failed")
		return 1
	}

	if metricsGateway != "" {
		if err := metrics.Push(metricsGateway); err != nil {
			logger.Warn().
				Str("event", "main.metrics_push_failed").
				Err(err).
				Msg("could not push metrics to the gateway")
		}
	}
	return 0
}

// parseArgs accepts flags both before and after positional arguments and
// returns the positionals in order.
func parseArgs(flags *flag.FlagSet, argv []string) []string {
	_ = flags.Parse(argv)
	var positionals []string
	for flags.NArg() > 0 {
		positionals = append(positionals, flags.Arg(0))
		_ = flags.Parse(flags.Args()[1:])
	}
	return positionals
}
