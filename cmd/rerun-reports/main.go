// SPDX-License-Identifier: MIT

package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/wikimedia/reportupdater/internal/rerun"
)

// reportList collects the repeatable -r flag.
type reportList []string

func (r *reportList) String() string { return strings.Join(*r, ",") }

func (r *reportList) Set(value string) error {
	*r = append(*r, value)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	flags := flag.NewFlagSet("rerun-reports", flag.ExitOnError)
	var (
		configPath string
		reports    reportList
	)
	flags.StringVar(&configPath, "config-path", "", "config file (default <query_folder>/config.yaml)")
	flags.Var(&reports, "r", "report to mark; repeat to mark several (default: all reports)")
	flags.Var(&reports, "report", "report to mark; repeat to mark several (default: all reports)")
	flags.Usage = func() {
		fmt.Fprintln(flags.Output(), "usage: rerun-reports [flags] <query_folder> <start_date> <end_date>")
		fmt.Fprintln(flags.Output(), "Marks reports to be re-run for the given date range (end exclusive).")
		flags.PrintDefaults()
	}
	args := parseArgs(flags, os.Args[1:])

	if len(args) != 3 {
		flags.Usage()
		return 1
	}

	_, err := rerun.Mark(rerun.MarkParams{
		QueryFolder: args[0],
		StartDate:   args[1],
		EndDate:     args[2],
		ConfigPath:  configPath,
		Reports:     reports,
	})
	if err != nil {
		fmt.Println(renderError(err))
		return 1
	}
	fmt.Println("Reports successfully marked to be re-run.")
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

// renderError prints validation failures the way operators have always seen
// them: capitalized sentences, except when the message starts with a flag
// name like start_date.
func renderError(err error) string {
	msg := err.Error()
	if !strings.HasPrefix(msg, "start_date") && !strings.HasPrefix(msg, "end_date") {
		msg = strings.ToUpper(msg[:1]) + msg[1:]
	}
	return "ERROR: " + msg + "."
}
