// SPDX-License-Identifier: MIT

// Package rerun manages the mark files under <query_folder>/.reruns.
// Each mark file holds a start date, an end date and one report key per
// line; the covered dates are recomputed on the next run and the file is
// removed afterwards.
package rerun

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wikimedia/reportupdater/internal/dates"
	"github.com/wikimedia/reportupdater/internal/log"
)

// FolderName is the marker folder inside the query folder.
const FolderName = ".reruns"

// Interval is a half-open date range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Covered reports whether date falls inside any of the intervals.
func Covered(date time.Time, intervals []Interval) bool {
	for _, iv := range intervals {
		if !date.Before(iv.Start) && date.Before(iv.End) {
			return true
		}
	}
	return false
}

// Read collects the rerun intervals per report key from the mark files in
// <queryFolder>/.reruns. It returns the paths of the files read
// successfully, so they can be deleted once the run completes. Files that
// cannot be parsed are logged and kept for the next run.
func Read(queryFolder string) (map[string][]Interval, []string, error) {
	folder := filepath.Join(queryFolder, FolderName)
	info, err := os.Stat(folder)
	if err != nil || !info.IsDir() {
		return map[string][]Interval{}, nil, nil
	}
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot read the reruns folder: %w", err)
	}

	intervals := make(map[string][]Interval)
	var processed []string
	logger := log.WithComponent("rerun")
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(folder, entry.Name())
		if err := readMarkFile(path, intervals); err != nil {
			logger.Warn().
				Str("event", "rerun.unparseable_file").
				Str("path", path).
				Err(err).
				Msg("rerun file could not be parsed and will be ignored")
			continue
		}
		processed = append(processed, path)
	}
	return intervals, processed, nil
}

func readMarkFile(path string, intervals map[string][]Interval) error {
	// Open read-write to skip files that are still being written.
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if len(lines) < 2 {
		return errors.New("expected a start date, an end date and report keys")
	}
	start, err := dates.Parse(lines[0])
	if err != nil {
		return err
	}
	end, err := dates.Parse(lines[1])
	if err != nil {
		return err
	}
	for _, key := range lines[2:] {
		if key == "" {
			continue
		}
		intervals[key] = append(intervals[key], Interval{Start: start, End: end})
	}
	return nil
}

// Delete removes processed mark files. Failures are logged and do not
// interrupt the cleanup.
func Delete(paths []string) {
	logger := log.WithComponent("rerun")
	for _, path := range paths {
		if err := os.Remove(path); err != nil {
			logger.Warn().
				Str("event", "rerun.delete_failed").
				Str("path", path).
				Err(err).
				Msg("rerun file could not be deleted")
		}
	}
}

// MarkParams are the inputs to Mark. StartDate and EndDate are raw
// YYYY-MM-DD strings, validated here so callers surface the same message
// for the same mistake. An empty Reports list means all reports in the
// config file.
type MarkParams struct {
	QueryFolder string
	ConfigPath  string
	StartDate   string
	EndDate     string
	Reports     []string
	Now         func() time.Time
}

// Mark validates the requested date range against the config file and
// writes a mark file for the given reports. It returns the path of the
// written file.
func Mark(p MarkParams) (string, error) {
	start, err := dates.Parse(p.StartDate)
	if err != nil {
		return "", errors.New("invalid start_date")
	}
	end, err := dates.Parse(p.EndDate)
	if err != nil {
		return "", errors.New("invalid end_date")
	}
	if !start.Before(end) {
		return "", errors.New("start_date is greater than or equal to end_date")
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	if end.After(now().UTC()) {
		return "", errors.New("end_date is greater than today")
	}

	info, err := os.Stat(p.QueryFolder)
	if err != nil || !info.IsDir() {
		return "", errors.New("invalid query_folder")
	}

	configPath := p.ConfigPath
	if configPath == "" {
		configPath = filepath.Join(p.QueryFolder, "config.yaml")
	}
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return "", errors.New("cannot read the config file")
	}
	var config struct {
		Reports yaml.Node `yaml:"reports"`
	}
	if err := yaml.Unmarshal(raw, &config); err != nil {
		return "", errors.New("cannot read the config file")
	}
	if config.Reports.Kind == 0 {
		return "", errors.New("cannot find report section in config file")
	}
	if config.Reports.Kind != yaml.MappingNode {
		return "", errors.New("invalid report section in config file")
	}

	reports := p.Reports
	if len(reports) == 0 {
		reports = reportKeys(&config.Reports)
	}
	for _, key := range reports {
		section := findReport(&config.Reports, key)
		if section == nil {
			return "", fmt.Errorf("report %s is not listed in config file", key)
		}
		starts, err := decodeStarts(section)
		if err != nil {
			return "", fmt.Errorf("cannot parse starts field from %s config", key)
		}
		if !starts.Before(end) {
			return "", fmt.Errorf("report %s starts after the specified date range", key)
		}
	}

	folder := filepath.Join(p.QueryFolder, FolderName)
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", errors.New("could not create reruns folder")
	}
	var content strings.Builder
	content.WriteString(start.Format(dates.DateFormat) + "\n")
	content.WriteString(end.Format(dates.DateFormat) + "\n")
	for _, key := range reports {
		content.WriteString(key + "\n")
	}
	path := filepath.Join(folder, strconv.FormatInt(now().UnixMilli(), 10))
	if err := os.WriteFile(path, []byte(content.String()), 0o644); err != nil {
		return "", errors.New("could not write rerun file")
	}
	return path, nil
}

func reportKeys(reports *yaml.Node) []string {
	keys := make([]string, 0, len(reports.Content)/2)
	for i := 0; i+1 < len(reports.Content); i += 2 {
		keys = append(keys, reports.Content[i].Value)
	}
	return keys
}

func findReport(reports *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(reports.Content); i += 2 {
		if reports.Content[i].Value == key {
			return reports.Content[i+1]
		}
	}
	return nil
}

func decodeStarts(section *yaml.Node) (time.Time, error) {
	var fields struct {
		Starts yaml.Node `yaml:"starts"`
	}
	if err := section.Decode(&fields); err != nil {
		return time.Time{}, err
	}
	node := fields.Starts
	if node.Kind == 0 || node.Tag == "!!null" {
		return time.Time{}, errors.New("starts is missing")
	}
	var asTime time.Time
	if err := node.Decode(&asTime); err == nil {
		return dates.Day(asTime), nil
	}
	var asString string
	if err := node.Decode(&asString); err != nil {
		return time.Time{}, err
	}
	return dates.Parse(asString)
}
