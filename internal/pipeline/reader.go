// SPDX-License-Identifier: MIT

// Package pipeline implements the four stages a run is made of: reading
// the report sections from config, triaging which intervals need to be
// computed, executing them against a database or a script, and writing the
// merged results back to the report files.
package pipeline

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wikimedia/reportupdater/internal/config"
	"github.com/wikimedia/reportupdater/internal/dates"
	"github.com/wikimedia/reportupdater/internal/fsutil"
	"github.com/wikimedia/reportupdater/internal/log"
	"github.com/wikimedia/reportupdater/internal/report"
)

// Reader turns report config sections into Report values. Sections are
// validated one by one, so a broken report is logged and dropped without
// taking the rest down.
type Reader struct {
	cfg         *config.Config
	queryFolder string
	defaults    map[string]yaml.Node
}

func NewReader(cfg *config.Config, queryFolder string) *Reader {
	return &Reader{cfg: cfg, queryFolder: queryFolder}
}

// Reports reads every report section in config order. Structural problems
// with the config file are returned as errors and abort the run.
func (r *Reader) Reports() ([]*report.Report, error) {
	logger := log.WithComponent("reader")

	if r.cfg.Reports.Kind == 0 {
		return nil, errors.New("reports is not in config")
	}
	if r.cfg.Reports.Kind != yaml.MappingNode {
		return nil, errors.New("reports is not a dict")
	}
	if r.cfg.Defaults.Kind != 0 && r.cfg.Defaults.Tag != "!!null" {
		if err := r.cfg.Defaults.Decode(&r.defaults); err != nil {
			return nil, errors.New("defaults is not a dict")
		}
	}

	var reports []*report.Report
	content := r.cfg.Reports.Content
	for i := 0; i+1 < len(content); i += 2 {
		key := content[i].Value
		logger.Debug().
			Str("event", "reader.report").
			Str("report", key).
			Msg("reading report")
		rep, err := r.buildReport(key, content[i+1])
		if err != nil {
			logger.Error().
				Str("event", "reader.invalid_report").
				Str("report", key).
				Err(err).
				Msg("report could not be read from config")
			continue
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

// section resolves report fields against the defaults section, the way
// every getter below expects: the report's own value wins, then the
// default, then the getter's fallback.
type section struct {
	fields   map[string]yaml.Node
	defaults map[string]yaml.Node
}

func (s *section) lookup(field string) (yaml.Node, bool) {
	if n, ok := s.fields[field]; ok {
		return n, true
	}
	if n, ok := s.defaults[field]; ok {
		return n, true
	}
	return yaml.Node{}, false
}

func isNull(n yaml.Node) bool {
	return n.Tag == "!!null"
}

func (r *Reader) buildReport(key string, node *yaml.Node) (*report.Report, error) {
	var fields map[string]yaml.Node
	if err := node.Decode(&fields); err != nil {
		return nil, errors.New("report config is not a dict")
	}
	s := &section{fields: fields, defaults: r.defaults}

	rep := &report.Report{Key: key}
	var err error
	if rep.Type, err = readType(s); err != nil {
		return nil, err
	}
	if rep.Granularity, err = readGranularity(s); err != nil {
		return nil, err
	}
	if rep.LagSeconds, err = readLag(s); err != nil {
		return nil, err
	}
	if rep.FirstDate, err = readStarts(s); err != nil {
		return nil, err
	}
	if rep.ExplodeBy, err = r.readExplodeBy(s); err != nil {
		return nil, err
	}
	if rep.MaxDataPoints, err = readMaxDataPoints(s); err != nil {
		return nil, err
	}
	if rep.Funnel, err = readFunnel(s); err != nil {
		return nil, err
	}
	if rep.Group, err = readGroup(s); err != nil {
		return nil, err
	}
	executable, err := readExecutable(s)
	if err != nil {
		return nil, err
	}
	if executable == "" {
		executable = key
	}
	switch rep.Type {
	case report.TypeSQL:
		if rep.DBKey, err = readDBKey(s); err != nil {
			return nil, err
		}
		if rep.SQLTemplate, err = r.readSQLTemplate(executable); err != nil {
			return nil, err
		}
	case report.TypeScript:
		if rep.Script, err = fsutil.Confine(r.queryFolder, executable); err != nil {
			return nil, errors.New("report execute is not valid")
		}
	}
	if rep.Graphite, err = readGraphite(s); err != nil {
		return nil, err
	}
	return rep, nil
}

func readType(s *section) (report.Type, error) {
	n, ok := s.lookup("type")
	if !ok {
		return report.TypeSQL, nil
	}
	var value string
	if err := n.Decode(&value); err != nil {
		return "", errors.New("report type is not valid")
	}
	t := report.Type(value)
	if t != report.TypeSQL && t != report.TypeScript {
		return "", errors.New("report type is not valid")
	}
	return t, nil
}

func readGranularity(s *section) (dates.Granularity, error) {
	n, ok := s.lookup("granularity")
	if !ok {
		return "", errors.New("key granularity must be specified in defaults or report config")
	}
	var value string
	if err := n.Decode(&value); err != nil {
		return "", errors.New("report granularity is not valid")
	}
	g := dates.Granularity(value)
	if !g.Valid() {
		return "", errors.New("report granularity is not valid")
	}
	return g, nil
}

func readLag(s *section) (int, error) {
	n, ok := s.lookup("lag")
	if !ok {
		return 0, nil
	}
	var lag int
	if isNull(n) || n.Decode(&lag) != nil || lag < 0 {
		return 0, errors.New("report lag is not valid")
	}
	return lag, nil
}

func readStarts(s *section) (time.Time, error) {
	n, ok := s.lookup("starts")
	if !ok {
		return time.Time{}, errors.New("key starts must be specified in defaults or report config")
	}
	if isNull(n) {
		return time.Time{}, errors.New("report starts is not a string")
	}
	// Unquoted dates arrive as yaml timestamps, quoted ones as strings.
	var asTime time.Time
	if err := n.Decode(&asTime); err == nil && !asTime.IsZero() {
		return dates.Day(asTime), nil
	}
	var asString string
	if err := n.Decode(&asString); err != nil {
		return time.Time{}, errors.New("report starts is not a string")
	}
	first, err := dates.Parse(asString)
	if err != nil {
		return time.Time{}, errors.New("report starts does not match date format")
	}
	return first, nil
}

func readDBKey(s *section) (string, error) {
	n, ok := s.lookup("db")
	if !ok {
		return "", errors.New("key db must be specified in defaults or report config")
	}
	var key string
	if isNull(n) || n.Decode(&key) != nil {
		return "", errors.New("db key is not a string")
	}
	return key, nil
}

func (r *Reader) readSQLTemplate(executable string) (string, error) {
	path, err := fsutil.Confine(r.queryFolder, executable+".sql")
	if err != nil {
		return "", fmt.Errorf("could not read the SQL template: %w", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("could not read the SQL template: %w", err)
	}
	return string(raw), nil
}

// readExplodeBy resolves each placeholder to its value list. A single
// value names a file in the query folder with one value per line; if no
// such file exists it is taken literally. Several comma-separated values
// are always literal.
func (r *Reader) readExplodeBy(s *section) (map[string][]string, error) {
	n, ok := s.lookup("explode_by")
	if !ok {
		return nil, nil
	}
	var raw map[string]string
	if isNull(n) || n.Decode(&raw) != nil {
		return nil, errors.New("report explode_by is not valid")
	}

	explodeBy := make(map[string][]string, len(raw))
	placeholders := make([]string, 0, len(raw))
	for placeholder := range raw {
		placeholders = append(placeholders, placeholder)
	}
	sort.Strings(placeholders)
	for _, placeholder := range placeholders {
		values := splitValues(raw[placeholder])
		if len(values) == 0 {
			return nil, errors.New("report explode_by is not valid")
		}
		if len(values) == 1 {
			if path, err := fsutil.Confine(r.queryFolder, values[0]); err == nil {
				if fromFile := readExplodeFile(path); len(fromFile) > 0 {
					values = fromFile
				}
			}
		}
		explodeBy[placeholder] = values
	}
	return explodeBy, nil
}

func splitValues(raw string) []string {
	var values []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}

func readExplodeFile(path string) []string {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var values []string
	for _, line := range strings.Split(string(raw), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			values = append(values, line)
		}
	}
	return values
}

func readMaxDataPoints(s *section) (int, error) {
	n, ok := s.lookup("max_data_points")
	if !ok || isNull(n) {
		return 0, nil
	}
	var points int
	if n.Decode(&points) != nil || points < 1 {
		return 0, errors.New("max data points is not valid")
	}
	return points, nil
}

func readExecutable(s *section) (string, error) {
	n, ok := s.lookup("execute")
	if !ok || isNull(n) {
		return "", nil
	}
	var executable string
	if err := n.Decode(&executable); err != nil {
		return "", errors.New("execute is not a string")
	}
	return executable, nil
}

func readFunnel(s *section) (bool, error) {
	n, ok := s.lookup("funnel")
	if !ok || isNull(n) {
		return false, nil
	}
	var funnel bool
	if err := n.Decode(&funnel); err != nil {
		return false, errors.New("report funnel is not valid")
	}
	return funnel, nil
}

func readGraphite(s *section) (report.GraphiteOptions, error) {
	n, ok := s.lookup("graphite")
	if !ok {
		return report.GraphiteOptions{}, nil
	}
	if isNull(n) || n.Kind != yaml.MappingNode {
		return report.GraphiteOptions{}, errors.New("graphite is not a dict")
	}
	var options report.GraphiteOptions
	if err := n.Decode(&options); err != nil {
		return report.GraphiteOptions{}, errors.New("graphite is not a dict")
	}
	return options, nil
}

func readGroup(s *section) (string, error) {
	n, ok := s.lookup("group")
	if !ok || isNull(n) {
		return "", nil
	}
	var group string
	if err := n.Decode(&group); err != nil {
		return "", errors.New("group is not a string")
	}
	return group, nil
}
