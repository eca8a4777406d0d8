// SPDX-License-Identifier: MIT

// Package graphite pushes report values to a Graphite server over its
// plaintext protocol: one "path value timestamp" line per metric.
package graphite

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wikimedia/reportupdater/internal/config"
	"github.com/wikimedia/reportupdater/internal/format"
	"github.com/wikimedia/reportupdater/internal/log"
	"github.com/wikimedia/reportupdater/internal/report"
)

const dialTimeout = 10 * time.Second

// Client sends metric lines to a single Graphite endpoint. Lookups
// translate explode values (wiki db names and the like) into friendlier
// path segments.
type Client struct {
	addr    string
	lookups map[string]map[string]string
	timeout time.Duration
}

// New builds a Client from the top-level graphite config. The lookups
// come already loaded from their yaml files.
func New(cfg *config.Graphite, lookups map[string]map[string]string) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("graphite host must be a string")
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("graphite port must be an int")
	}
	return &Client{
		addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		lookups: lookups,
		timeout: dialTimeout,
	}, nil
}

// RecordRow sends one line per configured metric for the given result row.
// Reports without graphite config are a no-op.
func (c *Client) RecordRow(rep *report.Report, row report.Row) error {
	if len(rep.Graphite.Metrics) == 0 {
		return nil
	}

	date, ok := row[0].(time.Time)
	if !ok {
		return fmt.Errorf("row has no date in its first column: %v", row)
	}
	header := rep.Results.Header

	for _, metric := range sortedKeys(rep.Graphite.Metrics) {
		values := make(map[string]string, len(rep.ExplodeValues)+len(header)+1)
		for dim, value := range rep.ExplodeValues {
			if lookup, ok := c.lookups[dim]; ok {
				if friendly, ok := lookup[value]; ok {
					value = friendly
				}
			}
			values[dim] = value
		}
		for i, label := range header {
			if i < len(row) {
				values[label] = report.FormatCell(row[i])
			}
		}
		values["_metric"] = metric

		path, err := format.Expand(rep.Graphite.Path, values)
		if err != nil {
			return fmt.Errorf("invalid format %q with %v", rep.Graphite.Path, values)
		}

		column := rep.Graphite.Metrics[metric]
		index := -1
		for i, label := range header {
			if label == column {
				index = i
				break
			}
		}
		if index < 0 || index >= len(row) {
			return fmt.Errorf("could not find %s in %v with header %v", metric, row, header)
		}

		if err := c.record(path, report.FormatCell(row[index]), date.Unix()); err != nil {
			return err
		}
	}
	return nil
}

// record writes a single plaintext line over a fresh connection.
func (c *Client) record(metric, value string, timestamp int64) error {
	if strings.ContainsAny(metric, ` "`) {
		return fmt.Errorf("invalid metric name %q", metric)
	}

	conn, err := net.DialTimeout("tcp", c.addr, c.timeout)
	if err != nil {
		return fmt.Errorf("could not connect to graphite: %w", err)
	}
	defer conn.Close()
	if err := conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return fmt.Errorf("could not send to graphite: %w", err)
	}
	if _, err := fmt.Fprintf(conn, "%s %s %d\n", metric, value, timestamp); err != nil {
		return fmt.Errorf("could not send to graphite: %w", err)
	}
	logger := log.WithComponent("graphite")
	logger.Debug().
		Str("event", "graphite.recorded").
		Str("metric", metric).
		Str("value", value).
		Int64("timestamp", timestamp).
		Msg("metric recorded")
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
