// SPDX-License-Identifier: MIT

// Package config reads the query repository's config.yaml. The file is
// owned by the query repo, not by this tool, so unknown keys are tolerated
// everywhere. Report sections are kept as raw YAML nodes: each one is
// validated individually by the pipeline reader, so one broken report
// cannot take the others down with it.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wikimedia/reportupdater/internal/fsutil"
)

// Config is the decoded config.yaml.
type Config struct {
	Databases map[string]*Database `yaml:"databases"`
	Defaults  yaml.Node            `yaml:"defaults"`
	Reports   yaml.Node            `yaml:"reports"`
	Graphite  *Graphite            `yaml:"graphite"`
}

// Database describes one connectable database. Host and Port may be left
// out when AutoFindShard is set; the connector then resolves them from the
// MediaWiki dblists and DNS.
type Database struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	CredsFile     string `yaml:"creds_file"`
	DB            string `yaml:"db"`
	AutoFindShard bool   `yaml:"auto_find_db_shard"`
	UseX1         bool   `yaml:"use_x1"`
	MWConfigPath  string `yaml:"mw_config_path"`
}

// Graphite is the top-level graphite section. Lookups maps a dimension name
// to a YAML file under the query folder; LoadLookups turns the file names
// into translation tables.
type Graphite struct {
	Host    string            `yaml:"host"`
	Port    int               `yaml:"port"`
	Lookups map[string]string `yaml:"lookups"`
}

// Load reads and decodes the config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read the config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse the config file: %w", err)
	}
	return &cfg, nil
}

// LoadLookups loads every lookup file referenced by the graphite section,
// relative to the query folder. A lookup file is a flat YAML map from a
// raw dimension value to the value to publish instead.
func LoadLookups(g *Graphite, queryFolder string) (map[string]map[string]string, error) {
	if g == nil || len(g.Lookups) == 0 {
		return nil, nil
	}
	lookups := make(map[string]map[string]string, len(g.Lookups))
	for dimension, file := range g.Lookups {
		path, err := fsutil.Confine(queryFolder, file)
		if err != nil {
			return nil, fmt.Errorf("cannot read the lookup file for %q: %w", dimension, err)
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read the lookup file for %q: %w", dimension, err)
		}
		table := map[string]string{}
		if err := yaml.Unmarshal(raw, &table); err != nil {
			return nil, fmt.Errorf("cannot parse the lookup file for %q: %w", dimension, err)
		}
		lookups[dimension] = table
	}
	return lookups, nil
}
