// SPDX-License-Identifier: MIT

// Package mediawiki resolves a wiki database name to the analytics replica
// serving its shard. The shard comes from the dblist files of a
// mediawiki-config checkout, the replica from a DNS SRV record of the form
// _<shard>-analytics._tcp.eqiad.wmnet.
package mediawiki

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/wikimedia/reportupdater/internal/config"
)

const (
	defaultMWConfigPath = "/srv/mediawiki-config"
	srvDomain           = "eqiad.wmnet"
)

// Resolver maps database names to replica host/port pairs. The dblist
// mapping is read once per mediawiki-config path and reused for the whole
// run.
type Resolver struct {
	lookupSRV func(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)

	mu       sync.Mutex
	mappings map[string]map[string]string
}

// NewResolver returns a Resolver using the system DNS resolver.
func NewResolver() *Resolver {
	return &Resolver{
		lookupSRV: net.DefaultResolver.LookupSRV,
		mappings:  make(map[string]map[string]string),
	}
}

// HostPort resolves the analytics replica for dbName.
func (r *Resolver) HostPort(ctx context.Context, dbCfg *config.Database, dbName string) (string, int, error) {
	mwConfigPath := dbCfg.MWConfigPath
	if mwConfigPath == "" {
		mwConfigPath = defaultMWConfigPath
	}

	mapping, err := r.mapping(mwConfigPath, dbCfg.UseX1)
	if err != nil {
		return "", 0, err
	}
	if len(mapping) == 0 {
		return "", 0, fmt.Errorf("no database mapping found at %s, is the mediawiki-config path configured correctly", mwConfigPath)
	}

	var shard string
	switch {
	case dbName == "staging":
		shard = "staging"
	case dbName == "centralauth":
		// centralauth is not listed in the dblists; parsing db-eqiad.php
		// for it would cost more than this special case.
		shard = "s7"
	case dbCfg.UseX1:
		shard = "x1"
	default:
		shard, err = lookupShard(mapping, dbName)
		if err != nil {
			return "", 0, err
		}
	}

	_, records, err := r.lookupSRV(ctx, shard+"-analytics", "tcp", srvDomain)
	if err != nil {
		return "", 0, fmt.Errorf("cannot resolve replica for shard %s: %w", shard, err)
	}
	if len(records) == 0 {
		return "", 0, fmt.Errorf("no replica records for shard %s", shard)
	}
	host := strings.TrimSuffix(records[0].Target, ".")
	return host, int(records[0].Port), nil
}

func lookupShard(mapping map[string]string, dbName string) (string, error) {
	shard, ok := mapping[dbName]
	if !ok {
		return "", fmt.Errorf("the database %s is not listed among the dblist files of the supported sections", dbName)
	}
	return shard, nil
}

func (r *Resolver) mapping(mwConfigPath string, useX1 bool) (map[string]string, error) {
	cacheKey := mwConfigPath
	if useX1 {
		cacheKey += "|x1"
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.mappings[cacheKey]; ok {
		return m, nil
	}

	var paths []string
	if useX1 {
		paths = []string{filepath.Join(mwConfigPath, "dblists", "all.dblist")}
	} else {
		var err error
		paths, err = filepath.Glob(filepath.Join(mwConfigPath, "dblists", "s[0-9]*.dblist"))
		if err != nil {
			return nil, err
		}
	}

	mapping := make(map[string]string)
	for _, path := range paths {
		section := strings.TrimSuffix(filepath.Base(path), ".dblist")
		if err := readDBList(path, section, mapping); err != nil {
			return nil, err
		}
	}
	r.mappings[cacheKey] = mapping
	return mapping, nil
}

func readDBList(path, section string, mapping map[string]string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cannot read dblist %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		db := strings.TrimSpace(scanner.Text())
		if db == "" {
			continue
		}
		mapping[db] = section
	}
	return scanner.Err()
}
