// SPDX-License-Identifier: MIT

// Package db opens and caches the database connections the executor runs
// report queries on. Each database key in the config gets at most one pool
// per run, created on first use.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/go-sql-driver/mysql"

	"github.com/wikimedia/reportupdater/internal/config"
	"github.com/wikimedia/reportupdater/internal/log"
	"github.com/wikimedia/reportupdater/internal/mediawiki"
)

// Connector hands out one *sql.DB per database key, resolving hosts through
// the MediaWiki dblists when the config asks for it.
type Connector struct {
	mu       sync.Mutex
	pools    map[string]*sql.DB
	resolver *mediawiki.Resolver
}

// NewConnector returns an empty connection cache.
func NewConnector() *Connector {
	return &Connector{
		pools:    make(map[string]*sql.DB),
		resolver: mediawiki.NewResolver(),
	}
}

// Get returns the pool for the given database key, connecting on first use.
func (c *Connector) Get(ctx context.Context, key string, databases map[string]*config.Database) (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pool, ok := c.pools[key]; ok {
		return pool, nil
	}

	dbCfg, ok := databases[key]
	if !ok {
		return nil, fmt.Errorf("db key %q is not in config databases", key)
	}
	pool, err := c.connect(ctx, dbCfg)
	if err != nil {
		return nil, err
	}
	c.pools[key] = pool
	return pool, nil
}

func (c *Connector) connect(ctx context.Context, dbCfg *config.Database) (*sql.DB, error) {
	if dbCfg.CredsFile == "" {
		return nil, fmt.Errorf("creds file is not in db config")
	}
	if dbCfg.DB == "" {
		return nil, fmt.Errorf("db name is not in db config")
	}

	host, port := dbCfg.Host, dbCfg.Port
	if dbCfg.AutoFindShard {
		var err error
		host, port, err = c.resolver.HostPort(ctx, dbCfg, dbCfg.DB)
		if err != nil {
			return nil, fmt.Errorf("cannot find db shard: %w", err)
		}
		logger := log.WithComponent("db")
		logger.Debug().
			Str("event", "db.shard_resolved").
			Str("db", dbCfg.DB).
			Str("host", host).
			Int("port", port).
			Msg("resolved analytics replica")
	} else {
		if host == "" {
			return nil, fmt.Errorf("host is not in db config")
		}
		if port == 0 {
			return nil, fmt.Errorf("port is not in db config")
		}
	}

	creds, err := ReadCredentials(dbCfg.CredsFile)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to database: %w", err)
	}

	cfg := mysql.NewConfig()
	cfg.User = creds.User
	cfg.Passwd = creds.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	cfg.DBName = dbCfg.DB
	cfg.ParseTime = true
	cfg.Params = map[string]string{"charset": "utf8"}

	pool, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("cannot connect to database: %w", err)
	}
	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("cannot connect to database: %w", err)
	}
	return pool, nil
}

// Close closes every cached pool. Used at the end of a run.
func (c *Connector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	logger := log.WithComponent("db")
	for key, pool := range c.pools {
		if err := pool.Close(); err != nil {
			logger.Warn().
				Str("event", "db.close_error").
				Str("db_key", key).
				Err(err).
				Msg("closing connection failed")
		}
		delete(c.pools, key)
	}
}
