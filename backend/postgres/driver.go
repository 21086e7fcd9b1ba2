// Copyright 2015 The Chihaya Authors. All rights reserved.
// Use of this source code is governed by the BSD 2-Clause license,
// which can be found in the LICENSE file.

// Package postgres implements the tracker's persistence using PostgreSQL.
package postgres

import (
	_ "github.com/lib/pq"

	"github.com/majestrate/shoal/backend"
	"github.com/majestrate/shoal/backend/sqlbase"
	"github.com/majestrate/shoal/config"
)

var dialect = sqlbase.Dialect{
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS torrents (
			info_hash VARCHAR(40) PRIMARY KEY,
			completed BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS keys (
			key VARCHAR(32) PRIMARY KEY,
			valid_until BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS whitelist (
			info_hash VARCHAR(40) PRIMARY KEY
		)`,
	},

	LoadSnatches: `SELECT info_hash, completed FROM torrents`,
	SaveSnatches: `INSERT INTO torrents (info_hash, completed) VALUES ($1, $2)
		ON CONFLICT (info_hash) DO UPDATE SET completed = EXCLUDED.completed`,

	LoadKeys: `SELECT key, valid_until FROM keys`,
	AddKey: `INSERT INTO keys (key, valid_until) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET valid_until = EXCLUDED.valid_until`,
	DeleteKey: `DELETE FROM keys WHERE key = $1`,

	LoadWhitelist:   `SELECT info_hash FROM whitelist`,
	AddWhitelist:    `INSERT INTO whitelist (info_hash) VALUES ($1) ON CONFLICT DO NOTHING`,
	DeleteWhitelist: `DELETE FROM whitelist WHERE info_hash = $1`,
}

type driver struct{}

func (d driver) New(cfg *config.DriverConfig) (backend.Conn, error) {
	return sqlbase.Open("postgres", cfg.Path, dialect)
}

func init() {
	backend.Register("Postgres", driver{})
}
