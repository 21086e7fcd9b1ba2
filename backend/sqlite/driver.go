// Copyright 2015 The Chihaya Authors. All rights reserved.
// Use of this source code is governed by the BSD 2-Clause license,
// which can be found in the LICENSE file.

// Package sqlite implements the tracker's persistence using sqlite3.
package sqlite

import (
	_ "github.com/mattn/go-sqlite3"

	"github.com/majestrate/shoal/backend"
	"github.com/majestrate/shoal/backend/sqlbase"
	"github.com/majestrate/shoal/config"
)

var dialect = sqlbase.Dialect{
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS torrents (
			info_hash VARCHAR(40) PRIMARY KEY,
			completed INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS keys (
			key VARCHAR(32) PRIMARY KEY,
			valid_until INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS whitelist (
			info_hash VARCHAR(40) PRIMARY KEY
		)`,
	},

	LoadSnatches: `SELECT info_hash, completed FROM torrents`,
	SaveSnatches: `INSERT INTO torrents (info_hash, completed) VALUES (?, ?)
		ON CONFLICT(info_hash) DO UPDATE SET completed = excluded.completed`,

	LoadKeys: `SELECT key, valid_until FROM keys`,
	AddKey: `INSERT INTO keys (key, valid_until) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET valid_until = excluded.valid_until`,
	DeleteKey: `DELETE FROM keys WHERE key = ?`,

	LoadWhitelist:   `SELECT info_hash FROM whitelist`,
	AddWhitelist:    `INSERT OR IGNORE INTO whitelist (info_hash) VALUES (?)`,
	DeleteWhitelist: `DELETE FROM whitelist WHERE info_hash = ?`,
}

type driver struct{}

func (d driver) New(cfg *config.DriverConfig) (backend.Conn, error) {
	return sqlbase.Open("sqlite3", cfg.Path, dialect)
}

func init() {
	backend.Register("Sqlite3", driver{})
}
