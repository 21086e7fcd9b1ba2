// Copyright 2015 The Chihaya Authors. All rights reserved.
// Use of this source code is governed by the BSD 2-Clause license,
// which can be found in the LICENSE file.

// Package sqlbase implements backend.Conn on top of database/sql. The
// SQL drivers differ only in their DSN handling and statement dialect,
// which they supply through a Dialect value.
package sqlbase

import (
	"database/sql"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/majestrate/shoal/tracker/models"
)

// Dialect carries the statements of one SQL flavor. Infohashes are stored
// as 40-character hex, keys as their 32-character text form.
type Dialect struct {
	// Schema holds CREATE TABLE IF NOT EXISTS statements for the
	// torrents, keys and whitelist tables, run in order on open.
	Schema []string

	LoadSnatches string
	SaveSnatches string

	LoadKeys  string
	AddKey    string
	DeleteKey string

	LoadWhitelist   string
	AddWhitelist    string
	DeleteWhitelist string
}

// Conn is a live connection to a SQL store.
type Conn struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects, verifies reachability, and bootstraps the schema.
func Open(driverName, dsn string, dialect Dialect) (*Conn, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: open failed", driverName)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "%s: ping failed", driverName)
	}
	for _, stmt := range dialect.Schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "%s: schema bootstrap failed", driverName)
		}
	}
	glog.V(1).Infof("%s backend ready", driverName)
	return &Conn{db: db, dialect: dialect}, nil
}

func (c *Conn) LoadSnatches() (map[models.InfoHash]uint64, error) {
	rows, err := c.db.Query(c.dialect.LoadSnatches)
	if err != nil {
		return nil, errors.Wrap(err, "load snatches")
	}
	defer rows.Close()

	out := make(map[models.InfoHash]uint64)
	for rows.Next() {
		var hexhash string
		var completed uint64
		if err := rows.Scan(&hexhash, &completed); err != nil {
			return nil, errors.Wrap(err, "scan snatches")
		}
		ih, err := models.InfoHashFromHex(hexhash)
		if err != nil {
			glog.Errorf("skipping malformed infohash row %q", hexhash)
			continue
		}
		out[ih] = completed
	}
	return out, rows.Err()
}

func (c *Conn) SaveSnatches(ih models.InfoHash, completed uint64) error {
	_, err := c.db.Exec(c.dialect.SaveSnatches, ih.String(), completed)
	return errors.Wrap(err, "save snatches")
}

func (c *Conn) LoadKeys() ([]models.AuthKey, error) {
	rows, err := c.db.Query(c.dialect.LoadKeys)
	if err != nil {
		return nil, errors.Wrap(err, "load keys")
	}
	defer rows.Close()

	var out []models.AuthKey
	for rows.Next() {
		var k models.AuthKey
		if err := rows.Scan(&k.Key, &k.ValidUntil); err != nil {
			return nil, errors.Wrap(err, "scan keys")
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (c *Conn) AddKey(key models.AuthKey) error {
	_, err := c.db.Exec(c.dialect.AddKey, key.Key, key.ValidUntil)
	return errors.Wrap(err, "add key")
}

func (c *Conn) DeleteKey(key string) error {
	_, err := c.db.Exec(c.dialect.DeleteKey, key)
	return errors.Wrap(err, "delete key")
}

func (c *Conn) LoadWhitelist() ([]models.InfoHash, error) {
	rows, err := c.db.Query(c.dialect.LoadWhitelist)
	if err != nil {
		return nil, errors.Wrap(err, "load whitelist")
	}
	defer rows.Close()

	var out []models.InfoHash
	for rows.Next() {
		var hexhash string
		if err := rows.Scan(&hexhash); err != nil {
			return nil, errors.Wrap(err, "scan whitelist")
		}
		ih, err := models.InfoHashFromHex(hexhash)
		if err != nil {
			glog.Errorf("skipping malformed whitelist row %q", hexhash)
			continue
		}
		out = append(out, ih)
	}
	return out, rows.Err()
}

func (c *Conn) AddWhitelist(ih models.InfoHash) error {
	_, err := c.db.Exec(c.dialect.AddWhitelist, ih.String())
	return errors.Wrap(err, "add whitelist")
}

func (c *Conn) DeleteWhitelist(ih models.InfoHash) error {
	_, err := c.db.Exec(c.dialect.DeleteWhitelist, ih.String())
	return errors.Wrap(err, "delete whitelist")
}

func (c *Conn) Ping() error { return c.db.Ping() }

func (c *Conn) Close() error { return c.db.Close() }
