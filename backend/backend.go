// Copyright 2015 The Chihaya Authors. All rights reserved.
// Use of this source code is governed by the BSD 2-Clause license,
// which can be found in the LICENSE file.

// Package backend provides a generic interface for manipulating the
// tracker's persistent state: snatch counts per torrent, auth keys, and
// the torrent whitelist.
package backend

import (
	"github.com/pkg/errors"

	"github.com/majestrate/shoal/config"
	"github.com/majestrate/shoal/tracker/models"
)

var drivers = make(map[string]Driver)

// Driver represents an interface to a long-running connection with a
// persistent store.
type Driver interface {
	New(*config.DriverConfig) (Conn, error)
}

// Register makes a database driver available by the provided name.
//
// If Register is called twice with the same name or if driver is nil,
// it panics.
func Register(name string, driver Driver) {
	if driver == nil {
		panic("backend: Register driver is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("backend: Register called twice for driver " + name)
	}
	drivers[name] = driver
}

// Open creates a connection specified by a configuration.
func Open(cfg *config.DriverConfig) (Conn, error) {
	driver, ok := drivers[cfg.Name]
	if !ok {
		return nil, errors.Errorf("backend: unknown driver %q (forgotten import?)", cfg.Name)
	}
	return driver.New(cfg)
}

// Conn is a connection to the persistent store. Implementations must be
// safe for concurrent use.
type Conn interface {
	// LoadSnatches reads the completed-download count of every torrent.
	LoadSnatches() (map[models.InfoHash]uint64, error)

	// SaveSnatches writes the completed-download count of one torrent.
	SaveSnatches(ih models.InfoHash, completed uint64) error

	// LoadKeys reads every stored auth key.
	LoadKeys() ([]models.AuthKey, error)

	// AddKey stores an auth key, replacing any previous row.
	AddKey(key models.AuthKey) error

	// DeleteKey removes an auth key.
	DeleteKey(key string) error

	// LoadWhitelist reads every whitelisted infohash.
	LoadWhitelist() ([]models.InfoHash, error)

	// AddWhitelist stores a whitelisted infohash.
	AddWhitelist(ih models.InfoHash) error

	// DeleteWhitelist removes a whitelisted infohash.
	DeleteWhitelist(ih models.InfoHash) error

	// Ping checks that the store is reachable.
	Ping() error

	Close() error
}
