// Copyright 2015 The Chihaya Authors. All rights reserved.
// Use of this source code is governed by the BSD 2-Clause license,
// which can be found in the LICENSE file.

// Package memory implements a backend driver that keeps everything in
// process memory. It backs public trackers that persist nothing, and the
// test suites.
package memory

import (
	"sync"

	"github.com/majestrate/shoal/backend"
	"github.com/majestrate/shoal/config"
	"github.com/majestrate/shoal/tracker/models"
)

type driver struct{}

func (d driver) New(_ *config.DriverConfig) (backend.Conn, error) {
	return &Conn{
		snatches:  make(map[models.InfoHash]uint64),
		keys:      make(map[string]models.AuthKey),
		whitelist: make(map[models.InfoHash]struct{}),
	}, nil
}

// Conn implements backend.Conn on top of three mutex-guarded maps.
type Conn struct {
	mu        sync.RWMutex
	snatches  map[models.InfoHash]uint64
	keys      map[string]models.AuthKey
	whitelist map[models.InfoHash]struct{}
}

func (c *Conn) LoadSnatches() (map[models.InfoHash]uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[models.InfoHash]uint64, len(c.snatches))
	for ih, n := range c.snatches {
		out[ih] = n
	}
	return out, nil
}

func (c *Conn) SaveSnatches(ih models.InfoHash, completed uint64) error {
	c.mu.Lock()
	c.snatches[ih] = completed
	c.mu.Unlock()
	return nil
}

func (c *Conn) LoadKeys() ([]models.AuthKey, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.AuthKey, 0, len(c.keys))
	for _, k := range c.keys {
		out = append(out, k)
	}
	return out, nil
}

func (c *Conn) AddKey(key models.AuthKey) error {
	c.mu.Lock()
	c.keys[key.Key] = key
	c.mu.Unlock()
	return nil
}

func (c *Conn) DeleteKey(key string) error {
	c.mu.Lock()
	delete(c.keys, key)
	c.mu.Unlock()
	return nil
}

func (c *Conn) LoadWhitelist() ([]models.InfoHash, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.InfoHash, 0, len(c.whitelist))
	for ih := range c.whitelist {
		out = append(out, ih)
	}
	return out, nil
}

func (c *Conn) AddWhitelist(ih models.InfoHash) error {
	c.mu.Lock()
	c.whitelist[ih] = struct{}{}
	c.mu.Unlock()
	return nil
}

func (c *Conn) DeleteWhitelist(ih models.InfoHash) error {
	c.mu.Lock()
	delete(c.whitelist, ih)
	c.mu.Unlock()
	return nil
}

func (c *Conn) Ping() error { return nil }

func (c *Conn) Close() error { return nil }

func init() {
	backend.Register("memory", driver{})
}
