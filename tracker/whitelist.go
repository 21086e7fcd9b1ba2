// Copyright 2015 The Chihaya Authors. All rights reserved.
// Use of this source code is governed by the BSD 2-Clause license,
// which can be found in the LICENSE file.

package tracker

import (
	"sync"

	"github.com/majestrate/shoal/backend"
	"github.com/majestrate/shoal/tracker/models"
)

// Whitelist mirrors the persisted set of approved infohashes in memory.
// Edits write through; Contains never touches persistence.
type Whitelist struct {
	mu   sync.RWMutex
	set  map[models.InfoHash]struct{}
	conn backend.Conn
}

// NewWhitelist creates an empty whitelist writing through to conn.
func NewWhitelist(conn backend.Conn) *Whitelist {
	return &Whitelist{
		set:  make(map[models.InfoHash]struct{}),
		conn: conn,
	}
}

// Add approves an infohash.
func (w *Whitelist) Add(ih models.InfoHash) error {
	if err := w.conn.AddWhitelist(ih); err != nil {
		return err
	}
	w.mu.Lock()
	w.set[ih] = struct{}{}
	w.mu.Unlock()
	return nil
}

// Remove revokes an infohash's approval.
func (w *Whitelist) Remove(ih models.InfoHash) error {
	if err := w.conn.DeleteWhitelist(ih); err != nil {
		return err
	}
	w.mu.Lock()
	delete(w.set, ih)
	w.mu.Unlock()
	return nil
}

// Contains reports whether an infohash is approved.
func (w *Whitelist) Contains(ih models.InfoHash) bool {
	w.mu.RLock()
	_, ok := w.set[ih]
	w.mu.RUnlock()
	return ok
}

// LoadAll replaces the in-memory set with the persisted whitelist.
func (w *Whitelist) LoadAll() error {
	hashes, err := w.conn.LoadWhitelist()
	if err != nil {
		return err
	}

	fresh := make(map[models.InfoHash]struct{}, len(hashes))
	for _, ih := range hashes {
		fresh[ih] = struct{}{}
	}

	w.mu.Lock()
	w.set = fresh
	w.mu.Unlock()
	return nil
}
