// Copyright 2015 The Chihaya Authors. All rights reserved.
// Use of this source code is governed by the BSD 2-Clause license,
// which can be found in the LICENSE file.

// Package tracker provides a generic interface for manipulating a
// BitTorrent tracker's fast-moving data.
package tracker

import (
	"time"

	"github.com/golang/glog"

	"github.com/majestrate/shoal/backend"
	"github.com/majestrate/shoal/clock"
	"github.com/majestrate/shoal/config"
	"github.com/majestrate/shoal/storage"
	"github.com/majestrate/shoal/tracker/models"
)

// Tracker represents the domain of the tracker: it composes the swarm
// repository, the auth key and whitelist services, and the persistent
// backend behind the announce and scrape operations.
type Tracker struct {
	Config  *config.Config
	Repo    *storage.Repository
	Backend backend.Conn

	Keys      *KeyCache
	Whitelist *Whitelist

	reaperQuit chan struct{}
	reaperDone chan struct{}
}

// New creates a new Tracker, loads persisted state, and starts the
// cleanup loop.
func New(cfg *config.Config) (*Tracker, error) {
	conn, err := backend.Open(&cfg.DriverConfig)
	if err != nil {
		return nil, err
	}

	tkr := &Tracker{
		Config:     cfg,
		Repo:       storage.New(cfg.TorrentMapShards),
		Backend:    conn,
		Keys:       NewKeyCache(conn),
		Whitelist:  NewWhitelist(conn),
		reaperQuit: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}

	if cfg.PersistentTorrentCompletedStat {
		snatches, err := conn.LoadSnatches()
		if err != nil {
			conn.Close()
			return nil, err
		}
		tkr.Repo.ImportPersistent(snatches)
		glog.V(1).Infof("Imported snatch counts for %d torrents", len(snatches))
	}

	if cfg.Mode.RequiresAuth() {
		if err := tkr.Keys.LoadAll(); err != nil {
			conn.Close()
			return nil, err
		}
	}

	if cfg.Mode.RequiresWhitelist() {
		if err := tkr.Whitelist.LoadAll(); err != nil {
			conn.Close()
			return nil, err
		}
	}

	go tkr.reap()

	return tkr, nil
}

// Close gracefully shuts down the tracker by stopping the cleanup loop
// and closing the backend connection.
func (tkr *Tracker) Close() error {
	close(tkr.reaperQuit)
	<-tkr.reaperDone
	return tkr.Backend.Close()
}

// Authorize checks that the tracker serves the given torrent. It always
// succeeds unless the operating mode requires the whitelist.
func (tkr *Tracker) Authorize(ih models.InfoHash) error {
	if !tkr.Config.Mode.RequiresWhitelist() {
		return nil
	}
	if tkr.Whitelist.Contains(ih) {
		return nil
	}
	return models.ErrTorrentUnapproved
}

// Authenticate checks the auth key of a request. It always succeeds
// unless the operating mode requires authentication.
func (tkr *Tracker) Authenticate(key string) error {
	if !tkr.Config.Mode.RequiresAuth() {
		return nil
	}
	if key == "" {
		return models.ErrAuthRequired
	}
	return tkr.Keys.Verify(key, clock.Now())
}

// Writer serializes a tracker's responses to be transmitted over an
// arbitrary protocol.
type Writer interface {
	WriteError(err error) error
	WriteAnnounce(*models.AnnounceResponse) error
	WriteScrape(*models.ScrapeResponse) error
}

// reap is the cleanup loop. Every InactivePeerCleanupInterval seconds it
// evicts peers that have not announced within MaxPeerTimeout, then prunes
// peerless swarms when the config calls for it.
func (tkr *Tracker) reap() {
	defer close(tkr.reaperDone)

	interval := time.Duration(tkr.Config.InactivePeerCleanupInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-tkr.reaperQuit:
			return
		case <-ticker.C:
			tkr.Cleanup()
		}
	}
}

// Cleanup performs one pass of the eviction policy.
func (tkr *Tracker) Cleanup() {
	cutoff := clock.Now().Add(-time.Duration(tkr.Config.MaxPeerTimeout) * time.Second)
	reaped := tkr.Repo.RemoveInactivePeers(cutoff)

	removed := 0
	if tkr.Config.RemovePeerlessTorrents {
		removed = tkr.Repo.RemovePeerlessTorrents(tkr.Config.PersistentTorrentCompletedStat)
	}

	if reaped > 0 || removed > 0 {
		glog.V(1).Infof("Reaped %d inactive peers, removed %d peerless torrents", reaped, removed)
	}
}
