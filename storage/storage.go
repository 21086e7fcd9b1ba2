// Copyright 2015 The Chihaya Authors. All rights reserved.
// Use of this source code is governed by the BSD 2-Clause license,
// which can be found in the LICENSE file.

// Package storage implements the in-memory swarm state of a BitTorrent
// tracker: a sharded map from infohash to the torrent's peer table and
// snatch counter.
package storage

import (
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/majestrate/shoal/tracker/models"
)

// torrent is one swarm entry. It is only touched while the owning shard's
// lock is held.
type torrent struct {
	peers    map[models.PeerID]models.Peer
	snatches uint64
}

func (t *torrent) stats() models.SwarmStats {
	s := models.SwarmStats{Downloaded: t.snatches}
	for id := range t.peers {
		p := t.peers[id]
		if p.Seeding() {
			s.Complete++
		} else {
			s.Incomplete++
		}
	}
	return s
}

type shard struct {
	torrents map[models.InfoHash]*torrent
	sync.RWMutex
}

// Metrics is an aggregate snapshot across every swarm. Each entry is
// internally consistent but the totals are not globally atomic.
type Metrics struct {
	Torrents   uint64 `json:"torrents"`
	Complete   uint64 `json:"complete"`
	Incomplete uint64 `json:"incomplete"`
	Downloaded uint64 `json:"downloaded"`
}

// Repository is the single source of truth for peer presence per torrent.
// Writes to the same infohash are serialized by its shard lock; writes to
// infohashes on distinct shards proceed in parallel.
type Repository struct {
	shards []*shard
}

// New creates a Repository with the given number of shards. Counts that
// are not positive fall back to a single shard.
func New(shardCount int) *Repository {
	if shardCount < 1 {
		shardCount = 1
	}
	r := &Repository{shards: make([]*shard, shardCount)}
	for i := range r.shards {
		r.shards[i] = &shard{torrents: make(map[models.InfoHash]*torrent)}
	}
	return r
}

func (r *Repository) shardFor(ih models.InfoHash) *shard {
	idx := binary.BigEndian.Uint32(ih[:4]) % uint32(len(r.shards))
	return r.shards[idx]
}

// UpsertPeer applies one announce to the swarm of ih, creating the swarm
// if it does not exist. It returns true when the mutation changed the
// snatch count, i.e. when persistence needs updating.
func (r *Repository) UpsertPeer(ih models.InfoHash, peer models.Peer) (snatched bool) {
	snatched, _ = r.upsert(ih, peer, false)
	return snatched
}

// UpsertPeerAndGetStats is UpsertPeer plus the swarm stats derived after
// the mutation, read under the same lock.
func (r *Repository) UpsertPeerAndGetStats(ih models.InfoHash, peer models.Peer) (snatched bool, stats models.SwarmStats) {
	return r.upsert(ih, peer, true)
}

func (r *Repository) upsert(ih models.InfoHash, peer models.Peer, wantStats bool) (snatched bool, stats models.SwarmStats) {
	s := r.shardFor(ih)
	s.Lock()
	defer s.Unlock()

	t, ok := s.torrents[ih]
	if !ok {
		t = &torrent{peers: make(map[models.PeerID]models.Peer)}
		s.torrents[ih] = t
	}

	switch {
	case peer.Event == models.EventStopped:
		delete(t.peers, peer.ID)

	case peer.Event == models.EventCompleted:
		prev, had := t.peers[peer.ID]
		if had && prev.Event != models.EventCompleted {
			t.snatches++
			snatched = true
		}
		t.peers[peer.ID] = peer

	default:
		t.peers[peer.ID] = peer
	}

	if wantStats {
		stats = t.stats()
	}
	return snatched, stats
}

// Stats returns the swarm stats for ih, zero valued when the swarm does
// not exist.
func (r *Repository) Stats(ih models.InfoHash) models.SwarmStats {
	s := r.shardFor(ih)
	s.RLock()
	defer s.RUnlock()

	if t, ok := s.torrents[ih]; ok {
		return t.stats()
	}
	return models.SwarmStats{}
}

// SamplePeers returns up to limit peers of the swarm whose endpoint
// differs from (excludeIP, excludePort). The records are copied out while
// the shard lock is held; ordering follows map iteration.
func (r *Repository) SamplePeers(ih models.InfoHash, excludeIP net.IP, excludePort uint16, limit int) models.PeerList {
	if limit > models.MaxNumWant {
		limit = models.MaxNumWant
	}
	s := r.shardFor(ih)
	s.RLock()
	defer s.RUnlock()

	t, ok := s.torrents[ih]
	if !ok || limit <= 0 {
		return nil
	}

	peers := make(models.PeerList, 0, limit)
	for id := range t.peers {
		if len(peers) >= limit {
			break
		}
		p := t.peers[id]
		if p.EndpointEquals(excludeIP, excludePort) {
			continue
		}
		peers = append(peers, p)
	}
	return peers
}

// Metrics aggregates swarm stats over all shards.
func (r *Repository) Metrics() (m Metrics) {
	for _, s := range r.shards {
		s.RLock()
		for _, t := range s.torrents {
			st := t.stats()
			m.Torrents++
			m.Complete += uint64(st.Complete)
			m.Incomplete += uint64(st.Incomplete)
			m.Downloaded += st.Downloaded
		}
		s.RUnlock()
	}
	return m
}

// RemoveInactivePeers drops every peer whose last announce is not after
// the cutoff.
func (r *Repository) RemoveInactivePeers(cutoff time.Time) (reaped int) {
	unix := cutoff.Unix()
	for _, s := range r.shards {
		s.Lock()
		for _, t := range s.torrents {
			for id := range t.peers {
				if t.peers[id].LastAnnounce <= unix {
					delete(t.peers, id)
					reaped++
				}
			}
		}
		s.Unlock()
	}
	return reaped
}

// RemovePeerlessTorrents drops swarms with an empty peer table. When
// keepWithSnatches is set, swarms with a nonzero snatch count survive so
// the persisted completed stat is not lost.
func (r *Repository) RemovePeerlessTorrents(keepWithSnatches bool) (removed int) {
	for _, s := range r.shards {
		s.Lock()
		for ih, t := range s.torrents {
			if len(t.peers) > 0 {
				continue
			}
			if keepWithSnatches && t.snatches > 0 {
				continue
			}
			delete(s.torrents, ih)
			removed++
		}
		s.Unlock()
	}
	return removed
}

// ImportPersistent seeds snatch counters from persistence at startup. No
// peer records are created.
func (r *Repository) ImportPersistent(counts map[models.InfoHash]uint64) {
	for ih, n := range counts {
		s := r.shardFor(ih)
		s.Lock()
		t, ok := s.torrents[ih]
		if !ok {
			t = &torrent{peers: make(map[models.PeerID]models.Peer)}
			s.torrents[ih] = t
		}
		t.snatches = n
		s.Unlock()
	}
}
