// Copyright 2015 The Chihaya Authors. All rights reserved.
// Use of this source code is governed by the BSD 2-Clause license,
// which can be found in the LICENSE file.

package tracker

import (
	"net"

	"github.com/golang/glog"

	"github.com/majestrate/shoal/clock"
	"github.com/majestrate/shoal/tracker/models"
)

// ResolvePeerIP decides the address a peer is stored and advertised
// under. Loopback sources are replaced with the configured external IP so
// a tracker running next to its peers still hands out routable addresses.
func ResolvePeerIP(remote, externalIP net.IP) net.IP {
	if remote.IsLoopback() && externalIP != nil {
		return externalIP
	}
	return remote
}

// HandleAnnounce encapsulates all the logic of handling a BitTorrent
// client's announce without being coupled to any transport protocol.
func (tkr *Tracker) HandleAnnounce(ann *models.Announce, w Writer) error {
	if err := tkr.Authenticate(ann.Passkey); err != nil {
		return err
	}
	if err := tkr.Authorize(ann.Infohash); err != nil {
		return err
	}

	ann.IP = ResolvePeerIP(ann.IP, tkr.Config.ExternalAddr())

	peer := ann.BuildPeer(clock.Now())
	snatched, swarm := tkr.Repo.UpsertPeerAndGetStats(ann.Infohash, peer)

	if snatched && tkr.Config.PersistentTorrentCompletedStat {
		// Fire and forget: a failed write costs one snatch count, never
		// an announce.
		go func(ih models.InfoHash, completed uint64) {
			if err := tkr.Backend.SaveSnatches(ih, completed); err != nil {
				glog.Errorf("Failed to persist snatches of %s: %s", ih, err)
			}
		}(ann.Infohash, swarm.Downloaded)
	}

	var v4s, v6s models.PeerList
	if ann.Event != models.EventStopped {
		wanted := ann.WantedPeers(tkr.Config.NumWantFallback)
		v4s, v6s = splitPeers(tkr.Repo.SamplePeers(ann.Infohash, ann.IP, ann.Port, wanted))
	}

	interval, minInterval := tkr.Config.AnnouncePolicy()

	return w.WriteAnnounce(&models.AnnounceResponse{
		Announce:    ann,
		Complete:    swarm.Complete,
		Incomplete:  swarm.Incomplete,
		Interval:    interval,
		MinInterval: minInterval,
		IPv4Peers:   v4s,
		IPv6Peers:   v6s,
		Compact:     ann.Compact,
	})
}

func splitPeers(peers models.PeerList) (v4s, v6s models.PeerList) {
	for _, peer := range peers {
		if ip := peer.IP.To4(); ip != nil {
			peer.IP = ip
			v4s = append(v4s, peer)
		} else if len(peer.IP) == net.IPv6len {
			v6s = append(v6s, peer)
		}
	}
	return v4s, v6s
}
