// Copyright 2015 The Chihaya Authors. All rights reserved.
// Use of this source code is governed by the BSD 2-Clause license,
// which can be found in the LICENSE file.

package http

import (
	"bytes"
	"encoding/binary"
	"net/http"

	"github.com/chihaya/bencode"
	"github.com/majestrate/shoal/tracker/models"
)

// Writer implements the tracker.Writer interface for the HTTP protocol.
type Writer struct {
	http.ResponseWriter
}

// WriteError writes a bencode dict with a failure reason. Clients expect
// bencoded error bodies with HTTP status 200.
func (w *Writer) WriteError(err error) error {
	bencoder := bencode.NewEncoder(w)

	w.Header().Set("Content-Type", "text/plain")
	return bencoder.Encode(bencode.Dict{
		"failure reason": err.Error(),
	})
}

// WriteAnnounce writes a bencode dict representation of an AnnounceResponse.
func (w *Writer) WriteAnnounce(res *models.AnnounceResponse) error {
	dict := bencode.Dict{
		"complete":     res.Complete,
		"incomplete":   res.Incomplete,
		"interval":     res.Interval,
		"min interval": res.MinInterval,
	}

	if res.Compact {
		dict["peers"] = compactPeers(false, res.IPv4Peers)
		if len(res.IPv6Peers) > 0 {
			dict["peers6"] = compactPeers(true, res.IPv6Peers)
		}
	} else {
		dict["peers"] = peersList(res.IPv4Peers, res.IPv6Peers)
	}

	w.Header().Set("Content-Type", "text/plain")
	bencoder := bencode.NewEncoder(w)
	return bencoder.Encode(dict)
}

// WriteScrape writes a bencode dict representation of a ScrapeResponse.
func (w *Writer) WriteScrape(res *models.ScrapeResponse) error {
	files := bencode.NewDict()
	for _, file := range res.Files {
		files[string(file.Infohash[:])] = bencode.Dict{
			"complete":   file.Stats.Complete,
			"downloaded": file.Stats.Downloaded,
			"incomplete": file.Stats.Incomplete,
		}
	}

	w.Header().Set("Content-Type", "text/plain")
	bencoder := bencode.NewEncoder(w)
	return bencoder.Encode(bencode.Dict{
		"files": files,
	})
}

// compactPeers encodes peers as fixed-width big-endian address and port
// pairs per BEP 23.
func compactPeers(ipv6 bool, peers models.PeerList) []byte {
	var buf bytes.Buffer
	var port [2]byte

	for _, peer := range peers {
		if ipv6 {
			if ip := peer.IP.To16(); ip != nil && peer.IP.To4() == nil {
				binary.BigEndian.PutUint16(port[:], peer.Port)
				buf.Write(ip)
				buf.Write(port[:])
			}
		} else {
			if ip := peer.IP.To4(); ip != nil {
				binary.BigEndian.PutUint16(port[:], peer.Port)
				buf.Write(ip)
				buf.Write(port[:])
			}
		}
	}
	return buf.Bytes()
}

// peersList encodes peers as a list of dicts per BEP 3.
func peersList(v4s, v6s models.PeerList) bencode.List {
	list := bencode.NewList()
	for _, peer := range v4s {
		list = append(list, peerDict(&peer))
	}
	for _, peer := range v6s {
		list = append(list, peerDict(&peer))
	}
	return list
}

func peerDict(peer *models.Peer) bencode.Dict {
	return bencode.Dict{
		"ip":      peer.IP.String(),
		"peer id": string(peer.ID[:]),
		"port":    peer.Port,
	}
}
