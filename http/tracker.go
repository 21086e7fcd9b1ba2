// Copyright 2015 The Chihaya Authors. All rights reserved.
// Use of this source code is governed by the BSD 2-Clause license,
// which can be found in the LICENSE file.

package http

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/julienschmidt/httprouter"

	"github.com/majestrate/shoal/http/query"
	"github.com/majestrate/shoal/tracker/models"
)

// newAnnounce parses an HTTP request and generates a models.Announce.
func (s *Server) newAnnounce(r *http.Request, p httprouter.Params) (*models.Announce, error) {
	q, err := query.New(r.URL.RawQuery)
	if err != nil {
		return nil, err
	}

	infohash, exists := q.Params["info_hash"]
	if !exists {
		return nil, models.ErrMalformedRequest
	}
	ih, err := models.InfoHashFromBytes([]byte(infohash))
	if err != nil {
		return nil, err
	}

	peerID, exists := q.Params["peer_id"]
	if !exists {
		return nil, models.ErrMalformedRequest
	}
	pid, err := models.PeerIDFromBytes([]byte(peerID))
	if err != nil {
		return nil, err
	}

	port, err := q.Uint64("port")
	if err != nil || port == 0 || port > 65535 {
		return nil, models.ErrMalformedRequest
	}

	event, err := models.ParseEvent(q.Params["event"])
	if err != nil {
		return nil, err
	}

	downloaded, err := q.OptionalUint64("downloaded")
	if err != nil {
		return nil, err
	}
	uploaded, err := q.OptionalUint64("uploaded")
	if err != nil {
		return nil, err
	}
	left, err := q.OptionalUint64("left")
	if err != nil {
		return nil, err
	}

	compact := false
	if _, ok := q.Params["compact"]; ok {
		c, err := q.Uint64("compact")
		if err != nil || c > 1 {
			return nil, models.ErrMalformedRequest
		}
		compact = c == 1
	}

	// The ip query parameter is deliberately ignored: the request source
	// (or the reverse-proxy header) is authoritative.
	ip, err := s.requestIP(r)
	if err != nil {
		return nil, err
	}

	return &models.Announce{
		Config:     s.config,
		Compact:    compact,
		Downloaded: downloaded,
		Event:      event,
		Infohash:   ih,
		IP:         ip,
		Port:       uint16(port),
		Left:       left,
		NumWant:    requestedPeerCount(q, s.tracker.Config.NumWantFallback),
		Passkey:    p.ByName("key"),
		PeerID:     pid,
		Uploaded:   uploaded,
	}, nil
}

// newScrape parses an HTTP request and generates a models.Scrape. Every
// repetition of the info_hash parameter is collected.
func (s *Server) newScrape(r *http.Request, p httprouter.Params) (*models.Scrape, error) {
	q, err := query.New(r.URL.RawQuery)
	if err != nil {
		return nil, err
	}

	if len(q.Infohashes) == 0 {
		return nil, models.ErrMalformedRequest
	}

	hashes := make([]models.InfoHash, 0, len(q.Infohashes))
	for _, raw := range q.Infohashes {
		ih, err := models.InfoHashFromBytes([]byte(raw))
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, ih)
	}

	return &models.Scrape{
		Config: s.config,

		Passkey:    p.ByName("key"),
		Infohashes: hashes,
	}, nil
}

// requestedPeerCount returns the wanted peer count or the provided fallback.
func requestedPeerCount(q *query.Query, fallback int) int {
	if numWantStr, exists := q.Params["numwant"]; exists {
		numWant, err := strconv.Atoi(numWantStr)
		if err != nil {
			return fallback
		}
		return numWant
	}

	return fallback
}

// requestIP resolves the IP the peer announces from. Behind a reverse
// proxy the right-most X-Forwarded-For address is authoritative and its
// absence is an error; otherwise the remote socket address is used.
func (s *Server) requestIP(r *http.Request) (net.IP, error) {
	if s.config.OnReverseProxy {
		forwarded := r.Header.Get("X-Forwarded-For")
		if forwarded == "" {
			return nil, models.ErrIPUnresolved
		}
		parts := strings.Split(forwarded, ",")
		ip := net.ParseIP(strings.TrimSpace(parts[len(parts)-1]))
		if ip == nil {
			return nil, models.ErrIPUnresolved
		}
		return ip, nil
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, models.ErrIPUnresolved
	}
	return ip, nil
}
