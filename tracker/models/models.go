// Copyright 2015 The Chihaya Authors. All rights reserved.
// Use of this source code is governed by the BSD 2-Clause license,
// which can be found in the LICENSE file.

// Package models implements the common data types used throughout a BitTorrent
// tracker.
package models

import (
	"bytes"
	"encoding/hex"
	"net"
	"time"

	"github.com/majestrate/shoal/config"
)

const (
	// MaxNumWant is the maximum number of peers returned for a single
	// announce. Requests asking for more are silently clamped.
	MaxNumWant = 74

	// MaxScrapeTorrents is the maximum number of torrents covered by a
	// single scrape request.
	MaxScrapeTorrents = 74
)

var (
	// ErrMalformedRequest is returned when a request does not contain the
	// required parameters needed to create a model.
	ErrMalformedRequest = ClientError("malformed request")

	// ErrBadRequest is returned when a request is invalid in the peer's
	// current state.
	ErrBadRequest = ClientError("bad request")

	// ErrTorrentDNE is returned when a torrent does not exist.
	ErrTorrentDNE = NotFoundError("torrent does not exist")

	// ErrTorrentUnapproved is returned when a torrent is not in the
	// whitelist of a listed tracker.
	ErrTorrentUnapproved = ClientError("torrent is not approved")

	// ErrKeyDNE is returned when an auth key is unknown to the tracker.
	ErrKeyDNE = NotFoundError("auth key does not exist")

	// ErrKeyExpired is returned when an auth key is past its valid-until
	// time.
	ErrKeyExpired = ClientError("auth key has expired")

	// ErrAuthRequired is returned when a private tracker receives a
	// request without a usable auth key.
	ErrAuthRequired = ClientError("authentication key required")

	// ErrIPUnresolved is returned when the tracker sits behind a reverse
	// proxy but the proxy did not forward the client address.
	ErrIPUnresolved = ClientError("could not resolve client address")
)

type ClientError string
type NotFoundError ClientError
type ProtocolError ClientError

func (e ClientError) Error() string   { return string(e) }
func (e NotFoundError) Error() string { return string(e) }
func (e ProtocolError) Error() string { return string(e) }

// IsPublicError determines whether an error should be propogated to the client.
func IsPublicError(err error) bool {
	_, cl := err.(ClientError)
	_, nf := err.(NotFoundError)
	_, pc := err.(ProtocolError)
	return cl || nf || pc
}

// InfoHash is the 20-byte fingerprint identifying a torrent's content.
type InfoHash [20]byte

// InfoHashFromBytes converts a raw byte slice into an InfoHash. The slice
// must be exactly 20 bytes long.
func InfoHashFromBytes(b []byte) (ih InfoHash, err error) {
	if len(b) != 20 {
		return ih, ErrMalformedRequest
	}
	copy(ih[:], b)
	return ih, nil
}

// InfoHashFromHex converts a 40-character hex string into an InfoHash.
func InfoHashFromHex(s string) (ih InfoHash, err error) {
	if len(s) != 40 {
		return ih, ErrMalformedRequest
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return ih, ErrMalformedRequest
	}
	copy(ih[:], b)
	return ih, nil
}

// String implements fmt.Stringer, returning the hex representation.
func (ih InfoHash) String() string {
	return hex.EncodeToString(ih[:])
}

// CompareInfoHash orders two fingerprints byte-lexicographically.
func CompareInfoHash(a, b InfoHash) int {
	return bytes.Compare(a[:], b[:])
}

// PeerID is the 20-byte identifier a client chooses for itself. It carries
// arbitrary bytes and has no structure the tracker cares about.
type PeerID [20]byte

// PeerIDFromBytes converts a raw byte slice into a PeerID.
func PeerIDFromBytes(b []byte) (id PeerID, err error) {
	if len(b) != 20 {
		return id, ErrMalformedRequest
	}
	copy(id[:], b)
	return id, nil
}

// Event is the announce event reported by a client. The numeric values
// follow the UDP wire encoding from BEP 15.
type Event int32

const (
	EventNone Event = iota
	EventCompleted
	EventStarted
	EventStopped
)

var eventNames = map[Event]string{
	EventNone:      "",
	EventCompleted: "completed",
	EventStarted:   "started",
	EventStopped:   "stopped",
}

// ParseEvent converts the string form used by the HTTP protocol into an
// Event. The empty string is a regular interval announce.
func ParseEvent(s string) (Event, error) {
	switch s {
	case "":
		return EventNone, nil
	case "completed":
		return EventCompleted, nil
	case "started":
		return EventStarted, nil
	case "stopped":
		return EventStopped, nil
	}
	return EventNone, ErrMalformedRequest
}

func (e Event) String() string { return eventNames[e] }

// Peer represents a participant in a BitTorrent swarm.
type Peer struct {
	ID           PeerID `json:"id"`
	IP           net.IP `json:"ip"`
	Port         uint16 `json:"port"`
	Uploaded     uint64 `json:"uploaded"`
	Downloaded   uint64 `json:"downloaded"`
	Left         uint64 `json:"left"`
	Event        Event  `json:"event"`
	LastAnnounce int64  `json:"lastAnnounce"`
}

// Seeding reports whether the peer holds the complete content.
func (p *Peer) Seeding() bool {
	return p.Left == 0 && p.Event != EventStopped
}

// EndpointEquals reports whether the peer is reachable at the given
// address. Both the IP and the port must match.
func (p *Peer) EndpointEquals(ip net.IP, port uint16) bool {
	return p.Port == port && p.IP.Equal(ip)
}

// PeerList represents a list of peers in a swarm.
type PeerList []Peer

// SwarmStats is the aggregate metadata of a single swarm.
type SwarmStats struct {
	// Complete is the number of seeders currently in the swarm.
	Complete int `json:"complete"`
	// Incomplete is the number of leechers currently in the swarm.
	Incomplete int `json:"incomplete"`
	// Downloaded counts the completed downloads observed over the
	// torrent's lifetime.
	Downloaded uint64 `json:"downloaded"`
}

// AuthKey is a time-bounded opaque key used by private trackers.
type AuthKey struct {
	Key        string `json:"key"`
	ValidUntil int64  `json:"validUntil"`
}

// Valid reports whether the key may still be used at time t.
func (k *AuthKey) Valid(t time.Time) bool {
	return t.Unix() <= k.ValidUntil
}

// Announce is an Announce by a Peer.
type Announce struct {
	Config *config.Config `json:"config"`

	Compact    bool     `json:"compact"`
	Downloaded uint64   `json:"downloaded"`
	Event      Event    `json:"event"`
	Infohash   InfoHash `json:"infohash"`
	IP         net.IP   `json:"ip"`
	Port       uint16   `json:"port"`
	Left       uint64   `json:"left"`
	NumWant    int      `json:"numwant"`
	Passkey    string   `json:"passkey"`
	PeerID     PeerID   `json:"peer_id"`
	Uploaded   uint64   `json:"uploaded"`
}

// BuildPeer creates the Peer representation of an Announce.
func (a *Announce) BuildPeer(now time.Time) Peer {
	return Peer{
		ID:           a.PeerID,
		IP:           a.IP,
		Port:         a.Port,
		Uploaded:     a.Uploaded,
		Downloaded:   a.Downloaded,
		Left:         a.Left,
		Event:        a.Event,
		LastAnnounce: now.Unix(),
	}
}

// WantedPeers clamps the client's requested peer count to the tracker
// maximum, substituting the fallback when the client did not ask.
func (a *Announce) WantedPeers(fallback int) int {
	n := a.NumWant
	if n <= 0 {
		n = fallback
	}
	if n > MaxNumWant {
		n = MaxNumWant
	}
	return n
}

// AnnounceResponse contains the information needed to fulfill an announce.
type AnnounceResponse struct {
	Announce              *Announce
	Complete, Incomplete  int
	Interval, MinInterval time.Duration
	IPv4Peers, IPv6Peers  PeerList

	Compact bool
}

// Scrape is a Scrape by a Peer.
type Scrape struct {
	Config *config.Config `json:"config"`

	Passkey    string
	Infohashes []InfoHash
}

// ScrapeFile is the per-torrent entry of a scrape response.
type ScrapeFile struct {
	Infohash InfoHash
	Stats    SwarmStats
}

// ScrapeResponse contains the information needed to fulfill a scrape.
// Files preserves the order of the requested infohashes.
type ScrapeResponse struct {
	Files []ScrapeFile
}
