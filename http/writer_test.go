// Copyright 2015 The Chihaya Authors. All rights reserved.
// Use of this source code is governed by the BSD 2-Clause license,
// which can be found in the LICENSE file.

package http

import (
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zeebo/bencode"

	"github.com/majestrate/shoal/tracker/models"
)

func TestWriteErrorBody(t *testing.T) {
	rec := httptest.NewRecorder()
	w := &Writer{rec}

	require.NoError(t, w.WriteError(models.ErrTorrentUnapproved))
	require.Equal(t, "d14:failure reason23:torrent is not approvede", rec.Body.String())
}

func TestWriteAnnounceNonCompact(t *testing.T) {
	rec := httptest.NewRecorder()
	w := &Writer{rec}

	require.NoError(t, w.WriteAnnounce(&models.AnnounceResponse{
		Complete:    1,
		Incomplete:  2,
		Interval:    1800 * time.Second,
		MinInterval: 900 * time.Second,
		IPv4Peers: models.PeerList{
			{ID: models.PeerID{'a'}, IP: net.ParseIP("192.0.2.10").To4(), Port: 17548},
		},
	}))

	var decoded struct {
		Complete    int64 `bencode:"complete"`
		Incomplete  int64 `bencode:"incomplete"`
		Interval    int64 `bencode:"interval"`
		MinInterval int64 `bencode:"min interval"`
		Peers       []struct {
			IP     string `bencode:"ip"`
			PeerID string `bencode:"peer id"`
			Port   int64  `bencode:"port"`
		} `bencode:"peers"`
	}
	require.NoError(t, bencode.DecodeBytes(rec.Body.Bytes(), &decoded))
	require.Equal(t, int64(1), decoded.Complete)
	require.Equal(t, int64(2), decoded.Incomplete)
	require.Equal(t, int64(1800), decoded.Interval)
	require.Equal(t, int64(900), decoded.MinInterval)
	require.Len(t, decoded.Peers, 1)
	require.Equal(t, "192.0.2.10", decoded.Peers[0].IP)
	require.Equal(t, int64(17548), decoded.Peers[0].Port)
}

func TestWriteAnnounceCompact(t *testing.T) {
	rec := httptest.NewRecorder()
	w := &Writer{rec}

	require.NoError(t, w.WriteAnnounce(&models.AnnounceResponse{
		Complete:    1,
		Incomplete:  0,
		Interval:    1800 * time.Second,
		MinInterval: 900 * time.Second,
		Compact:     true,
		IPv4Peers: models.PeerList{
			{IP: net.ParseIP("192.0.2.10").To4(), Port: 17548},
		},
		IPv6Peers: models.PeerList{
			{IP: net.ParseIP("2001:db8::1"), Port: 6881},
		},
	}))

	var decoded struct {
		Peers  string `bencode:"peers"`
		Peers6 string `bencode:"peers6"`
	}
	require.NoError(t, bencode.DecodeBytes(rec.Body.Bytes(), &decoded))
	require.Equal(t, []byte{0xC0, 0x00, 0x02, 0x0A, 0x44, 0x8C}, []byte(decoded.Peers))
	require.Len(t, decoded.Peers6, 18)
	require.Equal(t, net.ParseIP("2001:db8::1").To16(), net.IP(decoded.Peers6[:16]))
}

func TestWriteScrapeRoundTrip(t *testing.T) {
	rec := httptest.NewRecorder()
	w := &Writer{rec}

	var ih models.InfoHash
	copy(ih[:], "aaaaaaaaaaaaaaaaaaaa")

	require.NoError(t, w.WriteScrape(&models.ScrapeResponse{
		Files: []models.ScrapeFile{
			{Infohash: ih, Stats: models.SwarmStats{Complete: 3, Incomplete: 4, Downloaded: 5}},
		},
	}))

	var decoded struct {
		Files map[string]struct {
			Complete   int64 `bencode:"complete"`
			Downloaded int64 `bencode:"downloaded"`
			Incomplete int64 `bencode:"incomplete"`
		} `bencode:"files"`
	}
	require.NoError(t, bencode.DecodeBytes(rec.Body.Bytes(), &decoded))
	require.Len(t, decoded.Files, 1)

	entry, ok := decoded.Files[string(ih[:])]
	require.True(t, ok)
	require.Equal(t, int64(3), entry.Complete)
	require.Equal(t, int64(5), entry.Downloaded)
	require.Equal(t, int64(4), entry.Incomplete)
}
