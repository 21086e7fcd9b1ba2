// Copyright 2015 The Chihaya Authors. All rights reserved.
// Use of this source code is governed by the BSD 2-Clause license,
// which can be found in the LICENSE file.

package http

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zeebo/bencode"

	_ "github.com/majestrate/shoal/backend/memory"
	"github.com/majestrate/shoal/config"
	"github.com/majestrate/shoal/tracker"
	"github.com/majestrate/shoal/tracker/models"
)

// All-ASCII identifiers keep the query strings free of percent escaping.
const (
	asciiHash  = "aaaaaaaaaaaaaaaaaaaa"
	asciiPeer1 = "peer-one-aaaaaaaaaaa"
	asciiPeer2 = "peer-two-bbbbbbbbbbb"
)

func newTestSetup(t *testing.T, mutate func(*config.Config)) (*Server, *httptest.Server) {
	cfg := config.DefaultConfig
	cfg.Mode = config.ModePublic
	cfg.AnnounceInterval = 1800
	cfg.MinAnnounceInterval = 900
	cfg.DriverConfig = config.DriverConfig{Name: "memory"}
	if mutate != nil {
		mutate(&cfg)
	}

	tkr, err := tracker.New(&cfg)
	require.NoError(t, err)
	t.Cleanup(func() { tkr.Close() })

	srv := NewServer(config.HTTPTrackerConfig{BindAddress: "127.0.0.1:0"}, &cfg, tkr)
	ts := httptest.NewServer(newRouter(srv))
	t.Cleanup(ts.Close)
	return srv, ts
}

func get(t *testing.T, url string, header http.Header) []byte {
	req, err := http.NewRequest("GET", url, nil)
	require.NoError(t, err)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return body
}

type announceBody struct {
	Complete    int64  `bencode:"complete"`
	Incomplete  int64  `bencode:"incomplete"`
	Interval    int64  `bencode:"interval"`
	MinInterval int64  `bencode:"min interval"`
	Failure     string `bencode:"failure reason"`
	Peers       []struct {
		IP     string `bencode:"ip"`
		PeerID string `bencode:"peer id"`
		Port   int64  `bencode:"port"`
	} `bencode:"peers"`
}

func TestServeAnnounce(t *testing.T) {
	_, ts := newTestSetup(t, func(cfg *config.Config) {
		cfg.ExternalIP = "2.137.87.41"
	})

	var body announceBody
	raw := get(t, ts.URL+"/announce?info_hash="+asciiHash+"&peer_id="+asciiPeer1+"&port=8080&left=0&event=started", nil)
	require.NoError(t, bencode.DecodeBytes(raw, &body))
	require.Empty(t, body.Failure)
	require.Equal(t, int64(1), body.Complete)
	require.Equal(t, int64(0), body.Incomplete)
	require.Empty(t, body.Peers)
	require.Equal(t, int64(1800), body.Interval)

	// The second peer sees the first, stored under the external IP since
	// the test request arrives over loopback.
	raw = get(t, ts.URL+"/announce?info_hash="+asciiHash+"&peer_id="+asciiPeer2+"&port=8081&left=100&event=started", nil)
	require.NoError(t, bencode.DecodeBytes(raw, &body))
	require.Equal(t, int64(1), body.Complete)
	require.Equal(t, int64(1), body.Incomplete)
	require.Len(t, body.Peers, 1)
	require.Equal(t, "2.137.87.41", body.Peers[0].IP)
	require.Equal(t, int64(8080), body.Peers[0].Port)
	require.Equal(t, asciiPeer1, body.Peers[0].PeerID)
}

func TestServeAnnounceCompact(t *testing.T) {
	srv, ts := newTestSetup(t, nil)

	ih, err := models.InfoHashFromBytes([]byte(asciiHash))
	require.NoError(t, err)

	var pid models.PeerID
	copy(pid[:], "existing-peer-aaaaaa")
	srv.tracker.Repo.UpsertPeer(ih, models.Peer{
		ID:           pid,
		IP:           net.ParseIP("192.0.2.10").To4(),
		Port:         17548,
		Event:        models.EventStarted,
		LastAnnounce: time.Now().Unix(),
	})

	var body struct {
		Peers string `bencode:"peers"`
	}
	raw := get(t, ts.URL+"/announce?info_hash="+asciiHash+"&peer_id="+asciiPeer1+"&port=9000&left=5&compact=1", nil)
	require.NoError(t, bencode.DecodeBytes(raw, &body))
	require.Equal(t, []byte{0xC0, 0x00, 0x02, 0x0A, 0x44, 0x8C}, []byte(body.Peers))
}

func TestServeAnnounceMissingParams(t *testing.T) {
	_, ts := newTestSetup(t, nil)

	var body announceBody
	raw := get(t, ts.URL+"/announce?peer_id="+asciiPeer1+"&port=8080", nil)
	require.NoError(t, bencode.DecodeBytes(raw, &body))
	require.Equal(t, "malformed request", body.Failure)
}

func TestServeAnnounceReverseProxy(t *testing.T) {
	_, ts := newTestSetup(t, func(cfg *config.Config) {
		cfg.OnReverseProxy = true
	})

	// Right-most forwarded address wins.
	header := http.Header{"X-Forwarded-For": []string{"1.2.3.4, 5.6.7.8"}}
	raw := get(t, ts.URL+"/announce?info_hash="+asciiHash+"&peer_id="+asciiPeer1+"&port=8080&left=0", header)
	var body announceBody
	require.NoError(t, bencode.DecodeBytes(raw, &body))
	require.Empty(t, body.Failure)

	raw = get(t, ts.URL+"/announce?info_hash="+asciiHash+"&peer_id="+asciiPeer2+"&port=8081&left=1", header)
	require.NoError(t, bencode.DecodeBytes(raw, &body))
	require.Len(t, body.Peers, 1)
	require.Equal(t, "5.6.7.8", body.Peers[0].IP)

	// Without the header the announce fails.
	raw = get(t, ts.URL+"/announce?info_hash="+asciiHash+"&peer_id="+asciiPeer1+"&port=8080&left=0", nil)
	require.NoError(t, bencode.DecodeBytes(raw, &body))
	require.Equal(t, "could not resolve client address", body.Failure)
}

func TestServeScrape(t *testing.T) {
	_, ts := newTestSetup(t, nil)

	get(t, ts.URL+"/announce?info_hash="+asciiHash+"&peer_id="+asciiPeer1+"&port=8080&left=0", nil)

	var body struct {
		Files map[string]struct {
			Complete   int64 `bencode:"complete"`
			Downloaded int64 `bencode:"downloaded"`
			Incomplete int64 `bencode:"incomplete"`
		} `bencode:"files"`
	}
	raw := get(t, ts.URL+"/scrape?info_hash="+asciiHash+"&info_hash=bbbbbbbbbbbbbbbbbbbb", nil)
	require.NoError(t, bencode.DecodeBytes(raw, &body))
	require.Len(t, body.Files, 2)
	require.Equal(t, int64(1), body.Files[asciiHash].Complete)
	require.Equal(t, int64(0), body.Files["bbbbbbbbbbbbbbbbbbbb"].Complete)
}

func TestServePrivateTracker(t *testing.T) {
	srv, ts := newTestSetup(t, func(cfg *config.Config) {
		cfg.Mode = config.ModePrivate
	})

	// No key: announce errors, scrape answers zeroed.
	var body announceBody
	raw := get(t, ts.URL+"/announce?info_hash="+asciiHash+"&peer_id="+asciiPeer1+"&port=8080&left=0", nil)
	require.NoError(t, bencode.DecodeBytes(raw, &body))
	require.Equal(t, "authentication key required", body.Failure)

	key, err := srv.tracker.Keys.Issue(time.Hour)
	require.NoError(t, err)

	raw = get(t, ts.URL+"/announce/"+key.Key+"?info_hash="+asciiHash+"&peer_id="+asciiPeer1+"&port=8080&left=0", nil)
	// Decoding leaves fields absent from the document untouched, so start
	// from a fresh value rather than the failed announce's body.
	body = announceBody{}
	require.NoError(t, bencode.DecodeBytes(raw, &body))
	require.Empty(t, body.Failure)
	require.Equal(t, int64(1), body.Complete)

	var scrape struct {
		Files map[string]struct {
			Complete int64 `bencode:"complete"`
		} `bencode:"files"`
	}
	raw = get(t, ts.URL+"/scrape?info_hash="+asciiHash, nil)
	require.NoError(t, bencode.DecodeBytes(raw, &scrape))
	require.Equal(t, int64(0), scrape.Files[asciiHash].Complete)

	raw = get(t, ts.URL+"/scrape/"+key.Key+"?info_hash="+asciiHash, nil)
	require.NoError(t, bencode.DecodeBytes(raw, &scrape))
	require.Equal(t, int64(1), scrape.Files[asciiHash].Complete)
}
