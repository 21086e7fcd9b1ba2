// Copyright 2015 The Chihaya Authors. All rights reserved.
// Use of this source code is governed by the BSD 2-Clause license,
// which can be found in the LICENSE file.

package udp

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/majestrate/shoal/tracker/models"
)

func buildConnect(transactionID int32) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], connectMagic)
	binary.BigEndian.PutUint32(buf[8:12], connectAction)
	binary.BigEndian.PutUint32(buf[12:16], uint32(transactionID))
	return buf
}

func buildAnnounce(connectionID int64, transactionID int32, ih models.InfoHash, pid models.PeerID, event int32, numWant int32, port uint16) []byte {
	buf := make([]byte, 98)
	binary.BigEndian.PutUint64(buf[0:8], uint64(connectionID))
	binary.BigEndian.PutUint32(buf[8:12], announceAction)
	binary.BigEndian.PutUint32(buf[12:16], uint32(transactionID))
	copy(buf[16:36], ih[:])
	copy(buf[36:56], pid[:])
	binary.BigEndian.PutUint64(buf[56:64], 1000) // downloaded
	binary.BigEndian.PutUint64(buf[64:72], 500)  // left
	binary.BigEndian.PutUint64(buf[72:80], 2000) // uploaded
	binary.BigEndian.PutUint32(buf[80:84], uint32(event))
	binary.BigEndian.PutUint32(buf[84:88], 0) // ip, use source
	binary.BigEndian.PutUint32(buf[88:92], 0xcafe)
	binary.BigEndian.PutUint32(buf[92:96], uint32(numWant))
	binary.BigEndian.PutUint16(buf[96:98], port)
	return buf
}

func TestParseConnect(t *testing.T) {
	h, err := parseHeader(buildConnect(7))
	require.NoError(t, err)
	require.Equal(t, int32(connectAction), h.Action)

	req, err := parseConnect(h)
	require.NoError(t, err)
	require.Equal(t, int32(7), req.TransactionID)
}

func TestParseConnectBadMagic(t *testing.T) {
	packet := buildConnect(7)
	binary.BigEndian.PutUint64(packet[0:8], 0xdeadbeef)

	h, err := parseHeader(packet)
	require.NoError(t, err)

	_, err = parseConnect(h)
	require.Error(t, err)
}

func TestParseTruncated(t *testing.T) {
	_, err := parseHeader([]byte{0x01, 0x02})
	require.Error(t, err)

	h, _ := parseHeader(buildAnnounce(1, 2, models.InfoHash{}, models.PeerID{}, 2, -1, 6881)[:50])
	_, err = parseAnnounce(h, buildAnnounce(1, 2, models.InfoHash{}, models.PeerID{}, 2, -1, 6881)[:50])
	require.Error(t, err)
}

func TestParseAnnounce(t *testing.T) {
	var ih models.InfoHash
	var pid models.PeerID
	copy(ih[:], "aaaaaaaaaaaaaaaaaaaa")
	copy(pid[:], "bbbbbbbbbbbbbbbbbbbb")

	packet := buildAnnounce(0x1122334455667788, 99, ih, pid, 2, -1, 6881)
	h, err := parseHeader(packet)
	require.NoError(t, err)
	require.Equal(t, int64(0x1122334455667788), h.ConnectionID)

	req, err := parseAnnounce(h, packet)
	require.NoError(t, err)
	require.Equal(t, ih, req.Infohash)
	require.Equal(t, pid, req.PeerID)
	require.Equal(t, int64(1000), req.Downloaded)
	require.Equal(t, int64(500), req.Left)
	require.Equal(t, int64(2000), req.Uploaded)
	require.Equal(t, int32(-1), req.NumWant)
	require.Equal(t, uint16(6881), req.Port)

	ev, err := req.event()
	require.NoError(t, err)
	require.Equal(t, models.EventStarted, ev)
}

func TestParseScrapeTruncatesAtProtocolMax(t *testing.T) {
	count := models.MaxScrapeTorrents + 6
	packet := make([]byte, 16+count*20)
	binary.BigEndian.PutUint32(packet[8:12], scrapeAction)
	binary.BigEndian.PutUint32(packet[12:16], 3)
	for i := 0; i < count; i++ {
		packet[16+i*20] = byte(i)
	}

	h, err := parseHeader(packet)
	require.NoError(t, err)

	req, err := parseScrape(h, packet)
	require.NoError(t, err)
	require.Len(t, req.Infohashes, models.MaxScrapeTorrents)
	require.Equal(t, byte(0), req.Infohashes[0][0])
	require.Equal(t, byte(models.MaxScrapeTorrents-1), req.Infohashes[models.MaxScrapeTorrents-1][0])
}

func TestWriteConnect(t *testing.T) {
	var buf bytes.Buffer
	writeConnect(&buf, 42, 0x0102030405060708)

	out := buf.Bytes()
	require.Len(t, out, 16)
	require.Equal(t, uint32(connectAction), binary.BigEndian.Uint32(out[0:4]))
	require.Equal(t, uint32(42), binary.BigEndian.Uint32(out[4:8]))
	require.Equal(t, uint64(0x0102030405060708), binary.BigEndian.Uint64(out[8:16]))
}

func TestWriteAnnounceIPv4(t *testing.T) {
	peers := models.PeerList{
		{IP: net.ParseIP("192.0.2.10").To4(), Port: 17548},
		{IP: net.ParseIP("2001:db8::1"), Port: 9999}, // skipped on a v4 socket
	}

	var buf bytes.Buffer
	writeAnnounce(&buf, 8, 1800, 3, 5, peers, false)

	out := buf.Bytes()
	require.Len(t, out, 20+6)
	require.Equal(t, uint32(announceAction), binary.BigEndian.Uint32(out[0:4]))
	require.Equal(t, uint32(8), binary.BigEndian.Uint32(out[4:8]))
	require.Equal(t, uint32(1800), binary.BigEndian.Uint32(out[8:12]))
	require.Equal(t, uint32(3), binary.BigEndian.Uint32(out[12:16]))
	require.Equal(t, uint32(5), binary.BigEndian.Uint32(out[16:20]))
	require.Equal(t, []byte{0xC0, 0x00, 0x02, 0x0A, 0x44, 0x8C}, out[20:26])
}

func TestWriteAnnounceIPv6(t *testing.T) {
	peers := models.PeerList{
		{IP: net.ParseIP("2001:db8::1"), Port: 6881},
	}

	var buf bytes.Buffer
	writeAnnounce(&buf, 8, 1800, 0, 1, peers, true)

	out := buf.Bytes()
	require.Len(t, out, 20+18)
	require.Equal(t, net.ParseIP("2001:db8::1").To16(), net.IP(out[20:36]))
	require.Equal(t, uint16(6881), binary.BigEndian.Uint16(out[36:38]))
}

func TestWriteScrape(t *testing.T) {
	files := []models.ScrapeFile{
		{Stats: models.SwarmStats{Complete: 1, Incomplete: 2, Downloaded: 3}},
		{Stats: models.SwarmStats{}},
	}

	var buf bytes.Buffer
	writeScrape(&buf, 5, files)

	out := buf.Bytes()
	require.Len(t, out, 8+2*12)
	require.Equal(t, uint32(scrapeAction), binary.BigEndian.Uint32(out[0:4]))
	require.Equal(t, uint32(1), binary.BigEndian.Uint32(out[8:12]))
	require.Equal(t, uint32(3), binary.BigEndian.Uint32(out[12:16]))
	require.Equal(t, uint32(2), binary.BigEndian.Uint32(out[16:20]))
	require.Equal(t, uint32(0), binary.BigEndian.Uint32(out[20:24]))
}

func TestWriteError(t *testing.T) {
	var buf bytes.Buffer
	writeError(&buf, 11, "bad connection id")

	out := buf.Bytes()
	require.Equal(t, uint32(errorAction), binary.BigEndian.Uint32(out[0:4]))
	require.Equal(t, uint32(11), binary.BigEndian.Uint32(out[4:8]))
	require.Equal(t, "bad connection id", string(out[8:]))
}
