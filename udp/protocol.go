// Copyright 2015 The Chihaya Authors. All rights reserved.
// Use of this source code is governed by the BSD 2-Clause license,
// which can be found in the LICENSE file.

package udp

import (
	"bytes"
	"encoding/binary"

	"github.com/majestrate/shoal/tracker/models"
)

// Protocol actions per BEP 15.
const (
	connectAction = iota
	announceAction
	scrapeAction
	errorAction
)

// connectMagic is the protocol identifier a client sends in place of a
// connection id on its first packet.
const connectMagic = 0x41727101980

// maxPacketSize bounds datagrams in both directions to a practical MTU.
const maxPacketSize = 1500

var (
	errTruncatedPacket = models.ProtocolError("truncated packet")
	errBadMagic        = models.ProtocolError("unknown protocol identifier")
	errBadAction       = models.ProtocolError("unknown action")
)

// header is the common prefix of every request after connect: a
// connection id, an action, and a transaction id.
type header struct {
	ConnectionID  int64
	Action        int32
	TransactionID int32
}

// connectRequest is the handshake opening a client session.
type connectRequest struct {
	TransactionID int32
}

// announceRequest is a BEP 15 announce.
type announceRequest struct {
	header

	Infohash   models.InfoHash
	PeerID     models.PeerID
	Downloaded int64
	Left       int64
	Uploaded   int64
	Event      int32
	IP         uint32
	Key        uint32
	NumWant    int32
	Port       uint16
}

// scrapeRequest is a BEP 15 scrape covering up to 74 torrents.
type scrapeRequest struct {
	header

	Infohashes []models.InfoHash
}

// parseHeader reads the 16-byte request prefix. The transaction id is
// recoverable from any packet this succeeds on.
func parseHeader(packet []byte) (h header, err error) {
	if len(packet) < 16 {
		return h, errTruncatedPacket
	}
	h.ConnectionID = int64(binary.BigEndian.Uint64(packet[0:8]))
	h.Action = int32(binary.BigEndian.Uint32(packet[8:12]))
	h.TransactionID = int32(binary.BigEndian.Uint32(packet[12:16]))
	return h, nil
}

// parseConnect validates the magic of a connect packet.
func parseConnect(h header) (connectRequest, error) {
	if h.ConnectionID != connectMagic {
		return connectRequest{}, errBadMagic
	}
	return connectRequest{TransactionID: h.TransactionID}, nil
}

// parseAnnounce reads the fixed 98-byte announce body.
func parseAnnounce(h header, packet []byte) (req announceRequest, err error) {
	if len(packet) < 98 {
		return req, errTruncatedPacket
	}

	req.header = h
	copy(req.Infohash[:], packet[16:36])
	copy(req.PeerID[:], packet[36:56])
	req.Downloaded = int64(binary.BigEndian.Uint64(packet[56:64]))
	req.Left = int64(binary.BigEndian.Uint64(packet[64:72]))
	req.Uploaded = int64(binary.BigEndian.Uint64(packet[72:80]))
	req.Event = int32(binary.BigEndian.Uint32(packet[80:84]))
	req.IP = binary.BigEndian.Uint32(packet[84:88])
	req.Key = binary.BigEndian.Uint32(packet[88:92])
	req.NumWant = int32(binary.BigEndian.Uint32(packet[92:96]))
	req.Port = binary.BigEndian.Uint16(packet[96:98])
	return req, nil
}

// event translates the wire event code. Unknown codes are malformed.
func (r *announceRequest) event() (models.Event, error) {
	switch r.Event {
	case 0:
		return models.EventNone, nil
	case 1:
		return models.EventCompleted, nil
	case 2:
		return models.EventStarted, nil
	case 3:
		return models.EventStopped, nil
	}
	return models.EventNone, models.ErrMalformedRequest
}

// parseScrape reads as many 20-byte infohashes as the packet carries,
// silently truncating past the protocol maximum.
func parseScrape(h header, packet []byte) (req scrapeRequest, err error) {
	body := packet[16:]
	if len(body) < 20 {
		return req, errTruncatedPacket
	}

	req.header = h
	count := len(body) / 20
	if count > models.MaxScrapeTorrents {
		count = models.MaxScrapeTorrents
	}
	req.Infohashes = make([]models.InfoHash, count)
	for i := 0; i < count; i++ {
		copy(req.Infohashes[i][:], body[i*20:(i+1)*20])
	}
	return req, nil
}

// writeConnect serializes a connect response.
func writeConnect(buf *bytes.Buffer, transactionID int32, connectionID int64) {
	writeUint32(buf, connectAction)
	writeUint32(buf, uint32(transactionID))
	writeUint64(buf, uint64(connectionID))
}

// writeAnnounce serializes an announce response carrying peers of a
// single address family.
func writeAnnounce(buf *bytes.Buffer, transactionID int32, interval int32, leechers, seeders int32, peers models.PeerList, ipv6 bool) {
	writeUint32(buf, announceAction)
	writeUint32(buf, uint32(transactionID))
	writeUint32(buf, uint32(interval))
	writeUint32(buf, uint32(leechers))
	writeUint32(buf, uint32(seeders))

	var port [2]byte
	for _, peer := range peers {
		if ipv6 {
			ip := peer.IP.To16()
			if ip == nil || peer.IP.To4() != nil {
				continue
			}
			buf.Write(ip)
		} else {
			ip := peer.IP.To4()
			if ip == nil {
				continue
			}
			buf.Write(ip)
		}
		binary.BigEndian.PutUint16(port[:], peer.Port)
		buf.Write(port[:])
	}
}

// writeScrape serializes a scrape response.
func writeScrape(buf *bytes.Buffer, transactionID int32, files []models.ScrapeFile) {
	writeUint32(buf, scrapeAction)
	writeUint32(buf, uint32(transactionID))
	for _, file := range files {
		writeUint32(buf, uint32(file.Stats.Complete))
		writeUint32(buf, uint32(file.Stats.Downloaded))
		writeUint32(buf, uint32(file.Stats.Incomplete))
	}
}

// writeError serializes an error response with a human-readable message.
func writeError(buf *bytes.Buffer, transactionID int32, msg string) {
	writeUint32(buf, errorAction)
	writeUint32(buf, uint32(transactionID))
	buf.WriteString(msg)
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}
