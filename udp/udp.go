// Copyright 2015 The Chihaya Authors. All rights reserved.
// Use of this source code is governed by the BSD 2-Clause license,
// which can be found in the LICENSE file.

// Package udp implements a BitTorrent tracker over the UDP protocol as per
// BEP 15.
package udp

import (
	"bytes"
	"context"
	"net"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/pushrax/bufferpool"

	"github.com/majestrate/shoal/clock"
	"github.com/majestrate/shoal/config"
	"github.com/majestrate/shoal/stats"
	"github.com/majestrate/shoal/tracker"
	"github.com/majestrate/shoal/tracker/models"
)

// inFlightRequests bounds the number of datagrams being handled at once.
const inFlightRequests = 50

// bindTimeout bounds how long the socket bind may take at startup.
const bindTimeout = 5 * time.Second

// Server represents a UDP serving torrent tracker.
type Server struct {
	listener config.UDPTrackerConfig
	config   *config.Config
	tracker  *tracker.Tracker

	sock     *net.UDPConn
	cookies  *cookieJar
	pool     *bufferpool.BufferPool
	requests *activeRequests

	stopping bool
	done     chan struct{}
}

// NewServer returns a new UDP server for a given listener configuration
// and tracker.
func NewServer(listener config.UDPTrackerConfig, cfg *config.Config, tkr *tracker.Tracker) *Server {
	return &Server{
		listener: listener,
		config:   cfg,
		tracker:  tkr,
		pool:     bufferpool.New(inFlightRequests, maxPacketSize),
		requests: &activeRequests{},
	}
}

// Setup draws the process-local connection id secret.
func (s *Server) Setup() (err error) {
	s.cookies, err = newCookieJar()
	s.done = make(chan struct{})
	s.stopping = false
	return err
}

// Serve binds the socket and runs the receive loop, blocking until the
// server has shut down.
func (s *Server) Serve() {
	defer close(s.done)

	ctx, cancel := context.WithTimeout(context.Background(), bindTimeout)
	defer cancel()

	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", s.listener.BindAddress)
	if err != nil {
		glog.Errorf("Failed to bind UDP server: %s", err)
		return
	}
	s.sock = conn.(*net.UDPConn)

	glog.V(0).Info("Starting UDP on ", s.listener.BindAddress)

	buf := make([]byte, maxPacketSize)
	for {
		n, addr, err := s.sock.ReadFromUDP(buf)
		if err != nil {
			if s.stopping {
				break
			}
			glog.Errorf("Failed to read UDP packet: %s", err)
			continue
		}

		packet := make([]byte, n)
		copy(packet, buf[:n])

		reqCtx, finish := s.requests.admit()
		go func(ctx context.Context, packet []byte, addr *net.UDPAddr) {
			defer finish()
			s.handlePacket(ctx, packet, addr)
		}(reqCtx, packet, addr)
	}

	s.requests.abortAll()
	glog.Info("UDP server shut down cleanly")
}

// Stop cleanly shuts down the server.
func (s *Server) Stop() {
	if !s.stopping {
		s.stopping = true
		if s.sock != nil {
			s.sock.Close()
		}
		<-s.done
	}
}

// handlePacket parses one datagram, dispatches it, and sends the
// response. Out-of-spec datagrams are answered with an error packet when
// a transaction id is recoverable and dropped otherwise.
func (s *Server) handlePacket(ctx context.Context, packet []byte, addr *net.UDPAddr) {
	requestID := uuid.New()
	start := time.Now()

	h, err := parseHeader(packet)
	if err != nil {
		glog.V(2).Infof("[UDP %s] dropping %d byte packet from %s: %s", requestID, len(packet), addr, err)
		return
	}

	resp := s.pool.Take()
	defer s.pool.Give(resp)
	resp.Reset()

	ipv6 := addr.IP.To4() == nil

	switch h.Action {
	case connectAction:
		s.handleConnect(h, addr, resp, ipv6)

	case announceAction:
		s.handleAnnounce(h, packet, addr, resp, ipv6)

	case scrapeAction:
		s.handleScrape(h, packet, addr, resp, ipv6)

	default:
		writeError(resp, h.TransactionID, errBadAction.Error())
	}

	if resp.Len() == 0 {
		return
	}

	// An aborted request yields no response; the client retries.
	if ctx.Err() != nil {
		glog.V(2).Infof("[UDP %s] request aborted before response", requestID)
		return
	}

	if _, err := s.sock.WriteToUDP(resp.Bytes(), addr); err != nil {
		glog.Errorf("Failed to send UDP response to %s: %s", addr, err)
	}

	stats.RecordEvent(stats.HandledRequest)
	stats.RecordTiming(stats.ResponseTime, time.Since(start))
	glog.V(2).Infof("[UDP %s - %9s] %s action %d", requestID, time.Since(start), addr, h.Action)
}

func (s *Server) handleConnect(h header, addr *net.UDPAddr, resp *bytes.Buffer, ipv6 bool) {
	req, err := parseConnect(h)
	if err != nil {
		writeError(resp, h.TransactionID, err.Error())
		return
	}

	writeConnect(resp, req.TransactionID, s.cookies.NewConnectionID(addr, clock.Now()))

	if ipv6 {
		stats.RecordEvent(stats.Udp6Connect)
	} else {
		stats.RecordEvent(stats.Udp4Connect)
	}
}

func (s *Server) handleAnnounce(h header, packet []byte, addr *net.UDPAddr, resp *bytes.Buffer, ipv6 bool) {
	req, err := parseAnnounce(h, packet)
	if err != nil {
		writeError(resp, h.TransactionID, err.Error())
		return
	}

	// UDP has no auth channel, so a private tracker turns announces away.
	if s.config.Mode.RequiresAuth() {
		writeError(resp, h.TransactionID, models.ErrAuthRequired.Error())
		return
	}

	if !s.cookies.Validate(h.ConnectionID, addr, clock.Now()) {
		writeError(resp, h.TransactionID, "bad connection id")
		return
	}

	event, err := req.event()
	if err != nil {
		writeError(resp, h.TransactionID, err.Error())
		return
	}

	numWant := int(req.NumWant)
	if numWant < 0 {
		numWant = 0
	}

	// The ip field is ignored: the datagram source is authoritative.
	ann := &models.Announce{
		Config:     s.config,
		Downloaded: uint64(req.Downloaded),
		Event:      event,
		Infohash:   req.Infohash,
		IP:         addr.IP,
		Port:       req.Port,
		Left:       uint64(req.Left),
		NumWant:    numWant,
		PeerID:     req.PeerID,
		Uploaded:   uint64(req.Uploaded),
	}

	w := &writer{resp: resp, transactionID: h.TransactionID, ipv6: ipv6}
	if err := s.tracker.HandleAnnounce(ann, w); err != nil {
		resp.Reset()
		if models.IsPublicError(err) {
			writeError(resp, h.TransactionID, err.Error())
			stats.RecordEvent(stats.ClientError)
		} else {
			writeError(resp, h.TransactionID, "internal error")
			stats.RecordEvent(stats.ErroredRequest)
			glog.Errorf("UDP announce failed: %s", err)
		}
		return
	}

	if ipv6 {
		stats.RecordEvent(stats.Udp6Announce)
	} else {
		stats.RecordEvent(stats.Udp4Announce)
	}
}

func (s *Server) handleScrape(h header, packet []byte, addr *net.UDPAddr, resp *bytes.Buffer, ipv6 bool) {
	req, err := parseScrape(h, packet)
	if err != nil {
		writeError(resp, h.TransactionID, err.Error())
		return
	}

	if !s.cookies.Validate(h.ConnectionID, addr, clock.Now()) {
		writeError(resp, h.TransactionID, "bad connection id")
		return
	}

	// No auth channel here either: a private tracker answers with
	// zeroed entries, which HandleScrape takes care of.
	scrape := &models.Scrape{
		Config:     s.config,
		Infohashes: req.Infohashes,
	}

	w := &writer{resp: resp, transactionID: h.TransactionID, ipv6: ipv6}
	if err := s.tracker.HandleScrape(scrape, w); err != nil {
		resp.Reset()
		writeError(resp, h.TransactionID, "internal error")
		stats.RecordEvent(stats.ErroredRequest)
		glog.Errorf("UDP scrape failed: %s", err)
		return
	}

	if ipv6 {
		stats.RecordEvent(stats.Udp6Scrape)
	} else {
		stats.RecordEvent(stats.Udp4Scrape)
	}
}

// writer implements the tracker.Writer interface for the UDP protocol.
// Responses carry peers of the socket's address family only.
type writer struct {
	resp          *bytes.Buffer
	transactionID int32
	ipv6          bool
}

func (w *writer) WriteError(err error) error {
	w.resp.Reset()
	writeError(w.resp, w.transactionID, err.Error())
	return nil
}

func (w *writer) WriteAnnounce(res *models.AnnounceResponse) error {
	peers := res.IPv4Peers
	if w.ipv6 {
		peers = res.IPv6Peers
	}
	writeAnnounce(w.resp, w.transactionID, int32(res.Interval/time.Second),
		int32(res.Incomplete), int32(res.Complete), peers, w.ipv6)
	return nil
}

func (w *writer) WriteScrape(res *models.ScrapeResponse) error {
	writeScrape(w.resp, w.transactionID, res.Files)
	return nil
}

var _ tracker.Writer = (*writer)(nil)

// inflight is the handle of one datagram being processed.
type inflight struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// activeRequests is a fixed-size ring of in-flight request handles. The
// receive loop never blocks on admission: each new request takes the slot
// of the oldest one, which is recycled when that request has finished and
// aborted when it is still running. Other slots are not searched for a
// finished request, so a running oldest request is aborted even when a
// newer one has already finished.
type activeRequests struct {
	mu    sync.Mutex
	slots [inFlightRequests]*inflight
	next  int
}

// admit reserves a slot and returns the request context plus the finish
// callback the worker must invoke when done.
func (a *activeRequests) admit() (context.Context, func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if old := a.slots[a.next]; old != nil {
		select {
		case <-old.done:
			// Finished, recycle the slot.
		default:
			old.cancel()
			glog.Warning("UDP in-flight buffer full, aborting oldest request")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &inflight{cancel: cancel, done: make(chan struct{})}
	a.slots[a.next] = t
	a.next = (a.next + 1) % inFlightRequests

	var once sync.Once
	return ctx, func() { once.Do(func() { close(t.done) }) }
}

// abortAll cancels everything still running, used at shutdown.
func (a *activeRequests) abortAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, t := range a.slots {
		if t != nil {
			t.cancel()
		}
	}
}
