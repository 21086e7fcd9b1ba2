// Copyright 2015 The Chihaya Authors. All rights reserved.
// Use of this source code is governed by the BSD 2-Clause license,
// which can be found in the LICENSE file.

// Package http implements a BitTorrent tracker over the HTTP protocol as per
// BEP 3.
package http

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/julienschmidt/httprouter"
	"github.com/tylerb/graceful"
	"golang.org/x/net/netutil"

	"github.com/majestrate/shoal/config"
	"github.com/majestrate/shoal/stats"
	"github.com/majestrate/shoal/tracker"
)

// ResponseHandler is an HTTP handler that returns a status code.
type ResponseHandler func(http.ResponseWriter, *http.Request, httprouter.Params) (int, error)

// Server represents an HTTP serving torrent tracker.
type Server struct {
	listener config.HTTPTrackerConfig
	config   *config.Config
	tracker  *tracker.Tracker
	grace    *graceful.Server
	stopping bool
}

// makeHandler wraps our ResponseHandlers while timing requests, collecting,
// stats, logging, and handling errors.
func makeHandler(handler ResponseHandler) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		start := time.Now()
		httpCode, err := handler(w, r, p)
		duration := time.Since(start)

		var msg string
		if err != nil {
			msg = err.Error()
		} else if httpCode != http.StatusOK {
			msg = http.StatusText(httpCode)
		}

		if len(msg) > 0 {
			http.Error(w, msg, httpCode)
			stats.RecordEvent(stats.ErroredRequest)
		}

		if len(msg) > 0 || glog.V(2) {
			reqString := r.URL.Path + " " + r.RemoteAddr
			if glog.V(3) {
				reqString = r.URL.RequestURI() + " " + r.RemoteAddr
			}

			if len(msg) > 0 {
				glog.Errorf("[HTTP - %9s] %s (%d - %s)", duration, reqString, httpCode, msg)
			} else {
				glog.Infof("[HTTP - %9s] %s (%d)", duration, reqString, httpCode)
			}
		}

		stats.RecordEvent(stats.HandledRequest)
		stats.RecordTiming(stats.ResponseTime, duration)
	}
}

func (s *Server) ServerAddr() string {
	return s.listener.BindAddress
}

// newRouter returns a router with all the routes.
func newRouter(s *Server) *httprouter.Router {
	r := httprouter.New()

	r.GET("/announce", makeHandler(s.serveAnnounce))
	r.GET("/announce/:key", makeHandler(s.serveAnnounce))
	r.GET("/scrape", makeHandler(s.serveScrape))
	r.GET("/scrape/:key", makeHandler(s.serveScrape))
	r.GET("/", makeHandler(s.serveIndex))
	return r
}

// connState is used by graceful in order to gracefully shutdown. It also
// keeps track of connection stats.
func (s *Server) connState(conn net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok && addr.IP.To4() == nil {
			stats.RecordEvent(stats.Tcp6Connect)
		} else {
			stats.RecordEvent(stats.Tcp4Connect)
		}

	case http.StateHijacked:
		panic("connection impossibly hijacked")

	// Ignore the following cases.
	case http.StateActive, http.StateIdle, http.StateClosed:

	default:
		glog.Errorf("Connection transitioned to unknown state %s (%d)", state, state)
	}
}

// Setup validates the listener configuration before the serve loop runs.
func (s *Server) Setup() error {
	return s.listener.Validate()
}

// Serve runs an HTTP server, blocking until the server has shut down.
func (s *Server) Serve() {
	glog.V(0).Info("Starting HTTP on ", s.listener.BindAddress)

	grace := &graceful.Server{
		Server: &http.Server{
			Addr:         s.listener.BindAddress,
			Handler:      newRouter(s),
			ReadTimeout:  s.listener.ReadTimeout.Duration,
			WriteTimeout: s.listener.WriteTimeout.Duration,
			ConnState:    s.connState,
		},
		Timeout:          s.listener.RequestTimeout.Duration,
		NoSignalHandling: true,
	}

	s.grace = grace
	grace.SetKeepAlivesEnabled(false)

	listener, err := s.listen()
	if err != nil {
		glog.Errorf("Failed to bind HTTP server: %s", err)
		return
	}

	if err := grace.Serve(listener); err != nil {
		glog.Errorf("Failed to gracefully run HTTP server: %s", err)
		return
	}

	glog.Info("HTTP server shut down cleanly")
}

// listen builds the (optionally TLS wrapped, optionally limited) listener.
func (s *Server) listen() (net.Listener, error) {
	listener, err := net.Listen("tcp", s.listener.BindAddress)
	if err != nil {
		return nil, err
	}

	if s.listener.ListenLimit > 0 {
		listener = netutil.LimitListener(listener, s.listener.ListenLimit)
	}

	if s.listener.SSLEnabled {
		cert, err := tls.LoadX509KeyPair(s.listener.SSLCertPath, s.listener.SSLKeyPath)
		if err != nil {
			listener.Close()
			return nil, err
		}
		listener = tls.NewListener(listener, &tls.Config{
			Certificates: []tls.Certificate{cert},
		})
	}

	return listener, nil
}

// Stop cleanly shuts down the server.
func (s *Server) Stop() {
	if !s.stopping && s.grace != nil {
		s.stopping = true
		s.grace.Stop(s.grace.Timeout)
	}
}

// NewServer returns a new HTTP server for a given listener configuration
// and tracker.
func NewServer(listener config.HTTPTrackerConfig, cfg *config.Config, tkr *tracker.Tracker) *Server {
	return &Server{
		listener: listener,
		config:   cfg,
		tracker:  tkr,
	}
}
