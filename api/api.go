// Copyright 2015 The Chihaya Authors. All rights reserved.
// Use of this source code is governed by the BSD 2-Clause license,
// which can be found in the LICENSE file.

// Package api implements a RESTful HTTP JSON API server for a BitTorrent
// tracker: runtime statistics plus auth key and whitelist management.
package api

import (
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

// Server represents an API server for a torrent tracker.
type Server struct {
	config   *config.Config
	tracker  *tracker.Tracker
	grace    *graceful.Server
	stopping bool
}

// NewServer returns a new API server for a given configuration and
// tracker.
func NewServer(cfg *config.Config, tkr *tracker.Tracker) *Server {
	return &Server{
		config:  cfg,
		tracker: tkr,
	}
}

// Setup is a no-op for the API server.
func (s *Server) Setup() error { return nil }

// ResponseHandler is an HTTP handler that returns a status code.
type ResponseHandler func(http.ResponseWriter, *http.Request, httprouter.Params) (int, error)

// makeHandler wraps our ResponseHandlers while timing requests, logging,
// and handling errors.
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
			if len(msg) > 0 {
				glog.Errorf("[API - %9s] %s (%d - %s)", duration, reqString, httpCode, msg)
			} else {
				glog.Infof("[API - %9s] %s (%d)", duration, reqString, httpCode)
			}
		}
	}
}

// newRouter returns a router with all the routes.
func newRouter(s *Server) *httprouter.Router {
	r := httprouter.New()

	r.GET("/check", makeHandler(s.check))
	r.GET("/stats", makeHandler(s.stats))
	r.GET("/metrics", makeHandler(s.metrics))
	r.GET("/torrents/:infohash", makeHandler(s.getTorrent))
	r.PUT("/whitelist/:infohash", makeHandler(s.putWhitelist))
	r.DELETE("/whitelist/:infohash", makeHandler(s.delWhitelist))
	r.POST("/keys/:seconds", makeHandler(s.putKey))
	r.DELETE("/keys/:key", makeHandler(s.delKey))
	return r
}

// Serve runs the API server, blocking until it has shut down.
func (s *Server) Serve() {
	glog.V(0).Info("Starting API on ", s.config.APIConfig.ListenAddr)

	grace := &graceful.Server{
		Server: &http.Server{
			Addr:         s.config.APIConfig.ListenAddr,
			Handler:      newRouter(s),
			ReadTimeout:  s.config.APIConfig.ReadTimeout.Duration,
			WriteTimeout: s.config.APIConfig.WriteTimeout.Duration,
		},
		NoSignalHandling: true,
	}
	s.grace = grace

	listener, err := net.Listen("tcp", s.config.APIConfig.ListenAddr)
	if err != nil {
		glog.Errorf("Failed to bind API server: %s", err)
		return
	}
	if s.config.APIConfig.ListenLimit > 0 {
		listener = netutil.LimitListener(listener, s.config.APIConfig.ListenLimit)
	}

	if err := grace.Serve(listener); err != nil {
		glog.Errorf("Failed to gracefully run API server: %s", err)
		return
	}

	glog.Info("API server shut down cleanly")
}

// Stop cleanly shuts down the server.
func (s *Server) Stop() {
	if !s.stopping && s.grace != nil {
		s.stopping = true
		s.grace.Stop(s.grace.Timeout)
	}
}
