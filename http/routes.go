// Copyright 2015 The Chihaya Authors. All rights reserved.
// Use of this source code is governed by the BSD 2-Clause license,
// which can be found in the LICENSE file.

package http

import (
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/majestrate/shoal/stats"
	"github.com/majestrate/shoal/tracker/models"
)

func handleTorrentError(err error, w *Writer) (int, error) {
	if err == nil {
		return http.StatusOK, nil
	} else if models.IsPublicError(err) {
		w.WriteError(err)
		stats.RecordEvent(stats.ClientError)
		return http.StatusOK, nil
	}

	return http.StatusInternalServerError, err
}

func (s *Server) serveAnnounce(w http.ResponseWriter, r *http.Request, p httprouter.Params) (int, error) {
	writer := &Writer{w}
	ann, err := s.newAnnounce(r, p)
	if err != nil {
		return handleTorrentError(err, writer)
	}

	code, err := handleTorrentError(s.tracker.HandleAnnounce(ann, writer), writer)
	if err == nil {
		if requestFamilyIsV6(r) {
			stats.RecordEvent(stats.Tcp6Announce)
		} else {
			stats.RecordEvent(stats.Tcp4Announce)
		}
	}
	return code, err
}

func (s *Server) serveScrape(w http.ResponseWriter, r *http.Request, p httprouter.Params) (int, error) {
	writer := &Writer{w}
	scrape, err := s.newScrape(r, p)
	if err != nil {
		return handleTorrentError(err, writer)
	}

	code, err := handleTorrentError(s.tracker.HandleScrape(scrape, writer), writer)
	if err == nil {
		if requestFamilyIsV6(r) {
			stats.RecordEvent(stats.Tcp6Scrape)
		} else {
			stats.RecordEvent(stats.Tcp4Scrape)
		}
	}
	return code, err
}

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request, p httprouter.Params) (int, error) {
	addr := s.ServerAddr()
	txt := fmt.Sprintf("bittorrent open tracker announce url http://%s/announce\n", addr)
	_, err := io.WriteString(w, txt)
	txt = fmt.Sprintf("to use:\n\nmktorrent -a http://%s/announce somedirectory\n", addr)
	_, err = io.WriteString(w, txt)
	return http.StatusOK, err
}

// requestFamilyIsV6 reports whether the request arrived over IPv6.
func requestFamilyIsV6(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.To4() == nil
}
