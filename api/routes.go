// Copyright 2015 The Chihaya Authors. All rights reserved.
// Use of this source code is governed by the BSD 2-Clause license,
// which can be found in the LICENSE file.

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/majestrate/shoal/stats"
	"github.com/majestrate/shoal/tracker/models"
)

const jsonContentType = "application/json; charset=UTF-8"

func handleError(err error) (int, error) {
	if err == nil {
		return http.StatusOK, nil
	} else if _, ok := err.(models.NotFoundError); ok {
		stats.RecordEvent(stats.ClientError)
		return http.StatusNotFound, nil
	} else if _, ok := err.(models.ClientError); ok {
		stats.RecordEvent(stats.ClientError)
		return http.StatusBadRequest, nil
	}
	return http.StatusInternalServerError, err
}

func (s *Server) check(w http.ResponseWriter, r *http.Request, p httprouter.Params) (int, error) {
	if err := s.tracker.Backend.Ping(); err != nil {
		return handleError(err)
	}

	_, err := w.Write([]byte("STILL-ALIVE"))
	return handleError(err)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request, p httprouter.Params) (int, error) {
	w.Header().Set("Content-Type", jsonContentType)

	var err error
	var val interface{}
	query := r.URL.Query()

	if _, flatten := query["flatten"]; flatten {
		val = stats.DefaultStats.Flattened()
	} else {
		val = stats.DefaultStats
	}

	if _, pretty := query["pretty"]; pretty {
		var buf []byte
		buf, err = json.MarshalIndent(val, "", "  ")

		if err == nil {
			_, err = w.Write(buf)
		}
	} else {
		err = json.NewEncoder(w).Encode(val)
	}

	return handleError(err)
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request, p httprouter.Params) (int, error) {
	w.Header().Set("Content-Type", jsonContentType)
	e := json.NewEncoder(w)
	return handleError(e.Encode(s.tracker.Repo.Metrics()))
}

func (s *Server) getTorrent(w http.ResponseWriter, r *http.Request, p httprouter.Params) (int, error) {
	ih, err := models.InfoHashFromHex(p.ByName("infohash"))
	if err != nil {
		return handleError(err)
	}

	w.Header().Set("Content-Type", jsonContentType)
	e := json.NewEncoder(w)
	return handleError(e.Encode(s.tracker.Repo.Stats(ih)))
}

func (s *Server) putWhitelist(w http.ResponseWriter, r *http.Request, p httprouter.Params) (int, error) {
	ih, err := models.InfoHashFromHex(p.ByName("infohash"))
	if err != nil {
		return handleError(err)
	}

	return handleError(s.tracker.Whitelist.Add(ih))
}

func (s *Server) delWhitelist(w http.ResponseWriter, r *http.Request, p httprouter.Params) (int, error) {
	ih, err := models.InfoHashFromHex(p.ByName("infohash"))
	if err != nil {
		return handleError(err)
	}

	return handleError(s.tracker.Whitelist.Remove(ih))
}

func (s *Server) putKey(w http.ResponseWriter, r *http.Request, p httprouter.Params) (int, error) {
	seconds, err := strconv.ParseInt(p.ByName("seconds"), 10, 64)
	if err != nil || seconds <= 0 {
		return http.StatusBadRequest, nil
	}

	key, err := s.tracker.Keys.Issue(time.Duration(seconds) * time.Second)
	if err != nil {
		return handleError(err)
	}

	w.Header().Set("Content-Type", jsonContentType)
	e := json.NewEncoder(w)
	return handleError(e.Encode(key))
}

func (s *Server) delKey(w http.ResponseWriter, r *http.Request, p httprouter.Params) (int, error) {
	return handleError(s.tracker.Keys.Revoke(p.ByName("key")))
}
