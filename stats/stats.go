// Copyright 2015 The Chihaya Authors. All rights reserved.
// Use of this source code is governed by the BSD 2-Clause license,
// which can be found in the LICENSE file.

// Package stats implements a means of tracking processing statistics for a
// BitTorrent tracker.
package stats

import (
	"sync"
	"time"

	"github.com/pushrax/faststats"
	"github.com/pushrax/flatjson"

	"github.com/majestrate/shoal/config"
)

const (
	Tcp4Connect = iota
	Tcp4Announce
	Tcp4Scrape

	Tcp6Connect
	Tcp6Announce
	Tcp6Scrape

	Udp4Connect
	Udp4Announce
	Udp4Scrape

	Udp6Connect
	Udp6Announce
	Udp6Scrape

	HandledRequest
	ErroredRequest
	ClientError

	ResponseTime
)

// DefaultStats is a default instance of stats tracking that uses a bounded
// channel for broadcasting events.
var DefaultStats *Stats

// ProtocolStats counts the requests served on one protocol and address
// family pair.
type ProtocolStats struct {
	Connections uint64 `json:"connections"`
	Announces   uint64 `json:"announces"`
	Scrapes     uint64 `json:"scrapes"`
}

type PercentileTimes struct {
	P50 *faststats.Percentile
	P90 *faststats.Percentile
	P95 *faststats.Percentile
}

type Stats struct {
	Started time.Time // Time at which the tracker was booted.

	Tcp4 ProtocolStats `json:"tcp4"`
	Tcp6 ProtocolStats `json:"tcp6"`
	Udp4 ProtocolStats `json:"udp4"`
	Udp6 ProtocolStats `json:"udp6"`

	RequestsHandled uint64 `json:"requestsHandled"`
	RequestsErrored uint64 `json:"requestsErrored"`
	ClientErrors    uint64 `json:"requestsBad"`
	ResponseTime    PercentileTimes

	*MemStatsWrapper `json:",omitempty"`

	mu sync.RWMutex

	events             chan int
	responseTimeEvents chan time.Duration
	recordMemStats     <-chan time.Time

	flattened flatjson.Map
}

// Snapshot is a plain copy of the counters, safe to hand out.
type Snapshot struct {
	Tcp4, Tcp6, Udp4, Udp6 ProtocolStats

	RequestsHandled uint64
	RequestsErrored uint64
	ClientErrors    uint64
}

func New(cfg config.StatsConfig) *Stats {
	bufSize := cfg.BufferSize
	if bufSize <= 0 {
		bufSize = 65535
	}
	s := &Stats{
		Started: time.Now(),
		events:  make(chan int, bufSize),

		responseTimeEvents: make(chan time.Duration, bufSize),

		ResponseTime: PercentileTimes{
			P50: faststats.NewPercentile(0.5),
			P90: faststats.NewPercentile(0.9),
			P95: faststats.NewPercentile(0.95),
		},
	}

	if cfg.IncludeMem {
		s.MemStatsWrapper = NewMemStatsWrapper(cfg.VerboseMem)
		s.recordMemStats = time.NewTicker(cfg.MemUpdateInterval.Duration).C
	}

	s.flattened = flatjson.Flatten(s)
	go s.handleEvents()
	return s
}

func (s *Stats) Flattened() flatjson.Map {
	return s.flattened
}

func (s *Stats) Close() {
	close(s.events)
}

func (s *Stats) Uptime() time.Duration {
	return time.Since(s.Started)
}

// Snapshot returns the current counter values under a read lock.
func (s *Stats) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Tcp4:            s.Tcp4,
		Tcp6:            s.Tcp6,
		Udp4:            s.Udp4,
		Udp6:            s.Udp6,
		RequestsHandled: s.RequestsHandled,
		RequestsErrored: s.RequestsErrored,
		ClientErrors:    s.ClientErrors,
	}
}

// RecordEvent sends an event to the single consumer. The channel is
// bounded; when it fills the producer blocks rather than losing the event.
func (s *Stats) RecordEvent(event int) {
	s.events <- event
}

func (s *Stats) RecordTiming(event int, duration time.Duration) {
	switch event {
	case ResponseTime:
		s.responseTimeEvents <- duration
	default:
		panic("stats: RecordTiming called with an unknown event")
	}
}

func (s *Stats) handleEvents() {
	for {
		select {
		case event, ok := <-s.events:
			if !ok {
				return
			}
			s.mu.Lock()
			s.handleEvent(event)
			s.mu.Unlock()

		case duration := <-s.responseTimeEvents:
			f := float64(duration) / float64(time.Millisecond)
			s.ResponseTime.P50.AddSample(f)
			s.ResponseTime.P90.AddSample(f)
			s.ResponseTime.P95.AddSample(f)

		case <-s.recordMemStats:
			s.MemStatsWrapper.Update()
		}
	}
}

func (s *Stats) handleEvent(event int) {
	switch event {
	case Tcp4Connect:
		s.Tcp4.Connections++

	case Tcp4Announce:
		s.Tcp4.Announces++

	case Tcp4Scrape:
		s.Tcp4.Scrapes++

	case Tcp6Connect:
		s.Tcp6.Connections++

	case Tcp6Announce:
		s.Tcp6.Announces++

	case Tcp6Scrape:
		s.Tcp6.Scrapes++

	case Udp4Connect:
		s.Udp4.Connections++

	case Udp4Announce:
		s.Udp4.Announces++

	case Udp4Scrape:
		s.Udp4.Scrapes++

	case Udp6Connect:
		s.Udp6.Connections++

	case Udp6Announce:
		s.Udp6.Announces++

	case Udp6Scrape:
		s.Udp6.Scrapes++

	case HandledRequest:
		s.RequestsHandled++

	case ClientError:
		s.ClientErrors++

	case ErroredRequest:
		s.RequestsErrored++

	default:
		panic("stats: RecordEvent called with an unknown event")
	}
}

// RecordEvent broadcasts an event to the default stats queue.
func RecordEvent(event int) {
	if DefaultStats != nil {
		DefaultStats.RecordEvent(event)
	}
}

// RecordTiming broadcasts a timing event to the default stats queue.
func RecordTiming(event int, duration time.Duration) {
	if DefaultStats != nil {
		DefaultStats.RecordTiming(event, duration)
	}
}
