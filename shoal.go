// Copyright 2015 The Chihaya Authors. All rights reserved.
// Use of this source code is governed by the BSD 2-Clause license,
// which can be found in the LICENSE file.

// Package shoal implements the ability to boot the Shoal BitTorrent
// tracker with your own imports that can dynamically register additional
// functionality.
package shoal

import (
	"flag"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/golang/glog"

	"github.com/majestrate/shoal/api"
	"github.com/majestrate/shoal/config"
	"github.com/majestrate/shoal/http"
	"github.com/majestrate/shoal/stats"
	"github.com/majestrate/shoal/tracker"
	"github.com/majestrate/shoal/udp"

	// tracker storage backends
	_ "github.com/majestrate/shoal/backend/memory"
	_ "github.com/majestrate/shoal/backend/mysql"
	_ "github.com/majestrate/shoal/backend/postgres"
	_ "github.com/majestrate/shoal/backend/sqlite"
)

var (
	maxProcs   int
	configPath string
)

func init() {
	flag.IntVar(&maxProcs, "maxprocs", runtime.NumCPU(), "maximum parallel threads")
	flag.StringVar(&configPath, "config", "", "path to the configuration file")
}

type server interface {
	Setup() error
	Serve()
	Stop()
}

// Boot starts Shoal. By exporting this function, anyone can import their own
// custom drivers into their own package main and then call shoal.Boot.
func Boot() {
	defer glog.Flush()

	flag.Parse()

	runtime.GOMAXPROCS(maxProcs)
	glog.V(1).Info("Set max threads to ", maxProcs)

	cfg, err := config.Open(configPath)
	if err != nil {
		glog.Fatalf("Failed to parse configuration file: %s\n", err)
	}

	if configPath == "" {
		glog.V(1).Info("Using default config")
	} else {
		glog.V(1).Infof("Loaded config file: %s", configPath)
	}

	stats.DefaultStats = stats.New(cfg.StatsConfig)

	tkr, err := tracker.New(cfg)
	if err != nil {
		glog.Fatal("New: ", err)
	}

	var servers []server

	if cfg.APIConfig.ListenAddr != "" {
		servers = append(servers, api.NewServer(cfg, tkr))
	}
	for _, listener := range cfg.HTTPTrackers {
		if listener.Enabled {
			servers = append(servers, http.NewServer(listener, cfg, tkr))
		}
	}
	for _, listener := range cfg.UDPTrackers {
		if listener.Enabled {
			servers = append(servers, udp.NewServer(listener, cfg, tkr))
		}
	}

	var wg sync.WaitGroup
	for _, srv := range servers {
		wg.Add(1)
		// If you don't explicitly pass the server, every goroutine captures the
		// last server in the list.
		go func(srv server) {
			for {
				err := srv.Setup()
				if err == nil {
					defer wg.Done()
					srv.Serve()
					return
				}
				glog.Error("Setup: ", err)
				time.Sleep(time.Second)
			}
		}(srv)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		wg.Wait()
		signal.Stop(shutdown)
		close(shutdown)
	}()

	<-shutdown
	glog.Info("Shutting down...")

	for _, srv := range servers {
		srv.Stop()
	}

	<-shutdown

	if err := tkr.Close(); err != nil {
		glog.Errorf("Failed to shut down tracker cleanly: %s", err.Error())
	}
}
