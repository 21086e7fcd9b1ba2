// Copyright 2015 The Chihaya Authors. All rights reserved.
// Use of this source code is governed by the BSD 2-Clause license,
// which can be found in the LICENSE file.

// Package config implements the configuration for a BitTorrent tracker
package config

import (
	"net"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// EnvPrefix is prepended to option names when they are overridden through
// the environment, e.g. SHOAL_MODE=private.
const EnvPrefix = "SHOAL_"

// Mode determines which authorization checks the tracker performs.
type Mode string

const (
	ModePublic        Mode = "public"
	ModeListed        Mode = "listed"
	ModePrivate       Mode = "private"
	ModePrivateListed Mode = "private_listed"
)

// Valid reports whether m is one of the recognized operating modes.
func (m Mode) Valid() bool {
	switch m {
	case ModePublic, ModeListed, ModePrivate, ModePrivateListed:
		return true
	}
	return false
}

// RequiresWhitelist reports whether announced torrents must be whitelisted.
func (m Mode) RequiresWhitelist() bool {
	return m == ModeListed || m == ModePrivateListed
}

// RequiresAuth reports whether HTTP requests must carry a valid auth key.
func (m Mode) RequiresAuth() bool {
	return m == ModePrivate || m == ModePrivateListed
}

// Duration wraps a time.Duration and adds TOML unmarshalling from strings
// like "30s".
type Duration struct{ time.Duration }

// UnmarshalText transforms TOML text into a Duration.
func (d *Duration) UnmarshalText(b []byte) (err error) {
	d.Duration, err = time.ParseDuration(string(b))
	return err
}

// MarshalText renders the Duration back into TOML text.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// DriverConfig is the configuration used to connect a backend.Driver to its
// store.
type DriverConfig struct {
	Name string `toml:"db_driver"`
	Path string `toml:"db_path"`
}

// TrackerConfig is the configuration for core tracker functionality.
type TrackerConfig struct {
	Mode Mode `toml:"mode"`

	// Announce policy handed to clients, in seconds.
	AnnounceInterval    uint32 `toml:"announce_interval"`
	MinAnnounceInterval uint32 `toml:"min_announce_interval"`

	// Peers that have not announced for MaxPeerTimeout seconds are
	// evicted by the cleanup loop, which runs every
	// InactivePeerCleanupInterval seconds.
	MaxPeerTimeout              uint32 `toml:"max_peer_timeout"`
	InactivePeerCleanupInterval uint64 `toml:"inactive_peer_cleanup_interval"`

	RemovePeerlessTorrents         bool `toml:"remove_peerless_torrents"`
	PersistentTorrentCompletedStat bool `toml:"persistent_torrent_completed_stat"`

	ExternalIP     string `toml:"external_ip"`
	OnReverseProxy bool   `toml:"on_reverse_proxy"`

	NumWantFallback  int `toml:"default_numwant"`
	TorrentMapShards int `toml:"torrent_map_shards"`
}

// AnnouncePolicy returns the announce intervals as durations.
func (c *TrackerConfig) AnnouncePolicy() (interval, minInterval time.Duration) {
	return time.Duration(c.AnnounceInterval) * time.Second,
		time.Duration(c.MinAnnounceInterval) * time.Second
}

// ExternalAddr parses the configured external IP override. It returns nil
// when no override is configured.
func (c *TrackerConfig) ExternalAddr() net.IP {
	if c.ExternalIP == "" {
		return nil
	}
	return net.ParseIP(c.ExternalIP)
}

// UDPTrackerConfig is the configuration of one UDP listener.
type UDPTrackerConfig struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
}

// HTTPTrackerConfig is the configuration of one HTTP listener.
type HTTPTrackerConfig struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	SSLEnabled  bool   `toml:"ssl_enabled"`
	SSLCertPath string `toml:"ssl_cert_path"`
	SSLKeyPath  string `toml:"ssl_key_path"`

	RequestTimeout Duration `toml:"request_timeout"`
	ReadTimeout    Duration `toml:"read_timeout"`
	WriteTimeout   Duration `toml:"write_timeout"`
	ListenLimit    int      `toml:"listen_limit"`
}

// Validate checks that a TLS-enabled listener carries both halves of its
// key pair.
func (c *HTTPTrackerConfig) Validate() error {
	if c.SSLEnabled && (c.SSLCertPath == "" || c.SSLKeyPath == "") {
		return errors.Errorf("http tracker %s: ssl enabled without certificate and key paths", c.BindAddress)
	}
	return nil
}

// APIConfig is the configuration for the HTTP JSON admin API server.
type APIConfig struct {
	ListenAddr   string   `toml:"api_listen_addr"`
	ReadTimeout  Duration `toml:"api_read_timeout"`
	WriteTimeout Duration `toml:"api_write_timeout"`
	ListenLimit  int      `toml:"api_listen_limit"`
}

// StatsConfig is the configuration used to record runtime statistics.
type StatsConfig struct {
	BufferSize int  `toml:"stats_buffer_size"`
	IncludeMem bool `toml:"include_mem_stats"`
	VerboseMem bool `toml:"verbose_mem_stats"`

	MemUpdateInterval Duration `toml:"mem_stats_interval"`
}

// Config is the global configuration for an instance of the tracker.
type Config struct {
	TrackerConfig
	DriverConfig
	APIConfig
	StatsConfig

	UDPTrackers  []UDPTrackerConfig  `toml:"udp_trackers"`
	HTTPTrackers []HTTPTrackerConfig `toml:"http_trackers"`
}

// DefaultConfig is a configuration that can be used as a fallback value.
var DefaultConfig = Config{
	TrackerConfig: TrackerConfig{
		Mode:                           ModePublic,
		AnnounceInterval:               120,
		MinAnnounceInterval:            120,
		MaxPeerTimeout:                 900,
		InactivePeerCleanupInterval:    600,
		RemovePeerlessTorrents:         true,
		PersistentTorrentCompletedStat: false,
		NumWantFallback:                74,
		TorrentMapShards:               1024,
	},

	DriverConfig: DriverConfig{
		Name: "memory",
	},

	APIConfig: APIConfig{
		ListenAddr:   "localhost:1212",
		ReadTimeout:  Duration{10 * time.Second},
		WriteTimeout: Duration{10 * time.Second},
	},

	StatsConfig: StatsConfig{
		BufferSize: 65535,
		IncludeMem: true,
		VerboseMem: false,

		MemUpdateInterval: Duration{5 * time.Second},
	},

	UDPTrackers: []UDPTrackerConfig{
		{Enabled: true, BindAddress: "0.0.0.0:6969"},
	},
	HTTPTrackers: []HTTPTrackerConfig{
		{Enabled: true, BindAddress: "0.0.0.0:7070"},
	},
}

// Open is a shortcut to open a file, read it, and generate a Config.
// It supports relative and absolute paths. Given "", it returns
// DefaultConfig. Environment variables override the file in either case.
func Open(path string) (*Config, error) {
	conf := DefaultConfig
	if path != "" {
		if _, err := toml.DecodeFile(os.ExpandEnv(path), &conf); err != nil {
			return nil, errors.Wrap(err, "config: decode failed")
		}
	}
	conf.applyEnv()
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

// Decode reads a TOML document into a Config without touching the
// environment or validating.
func Decode(doc string) (*Config, error) {
	conf := DefaultConfig
	if _, err := toml.Decode(doc, &conf); err != nil {
		return nil, errors.Wrap(err, "config: decode failed")
	}
	return &conf, nil
}

// Validate sanity checks the assembled configuration.
func (c *Config) Validate() error {
	if !c.Mode.Valid() {
		return errors.Errorf("config: unrecognized mode %q", c.Mode)
	}
	if c.ExternalIP != "" && net.ParseIP(c.ExternalIP) == nil {
		return errors.Errorf("config: external_ip %q is not an IP literal", c.ExternalIP)
	}
	for i := range c.HTTPTrackers {
		if err := c.HTTPTrackers[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// applyEnv lets single-valued options be overridden with SHOAL_ prefixed
// environment variables. Listener lists only come from the file.
func (c *Config) applyEnv() {
	if v, ok := lookup("MODE"); ok {
		c.Mode = Mode(v)
	}
	if v, ok := lookupUint32("ANNOUNCE_INTERVAL"); ok {
		c.AnnounceInterval = v
	}
	if v, ok := lookupUint32("MIN_ANNOUNCE_INTERVAL"); ok {
		c.MinAnnounceInterval = v
	}
	if v, ok := lookupUint32("MAX_PEER_TIMEOUT"); ok {
		c.MaxPeerTimeout = v
	}
	if v, ok := lookupUint32("INACTIVE_PEER_CLEANUP_INTERVAL"); ok {
		c.InactivePeerCleanupInterval = uint64(v)
	}
	if v, ok := lookupBool("REMOVE_PEERLESS_TORRENTS"); ok {
		c.RemovePeerlessTorrents = v
	}
	if v, ok := lookupBool("PERSISTENT_TORRENT_COMPLETED_STAT"); ok {
		c.PersistentTorrentCompletedStat = v
	}
	if v, ok := lookup("EXTERNAL_IP"); ok {
		c.ExternalIP = v
	}
	if v, ok := lookupBool("ON_REVERSE_PROXY"); ok {
		c.OnReverseProxy = v
	}
	if v, ok := lookup("DB_DRIVER"); ok {
		c.DriverConfig.Name = v
	}
	if v, ok := lookup("DB_PATH"); ok {
		c.DriverConfig.Path = v
	}
	if v, ok := lookup("API_LISTEN_ADDR"); ok {
		c.APIConfig.ListenAddr = v
	}
}

func lookup(name string) (string, bool) {
	return os.LookupEnv(EnvPrefix + name)
}

func lookupUint32(name string) (uint32, bool) {
	v, ok := lookup(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

func lookupBool(name string) (bool, bool) {
	v, ok := lookup(name)
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}
