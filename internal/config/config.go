// Package config loads config/default.yaml and watches it for changes
// (spec AMBIENT STACK: Config). Only the fields named in mutableFields
// are hot-reloaded; the data directory and listen address take effect
// only on restart, so a fat-fingered edit can't silently relocate the
// report store or rebind the listener underneath a running process.
package config

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the typed shape of config/default.yaml.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	DataRoot   string `yaml:"data_root"`

	Camera struct {
		APIVersion     string        `yaml:"api_version"`
		DiscoveryPort  int           `yaml:"discovery_port"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"camera"`

	Discovery struct {
		ScanInterval  time.Duration `yaml:"scan_interval"`
		ScanFor       time.Duration `yaml:"scan_for"`
		FlapTolerance time.Duration `yaml:"flap_tolerance"`
	} `yaml:"discovery"`

	TimeSync struct {
		DriftThresholdSeconds float64       `yaml:"drift_threshold_seconds"`
		MinResyncInterval     time.Duration `yaml:"min_resync_interval"`
		MaxResyncInterval     time.Duration `yaml:"max_resync_interval"`
	} `yaml:"timesync"`

	Broadcast struct {
		StatusPeriod time.Duration `yaml:"status_period"`
	} `yaml:"broadcast"`

	// Network.APSubnetCIDR distinguishes a browser client that arrived over
	// the Pi's own access point from one that arrived over the home/venue
	// wlan (spec §4.8's "ap outranks wlan" rule) — the boundary is host
	// network configuration, not something this service can discover.
	Network struct {
		APSubnetCIDR string `yaml:"ap_subnet_cidr"`
	} `yaml:"network"`

	LogVerbosity string `yaml:"log_verbosity"`
}

// Default returns the built-in fallback, used when config/default.yaml is
// missing or fails to parse (spec §9: the service must still come up with
// sane behavior rather than refuse to start on a bad config file).
func Default() Config {
	var c Config
	c.ListenAddr = ":8080"
	c.DataRoot = "/var/lib/pi-camera-control"
	c.Camera.APIVersion = "ver100"
	c.Camera.DiscoveryPort = 8080
	c.Camera.RequestTimeout = 30 * time.Second
	c.Discovery.ScanInterval = 30 * time.Second
	c.Discovery.ScanFor = 5 * time.Second
	c.Discovery.FlapTolerance = 30 * time.Second
	c.TimeSync.DriftThresholdSeconds = 1.0
	c.TimeSync.MinResyncInterval = 5 * time.Minute
	c.TimeSync.MaxResyncInterval = 6 * time.Hour
	c.Broadcast.StatusPeriod = 10 * time.Second
	c.Network.APSubnetCIDR = "192.168.4.0/24"
	c.LogVerbosity = "info"
	return c
}

// Load reads and parses path, falling back to Default on any error (a
// missing config file is not fatal — only listen_addr/data_root/discovery
// tuning would be affected, and those already have workable defaults).
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// mutableFields is the allowlist hot-reload is permitted to change.
// Everything else in a freshly parsed Config is discarded in favor of the
// value captured at startup.
type mutableFields struct {
	TimeSync struct {
		DriftThresholdSeconds float64
		MinResyncInterval     time.Duration
		MaxResyncInterval     time.Duration
	}
	Broadcast struct {
		StatusPeriod time.Duration
	}
	LogVerbosity string
}

func extractMutable(c Config) mutableFields {
	var m mutableFields
	m.TimeSync.DriftThresholdSeconds = c.TimeSync.DriftThresholdSeconds
	m.TimeSync.MinResyncInterval = c.TimeSync.MinResyncInterval
	m.TimeSync.MaxResyncInterval = c.TimeSync.MaxResyncInterval
	m.Broadcast.StatusPeriod = c.Broadcast.StatusPeriod
	m.LogVerbosity = c.LogVerbosity
	return m
}

func applyMutable(base Config, m mutableFields) Config {
	base.TimeSync.DriftThresholdSeconds = m.TimeSync.DriftThresholdSeconds
	base.TimeSync.MinResyncInterval = m.TimeSync.MinResyncInterval
	base.TimeSync.MaxResyncInterval = m.TimeSync.MaxResyncInterval
	base.Broadcast.StatusPeriod = m.Broadcast.StatusPeriod
	base.LogVerbosity = m.LogVerbosity
	return base
}

// Watcher holds the live Config and applies hot-reloads from fsnotify
// write events on the backing file, falling back to a bounded poll if the
// watch itself can't be established (grounded on the teacher's license
// file watcher, internal/license/watcher.go, which runs the same
// fsnotify-plus-poll-fallback pair).
type Watcher struct {
	path string

	mu      sync.RWMutex
	current Config

	listenersMu sync.RWMutex
	listeners   []func(Config)
}

// NewWatcher loads path once and returns a Watcher seeded with the result
// (or the default, if the load failed).
func NewWatcher(path string) *Watcher {
	cfg, err := Load(path)
	if err != nil {
		log.Printf("[config] %v; using defaults", err)
	}
	return &Watcher{path: path, current: cfg}
}

// Current returns the live config snapshot.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Subscribe registers fn to be called after every applied hot-reload.
func (w *Watcher) Subscribe(fn func(Config)) {
	w.listenersMu.Lock()
	defer w.listenersMu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// reload re-parses the file and folds the mutable subset of fields into
// the live config, leaving listen_addr/data_root untouched.
func (w *Watcher) reload() {
	parsed, err := Load(w.path)
	if err != nil {
		log.Printf("[config] reload failed, keeping previous values: %v", err)
		return
	}

	w.mu.Lock()
	w.current = applyMutable(w.current, extractMutable(parsed))
	updated := w.current
	w.mu.Unlock()

	log.Printf("[config] reloaded %s", w.path)

	w.listenersMu.RLock()
	listeners := append([]func(Config){}, w.listeners...)
	w.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(updated)
	}
}
