// Command server is the composition root for pi-camera-control: it wires
// discovery, the intervalometer/report store, the Pi Proxy time-sync
// state machine, the broadcast fabric, and the REST/WebSocket surface
// (internal/api) into one process, then serves it until a termination
// signal arrives. Grounded on the pack's cam-bus-style single-binary
// daemon (context cancellation on SIGINT/SIGTERM) rather than the
// teacher's Windows-service/stopChan composition, which has no Pi
// equivalent.
package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/papamarky/pi-camera-control/internal/activitylog"
	"github.com/papamarky/pi-camera-control/internal/api"
	"github.com/papamarky/pi-camera-control/internal/broadcast"
	"github.com/papamarky/pi-camera-control/internal/clockwork"
	"github.com/papamarky/pi-camera-control/internal/config"
	"github.com/papamarky/pi-camera-control/internal/discovery"
	"github.com/papamarky/pi-camera-control/internal/eventbus"
	"github.com/papamarky/pi-camera-control/internal/metrics"
	"github.com/papamarky/pi-camera-control/internal/platform/paths"
	"github.com/papamarky/pi-camera-control/internal/reports"
	"github.com/papamarky/pi-camera-control/internal/timesync"
)

func main() {
	clock := clockwork.System

	cfgPath := paths.ResolveConfigPath("")
	watcher := config.NewWatcher(cfgPath)
	cfg := watcher.Current()
	log.Printf("[main] loaded config from %s (listen=%s data_root=%s)", cfgPath, cfg.ListenAddr, cfg.DataRoot)

	if err := paths.EnsureDirs(cfg.DataRoot); err != nil {
		log.Fatalf("platform init error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go watcher.Watch(ctx)

	registry := discovery.NewRegistry(clock)

	ssdp, err := discovery.NewSSDPClient()
	if err != nil {
		log.Printf("[main] ssdp socket unavailable, discovery scanning disabled: %v", err)
	} else {
		scanner := discovery.NewScanner(registry, ssdp, cfg.Discovery.ScanInterval, cfg.Discovery.ScanFor)
		go scanner.Run(ctx)
	}

	reportMgr, err := reports.New(cfg.DataRoot, clock)
	if err != nil {
		log.Fatalf("report manager init error: %v", err)
	}

	bus := eventbus.New()
	mcs := metrics.NewCollector()
	activity := activitylog.New(clock)

	// srv is referenced by the hub's StatusProvider closure below but
	// constructed after the hub, so it's captured by pointer and filled in
	// once api.NewServer returns.
	var srv *api.Server
	classifier := apSubnetClassifier(cfg.Network.APSubnetCIDR)
	hub := broadcast.NewHub(clock, func() broadcast.StatusSnapshot {
		if srv == nil {
			return broadcast.StatusSnapshot{}
		}
		return srv.StatusSnapshot()
	}, classifier)

	proxy := timesync.NewProxyState(clock)
	hostClock := timesync.NewHostClock()
	tsService := timesync.NewService(clock, proxy, hostClock, hub)

	srv = api.NewServer(clock, registry, reportMgr, hub, tsService, bus, mcs, activity)
	if ssdp != nil {
		srv.SetSSDPClient(ssdp)
	}

	hub.StartStatusLoop()
	defer hub.StopStatusLoop()

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("[main] listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Println("[main] shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] graceful shutdown error: %v", err)
	}
	log.Println("[main] stopped")
}

// apSubnetClassifier builds an InterfaceClassifier from a CIDR naming the
// Pi's own access point subnet (spec §4.8: ap outranks wlan). A malformed
// or empty CIDR degrades to "everything is wlan" rather than failing
// startup, since a misconfigured classifier should weaken the trust
// ranking, not take the service down.
func apSubnetClassifier(cidr string) broadcast.InterfaceClassifier {
	_, apNet, err := net.ParseCIDR(cidr)
	if err != nil {
		log.Printf("[main] invalid network.ap_subnet_cidr %q, treating all clients as wlan: %v", cidr, err)
		return func(string) timesync.ClientInterface { return timesync.InterfaceWLAN }
	}
	return func(remoteAddr string) timesync.ClientInterface {
		host, _, err := net.SplitHostPort(remoteAddr)
		if err != nil {
			host = remoteAddr
		}
		ip := net.ParseIP(host)
		if ip != nil && apNet.Contains(ip) {
			return timesync.InterfaceAP
		}
		return timesync.InterfaceWLAN
	}
}
