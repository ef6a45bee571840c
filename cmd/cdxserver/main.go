// Command cdxserver runs the capture-index daemon: it serves the HTTP API
// of spec §6.1 over one DataStore, and ticks the housekeeping scheduler in
// the background.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"

	"github.com/outbackcdx/cdxserver/capsrv"
	"github.com/outbackcdx/cdxserver/cmn"
	"github.com/outbackcdx/cdxserver/housekeep"
	"github.com/outbackcdx/cdxserver/query"
	"github.com/outbackcdx/cdxserver/store"
	"github.com/outbackcdx/cdxserver/surt"
)

// Exit codes mirror spec §6.5: 0 normal shutdown, 1 a startup failure
// (the listener fails), 2 a configuration error (bad flags, missing
// data-dir, unreadable config file) caught before any resource was touched.
const (
	exitOK             = 0
	exitStartupFailure = 1
	exitBadConfig      = 2
)

var (
	surtStripWWW          = flag.Bool("surt-strip-www", false, "strip a leading www. when canonicalizing hostnames")
	surtLowercasePath     = flag.Bool("surt-lowercase-path", false, "lowercase the path/query portion of canonicalized URLs")
	surtStripSessionIDs   = flag.Bool("surt-strip-session-ids", false, "strip common session-id query parameters")
	housekeepIntervalFlag = flag.Duration("housekeep-interval", 0, "interval between compaction sweeps (0 disables housekeeping)")
	metricsAddr           = flag.String("metrics-addr", "", "address to serve /metrics on (empty disables the metrics listener)")
)

func main() {
	os.Exit(run())
}

func run() int {
	cli := cmn.RegisterFlags(flag.CommandLine)
	flag.Parse()

	cfg, err := cmn.FlagsToConfig(cli)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cdxserver: %v\n", err)
		return exitBadConfig
	}

	if cfg.Verbose {
		flag.Set("v", "2")
	}

	ds := store.New(cfg.DataDir)
	defer ds.CloseAll()

	surtOpts := surt.Options{
		StripWWW:        *surtStripWWW,
		LowercasePath:   *surtLowercasePath,
		StripSessionIDs: *surtStripSessionIDs,
	}

	// No plugin filters are compiled into this build; external collaborators
	// wanting custom query filters implement query.Filter and wire their own
	// main that calls query.NewRegistry with their plugins (spec §9).
	registry := query.NewRegistry()

	server := capsrv.NewServer(cfg, ds, surtOpts, registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *housekeepIntervalFlag > 0 {
		scheduler := housekeep.NewScheduler(ds, *housekeepIntervalFlag, prometheus.DefaultRegisterer)
		go scheduler.Run(ctx)
		glog.Infof("cdxserver: housekeeping every %s", *housekeepIntervalFlag)
	}

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			glog.Infof("cdxserver: serving /metrics on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				glog.Errorf("cdxserver: metrics listener: %v", err)
			}
		}()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Bind, cfg.Port)
	errCh := make(chan error, 1)
	go func() {
		glog.Infof("cdxserver: listening on %s (data-dir=%s, accept-writes=%v)", addr, cfg.DataDir, cfg.AcceptWrites)
		errCh <- fasthttp.ListenAndServe(addr, server.Handle)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			glog.Errorf("cdxserver: listener failed: %v", err)
			return exitStartupFailure
		}
	case sig := <-sigCh:
		glog.Infof("cdxserver: received %s, shutting down", sig)
		cancel()
	}
	return exitOK
}
