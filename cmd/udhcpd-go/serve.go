package main

import (
	"context"
	"net"
	"time"

	"github.com/AdguardTeam/golibs/log"
	"github.com/joomcode/errorx"
	"github.com/spf13/cobra"

	"github.com/udhcpd-go/udhcpd/internal/allocator"
	"github.com/udhcpd-go/udhcpd/internal/audit"
	"github.com/udhcpd-go/udhcpd/internal/config"
	"github.com/udhcpd-go/udhcpd/internal/eventloop"
	"github.com/udhcpd-go/udhcpd/internal/handler"
	"github.com/udhcpd-go/udhcpd/internal/leases"
	"github.com/udhcpd-go/udhcpd/internal/metrics"
	"github.com/udhcpd-go/udhcpd/internal/netutil"
)

var serveOpts struct {
	verbose    bool
	metricsOn  bool
	metricsURL string
	auditLog   string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the DHCP server (default command)",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	for _, c := range []*cobra.Command{rootCmd, serveCmd} {
		c.Flags().BoolVarP(&serveOpts.verbose, "verbose", "v", false, "enable debug logging")
		c.Flags().BoolVar(&serveOpts.metricsOn, "metrics", false, "expose Prometheus metrics")
		c.Flags().StringVar(&serveOpts.metricsURL, "metrics-addr", ":9090", "listen address for the metrics HTTP server")
		c.Flags().StringVar(&serveOpts.auditLog, "audit-log", "", "path to a bbolt audit log (disabled if empty)")
	}
}

func hostOrderOf(ip net.IP) uint32 {
	ip4 := ip.To4()
	return uint32(ip4[0])<<24 | uint32(ip4[1])<<16 | uint32(ip4[2])<<8 | uint32(ip4[3])
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveOpts.verbose {
		log.SetLevel(log.DEBUG)
	} else {
		log.SetLevel(log.INFO)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return errorx.Decorate(err, "loading config")
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		return errorx.IllegalState.New("invalid config: %s", errs.Error())
	}

	ifi, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		return errorx.Decorate(err, "resolving interface %s", cfg.Interface)
	}

	table := leases.NewTable(cfg.MaxLeases, hostOrderOf(cfg.PoolStart), hostOrderOf(cfg.PoolEnd))

	prober, err := netutil.NewProber(ifi, cfg.ServerIP, 500*time.Millisecond, 3)
	if err != nil {
		return errorx.Decorate(err, "opening ARP prober")
	}
	defer prober.Close()

	rawConn, err := netutil.OpenRawConn(ifi)
	if err != nil {
		return errorx.Decorate(err, "opening raw reply socket")
	}
	defer rawConn.Close()
	rawSender := netutil.NewRawSender(rawConn, cfg.ServerIP, cfg.ServerMAC, 67, 68)

	var auditor *audit.Log
	if serveOpts.auditLog != "" {
		auditor, err = audit.Open(serveOpts.auditLog)
		if err != nil {
			return errorx.Decorate(err, "opening audit log %s", serveOpts.auditLog)
		}
		defer auditor.Close()
	}

	var collectors *metrics.Collectors
	if serveOpts.metricsOn {
		c, reg := metrics.NewCollectors()
		collectors = c
		shutdown := metrics.Serve(serveOpts.metricsURL, reg)
		defer func() { _ = shutdown(context.Background()) }()
	}

	alloc := &allocator.Allocator{
		Table:       table,
		Prober:      prober,
		PoolStart:   hostOrderOf(cfg.PoolStart),
		PoolEnd:     hostOrderOf(cfg.PoolEnd),
		ConflictTTL: cfg.ConflictTime,
		Metrics:     collectors,
	}

	h := &handler.Handler{Table: table, Config: cfg, Allocator: alloc, Audit: auditHandlerOf(auditor), Metrics: collectors}

	loop, err := eventloop.New(cfg, h, rawSender, collectors)
	if err != nil {
		return errorx.Decorate(err, "starting event loop")
	}

	watcher, err := config.NewWatcher(configPath)
	if err != nil {
		log.Error("serve: config hot-reload disabled: %s", err)
	} else {
		defer watcher.Close()
		loop.Reloads = watcher.Reloads
	}

	log.Info("serve: listening on %s (pool %s-%s)", cfg.Interface, cfg.PoolStart, cfg.PoolEnd)
	return loop.Run(cfg.PIDFile, cfg.LeaseFile)
}

// auditHandlerOf adapts a possibly-nil *audit.Log to handler.Auditor: a nil
// *audit.Log is a valid, no-op Auditor via Record's own nil receiver check,
// but handler.Handler.Audit must itself be a nil interface to skip the call
// entirely when there is no audit log configured at all.
func auditHandlerOf(a *audit.Log) handler.Auditor {
	if a == nil {
		return nil
	}
	return a
}
