// Package metrics exposes the daemon's operational counters as Prometheus
// metrics. It is a pure observer of the single-threaded core: nothing here
// ever blocks or mutates LeaseTable/ServerConfig/the socket, it only reads
// the atomic counters the prometheus client library already manages.
package metrics

import (
	"context"
	"net/http"

	"github.com/AdguardTeam/golibs/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors groups every counter/gauge the EventLoop and Handler update.
type Collectors struct {
	OffersSent      prometheus.Counter
	AcksSent        prometheus.Counter
	NaksSent        prometheus.Counter
	Declines        prometheus.Counter
	Releases        prometheus.Counter
	PoolExhaustions prometheus.Counter
	ParseErrors     prometheus.Counter
	ARPProbes       prometheus.Counter
	Flushes         prometheus.Counter
	LeasesInUse     prometheus.Gauge
}

// NewCollectors registers every metric against a fresh registry.
func NewCollectors() (*Collectors, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collectors{
		OffersSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "udhcpd_offers_sent_total",
			Help: "Number of DHCPOFFER replies sent.",
		}),
		AcksSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "udhcpd_acks_sent_total",
			Help: "Number of DHCPACK replies sent.",
		}),
		NaksSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "udhcpd_naks_sent_total",
			Help: "Number of DHCPNAK replies sent.",
		}),
		Declines: factory.NewCounter(prometheus.CounterOpts{
			Name: "udhcpd_declines_total",
			Help: "Number of DHCPDECLINE messages processed.",
		}),
		Releases: factory.NewCounter(prometheus.CounterOpts{
			Name: "udhcpd_releases_total",
			Help: "Number of DHCPRELEASE messages processed.",
		}),
		PoolExhaustions: factory.NewCounter(prometheus.CounterOpts{
			Name: "udhcpd_pool_exhaustions_total",
			Help: "Number of DISCOVERs dropped due to pool exhaustion.",
		}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "udhcpd_parse_errors_total",
			Help: "Number of inbound datagrams dropped for codec parse errors.",
		}),
		ARPProbes: factory.NewCounter(prometheus.CounterOpts{
			Name: "udhcpd_arp_probes_total",
			Help: "Number of ARP probes sent by the allocator.",
		}),
		Flushes: factory.NewCounter(prometheus.CounterOpts{
			Name: "udhcpd_lease_flushes_total",
			Help: "Number of lease table flushes to disk.",
		}),
		LeasesInUse: factory.NewGauge(prometheus.GaugeOpts{
			Name: "udhcpd_leases_in_use",
			Help: "Current number of live lease table entries.",
		}),
	}, reg
}

// Serve starts a background HTTP listener exposing /metrics on addr. It
// returns immediately; the listener's goroutine never touches anything the
// EventLoop owns. Call the returned shutdown func on clean exit.
func Serve(addr string, reg *prometheus.Registry) (shutdown func(context.Context) error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics: listener on %s failed: %s", addr, err)
		}
	}()

	return srv.Shutdown
}
