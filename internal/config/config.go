// Package config loads and validates the server's line-oriented key-value
// configuration file (udhcpd.conf format).
package config

import (
	"net"
	"time"

	"github.com/udhcpd-go/udhcpd/internal/codec"
)

// ServerConfig is the daemon's immutable-after-load configuration.
// Fields marked "hot" may be swapped in by a config reload
// without restarting the EventLoop; everything else requires a restart.
// PoolStart, PoolEnd, AutoTime and ConflictTime are part of the reloadable
// subset, but the lease table, the allocator and the flush ticker keep the
// values they were built with at startup, so reloading them has no effect on
// allocation, pool checks or the flush interval.
type ServerConfig struct {
	PoolStart net.IP // hot (see above)
	PoolEnd   net.IP // hot (see above)

	Interface string // restart required: socket already bound to old ifindex
	IfIndex   int    // restart required
	ServerIP  net.IP // restart required
	ServerMAC net.HardwareAddr

	LeaseSeconds int64 // hot, default lease duration
	MaxLeases    int   // restart required: lease table is fixed-capacity
	Remaining    bool  // hot, persist-as-delta flag

	AutoTime     time.Duration // hot (see above), flush interval
	DeclineTime  time.Duration // hot
	ConflictTime time.Duration // hot (see above)
	OfferTime    time.Duration // hot
	MinLease     time.Duration // hot

	LeaseFile  string // restart required
	PIDFile    string // restart required
	NotifyFile string // hot

	SIAddr   net.IP // hot
	SName    string // hot
	BootFile string // hot

	Options codec.OptionSet // hot, echoed into every reply
}

// defaultLeaseSeconds is the fallback lease duration (10 days) used when the
// config file carries no `option lease <seconds>` line.
const defaultLeaseSeconds = 10 * 24 * 60 * 60

// defaults holds the keyword table's built-in values, applied before the
// config file is parsed so every field always has a usable value even on a
// mostly-empty config file.
func defaults() *ServerConfig {
	return &ServerConfig{
		PoolStart:    net.IPv4(192, 168, 0, 20).To4(),
		PoolEnd:      net.IPv4(192, 168, 0, 254).To4(),
		Interface:    "eth0",
		MaxLeases:    254,
		Remaining:    true,
		AutoTime:     7200 * time.Second,
		DeclineTime:  3600 * time.Second,
		ConflictTime: 3600 * time.Second,
		OfferTime:    60 * time.Second,
		MinLease:     60 * time.Second,
		LeaseSeconds: defaultLeaseSeconds,
		LeaseFile:    "/var/lib/misc/udhcpd.leases",
		PIDFile:      "/var/run/udhcpd.pid",
		NotifyFile:   "",
		SIAddr:       net.IPv4zero.To4(),
	}
}

// HotFields is the subset of ServerConfig a reload may swap in without
// restarting sockets or reallocating the lease table.
type HotFields struct {
	PoolStart, PoolEnd           net.IP
	LeaseSeconds                 int64
	Remaining                    bool
	AutoTime, DeclineTime        time.Duration
	ConflictTime, OfferTime      time.Duration
	MinLease                     time.Duration
	NotifyFile                   string
	SIAddr                       net.IP
	SName, BootFile              string
	Options                      codec.OptionSet
}

// Hot extracts the reloadable subset of cfg.
func (cfg *ServerConfig) Hot() HotFields {
	return HotFields{
		PoolStart:    cfg.PoolStart,
		PoolEnd:      cfg.PoolEnd,
		LeaseSeconds: cfg.LeaseSeconds,
		Remaining:    cfg.Remaining,
		AutoTime:     cfg.AutoTime,
		DeclineTime:  cfg.DeclineTime,
		ConflictTime: cfg.ConflictTime,
		OfferTime:    cfg.OfferTime,
		MinLease:     cfg.MinLease,
		NotifyFile:   cfg.NotifyFile,
		SIAddr:       cfg.SIAddr,
		SName:        cfg.SName,
		BootFile:     cfg.BootFile,
		Options:      cfg.Options.Clone(),
	}
}

// ApplyHot swaps the reloadable fields of cfg in place.
func (cfg *ServerConfig) ApplyHot(h HotFields) {
	cfg.PoolStart = h.PoolStart
	cfg.PoolEnd = h.PoolEnd
	cfg.LeaseSeconds = h.LeaseSeconds
	cfg.Remaining = h.Remaining
	cfg.AutoTime = h.AutoTime
	cfg.DeclineTime = h.DeclineTime
	cfg.ConflictTime = h.ConflictTime
	cfg.OfferTime = h.OfferTime
	cfg.MinLease = h.MinLease
	cfg.NotifyFile = h.NotifyFile
	cfg.SIAddr = h.SIAddr
	cfg.SName = h.SName
	cfg.BootFile = h.BootFile
	cfg.Options = h.Options
}
