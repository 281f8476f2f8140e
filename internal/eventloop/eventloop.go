// Package eventloop ties the codec, lease table, config, allocator, and
// handler together around a single readiness wait: the lease table, the
// server config, and the socket are owned exclusively here, and every
// suspension point funnels through one select.
package eventloop

import (
	"errors"
	"net"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/AdguardTeam/golibs/log"
	"github.com/joomcode/errorx"

	"github.com/udhcpd-go/udhcpd/internal/codec"
	"github.com/udhcpd-go/udhcpd/internal/config"
	"github.com/udhcpd-go/udhcpd/internal/handler"
	"github.com/udhcpd-go/udhcpd/internal/leases"
	"github.com/udhcpd-go/udhcpd/internal/metrics"
)

// RawSender is the subset of netutil.RawSender the loop needs for replying
// to clients that have no usable IP yet.
type RawSender interface {
	Send(payload []byte, destIP net.IP, destMAC net.HardwareAddr) error
}

// socketConn is the subset of filterConn the loop depends on, broken out so
// tests can substitute a fake instead of binding a real interface socket.
type socketConn interface {
	ReadFrom(b []byte) (int, net.Addr, error)
	WriteTo(b []byte, addr net.Addr) (int, error)
	Close() error
}

// EventLoop owns the UDP socket, the lease table, the config, and drives
// the Handler against inbound datagrams.
type EventLoop struct {
	Table   *leases.Table
	Config  *config.ServerConfig
	Handler *handler.Handler
	Metrics *metrics.Collectors // optional

	conn      socketConn
	rawSender RawSender
	pipe      *selfPipe

	// retryDelay paces readLoop after a socket failure, so a socket that
	// cannot be rebound yet doesn't spin the loop.
	retryDelay time.Duration

	// Reloads optionally delivers hot-reloaded config fields from a
	// config.Watcher running in its own goroutine. It is the one input
	// besides inbound packets that crosses into the single select below;
	// the watcher itself never touches Config directly, so ServerConfig
	// keeps a single writer.
	Reloads <-chan config.HotFields

	now func() time.Time // overridable for tests
}

type inboundPacket struct {
	data []byte
	addr net.Addr
	err  error
}

// New binds the server socket on cfg.Interface and prepares (but does not
// start) the event loop.
func New(cfg *config.ServerConfig, h *handler.Handler, raw RawSender, m *metrics.Collectors) (*EventLoop, error) {
	ifi, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		return nil, errorx.Decorate(err, "eventloop: resolving interface %s", cfg.Interface)
	}

	conn, err := newFilterConn(ifi, ":67")
	if err != nil {
		return nil, err
	}

	pipe, err := newSelfPipe()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &EventLoop{
		Table:      h.Table,
		Config:     cfg,
		Handler:    h,
		Metrics:    m,
		conn:       conn,
		rawSender:  raw,
		pipe:       pipe,
		retryDelay: time.Second,
		now:        time.Now,
	}, nil
}

// Run processes inbound datagrams until SIGTERM, flushing the lease table
// every AutoTime and on SIGUSR1. It writes the PID file on entry and
// removes it before returning.
func (el *EventLoop) Run(pidFile, leaseFile string) error {
	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
			return errorx.Decorate(err, "eventloop: writing PID file %s", pidFile)
		}
		defer os.Remove(pidFile)
	}

	if err := el.Table.LoadFile(leaseFile, el.Config.Remaining, el.now()); err != nil {
		log.Error("eventloop: loading leases from %s: %s", leaseFile, err)
	}

	packets := make(chan inboundPacket, 16)
	go el.readLoop(packets)

	flushInterval := el.Config.AutoTime
	if flushInterval <= 0 {
		flushInterval = time.Hour
	}
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case pkt := <-packets:
			el.handlePacket(pkt, leaseFile)

		case <-ticker.C:
			el.flush(leaseFile)

		case h := <-el.Reloads:
			log.Info("eventloop: applying hot config reload")
			el.Config.ApplyHot(h)

		case sig := <-el.pipe.Signals:
			switch sig {
			case syscall.SIGUSR1:
				el.flush(leaseFile)
			case syscall.SIGTERM:
				log.Info("eventloop: SIGTERM received, flushing and exiting")
				el.flush(leaseFile)
				el.shutdown()
				return nil
			}
		}
	}
}

// readLoop is the only goroutine that ever calls conn.ReadFrom; it never
// touches Table/Config, preserving the single-writer invariant even though
// the blocking read happens off the main select. A read error other than
// "socket closed for good" is transient: the failing socket has already
// been closed by the conn, and the next ReadFrom rebinds a fresh one.
// retryDelay paces that retry so an unbindable address doesn't spin.
func (el *EventLoop) readLoop(out chan<- inboundPacket) {
	for {
		buf := make([]byte, 1500)
		n, addr, err := el.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			out <- inboundPacket{err: err}
			time.Sleep(el.retryDelay)
			continue
		}
		out <- inboundPacket{data: buf[:n], addr: addr}
	}
}

func (el *EventLoop) handlePacket(pkt inboundPacket, leaseFile string) {
	if pkt.err != nil {
		log.Debug("eventloop: socket read error: %s", pkt.err)
		return
	}

	msg, err := codec.Parse(pkt.data)
	if err != nil {
		if el.Metrics != nil {
			el.Metrics.ParseErrors.Inc()
		}
		log.Debug("eventloop: parse error: %s", err)
		return
	}

	reply := el.Handler.Process(msg, el.now())
	if reply == nil {
		return
	}

	el.countReply(reply)
	el.send(msg, reply)
}

func (el *EventLoop) countReply(reply *codec.Message) {
	if el.Metrics == nil {
		return
	}
	switch reply.GetOption(codec.OptMessageType)[0] {
	case codec.MsgOffer:
		el.Metrics.OffersSent.Inc()
	case codec.MsgAck:
		el.Metrics.AcksSent.Inc()
	case codec.MsgNak:
		el.Metrics.NaksSent.Inc()
	}
}

// send picks the raw-frame path or the kernel UDP path: a client with no
// IP yet (and either the broadcast flag set, or no relay in the picture)
// must be reached by constructing the reply at the link layer, since the
// kernel has nothing to route a reply to.
func (el *EventLoop) send(req, reply *codec.Message) {
	payload := reply.Serialize()

	needsRaw := req.CIAddr.Equal(net.IPv4zero.To4()) &&
		(req.Flags&codec.FlagBroadcast != 0 || req.GIAddr.Equal(net.IPv4zero.To4()))

	if needsRaw && el.rawSender != nil {
		destMAC := net.HardwareAddr(req.CHAddr[:6])
		if err := el.rawSender.Send(payload, reply.YIAddr, destMAC); err != nil {
			log.Error("eventloop: raw send failed: %s", err)
		}
		return
	}

	dest := &net.UDPAddr{Port: 67}
	if !req.GIAddr.Equal(net.IPv4zero.To4()) {
		dest.IP = req.GIAddr
	} else {
		dest.Port = 68
		dest.IP = req.CIAddr
	}

	if _, err := el.conn.WriteTo(payload, dest); err != nil {
		log.Error("eventloop: UDP send to %s failed: %s", dest, err)
	}
}

func (el *EventLoop) flush(leaseFile string) {
	if err := el.Table.Flush(leaseFile, el.Config.Remaining, el.now()); err != nil {
		log.Error("eventloop: flush failed: %s", err)
		return
	}
	if el.Metrics != nil {
		el.Metrics.Flushes.Inc()
		el.Metrics.LeasesInUse.Set(float64(len(el.Table.All())))
	}
	el.runNotify(leaseFile)
}

// runNotify invokes the configured notify_file program after every flush,
// passing the lease file path as its sole argument. The argv is fixed, so
// it goes through os/exec directly rather than a shell.
func (el *EventLoop) runNotify(leaseFile string) {
	if el.Config.NotifyFile == "" {
		return
	}
	if err := exec.Command(el.Config.NotifyFile, leaseFile).Start(); err != nil {
		log.Error("eventloop: notify_file %s failed to start: %s", el.Config.NotifyFile, err)
	}
}

func (el *EventLoop) shutdown() {
	_ = el.pipe.Close()
	_ = el.conn.Close()
}
