package eventloop

import (
	"errors"
	"net"
	"sync"
	"syscall"

	"github.com/AdguardTeam/golibs/log"
	"github.com/joomcode/errorx"
	"golang.org/x/net/ipv4"
)

// filterConn listens on 0.0.0.0:67 but accepts datagrams only from the
// configured interface, using an IP_PKTINFO-style control message rather
// than a bind-to-device socket option. It also owns the socket's recovery
// policy: a read that fails with anything other than EINTR marks the
// socket broken and closes it, and the next read (or write) transparently
// rebinds a fresh one, so a failed fd (interface bounce, administrative
// close) never leaves the daemon deaf.
type filterConn struct {
	ifi     *net.Interface
	address string

	mu     sync.Mutex
	conn   *ipv4.PacketConn
	broken bool
	closed bool
}

func newFilterConn(ifi *net.Interface, address string) (*filterConn, error) {
	f := &filterConn{ifi: ifi, address: address}
	conn, err := f.open()
	if err != nil {
		return nil, err
	}
	f.conn = conn
	return f, nil
}

// open binds a fresh UDP socket on f.address with interface control
// messages enabled.
func (f *filterConn) open() (*ipv4.PacketConn, error) {
	c, err := net.ListenPacket("udp4", f.address)
	if err != nil {
		return nil, errorx.Decorate(err, "eventloop: listening on %s", f.address)
	}

	p := ipv4.NewPacketConn(c)
	if err := p.SetControlMessage(ipv4.FlagInterface, true); err != nil {
		c.Close()
		return nil, errorx.Decorate(err, "eventloop: enabling FlagInterface control messages")
	}
	return p, nil
}

// current returns the live socket, rebinding it first if a previous read
// marked it broken. A failed rebind leaves the socket broken so the next
// call tries again.
func (f *filterConn) current() (*ipv4.PacketConn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, net.ErrClosed
	}
	if f.broken {
		conn, err := f.open()
		if err != nil {
			return nil, err
		}
		f.conn = conn
		f.broken = false
		log.Info("eventloop: rebound server socket on %s", f.address)
	}
	return f.conn, nil
}

// markBroken closes the socket so the next current() call rebinds it.
func (f *filterConn) markBroken() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.broken || f.closed {
		return
	}
	f.broken = true
	_ = f.conn.Close()
}

// ReadFrom reads one datagram from the configured interface, dropping
// traffic that arrived elsewhere. Interrupted reads are retried on the
// same socket; any other error closes it for rebinding and is returned to
// the caller.
func (f *filterConn) ReadFrom(b []byte) (int, net.Addr, error) {
	conn, err := f.current()
	if err != nil {
		return 0, nil, err
	}

	for {
		n, cm, addr, err := conn.ReadFrom(b)
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			if f.isClosed() {
				return 0, nil, net.ErrClosed
			}
			f.markBroken()
			return 0, addr, errorx.Decorate(err, "eventloop: reading from socket")
		}
		if cm != nil && cm.IfIndex != f.ifi.Index {
			// packet arrived on a different interface, drop it and keep waiting
			continue
		}
		return n, addr, nil
	}
}

func (f *filterConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	conn, err := f.current()
	if err != nil {
		return 0, err
	}
	cm := &ipv4.ControlMessage{IfIndex: f.ifi.Index}
	return conn.WriteTo(b, cm, addr)
}

func (f *filterConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *filterConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	if f.broken {
		// the failing socket was already closed when it was marked broken
		return nil
	}
	return f.conn.Close()
}
