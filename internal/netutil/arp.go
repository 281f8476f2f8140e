//go:build linux

// Package netutil implements the ARP probe used by the allocator and the
// raw-frame reply path for clients that cannot yet be reached over UDP.
package netutil

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/joomcode/errorx"
	"github.com/mdlayher/ethernet"
	"github.com/mdlayher/packet"
)

const (
	hardwareTypeEthernet = 1
	protocolTypeIPv4     = 0x0800
	opRequest            = 1
	opReply              = 2
	arpPayloadLen        = 8 + 2*6 + 2*4
)

// ARPProber answers whether an IPv4 address is already in use on the wire.
type ARPProber interface {
	// Probe sends an ARP request for target and reports whether any host
	// answered before the prober's own timeout elapses.
	Probe(target net.IP) (taken bool, err error)
}

// Prober sends ARP "who-has" requests over a raw packet socket bound to a
// single interface and waits for a matching reply within a bounded read
// deadline.
type Prober struct {
	conn      *packet.Conn
	ifi       *net.Interface
	sourceIP  net.IP
	sourceMAC net.HardwareAddr
	timeout   time.Duration
	attempts  int
}

// NewProber opens a raw packet socket on ifi for ethernet ARP frames
// (ETH_P_ARP). sourceIP/sourceMAC are used as the sender fields of every
// outgoing request.
func NewProber(ifi *net.Interface, sourceIP net.IP, timeout time.Duration, attempts int) (*Prober, error) {
	conn, err := packet.Listen(ifi, packet.Raw, int(ethernet.EtherTypeARP), nil)
	if err != nil {
		return nil, errorx.Decorate(err, "netutil: opening ARP packet socket on %s", ifi.Name)
	}
	return &Prober{
		conn:      conn,
		ifi:       ifi,
		sourceIP:  sourceIP.To4(),
		sourceMAC: ifi.HardwareAddr,
		timeout:   timeout,
		attempts:  attempts,
	}, nil
}

// Close releases the underlying packet socket.
func (p *Prober) Close() error {
	return p.conn.Close()
}

// RawConn is a raw Ethernet socket bound to ifi for EtherType IPv4, used by
// RawSender to reply to clients with no usable IP yet.
type RawConn struct {
	conn *packet.Conn
}

// OpenRawConn opens the raw socket RawSender needs on ifi.
func OpenRawConn(ifi *net.Interface) (*RawConn, error) {
	conn, err := packet.Listen(ifi, packet.Raw, int(ethernet.EtherTypeIPv4), nil)
	if err != nil {
		return nil, errorx.Decorate(err, "netutil: opening raw IPv4 socket on %s", ifi.Name)
	}
	return &RawConn{conn: conn}, nil
}

// WriteTo sends b to destMAC, wrapping it in the *packet.Addr the underlying
// AF_PACKET socket requires.
func (r *RawConn) WriteTo(b []byte, destMAC net.HardwareAddr) (int, error) {
	return r.conn.WriteTo(b, &packet.Addr{HardwareAddr: destMAC})
}

func (r *RawConn) Close() error { return r.conn.Close() }

// Probe sends up to p.attempts ARP requests for target, each bounded by
// p.timeout, and reports true the moment any reply names target as the
// sender. It returns false only once every attempt has timed out.
func (p *Prober) Probe(target net.IP) (bool, error) {
	target4 := target.To4()
	if target4 == nil {
		return false, errorx.IllegalArgument.New("netutil: %s is not an IPv4 address", target)
	}

	req, err := buildARPRequest(p.sourceMAC, p.sourceIP, target4)
	if err != nil {
		return false, err
	}

	broadcast := &packet.Addr{HardwareAddr: net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}}

	for attempt := 0; attempt < p.attempts; attempt++ {
		if _, err := p.conn.WriteTo(req, broadcast); err != nil {
			return false, errorx.Decorate(err, "netutil: sending ARP request for %s", target)
		}

		deadline := time.Now().Add(p.timeout)
		if err := p.conn.SetReadDeadline(deadline); err != nil {
			return false, errorx.Decorate(err, "netutil: setting ARP read deadline")
		}

		for {
			buf := make([]byte, 128)
			n, _, err := p.conn.ReadFrom(buf)
			if isTimeout(err) {
				break // this attempt's window elapsed, try again (or give up)
			}
			if err != nil {
				return false, errorx.Decorate(err, "netutil: reading ARP reply")
			}

			sender, ok := parseARPReply(buf[:n])
			if !ok {
				continue
			}
			if sender.Equal(target4) {
				return true, nil
			}
		}
	}

	return false, nil
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	t, ok := err.(timeouter)
	return ok && t.Timeout()
}

// buildARPRequest constructs a broadcast ethernet frame carrying an ARP
// "who-has target" request from (srcMAC, srcIP).
func buildARPRequest(srcMAC net.HardwareAddr, srcIP, target net.IP) ([]byte, error) {
	payload := make([]byte, arpPayloadLen)
	binary.BigEndian.PutUint16(payload[0:2], hardwareTypeEthernet)
	binary.BigEndian.PutUint16(payload[2:4], protocolTypeIPv4)
	payload[4] = 6 // hardware address length
	payload[5] = 4 // protocol address length
	binary.BigEndian.PutUint16(payload[6:8], opRequest)
	copy(payload[8:14], srcMAC)
	copy(payload[14:18], srcIP.To4())
	// target hardware address is left zeroed: unknown, that's what we're asking
	copy(payload[24:28], target.To4())

	f := &ethernet.Frame{
		Destination: net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		Source:      srcMAC,
		EtherType:   ethernet.EtherTypeARP,
		Payload:     payload,
	}
	b, err := f.MarshalBinary()
	if err != nil {
		return nil, errorx.Decorate(err, "netutil: marshaling ARP ethernet frame")
	}
	return b, nil
}

// parseARPReply extracts the sender protocol address from an ethernet frame
// if it carries an ARP reply; ok is false for anything else (requests,
// non-ARP traffic, malformed frames).
func parseARPReply(b []byte) (sender net.IP, ok bool) {
	var f ethernet.Frame
	if err := f.UnmarshalBinary(b); err != nil {
		return nil, false
	}
	if f.EtherType != ethernet.EtherTypeARP || len(f.Payload) < arpPayloadLen {
		return nil, false
	}
	if binary.BigEndian.Uint16(f.Payload[6:8]) != opReply {
		return nil, false
	}
	ip := net.IP(append([]byte(nil), f.Payload[14:18]...))
	return ip, true
}
