//go:build !linux

package netutil

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/joomcode/errorx"
	"github.com/mdlayher/ethernet"
	"github.com/mdlayher/raw"
)

// Prober is the non-Linux counterpart of the AF_PACKET-based prober in
// arp.go, built on mdlayher/raw instead of mdlayher/packet for platforms
// without AF_PACKET sockets.
type Prober struct {
	conn      *raw.Conn
	ifi       *net.Interface
	sourceIP  net.IP
	sourceMAC net.HardwareAddr
	timeout   time.Duration
	attempts  int
}

// NewProber opens a raw ethernet socket on ifi for ARP frames.
func NewProber(ifi *net.Interface, sourceIP net.IP, timeout time.Duration, attempts int) (*Prober, error) {
	conn, err := raw.ListenPacket(ifi, uint16(ethernet.EtherTypeARP), nil)
	if err != nil {
		return nil, errorx.Decorate(err, "netutil: opening ARP raw socket on %s", ifi.Name)
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

// Close releases the underlying raw socket.
func (p *Prober) Close() error {
	return p.conn.Close()
}

// Probe is identical in behavior to the Linux implementation in arp.go; see
// its doc comment.
func (p *Prober) Probe(target net.IP) (bool, error) {
	target4 := target.To4()
	if target4 == nil {
		return false, errorx.IllegalArgument.New("netutil: %s is not an IPv4 address", target)
	}

	req, err := buildARPRequest(p.sourceMAC, p.sourceIP, target4)
	if err != nil {
		return false, err
	}

	broadcast := &raw.Addr{HardwareAddr: net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}}

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
				break
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

func buildARPRequest(srcMAC net.HardwareAddr, srcIP, target net.IP) ([]byte, error) {
	payload := make([]byte, arpPayloadLen)
	binary.BigEndian.PutUint16(payload[0:2], hardwareTypeEthernet)
	binary.BigEndian.PutUint16(payload[2:4], protocolTypeIPv4)
	payload[4] = 6
	payload[5] = 4
	binary.BigEndian.PutUint16(payload[6:8], opRequest)
	copy(payload[8:14], srcMAC)
	copy(payload[14:18], srcIP.To4())
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

const (
	hardwareTypeEthernet = 1
	protocolTypeIPv4     = 0x0800
	opRequest            = 1
	opReply              = 2
	arpPayloadLen        = 8 + 2*6 + 2*4
)

// RawConn is the non-Linux counterpart of arp.go's RawConn, built on
// mdlayher/raw instead of mdlayher/packet.
type RawConn struct {
	conn *raw.Conn
}

// OpenRawConn opens the raw socket RawSender needs on ifi.
func OpenRawConn(ifi *net.Interface) (*RawConn, error) {
	conn, err := raw.ListenPacket(ifi, uint16(ethernet.EtherTypeIPv4), nil)
	if err != nil {
		return nil, errorx.Decorate(err, "netutil: opening raw IPv4 socket on %s", ifi.Name)
	}
	return &RawConn{conn: conn}, nil
}

func (r *RawConn) WriteTo(b []byte, destMAC net.HardwareAddr) (int, error) {
	return r.conn.WriteTo(b, &raw.Addr{HardwareAddr: destMAC})
}

func (r *RawConn) Close() error { return r.conn.Close() }
