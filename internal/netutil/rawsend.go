package netutil

import (
	"encoding/binary"
	"net"

	"github.com/joomcode/errorx"
	"github.com/mdlayher/ethernet"
)

// RawSender emits a DHCP reply as a hand-built IPv4+UDP datagram wrapped in
// an Ethernet frame addressed directly to chaddr, for clients that have no
// usable IP yet. The kernel IP stack is bypassed entirely: the client
// hasn't got an address to route to, so there is nothing for ARP to resolve
// and no other way to reach it.
type RawSender struct {
	conn     rawWriter
	srcIP    net.IP
	srcMAC   net.HardwareAddr
	srcPort  int
	destPort int
}

// rawWriter is the subset of RawConn a RawSender needs to send a pre-built
// frame; satisfied by both the Linux and fallback RawConn defined alongside
// the ARP prober, each of which knows how to wrap destMAC in the address
// type its own underlying socket requires.
type rawWriter interface {
	WriteTo(b []byte, destMAC net.HardwareAddr) (int, error)
}

// NewRawSender wraps an already-open link-layer socket (a RawConn from
// OpenRawConn, separate from the ARP prober's socket) for sending BOOTP
// replies.
func NewRawSender(conn rawWriter, srcIP net.IP, srcMAC net.HardwareAddr, srcPort, destPort int) *RawSender {
	return &RawSender{conn: conn, srcIP: srcIP.To4(), srcMAC: srcMAC, srcPort: srcPort, destPort: destPort}
}

// Send wraps payload (a serialized DHCP reply) in an IPv4/UDP datagram
// addressed to destIP and an Ethernet frame addressed to destMAC, and writes
// it to the wire.
func (s *RawSender) Send(payload []byte, destIP net.IP, destMAC net.HardwareAddr) error {
	udp := buildUDP(s.srcIP, destIP, s.srcPort, s.destPort, payload)
	ip := buildIPv4(s.srcIP, destIP, udp)

	f := &ethernet.Frame{
		Destination: destMAC,
		Source:      s.srcMAC,
		EtherType:   ethernet.EtherTypeIPv4,
		Payload:     ip,
	}
	b, err := f.MarshalBinary()
	if err != nil {
		return errorx.Decorate(err, "netutil: marshaling reply ethernet frame")
	}

	if _, err := s.conn.WriteTo(b, destMAC); err != nil {
		return errorx.Decorate(err, "netutil: writing reply frame")
	}
	return nil
}

func buildUDP(srcIP, dstIP net.IP, srcPort, dstPort int, payload []byte) []byte {
	h := make([]byte, 8)
	binary.BigEndian.PutUint16(h[0:2], uint16(srcPort))
	binary.BigEndian.PutUint16(h[2:4], uint16(dstPort))
	binary.BigEndian.PutUint16(h[4:6], uint16(8+len(payload)))
	// checksum left as 0 (optional for IPv4 UDP); the Ethernet FCS covers
	// link-level integrity.
	return append(h, payload...)
}

func buildIPv4(srcIP, dstIP net.IP, udp []byte) []byte {
	totalLen := 20 + len(udp)
	h := make([]byte, 20)
	h[0] = 0x45 // version 4, IHL 5
	h[1] = 0x00 // DSCP/ECN
	binary.BigEndian.PutUint16(h[2:4], uint16(totalLen))
	binary.BigEndian.PutUint16(h[4:6], 0) // identification
	binary.BigEndian.PutUint16(h[6:8], 0) // flags/fragment offset
	h[8] = 64                             // TTL
	h[9] = 17                             // protocol: UDP
	binary.BigEndian.PutUint16(h[10:12], 0)
	copy(h[12:16], srcIP.To4())
	copy(h[16:20], dstIP.To4())
	binary.BigEndian.PutUint16(h[10:12], ipChecksum(h))
	return append(h, udp...)
}

func ipChecksum(h []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(h); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(h[i : i+2]))
	}
	for sum > 0xffff {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}
