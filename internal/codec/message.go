// Package codec implements a bit-exact parser and serializer for the BOOTP/DHCP
// frame and its length-type-value option stream.
package codec

import (
	"encoding/binary"
	"net"
)

// Wire layout constants (RFC 951 BOOTP header + RFC 2131 DHCP extensions).
const (
	headerSize  = 236
	cookieSize  = 4
	optionsSize = 308
	MinFrameLen = headerSize + cookieSize
	MinReplyLen = 300

	Cookie uint32 = 0x63825363

	chaddrLen = 16
	snameLen  = 64
	fileLen   = 128
)

// BOOTP op codes.
const (
	OpBootRequest uint8 = 1
	OpBootReply   uint8 = 2
)

// FlagBroadcast is bit 15 of the flags field: client requests a broadcast reply.
const FlagBroadcast uint16 = 0x8000

// Message is the in-memory representation of a DHCP/BOOTP frame.
type Message struct {
	Op    uint8
	HType uint8
	HLen  uint8
	Hops  uint8
	Xid   uint32
	Secs  uint16
	Flags uint16

	CIAddr net.IP // client's current IP, present when renewing
	YIAddr net.IP // "your" IP - address being offered/confirmed
	SIAddr net.IP // next-server IP for netboot
	GIAddr net.IP // relay agent IP

	CHAddr [chaddrLen]byte
	SName  [snameLen]byte
	File   [fileLen]byte

	Options OptionSet
}

// NewReply builds the skeleton of a reply to req: op, htype, hlen, xid, flags,
// giaddr and chaddr are mirrored, as required of every DHCP server reply.
func NewReply(req *Message) *Message {
	reply := &Message{
		Op:     OpBootReply,
		HType:  req.HType,
		HLen:   req.HLen,
		Xid:    req.Xid,
		Secs:   0,
		Flags:  req.Flags,
		GIAddr: cloneIP(req.GIAddr),
		CIAddr: net.IPv4zero.To4(),
		YIAddr: net.IPv4zero.To4(),
		SIAddr: net.IPv4zero.To4(),
	}
	reply.CHAddr = req.CHAddr
	return reply
}

func cloneIP(ip net.IP) net.IP {
	if ip == nil {
		return net.IPv4zero.To4()
	}
	out := make(net.IP, 4)
	copy(out, ip.To4())
	return out
}

func putIP(b []byte, ip net.IP) {
	if ip == nil {
		return
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return
	}
	copy(b, ip4)
}

// Serialize writes the canonical wire form: 236-byte header, cookie, options in
// ascending code order, the 0xFF end marker, and zero padding to at least
// MinReplyLen total bytes (BOOTP minimum) or to the full 308-byte options
// region, whichever governs.
func (m *Message) Serialize() []byte {
	buf := make([]byte, headerSize, headerSize+cookieSize+optionsSize)

	buf[0] = m.Op
	buf[1] = m.HType
	buf[2] = m.HLen
	buf[3] = m.Hops
	binary.BigEndian.PutUint32(buf[4:8], m.Xid)
	binary.BigEndian.PutUint16(buf[8:10], m.Secs)
	binary.BigEndian.PutUint16(buf[10:12], m.Flags)
	putIP(buf[12:16], m.CIAddr)
	putIP(buf[16:20], m.YIAddr)
	putIP(buf[20:24], m.SIAddr)
	putIP(buf[24:28], m.GIAddr)
	copy(buf[28:28+chaddrLen], m.CHAddr[:])
	copy(buf[44:44+snameLen], m.SName[:])
	copy(buf[108:108+fileLen], m.File[:])

	var cookie [4]byte
	binary.BigEndian.PutUint32(cookie[:], Cookie)
	buf = append(buf, cookie[:]...)

	optBytes := m.Options.encode()
	buf = append(buf, optBytes...)
	buf = append(buf, 0xFF)

	// Options region is fixed at optionsSize bytes; zero-pad the tail.
	want := headerSize + cookieSize + optionsSize
	for len(buf) < want {
		buf = append(buf, 0x00)
	}
	return buf
}

// GetOption returns the (possibly concatenated) value for code, or nil if the
// option is absent.
func (m *Message) GetOption(code uint8) []byte {
	return m.Options.Get(code)
}
