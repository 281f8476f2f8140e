package codec

import (
	"encoding/binary"
	"net"
)

// Parse decodes a raw datagram payload into a Message. It rejects frames
// shorter than the fixed header plus cookie, frames with the wrong cookie,
// and option TLVs whose declared length would overrun the buffer. A code
// that repeats across the option stream has its values concatenated in
// order of appearance.
func Parse(b []byte) (*Message, error) {
	if len(b) < MinFrameLen {
		return nil, ErrShortFrame
	}

	m := &Message{}
	m.Op = b[0]
	m.HType = b[1]
	m.HLen = b[2]
	m.Hops = b[3]
	m.Xid = binary.BigEndian.Uint32(b[4:8])
	m.Secs = binary.BigEndian.Uint16(b[8:10])
	m.Flags = binary.BigEndian.Uint16(b[10:12])
	m.CIAddr = net.IPv4(b[12], b[13], b[14], b[15]).To4()
	m.YIAddr = net.IPv4(b[16], b[17], b[18], b[19]).To4()
	m.SIAddr = net.IPv4(b[20], b[21], b[22], b[23]).To4()
	m.GIAddr = net.IPv4(b[24], b[25], b[26], b[27]).To4()
	copy(m.CHAddr[:], b[28:28+chaddrLen])
	copy(m.SName[:], b[44:44+snameLen])
	copy(m.File[:], b[108:108+fileLen])

	cookie := binary.BigEndian.Uint32(b[headerSize : headerSize+cookieSize])
	if cookie != Cookie {
		return nil, ErrBadCookie
	}

	opts, err := parseOptions(b[headerSize+cookieSize:])
	if err != nil {
		return nil, err
	}
	m.Options = opts

	return m, nil
}

// parseOptions walks a (code, length, value) triple stream until the 0xFF end
// marker or the buffer is exhausted. code 0 is padding and consumes one byte.
func parseOptions(b []byte) (OptionSet, error) {
	var set OptionSet
	i := 0
	for i < len(b) {
		code := b[i]
		if code == 0x00 {
			i++
			continue
		}
		if code == 0xFF {
			break
		}
		if i+1 >= len(b) {
			return nil, ErrTruncatedOption
		}
		length := int(b[i+1])
		start := i + 2
		end := start + length
		if end > len(b) {
			return nil, ErrTruncatedOption
		}
		set.appendRaw(code, b[start:end])
		i = end
	}
	return set, nil
}
