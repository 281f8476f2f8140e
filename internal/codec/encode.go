package codec

import (
	"encoding/binary"
	"fmt"
	"net"
)

// EncodeIP returns the 4-byte big-endian encoding of an IPv4 address.
func EncodeIP(ip net.IP) ([]byte, error) {
	ip4 := ip.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("codec: %s is not an IPv4 address", ip)
	}
	return []byte(ip4), nil
}

// EncodeIPPair returns the 8-byte encoding of two IPv4 addresses back to back.
func EncodeIPPair(a, b net.IP) ([]byte, error) {
	av, err := EncodeIP(a)
	if err != nil {
		return nil, err
	}
	bv, err := EncodeIP(b)
	if err != nil {
		return nil, err
	}
	return append(av, bv...), nil
}

// EncodeString truncates s to MaxOptionLen bytes, the registry's bound for
// variable string-typed options.
func EncodeString(s string) []byte {
	b := []byte(s)
	if len(b) > MaxOptionLen {
		b = b[:MaxOptionLen]
	}
	return b
}

// EncodeBoolean encodes a yes/no option as a single 0x00/0x01 byte.
func EncodeBoolean(v bool) []byte {
	if v {
		return []byte{0x01}
	}
	return []byte{0x00}
}

// EncodeU8 encodes a single unsigned byte.
func EncodeU8(v uint8) []byte { return []byte{v} }

// EncodeU16 encodes a big-endian uint16.
func EncodeU16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

// EncodeS16 encodes a big-endian int16.
func EncodeS16(v int16) []byte { return EncodeU16(uint16(v)) }

// EncodeU32 encodes a big-endian uint32.
func EncodeU32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// EncodeS32 encodes a big-endian int32.
func EncodeS32(v int32) []byte { return EncodeU32(uint32(v)) }

// DecodeIP reads a 4-byte IPv4 address from the front of b.
func DecodeIP(b []byte) (net.IP, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("codec: short IP value (%d bytes)", len(b))
	}
	ip := make(net.IP, 4)
	copy(ip, b[:4])
	return ip, nil
}

// DecodeU32 reads a big-endian uint32 from the front of b.
func DecodeU32(b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, fmt.Errorf("codec: short u32 value (%d bytes)", len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}
