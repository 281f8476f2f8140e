package netutil

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ipv4(a, b, c, d byte) net.IP { return net.IPv4(a, b, c, d).To4() }

func TestBuildUDPHeaderFieldsAndLength(t *testing.T) {
	payload := []byte{1, 2, 3, 4}
	udp := buildUDP(ipv4(192, 168, 0, 1), ipv4(192, 168, 0, 2), 67, 68, payload)

	require.Len(t, udp, 8+len(payload))
	assert.Equal(t, uint16(67), binary.BigEndian.Uint16(udp[0:2]))
	assert.Equal(t, uint16(68), binary.BigEndian.Uint16(udp[2:4]))
	assert.Equal(t, uint16(8+len(payload)), binary.BigEndian.Uint16(udp[4:6]))
	assert.Equal(t, payload, udp[8:])
}

func TestBuildIPv4HeaderFieldsAndChecksum(t *testing.T) {
	udp := []byte{0, 0, 0, 0, 0, 8, 0, 0}
	ip := buildIPv4(ipv4(192, 168, 0, 1), ipv4(255, 255, 255, 255), udp)

	require.Len(t, ip, 20+len(udp))
	assert.Equal(t, byte(0x45), ip[0])
	assert.Equal(t, uint16(20+len(udp)), binary.BigEndian.Uint16(ip[2:4]))
	assert.Equal(t, byte(17), ip[9]) // protocol UDP
	assert.True(t, net.IP(ip[12:16]).Equal(ipv4(192, 168, 0, 1)))
	assert.True(t, net.IP(ip[16:20]).Equal(ipv4(255, 255, 255, 255)))
	assert.Equal(t, uint16(0), ipChecksum(ip[:20])) // a correctly-stamped header checksums to zero
}

type fakeRawWriter struct {
	payload []byte
	destMAC net.HardwareAddr
}

func (f *fakeRawWriter) WriteTo(b []byte, destMAC net.HardwareAddr) (int, error) {
	f.payload = append([]byte(nil), b...)
	f.destMAC = destMAC
	return len(b), nil
}

func TestRawSenderSendWrapsPayloadInEthernetFrame(t *testing.T) {
	w := &fakeRawWriter{}
	mac := net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	s := NewRawSender(w, ipv4(192, 168, 0, 1), net.HardwareAddr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}, 67, 68)

	err := s.Send([]byte("reply"), ipv4(192, 168, 0, 99), mac)

	require.NoError(t, err)
	assert.Equal(t, mac, w.destMAC)
	// ethernet header (14 bytes) + ip header (20) + udp header (8) + payload,
	// possibly zero-padded up to the ethernet minimum payload length
	require.GreaterOrEqual(t, len(w.payload), 14+20+8+len("reply"))
	assert.Equal(t, mac, net.HardwareAddr(w.payload[0:6]))
	// the IP header's total-length field sees through any link-layer padding
	assert.Equal(t, uint16(20+8+len("reply")), binary.BigEndian.Uint16(w.payload[14+2:14+4]))
}
