package codec

import (
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMessage() *Message {
	m := &Message{
		Op:     OpBootRequest,
		HType:  1,
		HLen:   6,
		Xid:    0xdeadbeef,
		Flags:  FlagBroadcast,
		CIAddr: net.IPv4(0, 0, 0, 0).To4(),
		YIAddr: net.IPv4(192, 168, 0, 20).To4(),
		SIAddr: net.IPv4(0, 0, 0, 0).To4(),
		GIAddr: net.IPv4(0, 0, 0, 0).To4(),
	}
	copy(m.CHAddr[:], []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x01})
	m.Options.Attach(OptMessageType, EncodeU8(MsgDiscover))
	m.Options.Attach(OptRequestedIP, []byte{192, 168, 0, 20})
	return m
}

func TestSerializeParseRoundTrip(t *testing.T) {
	m := sampleMessage()
	wire := m.Serialize()

	require.GreaterOrEqual(t, len(wire), MinReplyLen)

	parsed, err := Parse(wire)
	require.NoError(t, err)

	assert.Equal(t, m.Xid, parsed.Xid)
	assert.Equal(t, m.Flags, parsed.Flags)
	assert.True(t, m.YIAddr.Equal(parsed.YIAddr))
	assert.Equal(t, m.CHAddr, parsed.CHAddr)
	assert.Equal(t, []byte{byte(MsgDiscover)}, parsed.GetOption(OptMessageType))
	assert.Equal(t, []byte{192, 168, 0, 20}, parsed.GetOption(OptRequestedIP))

	// canonicalized re-serialization is stable
	wire2 := parsed.Serialize()
	assert.Empty(t, cmp.Diff(wire, wire2))
}

func TestParseShortFrame(t *testing.T) {
	_, err := Parse(make([]byte, MinFrameLen-1))
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestParseBadCookie(t *testing.T) {
	b := make([]byte, MinFrameLen)
	b[headerSize] = 0x00 // wrong cookie byte
	_, err := Parse(b)
	assert.ErrorIs(t, err, ErrBadCookie)
}

func TestParseTruncatedOption(t *testing.T) {
	b := make([]byte, MinFrameLen+2)
	b[headerSize] = 0x63
	b[headerSize+1] = 0x82
	b[headerSize+2] = 0x53
	b[headerSize+3] = 0x63
	// option code 53, declared length 10, but buffer ends right after
	b[headerSize+4] = 53
	b[headerSize+5] = 10
	_, err := Parse(b)
	assert.ErrorIs(t, err, ErrTruncatedOption)
}

func TestParsePadAndEnd(t *testing.T) {
	opts := []byte{0x00, 0x00, 53, 1, byte(MsgDiscover), 0xFF, 0x00, 0x00}
	b := buildFrame(opts)
	m, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(MsgDiscover)}, m.GetOption(OptMessageType))
}

func TestDuplicateCodeConcatenatesOnParse(t *testing.T) {
	opts := []byte{
		3, 4, 192, 168, 0, 1,
		3, 4, 10, 0, 0, 1,
		0xFF,
	}
	b := buildFrame(opts)
	m, err := Parse(b)
	require.NoError(t, err)
	got := m.GetOption(OptRouter)
	want := []byte{192, 168, 0, 1, 10, 0, 0, 1}
	assert.Equal(t, want, got)
}

func TestOptionSetAttachKeepsAscendingOrder(t *testing.T) {
	var s OptionSet
	s.Attach(55, []byte{1})
	s.Attach(1, []byte{255, 255, 255, 0})
	s.Attach(53, []byte{byte(MsgOffer)})

	enc := s.encode()
	// first byte of each TLV is the code; codes must appear ascending
	var codes []uint8
	for i := 0; i < len(enc); {
		code := enc[i]
		length := int(enc[i+1])
		codes = append(codes, code)
		i += 2 + length
	}
	assert.Equal(t, []uint8{1, 53, 55}, codes)
}

func TestOptionSetAttachRepeatableConcatenates(t *testing.T) {
	var s OptionSet
	s.Attach(OptRouter, []byte{192, 168, 0, 1})
	s.Attach(OptRouter, []byte{192, 168, 0, 2})
	assert.Equal(t, []byte{192, 168, 0, 1, 192, 168, 0, 2}, s.Get(OptRouter))
}

func TestOptionSetAttachNonRepeatableOverwrites(t *testing.T) {
	var s OptionSet
	s.Attach(OptSubnetMask, []byte{255, 255, 255, 0})
	s.Attach(OptSubnetMask, []byte{255, 255, 0, 0})
	assert.Equal(t, []byte{255, 255, 0, 0}, s.Get(OptSubnetMask))
}

// buildFrame wraps a raw options byte stream in a minimal valid header + cookie.
func buildFrame(opts []byte) []byte {
	b := make([]byte, headerSize+cookieSize)
	b[headerSize] = 0x63
	b[headerSize+1] = 0x82
	b[headerSize+2] = 0x53
	b[headerSize+3] = 0x63
	return append(b, opts...)
}
