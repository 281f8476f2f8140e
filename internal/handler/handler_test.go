package handler

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udhcpd-go/udhcpd/internal/codec"
	"github.com/udhcpd-go/udhcpd/internal/config"
	"github.com/udhcpd-go/udhcpd/internal/leases"
)

func ipv4(a, b, c, d byte) net.IP { return net.IPv4(a, b, c, d).To4() }

func mac(last byte) [16]byte {
	var m [16]byte
	m[5] = last
	return m
}

// stubAllocator returns addresses from a fixed queue, in order, regardless
// of the checkExpired argument.
type stubAllocator struct {
	queue []net.IP
	i     int
}

func (a *stubAllocator) FindAddress(checkExpired bool, now time.Time) (net.IP, error) {
	if a.i >= len(a.queue) {
		return nil, nil
	}
	ip := a.queue[a.i]
	a.i++
	return ip, nil
}

func newTestHandler(t *testing.T, alloc Allocator) (*Handler, *leases.Table) {
	t.Helper()
	tb := leases.NewTable(8, hostOrderOf(ipv4(192, 168, 0, 20)), hostOrderOf(ipv4(192, 168, 0, 25)))
	cfg := &config.ServerConfig{
		ServerIP:     ipv4(192, 168, 0, 1),
		SIAddr:       ipv4(0, 0, 0, 0),
		LeaseSeconds: 3600,
		OfferTime:    60 * time.Second,
		DeclineTime:  3600 * time.Second,
		MinLease:     60 * time.Second,
	}
	return &Handler{Table: tb, Config: cfg, Allocator: alloc}, tb
}

func hostOrderOf(ip net.IP) uint32 {
	ip4 := ip.To4()
	return uint32(ip4[0])<<24 | uint32(ip4[1])<<16 | uint32(ip4[2])<<8 | uint32(ip4[3])
}

func discoverMsg(chaddr [16]byte, requestedIP net.IP) *codec.Message {
	m := &codec.Message{Op: codec.OpBootRequest, CHAddr: chaddr, Xid: 42}
	m.CIAddr = net.IPv4zero.To4()
	m.Options.Attach(codec.OptMessageType, codec.EncodeU8(codec.MsgDiscover))
	if requestedIP != nil {
		m.Options.Attach(codec.OptRequestedIP, []byte(requestedIP.To4()))
	}
	return m
}

func TestDiscoverHonorsRequestedIPWhenFree(t *testing.T) {
	h, _ := newTestHandler(t, &stubAllocator{})
	now := time.Unix(1000, 0)

	req := discoverMsg(mac(1), ipv4(192, 168, 0, 22))
	reply := h.Process(req, now)
	require.NotNil(t, reply)
	assert.True(t, reply.YIAddr.Equal(ipv4(192, 168, 0, 22)))
	assert.Equal(t, []byte{byte(codec.MsgOffer)}, reply.GetOption(codec.OptMessageType))
}

func TestDiscoverFallsBackToAllocatorWhenNoLeaseOrRequestedIP(t *testing.T) {
	h, _ := newTestHandler(t, &stubAllocator{queue: []net.IP{ipv4(192, 168, 0, 24)}})
	now := time.Unix(1000, 0)

	req := discoverMsg(mac(2), nil)
	reply := h.Process(req, now)
	require.NotNil(t, reply)
	assert.True(t, reply.YIAddr.Equal(ipv4(192, 168, 0, 24)))
}

func TestDiscoverOffersExistingLeaseForRenewalContinuity(t *testing.T) {
	h, tb := newTestHandler(t, &stubAllocator{})
	now := time.Unix(1000, 0)
	tb.Add(mac(3), ipv4(192, 168, 0, 21), 3600, now)

	req := discoverMsg(mac(3), nil)
	reply := h.Process(req, now)
	require.NotNil(t, reply)
	assert.True(t, reply.YIAddr.Equal(ipv4(192, 168, 0, 21)))
}

func TestDiscoverDropsOnPoolExhaustion(t *testing.T) {
	h, _ := newTestHandler(t, &stubAllocator{})
	now := time.Unix(1000, 0)

	req := discoverMsg(mac(4), nil)
	reply := h.Process(req, now)
	assert.Nil(t, reply)
}

func requestMsg(chaddr [16]byte, ciaddr, reqIP, serverID net.IP) *codec.Message {
	m := &codec.Message{Op: codec.OpBootRequest, CHAddr: chaddr, Xid: 7}
	m.CIAddr = net.IPv4zero.To4()
	if ciaddr != nil {
		m.CIAddr = ciaddr.To4()
	}
	m.Options.Attach(codec.OptMessageType, codec.EncodeU8(codec.MsgRequest))
	if reqIP != nil {
		m.Options.Attach(codec.OptRequestedIP, []byte(reqIP.To4()))
	}
	if serverID != nil {
		m.Options.Attach(codec.OptServerID, []byte(serverID.To4()))
	}
	return m
}

func TestRequestSelectingMatchingServerAcks(t *testing.T) {
	h, tb := newTestHandler(t, &stubAllocator{})
	now := time.Unix(1000, 0)
	tb.Add(mac(1), ipv4(192, 168, 0, 20), 3600, now)

	req := requestMsg(mac(1), nil, ipv4(192, 168, 0, 20), ipv4(192, 168, 0, 1))
	reply := h.Process(req, now)
	require.NotNil(t, reply)
	assert.Equal(t, []byte{byte(codec.MsgAck)}, reply.GetOption(codec.OptMessageType))
	assert.True(t, reply.YIAddr.Equal(ipv4(192, 168, 0, 20)))
}

func TestRequestSelectingOtherServerDrops(t *testing.T) {
	h, tb := newTestHandler(t, &stubAllocator{})
	now := time.Unix(1000, 0)
	tb.Add(mac(1), ipv4(192, 168, 0, 20), 3600, now)

	req := requestMsg(mac(1), nil, ipv4(192, 168, 0, 20), ipv4(192, 168, 0, 99))
	reply := h.Process(req, now)
	assert.Nil(t, reply)
}

func TestRequestInitRebootMismatchNaks(t *testing.T) {
	h, tb := newTestHandler(t, &stubAllocator{})
	now := time.Unix(1000, 0)
	tb.Add(mac(1), ipv4(192, 168, 0, 20), 3600, now)

	req := requestMsg(mac(1), nil, ipv4(192, 168, 0, 21), nil)
	reply := h.Process(req, now)
	require.NotNil(t, reply)
	assert.Equal(t, []byte{byte(codec.MsgNak)}, reply.GetOption(codec.OptMessageType))
	assert.True(t, reply.YIAddr.Equal(net.IPv4zero.To4()))
}

func TestRequestRenewingMatchesCiaddr(t *testing.T) {
	h, tb := newTestHandler(t, &stubAllocator{})
	now := time.Unix(1000, 0)
	tb.Add(mac(1), ipv4(192, 168, 0, 20), 3600, now)

	req := requestMsg(mac(1), ipv4(192, 168, 0, 20), nil, nil)
	reply := h.Process(req, now)
	require.NotNil(t, reply)
	assert.Equal(t, []byte{byte(codec.MsgAck)}, reply.GetOption(codec.OptMessageType))
}

func TestAckGrantsClientRequestedShorterLease(t *testing.T) {
	h, tb := newTestHandler(t, &stubAllocator{})
	now := time.Unix(1000, 0)
	tb.Add(mac(1), ipv4(192, 168, 0, 20), 3600, now)

	req := requestMsg(mac(1), ipv4(192, 168, 0, 20), nil, nil)
	req.Options.Attach(codec.OptLeaseTime, codec.EncodeU32(600))
	reply := h.Process(req, now)
	require.NotNil(t, reply)
	assert.Equal(t, codec.EncodeU32(600), reply.GetOption(codec.OptLeaseTime))
	assert.Equal(t, int64(1600), tb.FindByCHAddr(mac(1)).Expires)
}

func TestAskBelowMinLeaseGetsFullDefault(t *testing.T) {
	h, tb := newTestHandler(t, &stubAllocator{})
	now := time.Unix(1000, 0)
	tb.Add(mac(1), ipv4(192, 168, 0, 20), 3600, now)

	req := requestMsg(mac(1), ipv4(192, 168, 0, 20), nil, nil)
	req.Options.Attach(codec.OptLeaseTime, codec.EncodeU32(5))
	reply := h.Process(req, now)
	require.NotNil(t, reply)
	assert.Equal(t, codec.EncodeU32(3600), reply.GetOption(codec.OptLeaseTime))
}

func TestRequestUnknownInitRebootRecyclesExpiredSilently(t *testing.T) {
	h, tb := newTestHandler(t, &stubAllocator{})
	now := time.Unix(1000, 0)
	tb.Add(mac(9), ipv4(192, 168, 0, 20), -10, now) // already expired

	req := requestMsg(mac(1), nil, ipv4(192, 168, 0, 20), nil)
	reply := h.Process(req, now)
	assert.Nil(t, reply)

	rec := tb.FindByYIAddr(ipv4(192, 168, 0, 20))
	require.NotNil(t, rec)
	assert.True(t, rec.IsConflict(), "recycled record's chaddr should be cleared")
}

func TestRequestUnknownInitRebootLiveLeaseNaks(t *testing.T) {
	h, tb := newTestHandler(t, &stubAllocator{})
	now := time.Unix(1000, 0)
	tb.Add(mac(9), ipv4(192, 168, 0, 20), 3600, now)

	req := requestMsg(mac(1), nil, ipv4(192, 168, 0, 20), nil)
	reply := h.Process(req, now)
	require.NotNil(t, reply)
	assert.Equal(t, []byte{byte(codec.MsgNak)}, reply.GetOption(codec.OptMessageType))
}

func TestDeclineQuarantinesAddress(t *testing.T) {
	h, tb := newTestHandler(t, &stubAllocator{})
	now := time.Unix(1000, 0)
	tb.Add(mac(1), ipv4(192, 168, 0, 20), 3600, now)

	req := &codec.Message{CHAddr: mac(1)}
	req.Options.Attach(codec.OptMessageType, codec.EncodeU8(codec.MsgDecline))
	reply := h.Process(req, now)
	assert.Nil(t, reply)

	rec := tb.FindByYIAddr(ipv4(192, 168, 0, 20))
	require.NotNil(t, rec)
	assert.True(t, rec.IsConflict())
	assert.Equal(t, int64(1000+3600), rec.Expires)
}

func TestReleaseMakesAddressImmediatelyRecyclable(t *testing.T) {
	h, tb := newTestHandler(t, &stubAllocator{})
	now := time.Unix(1000, 0)
	tb.Add(mac(1), ipv4(192, 168, 0, 20), 3600, now)

	req := &codec.Message{CHAddr: mac(1)}
	req.Options.Attach(codec.OptMessageType, codec.EncodeU8(codec.MsgRelease))
	reply := h.Process(req, now)
	assert.Nil(t, reply)

	assert.NotNil(t, tb.OldestExpired(now))

	rec := tb.FindByCHAddr(mac(1))
	require.NotNil(t, rec)
	assert.Equal(t, now.Unix(), rec.Expires)
	assert.True(t, rec.Expired(now.Add(time.Second)))
}

func TestInformReturnsAckShapedReplyWithNoAddress(t *testing.T) {
	h, _ := newTestHandler(t, &stubAllocator{})
	now := time.Unix(1000, 0)

	req := &codec.Message{CHAddr: mac(1)}
	req.CIAddr = net.IPv4zero.To4()
	req.Options.Attach(codec.OptMessageType, codec.EncodeU8(codec.MsgInform))
	reply := h.Process(req, now)
	require.NotNil(t, reply)
	assert.Equal(t, []byte{byte(codec.MsgAck)}, reply.GetOption(codec.OptMessageType))
	assert.True(t, reply.YIAddr.Equal(net.IPv4zero.To4()))
	assert.Nil(t, reply.GetOption(codec.OptLeaseTime))
}

func TestMessageWithoutTypeOptionIsDropped(t *testing.T) {
	h, _ := newTestHandler(t, &stubAllocator{})
	now := time.Unix(1000, 0)

	req := &codec.Message{CHAddr: mac(1)}
	reply := h.Process(req, now)
	assert.Nil(t, reply)
}
