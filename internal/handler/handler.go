// Package handler implements the DHCP message-processing state machine:
// DISCOVER/REQUEST/DECLINE/RELEASE/INFORM dispatch against the lease table,
// config, and allocator.
package handler

import (
	"net"
	"time"

	"github.com/AdguardTeam/golibs/log"

	"github.com/udhcpd-go/udhcpd/internal/codec"
	"github.com/udhcpd-go/udhcpd/internal/config"
	"github.com/udhcpd-go/udhcpd/internal/leases"
	"github.com/udhcpd-go/udhcpd/internal/metrics"
)

// Allocator is the subset of allocator.Allocator the handler needs.
type Allocator interface {
	FindAddress(checkExpired bool, now time.Time) (net.IP, error)
}

// Auditor records lease-table mutations for operational history. It is
// purely observational (internal/audit); a nil Auditor is valid and simply
// means nothing is recorded.
type Auditor interface {
	Record(eventType string, mac [16]byte, ip net.IP, now time.Time)
}

// Handler is the server-side state machine. It holds borrowed references to
// the shared LeaseTable/ServerConfig/Allocator; it never owns their
// lifecycle (the EventLoop does).
type Handler struct {
	Table     *leases.Table
	Config    *config.ServerConfig
	Allocator Allocator
	Audit     Auditor
	Metrics   *metrics.Collectors // optional
}

func (h *Handler) record(eventType string, mac [16]byte, ip net.IP, now time.Time) {
	if h.Audit != nil {
		h.Audit.Record(eventType, mac, ip, now)
	}
}

// Process dispatches req and returns the reply to send, or nil for a silent
// drop. A message carrying no message-type option is dropped outright.
func (h *Handler) Process(req *codec.Message, now time.Time) *codec.Message {
	msgType := req.GetOption(codec.OptMessageType)
	if len(msgType) != 1 {
		log.Debug("handler: message has no DHCP_MESSAGE_TYPE option, dropping")
		return nil
	}

	lease := h.Table.FindByCHAddr(req.CHAddr)

	switch msgType[0] {
	case codec.MsgDiscover:
		return h.discover(req, lease, now)
	case codec.MsgRequest:
		return h.request(req, lease, now)
	case codec.MsgDecline:
		h.decline(req, lease, now)
		return nil
	case codec.MsgRelease:
		h.release(req, lease, now)
		return nil
	case codec.MsgInform:
		return h.inform(req)
	default:
		log.Info("handler: unhandled message type %d, dropping", msgType[0])
		return nil
	}
}

func (h *Handler) discover(req *codec.Message, lease *leases.Record, now time.Time) *codec.Message {
	chosen := h.chooseDiscoverAddress(req, lease, now)
	if chosen == nil {
		log.Info("handler: pool exhausted, dropping DISCOVER from %x", req.CHAddr)
		if h.Metrics != nil {
			h.Metrics.PoolExhaustions.Inc()
		}
		return nil
	}

	h.Table.Add(req.CHAddr, chosen, int64(h.Config.OfferTime/time.Second), now)
	h.record("offer", req.CHAddr, chosen, now)

	reply := codec.NewReply(req)
	reply.YIAddr = chosen
	reply.SIAddr = h.Config.SIAddr
	applyBootFields(reply, h.Config)
	reply.Options = h.Config.Options.Clone()
	reply.Options.Attach(codec.OptMessageType, codec.EncodeU8(codec.MsgOffer))
	serverID, _ := codec.EncodeIP(h.Config.ServerIP)
	reply.Options.Attach(codec.OptServerID, serverID)
	reply.Options.Attach(codec.OptLeaseTime, codec.EncodeU32(uint32(h.grantLease(req))))
	return reply
}

// grantLease returns the lease duration to hand out for req. The client may
// ask for a shorter lease through its own lease-time option; the ask is
// capped at the configured default, and an ask below min_lease gets the
// full default instead.
func (h *Handler) grantLease(req *codec.Message) int64 {
	granted := h.Config.LeaseSeconds
	v := req.GetOption(codec.OptLeaseTime)
	if len(v) != 4 {
		return granted
	}
	asked, err := codec.DecodeU32(v)
	if err != nil {
		return granted
	}
	if int64(asked) < granted {
		granted = int64(asked)
	}
	if granted < int64(h.Config.MinLease/time.Second) {
		granted = h.Config.LeaseSeconds
	}
	return granted
}

// chooseDiscoverAddress picks the address to offer: the client's requested
// IP (if in-pool and free-or-owned), then lease continuity, then a fresh
// allocator scan.
func (h *Handler) chooseDiscoverAddress(req *codec.Message, lease *leases.Record, now time.Time) net.IP {
	if reqIP := req.GetOption(codec.OptRequestedIP); len(reqIP) == 4 {
		ip := net.IP(reqIP)
		if h.Table.InPool(ip) {
			owner := h.Table.FindByYIAddr(ip)
			if owner == nil || macEqual(owner.CHAddr, req.CHAddr) {
				return ip
			}
		}
	}

	if lease != nil {
		return lease.YIAddr
	}

	addr, err := h.Allocator.FindAddress(false, now)
	if err != nil {
		log.Error("handler: allocator error: %s", err)
		return nil
	}
	if addr == nil {
		addr, err = h.Allocator.FindAddress(true, now)
		if err != nil {
			log.Error("handler: allocator error: %s", err)
			return nil
		}
	}
	return addr
}

func (h *Handler) request(req *codec.Message, lease *leases.Record, now time.Time) *codec.Message {
	reqIP, hasReq := decodeIPOption(req.GetOption(codec.OptRequestedIP))
	sid, hasSID := decodeIPOption(req.GetOption(codec.OptServerID))

	switch {
	case lease != nil && hasSID:
		// SELECTING: client is confirming with a specific server.
		if sid.Equal(h.Config.ServerIP) && hasReq && reqIP.Equal(lease.YIAddr) {
			return h.ack(req, lease.YIAddr, now)
		}
		log.Debug("handler: REQUEST selecting another server, dropping")
		return nil

	case lease != nil && !hasSID && hasReq:
		// INIT-REBOOT.
		if reqIP.Equal(lease.YIAddr) {
			return h.ack(req, lease.YIAddr, now)
		}
		return h.nak(req, now)

	case lease != nil && !hasSID && !hasReq:
		// RENEWING/REBINDING.
		if req.CIAddr != nil && req.CIAddr.Equal(lease.YIAddr) {
			return h.ack(req, lease.YIAddr, now)
		}
		return h.nak(req, now)

	case lease == nil && hasSID:
		// SELECTING another server, no lease of our own on record.
		log.Debug("handler: REQUEST from unknown client selecting another server, dropping")
		return nil

	case lease == nil && !hasSID && hasReq:
		return h.requestUnknownInitReboot(req, reqIP, now)

	default: // lease == nil && !hasSID && !hasReq
		log.Debug("handler: RENEWING/REBINDING from unknown client, dropping")
		return nil
	}
}

// requestUnknownInitReboot handles an INIT-REBOOT REQUEST from a client this
// table has no record of under its own chaddr.
func (h *Handler) requestUnknownInitReboot(req *codec.Message, reqIP net.IP, now time.Time) *codec.Message {
	owner := h.Table.FindByYIAddr(reqIP)
	switch {
	case owner != nil && owner.Expired(now):
		// Recycle silently: the old owner's lease elapsed, so the slot is
		// freed for reuse, but neither an ACK nor a NAK goes out. The
		// client's next DISCOVER picks the address up through the normal
		// offer path.
		owner.CHAddr = [16]byte{}
		log.Debug("handler: recycling expired lease on %s for unknown INIT-REBOOT client", reqIP)
		return nil
	case owner != nil:
		return h.nak(req, now)
	case !h.Table.InPool(reqIP):
		return h.nak(req, now)
	default:
		return nil
	}
}

func (h *Handler) ack(req *codec.Message, yiaddr net.IP, now time.Time) *codec.Message {
	granted := h.grantLease(req)
	h.Table.Add(req.CHAddr, yiaddr, granted, now)
	h.record("ack", req.CHAddr, yiaddr, now)

	reply := codec.NewReply(req)
	reply.YIAddr = yiaddr
	reply.SIAddr = h.Config.SIAddr
	applyBootFields(reply, h.Config)
	reply.Options = h.Config.Options.Clone()
	reply.Options.Attach(codec.OptMessageType, codec.EncodeU8(codec.MsgAck))
	serverID, _ := codec.EncodeIP(h.Config.ServerIP)
	reply.Options.Attach(codec.OptServerID, serverID)
	reply.Options.Attach(codec.OptLeaseTime, codec.EncodeU32(uint32(granted)))
	return reply
}

func (h *Handler) nak(req *codec.Message, now time.Time) *codec.Message {
	h.record("nak", req.CHAddr, nil, now)

	reply := codec.NewReply(req)
	reply.YIAddr = net.IPv4zero.To4()
	reply.Flags = codec.FlagBroadcast
	reply.Options.Attach(codec.OptMessageType, codec.EncodeU8(codec.MsgNak))
	serverID, _ := codec.EncodeIP(h.Config.ServerIP)
	reply.Options.Attach(codec.OptServerID, serverID)
	return reply
}

func (h *Handler) decline(req *codec.Message, lease *leases.Record, now time.Time) {
	if lease == nil {
		return
	}
	lease.CHAddr = [16]byte{}
	lease.Expires = now.Unix() + int64(h.Config.DeclineTime/time.Second)
	h.record("decline", req.CHAddr, lease.YIAddr, now)
	if h.Metrics != nil {
		h.Metrics.Declines.Inc()
	}
}

func (h *Handler) release(req *codec.Message, lease *leases.Record, now time.Time) {
	if lease == nil {
		return
	}
	lease.Expires = now.Unix()
	h.record("release", req.CHAddr, lease.YIAddr, now)
	if h.Metrics != nil {
		h.Metrics.Releases.Inc()
	}
}

func (h *Handler) inform(req *codec.Message) *codec.Message {
	reply := codec.NewReply(req)
	reply.YIAddr = net.IPv4zero.To4()
	applyBootFields(reply, h.Config)
	reply.Options = h.Config.Options.Clone()
	reply.Options.Attach(codec.OptMessageType, codec.EncodeU8(codec.MsgAck))
	serverID, _ := codec.EncodeIP(h.Config.ServerIP)
	reply.Options.Attach(codec.OptServerID, serverID)
	return reply
}

func applyBootFields(reply *codec.Message, cfg *config.ServerConfig) {
	reply.SName = [64]byte{}
	reply.File = [128]byte{}
	copy(reply.SName[:], cfg.SName)
	copy(reply.File[:], cfg.BootFile)
}

func decodeIPOption(b []byte) (net.IP, bool) {
	if len(b) != 4 {
		return nil, false
	}
	return net.IP(b), true
}

func macEqual(a, b [16]byte) bool { return a == b }
