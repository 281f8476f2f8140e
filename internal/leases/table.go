// Package leases implements the fixed-capacity lease table and its
// persistence codec.
package leases

import (
	"bytes"
	"net"
	"time"
)

// Record is one slot of the lease table. A zero YIAddr denotes an empty
// slot; an all-zero CHAddr with a non-zero YIAddr denotes a conflict
// reservation (the address was found occupied on the wire by an unknown
// host).
type Record struct {
	CHAddr  [16]byte
	YIAddr  net.IP // always a 4-byte net.IP, or nil for an empty slot
	Expires int64  // unix seconds
}

var zeroCHAddr [16]byte

func (r *Record) isEmpty() bool {
	return len(r.YIAddr) == 0 || r.YIAddr.Equal(net.IPv4zero)
}

// IsConflict reports whether r is a conflict reservation (chaddr sentinel).
func (r *Record) IsConflict() bool {
	return r.CHAddr == zeroCHAddr
}

// Expired reports whether r's lease has already elapsed at now.
func (r *Record) Expired(now time.Time) bool {
	return r.Expires < now.Unix()
}

// Table is the fixed-length array of lease records. It is owned exclusively
// by the event loop and mutated only by the handler; there is no internal
// locking.
type Table struct {
	records  []Record
	poolLow  uint32 // host-order pool_start
	poolHigh uint32 // host-order pool_end
}

// NewTable allocates a zero-initialized table of the given capacity, scoped
// to the inclusive [poolLow, poolHigh] host-order address range used to
// validate loaded records.
func NewTable(maxLeases int, poolLow, poolHigh uint32) *Table {
	return &Table{
		records:  make([]Record, maxLeases),
		poolLow:  poolLow,
		poolHigh: poolHigh,
	}
}

// Len returns the table's fixed capacity.
func (t *Table) Len() int { return len(t.records) }

// All returns a read-only view of every live (non-empty) slot, for callers
// that need to enumerate the table (e.g. persistence, diagnostics).
func (t *Table) All() []Record {
	out := make([]Record, 0, len(t.records))
	for _, r := range t.records {
		if !r.isEmpty() {
			out = append(out, r)
		}
	}
	return out
}

func macEqual(a, b [16]byte) bool {
	return bytes.Equal(a[:], b[:])
}

// FindByCHAddr returns the first slot whose CHAddr equals mac. Callers must
// not pass the all-zero sentinel: it denotes the absence of a real lease,
// not a lookup key.
func (t *Table) FindByCHAddr(mac [16]byte) *Record {
	if mac == zeroCHAddr {
		return nil
	}
	for i := range t.records {
		if !t.records[i].isEmpty() && macEqual(t.records[i].CHAddr, mac) {
			return &t.records[i]
		}
	}
	return nil
}

// FindByYIAddr returns the first slot with matching non-zero YIAddr.
func (t *Table) FindByYIAddr(ip net.IP) *Record {
	ip4 := ip.To4()
	if ip4 == nil || ip4.Equal(net.IPv4zero) {
		return nil
	}
	for i := range t.records {
		if !t.records[i].isEmpty() && t.records[i].YIAddr.Equal(ip4) {
			return &t.records[i]
		}
	}
	return nil
}

// Clear zeroes every slot where (mac is non-sentinel and matches) OR
// (ip is non-zero and matches).
func (t *Table) Clear(mac [16]byte, ip net.IP) {
	hasMAC := mac != zeroCHAddr
	ip4 := ip.To4()
	hasIP := ip4 != nil && !ip4.Equal(net.IPv4zero)

	for i := range t.records {
		matchMAC := hasMAC && macEqual(t.records[i].CHAddr, mac)
		matchIP := hasIP && t.records[i].YIAddr.Equal(ip4)
		if matchMAC || matchIP {
			t.records[i] = Record{}
		}
	}
}

// OldestExpired returns the slot with the smallest Expires strictly less
// than now, breaking ties by lowest index. Returns nil if no slot has
// already expired (note: this also matches empty slots, whose Expires is 0
// and so is always "expired").
func (t *Table) OldestExpired(now time.Time) *Record {
	var oldest *Record
	var oldestExpires int64 = now.Unix()
	for i := range t.records {
		if t.records[i].Expires < oldestExpires {
			oldestExpires = t.records[i].Expires
			oldest = &t.records[i]
		}
	}
	return oldest
}

// Add clears any existing entries keyed by mac or ip, then reuses the
// oldest-expired slot, writing (mac, ip, now+leaseSecs). Returns nil iff no
// expired slot exists (the table is full of live leases).
func (t *Table) Add(mac [16]byte, ip net.IP, leaseSecs int64, now time.Time) *Record {
	t.Clear(mac, ip)

	slot := t.OldestExpired(now)
	if slot == nil {
		return nil
	}

	ip4 := make(net.IP, 4)
	copy(ip4, ip.To4())
	slot.CHAddr = mac
	slot.YIAddr = ip4
	slot.Expires = now.Unix() + leaseSecs
	return slot
}

// InPool reports whether ip falls within [poolLow, poolHigh] and its low
// octet is neither 0 nor 255 (network/broadcast hosts are always excluded).
func (t *Table) InPool(ip net.IP) bool {
	ip4 := ip.To4()
	if ip4 == nil {
		return false
	}
	v := hostOrder(ip4)
	low := v & 0xFF
	if low == 0 || low == 0xFF {
		return false
	}
	return v >= t.poolLow && v <= t.poolHigh
}

func hostOrder(ip net.IP) uint32 {
	ip4 := ip.To4()
	return uint32(ip4[0])<<24 | uint32(ip4[1])<<16 | uint32(ip4[2])<<8 | uint32(ip4[3])
}
