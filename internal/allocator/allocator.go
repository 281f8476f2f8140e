// Package allocator implements the pool scan that produces the next
// assignable address, consulting the lease table and an ARP probe.
package allocator

import (
	"net"
	"time"

	"github.com/AdguardTeam/golibs/log"

	"github.com/udhcpd-go/udhcpd/internal/leases"
	"github.com/udhcpd-go/udhcpd/internal/metrics"
)

// Prober answers whether an address is already in use on the wire;
// satisfied by netutil.Prober.
type Prober interface {
	Probe(target net.IP) (taken bool, err error)
}

// Allocator scans [PoolStart, PoolEnd] for an address that is neither leased
// nor answering ARP.
type Allocator struct {
	Table       *leases.Table
	Prober      Prober
	PoolStart   uint32 // host order
	PoolEnd     uint32 // host order
	ConflictTTL time.Duration
	Metrics     *metrics.Collectors // optional
}

// FindAddress scans the pool in host order, skipping the network (.0) and
// broadcast (.255) host octets. A candidate is returnable iff no lease record
// holds it, or checkExpired is true and the record holding it has expired,
// and the ARP probe hears no reply (a probe error counts as no reply). A
// reply marks the candidate as a conflict reservation for ConflictTTL and
// the scan continues. Returns nil if the pool is exhausted.
func (a *Allocator) FindAddress(checkExpired bool, now time.Time) (net.IP, error) {
	for v := a.PoolStart; v <= a.PoolEnd; v++ {
		low := v & 0xFF
		if low == 0 || low == 0xFF {
			continue
		}

		candidate := toIP(v)

		if rec := a.Table.FindByYIAddr(candidate); rec != nil {
			if !checkExpired || !rec.Expired(now) {
				continue
			}
		}

		if a.Metrics != nil {
			a.Metrics.ARPProbes.Inc()
		}
		taken, err := a.Prober.Probe(candidate)
		if err != nil {
			log.Debug("allocator: ARP probe for %s failed: %s, treating as free", candidate, err)
			return candidate, nil
		}
		if taken {
			log.Info("allocator: %s answered ARP, reserving as conflict for %s", candidate, a.ConflictTTL)
			var zeroMAC [16]byte
			a.Table.Add(zeroMAC, candidate, int64(a.ConflictTTL/time.Second), now)
			continue
		}

		return candidate, nil
	}

	return nil, nil
}

func toIP(hostOrder uint32) net.IP {
	ip := make(net.IP, 4)
	ip[0] = byte(hostOrder >> 24)
	ip[1] = byte(hostOrder >> 16)
	ip[2] = byte(hostOrder >> 8)
	ip[3] = byte(hostOrder)
	return ip
}
