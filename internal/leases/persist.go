package leases

import (
	"bytes"
	"encoding/binary"
	"net"
	"os"
	"time"

	"github.com/AdguardTeam/golibs/file"
	"github.com/AdguardTeam/golibs/log"
)

const recordSize = 16 + 4 + 4 // chaddr || yiaddr || lease_time

// Flush writes every live slot to path as packed
// chaddr[16] || yiaddr[4] || lease_time[4] records, truncating the file
// first. When remaining is true, lease_time is the seconds remaining until
// expiry (0 if already expired); otherwise it is the absolute expiry unix
// time. The write is a whole-file rewrite via an atomic rename, so a reader
// never observes a partial record.
func (t *Table) Flush(path string, remaining bool, now time.Time) error {
	var buf bytes.Buffer
	for _, r := range t.records {
		if r.isEmpty() {
			continue
		}

		var leaseTime uint32
		if remaining {
			if r.Expired(now) {
				leaseTime = 0
			} else {
				leaseTime = uint32(r.Expires - now.Unix())
			}
		} else {
			leaseTime = uint32(r.Expires)
		}

		buf.Write(r.CHAddr[:])
		ip4 := r.YIAddr.To4()
		buf.Write(ip4)
		var tb [4]byte
		binary.BigEndian.PutUint32(tb[:], leaseTime)
		buf.Write(tb[:])
	}

	if err := file.SafeWrite(path, buf.Bytes()); err != nil {
		return err
	}
	log.Info("leases: flushed %d records to %s", len(t.All()), path)
	return nil
}

// LoadFile reads path and feeds its contents to Load. A missing file is not
// an error: a freshly installed daemon has no lease file yet.
func (t *Table) LoadFile(path string, remaining bool, now time.Time) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug("leases: %s does not exist, starting with an empty table", path)
			return nil
		}
		return err
	}
	t.Load(data, remaining, now)
	return nil
}

// Load reads fixed 24-byte records from data until its end or the table's
// capacity is reached, dropping any record whose address falls outside the
// configured pool. When remaining is true the stored lease_time is a
// countdown and is converted back to an absolute expiry by adding now.
// Loading stops early, with a warning, if the table fills before EOF.
func (t *Table) Load(data []byte, remaining bool, now time.Time) {
	loaded := 0
	for off := 0; off+recordSize <= len(data); off += recordSize {
		rec := data[off : off+recordSize]

		var mac [16]byte
		copy(mac[:], rec[:16])
		ip := net.IP(append([]byte(nil), rec[16:20]...))
		leaseTime := binary.BigEndian.Uint32(rec[20:24])

		if !t.InPool(ip) {
			log.Debug("leases: skipping stored lease %s: outside configured pool", ip)
			continue
		}

		var expiresIn int64
		if remaining {
			expiresIn = int64(leaseTime)
		} else {
			expiresIn = int64(leaseTime) - now.Unix()
		}

		if t.Add(mac, ip, expiresIn, now) == nil {
			log.Info("leases: table full while loading stored leases, stopping early")
			break
		}
		loaded++
	}
	log.Info("leases: loaded %d leases", loaded)
}
