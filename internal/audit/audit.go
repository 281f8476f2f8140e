// Package audit is a bbolt-backed, append-only event history of lease-table
// mutations. It is purely operational: nothing in the server ever reads it
// back to reconstruct LeaseTable state, so it cannot violate the lease
// file's own round-trip invariant.
package audit

import (
	"encoding/json"
	"net"
	"time"

	"go.etcd.io/bbolt"
)

const eventBucket = "events"

// Log wraps a bbolt database holding one bucket of time-ordered events.
type Log struct {
	db *bbolt.DB
}

// Event is one recorded lease-table mutation.
type Event struct {
	ID   uint64    `json:"id"`
	Time time.Time `json:"time"`
	Type string    `json:"type"` // "offer", "ack", "nak", "decline", "release" (allocator conflict reservations are not recorded)
	MAC  string    `json:"mac"`
	IP   string    `json:"ip,omitempty"`
}

// Open opens (or creates) the audit database at path.
func Open(path string) (*Log, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(eventBucket))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Log{db: db}, nil
}

// Close releases the database handle.
func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Append appends one event. Errors are swallowed by the Handler-facing
// Record wrapper below; Append itself reports failure for callers (e.g.
// tests) that want it.
func (l *Log) Append(eventType string, mac [16]byte, ip net.IP, now time.Time) error {
	ev := Event{Time: now, Type: eventType, MAC: net.HardwareAddr(trimMAC(mac)).String()}
	if ip != nil {
		ev.IP = ip.String()
	}

	return l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(eventBucket))
		id, _ := b.NextSequence()
		ev.ID = id

		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		return b.Put(itob(id), data)
	})
}

// Record implements handler.Auditor, logging failures instead of
// propagating them: audit history is an aid, never load-bearing for request
// handling.
func (l *Log) Record(eventType string, mac [16]byte, ip net.IP, now time.Time) {
	if l == nil {
		return
	}
	_ = l.Append(eventType, mac, ip, now)
}

// Recent returns the most recently appended events, newest first.
func (l *Log) Recent(limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	events := make([]Event, 0, limit)
	err := l.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(eventBucket)).Cursor()
		for k, v := c.Last(); k != nil && len(events) < limit; k, v = c.Prev() {
			var ev Event
			if err := json.Unmarshal(v, &ev); err != nil {
				return err
			}
			events = append(events, ev)
		}
		return nil
	})
	return events, err
}

// trimMAC returns only the first 6 bytes of the 16-byte chaddr field, the
// portion that is a real Ethernet address for HType==1 clients.
func trimMAC(mac [16]byte) []byte {
	return append([]byte(nil), mac[:6]...)
}

func itob(v uint64) []byte {
	var b [8]byte
	for i := uint(0); i < 8; i++ {
		b[7-i] = byte(v >> (i * 8))
	}
	return b[:]
}
