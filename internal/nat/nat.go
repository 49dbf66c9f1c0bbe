// Package nat implements the NAT table: a hash-less, open-addressed
// array binding inner UE flows to external (shared-address) ports.
package nat

import (
	"net"
	"sync"
	"time"
)

// DefaultIdleTimeout is how long an entry may sit unused before it
// becomes reclaimable.
const DefaultIdleTimeout = 120 * time.Second

const (
	portRangeLow  = 10000
	portRangeHigh = 60000
)

// Entry binds an inner UE flow to an external port.
type Entry struct {
	allocated bool

	UEAddress    net.IP
	UEPort       uint16
	Protocol     uint8
	ExternalPort uint16

	OwningSessionSEID uint64
	LastActivity      time.Time

	Packets uint64
	Bytes   uint64
}

func (e *Entry) live(now time.Time, idleTimeout time.Duration) bool {
	return e.allocated && now.Sub(e.LastActivity) <= idleTimeout
}

func (e *Entry) matches(ueAddr net.IP, uePort uint16, proto uint8) bool {
	return e.UEPort == uePort && e.Protocol == proto && e.UEAddress.Equal(ueAddr)
}

// Table is the fixed-capacity NAT table.
type Table struct {
	mu          sync.Mutex
	entries     []Entry
	idleTimeout time.Duration
	nextPort    uint32 // cycles over [portRangeLow, portRangeHigh]
}

// NewTable creates a table with room for capacity entries.
func NewTable(capacity int, idleTimeout time.Duration) *Table {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Table{
		entries:     make([]Entry, capacity),
		idleTimeout: idleTimeout,
		nextPort:    portRangeLow,
	}
}

func (t *Table) allocatePort() uint16 {
	port := t.nextPort
	t.nextPort++
	if t.nextPort > portRangeHigh {
		t.nextPort = portRangeLow
	}
	return uint16(port)
}

// GetOrCreate returns the live entry for (ueAddr, uePort, proto),
// touching it, or allocates a new one (reusing an unallocated or
// expired slot before failing). Returns (nil, false) only when no slot
// is allocatable — i.e. the table is full of live entries.
func (t *Table) GetOrCreate(ueAddr net.IP, uePort uint16, proto uint8, owningSEID uint64) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()

	for i := range t.entries {
		e := &t.entries[i]
		if e.live(now, t.idleTimeout) && e.matches(ueAddr, uePort, proto) {
			e.LastActivity = now
			return e, true
		}
	}

	for i := range t.entries {
		e := &t.entries[i]
		if !e.live(now, t.idleTimeout) {
			*e = Entry{
				allocated:         true,
				UEAddress:         append(net.IP(nil), ueAddr...),
				UEPort:            uePort,
				Protocol:          proto,
				ExternalPort:      t.allocatePort(),
				OwningSessionSEID: owningSEID,
				LastActivity:      now,
			}
			return e, true
		}
	}

	return nil, false
}

// LookupByExternal finds the live entry for (externalPort, proto).
func (t *Table) LookupByExternal(externalPort uint16, proto uint8) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for i := range t.entries {
		e := &t.entries[i]
		if e.live(now, t.idleTimeout) && e.ExternalPort == externalPort && e.Protocol == proto {
			e.LastActivity = now
			return e, true
		}
	}
	return nil, false
}

// Touch updates an entry's last-activity stamp and per-entry counters.
// The caller already holds a pointer returned from this table, so this
// just re-acquires the table lock for the narrow write.
func (t *Table) Touch(e *Entry, bytes int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.LastActivity = time.Now()
	e.Packets++
	e.Bytes += uint64(bytes)
}

// DeleteBySession marks every entry owned by sessionSEID unallocated,
// returning the count removed.
func (t *Table) DeleteBySession(sessionSEID uint64) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	count := 0
	for i := range t.entries {
		e := &t.entries[i]
		if e.allocated && e.OwningSessionSEID == sessionSEID {
			*e = Entry{}
			count++
		}
	}
	return count
}

// Cleanup expires entries whose last activity is older than the idle
// timeout, returning the count expired.
func (t *Table) Cleanup() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	count := 0
	for i := range t.entries {
		e := &t.entries[i]
		if e.allocated && now.Sub(e.LastActivity) > t.idleTimeout {
			*e = Entry{}
			count++
		}
	}
	return count
}

// LiveCount returns the number of currently live entries.
func (t *Table) LiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	count := 0
	for i := range t.entries {
		if t.entries[i].live(now, t.idleTimeout) {
			count++
		}
	}
	return count
}

// Capacity returns the table's fixed size.
func (t *Table) Capacity() int {
	return len(t.entries)
}
