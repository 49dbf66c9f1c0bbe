package session

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/your-org/5g-upf/internal/ruletypes"
)

// ErrFull is returned by Create when the store is at capacity.
var ErrFull = errors.New("session store: at capacity")

// Store is a fixed-capacity table of sessions, looked up by local SEID
// and by tunnel id. Lock order is store -> session, never the reverse:
// FindByTunnel, Delete and Snapshot take a session's lock while holding
// the store-wide lock, and no code takes the store-wide lock while
// holding a session's lock.
type Store struct {
	mu       sync.Mutex
	sessions []Session // fixed length = capacity
	liveCount int32
	nextID    uint64
}

// NewStore creates a store with room for capacity sessions.
func NewStore(capacity int) *Store {
	return &Store{
		sessions: make([]Session, capacity),
		nextID:   1,
	}
}

// Create allocates the first free slot, assigns a monotonic local SEID
// and returns it. Returns ErrFull at capacity.
func (st *Store) Create(peerSEID uint64) (uint64, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	for i := range st.sessions {
		if st.sessions[i].allocated {
			continue
		}
		s := &st.sessions[i]
		s.allocated = true
		s.PeerSEID = peerSEID
		s.LocalSEID = atomic.AddUint64(&st.nextID, 1) - 1
		atomic.AddInt32(&st.liveCount, 1)
		return s.LocalSEID, nil
	}
	return 0, ErrFull
}

// FindByLocal returns the allocated session with the given local SEID,
// or nil.
func (st *Store) FindByLocal(localSEID uint64) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	for i := range st.sessions {
		s := &st.sessions[i]
		if s.allocated && s.LocalSEID == localSEID {
			return s
		}
	}
	return nil
}

// FindByTunnel scans all allocated sessions for one with a detection
// rule whose source interface and tunnel id match; among sessions with
// a match it returns the first one found (tie-breaking between rules
// within a single session is Session.BestDetectionMatch's job, which
// the pipeline calls once the owning session is located).
func (st *Store) FindByTunnel(tunnelID uint32, source ruletypes.Interface) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	for i := range st.sessions {
		s := &st.sessions[i]
		if !s.allocated {
			continue
		}
		s.Lock()
		found := false
		for j := 0; j < s.detectionCount; j++ {
			r := &s.DetectionRules[j]
			if r.SourceInterface == source && r.HasTunnelID && r.TunnelID == tunnelID {
				found = true
				break
			}
		}
		s.Unlock()
		if found {
			return s
		}
	}
	return nil
}

// Delete marks the session's slot free. Returns false if not found.
func (st *Store) Delete(localSEID uint64) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	for i := range st.sessions {
		s := &st.sessions[i]
		if s.allocated && s.LocalSEID == localSEID {
			s.Lock()
			s.reset()
			s.Unlock()
			atomic.AddInt32(&st.liveCount, -1)
			return true
		}
	}
	return false
}

// LiveCount returns the number of currently allocated sessions.
func (st *Store) LiveCount() int {
	return int(atomic.LoadInt32(&st.liveCount))
}

// Capacity returns the store's fixed size.
func (st *Store) Capacity() int {
	return len(st.sessions)
}

// Snapshot is a read-only view of a session used by the admin server;
// it never exposes the Session pointer itself.
type Snapshot struct {
	LocalSEID      uint64
	PeerSEID       uint64
	DetectionCount int
	ForwardingCount int
	QoSCount       int
	UsageCount     int
}

// Snapshot returns a point-in-time view of every allocated session.
func (st *Store) Snapshot() []Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]Snapshot, 0, st.liveCount)
	for i := range st.sessions {
		s := &st.sessions[i]
		if !s.allocated {
			continue
		}
		s.Lock()
		out = append(out, Snapshot{
			LocalSEID:       s.LocalSEID,
			PeerSEID:        s.PeerSEID,
			DetectionCount:  s.detectionCount,
			ForwardingCount: s.forwardingCount,
			QoSCount:        s.qosCount,
			UsageCount:      s.usageCount,
		})
		s.Unlock()
	}
	return out
}
