// Package session implements the fixed-capacity session store:
// sessions hold a peer-chosen and a locally-allocated endpoint
// identifier plus their detection/forwarding/QoS/usage rule arrays.
// Capacity is bounded and fixed at construction; a slot is reused only
// after an explicit delete, never while still allocated.
package session

import (
	"sync"

	"github.com/your-org/5g-upf/internal/ruletypes"
)

// Session is an established control-plane binding between a peer and
// this node. All mutation of the four rule arrays and any of their
// derived per-rule state (token buckets, usage counters) must hold mu.
type Session struct {
	mu sync.Mutex

	allocated bool

	PeerSEID  uint64 // chosen by the peer, echoed back on message-addressed ops
	LocalSEID uint64 // chosen by this node; monotonic, starts at 1

	DetectionRules  [ruletypes.MaxRulesPerSession]ruletypes.DetectionRule
	detectionCount  int
	ForwardingRules [ruletypes.MaxRulesPerSession]ruletypes.ForwardingRule
	forwardingCount int
	QoSRules        [ruletypes.MaxRulesPerSession]ruletypes.QoSRule
	qosCount        int
	UsageRules      [ruletypes.MaxRulesPerSession]ruletypes.UsageRule
	usageCount      int
}

// Lock acquires the session-local lock guarding all four rule arrays.
func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// reset clears a session back to the free state. Caller must hold the
// store-wide lock; does not touch s.mu itself since a freed slot is by
// definition unreachable from concurrent rule-resolution callers.
func (s *Session) reset() {
	s.allocated = false
	s.PeerSEID = 0
	s.LocalSEID = 0
	s.detectionCount = 0
	s.forwardingCount = 0
	s.qosCount = 0
	s.usageCount = 0
}

// DetectionRuleCount, ForwardingRuleCount, QoSRuleCount, UsageRuleCount
// report how many of each rule array's slots are populated. Callers must
// hold the session lock.
func (s *Session) DetectionRuleCount() int  { return s.detectionCount }
func (s *Session) ForwardingRuleCount() int { return s.forwardingCount }
func (s *Session) QoSRuleCount() int        { return s.qosCount }
func (s *Session) UsageRuleCount() int      { return s.usageCount }

// PutDetectionRule installs or replaces (by id) a detection rule.
// Returns false if the array is full and the id is new.
func (s *Session) PutDetectionRule(r ruletypes.DetectionRule) bool {
	for i := 0; i < s.detectionCount; i++ {
		if s.DetectionRules[i].ID == r.ID {
			s.DetectionRules[i] = r
			return true
		}
	}
	if s.detectionCount >= ruletypes.MaxRulesPerSession {
		return false
	}
	s.DetectionRules[s.detectionCount] = r
	s.detectionCount++
	return true
}

// RemoveDetectionRule deletes a detection rule by id, compacting the
// array. Returns false if not found.
func (s *Session) RemoveDetectionRule(id uint16) bool {
	for i := 0; i < s.detectionCount; i++ {
		if s.DetectionRules[i].ID == id {
			s.detectionCount--
			s.DetectionRules[i] = s.DetectionRules[s.detectionCount]
			s.DetectionRules[s.detectionCount] = ruletypes.DetectionRule{}
			return true
		}
	}
	return false
}

// PutForwardingRule installs or replaces (by id) a forwarding rule.
func (s *Session) PutForwardingRule(r ruletypes.ForwardingRule) bool {
	for i := 0; i < s.forwardingCount; i++ {
		if s.ForwardingRules[i].ID == r.ID {
			s.ForwardingRules[i] = r
			return true
		}
	}
	if s.forwardingCount >= ruletypes.MaxRulesPerSession {
		return false
	}
	s.ForwardingRules[s.forwardingCount] = r
	s.forwardingCount++
	return true
}

// RemoveForwardingRule deletes a forwarding rule by id.
func (s *Session) RemoveForwardingRule(id uint16) bool {
	for i := 0; i < s.forwardingCount; i++ {
		if s.ForwardingRules[i].ID == id {
			s.forwardingCount--
			s.ForwardingRules[i] = s.ForwardingRules[s.forwardingCount]
			s.ForwardingRules[s.forwardingCount] = ruletypes.ForwardingRule{}
			return true
		}
	}
	return false
}

// PutQoSRule installs or replaces (by id) a QoS rule.
func (s *Session) PutQoSRule(r ruletypes.QoSRule) bool {
	for i := 0; i < s.qosCount; i++ {
		if s.QoSRules[i].ID == r.ID {
			s.QoSRules[i] = r
			return true
		}
	}
	if s.qosCount >= ruletypes.MaxRulesPerSession {
		return false
	}
	s.QoSRules[s.qosCount] = r
	s.qosCount++
	return true
}

// RemoveQoSRule deletes a QoS rule by id.
func (s *Session) RemoveQoSRule(id uint16) bool {
	for i := 0; i < s.qosCount; i++ {
		if s.QoSRules[i].ID == id {
			s.qosCount--
			s.QoSRules[i] = s.QoSRules[s.qosCount]
			s.QoSRules[s.qosCount] = ruletypes.QoSRule{}
			return true
		}
	}
	return false
}

// PutUsageRule installs or replaces (by id) a usage rule.
func (s *Session) PutUsageRule(r ruletypes.UsageRule) bool {
	for i := 0; i < s.usageCount; i++ {
		if s.UsageRules[i].ID == r.ID {
			s.UsageRules[i] = r
			return true
		}
	}
	if s.usageCount >= ruletypes.MaxRulesPerSession {
		return false
	}
	s.UsageRules[s.usageCount] = r
	s.usageCount++
	return true
}

// RemoveUsageRule deletes a usage rule by id.
func (s *Session) RemoveUsageRule(id uint16) bool {
	for i := 0; i < s.usageCount; i++ {
		if s.UsageRules[i].ID == id {
			s.usageCount--
			s.UsageRules[i] = s.UsageRules[s.usageCount]
			s.UsageRules[s.usageCount] = ruletypes.UsageRule{}
			return true
		}
	}
	return false
}

// FindDetectionRule returns a pointer to the detection rule by id, or
// nil. Caller must hold the session lock.
func (s *Session) FindDetectionRule(id uint16) *ruletypes.DetectionRule {
	for i := 0; i < s.detectionCount; i++ {
		if s.DetectionRules[i].ID == id {
			return &s.DetectionRules[i]
		}
	}
	return nil
}

// FindForwardingRule returns a pointer to the forwarding rule by id, or
// nil. Caller must hold the session lock.
func (s *Session) FindForwardingRule(id uint16) *ruletypes.ForwardingRule {
	for i := 0; i < s.forwardingCount; i++ {
		if s.ForwardingRules[i].ID == id {
			return &s.ForwardingRules[i]
		}
	}
	return nil
}

// FindQoSRule returns a pointer to the QoS rule by id, or nil. Caller
// must hold the session lock.
func (s *Session) FindQoSRule(id uint16) *ruletypes.QoSRule {
	for i := 0; i < s.qosCount; i++ {
		if s.QoSRules[i].ID == id {
			return &s.QoSRules[i]
		}
	}
	return nil
}

// FindUsageRule returns a pointer to the usage rule by id, or nil.
// Caller must hold the session lock.
func (s *Session) FindUsageRule(id uint16) *ruletypes.UsageRule {
	for i := 0; i < s.usageCount; i++ {
		if s.UsageRules[i].ID == id {
			return &s.UsageRules[i]
		}
	}
	return nil
}

// bestDetectionMatch scans the session's detection rules for the
// highest-precedence match against ingress; ties break toward the lower
// rule id. Caller must hold the session lock.
func (s *Session) bestDetectionMatch(matches func(*ruletypes.DetectionRule) bool) *ruletypes.DetectionRule {
	var best *ruletypes.DetectionRule
	for i := 0; i < s.detectionCount; i++ {
		r := &s.DetectionRules[i]
		if !matches(r) {
			continue
		}
		if best == nil ||
			r.Precedence > best.Precedence ||
			(r.Precedence == best.Precedence && r.ID < best.ID) {
			best = r
		}
	}
	return best
}

// BestDetectionMatch is the exported entry point pipeline workers use
// to resolve the classifying rule for a packet. Caller must hold the
// session lock.
func (s *Session) BestDetectionMatch(matches func(*ruletypes.DetectionRule) bool) *ruletypes.DetectionRule {
	return s.bestDetectionMatch(matches)
}
