// Package ruletypes holds the plain-data rule shapes a session is built
// from: detection, forwarding, QoS and usage rules (3GPP TS 29.244 PDR/
// FAR/QER/URR, renamed to the vocabulary this repo uses throughout).
package ruletypes

import (
	"net"
	"time"
)

// MaxRulesPerSession bounds each of a session's four rule arrays.
const MaxRulesPerSession = 16

// Interface tags a packet's ingress or egress face.
type Interface uint8

const (
	InterfaceAccess Interface = iota // N3: radio-access side (tunneled)
	InterfaceCore                    // N6: data-network side (plain IP over TUN)
	InterfacePeer                    // N9: peer-UPF side (tunneled)
)

func (i Interface) String() string {
	switch i {
	case InterfaceAccess:
		return "access"
	case InterfaceCore:
		return "core"
	case InterfacePeer:
		return "peer"
	default:
		return "unknown"
	}
}

// ForwardingAction is the action a ForwardingRule applies once a packet
// is classified.
type ForwardingAction uint8

const (
	ActionDrop ForwardingAction = iota
	ActionForward
	ActionBuffer // reserved; current policy treats it as drop
)

// FiveTupleFilter is the SDF-style filter a DetectionRule may carry.
type FiveTupleFilter struct {
	Protocol    uint8 // IP protocol number; 0 means "any"
	DstPortLow  uint16
	DstPortHigh uint16
}

// Match reports whether the filter accepts a packet's protocol/dst port.
func (f *FiveTupleFilter) Match(proto uint8, dstPort uint16) bool {
	if f == nil {
		return true
	}
	if f.Protocol != 0 && f.Protocol != proto {
		return false
	}
	if f.DstPortLow == 0 && f.DstPortHigh == 0 {
		return true
	}
	return dstPort >= f.DstPortLow && dstPort <= f.DstPortHigh
}

// DetectionRule classifies an incoming packet to a session. Id is unique
// within the owning session only.
type DetectionRule struct {
	ID              uint16
	Precedence      uint32 // higher wins on tie of matches
	SourceInterface Interface

	// Matching fingerprint. TunnelID is mandatory when SourceInterface is
	// access or peer.
	TunnelID      uint32
	HasTunnelID   bool
	UEAddress     net.IP // optional
	ApplicationID string // optional
	Filter        *FiveTupleFilter

	ForwardingRuleID uint16
	QoSRuleID        uint16
	HasQoSRule       bool
	UsageRuleID      uint16
	HasUsageRule     bool
}

// Matches reports whether the rule's fingerprint accepts a classified
// packet. UE address and the 5-tuple filter are only checked when the
// rule specifies them; ApplicationID is not checked.
func (d *DetectionRule) Matches(ingress Interface, tunnelID uint32, ueAddr net.IP, proto uint8, dstPort uint16) bool {
	if d.SourceInterface != ingress {
		return false
	}
	if d.HasTunnelID && d.TunnelID != tunnelID {
		return false
	}
	if d.UEAddress != nil && ueAddr != nil && !d.UEAddress.Equal(ueAddr) {
		return false
	}
	if !d.Filter.Match(proto, dstPort) {
		return false
	}
	return true
}

// OuterHeaderCreation describes the GTP-U re-encapsulation a forwarding
// rule applies when its action re-tunnels a packet.
type OuterHeaderCreation struct {
	TEID        uint32
	DestAddress net.IP
}

// ForwardingRule is the action + egress descriptor applied to a
// classified packet.
type ForwardingRule struct {
	ID                   uint16
	Action               ForwardingAction
	DestinationInterface Interface
	OuterHeader          *OuterHeaderCreation // set when Action re-tunnels
}

// RateState is the mutable token-bucket state backing one rate
// constraint. Guarded by the owning session's lock.
type RateState struct {
	Tokens     float64
	LastRefill time.Time
}

// QoSRule holds up to two independent rate constraints (MBR, PPS), each
// with its own token-bucket state.
type QoSRule struct {
	ID       uint16
	FlowID   uint8 // 6-bit QoS Flow Identifier

	HasMBR      bool
	MBRUplink   uint64 // bits/s
	MBRDownlink uint64 // bits/s
	MBRUpState  RateState
	MBRDownState RateState

	HasPPS   bool
	PPSLimit uint64 // packets/s
	PPSState RateState
}

// UsageRule accounts volume/time against optional soft (threshold) and
// hard (quota) limits.
type UsageRule struct {
	ID uint16

	MeasureVolume  bool
	MeasureTime    bool

	HasVolumeThreshold bool
	VolumeThreshold    uint64
	HasVolumeQuota     bool
	VolumeQuota        uint64

	HasTimeThreshold bool
	TimeThreshold    time.Duration
	HasTimeQuota     bool
	TimeQuota        time.Duration

	HasReportingPeriod bool
	ReportingPeriod    time.Duration

	// Running state, guarded by the owning session's lock.
	UplinkBytes     uint64
	DownlinkBytes   uint64
	TotalBytes      uint64
	MeasureStart    time.Time
	LastReportTime  time.Time
	ReportPending   bool
	QuotaExceeded   bool
}

// Reset clears a usage rule's running counters and sticky flags,
// restarting measurement at now.
func (u *UsageRule) Reset(now time.Time) {
	u.UplinkBytes = 0
	u.DownlinkBytes = 0
	u.TotalBytes = 0
	u.MeasureStart = now
	u.LastReportTime = now
	u.ReportPending = false
	u.QuotaExceeded = false
}
