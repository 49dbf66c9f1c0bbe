// Package pipeline implements the packet-processing pipeline: one
// loop per worker, classify-and-act on each dequeued uplink G-PDU.
package pipeline

import (
	"context"
	"net"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/your-org/5g-upf/internal/accounting"
	"github.com/your-org/5g-upf/internal/counters"
	"github.com/your-org/5g-upf/internal/ipv4"
	"github.com/your-org/5g-upf/internal/nat"
	"github.com/your-org/5g-upf/internal/queue"
	"github.com/your-org/5g-upf/internal/ruletypes"
	"github.com/your-org/5g-upf/internal/session"
	"github.com/your-org/5g-upf/internal/tundev"
	"github.com/your-org/5g-upf/internal/tunnelcodec"
)

// Sender is the minimal egress socket surface a worker needs.
type Sender interface {
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
}

// Pipeline holds everything a worker needs to process one dequeued
// uplink packet. One Pipeline is shared read-only by every worker
// goroutine; all mutation happens through the store/NAT table's own
// locking.
type Pipeline struct {
	Store      *session.Store
	NAT        *nat.Table
	Counters   *counters.Counters
	Conn       Sender
	TunnelPort int
	ExternalIP net.IP
	TUN        tundev.Device // nil means "no TUN at all", discard to core
	Accounting accounting.Sink
	Logger     *zap.Logger

	// Tracer is optional; a nil Tracer means process() skips span
	// creation. NewPipeline always sets one.
	Tracer trace.Tracer
}

// NewPipeline builds a Pipeline with its tracer resolved once at
// construction rather than per packet.
func NewPipeline(p Pipeline) *Pipeline {
	p.Tracer = otel.Tracer("upf-pipeline")
	return &p
}

// RunWorker drains q until stop is closed.
func (p *Pipeline) RunWorker(id int, q *queue.Queue, stop <-chan struct{}) {
	for {
		pkt, ok := q.Dequeue(stop)
		if !ok {
			return
		}
		p.process(pkt)
	}
}

func (p *Pipeline) process(pkt queue.Packet) {
	if p.Tracer != nil {
		_, span := p.Tracer.Start(context.Background(), "pipeline.process",
			trace.WithAttributes(attribute.Int("payload.bytes", len(pkt.Data))))
		defer span.End()
	}

	p.Counters.IncReceived()

	hdr, err := tunnelcodec.Decode(pkt.Data)
	if err != nil {
		p.Counters.IncMalformed()
		return
	}
	if hdr.MessageType != tunnelcodec.MsgGPDU {
		p.Counters.IncNonGPDU()
		return
	}
	payload := pkt.Data[hdr.PayloadOffset:]

	sess := p.Store.FindByTunnel(hdr.TunnelID, ruletypes.InterfaceAccess)
	if sess == nil {
		p.Counters.IncSessionMiss()
		return
	}

	var innerProto uint8
	var innerDstPort uint16
	var innerSrcIP net.IP
	if ipHdr, err := ipv4.Parse(payload); err == nil {
		innerProto = ipHdr.Protocol
		_, innerDstPort = ipHdr.TransportPorts()
		innerSrcIP = ipHdr.SrcIP
	}

	sess.Lock()
	drule := sess.BestDetectionMatch(func(r *ruletypes.DetectionRule) bool {
		return r.Matches(ruletypes.InterfaceAccess, hdr.TunnelID, innerSrcIP, innerProto, innerDstPort)
	})
	if drule == nil {
		sess.Unlock()
		p.Counters.IncPDRMiss()
		return
	}

	frule := sess.FindForwardingRule(drule.ForwardingRuleID)
	if frule == nil {
		sess.Unlock()
		p.Counters.IncFARMiss()
		return
	}
	// Copy the forwarding rule by value: the send happens after the
	// session lock is released, and a concurrent control-plane update
	// must not mutate data this worker is still using.
	far := *frule

	if drule.HasQoSRule {
		qrule := sess.FindQoSRule(drule.QoSRuleID)
		if qrule == nil {
			sess.Unlock()
			p.Counters.IncFARMiss()
			return
		}
		if dropped := enforceQoS(qrule, len(payload), p.Counters); dropped {
			sess.Unlock()
			return
		}
	}

	var usageSnapshot *ruletypes.UsageRule
	if drule.HasUsageRule {
		urule := sess.FindUsageRule(drule.UsageRuleID)
		if urule == nil {
			sess.Unlock()
			p.Counters.IncFARMiss()
			return
		}
		if dropped := applyUsage(urule, len(payload), p.Counters); dropped {
			snap := *urule
			usageSnapshot = &snap
			sess.Unlock()
			p.pushAccounting(sess, drule.UsageRuleID, usageSnapshot)
			return
		}
		snap := *urule
		usageSnapshot = &snap
	}

	p.Counters.IncQoSPassed()
	sess.Unlock()

	if usageSnapshot != nil && usageSnapshot.ReportPending {
		p.pushAccounting(sess, drule.UsageRuleID, usageSnapshot)
	}

	p.forward(far, payload, sess)
}

// enforceQoS refills and checks the PPS/MBR token buckets for an
// uplink packet. Caller holds the session lock. Returns true if the
// packet was dropped.
func enforceQoS(q *ruletypes.QoSRule, payloadLen int, c *counters.Counters) bool {
	now := time.Now()

	if q.HasPPS {
		refill(&q.PPSState, float64(q.PPSLimit), now)
		if q.PPSState.Tokens < 1 {
			c.IncQoSPPSDropped()
			return true
		}
		q.PPSState.Tokens--
	}

	if q.HasMBR {
		refill(&q.MBRUpState, float64(q.MBRUplink), now)
		payloadBits := float64(payloadLen * 8)
		if q.MBRUpState.Tokens < payloadBits {
			c.IncQoSMBRDropped()
			return true
		}
		q.MBRUpState.Tokens -= payloadBits
	}

	return false
}

// refill tops up a token bucket by rate*elapsed seconds, saturating at
// rate (bucket capacity equals the configured rate, i.e. a one-second
// burst allowance).
func refill(state *ruletypes.RateState, rate float64, now time.Time) {
	if state.LastRefill.IsZero() {
		state.LastRefill = now
		state.Tokens = rate
		return
	}
	elapsed := now.Sub(state.LastRefill).Seconds()
	state.Tokens += rate * elapsed
	if state.Tokens > rate {
		state.Tokens = rate
	}
	state.LastRefill = now
}

// applyUsage updates running byte/time counters and the sticky
// threshold/quota flags. Caller holds the session lock. Returns true
// if the packet must be dropped (quota already exceeded, or this
// packet is the one that crosses a quota).
func applyUsage(u *ruletypes.UsageRule, payloadLen int, c *counters.Counters) bool {
	if u.QuotaExceeded {
		c.IncURRQuotaExceeded()
		return true
	}

	if u.MeasureStart.IsZero() {
		u.MeasureStart = time.Now()
		u.LastReportTime = u.MeasureStart
	}

	u.UplinkBytes += uint64(payloadLen)
	u.TotalBytes = u.UplinkBytes + u.DownlinkBytes

	now := time.Now()
	duration := now.Sub(u.MeasureStart)
	wasPending := u.ReportPending
	quotaHit := false

	if u.HasVolumeQuota && u.TotalBytes >= u.VolumeQuota {
		u.QuotaExceeded = true
		u.ReportPending = true
		quotaHit = true
	}
	if u.HasVolumeThreshold && u.TotalBytes >= u.VolumeThreshold {
		u.ReportPending = true
	}
	if u.HasTimeQuota && duration >= u.TimeQuota {
		u.QuotaExceeded = true
		u.ReportPending = true
		quotaHit = true
	}
	if u.HasTimeThreshold && duration >= u.TimeThreshold {
		u.ReportPending = true
	}
	if u.HasReportingPeriod && now.Sub(u.LastReportTime) >= u.ReportingPeriod {
		u.ReportPending = true
		u.LastReportTime = now
	}

	c.IncURRTracked()
	if !wasPending && u.ReportPending {
		c.IncURRReportsTriggered()
	}

	if quotaHit {
		c.IncURRQuotaExceeded()
		return true
	}
	return false
}

func (p *Pipeline) pushAccounting(sess *session.Session, usageRuleID uint16, u *ruletypes.UsageRule) {
	if p.Accounting == nil {
		return
	}
	p.Accounting.Push(accounting.Event{
		Time:           time.Now(),
		SessionLocalID: sess.LocalSEID,
		UsageRuleID:    usageRuleID,
		UplinkBytes:    u.UplinkBytes,
		DownlinkBytes:  u.DownlinkBytes,
		TotalBytes:     u.TotalBytes,
		QuotaExceeded:  u.QuotaExceeded,
		ReportPending:  u.ReportPending,
	})
}

// forward executes the forwarding rule's action. Never holds the
// session lock; far is a value copy taken before release.
func (p *Pipeline) forward(far ruletypes.ForwardingRule, payload []byte, sess *session.Session) {
	switch far.Action {
	case ruletypes.ActionDrop, ruletypes.ActionBuffer:
		p.Counters.IncGTPUDropped()
		return
	case ruletypes.ActionForward:
		switch far.DestinationInterface {
		case ruletypes.InterfaceAccess:
			p.forwardTunneled(far, payload, p.Counters.IncN3Tx)
		case ruletypes.InterfacePeer:
			p.forwardTunneled(far, payload, func(int) { p.Counters.IncN9Tx() })
		case ruletypes.InterfaceCore:
			p.forwardToCore(payload, sess)
		}
	}
}

func (p *Pipeline) forwardTunneled(far ruletypes.ForwardingRule, payload []byte, onSuccess func(int)) {
	if far.OuterHeader == nil {
		p.Counters.IncFARMiss()
		return
	}
	dst := &net.UDPAddr{IP: far.OuterHeader.DestAddress, Port: p.TunnelPort}
	buf := make([]byte, tunnelHeaderBudget+len(payload))
	n := tunnelcodec.EncodeGPDU(buf, far.OuterHeader.TEID, payload)
	if n == 0 {
		p.Counters.IncN3SendFail()
		return
	}
	if _, err := p.Conn.WriteToUDP(buf[:n], dst); err != nil {
		p.Counters.IncN3SendFail()
		return
	}
	onSuccess(len(payload))
	p.Counters.IncGTPUTx(len(payload))
}

const tunnelHeaderBudget = 8 + 4 + 4 // mandatory header + optional fields + one extension

func (p *Pipeline) forwardToCore(payload []byte, sess *session.Session) {
	ipHdr, err := ipv4.Parse(payload)
	if err != nil {
		p.Counters.IncFARMiss()
		return
	}
	if ipHdr.Protocol != ipv4.ProtoTCP && ipHdr.Protocol != ipv4.ProtoUDP && ipHdr.Protocol != ipv4.ProtoICMP {
		p.Counters.IncFARMiss()
		return
	}

	srcPort, _ := ipHdr.TransportPorts()
	entry, ok := p.NAT.GetOrCreate(ipHdr.SrcIP, srcPort, ipHdr.Protocol, sess.LocalSEID)
	if !ok {
		p.Counters.IncNATMiss()
		return
	}

	ipv4.RewriteSource(ipHdr, p.ExternalIP, entry.ExternalPort)
	p.NAT.Touch(entry, len(payload))

	if p.TUN == nil {
		p.Counters.IncN6Stub()
		return
	}
	if _, err := p.TUN.WritePacket(payload); err != nil {
		p.Logger.Warn("core egress write failed", zap.Error(err))
		p.Counters.IncN6Stub()
		return
	}
	p.Counters.IncN6Tx()
	p.Counters.IncGTPUTx(len(payload))
}
