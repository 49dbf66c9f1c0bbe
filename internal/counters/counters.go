// Package counters implements the data plane's per-reason packet
// outcome counters plus byte totals and PFCP/session counters, backed by atomics so
// any thread can update them without taking the session or store lock.
package counters

import (
	"sync/atomic"

	"github.com/your-org/5g-upf/internal/metrics"
)

// Counters holds every packet-outcome reason, plus the byte totals and
// PFCP/session counters the admin server and sampler expose. Every
// field is updated with atomic adds; a snapshot taken without a lock
// may show a torn view across fields, which is fine for stats sampling.
type Counters struct {
	Received uint64

	QoSPassed       uint64
	QoSMBRDropped   uint64
	QoSPPSDropped   uint64
	URRQuotaExceeded uint64
	SessionMiss     uint64
	PDRMiss         uint64
	FARMiss         uint64
	Malformed       uint64
	QueueFullDrop   uint64
	NATMiss         uint64
	N3SendFail      uint64
	N6Stub          uint64

	URRTracked          uint64
	URRReportsTriggered uint64

	EchoRequests  uint64
	EchoResponses uint64

	GTPUTx uint64
	N3Tx   uint64
	N6Tx   uint64
	N9Tx   uint64

	UplinkBytes   uint64
	DownlinkBytes uint64

	PFCPMessages            uint64
	SessionEstablishments   uint64
	SessionEstablishFailed  uint64

	NonGPDU     uint64
	GTPUDropped uint64
}

// New returns a zeroed counters block.
func New() *Counters {
	return &Counters{}
}

func (c *Counters) IncReceived()             { atomic.AddUint64(&c.Received, 1) }
func (c *Counters) IncQoSPassed()            { atomic.AddUint64(&c.QoSPassed, 1) }
func (c *Counters) IncQoSMBRDropped()        { atomic.AddUint64(&c.QoSMBRDropped, 1); metrics.RecordGTPUPacketDropped("qos_mbr") }
func (c *Counters) IncQoSPPSDropped()        { atomic.AddUint64(&c.QoSPPSDropped, 1); metrics.RecordGTPUPacketDropped("qos_pps") }
func (c *Counters) IncURRQuotaExceeded()     { atomic.AddUint64(&c.URRQuotaExceeded, 1); metrics.RecordGTPUPacketDropped("urr_quota") }
func (c *Counters) IncSessionMiss()          { atomic.AddUint64(&c.SessionMiss, 1); metrics.RecordGTPUPacketDropped("session_miss") }
func (c *Counters) IncPDRMiss()              { atomic.AddUint64(&c.PDRMiss, 1); metrics.RecordGTPUPacketDropped("pdr_miss") }
func (c *Counters) IncFARMiss()              { atomic.AddUint64(&c.FARMiss, 1); metrics.RecordGTPUPacketDropped("far_miss") }
func (c *Counters) IncMalformed()            { atomic.AddUint64(&c.Malformed, 1); metrics.RecordGTPUPacketDropped("malformed") }
func (c *Counters) IncQueueFullDrop()        { atomic.AddUint64(&c.QueueFullDrop, 1); metrics.RecordGTPUPacketDropped("queue_full") }
func (c *Counters) IncNATMiss()              { atomic.AddUint64(&c.NATMiss, 1); metrics.RecordGTPUPacketDropped("nat_miss") }
func (c *Counters) IncN3SendFail()           { atomic.AddUint64(&c.N3SendFail, 1); metrics.RecordGTPUPacketDropped("n3_send_fail") }
func (c *Counters) IncN6Stub()               { atomic.AddUint64(&c.N6Stub, 1); metrics.RecordGTPUPacketDropped("n6_stub") }

func (c *Counters) IncNonGPDU()     { atomic.AddUint64(&c.NonGPDU, 1) }
func (c *Counters) IncGTPUDropped() { atomic.AddUint64(&c.GTPUDropped, 1) }

func (c *Counters) IncURRTracked()          { atomic.AddUint64(&c.URRTracked, 1) }
func (c *Counters) IncURRReportsTriggered() { atomic.AddUint64(&c.URRReportsTriggered, 1) }

func (c *Counters) IncEchoRequests()  { atomic.AddUint64(&c.EchoRequests, 1) }
func (c *Counters) IncEchoResponses() { atomic.AddUint64(&c.EchoResponses, 1) }

func (c *Counters) IncGTPUTx(bytes int) {
	atomic.AddUint64(&c.GTPUTx, 1)
	atomic.AddUint64(&c.UplinkBytes, uint64(bytes))
	metrics.RecordGTPUPacket("uplink", bytes)
}

func (c *Counters) IncN3Tx(bytes int) {
	atomic.AddUint64(&c.N3Tx, 1)
	atomic.AddUint64(&c.DownlinkBytes, uint64(bytes))
	metrics.RecordGTPUPacket("downlink", bytes)
}

func (c *Counters) IncN6Tx() { atomic.AddUint64(&c.N6Tx, 1) }
func (c *Counters) IncN9Tx() { atomic.AddUint64(&c.N9Tx, 1) }

func (c *Counters) IncPFCPMessage(msgType string) {
	atomic.AddUint64(&c.PFCPMessages, 1)
	metrics.RecordUPFPFCPMessage(msgType)
}

func (c *Counters) IncSessionEstablishment(ok bool) {
	if ok {
		atomic.AddUint64(&c.SessionEstablishments, 1)
		metrics.RecordUPFPFCPSessionEstablishment("accepted")
		return
	}
	atomic.AddUint64(&c.SessionEstablishFailed, 1)
	metrics.RecordUPFPFCPSessionEstablishment("rejected")
}

// Snapshot is a point-in-time, field-by-field (not as-a-whole atomic)
// copy suitable for the admin /stats endpoint and the periodic sampler.
type Snapshot struct {
	Received uint64

	QoSPassed        uint64
	QoSMBRDropped    uint64
	QoSPPSDropped    uint64
	URRQuotaExceeded uint64
	SessionMiss      uint64
	PDRMiss          uint64
	FARMiss          uint64
	Malformed        uint64
	QueueFullDrop    uint64
	NATMiss          uint64
	N3SendFail       uint64
	N6Stub           uint64

	URRTracked          uint64
	URRReportsTriggered uint64

	EchoRequests  uint64
	EchoResponses uint64

	GTPUTx uint64
	N3Tx   uint64
	N6Tx   uint64
	N9Tx   uint64

	UplinkBytes   uint64
	DownlinkBytes uint64

	PFCPMessages           uint64
	SessionEstablishments  uint64
	SessionEstablishFailed uint64

	NonGPDU     uint64
	GTPUDropped uint64
}

// Snapshot reads every counter with an atomic load.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Received:               atomic.LoadUint64(&c.Received),
		QoSPassed:               atomic.LoadUint64(&c.QoSPassed),
		QoSMBRDropped:           atomic.LoadUint64(&c.QoSMBRDropped),
		QoSPPSDropped:           atomic.LoadUint64(&c.QoSPPSDropped),
		URRQuotaExceeded:        atomic.LoadUint64(&c.URRQuotaExceeded),
		SessionMiss:             atomic.LoadUint64(&c.SessionMiss),
		PDRMiss:                 atomic.LoadUint64(&c.PDRMiss),
		FARMiss:                 atomic.LoadUint64(&c.FARMiss),
		Malformed:               atomic.LoadUint64(&c.Malformed),
		QueueFullDrop:           atomic.LoadUint64(&c.QueueFullDrop),
		NATMiss:                 atomic.LoadUint64(&c.NATMiss),
		N3SendFail:              atomic.LoadUint64(&c.N3SendFail),
		N6Stub:                  atomic.LoadUint64(&c.N6Stub),
		URRTracked:              atomic.LoadUint64(&c.URRTracked),
		URRReportsTriggered:     atomic.LoadUint64(&c.URRReportsTriggered),
		EchoRequests:            atomic.LoadUint64(&c.EchoRequests),
		EchoResponses:           atomic.LoadUint64(&c.EchoResponses),
		GTPUTx:                  atomic.LoadUint64(&c.GTPUTx),
		N3Tx:                    atomic.LoadUint64(&c.N3Tx),
		N6Tx:                    atomic.LoadUint64(&c.N6Tx),
		N9Tx:                    atomic.LoadUint64(&c.N9Tx),
		UplinkBytes:             atomic.LoadUint64(&c.UplinkBytes),
		DownlinkBytes:           atomic.LoadUint64(&c.DownlinkBytes),
		PFCPMessages:            atomic.LoadUint64(&c.PFCPMessages),
		SessionEstablishments:   atomic.LoadUint64(&c.SessionEstablishments),
		SessionEstablishFailed:  atomic.LoadUint64(&c.SessionEstablishFailed),
		NonGPDU:                 atomic.LoadUint64(&c.NonGPDU),
		GTPUDropped:             atomic.LoadUint64(&c.GTPUDropped),
	}
}

// SetActiveSessions refreshes the session-count gauge.
func (c *Counters) SetActiveSessions(n int) {
	metrics.SetUPFActiveSessions(n)
}
