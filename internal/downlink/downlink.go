// Package downlink implements the downlink receiver: a blocking read
// loop on the TUN device that reverse-NATs core-originated IP frames
// and re-tunnels them to the access side.
package downlink

import (
	"net"

	"go.uber.org/zap"

	"github.com/your-org/5g-upf/internal/counters"
	"github.com/your-org/5g-upf/internal/ipv4"
	"github.com/your-org/5g-upf/internal/nat"
	"github.com/your-org/5g-upf/internal/ruletypes"
	"github.com/your-org/5g-upf/internal/session"
	"github.com/your-org/5g-upf/internal/tundev"
	"github.com/your-org/5g-upf/internal/tunnelcodec"
)

// Sender is the minimal egress socket surface the downlink receiver
// needs to re-tunnel a frame toward the access side.
type Sender interface {
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
}

// Receiver owns the TUN device's read path.
type Receiver struct {
	TUN        tundev.Device
	Store      *session.Store
	NAT        *nat.Table
	Conn       Sender
	TunnelPort int
	Counters   *counters.Counters
	MTU        int
	Logger     *zap.Logger
}

// Run blocks reading IP frames from TUN until stop is closed or the
// device is closed out from under it. A nil TUN means there is nothing
// to read from; Run returns immediately.
func (r *Receiver) Run(stop <-chan struct{}) {
	if r.TUN == nil {
		return
	}
	mtu := r.MTU
	if mtu <= 0 {
		mtu = 1500
	}
	buf := make([]byte, mtu)

	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := r.TUN.ReadPacket(buf)
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			r.Logger.Warn("downlink: tun read failed", zap.Error(err))
			continue
		}

		r.handleFrame(buf[:n])
	}
}

func (r *Receiver) handleFrame(frame []byte) {
	ipHdr, err := ipv4.Parse(frame)
	if err != nil {
		r.Counters.IncMalformed()
		return
	}
	if ipHdr.Protocol != ipv4.ProtoTCP && ipHdr.Protocol != ipv4.ProtoUDP && ipHdr.Protocol != ipv4.ProtoICMP {
		r.Counters.IncMalformed()
		return
	}

	_, dstPort := ipHdr.TransportPorts()
	entry, ok := r.NAT.LookupByExternal(dstPort, ipHdr.Protocol)
	if !ok {
		r.Counters.IncNATMiss()
		return
	}

	ipv4.RewriteDestination(ipHdr, entry.UEAddress, entry.UEPort)
	r.NAT.Touch(entry, len(frame))

	sess := r.Store.FindByLocal(entry.OwningSessionSEID)
	if sess == nil {
		r.Counters.IncSessionMiss()
		return
	}

	sess.Lock()
	drule := sess.BestDetectionMatch(func(rule *ruletypes.DetectionRule) bool {
		return rule.SourceInterface == ruletypes.InterfaceCore
	})
	if drule == nil {
		sess.Unlock()
		r.Counters.IncPDRMiss()
		return
	}
	frule := sess.FindForwardingRule(drule.ForwardingRuleID)
	if frule == nil {
		sess.Unlock()
		r.Counters.IncFARMiss()
		return
	}
	far := *frule
	sess.Unlock()

	if far.OuterHeader == nil {
		r.Counters.IncFARMiss()
		return
	}

	dst := &net.UDPAddr{IP: far.OuterHeader.DestAddress, Port: r.TunnelPort}
	out := make([]byte, 8+len(frame))
	n := tunnelcodec.EncodeGPDU(out, far.OuterHeader.TEID, frame)
	if n == 0 {
		r.Counters.IncN3SendFail()
		return
	}
	if _, err := r.Conn.WriteToUDP(out[:n], dst); err != nil {
		r.Counters.IncN3SendFail()
		return
	}
	r.Counters.IncN3Tx(len(frame))
}
