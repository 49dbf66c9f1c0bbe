package pipeline

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/5g-upf/internal/counters"
	"github.com/your-org/5g-upf/internal/nat"
	"github.com/your-org/5g-upf/internal/queue"
	"github.com/your-org/5g-upf/internal/ruletypes"
	"github.com/your-org/5g-upf/internal/session"
	"github.com/your-org/5g-upf/internal/tundev"
	"github.com/your-org/5g-upf/internal/tunnelcodec"
)

type fakeSender struct {
	sentTo *net.UDPAddr
	sent   []byte
}

func (f *fakeSender) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	f.sentTo = addr
	f.sent = append([]byte{}, b...)
	return len(b), nil
}

func buildUDPFrame(srcIP, dstIP net.IP, srcPort, dstPort uint16, payload []byte) []byte {
	frame := make([]byte, 20+8+len(payload))
	frame[0] = 0x45
	frame[9] = 17
	copy(frame[12:16], srcIP.To4())
	copy(frame[16:20], dstIP.To4())
	u := frame[20:]
	u[0], u[1] = byte(srcPort>>8), byte(srcPort)
	u[2], u[3] = byte(dstPort>>8), byte(dstPort)
	copy(u[8:], payload)
	return frame
}

func gpduPacket(tunnelID uint32, inner []byte) queue.Packet {
	buf := make([]byte, 8+len(inner))
	n := tunnelcodec.EncodeGPDU(buf, tunnelID, inner)
	return queue.Packet{Data: buf[:n]}
}

func newTestPipeline(t *testing.T) (*Pipeline, *session.Store, *fakeSender) {
	t.Helper()
	store := session.NewStore(4)
	natTable := nat.NewTable(4, time.Minute)
	c := counters.New()
	sender := &fakeSender{}
	tun, err := tundev.Open("", 1500)
	require.NoError(t, err)

	p := NewPipeline(Pipeline{
		Store:      store,
		NAT:        natTable,
		Counters:   c,
		Conn:       sender,
		TunnelPort: 2152,
		ExternalIP: net.ParseIP("203.0.113.9"),
		TUN:        tun,
		Logger:     zap.NewNop(),
	})
	return p, store, sender
}

func establishSession(t *testing.T, store *session.Store, tunnelID uint32) *session.Session {
	t.Helper()
	localSEID, err := store.Create(1)
	require.NoError(t, err)
	sess := store.FindByLocal(localSEID)

	sess.Lock()
	sess.PutForwardingRule(ruletypes.ForwardingRule{ID: 1, Action: ruletypes.ActionForward, DestinationInterface: ruletypes.InterfaceCore})
	sess.PutDetectionRule(ruletypes.DetectionRule{
		ID:               1,
		Precedence:       1,
		SourceInterface:  ruletypes.InterfaceAccess,
		TunnelID:         tunnelID,
		HasTunnelID:      true,
		ForwardingRuleID: 1,
	})
	sess.Unlock()
	return sess
}

func TestProcess_SessionMissDropsAndCounts(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	p.process(gpduPacket(999, buildUDPFrame(net.ParseIP("10.45.0.1"), net.ParseIP("8.8.8.8"), 5000, 53, []byte("q"))))
	assert.EqualValues(t, 1, p.Counters.Snapshot().SessionMiss)
}

func TestProcess_ForwardsToCoreThroughNAT(t *testing.T) {
	p, store, _ := newTestPipeline(t)
	establishSession(t, store, 7)

	inner := buildUDPFrame(net.ParseIP("10.45.0.1"), net.ParseIP("8.8.8.8"), 5000, 53, []byte("query"))
	p.process(gpduPacket(7, inner))

	snap := p.Counters.Snapshot()
	assert.EqualValues(t, 1, snap.N6Tx)
	assert.EqualValues(t, 1, snap.QoSPassed)

	buf := make([]byte, 1500)
	n, err := p.TUN.ReadPacket(buf)
	require.NoError(t, err)
	assert.True(t, n > 0, "the rewritten frame should have reached the TUN device")
}

func TestProcess_MalformedGTPUDropped(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	p.process(queue.Packet{Data: []byte{0x01}})
	assert.EqualValues(t, 1, p.Counters.Snapshot().Malformed)
}

func TestProcess_NonGPDUMessageCounted(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	echo := make([]byte, 8)
	echo[1] = tunnelcodec.MsgEchoRequest
	p.process(queue.Packet{Data: echo})
	assert.EqualValues(t, 1, p.Counters.Snapshot().NonGPDU)
}

func TestEnforceQoS_PPSBucketDropsOverLimit(t *testing.T) {
	c := counters.New()
	q := &ruletypes.QoSRule{HasPPS: true, PPSLimit: 1}
	q.PPSState.Tokens = 1
	q.PPSState.LastRefill = time.Now()

	assert.False(t, enforceQoS(q, 10, c), "first packet within the bucket should pass")
	assert.True(t, enforceQoS(q, 10, c), "second packet with no elapsed time should be dropped")
	assert.EqualValues(t, 1, c.Snapshot().QoSPPSDropped)
}

func TestEnforceQoS_MBRBucketDropsOversizedPacket(t *testing.T) {
	c := counters.New()
	q := &ruletypes.QoSRule{HasMBR: true, MBRUplink: 800} // 100 bytes/sec allowance
	q.MBRUpState.Tokens = 800
	q.MBRUpState.LastRefill = time.Now()

	assert.False(t, enforceQoS(q, 90, c)) // 720 bits, within 800
	assert.True(t, enforceQoS(q, 90, c), "second packet should exceed remaining tokens")
	assert.EqualValues(t, 1, c.Snapshot().QoSMBRDropped)
}

func TestApplyUsage_QuotaExceededSetsStickyFlag(t *testing.T) {
	c := counters.New()
	u := &ruletypes.UsageRule{HasVolumeQuota: true, VolumeQuota: 100}

	dropped := applyUsage(u, 150, c)
	assert.True(t, dropped)
	assert.True(t, u.QuotaExceeded)
	assert.True(t, u.ReportPending)

	// Once exceeded, every subsequent packet must also drop without
	// re-evaluating thresholds.
	dropped = applyUsage(u, 1, c)
	assert.True(t, dropped)
}

func TestApplyUsage_ThresholdSetsReportPendingWithoutDropping(t *testing.T) {
	c := counters.New()
	u := &ruletypes.UsageRule{HasVolumeThreshold: true, VolumeThreshold: 100}

	dropped := applyUsage(u, 150, c)
	assert.False(t, dropped)
	assert.True(t, u.ReportPending)
	assert.False(t, u.QuotaExceeded)
}

func TestApplyUsage_TracksUplinkAndTotalBytes(t *testing.T) {
	c := counters.New()
	u := &ruletypes.UsageRule{}
	applyUsage(u, 100, c)
	applyUsage(u, 50, c)

	assert.EqualValues(t, 150, u.UplinkBytes)
	assert.EqualValues(t, 150, u.TotalBytes)
}
