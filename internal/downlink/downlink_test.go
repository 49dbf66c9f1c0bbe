package downlink

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/5g-upf/internal/counters"
	"github.com/your-org/5g-upf/internal/nat"
	"github.com/your-org/5g-upf/internal/ruletypes"
	"github.com/your-org/5g-upf/internal/session"
)

type fakeSender struct {
	sentTo *net.UDPAddr
	sent   []byte
	fail   bool
}

func (f *fakeSender) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	if f.fail {
		return 0, assert.AnError
	}
	f.sentTo = addr
	f.sent = append([]byte{}, b...)
	return len(b), nil
}

func buildUDPFrame(t *testing.T, srcIP, dstIP net.IP, srcPort, dstPort uint16, payload []byte) []byte {
	t.Helper()
	frame := make([]byte, 20+8+len(payload))
	frame[0] = 0x45
	frame[9] = 17 // UDP
	copy(frame[12:16], srcIP.To4())
	copy(frame[16:20], dstIP.To4())
	u := frame[20:]
	u[0], u[1] = byte(srcPort>>8), byte(srcPort)
	u[2], u[3] = byte(dstPort>>8), byte(dstPort)
	copy(u[8:], payload)
	return frame
}

func TestHandleFrame_NATMissCountsAndDrops(t *testing.T) {
	c := counters.New()
	r := &Receiver{
		NAT:      nat.NewTable(4, time.Minute),
		Store:    session.NewStore(4),
		Counters: c,
		Logger:   zap.NewNop(),
	}

	frame := buildUDPFrame(t, net.ParseIP("8.8.8.8"), net.ParseIP("203.0.113.9"), 53, 40000, []byte("x"))
	r.handleFrame(frame)

	assert.EqualValues(t, 1, c.Snapshot().NATMiss)
}

func TestHandleFrame_RoutesToAccessViaMatchingFAR(t *testing.T) {
	natTable := nat.NewTable(4, time.Minute)
	store := session.NewStore(4)
	sender := &fakeSender{}

	localSEID, err := store.Create(1)
	require.NoError(t, err)
	sess := store.FindByLocal(localSEID)

	ueAddr := net.ParseIP("10.45.0.1")
	entry, ok := natTable.GetOrCreate(ueAddr, 33000, 17, localSEID)
	require.True(t, ok)

	sess.Lock()
	sess.PutForwardingRule(ruletypes.ForwardingRule{
		ID:                   1,
		Action:               ruletypes.ActionForward,
		DestinationInterface: ruletypes.InterfaceAccess,
		OuterHeader: &ruletypes.OuterHeaderCreation{
			TEID:        99,
			DestAddress: net.ParseIP("10.60.0.1"),
		},
	})
	sess.PutDetectionRule(ruletypes.DetectionRule{
		ID:               1,
		SourceInterface:  ruletypes.InterfaceCore,
		ForwardingRuleID: 1,
	})
	sess.Unlock()

	r := &Receiver{
		NAT:        natTable,
		Store:      store,
		Conn:       sender,
		TunnelPort: 2152,
		Counters:   counters.New(),
		Logger:     zap.NewNop(),
	}

	frame := buildUDPFrame(t, net.ParseIP("8.8.8.8"), net.ParseIP("203.0.113.9"), 53, entry.ExternalPort, []byte("reply"))
	r.handleFrame(frame)

	require.NotNil(t, sender.sentTo)
	assert.Equal(t, 2152, sender.sentTo.Port)
	assert.EqualValues(t, 1, r.Counters.Snapshot().N3Tx)
}

func TestRun_NilTUNReturnsImmediately(t *testing.T) {
	r := &Receiver{Logger: zap.NewNop()}
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		r.Run(stop)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run with a nil TUN must return immediately")
	}
}
