package counters

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounters_IncrementsAreIndependent(t *testing.T) {
	c := New()
	c.IncReceived()
	c.IncReceived()
	c.IncQoSPassed()
	c.IncQoSMBRDropped()

	snap := c.Snapshot()
	assert.EqualValues(t, 2, snap.Received)
	assert.EqualValues(t, 1, snap.QoSPassed)
	assert.EqualValues(t, 1, snap.QoSMBRDropped)
	assert.Zero(t, snap.FARMiss)
}

func TestCounters_IncPFCPMessage(t *testing.T) {
	c := New()
	c.IncPFCPMessage("heartbeat_request")
	c.IncPFCPMessage("session_establishment_request")

	snap := c.Snapshot()
	assert.EqualValues(t, 2, snap.PFCPMessages)
}

func TestCounters_IncSessionEstablishment(t *testing.T) {
	c := New()
	c.IncSessionEstablishment(true)
	c.IncSessionEstablishment(true)
	c.IncSessionEstablishment(false)

	snap := c.Snapshot()
	assert.EqualValues(t, 2, snap.SessionEstablishments)
	assert.EqualValues(t, 1, snap.SessionEstablishFailed)
}

func TestCounters_IncGTPUTxRecordsBytes(t *testing.T) {
	c := New()
	c.IncGTPUTx(128)
	c.IncN3Tx(64)

	snap := c.Snapshot()
	assert.EqualValues(t, 1, snap.GTPUTx)
	assert.EqualValues(t, 1, snap.N3Tx)
	assert.EqualValues(t, 128, snap.UplinkBytes)
	assert.EqualValues(t, 64, snap.DownlinkBytes)
}

func TestCounters_SnapshotIsIndependentCopy(t *testing.T) {
	c := New()
	c.IncReceived()
	snap := c.Snapshot()

	c.IncReceived()
	assert.EqualValues(t, 1, snap.Received, "a taken snapshot must not change under later increments")
}
