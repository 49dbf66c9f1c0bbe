package pfcpcontrol

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/5g-upf/internal/counters"
	"github.com/your-org/5g-upf/internal/nat"
	"github.com/your-org/5g-upf/internal/session"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	return &Handler{
		Store:           session.NewStore(4),
		NAT:             nat.NewTable(4, time.Minute),
		Counters:        counters.New(),
		Logger:          zap.NewNop(),
		NodeID:          "test-upf",
		StartTime:       time.Now(),
		DefaultTunnelID: 1,
	}
}

var testPeer = &net.UDPAddr{IP: net.ParseIP("10.1.1.1"), Port: 8805}

func TestHandleMessage_RejectsMalformedDatagram(t *testing.T) {
	h := newTestHandler(t)
	resp := h.HandleMessage([]byte{0x01}, testPeer)
	assert.Nil(t, resp)
	assert.EqualValues(t, 1, h.Counters.Snapshot().Malformed)
}

func TestHandleHeartbeat(t *testing.T) {
	h := newTestHandler(t)
	req := newResponse(MsgHeartbeatRequest, 1).bytes()

	resp := h.HandleMessage(req, testPeer)
	require.NotNil(t, resp)

	hdr, ok := ParseHeader(resp)
	require.True(t, ok)
	assert.EqualValues(t, MsgHeartbeatResponse, hdr.MessageType)
	_, found := findIE(hdr.IEs, ieRecoveryTimeStamp)
	assert.True(t, found)
}

func associationSetupRequest(seq uint32) []byte {
	return newResponse(MsgAssociationSetupRequest, seq).
		addIE(ieNodeID, []byte("peer-node")).
		addIE(ieRecoveryTimeStamp, uint32BE(1)).
		bytes()
}

func TestHandleAssociationSetup_AcceptsWithMandatoryIEs(t *testing.T) {
	h := newTestHandler(t)
	resp := h.HandleMessage(associationSetupRequest(1), testPeer)
	require.NotNil(t, resp)

	hdr, ok := ParseHeader(resp)
	require.True(t, ok)
	cause, found := findIE(hdr.IEs, ieCause)
	require.True(t, found)
	assert.Equal(t, []byte{CauseAccepted}, cause.Value)
	assert.True(t, h.isAssociated())
}

func TestHandleAssociationSetup_RejectsMissingNodeID(t *testing.T) {
	h := newTestHandler(t)
	req := newResponse(MsgAssociationSetupRequest, 1).addIE(ieRecoveryTimeStamp, uint32BE(1)).bytes()

	resp := h.HandleMessage(req, testPeer)
	require.NotNil(t, resp)
	hdr, _ := ParseHeader(resp)
	cause, _ := findIE(hdr.IEs, ieCause)
	assert.Equal(t, []byte{CauseMandatoryIEMissing}, cause.Value)
	assert.False(t, h.isAssociated())
}

func TestHandleSessionEstablishment_RequiresAssociation(t *testing.T) {
	h := newTestHandler(t)
	req := newResponse(MsgSessionEstablishmentRequest, 1).withSEID(0xAA).addIE(ieFSEID, uint64BE(0xAA)).bytes()

	resp := h.HandleMessage(req, testPeer)
	require.NotNil(t, resp)
	hdr, _ := ParseHeader(resp)
	cause, _ := findIE(hdr.IEs, ieCause)
	assert.Equal(t, []byte{CauseNoAssociation}, cause.Value)
}

func TestHandleSessionEstablishment_InstallsDefaultRulesWhenNoGroupsGiven(t *testing.T) {
	h := newTestHandler(t)
	h.HandleMessage(associationSetupRequest(1), testPeer)

	req := newResponse(MsgSessionEstablishmentRequest, 2).
		withSEID(0xAA).
		addIE(ieFSEID, uint64BE(0xAA)).
		bytes()

	resp := h.HandleMessage(req, testPeer)
	require.NotNil(t, resp)
	hdr, ok := ParseHeader(resp)
	require.True(t, ok)
	cause, _ := findIE(hdr.IEs, ieCause)
	assert.Equal(t, []byte{CauseAccepted}, cause.Value)
	assert.Equal(t, 1, h.Store.LiveCount())

	localIE, found := findIE(hdr.IEs, ieFSEID)
	require.True(t, found)
	localSEID := bytesToUint64(localIE.Value)
	sess := h.Store.FindByLocal(localSEID)
	require.NotNil(t, sess)
	sess.Lock()
	assert.Equal(t, 1, sess.DetectionRuleCount())
	assert.Equal(t, 1, sess.ForwardingRuleCount())
	sess.Unlock()
}

func TestHandleSessionEstablishment_RejectsMissingFSEID(t *testing.T) {
	h := newTestHandler(t)
	h.HandleMessage(associationSetupRequest(1), testPeer)

	req := newResponse(MsgSessionEstablishmentRequest, 2).withSEID(0xAA).bytes()
	resp := h.HandleMessage(req, testPeer)
	require.NotNil(t, resp)
	hdr, _ := ParseHeader(resp)
	cause, _ := findIE(hdr.IEs, ieCause)
	assert.Equal(t, []byte{CauseMandatoryIEMissing}, cause.Value)
}

func TestHandleSessionDeletion_RemovesSessionAndNATEntries(t *testing.T) {
	h := newTestHandler(t)
	h.HandleMessage(associationSetupRequest(1), testPeer)

	establishResp := h.HandleMessage(
		newResponse(MsgSessionEstablishmentRequest, 2).withSEID(0xAA).addIE(ieFSEID, uint64BE(0xAA)).bytes(),
		testPeer)
	hdr, _ := ParseHeader(establishResp)
	localIE, _ := findIE(hdr.IEs, ieFSEID)
	localSEID := bytesToUint64(localIE.Value)
	_, ok := h.NAT.GetOrCreate(net.ParseIP("10.45.0.1"), 5000, 17, localSEID)
	require.True(t, ok)

	delReq := newResponse(MsgSessionDeletionRequest, 3).withSEID(localSEID).bytes()
	delResp := h.HandleMessage(delReq, testPeer)
	require.NotNil(t, delResp)

	delHdr, _ := ParseHeader(delResp)
	cause, _ := findIE(delHdr.IEs, ieCause)
	assert.Equal(t, []byte{CauseAccepted}, cause.Value)
	assert.Nil(t, h.Store.FindByLocal(localSEID))
	assert.Equal(t, 0, h.NAT.LiveCount())
}

func TestHandleSessionDeletion_UnknownSEIDReturnsNotFound(t *testing.T) {
	h := newTestHandler(t)
	req := newResponse(MsgSessionDeletionRequest, 1).withSEID(999).bytes()
	resp := h.HandleMessage(req, testPeer)
	require.NotNil(t, resp)
	hdr, _ := ParseHeader(resp)
	cause, _ := findIE(hdr.IEs, ieCause)
	assert.Equal(t, []byte{CauseSessionNotFound}, cause.Value)
}

func bytesToUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
