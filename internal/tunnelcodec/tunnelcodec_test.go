package tunnelcodec

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_RejectsShortHeader(t *testing.T) {
	_, err := Decode([]byte{0x30, 0xFF})
	assert.ErrorIs(t, err, ErrShortHeader)
}

func TestEncodeDecodeGPDU_RoundTrips(t *testing.T) {
	payload := []byte("hello upf")
	buf := make([]byte, 8+len(payload))
	n := EncodeGPDU(buf, 0xAABBCCDD, payload)
	require.NotZero(t, n)

	h, err := Decode(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, uint8(MsgGPDU), h.MessageType)
	assert.EqualValues(t, 0xAABBCCDD, h.TunnelID)
	assert.False(t, h.HasSequence)
	assert.False(t, h.HasFlowID)
	assert.Equal(t, buf[h.PayloadOffset:n], payload)
}

func TestEncodeGPDU_TooSmallDst(t *testing.T) {
	buf := make([]byte, 4)
	assert.Zero(t, EncodeGPDU(buf, 1, []byte("x")))
}

func TestEncodeGPDUWithFlow_ExtractsFlowID(t *testing.T) {
	payload := []byte("qos-tagged")
	buf := make([]byte, 8+4+4+len(payload))
	n := EncodeGPDUWithFlow(buf, 77, 9, true, payload)
	require.NotZero(t, n)

	h, err := Decode(buf[:n])
	require.NoError(t, err)
	assert.EqualValues(t, 77, h.TunnelID)
	require.True(t, h.HasFlowID)
	assert.EqualValues(t, 9, h.FlowID)
	assert.Equal(t, buf[h.PayloadOffset:n], payload)
}

func TestIsEchoRequestResponse(t *testing.T) {
	assert.True(t, IsEchoRequest([]byte{0x30, MsgEchoRequest}))
	assert.False(t, IsEchoRequest([]byte{0x30, MsgGPDU}))
	assert.True(t, IsEchoResponse([]byte{0x30, MsgEchoResponse}))
}

type fakeSender struct {
	sentTo *net.UDPAddr
	sent   []byte
}

func (f *fakeSender) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	f.sentTo = addr
	f.sent = append([]byte{}, b...)
	return len(b), nil
}

func TestHandleEchoRequest_EchoesSequence(t *testing.T) {
	req := make([]byte, 12)
	req[0] = 0x32 // S flag set
	req[1] = MsgEchoRequest
	req[8], req[9] = 0x00, 0x2A // sequence 42

	sender := &fakeSender{}
	peer := &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: 2152}

	ok := HandleEchoRequest(sender, req, peer)
	require.True(t, ok)
	assert.Equal(t, peer, sender.sentTo)
	assert.Equal(t, uint8(MsgEchoResponse), sender.sent[1])
	assert.Equal(t, uint16(42), uint16(sender.sent[8])<<8|uint16(sender.sent[9]))
}

func TestHandleEchoRequest_RejectsMalformed(t *testing.T) {
	sender := &fakeSender{}
	ok := HandleEchoRequest(sender, []byte{0x01}, &net.UDPAddr{})
	assert.False(t, ok)
}
