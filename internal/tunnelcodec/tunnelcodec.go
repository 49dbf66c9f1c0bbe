// Package tunnelcodec implements the GTP-U tunnel header codec:
// decode/encode of the mandatory 8-byte header, the optional sequence/
// N-PDU/extension fields, and the extension-header chain (3GPP TS
// 29.281), plus echo request/response handling.
package tunnelcodec

import (
	"encoding/binary"
	"errors"
	"net"
)

// GTP-U message types (3GPP TS 29.281).
const (
	MsgEchoRequest     = 1
	MsgEchoResponse    = 2
	MsgErrorIndication = 26
	MsgEndMarker       = 254
	MsgGPDU            = 255
)

// extPDUSessionContainer is the PDU Session Container extension header
// type (3GPP TS 38.415) carrying the QoS Flow Identifier.
const extPDUSessionContainer = 0x85

const mandatoryHeaderLen = 8
const optionalFieldsLen = 4 // sequence(2) + N-PDU(1) + next-ext-type(1)

// ErrShortHeader is returned when a datagram is shorter than the
// mandatory 8-byte header.
var ErrShortHeader = errors.New("tunnelcodec: packet shorter than mandatory header")

// Header is the parsed result of Decode.
type Header struct {
	Version       uint8
	MessageType   uint8
	PayloadLength uint16
	TunnelID      uint32

	HasSequence bool
	Sequence    uint16

	HasFlowID bool
	FlowID    uint8 // 6-bit QoS Flow Identifier

	PayloadOffset int
}

// Decode parses a GTP-U datagram's header, walking the extension-header
// chain (if present) to extract the flow id from a PDU-session-container
// extension when one appears. Unknown extensions are skipped using
// their self-described length; decode still succeeds.
func Decode(data []byte) (Header, error) {
	if len(data) < mandatoryHeaderLen {
		return Header{}, ErrShortHeader
	}

	flags := data[0]
	h := Header{
		Version:       (flags >> 5) & 0x07,
		MessageType:   data[1],
		PayloadLength: binary.BigEndian.Uint16(data[2:4]),
		TunnelID:      binary.BigEndian.Uint32(data[4:8]),
	}

	offset := mandatoryHeaderLen
	hasOptional := flags&0x07 != 0 // E | S | PN

	if !hasOptional {
		h.PayloadOffset = offset
		return h, nil
	}

	if len(data) < mandatoryHeaderLen+optionalFieldsLen {
		// Optional flags set but the fields aren't there; treat the
		// packet as having no extensions rather than failing decode.
		h.PayloadOffset = offset
		return h, nil
	}

	sFlag := flags&0x02 != 0
	eFlag := flags&0x04 != 0

	if sFlag {
		h.HasSequence = true
		h.Sequence = binary.BigEndian.Uint16(data[offset : offset+2])
	}
	nextExtType := data[offset+3]
	offset += optionalFieldsLen

	if eFlag {
		for nextExtType != 0 && offset < len(data) {
			lengthUnits := data[offset]
			totalLen := int(lengthUnits) * 4
			if totalLen < 2 || offset+totalLen > len(data) {
				break // malformed trailing extension; stop walking, keep what we have
			}
			content := data[offset+1 : offset+totalLen-1]
			next := data[offset+totalLen-1]

			if nextExtType == extPDUSessionContainer && len(content) >= 2 {
				h.HasFlowID = true
				h.FlowID = content[1] & 0x3F
			}

			offset += totalLen
			nextExtType = next
		}
	}

	h.PayloadOffset = offset
	return h, nil
}

// EncodeGPDU writes a G-PDU message (no extensions) into dst. Returns
// the number of bytes written, or 0 if dst is too small.
func EncodeGPDU(dst []byte, tunnelID uint32, payload []byte) int {
	total := mandatoryHeaderLen + len(payload)
	if len(dst) < total {
		return 0
	}
	dst[0] = 0x30 // version 1, PT=1, no optional fields
	dst[1] = MsgGPDU
	binary.BigEndian.PutUint16(dst[2:4], uint16(len(payload)))
	binary.BigEndian.PutUint32(dst[4:8], tunnelID)
	copy(dst[8:], payload)
	return total
}

// EncodeGPDUWithFlow writes a G-PDU message carrying a PDU-session-
// container extension with the given flow id. direction selects the
// container's DL/UL type octet (true = downlink). Returns the number of
// bytes written, or 0 if dst is too small.
func EncodeGPDUWithFlow(dst []byte, tunnelID uint32, flowID uint8, direction bool, payload []byte) int {
	const extBytes = 4 // length byte + 2 content bytes + next-header byte
	total := mandatoryHeaderLen + optionalFieldsLen + extBytes + len(payload)
	if len(dst) < total {
		return 0
	}

	dst[0] = 0x34 // version 1, PT=1, E flag set
	dst[1] = MsgGPDU
	binary.BigEndian.PutUint16(dst[2:4], uint16(optionalFieldsLen+extBytes+len(payload)))
	binary.BigEndian.PutUint32(dst[4:8], tunnelID)

	off := mandatoryHeaderLen
	binary.BigEndian.PutUint16(dst[off:off+2], 0) // sequence
	dst[off+2] = 0                                 // N-PDU number
	dst[off+3] = extPDUSessionContainer
	off += optionalFieldsLen

	dst[off] = 1 // length unit: 1*4 = 4 bytes total
	// PDU type sits in the high nibble: 1 = UL, 0 = DL PDU session information.
	typeOctet := byte(0x10)
	if direction {
		typeOctet = 0x00
	}
	dst[off+1] = typeOctet
	dst[off+2] = flowID & 0x3F
	dst[off+3] = 0 // no further extensions
	off += extBytes

	copy(dst[off:], payload)
	return total
}

// IsEchoRequest classifies a datagram as an echo request without a full
// decode.
func IsEchoRequest(data []byte) bool {
	return len(data) >= 2 && data[1] == MsgEchoRequest
}

// IsEchoResponse classifies a datagram as an echo response without a
// full decode.
func IsEchoResponse(data []byte) bool {
	return len(data) >= 2 && data[1] == MsgEchoResponse
}

// buildEchoResponse writes an echo response carrying seq (if the
// request had one) into dst, returning the bytes written.
func buildEchoResponse(dst []byte, seq uint16, hasSeq bool) int {
	if hasSeq {
		binary.BigEndian.PutUint16(dst[0:2], 0)
		dst[0] = 0x32 // version 1, PT=1, S flag
		dst[1] = MsgEchoResponse
		binary.BigEndian.PutUint16(dst[2:4], 4)
		binary.BigEndian.PutUint32(dst[4:8], 0)
		binary.BigEndian.PutUint16(dst[8:10], seq)
		dst[10] = 0
		dst[11] = 0
		return 12
	}
	dst[0] = 0x30
	dst[1] = MsgEchoResponse
	binary.BigEndian.PutUint16(dst[2:4], 0)
	binary.BigEndian.PutUint32(dst[4:8], 0)
	return 8
}

// UDPSender is the minimal socket surface HandleEchoRequest needs;
// *net.UDPConn satisfies it.
type UDPSender interface {
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
}

// HandleEchoRequest replies to an echo request with the request's
// sequence number if present, else zero. Idempotent; never mutates any
// store. Returns false on decode or send failure.
func HandleEchoRequest(conn UDPSender, data []byte, peerAddr *net.UDPAddr) bool {
	h, err := Decode(data)
	if err != nil {
		return false
	}
	buf := make([]byte, 12)
	n := buildEchoResponse(buf, h.Sequence, h.HasSequence)
	_, err = conn.WriteToUDP(buf[:n], peerAddr)
	return err == nil
}
