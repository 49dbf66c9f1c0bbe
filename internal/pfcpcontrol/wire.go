// Package pfcpcontrol implements the control-plane handlers: PFCP
// message dispatch, mandatory-IE enforcement, and session
// create/modify/delete against the session store.
package pfcpcontrol

import "encoding/binary"

// PFCP message types (3GPP TS 29.244 numbering).
const (
	MsgHeartbeatRequest             = 1
	MsgHeartbeatResponse            = 2
	MsgAssociationSetupRequest      = 5
	MsgAssociationSetupResponse     = 6
	MsgAssociationReleaseRequest    = 7
	MsgAssociationReleaseResponse   = 8
	MsgSessionEstablishmentRequest  = 50
	MsgSessionEstablishmentResponse = 51
	MsgSessionModificationRequest   = 52
	MsgSessionModificationResponse  = 53
	MsgSessionDeletionRequest       = 54
	MsgSessionDeletionResponse      = 55
)

// Cause values carried in the Cause IE.
const (
	CauseAccepted           = 1
	CauseMandatoryIEMissing = 2
	CauseNoAssociation      = 3
	CauseNoResources        = 4
	CauseSessionNotFound    = 5
)

// Top-level information element types.
const (
	ieNodeID            = 60
	ieRecoveryTimeStamp = 96
	ieCause             = 19
	ieFSEID             = 57
	ieCreatePDR         = 1
	ieCreateFAR         = 3
	ieCreateQER         = 7
	ieCreateURR         = 6
	ieUpdatePDR         = 9
	ieUpdateFAR         = 10
	ieUpdateQER         = 11
	ieUpdateURR         = 12
	ieRemovePDR         = 13
	ieRemoveFAR         = 14
	ieRemoveQER         = 15
	ieRemoveURR         = 16
)

// Nested information element types, valid within a Create/Update group.
const (
	ieRuleID          = 100
	iePrecedence      = 101
	ieSourceInterface = 102
	ieTunnelID        = 103
	ieUEIPAddress     = 104
	ieFARIDRef        = 105
	ieQERIDRef        = 106
	ieURRIDRef        = 107
	ieFilterProto     = 108
	ieFilterPortLow   = 109
	ieFilterPortHigh  = 110
	ieApplyAction     = 111
	ieDestInterface   = 102 // reuses ieSourceInterface's tag; meaning is positional
	ieOuterHeaderTEID = 112
	ieOuterHeaderAddr = 113
	ieQFI             = 114
	ieMBRUp           = 115
	ieMBRDown         = 116
	iePPSLimit        = 117
	ieVolumeThreshold = 118
	ieVolumeQuota     = 119
	ieTimeThreshold   = 120
	ieTimeQuota       = 121
	ieReportingPeriod = 122
	ieMeasureMethod   = 123
)

// apply-action bitmask values.
const (
	actionDrop    = 0x01
	actionForward = 0x02
	actionBuffer  = 0x04
)

// IE is one parsed type-length-value information element.
type IE struct {
	Type  uint16
	Value []byte
}

// parseIEs walks a flat sequence of 2-byte-type/2-byte-length IEs.
func parseIEs(data []byte) []IE {
	var ies []IE
	offset := 0
	for offset+4 <= len(data) {
		typ := binary.BigEndian.Uint16(data[offset : offset+2])
		length := int(binary.BigEndian.Uint16(data[offset+2 : offset+4]))
		offset += 4
		if offset+length > len(data) {
			break
		}
		ies = append(ies, IE{Type: typ, Value: data[offset : offset+length]})
		offset += length
	}
	return ies
}

func findIE(ies []IE, typ uint16) (IE, bool) {
	for _, ie := range ies {
		if ie.Type == typ {
			return ie, true
		}
	}
	return IE{}, false
}

// Header is a parsed PFCP message header.
type Header struct {
	Version     uint8
	MessageType uint8
	HasSEID     bool
	SEID        uint64
	Sequence    uint32
	IEs         []IE
}

// ParseHeader parses a PFCP message: 1-byte flags (version in bits
// 5-7, S-flag in bit 0 signaling an 8-byte session id), 1-byte message
// type, 2-byte length, optional 8-byte SEID, 3-byte sequence, 1-byte
// spare, then TLV IEs.
func ParseHeader(data []byte) (Header, bool) {
	if len(data) < 8 {
		return Header{}, false
	}

	flags := data[0]
	h := Header{
		Version:     (flags >> 5) & 0x07,
		MessageType: data[1],
		HasSEID:     flags&0x01 != 0,
	}

	offset := 4
	if h.HasSEID {
		if len(data) < 16 {
			return Header{}, false
		}
		h.SEID = binary.BigEndian.Uint64(data[4:12])
		offset = 12
	}
	if len(data) < offset+4 {
		return Header{}, false
	}
	h.Sequence = uint32(data[offset])<<16 | uint32(data[offset+1])<<8 | uint32(data[offset+2])
	offset += 4 // 3-byte sequence + 1-byte spare

	h.IEs = parseIEs(data[offset:])
	return h, true
}

// messageBuilder accumulates IEs and renders a framed PFCP message.
type messageBuilder struct {
	msgType  uint8
	seid     uint64
	hasSEID  bool
	sequence uint32
	ies      []IE
}

func newResponse(msgType uint8, sequence uint32) *messageBuilder {
	return &messageBuilder{msgType: msgType, sequence: sequence}
}

func (b *messageBuilder) withSEID(seid uint64) *messageBuilder {
	b.hasSEID = true
	b.seid = seid
	return b
}

func (b *messageBuilder) addIE(typ uint16, value []byte) *messageBuilder {
	b.ies = append(b.ies, IE{Type: typ, Value: value})
	return b
}

func (b *messageBuilder) addCause(cause uint8) *messageBuilder {
	return b.addIE(ieCause, []byte{cause})
}

func (b *messageBuilder) bytes() []byte {
	var body []byte
	for _, ie := range b.ies {
		hdr := make([]byte, 4)
		binary.BigEndian.PutUint16(hdr[0:2], ie.Type)
		binary.BigEndian.PutUint16(hdr[2:4], uint16(len(ie.Value)))
		body = append(body, hdr...)
		body = append(body, ie.Value...)
	}

	headerLen := 8
	if b.hasSEID {
		headerLen = 16
	}
	out := make([]byte, headerLen+len(body))

	flags := byte(0x20) // version 1
	if b.hasSEID {
		flags |= 0x01
	}
	out[0] = flags
	out[1] = b.msgType

	offset := 4
	if b.hasSEID {
		binary.BigEndian.PutUint64(out[4:12], b.seid)
		offset = 12
	}
	out[offset] = byte(b.sequence >> 16)
	out[offset+1] = byte(b.sequence >> 8)
	out[offset+2] = byte(b.sequence)
	out[offset+3] = 0 // spare
	offset += 4

	copy(out[offset:], body)

	msgLen := uint16(len(out) - 4)
	binary.BigEndian.PutUint16(out[2:4], msgLen)

	return out
}

func uint32BE(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func uint64BE(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func uint16BE(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}
