package pfcpcontrol

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/your-org/5g-upf/internal/counters"
	"github.com/your-org/5g-upf/internal/nat"
	"github.com/your-org/5g-upf/internal/ruletypes"
	"github.com/your-org/5g-upf/internal/session"
)

// Handler dispatches incoming PFCP messages against the session store,
// enforcing the association-before-session-ops rule and handing back
// the raw bytes of the response to send, or nil for messages that
// don't warrant one (a malformed datagram, for instance).
type Handler struct {
	Store    *session.Store
	NAT      *nat.Table
	Counters *counters.Counters
	Logger   *zap.Logger

	NodeID          string
	StartTime       time.Time
	DefaultTunnelID uint32

	// Tracer is optional; a nil Tracer is replaced with a real one on
	// first use.
	Tracer trace.Tracer

	mu           sync.Mutex
	associated   bool
	peerRecovery uint32
}

func (h *Handler) tracer() trace.Tracer {
	if h.Tracer == nil {
		h.Tracer = otel.Tracer("upf-pfcpcontrol")
	}
	return h.Tracer
}

// HandleMessage parses and dispatches one datagram, returning the bytes
// to send back to peer, or nil.
func (h *Handler) HandleMessage(data []byte, peer *net.UDPAddr) []byte {
	hdr, ok := ParseHeader(data)
	if !ok {
		h.Counters.IncMalformed()
		return nil
	}

	_, span := h.tracer().Start(context.Background(), "pfcpcontrol."+messageTypeName(hdr.MessageType))
	defer span.End()

	h.Counters.IncPFCPMessage(messageTypeName(hdr.MessageType))

	switch hdr.MessageType {
	case MsgHeartbeatRequest:
		return h.handleHeartbeat(hdr)
	case MsgAssociationSetupRequest:
		return h.handleAssociationSetup(hdr)
	case MsgAssociationReleaseRequest:
		return h.handleAssociationRelease(hdr)
	case MsgSessionEstablishmentRequest:
		return h.handleSessionEstablishment(hdr)
	case MsgSessionModificationRequest:
		return h.handleSessionModification(hdr)
	case MsgSessionDeletionRequest:
		return h.handleSessionDeletion(hdr)
	default:
		h.Logger.Warn("pfcpcontrol: unhandled message type", zap.Uint8("type", hdr.MessageType))
		return nil
	}
}

func (h *Handler) recoverySeconds() uint32 {
	return uint32(h.StartTime.Unix())
}

func messageTypeName(msgType uint8) string {
	switch msgType {
	case MsgHeartbeatRequest:
		return "heartbeat_request"
	case MsgHeartbeatResponse:
		return "heartbeat_response"
	case MsgAssociationSetupRequest:
		return "association_setup_request"
	case MsgAssociationSetupResponse:
		return "association_setup_response"
	case MsgAssociationReleaseRequest:
		return "association_release_request"
	case MsgAssociationReleaseResponse:
		return "association_release_response"
	case MsgSessionEstablishmentRequest:
		return "session_establishment_request"
	case MsgSessionEstablishmentResponse:
		return "session_establishment_response"
	case MsgSessionModificationRequest:
		return "session_modification_request"
	case MsgSessionModificationResponse:
		return "session_modification_response"
	case MsgSessionDeletionRequest:
		return "session_deletion_request"
	case MsgSessionDeletionResponse:
		return "session_deletion_response"
	default:
		return "unknown"
	}
}

func (h *Handler) handleHeartbeat(hdr Header) []byte {
	return newResponse(MsgHeartbeatResponse, hdr.Sequence).
		addIE(ieRecoveryTimeStamp, uint32BE(h.recoverySeconds())).
		bytes()
}

func (h *Handler) handleAssociationSetup(hdr Header) []byte {
	if _, ok := findIE(hdr.IEs, ieNodeID); !ok {
		return h.rejectAssociation(hdr.Sequence, CauseMandatoryIEMissing)
	}
	rec, ok := findIE(hdr.IEs, ieRecoveryTimeStamp)
	if !ok {
		return h.rejectAssociation(hdr.Sequence, CauseMandatoryIEMissing)
	}

	h.mu.Lock()
	h.associated = true
	h.peerRecovery = binary.BigEndian.Uint32(rec.Value)
	h.mu.Unlock()

	return newResponse(MsgAssociationSetupResponse, hdr.Sequence).
		addCause(CauseAccepted).
		addIE(ieNodeID, []byte(h.NodeID)).
		addIE(ieRecoveryTimeStamp, uint32BE(h.recoverySeconds())).
		bytes()
}

func (h *Handler) rejectAssociation(seq uint32, cause uint8) []byte {
	return newResponse(MsgAssociationSetupResponse, seq).addCause(cause).bytes()
}

func (h *Handler) handleAssociationRelease(hdr Header) []byte {
	h.mu.Lock()
	h.associated = false
	h.mu.Unlock()

	return newResponse(MsgAssociationReleaseResponse, hdr.Sequence).
		addCause(CauseAccepted).
		bytes()
}

func (h *Handler) isAssociated() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.associated
}

func (h *Handler) handleSessionEstablishment(hdr Header) []byte {
	if !h.isAssociated() {
		return newResponse(MsgSessionEstablishmentResponse, hdr.Sequence).addCause(CauseNoAssociation).bytes()
	}

	cpFSEID, ok := findIE(hdr.IEs, ieFSEID)
	if !ok || len(cpFSEID.Value) < 8 {
		return newResponse(MsgSessionEstablishmentResponse, hdr.Sequence).addCause(CauseMandatoryIEMissing).bytes()
	}
	peerSEID := binary.BigEndian.Uint64(cpFSEID.Value[:8])

	localSEID, err := h.Store.Create(peerSEID)
	if err != nil {
		h.Counters.IncSessionEstablishment(false)
		return newResponse(MsgSessionEstablishmentResponse, hdr.Sequence).addCause(CauseNoResources).bytes()
	}

	sess := h.Store.FindByLocal(localSEID)
	if sess == nil {
		// Can't happen: Create just handed us this id under the store lock.
		h.Counters.IncSessionEstablishment(false)
		return newResponse(MsgSessionEstablishmentResponse, hdr.Sequence).addCause(CauseNoResources).bytes()
	}

	sess.Lock()
	installed := h.installRuleGroups(sess, hdr.IEs)
	if !installed {
		h.installDefaultRules(sess)
	}
	sess.Unlock()

	h.Counters.IncSessionEstablishment(true)
	h.Counters.SetActiveSessions(h.Store.LiveCount())

	return newResponse(MsgSessionEstablishmentResponse, hdr.Sequence).
		withSEID(peerSEID).
		addCause(CauseAccepted).
		addIE(ieFSEID, uint64BE(localSEID)).
		bytes()
}

// installDefaultRules gives a session a minimal viable data path when
// the establishment request carried no rule groups of its own: forward
// anything from the configured default tunnel straight to the core.
// Caller holds the session lock.
func (h *Handler) installDefaultRules(sess *session.Session) {
	sess.PutForwardingRule(ruletypes.ForwardingRule{
		ID:                   1,
		Action:               ruletypes.ActionForward,
		DestinationInterface: ruletypes.InterfaceCore,
	})
	sess.PutDetectionRule(ruletypes.DetectionRule{
		ID:               1,
		Precedence:       1,
		SourceInterface:  ruletypes.InterfaceAccess,
		TunnelID:         h.DefaultTunnelID,
		HasTunnelID:      true,
		ForwardingRuleID: 1,
	})
}

func (h *Handler) handleSessionModification(hdr Header) []byte {
	if !hdr.HasSEID {
		return newResponse(MsgSessionModificationResponse, hdr.Sequence).addCause(CauseMandatoryIEMissing).bytes()
	}
	sess := h.Store.FindByLocal(hdr.SEID)
	if sess == nil {
		return newResponse(MsgSessionModificationResponse, hdr.Sequence).addCause(CauseSessionNotFound).bytes()
	}

	sess.Lock()
	h.installRuleGroups(sess, hdr.IEs)
	h.removeRuleGroups(sess, hdr.IEs)
	sess.Unlock()

	return newResponse(MsgSessionModificationResponse, hdr.Sequence).
		withSEID(sess.PeerSEID).
		addCause(CauseAccepted).
		bytes()
}

func (h *Handler) handleSessionDeletion(hdr Header) []byte {
	if !hdr.HasSEID {
		return newResponse(MsgSessionDeletionResponse, hdr.Sequence).addCause(CauseMandatoryIEMissing).bytes()
	}
	sess := h.Store.FindByLocal(hdr.SEID)
	if sess == nil {
		return newResponse(MsgSessionDeletionResponse, hdr.Sequence).addCause(CauseSessionNotFound).bytes()
	}
	peerSEID := sess.PeerSEID

	h.NAT.DeleteBySession(hdr.SEID)
	h.Store.Delete(hdr.SEID)
	h.Counters.SetActiveSessions(h.Store.LiveCount())

	return newResponse(MsgSessionDeletionResponse, hdr.Sequence).
		withSEID(peerSEID).
		addCause(CauseAccepted).
		bytes()
}
