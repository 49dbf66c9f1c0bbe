package pfcpcontrol

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/your-org/5g-upf/internal/ruletypes"
	"github.com/your-org/5g-upf/internal/session"
)

// installRuleGroups applies every Create/Update-PDR/FAR/QER/URR group
// present in ies to sess. Returns true if at least one detection rule
// was installed, so the caller can fall back to a default data path
// when an establishment request carried none. Caller holds sess's lock.
func (h *Handler) installRuleGroups(sess *session.Session, ies []IE) bool {
	installedDetection := false

	for _, ie := range ies {
		switch ie.Type {
		case ieCreateFAR, ieUpdateFAR:
			if r, ok := parseFAR(ie.Value); ok {
				sess.PutForwardingRule(r)
			}
		case ieCreateQER, ieUpdateQER:
			if r, ok := parseQER(ie.Value); ok {
				if existing := sess.FindQoSRule(r.ID); existing != nil {
					r.MBRUpState = existing.MBRUpState
					r.MBRDownState = existing.MBRDownState
					r.PPSState = existing.PPSState
				}
				sess.PutQoSRule(r)
			}
		case ieCreateURR, ieUpdateURR:
			if r, ok := parseURR(ie.Value); ok {
				if existing := sess.FindUsageRule(r.ID); existing != nil {
					r.UplinkBytes = existing.UplinkBytes
					r.DownlinkBytes = existing.DownlinkBytes
					r.TotalBytes = existing.TotalBytes
					r.MeasureStart = existing.MeasureStart
					r.LastReportTime = existing.LastReportTime
					r.ReportPending = existing.ReportPending
					r.QuotaExceeded = existing.QuotaExceeded
				}
				sess.PutUsageRule(r)
			}
		}
	}

	// PDRs are installed last so any FAR/QER/URR id they reference by
	// number is already present regardless of IE order in the message.
	for _, ie := range ies {
		if ie.Type != ieCreatePDR && ie.Type != ieUpdatePDR {
			continue
		}
		if r, ok := parsePDR(ie.Value); ok {
			sess.PutDetectionRule(r)
			installedDetection = true
		}
	}

	return installedDetection
}

// removeRuleGroups applies every Remove-PDR/FAR/QER/URR group present in
// ies. Each remove group carries only the rule id. Caller holds sess's
// lock.
func (h *Handler) removeRuleGroups(sess *session.Session, ies []IE) {
	for _, ie := range ies {
		switch ie.Type {
		case ieRemovePDR:
			if id, ok := parseRuleID(ie.Value); ok {
				sess.RemoveDetectionRule(id)
			}
		case ieRemoveFAR:
			if id, ok := parseRuleID(ie.Value); ok {
				sess.RemoveForwardingRule(id)
			}
		case ieRemoveQER:
			if id, ok := parseRuleID(ie.Value); ok {
				sess.RemoveQoSRule(id)
			}
		case ieRemoveURR:
			if id, ok := parseRuleID(ie.Value); ok {
				sess.RemoveUsageRule(id)
			}
		}
	}
}

func parseRuleID(group []byte) (uint16, bool) {
	ie, ok := findIE(parseIEs(group), ieRuleID)
	if !ok || len(ie.Value) < 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(ie.Value), true
}

func parsePDR(group []byte) (ruletypes.DetectionRule, bool) {
	nested := parseIEs(group)

	idIE, ok := findIE(nested, ieRuleID)
	if !ok || len(idIE.Value) < 2 {
		return ruletypes.DetectionRule{}, false
	}
	farIE, ok := findIE(nested, ieFARIDRef)
	if !ok || len(farIE.Value) < 2 {
		return ruletypes.DetectionRule{}, false
	}

	r := ruletypes.DetectionRule{
		ID:               binary.BigEndian.Uint16(idIE.Value),
		ForwardingRuleID: binary.BigEndian.Uint16(farIE.Value),
	}

	if ie, ok := findIE(nested, iePrecedence); ok && len(ie.Value) >= 4 {
		r.Precedence = binary.BigEndian.Uint32(ie.Value)
	}
	if ie, ok := findIE(nested, ieSourceInterface); ok && len(ie.Value) >= 1 {
		r.SourceInterface = ruletypes.Interface(ie.Value[0])
	}
	if ie, ok := findIE(nested, ieTunnelID); ok && len(ie.Value) >= 4 {
		r.TunnelID = binary.BigEndian.Uint32(ie.Value)
		r.HasTunnelID = true
	}
	if ie, ok := findIE(nested, ieUEIPAddress); ok && len(ie.Value) >= 4 {
		r.UEAddress = net.IP(append([]byte(nil), ie.Value[:4]...))
	}
	if ie, ok := findIE(nested, ieQERIDRef); ok && len(ie.Value) >= 2 {
		r.QoSRuleID = binary.BigEndian.Uint16(ie.Value)
		r.HasQoSRule = true
	}
	if ie, ok := findIE(nested, ieURRIDRef); ok && len(ie.Value) >= 2 {
		r.UsageRuleID = binary.BigEndian.Uint16(ie.Value)
		r.HasUsageRule = true
	}

	var filter ruletypes.FiveTupleFilter
	hasFilter := false
	if ie, ok := findIE(nested, ieFilterProto); ok && len(ie.Value) >= 1 {
		filter.Protocol = ie.Value[0]
		hasFilter = true
	}
	if ie, ok := findIE(nested, ieFilterPortLow); ok && len(ie.Value) >= 2 {
		filter.DstPortLow = binary.BigEndian.Uint16(ie.Value)
		hasFilter = true
	}
	if ie, ok := findIE(nested, ieFilterPortHigh); ok && len(ie.Value) >= 2 {
		filter.DstPortHigh = binary.BigEndian.Uint16(ie.Value)
		hasFilter = true
	}
	if hasFilter {
		r.Filter = &filter
	}

	return r, true
}

func parseFAR(group []byte) (ruletypes.ForwardingRule, bool) {
	nested := parseIEs(group)

	idIE, ok := findIE(nested, ieFARIDRef)
	if !ok || len(idIE.Value) < 2 {
		return ruletypes.ForwardingRule{}, false
	}
	r := ruletypes.ForwardingRule{ID: binary.BigEndian.Uint16(idIE.Value)}

	if ie, ok := findIE(nested, ieApplyAction); ok && len(ie.Value) >= 1 {
		switch ie.Value[0] {
		case actionForward:
			r.Action = ruletypes.ActionForward
		case actionBuffer:
			r.Action = ruletypes.ActionBuffer
		default:
			r.Action = ruletypes.ActionDrop
		}
	}
	if ie, ok := findIE(nested, ieDestInterface); ok && len(ie.Value) >= 1 {
		r.DestinationInterface = ruletypes.Interface(ie.Value[0])
	}

	teidIE, hasTEID := findIE(nested, ieOuterHeaderTEID)
	addrIE, hasAddr := findIE(nested, ieOuterHeaderAddr)
	if hasTEID && hasAddr && len(teidIE.Value) >= 4 && len(addrIE.Value) >= 4 {
		r.OuterHeader = &ruletypes.OuterHeaderCreation{
			TEID:        binary.BigEndian.Uint32(teidIE.Value),
			DestAddress: net.IP(append([]byte(nil), addrIE.Value[:4]...)),
		}
	}

	return r, true
}

func parseQER(group []byte) (ruletypes.QoSRule, bool) {
	nested := parseIEs(group)

	idIE, ok := findIE(nested, ieQERIDRef)
	if !ok || len(idIE.Value) < 2 {
		return ruletypes.QoSRule{}, false
	}
	r := ruletypes.QoSRule{ID: binary.BigEndian.Uint16(idIE.Value)}

	if ie, ok := findIE(nested, ieQFI); ok && len(ie.Value) >= 1 {
		r.FlowID = ie.Value[0]
	}
	if ie, ok := findIE(nested, ieMBRUp); ok && len(ie.Value) >= 8 {
		r.HasMBR = true
		r.MBRUplink = binary.BigEndian.Uint64(ie.Value)
	}
	if ie, ok := findIE(nested, ieMBRDown); ok && len(ie.Value) >= 8 {
		r.HasMBR = true
		r.MBRDownlink = binary.BigEndian.Uint64(ie.Value)
	}
	if ie, ok := findIE(nested, iePPSLimit); ok && len(ie.Value) >= 8 {
		r.HasPPS = true
		r.PPSLimit = binary.BigEndian.Uint64(ie.Value)
	}

	return r, true
}

func parseURR(group []byte) (ruletypes.UsageRule, bool) {
	nested := parseIEs(group)

	idIE, ok := findIE(nested, ieURRIDRef)
	if !ok || len(idIE.Value) < 2 {
		return ruletypes.UsageRule{}, false
	}
	r := ruletypes.UsageRule{ID: binary.BigEndian.Uint16(idIE.Value)}

	if ie, ok := findIE(nested, ieMeasureMethod); ok && len(ie.Value) >= 1 {
		r.MeasureVolume = ie.Value[0]&0x01 != 0
		r.MeasureTime = ie.Value[0]&0x02 != 0
	}
	if ie, ok := findIE(nested, ieVolumeThreshold); ok && len(ie.Value) >= 8 {
		r.HasVolumeThreshold = true
		r.VolumeThreshold = binary.BigEndian.Uint64(ie.Value)
	}
	if ie, ok := findIE(nested, ieVolumeQuota); ok && len(ie.Value) >= 8 {
		r.HasVolumeQuota = true
		r.VolumeQuota = binary.BigEndian.Uint64(ie.Value)
	}
	if ie, ok := findIE(nested, ieTimeThreshold); ok && len(ie.Value) >= 4 {
		r.HasTimeThreshold = true
		r.TimeThreshold = time.Duration(binary.BigEndian.Uint32(ie.Value)) * time.Second
	}
	if ie, ok := findIE(nested, ieTimeQuota); ok && len(ie.Value) >= 4 {
		r.HasTimeQuota = true
		r.TimeQuota = time.Duration(binary.BigEndian.Uint32(ie.Value)) * time.Second
	}
	if ie, ok := findIE(nested, ieReportingPeriod); ok && len(ie.Value) >= 4 {
		r.HasReportingPeriod = true
		r.ReportingPeriod = time.Duration(binary.BigEndian.Uint32(ie.Value)) * time.Second
	}

	return r, true
}
