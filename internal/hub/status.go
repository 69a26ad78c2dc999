package hub

import "github.com/OE3ANC/m17web-proxy/internal/reflector"

// BuildSnapshot projects a set of session snapshots into the ModuleInfo[]
// wire representation (component I). The supervisor calls this after
// collecting reflector.Status from every owned session and hands the
// result to Hub.PublishStatus.
func BuildSnapshot(sessions []reflector.Status) []ModuleInfo {
	out := make([]ModuleInfo, 0, len(sessions))
	for _, s := range sessions {
		info := ModuleInfo{
			Reflector:   s.Key.Designator,
			Module:      string(s.Key.Module),
			LastHeard:   s.LastHeardSecs,
			LastQSOCall: s.ActiveQSOCall,
			LastQSOTime: s.ActiveQSOSecs,
			ActiveQSO:   s.ActiveQSO,
			Messages:    make([]MessageRecord, 0, len(s.RecentMessages)),
		}
		for _, m := range s.RecentMessages {
			info.Messages = append(info.Messages, MessageRecord{
				Callsign:  m.SrcCallsign,
				Message:   m.Text,
				Timestamp: m.TimestampSecs,
			})
		}
		out = append(out, info)
	}
	return out
}
