package m17proto

import "github.com/OE3ANC/m17web-proxy/internal/callsign"

// EventKind tags the variant of a parsed datagram.
type EventKind int

const (
	// EventUnknown is an unrecognized or malformed datagram.
	EventUnknown EventKind = iota
	// EventLinkUp marks a reflector-accepted LSTN (ACKN).
	EventLinkUp
	// EventLinkRefused marks a reflector-refused LSTN (NACK).
	EventLinkRefused
	// EventLinkDown marks a reflector-initiated disconnect (DISC).
	EventLinkDown
	// EventKeepalive marks a reflector keepalive (PING); the caller is
	// expected to reply with PONG.
	EventKeepalive
	// EventVoiceFrame marks a parsed M17 stream (voice) PDU.
	EventVoiceFrame
	// EventTextPacket marks a parsed M17P packet PDU.
	EventTextPacket
)

// Codec2Len is the length in bytes of the opaque Codec-2 payload carried
// by each voice frame.
const Codec2Len = 16

// Event is the tagged result of parsing one inbound M17 datagram.
type Event struct {
	Kind EventKind

	// Src/Dst are populated for EventVoiceFrame and EventTextPacket.
	Src string
	Dst string

	// C2 holds the opaque Codec-2 payload for EventVoiceFrame.
	C2 [Codec2Len]byte

	// Payload holds the trimmed packet payload for EventTextPacket. The
	// parser only trims trailing zero bytes and hands the raw slice back;
	// it does not inspect a packet-type marker. The reflector session
	// records every payload as text without checking it.
	Payload []byte

	// IsLast marks the end-of-transmission frame for EventVoiceFrame and
	// EventTextPacket.
	IsLast bool
}

// Voice PDU field offsets, per spec.md §4.3.
const (
	voiceDstOff      = 6
	voiceSrcOff      = 12
	voiceFrameNumOff = 34
	voiceC2Off       = 36
	voiceMinLen      = voiceC2Off + Codec2Len
	lastFrameMask    = 0x80
)

// Packet PDU field offsets, per spec.md §4.3.
const (
	packetDstOff     = 4
	packetSrcOff     = 10
	packetPayloadOff = 35
)

// Parse recognizes the opcode of a raw UDP datagram and extracts the
// relevant fields for voice and packet PDUs. Malformed or short datagrams
// yield an EventUnknown rather than an error: a single bad datagram must
// never disturb a session's state (spec.md §7, kind 4).
func Parse(buf []byte) Event {
	op := opcodeOf(buf)
	switch op {
	case OpAckn:
		return Event{Kind: EventLinkUp}
	case OpNack:
		return Event{Kind: EventLinkRefused}
	case OpDisc:
		return Event{Kind: EventLinkDown}
	case OpPing:
		return Event{Kind: EventKeepalive}
	case OpVoice:
		return parseVoice(buf)
	case OpPacket:
		return parsePacket(buf)
	default:
		return Event{Kind: EventUnknown}
	}
}

func parseVoice(buf []byte) Event {
	if len(buf) < voiceMinLen {
		return Event{Kind: EventUnknown}
	}

	ev := Event{
		Kind:   EventVoiceFrame,
		Dst:    callsign.Decode(buf[voiceDstOff : voiceDstOff+callsign.EncodedLen]),
		Src:    callsign.Decode(buf[voiceSrcOff : voiceSrcOff+callsign.EncodedLen]),
		IsLast: buf[voiceFrameNumOff]&lastFrameMask != 0,
	}
	copy(ev.C2[:], buf[voiceC2Off:voiceC2Off+Codec2Len])
	return ev
}

func parsePacket(buf []byte) Event {
	if len(buf) < packetPayloadOff {
		return Event{Kind: EventUnknown}
	}

	// Trailing zero bytes are elided: find the last nonzero byte and cut
	// the payload there. This is a lossy heuristic (a payload that
	// legitimately ends in 0x00 loses those bytes) but it is what the
	// protocol's framing forces without an explicit length field.
	end := len(buf)
	for end > packetPayloadOff && buf[end-1] == 0 {
		end--
	}

	ev := Event{
		Kind: EventTextPacket,
		Dst:  callsign.Decode(buf[packetDstOff : packetDstOff+callsign.EncodedLen]),
		Src:  callsign.Decode(buf[packetSrcOff : packetSrcOff+callsign.EncodedLen]),
		// Packet mode PDUs carry their whole payload in a single
		// datagram; there is no continuation bit in the opaque LSF
		// region to split a text packet across frames.
		IsLast: true,
	}
	if end > packetPayloadOff {
		ev.Payload = append([]byte(nil), buf[packetPayloadOff:end]...)
	} else {
		ev.Payload = []byte{}
	}
	return ev
}
