package reflector

import (
	"time"

	"github.com/OE3ANC/m17web-proxy/internal/callsign"
	"github.com/OE3ANC/m17web-proxy/internal/m17proto"
)

func nowDeadline() time.Time {
	return time.Now().Add(2 * time.Second)
}

func makeVoicePDUForTest(dst, src string, frameByte byte, c2 [m17proto.Codec2Len]byte) []byte {
	buf := make([]byte, 54)
	copy(buf[0:4], string(m17proto.OpVoice))
	dstEnc := callsign.Encode(dst)
	srcEnc := callsign.Encode(src)
	copy(buf[6:12], dstEnc[:])
	copy(buf[12:18], srcEnc[:])
	buf[34] = frameByte
	copy(buf[36:52], c2[:])
	return buf
}

func makePacketPDUForTest(dst, src string, payload []byte, trailingZeros int) []byte {
	const payloadOff = 35
	buf := make([]byte, payloadOff+len(payload)+trailingZeros)
	copy(buf[0:4], string(m17proto.OpPacket))
	dstEnc := callsign.Encode(dst)
	srcEnc := callsign.Encode(src)
	copy(buf[4:10], dstEnc[:])
	copy(buf[10:16], srcEnc[:])
	copy(buf[payloadOff:], payload)
	return buf
}
