package m17proto

import "github.com/OE3ANC/m17web-proxy/internal/callsign"

// BuildLSTN assembles a listen-as-receiver connect PDU: 4-byte "LSTN" +
// 6-byte Base-40 callsign + 1-byte module letter. Total 11 bytes.
//
// The proxy only ever advertises listen-only intent (LSTN), never CONN,
// which would claim transmit capability it does not have.
func BuildLSTN(call string, module byte) []byte {
	encoded := callsign.Encode(call)
	buf := make([]byte, 0, opcodeLen+callsign.EncodedLen+1)
	buf = append(buf, []byte(OpLstn)...)
	buf = append(buf, encoded[:]...)
	buf = append(buf, module)
	return buf
}

// BuildPONG assembles a keepalive reply PDU: 4-byte "PONG" + 6-byte
// Base-40 callsign. Total 10 bytes.
func BuildPONG(call string) []byte {
	encoded := callsign.Encode(call)
	buf := make([]byte, 0, opcodeLen+callsign.EncodedLen)
	buf = append(buf, []byte(OpPong)...)
	buf = append(buf, encoded[:]...)
	return buf
}
