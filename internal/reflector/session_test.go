package reflector

import (
	"net"
	"testing"

	"github.com/OE3ANC/m17web-proxy/internal/m17proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	frames []Frame
	keys   []Key
}

func (f *fakeSink) RouteFrame(key Key, frame Frame) {
	f.keys = append(f.keys, key)
	f.frames = append(f.frames, frame)
}

func newTestSession(t *testing.T, sink Sink, onStatus func()) (*Session, *net.UDPConn) {
	t.Helper()
	server, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { server.Close() })

	client, err := net.DialUDP("udp", nil, server.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	sess := New(Key{Designator: "M17-XOR", Module: 'A'}, client, server.LocalAddr().(*net.UDPAddr), "N0CALL", sink, onStatus)
	return sess, server
}

func TestTickSendsLSTNWhenNeverHeard(t *testing.T) {
	sess, server := newTestSession(t, &fakeSink{}, nil)
	var clock int64 = 1000
	sess.SetClock(func() int64 { return clock })

	sess.Tick()

	buf := make([]byte, 64)
	_ = server.SetReadDeadline(nowDeadline())
	n, _, err := server.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, "LSTN", string(buf[:4]))
	assert.Equal(t, byte('A'), buf[n-1])

	snap := sess.Snapshot()
	assert.Equal(t, StateLinking, snap.State)
}

func TestHandleDatagramACKNMovesToLinked(t *testing.T) {
	sess, _ := newTestSession(t, &fakeSink{}, nil)
	sess.handleDatagram([]byte("ACKN"))
	assert.Equal(t, StateLinked, sess.Snapshot().State)
}

func TestHandleDatagramNACKBacksOff(t *testing.T) {
	var clock int64 = 5000
	sess, _ := newTestSession(t, &fakeSink{}, nil)
	sess.SetClock(func() int64 { return clock })

	sess.handleDatagram([]byte("NACK"))
	snap := sess.Snapshot()
	assert.Equal(t, StateBackoff, snap.State)

	clock += BackoffSecs - 1
	sess.Tick()
	assert.Equal(t, StateBackoff, sess.Snapshot().State)

	clock += 2
	sess.Tick()
	assert.NotEqual(t, StateBackoff, sess.Snapshot().State)
}

func TestHandleDatagramDISCResetsForReconnect(t *testing.T) {
	sess, _ := newTestSession(t, &fakeSink{}, nil)
	sess.handleDatagram([]byte("ACKN"))
	sess.handleDatagram([]byte("DISC"))

	snap := sess.Snapshot()
	assert.Equal(t, StateConnecting, snap.State)
	assert.Equal(t, int64(0), snap.LastHeardSecs)
}

func TestKeepaliveRepliesWithPONG(t *testing.T) {
	sess, server := newTestSession(t, &fakeSink{}, nil)
	sess.handleDatagram([]byte("PING1234"))

	buf := make([]byte, 64)
	_ = server.SetReadDeadline(nowDeadline())
	n, _, err := server.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, "PONG", string(buf[:4]))
	assert.Equal(t, 10, n)
}

func TestVoiceFrameSetsActiveQSOAndRoutes(t *testing.T) {
	sink := &fakeSink{}
	var statusCalls int
	sess, _ := newTestSession(t, sink, func() { statusCalls++ })
	var clock int64 = 2000
	sess.SetClock(func() int64 { return clock })

	var c2 [m17proto.Codec2Len]byte
	pdu := makeVoicePDUForTest("M17-XOR A", "N0CALL", 0x00, c2)
	sess.handleDatagram(pdu)

	require.Len(t, sink.frames, 1)
	assert.True(t, sink.frames[0].IsVoice)
	assert.Equal(t, "N0CALL", sink.frames[0].Src)

	snap := sess.Snapshot()
	assert.True(t, snap.ActiveQSO)
	assert.Equal(t, "N0CALL", snap.ActiveQSOCall)
	assert.GreaterOrEqual(t, statusCalls, 1)
}

func TestEveryVoiceFrameInAQSONotifiesStatus(t *testing.T) {
	sink := &fakeSink{}
	var statusCalls int
	sess, _ := newTestSession(t, sink, func() { statusCalls++ })
	var clock int64 = 2000
	sess.SetClock(func() int64 { return clock })

	var c2 [m17proto.Codec2Len]byte
	for i := 0; i < 3; i++ {
		sess.handleDatagram(makeVoicePDUForTest("M17-XOR A", "N0CALL", 0x00, c2))
	}

	assert.Equal(t, 3, statusCalls, "every frame of a QSO, not just the first, must push a status update")
}

func TestQSOIdleClearsAfterTimeout(t *testing.T) {
	sink := &fakeSink{}
	sess, _ := newTestSession(t, sink, nil)
	var clock int64 = 3000
	sess.SetClock(func() int64 { return clock })

	var c2 [m17proto.Codec2Len]byte
	sess.handleDatagram(makeVoicePDUForTest("M17-XOR A", "N0CALL", 0x00, c2))
	require.True(t, sess.Snapshot().ActiveQSO)

	clock += QSOIdleSecs
	sess.Tick()
	assert.False(t, sess.Snapshot().ActiveQSO)
}

func TestTextPacketAppendsMessageRing(t *testing.T) {
	sink := &fakeSink{}
	sess, _ := newTestSession(t, sink, nil)
	pdu := makePacketPDUForTest("M17-XOR A", "N0CALL", []byte("hi"), 8)
	sess.handleDatagram(pdu)

	snap := sess.Snapshot()
	require.Len(t, snap.RecentMessages, 1)
	assert.Equal(t, "hi", snap.RecentMessages[0].Text)
	assert.Equal(t, "N0CALL", snap.RecentMessages[0].SrcCallsign)
}

func TestUnknownDatagramDoesNotDisturbState(t *testing.T) {
	sess, _ := newTestSession(t, &fakeSink{}, nil)
	sess.handleDatagram([]byte("ACKN"))
	before := sess.Snapshot()

	sess.handleDatagram([]byte("garbage!"))
	after := sess.Snapshot()
	assert.Equal(t, before.State, after.State)
}
