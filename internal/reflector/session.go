// Package reflector drives one UDP session against one M17 reflector
// module: the LSTN/ACKN/NACK/PING/PONG/DISC link-keeping state machine and
// voice/packet frame intake for a single (designator, module) pair.
package reflector

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/OE3ANC/m17web-proxy/internal/m17proto"
	"k8s.io/klog/v2"
)

// State is the session's link state, per spec.md §4.4.
type State int

const (
	// StateConnecting has not yet sent LSTN, or is retrying after a
	// timeout/DISC.
	StateConnecting State = iota
	// StateLinking has sent LSTN and is waiting on ACKN/NACK.
	StateLinking
	// StateLinked has an acknowledged link and is receiving keepalives.
	StateLinked
	// StateBackoff is cooling down after a NACK before retrying.
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateLinking:
		return "linking"
	case StateLinked:
		return "linked"
	case StateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

const (
	// KeepaliveTimeoutSecs is how long a session waits without hearing
	// anything from the reflector before it assumes the link is dead and
	// re-sends LSTN.
	KeepaliveTimeoutSecs = 60
	// QSOIdleSecs is how long a session waits after the last voice/packet
	// frame before it clears active_qso.
	QSOIdleSecs = 1
	// BackoffSecs is the cooldown after a NACK before a session retries.
	BackoffSecs = 60

	recvBufferSize   = 1024
	messageRingDepth = 32
)

// Key identifies a session by the reflector designator and module letter it
// is linked to.
type Key struct {
	Designator string
	Module     byte
}

// Frame is a decoded voice or text event, handed to a Sink for fan-out.
type Frame struct {
	Src     string
	Dst     string
	C2      [m17proto.Codec2Len]byte
	Payload []byte
	IsLast  bool
	IsVoice bool
}

// Sink receives decoded frames from a session. Implementations must not
// block the session goroutine for long; the hub package's fan-out is the
// intended implementation.
type Sink interface {
	RouteFrame(key Key, frame Frame)
}

// Status is a point-in-time snapshot of a session, used to build the
// info-subscriber ModuleInfo projection (spec.md §4.5).
type Status struct {
	Key            Key
	State          State
	LastHeardSecs  int64
	ActiveQSO      bool
	ActiveQSOCall  string
	ActiveQSOSecs  int64
	RecentMessages []MessageEntry
}

// Session owns one UDP socket dialed at one reflector module.
type Session struct {
	key    Key
	conn   *net.UDPConn
	target *net.UDPAddr

	callsign string
	sink     Sink
	onStatus func()
	now      func() int64

	mu            sync.Mutex
	state         State
	lastHeardSecs int64
	backoffUntil  int64
	activeQSO     bool
	activeQSOCall string
	activeQSOSecs int64
	messages      *messageRing
}

// New creates a session bound to conn, targeting target, identified by key.
// conn must already be connected (or at least addressed) to target; the
// caller owns the socket's lifecycle.
func New(key Key, conn *net.UDPConn, target *net.UDPAddr, callsign string, sink Sink, onStatus func()) *Session {
	return &Session{
		key:      key,
		conn:     conn,
		target:   target,
		callsign: callsign,
		sink:     sink,
		onStatus: onStatus,
		now:      func() int64 { return time.Now().Unix() },
		state:    StateConnecting,
		messages: newMessageRing(messageRingDepth),
	}
}

// Run blocks reading datagrams from conn until ctx is cancelled. Receive
// errors are logged and the loop keeps reading. Run it in its own
// goroutine.
func (s *Session) Run(ctx context.Context) error {
	buf := make([]byte, recvBufferSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			klog.V(2).Infof("reflector[%s/%c]: recv error: %v", s.key.Designator, s.key.Module, err)
			continue
		}
		if addr != nil && s.target != nil && !addr.IP.Equal(s.target.IP) {
			// Datagram from somewhere other than our reflector; ignore.
			continue
		}
		s.handleDatagram(buf[:n])
	}
}

// Tick drives keepalive re-send, backoff expiry, and QSO-idle clearing. The
// supervisor calls this roughly once a second across all of its sessions.
func (s *Session) Tick() {
	now := s.now()

	s.mu.Lock()
	state := s.state
	backoffUntil := s.backoffUntil
	lastHeard := s.lastHeardSecs
	activeQSO := s.activeQSO
	activeQSOSecs := s.activeQSOSecs
	s.mu.Unlock()

	if state == StateBackoff {
		if now >= backoffUntil {
			s.mu.Lock()
			s.state = StateConnecting
			s.mu.Unlock()
		} else {
			return
		}
	}

	if now-lastHeard >= KeepaliveTimeoutSecs {
		s.sendLSTN()
		s.mu.Lock()
		s.lastHeardSecs = now
		s.state = StateLinking
		s.mu.Unlock()
	}

	if activeQSO && now-activeQSOSecs >= QSOIdleSecs {
		s.mu.Lock()
		s.activeQSO = false
		s.mu.Unlock()
		s.notifyStatus()
	}
}

func (s *Session) sendLSTN() {
	pdu := m17proto.BuildLSTN(s.callsign, s.key.Module)
	if _, err := s.conn.Write(pdu); err != nil {
		klog.V(2).Infof("reflector[%s/%c]: LSTN send error: %v", s.key.Designator, s.key.Module, err)
	}
}

func (s *Session) sendPONG() {
	pdu := m17proto.BuildPONG(s.callsign)
	if _, err := s.conn.Write(pdu); err != nil {
		klog.V(2).Infof("reflector[%s/%c]: PONG send error: %v", s.key.Designator, s.key.Module, err)
	}
}

func (s *Session) handleDatagram(buf []byte) {
	now := s.now()

	s.mu.Lock()
	s.lastHeardSecs = now
	s.mu.Unlock()

	ev := m17proto.Parse(buf)
	switch ev.Kind {
	case m17proto.EventLinkUp:
		s.mu.Lock()
		s.state = StateLinked
		s.mu.Unlock()
		s.notifyStatus()

	case m17proto.EventLinkRefused:
		s.mu.Lock()
		s.state = StateBackoff
		s.backoffUntil = now + BackoffSecs
		s.mu.Unlock()
		klog.Warningf("reflector[%s/%c]: NACK, backing off %ds", s.key.Designator, s.key.Module, BackoffSecs)
		s.notifyStatus()

	case m17proto.EventLinkDown:
		s.mu.Lock()
		s.state = StateConnecting
		s.lastHeardSecs = 0
		s.mu.Unlock()
		s.notifyStatus()

	case m17proto.EventKeepalive:
		s.sendPONG()

	case m17proto.EventVoiceFrame:
		s.recordQSO(ev.Src, now)
		s.sink.RouteFrame(s.key, Frame{Src: ev.Src, Dst: ev.Dst, C2: ev.C2, IsLast: ev.IsLast, IsVoice: true})

	case m17proto.EventTextPacket:
		s.recordQSO(ev.Src, now)
		s.mu.Lock()
		s.messages.push(MessageEntry{SrcCallsign: ev.Src, Text: string(ev.Payload), TimestampSecs: now})
		s.mu.Unlock()
		s.sink.RouteFrame(s.key, Frame{Src: ev.Src, Dst: ev.Dst, Payload: ev.Payload, IsLast: ev.IsLast, IsVoice: false})

	case m17proto.EventUnknown:
		// A single malformed datagram must never disturb session state.
	}
}

func (s *Session) recordQSO(src string, now int64) {
	s.mu.Lock()
	s.activeQSO = true
	s.activeQSOCall = src
	s.activeQSOSecs = now
	s.mu.Unlock()
	s.notifyStatus()
}

func (s *Session) notifyStatus() {
	if s.onStatus != nil {
		s.onStatus()
	}
}

// Snapshot returns a point-in-time copy of the session's state for the
// status projector.
func (s *Session) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Key:            s.key,
		State:          s.state,
		LastHeardSecs:  s.lastHeardSecs,
		ActiveQSO:      s.activeQSO,
		ActiveQSOCall:  s.activeQSOCall,
		ActiveQSOSecs:  s.activeQSOSecs,
		RecentMessages: s.messages.snapshot(),
	}
}

// Key returns the session's designator/module key.
func (s *Session) Key() Key { return s.key }

// SetClock overrides the session's time source; tests use this for
// deterministic keepalive/QSO-idle timing.
func (s *Session) SetClock(now func() int64) {
	s.now = now
}
