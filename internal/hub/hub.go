package hub

import (
	"encoding/json"
	"sync"

	"github.com/OE3ANC/m17web-proxy/internal/reflector"
	"k8s.io/klog/v2"
)

// Role labels a subscriber as info (receives status snapshots) or stream
// (receives routed voice/packet events for one subscription key).
type Role int

const (
	RoleInfo Role = iota
	RoleStream
)

// sendQueueDepth bounds the per-subscriber outbound queue; a subscriber
// that cannot keep up is dropped rather than allowed to block routing for
// everyone else (spec.md §5, "a slow subscriber must not block others").
const sendQueueDepth = 16

// Subscriber is one accepted WebSocket connection's registry entry. The
// wsgateway package owns the actual socket and drains Send; the hub only
// ever writes to the channel.
type Subscriber struct {
	ID   string
	Role Role
	Key  reflector.Key

	Send chan []byte

	closeOnce sync.Once
}

func newSubscriber(id string, role Role, key reflector.Key) *Subscriber {
	return &Subscriber{ID: id, Role: role, Key: key, Send: make(chan []byte, sendQueueDepth)}
}

func (s *Subscriber) close() {
	s.closeOnce.Do(func() { close(s.Send) })
}

// Hub is the fan-out registry (F) and status cache (I's sink).
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]*Subscriber
	status      []ModuleInfo
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{subscribers: make(map[string]*Subscriber)}
}

// AddInfoSubscriber registers an info subscriber and delivers the current
// snapshot immediately, per spec.md §4.6.
func (h *Hub) AddInfoSubscriber(id string) *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := newSubscriber(id, RoleInfo, reflector.Key{})
	h.subscribers[id] = sub

	data, err := json.Marshal(h.status)
	if err != nil {
		klog.Errorf("hub: marshal initial snapshot: %v", err)
		return sub
	}
	trySend(sub, data)
	return sub
}

// AddStreamSubscriber registers a stream subscriber for key. It receives
// no replay, per spec.md §4.6.
func (h *Hub) AddStreamSubscriber(id string, key reflector.Key) *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := newSubscriber(id, RoleStream, key)
	h.subscribers[id] = sub
	return sub
}

// Remove unregisters a subscriber, e.g. on WebSocket disconnect.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
	}
	h.mu.Unlock()
	if ok {
		sub.close()
	}
}

// ChangeSubscription updates a stream subscriber's key in place. Requests
// from info subscribers are rejected with a logged warning, not a
// disconnect, per spec.md §4.6.
func (h *Hub) ChangeSubscription(id string, key reflector.Key) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subscribers[id]
	if !ok {
		return
	}
	if sub.Role != RoleStream {
		klog.Warningf("hub: subscription-change message from info subscriber %s ignored", id)
		return
	}
	sub.Key = key
}

// RouteFrame implements reflector.Sink: it serializes frame as a
// WsPayload and delivers it to every stream subscriber whose key equals
// key. Subscribers that cannot accept the message immediately are
// dropped, per spec.md §5.
func (h *Hub) RouteFrame(key reflector.Key, frame reflector.Frame) {
	payload := WsPayload{
		Reflector: key.Designator,
		Module:    string(key.Module),
		SrcCall:   frame.Src,
		DestCall:  frame.Dst,
		C2Stream:  []int{},
		PMStream:  []int{},
		Done:      frame.IsLast,
	}
	if frame.IsVoice {
		payload.C2Stream = bytesToInts(frame.C2[:])
	} else {
		payload.PMStream = bytesToInts(frame.Payload)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		klog.Errorf("hub: marshal stream event: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	var stale []*Subscriber
	for _, sub := range h.subscribers {
		if sub.Role != RoleStream || sub.Key != key {
			continue
		}
		if !trySend(sub, data) {
			stale = append(stale, sub)
		}
	}
	h.removeLocked(stale)
}

// PublishStatus caches snapshot and broadcasts it to every info
// subscriber, per spec.md §4.6.
func (h *Hub) PublishStatus(snapshot []ModuleInfo) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		klog.Errorf("hub: marshal status snapshot: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = snapshot
	var stale []*Subscriber
	for _, sub := range h.subscribers {
		if sub.Role != RoleInfo {
			continue
		}
		if !trySend(sub, data) {
			stale = append(stale, sub)
		}
	}
	h.removeLocked(stale)
}

// removeLocked drops subscribers whose send queue is full. h.mu must
// already be held.
func (h *Hub) removeLocked(stale []*Subscriber) {
	for _, sub := range stale {
		delete(h.subscribers, sub.ID)
		sub.close()
	}
}

func trySend(sub *Subscriber, data []byte) bool {
	select {
	case sub.Send <- data:
		return true
	default:
		return false
	}
}

func bytesToInts(b []byte) []int {
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return out
}
