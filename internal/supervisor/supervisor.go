// Package supervisor owns the collection of reflector sessions (component
// E): it parses the subscription configuration, resolves addresses,
// binds sockets, spawns sessions, and drives their keepalive ticks.
package supervisor

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/OE3ANC/m17web-proxy/internal/hub"
	"github.com/OE3ANC/m17web-proxy/internal/reflector"
	"github.com/OE3ANC/m17web-proxy/internal/resolver"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// tickInterval is the keepalive tick granularity. spec.md §4.4 requires
// ≤ 1s; 1s matches KEEPALIVE_TIMEOUT_SECS/BACKOFF_SECS's own unit and
// keeps the tick goroutine cheap.
const tickInterval = time.Second

// subscriptionEntry is one parsed "REFLECTOR_MODULES" item.
type subscriptionEntry struct {
	designator string
	modules    []byte
}

// Supervisor owns every reflector.Session for the process's lifetime.
type Supervisor struct {
	callsign string
	resolver resolver.Resolver
	hub      *hub.Hub

	mu       sync.RWMutex
	sessions []*reflector.Session

	wg sync.WaitGroup
}

// New creates a supervisor. callsign is used for every session's LSTN/PONG
// identity.
func New(callsign string, res resolver.Resolver, h *hub.Hub) *Supervisor {
	return &Supervisor{callsign: callsign, resolver: res, hub: h}
}

// parseSubscription parses spec.md §4.5's subscription configuration
// string: comma-separated "REFLECTOR_MODULES" entries, e.g.
// "M17-XOR_AB,M17-DEV_C".
func parseSubscription(raw string) ([]subscriptionEntry, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("supervisor: SUBSCRIPTION is empty")
	}

	var entries []subscriptionEntry
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		idx := strings.LastIndex(item, "_")
		if idx <= 0 || idx == len(item)-1 {
			return nil, fmt.Errorf("supervisor: malformed subscription entry %q", item)
		}
		designator := strings.ToUpper(item[:idx])
		modules := strings.ToUpper(item[idx+1:])
		entries = append(entries, subscriptionEntry{designator: designator, modules: []byte(modules)})
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("supervisor: SUBSCRIPTION has no valid entries")
	}
	return entries, nil
}

// Start parses the subscription string, resolves and binds every session
// concurrently, and begins driving keepalive ticks. It returns once every
// subscription entry has been attempted (a per-entry resolve/bind failure
// is logged and that entry is skipped; it is never fatal to the others).
// Start itself only returns an error for a malformed configuration string
// (spec.md §7, kind 1).
func (sv *Supervisor) Start(ctx context.Context, subscription string) error {
	entries, err := parseSubscription(subscription)
	if err != nil {
		return err
	}

	var g errgroup.Group
	for _, entry := range entries {
		entry := entry
		g.Go(func() error {
			sv.startEntry(ctx, entry)
			return nil
		})
	}
	_ = g.Wait()

	go sv.runTicker(ctx)
	return nil
}

func (sv *Supervisor) startEntry(ctx context.Context, entry subscriptionEntry) {
	addr, err := sv.resolver.Resolve(ctx, entry.designator)
	if err != nil {
		klog.Errorf("supervisor: resolve %s: %v (skipping)", entry.designator, err)
		return
	}

	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		klog.Errorf("supervisor: resolve UDP address %s for %s: %v (skipping)", addr, entry.designator, err)
		return
	}

	for _, module := range entry.modules {
		conn, err := net.DialUDP("udp", nil, raddr)
		if err != nil {
			klog.Errorf("supervisor: bind socket for %s/%c: %v (skipping this module)", entry.designator, module, err)
			continue
		}

		key := reflector.Key{Designator: entry.designator, Module: module}
		sess := reflector.New(key, conn, raddr, sv.callsign, sv.hub, sv.publishStatus)

		sv.mu.Lock()
		sv.sessions = append(sv.sessions, sess)
		sv.mu.Unlock()

		sv.wg.Add(1)
		go func(s *reflector.Session, c *net.UDPConn) {
			defer sv.wg.Done()
			defer c.Close()
			if err := s.Run(ctx); err != nil && ctx.Err() == nil {
				klog.Warningf("supervisor: session %s/%c exited: %v", key.Designator, key.Module, err)
			}
		}(sess, conn)

		klog.Infof("supervisor: session started for %s/%c -> %s", entry.designator, module, addr)
	}
}

// runTicker drives every session's keepalive tick fairly: each pass
// visits every currently-owned session exactly once.
func (sv *Supervisor) runTicker(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sess := range sv.Sessions() {
				sess.Tick()
			}
		}
	}
}

// Sessions returns a stable snapshot of the owned session pointers.
func (sv *Supervisor) Sessions() []*reflector.Session {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	out := make([]*reflector.Session, len(sv.sessions))
	copy(out, sv.sessions)
	return out
}

// publishStatus implements the status-projector wiring: on any
// status-relevant session change it recomputes the full ModuleInfo[]
// snapshot and publishes it to the hub.
func (sv *Supervisor) publishStatus() {
	sessions := sv.Sessions()
	snapshots := make([]reflector.Status, 0, len(sessions))
	for _, s := range sessions {
		snapshots = append(snapshots, s.Snapshot())
	}
	sv.hub.PublishStatus(hub.BuildSnapshot(snapshots))
}

// Wait blocks until every spawned session goroutine has exited (intended
// for use after ctx is cancelled during shutdown).
func (sv *Supervisor) Wait() {
	sv.wg.Wait()
}
