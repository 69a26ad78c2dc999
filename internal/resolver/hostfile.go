package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"k8s.io/klog/v2"
)

// userAgent identifies this process to the hostfile server, mirroring the
// reference client's descriptive, versioned User-Agent convention.
const userAgent = "m17web-proxy/1.0 (M17 Web Proxy; hostfile-fetch)"

// defaultHostfileURL is used when no override is configured. Operators
// running against a private or mirrored host file should set
// HOSTFILE_URL instead of relying on this default.
const defaultHostfileURL = "https://m17-hosts.example.org/M17Hosts.json"

const hostfileFetchTimeout = 15 * time.Second

// hostEntry mirrors one reflector record of the M17 host file JSON.
type hostEntry struct {
	Designator string `json:"designator"`
	DNS        string `json:"dns"`
	IPv4       string `json:"ipv4"`
	IPv6       string `json:"ipv6"`
	Port       *int   `json:"port"`
}

type hostFile struct {
	Reflectors []hostEntry `json:"reflectors"`
}

// HostfileResolver resolves reflector designators against a periodically
// refreshed JSON host file, preferring IPv4 over IPv6 (grounded on
// original_source/src/hostfile.rs).
type HostfileResolver struct {
	url        string
	httpClient *http.Client

	mu      sync.RWMutex
	entries map[string]hostEntry
}

// NewHostfileResolver creates a resolver with no cached entries; call
// Refresh (directly or via a scheduler) before resolving.
func NewHostfileResolver(url string) *HostfileResolver {
	if url == "" {
		url = defaultHostfileURL
	}
	return &HostfileResolver{
		url:        url,
		httpClient: &http.Client{Timeout: hostfileFetchTimeout},
		entries:    make(map[string]hostEntry),
	}
}

// Refresh fetches and replaces the cached host file contents.
func (r *HostfileResolver) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return fmt.Errorf("hostfile: build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("hostfile: fetch %s: %w", r.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("hostfile: server returned HTTP %d", resp.StatusCode)
	}

	var parsed hostFile
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("hostfile: decode JSON: %w", err)
	}

	entries := make(map[string]hostEntry, len(parsed.Reflectors))
	for _, e := range parsed.Reflectors {
		entries[strings.ToUpper(e.Designator)] = e
	}

	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()

	klog.Infof("hostfile: loaded %d reflector entries from %s", len(entries), r.url)
	return nil
}

// Resolve implements Resolver.
func (r *HostfileResolver) Resolve(_ context.Context, designator string) (string, error) {
	r.mu.RLock()
	entry, ok := r.entries[strings.ToUpper(designator)]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("hostfile: no entry for designator %q", designator)
	}
	if entry.Port == nil {
		return "", fmt.Errorf("hostfile: entry for %q has no port", designator)
	}

	ip := entry.IPv4
	if ip == "" {
		ip = entry.IPv6
	}
	if ip == "" {
		return "", fmt.Errorf("hostfile: entry for %q has no IPv4 or IPv6 address", designator)
	}

	port := strconv.Itoa(*entry.Port)
	if strings.Contains(ip, ":") {
		return "[" + ip + "]:" + port, nil
	}
	return ip + ":" + port, nil
}
