package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the mDNS service type ESPHome bluetooth proxies
	// advertise under.
	ServiceType = "_esphomelib._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultScanTimeout is the default timeout for proxy discovery
	DefaultScanTimeout = 10 * time.Second

	// DefaultPort is the default API port of an ESPHome device
	DefaultPort = 6053
)

// Proxy is one discovered ESPHome bluetooth proxy that can tunnel GATT
// traffic to mesh devices out of direct radio range.
type Proxy struct {
	Name         string
	Hostname     string
	IP           string
	Port         int
	Metadata     map[string]string
	DiscoveredAt time.Time
}

// BridgeURL returns the websocket URL the transport bridge dials.
func (p *Proxy) BridgeURL() string {
	return fmt.Sprintf("ws://%s:%d/gatt", p.IP, p.Port)
}

// HasBluetoothProxy reports whether the device advertises the bluetooth
// proxy feature in its TXT records.
func (p *Proxy) HasBluetoothProxy() bool {
	_, ok := p.Metadata["bt_proxy"]
	if ok {
		return true
	}
	// Older firmware advertises the feature inside a flag list.
	return strings.Contains(p.Metadata["features"], "bluetooth_proxy")
}

// Scanner handles mDNS proxy discovery
type Scanner struct {
	// Timeout is the maximum time to wait for proxy discovery
	Timeout time.Duration
}

// NewScanner creates a new mDNS scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{
		Timeout: DefaultScanTimeout,
	}
}

// ScanForProxies discovers all ESPHome proxies on the local network.
func (s *Scanner) ScanForProxies() ([]*Proxy, error) {
	return s.ScanForProxiesWithContext(context.Background())
}

// ScanForProxiesWithContext discovers proxies with a custom context
func (s *Scanner) ScanForProxiesWithContext(ctx context.Context) ([]*Proxy, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	proxies := make([]*Proxy, 0)

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	go func() {
		for entry := range entries {
			if proxy := parseServiceEntry(entry); proxy != nil {
				proxies = append(proxies, proxy)
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	// Wait for context to complete (timeout or cancellation)
	<-ctx.Done()

	return proxies, nil
}

// WaitForProxy waits for a specific proxy by name.
// Returns the proxy or an error if not found within the timeout.
func (s *Scanner) WaitForProxy(ctx context.Context, name string) (*Proxy, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	proxyChan := make(chan *Proxy, 1)

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	go func() {
		for entry := range entries {
			if proxy := parseServiceEntry(entry); proxy != nil && proxy.Name == name {
				proxyChan <- proxy
				cancel()
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	select {
	case proxy := <-proxyChan:
		return proxy, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("proxy %s not found within timeout", name)
	}
}

// parseServiceEntry converts a zeroconf service entry to a Proxy.
// Returns nil for entries that cannot carry proxy traffic.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Proxy {
	if entry.HostName == "" {
		return nil
	}

	// Prefer IPv4.
	var ip string
	for _, addr := range entry.AddrIPv4 {
		ip = addr.String()
		break
	}
	if ip == "" && len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	port := entry.Port
	if port == 0 {
		port = DefaultPort
	}

	// TXT records are in "key=value" format
	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		parts := strings.SplitN(txt, "=", 2)
		if len(parts) == 2 {
			metadata[parts[0]] = parts[1]
		} else {
			metadata[parts[0]] = ""
		}
	}

	return &Proxy{
		Name:         entry.Instance,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         port,
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}

// ScanForProxies is a convenience function with a custom timeout.
func ScanForProxies(timeout time.Duration) ([]*Proxy, error) {
	scanner := NewScanner()
	scanner.Timeout = timeout
	return scanner.ScanForProxies()
}

// QuickScan performs a fast scan with a 3-second timeout
func QuickScan() ([]*Proxy, error) {
	scanner := NewScanner()
	scanner.Timeout = 3 * time.Second
	return scanner.ScanForProxies()
}
