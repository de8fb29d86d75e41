package discovery

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
)

func TestParseServiceEntry(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: "hall-proxy"},
		HostName:      "hall-proxy.local.",
		Port:          6053,
		Text:          []string{"version=2025.7.0", "mac=a1b2c3d4e5f6", "bt_proxy"},
		AddrIPv4:      []net.IP{net.IPv4(192, 168, 1, 44)},
	}

	proxy := parseServiceEntry(entry)
	if proxy == nil {
		t.Fatalf("parseServiceEntry() = nil")
	}
	if proxy.Name != "hall-proxy" || proxy.IP != "192.168.1.44" || proxy.Port != 6053 {
		t.Errorf("proxy = %+v", proxy)
	}
	if proxy.Metadata["version"] != "2025.7.0" {
		t.Errorf("metadata = %v", proxy.Metadata)
	}
	if !proxy.HasBluetoothProxy() {
		t.Errorf("bt_proxy flag not detected")
	}
	if got := proxy.BridgeURL(); got != "ws://192.168.1.44:6053/gatt" {
		t.Errorf("BridgeURL() = %q", got)
	}
}

func TestParseServiceEntryFallbacks(t *testing.T) {
	tests := []struct {
		name  string
		entry *zeroconf.ServiceEntry
		want  bool
	}{
		{"no hostname", &zeroconf.ServiceEntry{}, false},
		{
			"no address",
			&zeroconf.ServiceEntry{HostName: "x.local."},
			false,
		},
		{
			"ipv6 only, default port",
			&zeroconf.ServiceEntry{
				HostName: "x.local.",
				AddrIPv6: []net.IP{net.ParseIP("fe80::1")},
			},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proxy := parseServiceEntry(tt.entry)
			if (proxy != nil) != tt.want {
				t.Fatalf("parseServiceEntry() = %+v, want present=%v", proxy, tt.want)
			}
			if proxy != nil && proxy.Port != DefaultPort {
				t.Errorf("port = %d, want default %d", proxy.Port, DefaultPort)
			}
		})
	}
}

func TestHasBluetoothProxyFeatureList(t *testing.T) {
	p := &Proxy{Metadata: map[string]string{"features": "api,bluetooth_proxy,ota"}}
	if !p.HasBluetoothProxy() {
		t.Errorf("feature list form not detected")
	}

	p = &Proxy{Metadata: map[string]string{"features": "api,ota"}}
	if p.HasBluetoothProxy() {
		t.Errorf("false positive on feature list")
	}
}
