package config

import "time"

// Registry represents the entire user configuration file.
// This stores known networks and application preferences.
type Registry struct {
	Version     int                     `yaml:"version"`
	Networks    map[string]*NetworkMeta `yaml:"networks,omitempty"` // Keyed by network id
	Preferences *Preferences            `yaml:"preferences,omitempty"`
}

// NetworkMeta represents user-facing metadata for a known network.
// Live state and the unit list come from the cache and the mesh itself;
// this is just what the user needs in order to pick and reach a network.
type NetworkMeta struct {
	Name            string    `yaml:"name,omitempty"`             // User-friendly name
	Address         string    `yaml:"address,omitempty"`          // BLE address of the last reachable device
	ProtocolVersion int       `yaml:"protocol_version,omitempty"` // Version the network reported
	ProxyURL        string    `yaml:"proxy_url,omitempty"`        // Websocket proxy URL, empty for direct radio
	LastSeen        time.Time `yaml:"last_seen,omitempty"`        // Last discovery/connection time
}

// Preferences represents application-wide user preferences.
type Preferences struct {
	AutoDiscover    bool       `yaml:"auto_discover"`      // Enable mDNS proxy discovery on startup
	DiscoverTimeout int        `yaml:"discover_timeout"`   // Discovery timeout in seconds
	CachePath       string     `yaml:"cache_path,omitempty"`
	DefaultNetwork  string     `yaml:"default_network,omitempty"` // Network id used when none is given
	MQTT            *MQTTPrefs `yaml:"mqtt,omitempty"`
}

// MQTTPrefs configures the optional MQTT bridge.
// Note: the broker password is NEVER stored - it is always prompted or
// taken from the environment.
type MQTTPrefs struct {
	Broker      string `yaml:"broker"`       // e.g. "tcp://localhost:1883"
	Username    string `yaml:"username,omitempty"`
	ClientID    string `yaml:"client_id,omitempty"`
	TopicPrefix string `yaml:"topic_prefix,omitempty"` // Defaults to "casambi"
}

// NewRegistry creates a new Registry with default values.
func NewRegistry() *Registry {
	return &Registry{
		Version:  1,
		Networks: make(map[string]*NetworkMeta),
		Preferences: &Preferences{
			AutoDiscover:    true,
			DiscoverTimeout: 10,
		},
	}
}
