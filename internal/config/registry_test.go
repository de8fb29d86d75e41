package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestNewRegistryDefaults(t *testing.T) {
	r := NewRegistry()

	if r.Version != 1 {
		t.Errorf("Version = %d, want 1", r.Version)
	}
	if r.Networks == nil {
		t.Errorf("Networks map not initialized")
	}
	if r.Preferences == nil || !r.Preferences.AutoDiscover {
		t.Errorf("Preferences = %+v, want auto discover enabled", r.Preferences)
	}
}

func TestRegistryYAMLRoundTrip(t *testing.T) {
	r := NewRegistry()
	r.Networks["net-aabbcc"] = &NetworkMeta{
		Name:            "office",
		Address:         "AA:BB:CC:DD:EE:FF",
		ProtocolVersion: 10,
		ProxyURL:        "ws://proxy.local:8080/gatt",
		LastSeen:        time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	r.Preferences.MQTT = &MQTTPrefs{
		Broker:      "tcp://localhost:1883",
		TopicPrefix: "casambi",
	}

	data, err := yaml.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var loaded Registry
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	meta, ok := loaded.Networks["net-aabbcc"]
	if !ok {
		t.Fatalf("network lost in round trip")
	}
	if meta.Name != "office" || meta.ProtocolVersion != 10 || meta.ProxyURL != "ws://proxy.local:8080/gatt" {
		t.Errorf("network meta = %+v", meta)
	}
	if loaded.Preferences.MQTT == nil || loaded.Preferences.MQTT.Broker != "tcp://localhost:1883" {
		t.Errorf("mqtt prefs = %+v", loaded.Preferences.MQTT)
	}
}

func TestFindNetwork(t *testing.T) {
	r := NewRegistry()
	r.Networks["net-1"] = &NetworkMeta{Name: "office"}
	r.Networks["net-2"] = &NetworkMeta{Name: "home"}

	tests := []struct {
		name   string
		query  string
		wantID string
		found  bool
	}{
		{"by id", "net-1", "net-1", true},
		{"by name", "home", "net-2", true},
		{"missing", "garage", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, _, ok := r.FindNetwork(tt.query)
			if ok != tt.found || id != tt.wantID {
				t.Errorf("FindNetwork(%q) = %q, %v", tt.query, id, ok)
			}
		})
	}
}

func TestSaveAndReload(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	r := NewRegistry()
	r.Networks["net-1"] = &NetworkMeta{Name: "office", Address: "AA:BB:CC:DD:EE:FF"}
	if err := r.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	configPath, err := GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath() error = %v", err)
	}
	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("config file missing after save: %v", err)
	}
	if _, err := os.Stat(configPath + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temporary file left behind")
	}

	loaded, err := ReloadRegistry()
	if err != nil {
		t.Fatalf("ReloadRegistry() error = %v", err)
	}
	if meta, ok := loaded.Networks["net-1"]; !ok || meta.Name != "office" {
		t.Errorf("reloaded registry = %+v", loaded.Networks)
	}
}

func TestGetDefaultCachePath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	r := NewRegistry()
	path, err := r.GetDefaultCachePath()
	if err != nil {
		t.Fatalf("GetDefaultCachePath() error = %v", err)
	}
	if filepath.Base(path) != "cache.db" {
		t.Errorf("default cache path = %q", path)
	}

	r.Preferences.CachePath = "/tmp/custom.db"
	path, _ = r.GetDefaultCachePath()
	if path != "/tmp/custom.db" {
		t.Errorf("cache path preference ignored: %q", path)
	}
}
