package registry

import "time"

// Capability flags for a unit.
const (
	CapDimmable uint16 = 1 << iota
	CapColorTemperature
	CapColor
	CapVertical
	CapSwitch
)

// Unit is one controllable or reporting device in the network. Instances
// handed out by the registry are snapshots; mutating them has no effect on
// the registry's state.
type Unit struct {
	ID      uint8
	Name    string
	Address string

	Online bool
	On     bool
	Level  uint8 // 0..100

	Capabilities uint16
	LastUpdate   time.Time
}

// Group is a named collection of units addressed as one target.
type Group struct {
	ID    uint8
	Name  string
	Units []uint8
}

// Scene is a stored lighting configuration the network can recall.
type Scene struct {
	ID   uint8
	Name string
}

// Network is the configured identity and membership of a mesh. The unit
// list seeds the registry; live state lives in the registry, not here.
type Network struct {
	ID              string
	Name            string
	Revision        int
	ProtocolVersion int

	Units  []Unit
	Groups []Group
	Scenes []Scene
}
