package protocol

import "fmt"

// Type identifies a sub-message within a radio packet.
type Type byte

// Known sub-message types.
const (
	TypeShortStatus    Type = 0x00
	TypeGeneralStatus  Type = 0x02
	TypeSequence       Type = 0x06
	TypeBasicSwitch    Type = 0x08
	TypeExtendedSwitch Type = 0x10
	TypeUnitState      Type = 0x29
)

// String returns a short name for the type.
func (t Type) String() string {
	switch t {
	case TypeShortStatus:
		return "ShortStatus"
	case TypeGeneralStatus:
		return "GeneralStatus"
	case TypeSequence:
		return "Sequence"
	case TypeBasicSwitch:
		return "BasicSwitch"
	case TypeExtendedSwitch:
		return "ExtendedSwitch"
	case TypeUnitState:
		return "UnitState"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", byte(t))
	}
}

// Edge is a button transition.
type Edge int

const (
	// EdgePress is a button going down.
	EdgePress Edge = iota
	// EdgeRelease is a button coming back up.
	EdgeRelease
)

func (e Edge) String() string {
	if e == EdgePress {
		return "Press"
	}
	return "Release"
}

// extensionLen is the trailing byte count extended switch sub-messages
// consume from the packet after their own payload.
const extensionLen = 3

// SubMessage is one self-describing message cut out of a radio packet.
// Payload length on the wire is the high nibble of the third header byte
// plus one; the low nibble is the type-dependent parameter. Extension is
// populated only for types that consume trailing bytes.
type SubMessage struct {
	Type      Type
	Flags     byte
	Parameter byte
	Payload   []byte
	Extension []byte
}

func (m SubMessage) String() string {
	return fmt.Sprintf("%s{param=%d payload=%x}", m.Type, m.Parameter, m.Payload)
}

// Message is a decoded domain message. Implementations are plain data;
// decoding never mutates shared state.
type Message interface {
	MessageType() Type
	String() string
}

// BasicSwitchEvent is a type 0x08 button event. The edge comes from bit 1
// of the action byte.
type BasicSwitchEvent struct {
	Unit   uint8
	Button uint8
	Action uint8
	Edge   Edge
}

func (e BasicSwitchEvent) MessageType() Type { return TypeBasicSwitch }
func (e BasicSwitchEvent) String() string {
	return fmt.Sprintf("BasicSwitch{unit=%d button=%d edge=%s}", e.Unit, e.Button, e.Edge)
}

// ExtendedSwitchEvent is a type 0x10 button event. Counter is a
// free-running value shared by all buttons on the unit; the edge comes
// exclusively from the extension state byte.
type ExtendedSwitchEvent struct {
	Unit     uint8
	Button   uint8
	Counter  uint8
	Marker   []byte
	Sequence uint8
	Edge     Edge
}

func (e ExtendedSwitchEvent) MessageType() Type { return TypeExtendedSwitch }
func (e ExtendedSwitchEvent) String() string {
	return fmt.Sprintf("ExtendedSwitch{unit=%d button=%d seq=%d edge=%s}", e.Unit, e.Button, e.Sequence, e.Edge)
}

// UnitStateUpdate is a type 0x29 state report for one unit.
type UnitStateUpdate struct {
	Unit      uint8
	Parameter uint8
	State     uint8
	Extra     []byte
}

func (u UnitStateUpdate) MessageType() Type { return TypeUnitState }
func (u UnitStateUpdate) String() string {
	return fmt.Sprintf("UnitState{unit=%d state=0x%02x}", u.Unit, u.State)
}

// SequenceStatus is a type 0x06 sequence or status signal. Diagnostic
// only; it never mutates unit state.
type SequenceStatus struct {
	StatusType uint8
	Value      uint8
}

func (s SequenceStatus) MessageType() Type { return TypeSequence }
func (s SequenceStatus) String() string {
	return fmt.Sprintf("Sequence{type=%d value=%d}", s.StatusType, s.Value)
}

// StatusMessage covers the short status types 0x00 and 0x02. Structurally
// valid but carries no actionable state.
type StatusMessage struct {
	Raw SubMessage
}

func (s StatusMessage) MessageType() Type { return s.Raw.Type }
func (s StatusMessage) String() string {
	return fmt.Sprintf("Status{type=%s payload=%x}", s.Raw.Type, s.Raw.Payload)
}

// OpaqueMessage preserves a sub-message of a type this implementation does
// not understand. Kept verbatim so callers can observe protocol evolution
// instead of losing data.
type OpaqueMessage struct {
	Raw SubMessage
}

func (o OpaqueMessage) MessageType() Type { return o.Raw.Type }
func (o OpaqueMessage) String() string {
	return fmt.Sprintf("Opaque{type=0x%02x payload=%x}", byte(o.Raw.Type), o.Raw.Payload)
}
