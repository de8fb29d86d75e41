package protocol

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// OpCode identifies a mesh control operation.
type OpCode byte

// Known operation codes.
const (
	OpResponse       OpCode = 0
	OpSetLevel       OpCode = 1
	OpSetTemperature OpCode = 3
	OpSetVertical    OpCode = 4
	OpSetWhite       OpCode = 5
	OpSetColor       OpCode = 7
	OpSetSlider      OpCode = 12
	OpSetState       OpCode = 48
	OpSetColorXY     OpCode = 54
)

// maxOperationPayload is the largest payload an operation frame can carry;
// the length field shares its 16 bits with the lifetime.
const maxOperationPayload = 63

// Target addresses an operation. The low byte selects the address class,
// the high byte the id within it. The zero Target broadcasts to the whole
// network.
type Target uint16

// Target address classes.
const (
	targetUnit  = 0x01
	targetGroup = 0x02
	targetScene = 0x04
)

// UnitTarget addresses a single unit.
func UnitTarget(id uint8) Target { return Target(uint16(id)<<8 | targetUnit) }

// GroupTarget addresses every unit in a group.
func GroupTarget(id uint8) Target { return Target(uint16(id)<<8 | targetGroup) }

// SceneTarget addresses a scene.
func SceneTarget(id uint8) Target { return Target(uint16(id)<<8 | targetScene) }

// Broadcast addresses all units in the network.
const Broadcast Target = 0

// OperationContext numbers outgoing operations. Origin is a monotonic
// counter the mesh uses to order operations from one sender; it wraps at
// 16 bits. Safe for concurrent use.
type OperationContext struct {
	mu       sync.Mutex
	origin   uint16
	lifetime uint8
}

// NewOperationContext creates a context with the standard lifetime.
func NewOperationContext() *OperationContext {
	return &OperationContext{origin: 1, lifetime: 5}
}

// Encode builds one operation frame: a big-endian header of lifetime and
// payload length, opcode, origin, target and a reserved word, followed by
// the payload.
func (c *OperationContext) Encode(op OpCode, target Target, payload []byte) ([]byte, error) {
	if len(payload) > maxOperationPayload {
		return nil, fmt.Errorf("protocol: operation payload of %d bytes exceeds %d",
			len(payload), maxOperationPayload)
	}

	c.mu.Lock()
	origin := c.origin
	c.origin++
	lifetime := c.lifetime
	c.mu.Unlock()

	frame := make([]byte, 0, 9+len(payload))
	frame = binary.BigEndian.AppendUint16(frame, uint16(lifetime&15)<<11|uint16(len(payload)))
	frame = append(frame, byte(op))
	frame = binary.BigEndian.AppendUint16(frame, origin)
	frame = binary.BigEndian.AppendUint16(frame, uint16(target))
	frame = binary.BigEndian.AppendUint16(frame, 0)
	return append(frame, payload...), nil
}

// EncodeStateByte packs an on/off flag and a 0..100 level into the wire
// state byte. Off is always zero; on clamps the level into 1..100 so the
// two are distinguishable.
func EncodeStateByte(on bool, level uint8) uint8 {
	if !on {
		return 0
	}
	if level == 0 {
		level = 1
	}
	if level > 100 {
		level = 100
	}
	return level
}

// DecodeStateByte is the inverse of EncodeStateByte.
func DecodeStateByte(state uint8) (on bool, level uint8) {
	return state != 0, state
}

// EncodeSetState builds a single state-update sub-message framed exactly
// like inbound unit state reports, so a loopback through Split and Decode
// yields the same unit and state.
func EncodeSetState(unit uint8, on bool, level uint8) []byte {
	payload := []byte{unit, EncodeStateByte(on, level)}
	return encodeSubMessage(TypeUnitState, 0, 0, payload)
}

// encodeSubMessage frames one sub-message with the shared header layout.
func encodeSubMessage(t Type, flags, parameter byte, payload []byte) []byte {
	msg := make([]byte, 0, headerLen+len(payload))
	msg = append(msg, byte(t), flags, byte(len(payload)-1)<<4|parameter&0x0f)
	return append(msg, payload...)
}
