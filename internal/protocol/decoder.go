package protocol

import (
	"fmt"

	"go.uber.org/zap"

	"casambi-go/internal/logging"
)

// Extension state byte values for extended switch events.
const (
	extStatePress   = 0x01
	extStateRelease = 0x02
)

// Anomaly is a non-fatal decode problem: a payload too short for its type,
// an extension that contradicts the header, a state byte outside the known
// range. The offending sub-message is dropped; packet processing
// continues.
type Anomaly struct {
	Reason string
	Sub    SubMessage
}

func (a *Anomaly) Error() string {
	return fmt.Sprintf("protocol: %s in %s", a.Reason, a.Sub)
}

func anomaly(sub SubMessage, reason string) (Message, error) {
	logging.Debug("Decode anomaly",
		zap.String("reason", reason),
		zap.Stringer("sub", sub))
	return nil, &Anomaly{Reason: reason, Sub: sub}
}

// Decode interprets one sub-message. Unknown types are preserved as
// OpaqueMessage rather than dropped. The returned error is always an
// *Anomaly and never fatal to the packet pipeline.
func Decode(sub SubMessage) (Message, error) {
	msg, err := decode(sub)
	if err == nil {
		logging.LogSubMessage(byte(sub.Type), sub.Type.String(), msg.String())
	}
	return msg, err
}

func decode(sub SubMessage) (Message, error) {
	switch sub.Type {
	case TypeBasicSwitch:
		return decodeBasicSwitch(sub)
	case TypeExtendedSwitch:
		return decodeExtendedSwitch(sub)
	case TypeUnitState:
		return decodeUnitState(sub)
	case TypeSequence:
		if len(sub.Payload) < 1 {
			return anomaly(sub, "empty sequence payload")
		}
		return SequenceStatus{StatusType: sub.Parameter, Value: sub.Payload[0]}, nil
	case TypeShortStatus, TypeGeneralStatus:
		return StatusMessage{Raw: sub}, nil
	default:
		return OpaqueMessage{Raw: sub}, nil
	}
}

func decodeBasicSwitch(sub SubMessage) (Message, error) {
	if len(sub.Payload) < 2 {
		return anomaly(sub, "basic switch payload too short")
	}

	action := sub.Payload[1]
	edge := EdgePress
	if action>>1&1 == 1 {
		edge = EdgeRelease
	}

	return BasicSwitchEvent{
		Unit:   sub.Payload[0],
		Button: sub.Parameter,
		Action: action,
		Edge:   edge,
	}, nil
}

func decodeExtendedSwitch(sub SubMessage) (Message, error) {
	if len(sub.Payload) < 2 {
		return anomaly(sub, "extended switch payload too short")
	}
	if len(sub.Extension) != extensionLen {
		return anomaly(sub, "extended switch without extension")
	}

	// The extension carries the truth. Payload byte 1 is a free-running
	// counter shared across the unit's buttons and says nothing about the
	// edge.
	var edge Edge
	switch sub.Extension[1] {
	case extStatePress:
		edge = EdgePress
	case extStateRelease:
		edge = EdgeRelease
	default:
		return anomaly(sub, fmt.Sprintf("unknown extension state 0x%02x", sub.Extension[1]))
	}

	if sub.Extension[2] != sub.Parameter {
		return anomaly(sub, fmt.Sprintf("button confirmation %d does not match parameter %d",
			sub.Extension[2], sub.Parameter))
	}

	return ExtendedSwitchEvent{
		Unit:     sub.Payload[0],
		Button:   sub.Parameter,
		Counter:  sub.Payload[1],
		Marker:   sub.Payload[2:],
		Sequence: sub.Extension[0],
		Edge:     edge,
	}, nil
}

func decodeUnitState(sub SubMessage) (Message, error) {
	if len(sub.Payload) < 2 {
		return anomaly(sub, "unit state payload too short")
	}

	return UnitStateUpdate{
		Unit:      sub.Payload[0],
		Parameter: sub.Parameter,
		State:     sub.Payload[1],
		Extra:     sub.Payload[2:],
	}, nil
}
