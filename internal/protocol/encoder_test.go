package protocol

import (
	"bytes"
	"testing"
)

func TestEncodeSetStateRoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		unit      uint8
		on        bool
		level     uint8
		wantState uint8
	}{
		{"off", 5, false, 0, 0},
		{"off ignores level", 5, false, 80, 0},
		{"on half", 5, true, 50, 50},
		{"on full", 42, true, 100, 100},
		{"on clamps high", 42, true, 200, 100},
		{"on floors zero level", 7, true, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := EncodeSetState(tt.unit, tt.on, tt.level)

			msgs := Split(data)
			if len(msgs) != 1 {
				t.Fatalf("Split() yielded %d messages, want 1", len(msgs))
			}
			msg, err := Decode(msgs[0])
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			upd, ok := msg.(UnitStateUpdate)
			if !ok {
				t.Fatalf("Decode() = %T, want UnitStateUpdate", msg)
			}
			if upd.Unit != tt.unit || upd.State != tt.wantState {
				t.Errorf("round trip = unit %d state %d, want unit %d state %d",
					upd.Unit, upd.State, tt.unit, tt.wantState)
			}

			on, level := DecodeStateByte(upd.State)
			if on != tt.on {
				t.Errorf("DecodeStateByte() on = %v, want %v", on, tt.on)
			}
			if on && level != tt.wantState {
				t.Errorf("DecodeStateByte() level = %d, want %d", level, tt.wantState)
			}
		})
	}
}

func TestOperationEncode(t *testing.T) {
	ctx := NewOperationContext()

	frame, err := ctx.Encode(OpSetLevel, UnitTarget(5), []byte{0xff, 0x05})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	// Lifetime 5, payload length 2: 0x2802 big-endian.
	want := []byte{
		0x28, 0x02, // flags
		0x01,       // opcode
		0x00, 0x01, // origin
		0x05, 0x01, // target
		0x00, 0x00, // reserved
		0xff, 0x05, // payload
	}
	if !bytes.Equal(frame, want) {
		t.Errorf("Encode() = %x, want %x", frame, want)
	}

	// Origin is monotonic across operations.
	frame, err = ctx.Encode(OpSetState, GroupTarget(3), []byte{0x01})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if frame[3] != 0x00 || frame[4] != 0x02 {
		t.Errorf("second origin = %x%x, want 0002", frame[3], frame[4])
	}
	if frame[5] != 0x03 || frame[6] != 0x02 {
		t.Errorf("group target = %x%x, want 0302", frame[5], frame[6])
	}
}

func TestOperationTargets(t *testing.T) {
	tests := []struct {
		name   string
		target Target
		want   uint16
	}{
		{"unit", UnitTarget(0x2a), 0x2a01},
		{"group", GroupTarget(0x07), 0x0702},
		{"scene", SceneTarget(0x01), 0x0104},
		{"broadcast", Broadcast, 0x0000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if uint16(tt.target) != tt.want {
				t.Errorf("target = %#04x, want %#04x", uint16(tt.target), tt.want)
			}
		})
	}
}

func TestOperationPayloadTooLong(t *testing.T) {
	ctx := NewOperationContext()
	if _, err := ctx.Encode(OpSetColor, Broadcast, make([]byte, maxOperationPayload+1)); err == nil {
		t.Errorf("Encode() accepted oversized payload")
	}
}
