package switches

import (
	"testing"

	"casambi-go/internal/protocol"
)

func press(unit, button uint8) Event {
	return Event{Unit: unit, Button: button, Edge: protocol.EdgePress}
}

func release(unit, button uint8) Event {
	return Event{Unit: unit, Button: button, Edge: protocol.EdgeRelease}
}

func TestRepeatedEventsCollapse(t *testing.T) {
	m := NewMachine()

	// The same press arrives in three separate packets.
	emitted := 0
	for i := 0; i < 3; i++ {
		m.NextPacket()
		if m.Observe(press(20, 0)) {
			emitted++
		}
	}
	if emitted != 1 {
		t.Errorf("3 repeated presses emitted %d events, want 1", emitted)
	}

	// The release is itself duplicated and still yields exactly one more.
	emitted = 0
	for i := 0; i < 3; i++ {
		m.NextPacket()
		if m.Observe(release(20, 0)) {
			emitted++
		}
	}
	if emitted != 1 {
		t.Errorf("3 repeated releases emitted %d events, want 1", emitted)
	}
}

func TestEdgeTransitionAlwaysEmits(t *testing.T) {
	m := NewMachine()

	m.NextPacket()
	if !m.Observe(press(20, 0)) {
		t.Fatalf("first press suppressed")
	}
	// Release arrives in the same packet window as the press repeats.
	if !m.Observe(release(20, 0)) {
		t.Errorf("release after press was suppressed")
	}
	// And pressing again right away is a new event too.
	if !m.Observe(press(20, 0)) {
		t.Errorf("press after release was suppressed")
	}
}

func TestButtonsAreIndependent(t *testing.T) {
	m := NewMachine()

	m.NextPacket()
	if !m.Observe(press(20, 0)) {
		t.Errorf("button 0 press suppressed")
	}
	if !m.Observe(press(20, 1)) {
		t.Errorf("button 1 press suppressed by button 0 state")
	}
	if !m.Observe(press(21, 0)) {
		t.Errorf("unit 21 press suppressed by unit 20 state")
	}
}

func TestWindowExpiry(t *testing.T) {
	m := NewMachine()

	m.NextPacket()
	if !m.Observe(press(20, 0)) {
		t.Fatalf("first press suppressed")
	}

	// Enough quiet packets and the same edge is a new logical event.
	for i := uint64(0); i <= defaultWindow; i++ {
		m.NextPacket()
	}
	if !m.Observe(press(20, 0)) {
		t.Errorf("press after window expiry was suppressed")
	}
}

func TestRepeatsRefreshWindow(t *testing.T) {
	m := NewMachine()

	m.NextPacket()
	m.Observe(press(20, 0))

	// A steady drip of repeats, each within the window of the previous
	// one, stays collapsed even past the original window.
	for i := 0; i < 20; i++ {
		m.NextPacket()
		if m.Observe(press(20, 0)) {
			t.Fatalf("repeat %d emitted despite refreshed window", i)
		}
	}
}

func TestTrackingIsBounded(t *testing.T) {
	m := NewMachine()

	m.NextPacket()
	for unit := 0; unit < defaultMaxTracked*2; unit++ {
		m.Observe(press(uint8(unit), 0))
	}
	if len(m.last) > defaultMaxTracked {
		t.Errorf("tracked %d buttons, bound is %d", len(m.last), defaultMaxTracked)
	}
}

func TestFromMessage(t *testing.T) {
	tests := []struct {
		name     string
		msg      protocol.Message
		want     bool
		wantEdge protocol.Edge
	}{
		{"basic", protocol.BasicSwitchEvent{Unit: 5, Button: 1, Edge: protocol.EdgeRelease}, true, protocol.EdgeRelease},
		{"extended", protocol.ExtendedSwitchEvent{Unit: 5, Button: 0, Edge: protocol.EdgePress, Sequence: 9}, true, protocol.EdgePress},
		{"state update", protocol.UnitStateUpdate{Unit: 5}, false, 0},
		{"opaque", protocol.OpaqueMessage{}, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := FromMessage(tt.msg)
			if ok != tt.want {
				t.Fatalf("FromMessage() ok = %v, want %v", ok, tt.want)
			}
			if ok && ev.Edge != tt.wantEdge {
				t.Errorf("edge = %s, want %s", ev.Edge, tt.wantEdge)
			}
		})
	}
}
