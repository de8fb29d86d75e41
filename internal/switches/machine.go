package switches

import (
	"sync"

	"go.uber.org/zap"

	"casambi-go/internal/logging"
	"casambi-go/internal/protocol"
)

// Defaults for the dedup window. Senders repeat each logical event for
// reliability, a press once or twice and a release up to three times, with
// the repeats arriving in the next few radio packets. The window is
// measured in packets, not wall-clock time, because packet spacing is what
// bounds the repeats.
const (
	defaultWindow     = 8
	defaultMaxTracked = 64
)

// Event is one deduplicated button transition.
type Event struct {
	Unit     uint8
	Button   uint8
	Edge     protocol.Edge
	Sequence uint8
	Source   protocol.Type
}

type buttonKey struct {
	unit   uint8
	button uint8
}

type observation struct {
	edge   protocol.Edge
	packet uint64
}

// Machine collapses the sender's intentional event repeats into single
// application-level events. Repeated observations of the same
// (unit, button, edge) within the packet window are duplicates; a change
// of edge for a button always emits, even while duplicates of the prior
// edge are still being suppressed. Safe for concurrent use, though the
// decode pipeline normally drives it from one goroutine.
type Machine struct {
	mu      sync.Mutex
	window  uint64
	maxSize int

	packet uint64
	last   map[buttonKey]observation
}

// NewMachine creates a machine with the default window and tracking bound.
func NewMachine() *Machine {
	return &Machine{
		window:  defaultWindow,
		maxSize: defaultMaxTracked,
		last:    make(map[buttonKey]observation),
	}
}

// NextPacket advances the packet counter. Call once per decrypted radio
// packet, before observing its sub-messages.
func (m *Machine) NextPacket() {
	m.mu.Lock()
	m.packet++
	m.mu.Unlock()
}

// FromMessage extracts the switch observation from a decoded message.
// Non-switch messages return false.
func FromMessage(msg protocol.Message) (Event, bool) {
	switch ev := msg.(type) {
	case protocol.BasicSwitchEvent:
		return Event{
			Unit:   ev.Unit,
			Button: ev.Button,
			Edge:   ev.Edge,
			Source: protocol.TypeBasicSwitch,
		}, true
	case protocol.ExtendedSwitchEvent:
		return Event{
			Unit:     ev.Unit,
			Button:   ev.Button,
			Edge:     ev.Edge,
			Sequence: ev.Sequence,
			Source:   protocol.TypeExtendedSwitch,
		}, true
	default:
		return Event{}, false
	}
}

// Observe records one decoded switch observation and reports whether it is
// a new logical event. Duplicates within the window refresh the window, so
// a long burst of repeats stays collapsed.
func (m *Machine) Observe(ev Event) bool {
	key := buttonKey{unit: ev.Unit, button: ev.Button}

	m.mu.Lock()
	defer m.mu.Unlock()

	prev, seen := m.last[key]
	if seen && prev.edge == ev.Edge && m.packet-prev.packet <= m.window {
		m.last[key] = observation{edge: ev.Edge, packet: m.packet}
		logging.Debug("Suppressing repeated switch event",
			zap.Uint8("unit", ev.Unit),
			zap.Uint8("button", ev.Button),
			zap.Stringer("edge", ev.Edge))
		return false
	}

	if len(m.last) >= m.maxSize {
		m.evictOldest()
	}
	m.last[key] = observation{edge: ev.Edge, packet: m.packet}
	return true
}

// evictOldest drops the entry with the oldest packet number. Called with
// the lock held.
func (m *Machine) evictOldest() {
	var oldestKey buttonKey
	first := true
	var oldest uint64
	for k, o := range m.last {
		if first || o.packet < oldest {
			oldestKey, oldest, first = k, o.packet, false
		}
	}
	if !first {
		delete(m.last, oldestKey)
	}
}
