package registry

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"casambi-go/internal/logging"
	"casambi-go/internal/protocol"
)

// listenerQueueSize bounds the per-listener delivery queue. A listener
// that falls this far behind starts losing updates rather than stalling
// the decode path.
const listenerQueueSize = 256

type listener struct {
	ch   chan Unit
	done chan struct{}
}

// Registry is the authoritative in-memory model of the network's units.
// All mutation goes through the Apply/Set methods, which mutate first and
// notify after, so readers and listeners never observe a partial update.
// Reads return copies. Updates to the same unit reach each listener in
// the order they were applied.
type Registry struct {
	mu        sync.RWMutex
	units     map[uint8]*Unit
	groups    map[uint8]Group
	scenes    map[uint8]Scene
	listeners map[*listener]struct{}

	network Network
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		units:     make(map[uint8]*Unit),
		groups:    make(map[uint8]Group),
		scenes:    make(map[uint8]Scene),
		listeners: make(map[*listener]struct{}),
	}
}

// LoadNetwork seeds the registry from a network configuration. Existing
// live state for units that stay in the network is preserved.
func (r *Registry) LoadNetwork(n Network) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.network = n
	for _, u := range n.Units {
		if existing, ok := r.units[u.ID]; ok {
			existing.Name = u.Name
			existing.Address = u.Address
			existing.Capabilities = u.Capabilities
			continue
		}
		copied := u
		r.units[u.ID] = &copied
	}
	for _, g := range n.Groups {
		r.groups[g.ID] = g
	}
	for _, s := range n.Scenes {
		r.scenes[s.ID] = s
	}
	logging.Info("Loaded network configuration",
		zap.String("network", n.Name),
		zap.Int("units", len(n.Units)),
		zap.Int("groups", len(n.Groups)),
		zap.Int("scenes", len(n.Scenes)))
}

// Network returns the loaded network configuration.
func (r *Registry) Network() Network {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.network
}

// ApplyStateUpdate applies one decoded state report. Unknown units are
// created with default capabilities rather than rejected; devices can join
// a network between configuration fetches.
func (r *Registry) ApplyStateUpdate(unitID uint8, state uint8) {
	r.mu.Lock()

	u, ok := r.units[unitID]
	if !ok {
		u = &Unit{ID: unitID}
		r.units[unitID] = u
		logging.Debug("Creating unit from state update", zap.Uint8("unit", unitID))
	}

	u.On, u.Level = protocol.DecodeStateByte(state)
	u.Online = true
	u.LastUpdate = time.Now()
	snapshot := *u

	r.mu.Unlock()
	r.notify(snapshot)
}

// SetOnline marks one unit's reachability without touching its state.
func (r *Registry) SetOnline(unitID uint8, online bool) {
	r.mu.Lock()
	u, ok := r.units[unitID]
	if !ok {
		r.mu.Unlock()
		return
	}
	u.Online = online
	u.LastUpdate = time.Now()
	snapshot := *u
	r.mu.Unlock()
	r.notify(snapshot)
}

// MarkAllOffline flags every unit unreachable. Called when the session
// drops; without a live session no state report can be trusted as fresh.
func (r *Registry) MarkAllOffline() {
	r.mu.Lock()
	snapshots := make([]Unit, 0, len(r.units))
	now := time.Now()
	for _, u := range r.units {
		if !u.Online {
			continue
		}
		u.Online = false
		u.LastUpdate = now
		snapshots = append(snapshots, *u)
	}
	r.mu.Unlock()

	for _, s := range snapshots {
		r.notify(s)
	}
}

// GetUnit returns a snapshot of one unit.
func (r *Registry) GetUnit(unitID uint8) (Unit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.units[unitID]
	if !ok {
		return Unit{}, false
	}
	return *u, true
}

// Units returns snapshots of all units ordered by id.
func (r *Registry) Units() []Unit {
	r.mu.RLock()
	units := make([]Unit, 0, len(r.units))
	for _, u := range r.units {
		units = append(units, *u)
	}
	r.mu.RUnlock()

	sort.Slice(units, func(i, j int) bool { return units[i].ID < units[j].ID })
	return units
}

// Groups returns all configured groups ordered by id.
func (r *Registry) Groups() []Group {
	r.mu.RLock()
	groups := make([]Group, 0, len(r.groups))
	for _, g := range r.groups {
		groups = append(groups, g)
	}
	r.mu.RUnlock()

	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups
}

// Scenes returns all configured scenes ordered by id.
func (r *Registry) Scenes() []Scene {
	r.mu.RLock()
	scenes := make([]Scene, 0, len(r.scenes))
	for _, s := range r.scenes {
		scenes = append(scenes, s)
	}
	r.mu.RUnlock()

	sort.Slice(scenes, func(i, j int) bool { return scenes[i].ID < scenes[j].ID })
	return scenes
}

// Subscribe registers a listener for unit state changes. Each listener
// gets its own ordered queue drained by its own goroutine, so a slow
// consumer cannot stall the decode path; a consumer that overflows its
// queue loses the oldest updates. The returned function cancels the
// subscription.
func (r *Registry) Subscribe(fn func(Unit)) (unsubscribe func()) {
	l := &listener{
		ch:   make(chan Unit, listenerQueueSize),
		done: make(chan struct{}),
	}

	go func() {
		for {
			select {
			case u := <-l.ch:
				fn(u)
			case <-l.done:
				return
			}
		}
	}()

	r.mu.Lock()
	r.listeners[l] = struct{}{}
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.listeners, l)
			r.mu.Unlock()
			close(l.done)
		})
	}
}

func (r *Registry) notify(u Unit) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for l := range r.listeners {
		select {
		case l.ch <- u:
		default:
			// Queue full: drop the oldest update to make room so the
			// listener converges on recent state.
			select {
			case <-l.ch:
			default:
			}
			select {
			case l.ch <- u:
			default:
			}
			logging.Warn("Listener queue overflow, dropped oldest update",
				zap.Uint8("unit", u.ID))
		}
	}
}
