package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"casambi-go/internal/logging"
	"casambi-go/internal/protocol"
	"casambi-go/internal/registry"
	"casambi-go/internal/session"
	"casambi-go/internal/switches"
	"casambi-go/internal/transport"
)

// ErrNotConnected is returned by command methods without an established
// session.
var ErrNotConnected = errors.New("client: not connected")

// Client drives one mesh connection end to end: it establishes the
// session, runs the receive loop that feeds decoded messages into the
// registry and the switch state machine, and exposes the command surface.
//
// Commands and the receive loop run on independent paths; the session's
// directional counters keep them consistent without a shared lock.
type Client struct {
	registry *registry.Registry
	machine  *switches.Machine
	ops      *protocol.OperationContext

	mu         sync.Mutex
	sess       *session.Session
	trans      transport.Transport
	generation uint64
	loopDone   chan struct{}

	subMu      sync.Mutex
	switchSubs map[int]func(switches.Event)
	diagSubs   map[int]func(protocol.Message)
	discSubs   map[int]func()
	nextSubID  int
}

// New creates a client bound to a registry.
func New(reg *registry.Registry) *Client {
	return &Client{
		registry:   reg,
		machine:    switches.NewMachine(),
		ops:        protocol.NewOperationContext(),
		switchSubs: make(map[int]func(switches.Event)),
		diagSubs:   make(map[int]func(protocol.Message)),
		discSubs:   make(map[int]func()),
	}
}

// Registry returns the unit registry this client feeds.
func (c *Client) Registry() *registry.Registry { return c.registry }

// Connect establishes a session over the transport and starts the receive
// loop. An existing session is torn down first.
func (c *Client) Connect(ctx context.Context, t transport.Transport, cfg session.Config) error {
	c.Disconnect()

	sess, err := session.Establish(ctx, t, cfg)
	if err != nil {
		return fmt.Errorf("client: connect: %w", err)
	}

	c.mu.Lock()
	c.sess = sess
	c.trans = t
	c.generation++
	gen := c.generation
	done := make(chan struct{})
	c.loopDone = done
	c.mu.Unlock()

	go c.receiveLoop(sess, gen, done)
	logging.Info("Connected", zap.Int("mtu", sess.MTU()), zap.Uint16("unit", sess.UnitID()))
	return nil
}

// Disconnect ends the session, stops the receive loop and marks every unit
// offline; without a session no state can be trusted as fresh. Safe to
// call when not connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	sess := c.sess
	trans := c.trans
	done := c.loopDone
	c.sess = nil
	c.trans = nil
	c.loopDone = nil
	c.generation++
	c.mu.Unlock()

	if sess == nil {
		return
	}

	sess.Close()
	if trans != nil {
		trans.Close()
	}
	if done != nil {
		<-done
	}
	c.registry.MarkAllOffline()
	c.emitDisconnect()
	logging.Info("Disconnected")
}

// receiveLoop drains the session until it dies. The generation guard keeps
// a loop belonging to a stale session from ever touching the registry
// after a reconnect.
func (c *Client) receiveLoop(sess *session.Session, gen uint64, done chan struct{}) {
	defer close(done)

	ctx := context.Background()
	for {
		payload, err := sess.Receive(ctx)
		if err != nil {
			if session.Recoverable(err) {
				logging.Warn("Dropping packet", zap.Error(err))
				continue
			}
			logging.Debug("Receive loop ending", zap.Error(err))
			go c.handleSessionLoss(gen)
			return
		}

		if !c.currentGeneration(gen) {
			return
		}
		c.processPacket(payload)
	}
}

// handleSessionLoss marks units offline when the session dies underneath
// us rather than through Disconnect.
func (c *Client) handleSessionLoss(gen uint64) {
	c.mu.Lock()
	stale := c.generation != gen
	if !stale {
		c.sess = nil
		c.trans = nil
		c.loopDone = nil
		c.generation++
	}
	c.mu.Unlock()

	if !stale {
		c.registry.MarkAllOffline()
		c.emitDisconnect()
	}
}

func (c *Client) currentGeneration(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation == gen
}

// processPacket runs one decrypted payload through demux, decode and the
// downstream consumers, in wire order.
func (c *Client) processPacket(payload []byte) {
	c.machine.NextPacket()

	for _, sub := range protocol.Split(payload) {
		msg, err := protocol.Decode(sub)
		if err != nil {
			// Anomalies are diagnostics, never pipeline failures.
			var anomaly *protocol.Anomaly
			if errors.As(err, &anomaly) {
				logging.Debug("Dropping sub-message", zap.Error(anomaly))
			}
			continue
		}

		switch m := msg.(type) {
		case protocol.UnitStateUpdate:
			c.registry.ApplyStateUpdate(m.Unit, m.State)
		case protocol.BasicSwitchEvent, protocol.ExtendedSwitchEvent:
			if ev, ok := switches.FromMessage(m); ok && c.machine.Observe(ev) {
				c.emitSwitchEvent(ev)
			}
		default:
			// Sequence, status and opaque messages are surfaced as
			// diagnostics.
			c.emitDiagnostic(msg)
		}
	}
}

// SubscribeSwitchEvents registers a listener for deduplicated button
// events. The returned function cancels the subscription.
func (c *Client) SubscribeSwitchEvents(fn func(switches.Event)) (unsubscribe func()) {
	c.subMu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.switchSubs[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.switchSubs, id)
		c.subMu.Unlock()
	}
}

// SubscribeDiagnostics registers a listener for non-state protocol
// traffic: sequence markers, status messages and unknown types.
func (c *Client) SubscribeDiagnostics(fn func(protocol.Message)) (unsubscribe func()) {
	c.subMu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.diagSubs[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.diagSubs, id)
		c.subMu.Unlock()
	}
}

// SubscribeDisconnects registers a listener fired when the session ends,
// whether through Disconnect or a transport failure.
func (c *Client) SubscribeDisconnects(fn func()) (unsubscribe func()) {
	c.subMu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.discSubs[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.discSubs, id)
		c.subMu.Unlock()
	}
}

func (c *Client) emitDisconnect() {
	c.subMu.Lock()
	subs := make([]func(), 0, len(c.discSubs))
	for _, fn := range c.discSubs {
		subs = append(subs, fn)
	}
	c.subMu.Unlock()

	for _, fn := range subs {
		fn()
	}
}

func (c *Client) emitSwitchEvent(ev switches.Event) {
	c.subMu.Lock()
	subs := make([]func(switches.Event), 0, len(c.switchSubs))
	for _, fn := range c.switchSubs {
		subs = append(subs, fn)
	}
	c.subMu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}

func (c *Client) emitDiagnostic(msg protocol.Message) {
	c.subMu.Lock()
	subs := make([]func(protocol.Message), 0, len(c.diagSubs))
	for _, fn := range c.diagSubs {
		subs = append(subs, fn)
	}
	c.subMu.Unlock()

	for _, fn := range subs {
		fn(msg)
	}
}

func (c *Client) send(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()

	if sess == nil {
		return ErrNotConnected
	}
	return sess.Send(ctx, payload)
}

// sendOperation frames and sends one mesh operation.
func (c *Client) sendOperation(ctx context.Context, op protocol.OpCode, target protocol.Target, payload []byte) error {
	frame, err := c.ops.Encode(op, target, payload)
	if err != nil {
		return err
	}
	return c.send(ctx, frame)
}

// SetUnitState sets one unit's on/off state and level directly, framed as
// a state sub-message.
func (c *Client) SetUnitState(ctx context.Context, unit uint8, on bool, level uint8) error {
	return c.send(ctx, protocol.EncodeSetState(unit, on, level))
}

// SetLevel sets the brightness for a target. Level 0 turns the target off.
func (c *Client) SetLevel(ctx context.Context, target protocol.Target, level uint8) error {
	return c.sendOperation(ctx, protocol.OpSetLevel, target, []byte{level})
}

// TurnOn restores a target to its last level.
func (c *Client) TurnOn(ctx context.Context, target protocol.Target) error {
	// Level 0xff with the restore and full-time flags, matching what the
	// vendor app sends.
	return c.sendOperation(ctx, protocol.OpSetLevel, target, []byte{0xff, 0x05})
}

// TurnOff turns a target off.
func (c *Client) TurnOff(ctx context.Context, target protocol.Target) error {
	return c.SetLevel(ctx, target, 0)
}

// SetVertical sets the balance between a unit's top and bottom emitters.
func (c *Client) SetVertical(ctx context.Context, target protocol.Target, vertical uint8) error {
	return c.sendOperation(ctx, protocol.OpSetVertical, target, []byte{vertical})
}

// SetWhite sets the white channel level.
func (c *Client) SetWhite(ctx context.Context, target protocol.Target, level uint8) error {
	return c.sendOperation(ctx, protocol.OpSetWhite, target, []byte{level})
}

// SetSlider sets the generic slider control.
func (c *Client) SetSlider(ctx context.Context, target protocol.Target, value uint8) error {
	return c.sendOperation(ctx, protocol.OpSetSlider, target, []byte{value})
}

// SetColor sets an RGB color, converted to the hue/saturation encoding the
// mesh expects: hue scaled to 0..1023 little-endian, saturation to 0..255.
func (c *Client) SetColor(ctx context.Context, target protocol.Target, r, g, b uint8) error {
	hue, sat := rgbToHueSat(r, g, b)
	payload := []byte{byte(hue), byte(hue >> 8), sat}
	return c.sendOperation(ctx, protocol.OpSetColor, target, payload)
}

// SwitchToScene recalls a scene, optionally scaling all units' levels.
func (c *Client) SwitchToScene(ctx context.Context, sceneID uint8, level uint8) error {
	return c.sendOperation(ctx, protocol.OpSetLevel, protocol.SceneTarget(sceneID), []byte{level})
}

// rgbToHueSat converts RGB to the wire's hue (0..1023) and saturation
// (0..255) values.
func rgbToHueSat(r, g, b uint8) (uint16, uint8) {
	rf, gf, bf := float64(r)/255, float64(g)/255, float64(b)/255

	max := rf
	if gf > max {
		max = gf
	}
	if bf > max {
		max = bf
	}
	min := rf
	if gf < min {
		min = gf
	}
	if bf < min {
		min = bf
	}
	delta := max - min

	var hue float64
	switch {
	case delta == 0:
		hue = 0
	case max == rf:
		hue = (gf - bf) / delta
		if hue < 0 {
			hue += 6
		}
	case max == gf:
		hue = (bf-rf)/delta + 2
	default:
		hue = (rf-gf)/delta + 4
	}
	hue /= 6

	var sat float64
	if max > 0 {
		sat = delta / max
	}

	return uint16(hue*1023 + 0.5), uint8(sat*255 + 0.5)
}
