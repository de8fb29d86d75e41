package client

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"casambi-go/internal/crypto"
	"casambi-go/internal/protocol"
	"casambi-go/internal/registry"
	"casambi-go/internal/session"
	"casambi-go/internal/switches"
	"casambi-go/internal/transport"
)

// testDevice answers the handshake and exchanges sealed frames so the full
// client pipeline can run over an in-memory pipe.
type testDevice struct {
	t    *testing.T
	pipe *transport.Pipe

	nonce      [crypto.NonceSize]byte
	networkKey []byte
	enc        *crypto.Encryptor
	counter    uint32

	ready chan struct{}
}

func startTestDevice(t *testing.T) (*transport.Pipe, *testDevice) {
	t.Helper()

	clientEnd, deviceEnd := transport.NewPipe()
	t.Cleanup(func() { clientEnd.Close() })

	d := &testDevice{
		t:          t,
		pipe:       deviceEnd,
		networkKey: bytes.Repeat([]byte{0x42}, crypto.KeySize),
		counter:    2,
		ready:      make(chan struct{}),
	}
	copy(d.nonce[:], bytes.Repeat([]byte{0x5c}, crypto.NonceSize))

	params := []byte{0x01, session.MinProtocolVersion, 67}
	params = binary.BigEndian.AppendUint16(params, 0x0001)
	params = binary.BigEndian.AppendUint16(params, 0x0000)
	params = append(params, d.nonce[:]...)
	deviceEnd.QueueCharacteristic(params)

	go d.handshake()
	return clientEnd, d
}

func (d *testDevice) handshake() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exch, err := crypto.NewKeyExchange()
	if err != nil {
		d.t.Errorf("device: %v", err)
		return
	}
	x, y := exch.PublicKeyWire()
	if err := d.pipe.Write(ctx, append([]byte{0x02}, append(x, y...)...)); err != nil {
		d.t.Errorf("device: write offer: %v", err)
		return
	}

	reply, err := d.pipe.Read(ctx)
	if err != nil || len(reply) != 66 {
		d.t.Errorf("device: bad reply: %x (%v)", reply, err)
		return
	}
	tk, err := exch.DeriveTransportKey(reply[1:33], reply[33:65])
	if err != nil {
		d.t.Errorf("device: derive: %v", err)
		return
	}
	if d.enc, err = crypto.NewEncryptor(tk); err != nil {
		d.t.Errorf("device: encryptor: %v", err)
		return
	}

	if err := d.pipe.Write(ctx, []byte{0x03}); err != nil {
		d.t.Errorf("device: write ack: %v", err)
		return
	}

	// Auth round: check nothing, just answer verifiably.
	if _, err := d.pipe.Read(ctx); err != nil {
		d.t.Errorf("device: read auth: %v", err)
		return
	}
	if err := d.pipe.Write(ctx, d.seal([]byte{0x04})); err != nil {
		d.t.Errorf("device: write auth response: %v", err)
		return
	}
	close(d.ready)
}

// seal wraps a payload in the next device-to-client frame. The first call
// after the handshake must carry counter 1 for the auth response.
func (d *testDevice) seal(payload []byte) []byte {
	counter := uint32(1)
	select {
	case <-d.ready:
		counter = d.counter
		d.counter++
	default:
	}

	packet := binary.LittleEndian.AppendUint32(nil, counter)
	packet = append(packet, payload...)

	nonce := make([]byte, crypto.NonceSize)
	binary.LittleEndian.PutUint32(nonce, counter)
	copy(nonce[4:], d.nonce[4:])

	sealed, err := d.enc.EncryptThenMAC(packet, nonce)
	if err != nil {
		d.t.Fatalf("device: seal: %v", err)
	}
	return sealed
}

// openClientFrame opens a client-to-device frame.
func (d *testDevice) openClientFrame(frame []byte) []byte {
	nonce := make([]byte, crypto.NonceSize)
	copy(nonce, d.nonce[:4])
	copy(nonce[4:8], frame[:4])
	copy(nonce[8:], d.nonce[8:])

	plain, err := d.enc.DecryptAndVerify(frame, nonce)
	if err != nil {
		d.t.Fatalf("device: open client frame: %v", err)
	}
	return plain
}

func connectTestClient(t *testing.T) (*Client, *testDevice) {
	t.Helper()

	clientEnd, dev := startTestDevice(t)
	c := New(registry.New())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.Connect(ctx, clientEnd, session.Config{
		Key:             &crypto.Key{ID: 0, Role: crypto.RoleAdmin, Key: dev.networkKey},
		ProtocolVersion: session.MinProtocolVersion,
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	<-dev.ready
	t.Cleanup(c.Disconnect)
	return c, dev
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestInboundPipeline(t *testing.T) {
	c, dev := connectTestClient(t)

	events := make(chan switches.Event, 8)
	defer c.SubscribeSwitchEvents(func(ev switches.Event) { events <- ev })()

	ctx := context.Background()

	// One packet with a state update and a button press.
	packet := protocol.EncodeSetState(5, true, 80)
	packet = append(packet, 0x08, 0x00, 0x20, 0x14, 0x85, 0x1f) // press, unit 20, button 0
	dev.pipe.Write(ctx, dev.seal(packet))

	waitFor(t, func() bool {
		u, ok := c.Registry().GetUnit(5)
		return ok && u.On && u.Level == 80
	}, "registry update")

	select {
	case ev := <-events:
		if ev.Unit != 0x14 || ev.Button != 0 || ev.Edge != protocol.EdgePress {
			t.Errorf("switch event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("no switch event")
	}

	// The press repeats in two more packets; no further events.
	dev.pipe.Write(ctx, dev.seal([]byte{0x08, 0x00, 0x20, 0x14, 0x85, 0x1f}))
	dev.pipe.Write(ctx, dev.seal([]byte{0x08, 0x00, 0x20, 0x14, 0x85, 0x1f}))
	// The release emits exactly one more.
	dev.pipe.Write(ctx, dev.seal([]byte{0x08, 0x00, 0x20, 0x14, 0x8a, 0x1f}))

	select {
	case ev := <-events:
		if ev.Edge != protocol.EdgeRelease {
			t.Errorf("second event edge = %s, want Release", ev.Edge)
		}
	case <-time.After(time.Second):
		t.Fatalf("no release event")
	}

	select {
	case ev := <-events:
		t.Errorf("duplicate event emitted: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDiagnosticsSurface(t *testing.T) {
	c, dev := connectTestClient(t)

	diags := make(chan protocol.Message, 8)
	defer c.SubscribeDiagnostics(func(m protocol.Message) { diags <- m })()

	dev.pipe.Write(context.Background(), dev.seal([]byte{0x06, 0x00, 0x05, 0x19}))

	select {
	case m := <-diags:
		seq, ok := m.(protocol.SequenceStatus)
		if !ok || seq.Value != 0x19 {
			t.Errorf("diagnostic = %v", m)
		}
	case <-time.After(time.Second):
		t.Fatalf("no diagnostic message")
	}
}

func TestSetUnitStateWireFormat(t *testing.T) {
	c, dev := connectTestClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := c.SetUnitState(ctx, 5, true, 50); err != nil {
		t.Fatalf("SetUnitState() error = %v", err)
	}

	frame, err := dev.pipe.Read(ctx)
	if err != nil {
		t.Fatalf("device read: %v", err)
	}
	plain := dev.openClientFrame(frame)

	// Data type byte, then a state sub-message that round-trips.
	if plain[0] != 0x07 {
		t.Fatalf("data type byte = 0x%02x", plain[0])
	}
	msgs := protocol.Split(plain[1:])
	if len(msgs) != 1 {
		t.Fatalf("Split() yielded %d messages", len(msgs))
	}
	msg, err := protocol.Decode(msgs[0])
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	upd := msg.(protocol.UnitStateUpdate)
	if upd.Unit != 5 || upd.State != 50 {
		t.Errorf("loopback = %+v", upd)
	}
}

func TestOperationCommands(t *testing.T) {
	c, dev := connectTestClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := c.TurnOn(ctx, protocol.UnitTarget(5)); err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}

	frame, _ := dev.pipe.Read(ctx)
	plain := dev.openClientFrame(frame)

	// Operation frame after the data type byte: opcode SetLevel,
	// unit target, restore payload.
	op := plain[1:]
	if op[2] != byte(protocol.OpSetLevel) {
		t.Errorf("opcode = %d, want SetLevel", op[2])
	}
	if binary.BigEndian.Uint16(op[5:7]) != 0x0501 {
		t.Errorf("target = %#04x, want 0x0501", binary.BigEndian.Uint16(op[5:7]))
	}
	if !bytes.Equal(op[9:], []byte{0xff, 0x05}) {
		t.Errorf("payload = %x, want ff05", op[9:])
	}

	if err := c.SwitchToScene(ctx, 3, 0xff); err != nil {
		t.Fatalf("SwitchToScene() error = %v", err)
	}
	frame, _ = dev.pipe.Read(ctx)
	op = dev.openClientFrame(frame)[1:]
	if binary.BigEndian.Uint16(op[5:7]) != 0x0304 {
		t.Errorf("scene target = %#04x, want 0x0304", binary.BigEndian.Uint16(op[5:7]))
	}
}

func TestDisconnect(t *testing.T) {
	c, dev := connectTestClient(t)

	var disconnects atomic.Int32
	unsub := c.SubscribeDisconnects(func() { disconnects.Add(1) })
	defer unsub()

	dev.pipe.Write(context.Background(), dev.seal(protocol.EncodeSetState(5, true, 80)))
	waitFor(t, func() bool {
		u, ok := c.Registry().GetUnit(5)
		return ok && u.Online
	}, "unit online")

	c.Disconnect()

	u, _ := c.Registry().GetUnit(5)
	if u.Online {
		t.Errorf("unit still online after disconnect")
	}
	if !u.On || u.Level != 80 {
		t.Errorf("unit state lost on disconnect: %+v", u)
	}

	if err := c.SetUnitState(context.Background(), 5, false, 0); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SetUnitState() after disconnect error = %v, want ErrNotConnected", err)
	}

	if got := disconnects.Load(); got != 1 {
		t.Errorf("disconnect callbacks fired %d times, want 1", got)
	}

	// Disconnecting again is a no-op.
	c.Disconnect()
	if got := disconnects.Load(); got != 1 {
		t.Errorf("repeat Disconnect fired callback again: %d", got)
	}
}

func TestRGBToHueSat(t *testing.T) {
	tests := []struct {
		name    string
		r, g, b uint8
		wantHue uint16
		wantSat uint8
	}{
		{"red", 255, 0, 0, 0, 255},
		{"green", 0, 255, 0, 341, 255},
		{"blue", 0, 0, 255, 682, 255},
		{"white", 255, 255, 255, 0, 0},
		{"black", 0, 0, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hue, sat := rgbToHueSat(tt.r, tt.g, tt.b)
			if hue != tt.wantHue || sat != tt.wantSat {
				t.Errorf("rgbToHueSat() = %d, %d, want %d, %d", hue, sat, tt.wantHue, tt.wantSat)
			}
		})
	}
}
