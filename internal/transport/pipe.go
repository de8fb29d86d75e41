package transport

import (
	"context"
	"sync"
)

// Pipe is an in-memory Transport used to test the session layer without a
// radio. Frames written by one end arrive at the other end's Read; the
// device side scripts characteristic reads through a channel.
type Pipe struct {
	in       chan []byte
	out      chan []byte
	charRead chan []byte

	closeOnce *sync.Once
	done      chan struct{}
}

// NewPipe creates a connected pair of transports. Frames written to the
// client arrive at the device and vice versa.
func NewPipe() (client, device *Pipe) {
	a2b := make(chan []byte, 16)
	b2a := make(chan []byte, 16)
	char := make(chan []byte, 4)
	done := make(chan struct{})
	once := &sync.Once{}

	client = &Pipe{in: b2a, out: a2b, charRead: char, closeOnce: once, done: done}
	device = &Pipe{in: a2b, out: b2a, charRead: char, closeOnce: once, done: done}
	return client, device
}

// QueueCharacteristic schedules data to be returned by the peer's next
// ReadCharacteristic call.
func (p *Pipe) QueueCharacteristic(data []byte) {
	p.charRead <- append([]byte(nil), data...)
}

// closed reports whether Close has been called. Checked before the
// blocking selects so a closed pipe fails even when a buffered frame
// would otherwise be ready.
func (p *Pipe) closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *Pipe) Write(ctx context.Context, frame []byte) error {
	if p.closed() {
		return ErrClosed
	}
	buf := append([]byte(nil), frame...)
	select {
	case p.out <- buf:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipe) Read(ctx context.Context) ([]byte, error) {
	if p.closed() {
		return nil, ErrClosed
	}
	select {
	case frame := <-p.in:
		return frame, nil
	case <-p.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pipe) ReadCharacteristic(ctx context.Context) ([]byte, error) {
	if p.closed() {
		return nil, ErrClosed
	}
	select {
	case data := <-p.charRead:
		return data, nil
	case <-p.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts down both ends of the pair.
func (p *Pipe) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}
