package session

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"casambi-go/internal/crypto"
	"casambi-go/internal/logging"
	"casambi-go/internal/transport"
)

// Packet counter start values after a successful handshake. Counter 1 is
// consumed by the authentication exchange in both directions.
const (
	firstOutCounter = 2
	firstInCounter  = 1
)

// dataPacketType prefixes every outgoing data payload inside the encrypted
// envelope.
const dataPacketType = 0x07

// Session is an authenticated, encrypted channel to a mesh device. Sends
// and receives each hold their own counter and lock, so one goroutine can
// stream notifications while another issues commands.
//
// The per-packet nonce is direction-dependent: outgoing packets splice
// their counter into bytes 4..8 of the device nonce, incoming packets into
// bytes 0..4. The two keystreams can therefore never collide even when the
// counters overlap.
type Session struct {
	transport transport.Transport
	enc       *crypto.Encryptor
	nonce     [crypto.NonceSize]byte

	mtu    int
	unitID uint16
	flags  uint16

	outMu      sync.Mutex
	outCounter uint32

	inMu      sync.Mutex
	inCounter uint32

	closed atomic.Bool
}

// MTU returns the payload size the device negotiated.
func (s *Session) MTU() int { return s.mtu }

// UnitID returns the unit number the connected device holds in the mesh.
func (s *Session) UnitID() uint16 { return s.unitID }

// Flags returns the raw capability flags from the session parameters.
func (s *Session) Flags() uint16 { return s.flags }

// Send encrypts and writes one data payload. The payload is framed with
// the outgoing packet counter and the data packet type before sealing.
func (s *Session) Send(ctx context.Context, payload []byte) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	s.outMu.Lock()
	defer s.outMu.Unlock()

	counter := s.outCounter
	packet := make([]byte, 0, crypto.HeaderLen+1+len(payload))
	packet = binary.LittleEndian.AppendUint32(packet, counter)
	packet = append(packet, dataPacketType)
	packet = append(packet, payload...)

	sealed, err := s.enc.EncryptThenMAC(packet, s.outNonce(counter))
	if err != nil {
		return fmt.Errorf("session: seal packet %d: %w", counter, err)
	}

	if err := s.transport.Write(ctx, sealed); err != nil {
		s.closed.Store(true)
		return fmt.Errorf("%w: %v", ErrSessionClosed, err)
	}

	logging.LogPacket("out", counter, payload)
	s.outCounter++
	return nil
}

// Receive blocks for the next inbound packet and returns its decrypted
// payload without the counter header. On ErrIntegrityFailure or ErrReplay
// the offending packet is dropped and the session remains usable; use
// Recoverable to distinguish. A transport failure closes the session.
func (s *Session) Receive(ctx context.Context) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}

	frame, err := s.transport.Read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.closed.Store(true)
		return nil, fmt.Errorf("%w: %v", ErrSessionClosed, err)
	}
	return s.open(frame)
}

// open decrypts and verifies one raw inbound frame.
func (s *Session) open(frame []byte) ([]byte, error) {
	if len(frame) < crypto.HeaderLen+crypto.TagSize {
		return nil, fmt.Errorf("%w: frame of %d bytes", ErrIntegrityFailure, len(frame))
	}

	s.inMu.Lock()
	defer s.inMu.Unlock()

	counter := binary.LittleEndian.Uint32(frame[:crypto.HeaderLen])
	if counter < s.inCounter {
		return nil, fmt.Errorf("%w: counter %d, expected at least %d", ErrReplay, counter, s.inCounter)
	}

	payload, err := s.enc.DecryptAndVerify(frame, s.inNonce(frame[:crypto.HeaderLen]))
	if err != nil {
		return nil, fmt.Errorf("%w: counter %d", ErrIntegrityFailure, counter)
	}

	s.inCounter = counter + 1
	logging.LogPacket("in", counter, payload)
	return payload, nil
}

// Close marks the session unusable. The transport is owned by the caller
// and stays open.
func (s *Session) Close() {
	s.closed.Store(true)
}

// Closed reports whether the session has been ended.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// outNonce places the counter into bytes 4..8 of the device nonce.
func (s *Session) outNonce(counter uint32) []byte {
	n := make([]byte, crypto.NonceSize)
	copy(n, s.nonce[:])
	binary.LittleEndian.PutUint32(n[4:], counter)
	return n
}

// inNonce places the packet's own counter bytes into bytes 0..4.
func (s *Session) inNonce(counterBytes []byte) []byte {
	n := make([]byte, crypto.NonceSize)
	copy(n, counterBytes)
	copy(n[4:], s.nonce[4:])
	return n
}
