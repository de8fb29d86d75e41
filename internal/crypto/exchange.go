package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
)

// CoordSize is the size of one P-256 curve coordinate in bytes.
const CoordSize = 32

// ErrInvalidPublicKey is returned when a peer public key does not decode to
// a valid point on the curve.
var ErrInvalidPublicKey = errors.New("crypto: invalid peer public key")

// KeyExchange holds an ephemeral P-256 key pair for one session handshake.
// The mesh sends curve coordinates little-endian on the wire, opposite to
// the big-endian SEC1 encoding Go's ecdh package uses, so both directions
// go through a byte-reversal.
type KeyExchange struct {
	priv *ecdh.PrivateKey
}

// NewKeyExchange generates a fresh ephemeral key pair.
func NewKeyExchange() (*KeyExchange, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key pair: %w", err)
	}
	return &KeyExchange{priv: priv}, nil
}

// PublicKeyWire returns the X and Y coordinates of the local public key in
// the little-endian wire encoding.
func (x *KeyExchange) PublicKeyWire() (pubX, pubY []byte) {
	// Uncompressed SEC1 point: 0x04 || X || Y, both big-endian.
	raw := x.priv.PublicKey().Bytes()
	return reversed(raw[1 : 1+CoordSize]), reversed(raw[1+CoordSize:])
}

// DeriveTransportKey completes the exchange against the peer's public key,
// given as little-endian wire coordinates, and derives the 16-byte session
// transport key: the shared secret is byte-reversed, hashed with SHA-256,
// and the digest folded in half with XOR.
func (x *KeyExchange) DeriveTransportKey(peerX, peerY []byte) ([]byte, error) {
	if len(peerX) != CoordSize || len(peerY) != CoordSize {
		return nil, ErrInvalidPublicKey
	}

	point := make([]byte, 0, 1+2*CoordSize)
	point = append(point, 0x04)
	point = append(point, reversed(peerX)...)
	point = append(point, reversed(peerY)...)

	peer, err := ecdh.P256().NewPublicKey(point)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}

	secret, err := x.priv.ECDH(peer)
	if err != nil {
		return nil, fmt.Errorf("crypto: ecdh: %w", err)
	}

	digest := sha256.Sum256(reversed(secret))
	key := make([]byte, KeySize)
	for i := 0; i < KeySize; i++ {
		key[i] = digest[i] ^ digest[KeySize+i]
	}
	return key, nil
}

// AuthDigest computes the session authentication digest the client proves
// key possession with: SHA-256 over the network key, the device nonce and
// the freshly derived transport key, in that order.
func AuthDigest(networkKey, nonce, transportKey []byte) []byte {
	h := sha256.New()
	h.Write(networkKey)
	h.Write(nonce)
	h.Write(transportKey)
	return h.Sum(nil)
}

func reversed(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}
