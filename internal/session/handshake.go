package session

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"casambi-go/internal/crypto"
	"casambi-go/internal/logging"
	"casambi-go/internal/transport"
)

// Supported mesh protocol versions. Networks below the minimum use a
// legacy handshake this implementation does not speak. Networks above the
// maximum get a warning but the handshake is attempted anyway.
const (
	MinProtocolVersion = 10
	MaxProtocolVersion = 10
)

// Handshake wire constants.
const (
	sessionParamsType = 0x01
	keyExchangeType   = 0x02
	keyExchangeAck    = 0x03
	authPacketType    = 0x04

	// Session parameters: type, version, mtu, unit, flags, nonce.
	sessionParamsLen = 2 + 1 + 2 + 2 + crypto.NonceSize

	// Key exchange: type plus two curve coordinates.
	keyExchangeLen = 1 + 2*crypto.CoordSize

	authCounter = 1
)

// Config carries the credentials and expectations for one handshake.
type Config struct {
	// Key is the network credential to authenticate with. Nil skips
	// authentication; open networks accept sessions after key exchange.
	Key *crypto.Key

	// ProtocolVersion is the version the network configuration reports.
	ProtocolVersion int
}

// Establish runs the full session handshake over t: read the session
// parameters, complete the ECDH key exchange the device initiates, and
// prove possession of the network key. The context bounds the whole
// handshake; a deadline expiry is reported as ErrHandshakeTimeout.
func Establish(ctx context.Context, t transport.Transport, cfg Config) (*Session, error) {
	if cfg.ProtocolVersion < MinProtocolVersion {
		return nil, fmt.Errorf("%w: network version %d, minimum %d",
			ErrUnsupportedVersion, cfg.ProtocolVersion, MinProtocolVersion)
	}
	if cfg.ProtocolVersion > MaxProtocolVersion {
		logging.Warn("Network protocol version newer than supported, continuing",
			zap.Int("version", cfg.ProtocolVersion),
			zap.Int("supported", MaxProtocolVersion))
	}

	s, err := establish(ctx, t, cfg)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrHandshakeTimeout, err)
		}
		return nil, err
	}
	return s, nil
}

func establish(ctx context.Context, t transport.Transport, cfg Config) (*Session, error) {
	// The device answers the first characteristic read with its session
	// parameters and then initiates the key exchange by notification.
	params, err := t.ReadCharacteristic(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: read session parameters: %w", err)
	}
	if len(params) < sessionParamsLen {
		return nil, fmt.Errorf("%w: session parameters of %d bytes", ErrMalformedResponse, len(params))
	}
	if params[0] != sessionParamsType || int(params[1]) != cfg.ProtocolVersion {
		logging.Warn("Unexpected session parameter header, continuing",
			zap.Uint8("type", params[0]),
			zap.Uint8("version", params[1]))
	}

	s := &Session{
		transport:  t,
		mtu:        int(params[2]),
		unitID:     binary.BigEndian.Uint16(params[3:5]),
		flags:      binary.BigEndian.Uint16(params[5:7]),
		outCounter: firstOutCounter,
		inCounter:  firstInCounter,
	}
	copy(s.nonce[:], params[7:7+crypto.NonceSize])
	logging.Debug("Parsed session parameters",
		zap.Int("mtu", s.mtu),
		zap.Uint16("unit", s.unitID),
		zap.Uint16("flags", s.flags))

	transportKey, err := exchangeKeys(ctx, t)
	if err != nil {
		return nil, err
	}

	s.enc, err = crypto.NewEncryptor(transportKey)
	if err != nil {
		return nil, fmt.Errorf("session: init packet cipher: %w", err)
	}

	if cfg.Key != nil {
		if err := authenticate(ctx, t, s, cfg.Key, transportKey); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// exchangeKeys completes the device-initiated ECDH exchange and returns
// the derived transport key.
func exchangeKeys(ctx context.Context, t transport.Transport) ([]byte, error) {
	offer, err := t.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: read key exchange offer: %w", err)
	}
	if len(offer) != keyExchangeLen || offer[0] != keyExchangeType {
		return nil, fmt.Errorf("%w: key exchange offer %d bytes type 0x%02x",
			ErrMalformedResponse, len(offer), offer[0])
	}

	exch, err := crypto.NewKeyExchange()
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	transportKey, err := exch.DeriveTransportKey(
		offer[1:1+crypto.CoordSize],
		offer[1+crypto.CoordSize:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	pubX, pubY := exch.PublicKeyWire()
	reply := make([]byte, 0, keyExchangeLen+1)
	reply = append(reply, keyExchangeType)
	reply = append(reply, pubX...)
	reply = append(reply, pubY...)
	reply = append(reply, 0x01)
	if err := t.Write(ctx, reply); err != nil {
		return nil, fmt.Errorf("session: write key exchange reply: %w", err)
	}

	ack, err := t.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: read key exchange ack: %w", err)
	}
	if len(ack) != 1 || ack[0] != keyExchangeAck {
		return nil, fmt.Errorf("%w: key exchange ack %x", ErrMalformedResponse, ack)
	}

	logging.Debug("Key exchange complete")
	return transportKey, nil
}

// authenticate proves key possession with the auth digest. Both directions
// consume packet counter 1.
func authenticate(ctx context.Context, t transport.Transport, s *Session, key *crypto.Key, transportKey []byte) error {
	digest := crypto.AuthDigest(key.Key, s.nonce[:], transportKey)

	packet := make([]byte, 0, crypto.HeaderLen+2+len(digest))
	packet = binary.LittleEndian.AppendUint32(packet, authCounter)
	packet = append(packet, authPacketType, byte(key.ID))
	packet = append(packet, digest...)

	sealed, err := s.enc.EncryptThenMAC(packet, s.outNonce(authCounter))
	if err != nil {
		return fmt.Errorf("session: seal auth packet: %w", err)
	}
	if err := t.Write(ctx, sealed); err != nil {
		return fmt.Errorf("session: write auth packet: %w", err)
	}

	resp, err := t.Read(ctx)
	if err != nil {
		return fmt.Errorf("session: read auth response: %w", err)
	}
	if len(resp) < crypto.HeaderLen+crypto.TagSize {
		return fmt.Errorf("%w: auth response of %d bytes", ErrMalformedResponse, len(resp))
	}
	if _, err := s.enc.DecryptAndVerify(resp, s.inNonce(resp[:crypto.HeaderLen])); err != nil {
		return fmt.Errorf("%w: auth response not verifiable", ErrAuthRejected)
	}
	s.inCounter = binary.LittleEndian.Uint32(resp[:crypto.HeaderLen]) + 1

	logging.Info("Session authenticated",
		zap.Int("keyID", key.ID),
		zap.Int("role", key.Role))
	return nil
}
