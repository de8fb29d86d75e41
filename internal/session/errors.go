package session

import "errors"

// Handshake failures. These are terminal for the connection attempt; the
// caller may retry with a fresh transport.
var (
	// ErrHandshakeTimeout indicates the device did not answer a handshake
	// step before the deadline.
	ErrHandshakeTimeout = errors.New("session: handshake timed out")

	// ErrAuthRejected indicates the device refused the authentication
	// digest, usually because the network key is wrong.
	ErrAuthRejected = errors.New("session: device rejected authentication")

	// ErrMalformedResponse indicates a handshake message that does not
	// match the expected shape.
	ErrMalformedResponse = errors.New("session: malformed handshake response")

	// ErrUnsupportedVersion indicates the network speaks a protocol
	// version older than this implementation supports.
	ErrUnsupportedVersion = errors.New("session: unsupported protocol version")
)

// Established-session failures.
var (
	// ErrIntegrityFailure indicates a packet whose authentication tag did
	// not verify. The packet is dropped; the session stays usable.
	ErrIntegrityFailure = errors.New("session: packet failed integrity check")

	// ErrReplay indicates a packet counter at or below one already seen.
	// The packet is dropped; the session stays usable.
	ErrReplay = errors.New("session: replayed packet counter")

	// ErrSessionClosed is terminal. Every operation on a closed session
	// fails with it; recovery requires a new handshake.
	ErrSessionClosed = errors.New("session: session closed")
)

// Recoverable reports whether a receive error allows the session to keep
// running. Integrity and replay failures drop a single packet; everything
// else ends the session.
func Recoverable(err error) bool {
	return errors.Is(err, ErrIntegrityFailure) || errors.Is(err, ErrReplay)
}
