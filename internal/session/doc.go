// Package session establishes and maintains the encrypted channel to a
// mesh device.
//
// A session starts with a three-step handshake over the auth
// characteristic: the device publishes its session parameters (MTU, unit
// number, capability flags and a 16-byte nonce), initiates an ephemeral
// P-256 key exchange, and finally verifies an authentication digest that
// proves the client holds a network key. After that every frame in either
// direction is sealed with the derived transport key.
//
// Each direction keeps its own packet counter. Outgoing packets start at
// counter 2, incoming at 1; counter 1 is spent on authentication. Receive
// enforces counter monotonicity so replayed frames are dropped, and a
// failed authentication tag drops exactly one packet without ending the
// session. Transport failures are terminal and surface as
// ErrSessionClosed.
package session
