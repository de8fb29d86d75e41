// Package protocol implements the wire format of the mesh: cutting a
// decrypted radio payload into sub-messages, decoding them into typed
// domain messages, and building outbound command frames.
//
// A radio packet is a concatenation of self-describing sub-messages. Each
// starts with a three-byte header: type, flags, and a byte whose high
// nibble encodes the payload length minus one and whose low nibble is a
// type-dependent parameter. Extended switch events additionally own the
// three bytes that follow their payload; Split attaches those as the
// message's extension so they are never misread as the next header.
//
// Decoding is total: known types produce typed messages, malformed ones
// produce a non-fatal Anomaly, and unknown types are preserved verbatim
// as OpaqueMessage so newer firmware cannot silently lose data here.
package protocol
