// Package crypto implements the cryptographic primitives of the mesh
// session layer: the ephemeral P-256 key exchange used to derive a
// per-session transport key, authenticated packet encryption built from an
// AES-128 keystream with an AES-CMAC tag, and the key store holding the
// long-term network credentials.
//
// The packet cipher leaves the first four bytes of every packet clear.
// That header carries the packet counter, which the receiver needs in
// order to reconstruct the nonce before it can decrypt.
//
// Nothing in this package tracks session state. Counters, nonces and
// replay ordering belong to the session layer; this package only answers
// "seal this packet" and "open and verify this packet".
package crypto
