// Package transport abstracts the link carrying session frames to a mesh
// device. The engine only ever needs three operations against the device's
// auth characteristic: write a frame, wait for the next notification, and
// perform a direct read. Everything above this package is byte-oriented
// and does not care whether the link is a local radio, an ESPHome
// bluetooth proxy reached over a websocket, or an in-memory pipe in tests.
package transport
