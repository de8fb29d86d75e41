// Package client ties the protocol engine together: session
// establishment, the receive loop feeding decoded traffic into the unit
// registry and the switch state machine, and the outbound command
// surface. One Client drives one mesh connection at a time; reconnecting
// starts a fresh session generation, and events decoded under an old
// generation are never applied to the registry.
package client
