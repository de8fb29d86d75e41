// Package registry holds the live in-memory model of a mesh network: its
// units, groups and scenes. The registry is the single writer of unit
// state; decoded state reports are applied here and nowhere else, and
// every mutation follows mutate-then-notify so listeners and readers only
// ever see complete updates.
package registry
