// Package state holds the relay's single authoritative belief about the
// controlled LED output.
//
// The Reconciler is the only place that decides whether an update changed
// anything. Callers must use the changed flag returned by Propose rather than
// comparing values themselves, otherwise two concurrent updates can both
// believe they caused the transition.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package state
