// Package relay routes events between devices and dashboards.
//
// The Router is the orchestrator between transports and the in-memory
// components. Inbound device events arrive through HandleEvent, dashboard
// actions through Command and RequestCapture. Every notification is fanned
// out to all live channels except the originator; commands go to everyone.
//
// State changes are decided by the state.Reconciler. When a proposal changes
// the authoritative value, an audit entry is queued to a single background
// worker, so geolocation latency never delays the fan-out or the caller, and
// audit order always matches reconciler order. The queue grows as needed;
// every change is audited even when enrichment falls behind.
//
// Lifecycle:
//
//	router, err := relay.New(deps)
//	router.Start(ctx)
//	defer router.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package relay
