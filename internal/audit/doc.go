// Package audit keeps the rolling log of LED state changes.
//
// The log is held in memory only and is capacity bounded: once full, every
// append evicts the oldest entry. Events are immutable once appended and are
// listed most-recent-first.
//
// Dashboard-sourced events are enriched with a best-effort location resolved
// from the client address and with a coarse classification of the client's
// user agent. Device-sourced events carry only the device identifier.
//
// Observers registered with AddObserver are invoked after every append and
// are used to mirror events to MQTT and InfluxDB.
package audit
