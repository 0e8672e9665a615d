// Package core defines the domain model shared by every stage of the
// technoshield pipeline.
//
// # Types
//
//   - RawRecord: an open field map as delivered by a collector
//   - Event: the canonical normalized record
//   - Alert: a candidate finding raised by a detector
//   - Severity, AlertCategory, AlertStatus, SourceType: closed value sets
//
// # Pipeline helpers
//
// Deduplicator is the pure reduction that merges alerts describing the same
// condition. Matcher isolates keyword matching so detectors do not depend on
// a particular matching strategy. Clock is injected wherever an instant is
// stamped.
//
// CircuitBreaker protects collectors from repeatedly polling a failing source.
package core
