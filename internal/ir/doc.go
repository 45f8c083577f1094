// Package ir provides the value types shared by every eresion component.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Events and window snapshots are immutable once handed to a component
//   - Time is stream time (offset from the stream epoch), never wall clock
//   - Relation kinds, scales, tiers and motif states are closed enums
//   - Motif signatures use RFC 8785 canonical JSON and SHA-256 with
//     domain separation, so they are stable across runs and processes
package ir
