// Package core defines the domain model shared by the VigilantEye detection pipeline.
//
// # Architecture Overview
//
// The core package provides:
//   - Domain types (Event, Alert, Rule)
//   - IPv4 resolution helpers used by the correlator and the sensors
//   - A circuit breaker guarding calls to external collaborators
//
// # Design Principles
//
//  1. Interfaces defined where used (consumer package), not where implemented
//  2. Small, focused interfaces (1-3 methods ideal)
//  3. Accept interfaces, return concrete types
//  4. context.Context as first parameter for blocking operations
package core
