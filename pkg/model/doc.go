// Package model defines the state payloads pushed by the device and machine
// hubs.
//
// Payloads are complete snapshots. A newer payload replaces an older one
// for the same entity; fields are never merged.
package model
