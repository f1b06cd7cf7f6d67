// Package connection owns the single hub connection for one endpoint.
//
// A Manager is constructed once per hub endpoint and shared by reference.
// It handles:
//   - Lazy start with one shared in-flight attempt
//   - Connection state tracking and change notification
//   - Invocation forwarding with a bounded acknowledgment timeout
//   - Delivery of server pushes to a single registered handler
//   - Automatic, unbounded reconnection with exponential backoff
//
// # States
//
//	DISCONNECTED -> CONNECTING -> CONNECTED
//	CONNECTED -> RECONNECTING -> CONNECTED
//	any -> DISCONNECTED on Stop
//
// FAILED is only reachable when a MaxAttempts limit is configured.
//
// # Reconnection Strategy
//
// When the transport drops, the manager retries with exponential backoff:
//
//  1. Initial delay: 1 second
//  2. Exponential increase: 2s, 4s, 8s, 16s
//  3. Maximum delay: 30 seconds
//  4. Continue at 30s until successful or stopped
//  5. Reset to 1s on successful reconnection
//
// Jitter of up to 25% is added to each delay so that many dashboards do not
// reconnect in lockstep after a hub restart.
package connection
