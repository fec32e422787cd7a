// Package connection implements the resilient messaging client.
//
// A Client owns exactly one transport connection at a time and is made of
// three cooperating parts:
//   - the connection manager: Idle -> Connecting -> Connected state machine
//     with constant-interval, bounded reconnection
//   - the dispatch registry: decodes inbound frames and fans them out to
//     every subscriber, isolating handler failures
//   - the send gate: outbound writes only while Connected, ErrNotConnected
//     otherwise (nothing is buffered across disconnects)
//
// Decode and handler failures never interrupt the data flow; they are
// logged, counted in Stats and reported to the Observer.
package connection
