// Package runner admits and supervises council runs.
//
// The Runner sits between transports (the WebSocket server, the library
// facade) and the council controller. It enforces the concurrent run limit,
// applies an overall run deadline, keeps a cancel handle per run and relays
// each run's event stream, logging a summary when the run ends.
//
// # Responsibilities
//   - Admission control (ErrBusy when the limit is reached)
//   - Cancellation by run id
//   - Event relay with a per-run completion log line
package runner
