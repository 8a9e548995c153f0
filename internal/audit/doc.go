// Package audit records security-relevant actions.
//
// [Ledger] is the synchronous append path into the durable [Store]; it
// survives caller cancellation and never reports failure to the caller.
// [Dispatcher] fans stored entries out to [Sink] implementations (JSON lines,
// channels, message brokers) without blocking request paths.
//
// # What this package must NOT do
//
//   - Update or delete stored entries.
//   - Import the root authcore package.
package audit
