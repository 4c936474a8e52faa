// Package sync runs one synchronization cycle: fetch the remote ranking,
// normalize every entry and replace the stored snapshot.
//
// # Core Types
//
//   - Runner: executes a single cycle and reports its outcome
//   - Result: outcome of a successful cycle
//   - CycleError: failure of a cycle, tagged with the stage that failed
//
// A cycle never retries and never panics. When the fetch fails the store is
// not touched. Scheduling cycles on an interval is the job of the poller
// subpackage.
package sync
