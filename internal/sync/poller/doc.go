// Package poller drives sync cycles on a fixed interval.
//
// The poller runs a cycle as soon as it starts, then waits for the interval
// and repeats. A failed cycle is logged and the loop carries on. Cancellation
// is observed before each cycle and during the wait, never in the middle of
// a cycle: an in-flight fetch and replace always run to completion.
//
//	p := poller.New(runner, poller.WithInterval(time.Minute))
//	go func() { _ = p.Start(ctx) }()
//	...
//	_ = p.Stop()
package poller
