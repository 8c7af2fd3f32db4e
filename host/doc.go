// Package host provides typed handles for host code that exchanges values
// with guests over streams and futures.
//
// NewStream and NewFuture return a writer and reader pair. Either end can be
// handed to a guest instance with LowerToIndex, and ends created by a guest
// are adopted with the Lift functions. Write and Read return a Promise that
// resolves once the opposite party has taken part in the transfer.
//
// An end that is dropped without Close leaves the opposite party's pending
// operation pending forever. Always close ends you no longer need.
package host
