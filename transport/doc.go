// Package transport implements the stream, future and error-context state
// machine of the component model.
//
// A Store owns one transmit record per channel. Each record has a read side
// and a write side, and each side is open, holds a parked guest operation,
// holds a parked host operation, or is closed. Closed is absorbing.
//
// Guest operations (GuestWrite, GuestRead, ...) never block. They either
// complete against an operation parked on the opposite side, park and
// return Blocked, or return Closed. When a parked guest operation completes
// later, the store pushes a task.Event to the task that issued it.
//
// Host operations (HostWrite, HostRead) return a channel that receives one
// HostResult once the operation completes, is cancelled, or the opposite
// end closes.
//
// Payloads whose elements contain no pointers are copied byte for byte.
// Everything else is lifted and lowered element by element through the
// canon codec. Guest addresses are bounds-checked against the memory's
// size at the time the copy runs.
package transport
