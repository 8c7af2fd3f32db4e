// Package waitable provides the per-instance handle table for stream,
// future and error-context ends.
//
// Guest code refers to channel ends through small integer handles. Each
// handle maps to an Entry holding the channel's rep (its id in the store's
// transmit table), the payload type index and a State:
//
//	Local  newly created by stream.new/future.new, both ends held
//	Read   the instance holds the readable end
//	Write  the instance holds the writable end
//	Busy   a read or write on this handle is in flight
//
// Handle 0 is reserved and always invalid. Freed slots are reused.
//
// Error-context handles carry a local reference count instead of a State,
// and an instance holds at most one handle per error-context rep.
//
// A Table is not safe for concurrent use; the owning transport.Store
// serializes access.
package waitable
