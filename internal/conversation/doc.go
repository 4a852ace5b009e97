// Package conversation runs the lead-capture state machine.
//
// Every inbound message goes through the same pipeline:
//
//	RateLimiter.Allow -> KeyedLock.Acquire -> Store.Get -> Extractor.Extract
//	-> merge + completion check -> Store.Put -> release -> response
//
// A turn commits at most once. Faults after the session is loaded are
// caught at the Engine boundary: the session moves to the error state with
// a snapshot of its last good data, and the caller gets a system_error
// response. The next well-formed message recovers it.
//
// When a turn completes the flow, the lead is archived and a notification
// is handed to the dispatcher after the commit, so a session is notified
// exactly once.
//
// # States
//
//	active -> active | completed | error
//	error  -> active (recovery) | error
//	any    -> expired (sweeper, absorbing)
package conversation
