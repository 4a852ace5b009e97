// Package session owns the lifecycle of conversation sessions.
//
// A Store persists whole Session snapshots with optimistic versioning, so a
// turn either commits its complete result in one Put or writes nothing.
// KeyedLock serializes turns for one session id without a global lock, and
// Sweeper evicts idle sessions in the background.
//
// Stores hand out copies. Mutating a Session returned by Get has no effect
// until it is passed back to Put.
package session
