// Package notify delivers completed-lead notifications off the request path.
//
// Dispatch enqueues a Payload on a bounded queue and returns at once. Worker
// goroutines send it through a Sink, retrying with capped exponential
// backoff. A process-wide Breaker stops calling a failing sink: after
// Threshold consecutive failures inside Window it opens, fails fast for
// Cooldown, then lets a single trial call decide whether to close again.
//
// A notification that exhausts its attempts is marked failed, logged,
// counted, handed to the FailureRecorder and published on Failures(). It
// never affects the session that produced it.
package notify
