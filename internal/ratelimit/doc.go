// Package ratelimit implements the per-session sliding-window message limiter.
//
// A key may send at most Limit messages inside any Window. Allow records the
// current time only when it admits the message, so rejected calls never
// extend the window. Memory keeps windows in process; Redis keeps them in a
// sorted set per key so every instance shares one view.
package ratelimit
