// Package rate implements fixed-window rate limiting over an atomic
// increment-or-reset counter.
//
// # Window semantics
//
// Each key holds (count, resetAt). A hit at or after resetAt restarts the
// window with count 1; otherwise count increments. The transition runs as a
// single Lua script on Redis or under one mutex in memory, so concurrent
// callers can never observe a check-then-act gap.
//
// Keys are "<class>:<actor>", stored under "<prefix>:rl:".
package rate
