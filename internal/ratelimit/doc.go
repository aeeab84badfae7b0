// Package ratelimit throttles login API callers per client address with an
// in-memory token bucket each.
//
// State is per process. It blunts a single address hammering credential
// endpoints and gives one log line and a counter per offender; it does not
// stop attacks spread across many addresses, which belong upstream.
package ratelimit
