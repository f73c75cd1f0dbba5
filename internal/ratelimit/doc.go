// Package ratelimit provides the per-user sliding-window request limiter and
// the stricter short-window flood guard consulted on every inbound event.
package ratelimit
