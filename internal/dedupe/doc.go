// Package dedupe provides duplicate-question suppression using a time-based
// cache so the same creator cannot re-post an identical poll question within
// a configurable window.
package dedupe
