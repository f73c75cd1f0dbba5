// Package decision owns the poll lifecycle: creation with voting-type
// classification, vote recording, cap enforcement and the threshold rules
// that turn tallies into accepted or rejected decisions.
//
// A decision is monotone-stable: once a poll leaves pending, its status and
// its assigned decision number never change, regardless of later votes or
// recomputation. The engine always recomputes pending polls from the current
// vote rows and never caches mutable tallies in memory.
package decision
