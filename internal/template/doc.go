// Package template extracts and substitutes {name} variables in poll
// questions and options, preserving the [name] fallback for values that were
// never supplied.
package template
