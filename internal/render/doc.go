// Package render builds the bot's user-facing text and action lists.
// Everything is produced as markdown; ToHTML upgrades it for transports that
// accept formatted messages.
package render
