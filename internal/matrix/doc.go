// Package matrix is the transport frontend: it runs the homeserver sync loop,
// feeds messages into the bot handlers and sends replies back, degrading from
// formatted HTML to plain text when the homeserver rejects rich content.
package matrix
