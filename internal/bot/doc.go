// Package bot routes inbound chat events to the decision engine and the
// authoring wizard.
//
// The transport hands every event to one of three entry points: OnTextInput,
// OnAction or OnInlineSearch. Each runs the flood guard and upserts the user
// before dispatch. Action tokens are parsed against a strict allow-list at
// the boundary; free-form tokens never reach a handler.
package bot
