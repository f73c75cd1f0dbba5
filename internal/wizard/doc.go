// Package wizard implements the per-user conversational state machine behind
// poll and template authoring.
//
// All wizard state is persisted in the session store, one row per user, so a
// restart resumes mid-flow conversations. Each text input advances the machine
// by at most one transition; invalid input re-prompts without changing state.
// Terminal transitions commit their result (a poll or a template) and clear
// the session.
package wizard
