// Package state provides a lightweight FSM/session manager for Telegram bots.
// It is domain-agnostic: a session carries a state name and an opaque value.
package state
