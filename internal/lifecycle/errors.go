// Package lifecycle defines the shared failure taxonomy of the document
// state machines. Transition functions return these sentinels and never
// partially mutate a document: the full next snapshot is computed before
// anything is written.
package lifecycle

import "errors"

var (
	// ErrInvalidState rejects a transition not permitted from the current state.
	ErrInvalidState = errors.New("invalid_state")
	// ErrExpired rejects operations on an elapsed validity window.
	ErrExpired = errors.New("expired")
	// ErrAlreadyTerminal rejects transitions out of a terminal state.
	ErrAlreadyTerminal = errors.New("already_terminal")
)
