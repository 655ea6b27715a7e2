package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyText indicates a blank word, text or syllable.
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrInvalidRate indicates a rate other than slow or normal.
	ErrInvalidRate = errors.New("rate must be slow or normal")
	// ErrInvalidRepetitions indicates a practice run with fewer than one repetition.
	ErrInvalidRepetitions = errors.New("repetitions must be at least 1")
	// ErrNoSyllables indicates an empty syllable sequence.
	ErrNoSyllables = errors.New("syllable sequence cannot be empty")
	// ErrStepTimeout indicates an utterance that outlived the configured step timeout.
	ErrStepTimeout = errors.New("utterance timed out")

	errSuperseded = errors.New("session superseded")
)

// SynthesisError reports an engine failure on one step of a session.
type SynthesisError struct {
	SessionID string
	Step      int // one-based
	Text      string
	Err       error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("session %s step %d (%q): %v", e.SessionID, e.Step, e.Text, e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}
