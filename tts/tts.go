package tts

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/text/language"
)

var (
	// ErrEngineBusy is returned when Speak is called while another utterance is active.
	ErrEngineBusy = errors.New("engine is already speaking")
	// ErrStopped is returned by Speak when the utterance was cut short by Stop.
	ErrStopped = errors.New("utterance stopped")
	// ErrEmptyText is returned when Speak is called with blank text.
	ErrEmptyText = errors.New("empty text for synthesis")
)

// Voice describes one synthesis voice reported by an engine
type Voice struct {
	Language   string // BCP 47 tag, e.g. "ne-NP"
	Identifier string // engine-specific voice id, may be empty
	Name       string
}

// Utterance is a single request handed to an engine
type Utterance struct {
	Text     string
	Language string
	Pitch    float64 // 1.0 is the engine default
	Rate     float64 // 1.0 is the engine default
}

// VoiceLister enumerates the voices an engine can render
type VoiceLister interface {
	Voices(ctx context.Context) ([]Voice, error)
}

// Engine is the platform text-to-speech contract consumed by the orchestrator.
//
// Speak blocks until the utterance finishes, fails or is stopped. started is
// called once, when the engine begins producing audio. Only one utterance may
// be active at a time.
type Engine interface {
	VoiceLister
	Speak(ctx context.Context, u Utterance, started func()) error
	Stop() error
	IsSpeaking() bool
}

// NormalizeTag converts platform locale spellings ("ne_NP", "hi-in") to BCP 47.
func NormalizeTag(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return strings.ReplaceAll(raw, "_", "-")
	}
	return tag.String()
}
