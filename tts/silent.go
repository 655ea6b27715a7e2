package tts

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
)

// Silent is an engine without audio output. Each utterance only logs and
// waits for a duration proportional to its length, so sequencing behaves as
// it would with a real voice.
type Silent struct {
	voices  []Voice
	perRune time.Duration
	logger  *log.Logger

	mu     sync.Mutex
	stop   chan struct{}
	closed bool
}

var _ Engine = (*Silent)(nil)

func NewSilent(voices []Voice, perRune time.Duration, logger *log.Logger) *Silent {
	if voices == nil {
		voices = []Voice{
			{Language: "ne-NP", Identifier: "silent-ne", Name: "Silent Nepali"},
			{Language: "hi-IN", Identifier: "silent-hi", Name: "Silent Hindi"},
			{Language: "en-US", Identifier: "silent-en", Name: "Silent English"},
		}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Silent{voices: voices, perRune: perRune, logger: logger.WithPrefix("silent")}
}

func (s *Silent) Voices(_ context.Context) ([]Voice, error) {
	voices := make([]Voice, len(s.voices))
	copy(voices, s.voices)
	return voices, nil
}

func (s *Silent) Speak(ctx context.Context, u Utterance, started func()) error {
	if strings.TrimSpace(u.Text) == "" {
		return ErrEmptyText
	}

	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		return ErrEngineBusy
	}
	stop := make(chan struct{})
	s.stop = stop
	s.closed = false
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.stop = nil
		s.mu.Unlock()
	}()

	rate := u.Rate
	if rate <= 0 {
		rate = 1
	}
	d := time.Duration(float64(s.perRune) * float64(utf8.RuneCountInString(u.Text)) / rate)

	s.logger.Info("speak", "text", u.Text, "language", u.Language, "rate", u.Rate, "duration", d)
	if started != nil {
		started()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Silent) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop != nil && !s.closed {
		close(s.stop)
		s.closed = true
	}
	return nil
}

func (s *Silent) IsSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}
