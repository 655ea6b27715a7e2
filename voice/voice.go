// Package voice decides, once per initialization, which synthesis voice the
// platform can use for the practice language.
package voice

import (
	"context"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/d1nch8g/boli/tts"
)

const (
	DefaultTargetPrefix  = "ne"
	DefaultRelatedPrefix = "hi"
)

// Service caches the enumerated voice list and the derived availability flag.
type Service struct {
	lister  tts.VoiceLister
	target  string
	related string
	logger  *log.Logger

	mu        sync.RWMutex
	voices    []tts.Voice
	ready     bool
	available bool
}

type Option func(*Service)

// WithLanguages sets the target and related locale prefixes used for the
// availability check.
func WithLanguages(target, related string) Option {
	return func(s *Service) {
		s.target = target
		s.related = related
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(lister tts.VoiceLister, opts ...Option) *Service {
	s := &Service{
		lister:  lister,
		target:  DefaultTargetPrefix,
		related: DefaultRelatedPrefix,
		logger:  log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize enumerates the platform voices. It runs the enumeration on every
// call; the last completed call populates the cache. Enumeration failure marks
// the target language unavailable and is not returned.
func (s *Service) Initialize(ctx context.Context) {
	voices, err := s.lister.Voices(ctx)
	if err != nil {
		s.logger.Warn("voice enumeration failed, target language unavailable", "err", err)

		s.mu.Lock()
		s.available = false
		s.mu.Unlock()
		return
	}

	normalized := make([]tts.Voice, len(voices))
	for i, v := range voices {
		v.Language = tts.NormalizeTag(v.Language)
		normalized[i] = v
	}

	available := firstInFamily(normalized, s.target) != nil || firstInFamily(normalized, s.related) != nil

	s.mu.Lock()
	s.voices = normalized
	s.available = available
	s.ready = true
	s.mu.Unlock()

	s.logger.Info("voices initialized", "count", len(normalized), "target", s.target, "available", available)
}

// IsReady reports whether an Initialize call has succeeded.
func (s *Service) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// IsTargetLanguageAvailable reports whether the target language, or its related
// fallback, has a voice. It is false until Initialize succeeds.
func (s *Service) IsTargetLanguageAvailable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready && s.available
}

// Voices returns a copy of the cached voice list.
func (s *Service) Voices() []tts.Voice {
	s.mu.RLock()
	defer s.mu.RUnlock()

	voices := make([]tts.Voice, len(s.voices))
	copy(voices, s.voices)
	return voices
}

// ResolveVoiceTag returns the language tag of the first cached voice in the
// target family, else the first in the related family, else defaultTag.
// Ties are broken by enumeration order.
func (s *Service) ResolveVoiceTag(targetPrefix, relatedPrefix, defaultTag string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v := firstInFamily(s.voices, targetPrefix); v != nil {
		return v.Language
	}
	if v := firstInFamily(s.voices, relatedPrefix); v != nil {
		return v.Language
	}
	return defaultTag
}

func firstInFamily(voices []tts.Voice, prefix string) *tts.Voice {
	if prefix == "" {
		return nil
	}
	for i := range voices {
		if inFamily(voices[i].Language, prefix) {
			return &voices[i]
		}
	}
	return nil
}

// inFamily matches whole subtags only: "ne" covers "ne" and "ne-NP" but not "new".
func inFamily(tag, prefix string) bool {
	tag = strings.ToLower(tag)
	prefix = strings.ToLower(tts.NormalizeTag(prefix))
	return tag == prefix || strings.HasPrefix(tag, prefix+"-")
}
