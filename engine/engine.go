// Package engine sequences speech playback for pronunciation practice.
//
// The Orchestrator owns the single playback slot of a tts.Engine. Every
// operation preempts the session before it, runs asynchronously and reports
// its lifecycle on the returned Session.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/d1nch8g/boli/tts"
	"github.com/d1nch8g/boli/voice"
)

// Rate is a named speech speed preset.
type Rate string

const (
	RateSlow   Rate = "slow"
	RateNormal Rate = "normal"
)

// rates maps presets to engine rate multipliers.
var rates = map[Rate]float64{
	RateSlow:   0.5,
	RateNormal: 0.85,
}

// Pitch is passed unchanged with every utterance.
const Pitch = 1.0

const (
	DefaultPracticePause   = 800 * time.Millisecond
	DefaultSyllablePause   = 300 * time.Millisecond
	DefaultRepetitions     = 3
	DefaultDefaultVoiceTag = "ne-NP"
)

// ParseRate accepts "slow" or "normal".
func ParseRate(s string) (Rate, error) {
	r := Rate(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := rates[r]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidRate, s)
	}
	return r, nil
}

// Value returns the engine rate multiplier for r.
func (r Rate) Value() float64 {
	return rates[r]
}

// State of the playback slot. There is no paused state: stopping always
// cancels.
type State int

const (
	StateIdle State = iota
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// Orchestrator drives a tts.Engine through single utterances, pronunciation
// playback, practice runs and syllable sequences.
//
// Toggle behaviour ("second tap stops") and stopping on screen exit are the
// caller's job: the orchestrator only guarantees that a new operation
// preempts the previous one.
type Orchestrator struct {
	engine tts.Engine
	voices *voice.Service
	logger *log.Logger

	targetPrefix  string
	relatedPrefix string
	defaultTag    string

	practicePause time.Duration
	syllablePause time.Duration
	stepTimeout   time.Duration
	sleep         func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	gen     uint64
	current *Session
	cancel  context.CancelFunc

	// speakMu keeps two utterances from overlapping on the engine while a
	// preempted run is still unwinding.
	speakMu sync.Mutex
}

type Option func(*Orchestrator)

// WithLocales sets the voice resolution prefixes and the fallback tag.
func WithLocales(targetPrefix, relatedPrefix, defaultTag string) Option {
	return func(o *Orchestrator) {
		o.targetPrefix = targetPrefix
		o.relatedPrefix = relatedPrefix
		o.defaultTag = defaultTag
	}
}

func WithPracticePause(d time.Duration) Option {
	return func(o *Orchestrator) { o.practicePause = d }
}

func WithSyllablePause(d time.Duration) Option {
	return func(o *Orchestrator) { o.syllablePause = d }
}

// WithStepTimeout bounds every single utterance. Zero disables the bound and
// a hung engine then stalls the run until Stop.
func WithStepTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.stepTimeout = d }
}

// WithSleep replaces the pause implementation.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

func WithLogger(logger *log.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

func New(engine tts.Engine, voices *voice.Service, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		engine:        engine,
		voices:        voices,
		logger:        log.Default(),
		targetPrefix:  voice.DefaultTargetPrefix,
		relatedPrefix: voice.DefaultRelatedPrefix,
		defaultTag:    DefaultDefaultVoiceTag,
		practicePause: DefaultPracticePause,
		syllablePause: DefaultSyllablePause,
		sleep:         sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State reports whether a session currently owns the playback slot.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current != nil {
		return StateSpeaking
	}
	return StateIdle
}

// Current returns the active session, or nil when idle.
func (o *Orchestrator) Current() *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// Speak stops whatever is playing and speaks text at rate. It returns as soon
// as the utterance has been handed off; completion arrives on the session.
// ctx bounds the lifetime of the run.
func (o *Orchestrator) Speak(ctx context.Context, text string, rate Rate) (*Session, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if _, ok := rates[rate]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRate, rate)
	}

	s, runCtx := o.begin(ctx, KindSpeak, 2)
	go func() {
		err := o.utter(runCtx, s, 1, text, rate, func() {
			s.emit(Event{Type: EventStart})
		})
		o.complete(runCtx, s, err)
	}()

	return s, nil
}

// PronunciationText picks what to vocalise: the syllable form with "-"
// separators turned into pauses at slow rate, the plain word otherwise.
func PronunciationText(word, syllables string, rate Rate) string {
	if rate == RateSlow && strings.TrimSpace(syllables) != "" {
		return strings.Join(strings.FieldsFunc(syllables, func(r rune) bool {
			return r == '-' || r == ' '
		}), " ")
	}
	return word
}

// SpeakWithPronunciation is Speak with the text chosen by PronunciationText.
func (o *Orchestrator) SpeakWithPronunciation(ctx context.Context, word, syllables string, rate Rate) (*Session, error) {
	if _, ok := rates[rate]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRate, rate)
	}
	return o.Speak(ctx, PronunciationText(word, syllables, rate), rate)
}

// Practice speaks word repetitions times: the first at slow rate, the rest at
// normal rate, each followed by the practice pause. Progress is emitted
// before each utterance. The run aborts on the first engine error.
func (o *Orchestrator) Practice(ctx context.Context, word string, repetitions int) (*Session, error) {
	if strings.TrimSpace(word) == "" {
		return nil, ErrEmptyText
	}
	if repetitions < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidRepetitions, repetitions)
	}

	steps := make([]step, repetitions)
	for i := range steps {
		steps[i] = step{text: word, rate: RateNormal, pause: o.practicePause}
	}
	steps[0].rate = RateSlow

	return o.sequence(ctx, KindPractice, steps), nil
}

// SpeakSyllableSequence speaks each syllable at slow rate followed by the
// syllable pause, with the same abort-on-error policy as Practice.
func (o *Orchestrator) SpeakSyllableSequence(ctx context.Context, syllables []string) (*Session, error) {
	if len(syllables) == 0 {
		return nil, ErrNoSyllables
	}

	steps := make([]step, len(syllables))
	for i, syllable := range syllables {
		if strings.TrimSpace(syllable) == "" {
			return nil, fmt.Errorf("%w: syllable %d", ErrEmptyText, i+1)
		}
		steps[i] = step{text: syllable, rate: RateSlow, pause: o.syllablePause}
	}

	return o.sequence(ctx, KindSyllables, steps), nil
}

// Stop cancels the active session, if any, and tells the engine to stop
// unconditionally. Engine failures are logged and never returned.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	o.gen++
	cancel := o.cancel
	stopped := o.current
	o.current = nil
	o.cancel = nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stopped != nil {
		o.logger.Debug("stopping session", "session", stopped.ID())
	}
	o.stopEngine()
}

type step struct {
	text  string
	rate  Rate
	pause time.Duration
}

func (o *Orchestrator) sequence(ctx context.Context, kind Kind, steps []step) *Session {
	s, runCtx := o.begin(ctx, kind, len(steps)+2)

	go func() {
		s.emit(Event{Type: EventStart})

		for i, st := range steps {
			if !o.isCurrent(s.gen) {
				o.complete(runCtx, s, errSuperseded)
				return
			}

			s.emit(Event{Type: EventProgress, Current: i + 1, Total: len(steps)})

			if err := o.utter(runCtx, s, i+1, st.text, st.rate, nil); err != nil {
				o.complete(runCtx, s, err)
				return
			}
			if err := o.sleep(runCtx, st.pause); err != nil {
				o.complete(runCtx, s, err)
				return
			}
		}

		o.complete(runCtx, s, nil)
	}()

	return s
}

// begin claims the playback slot for a new session, preempting the old one.
func (o *Orchestrator) begin(ctx context.Context, kind Kind, capacity int) (*Session, context.Context) {
	runCtx, cancel := context.WithCancel(ctx)

	o.mu.Lock()
	o.gen++
	s := newSession(uuid.NewString(), kind, o.gen, capacity)
	prevCancel := o.cancel
	prev := o.current
	o.current = s
	o.cancel = cancel
	o.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
	}
	if prev != nil {
		o.logger.Debug("preempting session", "session", prev.ID(), "by", s.ID())
	}
	o.stopEngine()

	o.logger.Debug("session started", "session", s.ID(), "kind", kind)
	return s, runCtx
}

func (o *Orchestrator) isCurrent(gen uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.gen == gen
}

// release frees the slot if gen still owns it.
func (o *Orchestrator) release(gen uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.gen != gen {
		return false
	}
	if o.cancel != nil {
		o.cancel()
	}
	o.current = nil
	o.cancel = nil
	return true
}

// complete frees the slot and then emits the terminal event, so a caller
// that sees Done or Error can start the next session right away.
func (o *Orchestrator) complete(ctx context.Context, s *Session, err error) {
	ctxErr := ctx.Err()
	owned := o.release(s.gen)
	logger := o.logger.With("session", s.ID(), "kind", s.Kind())

	var ev Event
	switch {
	case !owned, errors.Is(err, errSuperseded), errors.Is(err, tts.ErrStopped), err != nil && ctxErr != nil:
		ev = Event{Type: EventCanceled}
		logger.Debug("session canceled")
	case err != nil:
		ev = Event{Type: EventError, Err: err}
		logger.Warn("session failed", "err", err)
	default:
		ev = Event{Type: EventDone}
		logger.Debug("session done")
	}

	s.finish(ev)
}

func (o *Orchestrator) utter(ctx context.Context, s *Session, stepNo int, text string, rate Rate, started func()) error {
	o.speakMu.Lock()
	defer o.speakMu.Unlock()

	if !o.isCurrent(s.gen) || ctx.Err() != nil {
		return errSuperseded
	}

	u := tts.Utterance{
		Text:     text,
		Language: o.voiceTag(),
		Pitch:    Pitch,
		Rate:     rate.Value(),
	}

	stepCtx := ctx
	if o.stepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, o.stepTimeout)
		defer cancel()
	}

	err := o.engine.Speak(stepCtx, u, started)
	if err == nil {
		return nil
	}

	if ctx.Err() == nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
		o.stopEngine()
		err = fmt.Errorf("%w after %s", ErrStepTimeout, o.stepTimeout)
	}

	return &SynthesisError{SessionID: s.ID(), Step: stepNo, Text: text, Err: err}
}

func (o *Orchestrator) voiceTag() string {
	if o.voices == nil {
		return o.defaultTag
	}
	return o.voices.ResolveVoiceTag(o.targetPrefix, o.relatedPrefix, o.defaultTag)
}

func (o *Orchestrator) stopEngine() {
	if err := o.engine.Stop(); err != nil {
		o.logger.Warn("engine stop failed", "err", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
