// Package session drives one speech module the way a practice screen does:
// the sound gate, tap-again-to-stop toggles and stopping on navigation.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/d1nch8g/boli/content"
	"github.com/d1nch8g/boli/engine"
	"github.com/d1nch8g/boli/prefs"
)

var (
	// ErrSoundDisabled is the notice shown instead of playing when sound is off.
	ErrSoundDisabled = errors.New("sound is disabled, enable it in settings")
	ErrNoExercises   = errors.New("module has no exercises")
)

// Player is the part of engine.Orchestrator the controller uses.
type Player interface {
	SpeakWithPronunciation(ctx context.Context, word, syllables string, rate engine.Rate) (*engine.Session, error)
	Practice(ctx context.Context, word string, repetitions int) (*engine.Session, error)
	SpeakSyllableSequence(ctx context.Context, syllables []string) (*engine.Session, error)
	Stop()
}

// Progress mirrors the practice counter; zero when no practice runs.
type Progress struct {
	Current int
	Total   int
}

type Controller struct {
	player      Player
	prefs       *prefs.Preferences
	module      *content.Module
	repetitions int
	logger      *log.Logger

	mu         sync.Mutex
	index      int
	completed  map[string]bool
	playing    *engine.Session
	practicing *engine.Session
	progress   Progress
	speed      engine.Rate
}

type Option func(*Controller)

func WithRepetitions(n int) Option {
	return func(c *Controller) { c.repetitions = n }
}

func WithLogger(logger *log.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

func New(player Player, p *prefs.Preferences, module *content.Module, opts ...Option) (*Controller, error) {
	if len(module.Exercises) == 0 {
		return nil, ErrNoExercises
	}

	c := &Controller{
		player:      player,
		prefs:       p,
		module:      module,
		repetitions: engine.DefaultRepetitions,
		logger:      log.Default(),
		completed:   make(map[string]bool),
		speed:       engine.RateSlow,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("module", module.ID)
	return c, nil
}

func (c *Controller) Module() *content.Module { return c.module }

// Exercise returns the exercise on screen.
func (c *Controller) Exercise() content.Exercise {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.module.Exercises[c.index]
}

func (c *Controller) Index() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}

func (c *Controller) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing != nil
}

func (c *Controller) IsPracticing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.practicing != nil
}

func (c *Controller) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// Speed is the rate last chosen for PlayExercise.
func (c *Controller) Speed() engine.Rate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// PlayExercise speaks the current exercise at rate. Tapping while anything
// plays stops playback instead and returns a nil session.
func (c *Controller) PlayExercise(ctx context.Context, rate engine.Rate) (*engine.Session, error) {
	if !c.prefs.SoundEnabled() {
		return nil, ErrSoundDisabled
	}

	c.mu.Lock()
	if c.playing != nil || c.practicing != nil {
		c.resetLocked()
		c.mu.Unlock()
		c.player.Stop()
		return nil, nil
	}
	exercise := c.module.Exercises[c.index]
	c.mu.Unlock()

	s, err := c.player.SpeakWithPronunciation(ctx, exercise.Nepali, exercise.Pronunciation, rate)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.speed = rate
	c.playing = s
	c.mu.Unlock()

	go c.watch(s)
	return s, nil
}

// PlaySyllables speaks the syllables of the current exercise one by one with
// the same toggle as PlayExercise.
func (c *Controller) PlaySyllables(ctx context.Context) (*engine.Session, error) {
	if !c.prefs.SoundEnabled() {
		return nil, ErrSoundDisabled
	}

	c.mu.Lock()
	if c.playing != nil || c.practicing != nil {
		c.resetLocked()
		c.mu.Unlock()
		c.player.Stop()
		return nil, nil
	}
	exercise := c.module.Exercises[c.index]
	c.mu.Unlock()

	s, err := c.player.SpeakSyllableSequence(ctx, exercise.Syllables())
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.playing = s
	c.mu.Unlock()

	go c.watch(s)
	return s, nil
}

// PracticeExercise starts a practice run of the current word. Tapping while a
// practice runs stops it; a plain playback is preempted instead.
func (c *Controller) PracticeExercise(ctx context.Context) (*engine.Session, error) {
	if !c.prefs.SoundEnabled() {
		return nil, ErrSoundDisabled
	}

	c.mu.Lock()
	if c.practicing != nil {
		c.resetLocked()
		c.mu.Unlock()
		c.player.Stop()
		return nil, nil
	}
	exercise := c.module.Exercises[c.index]
	c.mu.Unlock()

	s, err := c.player.Practice(ctx, exercise.Nepali, c.repetitions)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.playing = nil
	c.practicing = s
	c.progress = Progress{}
	c.mu.Unlock()

	go c.watch(s)
	return s, nil
}

func (c *Controller) Next() {
	c.navigate(func(i, n int) int {
		if i < n-1 {
			return i + 1
		}
		return i
	})
}

func (c *Controller) Previous() {
	c.navigate(func(i, _ int) int {
		if i > 0 {
			return i - 1
		}
		return i
	})
}

// Select jumps to exercise i; out of range indexes are ignored.
func (c *Controller) Select(i int) {
	c.navigate(func(cur, n int) int {
		if i < 0 || i >= n {
			return cur
		}
		return i
	})
}

// Complete marks the current exercise done and advances.
func (c *Controller) Complete() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.completed[c.module.Exercises[c.index].ID] = true
	if c.index < len(c.module.Exercises)-1 {
		c.index++
	}
}

func (c *Controller) IsCompleted(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed[id]
}

func (c *Controller) CompletedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.completed)
}

// Close stops playback when the screen goes away.
func (c *Controller) Close() {
	c.mu.Lock()
	c.resetLocked()
	c.mu.Unlock()
	c.player.Stop()
}

func (c *Controller) navigate(move func(index, count int) int) {
	c.mu.Lock()
	c.resetLocked()
	c.index = move(c.index, len(c.module.Exercises))
	c.mu.Unlock()

	c.player.Stop()
}

func (c *Controller) resetLocked() {
	c.playing = nil
	c.practicing = nil
	c.progress = Progress{}
}

// watch drains s and clears the flags it owns once it ends.
func (c *Controller) watch(s *engine.Session) {
	for ev := range s.Events() {
		c.mu.Lock()
		switch {
		case ev.Type == engine.EventProgress && c.practicing == s:
			c.progress = Progress{Current: ev.Current, Total: ev.Total}
		case ev.Type.Terminal():
			if c.playing == s {
				c.playing = nil
			}
			if c.practicing == s {
				c.practicing = nil
				c.progress = Progress{}
			}
		}
		c.mu.Unlock()

		if ev.Type == engine.EventError {
			c.logger.Warn("playback failed", "session", s.ID(), "err", ev.Err)
		}
	}
}
