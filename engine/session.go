package engine

import (
	"context"
	"fmt"
	"sync"
)

// EventType identifies a lifecycle event of a playback session.
type EventType int

const (
	// EventStart is emitted once when a session begins producing speech.
	EventStart EventType = iota
	// EventProgress is emitted before each step of a multi-step run.
	EventProgress
	// EventDone is the terminal event of a run that completed every step.
	EventDone
	// EventError is the terminal event of a run aborted by an engine failure.
	EventError
	// EventCanceled is the terminal event of a run that was stopped or preempted.
	EventCanceled
)

func (t EventType) String() string {
	switch t {
	case EventStart:
		return "start"
	case EventProgress:
		return "progress"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	case EventCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further events follow t.
func (t EventType) Terminal() bool {
	return t == EventDone || t == EventError || t == EventCanceled
}

// Event is one lifecycle notification. Current and Total are set for
// EventProgress (Current is one-based), Err for EventError.
type Event struct {
	Type    EventType
	Current int
	Total   int
	Err     error
}

func (e Event) String() string {
	switch e.Type {
	case EventProgress:
		return fmt.Sprintf("progress(%d/%d)", e.Current, e.Total)
	case EventError:
		return fmt.Sprintf("error(%v)", e.Err)
	default:
		return e.Type.String()
	}
}

// Kind names the operation that created a session.
type Kind string

const (
	KindSpeak     Kind = "speak"
	KindPractice  Kind = "practice"
	KindSyllables Kind = "syllables"
)

// Session is the handle of one playback operation. Its event channel is
// buffered for every event the run can produce and is closed after the
// terminal event, so an unread session never blocks the orchestrator.
type Session struct {
	id     string
	kind   Kind
	gen    uint64
	events chan Event
	done   chan struct{}

	once  sync.Once
	final Event
}

func newSession(id string, kind Kind, gen uint64, capacity int) *Session {
	return &Session{
		id:     id,
		kind:   kind,
		gen:    gen,
		events: make(chan Event, capacity),
		done:   make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Kind() Kind { return s.kind }

// Events streams the session lifecycle in order.
func (s *Session) Events() <-chan Event { return s.events }

// Done is closed once the terminal event has been emitted.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session ends and returns its terminal event.
func (s *Session) Wait(ctx context.Context) (Event, error) {
	select {
	case <-s.done:
		return s.final, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

func (s *Session) emit(ev Event) {
	select {
	case <-s.done:
	default:
		s.events <- ev
	}
}

func (s *Session) finish(ev Event) bool {
	finished := false
	s.once.Do(func() {
		s.final = ev
		s.events <- ev
		close(s.events)
		close(s.done)
		finished = true
	})
	return finished
}
