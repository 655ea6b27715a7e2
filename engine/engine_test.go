package engine_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d1nch8g/boli/engine"
	"github.com/d1nch8g/boli/tts"
	"github.com/d1nch8g/boli/voice"
)

var (
	errMockSynthesis = errors.New("mock synthesis error")
	errMockStop      = errors.New("mock stop error")
)

const waitTimeout = 5 * time.Second

// recorder keeps the ordered trace of utterances and pauses.
type recorder struct {
	mu      sync.Mutex
	entries []string
}

func (r *recorder) add(entry string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.entries...)
}

// fakeEngine is a scripted tts.Engine.
type fakeEngine struct {
	rec *recorder

	mu         sync.Mutex
	voices     []tts.Voice
	calls      []tts.Utterance
	failOn     map[int]error   // one-based call number -> error
	blockTexts map[string]bool // texts that speak until stopped
	stopErr    error
	stops      int
	active     int
	maxActive  int
	stopCh     chan struct{}
	onSpeak    func()

	started chan string
}

func newFakeEngine(rec *recorder) *fakeEngine {
	return &fakeEngine{
		rec:        rec,
		voices:     []tts.Voice{{Language: "en-US"}, {Language: "ne-NP", Identifier: "nepali"}},
		failOn:     map[int]error{},
		blockTexts: map[string]bool{},
		started:    make(chan string, 64),
	}
}

func (f *fakeEngine) Voices(_ context.Context) ([]tts.Voice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.voices, nil
}

func (f *fakeEngine) Speak(ctx context.Context, u tts.Utterance, started func()) error {
	f.mu.Lock()
	f.calls = append(f.calls, u)
	callNo := len(f.calls)
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	failErr := f.failOn[callNo]
	block := f.blockTexts[u.Text]
	stop := make(chan struct{})
	f.stopCh = stop
	hook := f.onSpeak
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		if f.stopCh == stop {
			f.stopCh = nil
		}
		f.mu.Unlock()
	}()

	if hook != nil {
		hook()
	}
	f.rec.add(fmt.Sprintf("utterance(%s, %.2f)", u.Text, u.Rate))
	if started != nil {
		started()
	}
	f.started <- u.Text

	if failErr != nil {
		return failErr
	}
	if block {
		select {
		case <-stop:
			return tts.ErrStopped
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (f *fakeEngine) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stops++
	if f.stopCh != nil {
		close(f.stopCh)
		f.stopCh = nil
	}
	return f.stopErr
}

func (f *fakeEngine) IsSpeaking() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active > 0
}

func (f *fakeEngine) utterances() []tts.Utterance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tts.Utterance(nil), f.calls...)
}

func (f *fakeEngine) waitStarted(t *testing.T, text string) {
	t.Helper()

	select {
	case got := <-f.started:
		require.Equal(t, text, got)
	case <-time.After(waitTimeout):
		t.Fatalf("utterance %q never started", text)
	}
}

func recordingSleep(rec *recorder) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		rec.add(fmt.Sprintf("pause(%s)", d))
		return ctx.Err()
	}
}

func setupTest(t *testing.T, opts ...engine.Option) (*engine.Orchestrator, *fakeEngine, *recorder) {
	t.Helper()

	rec := &recorder{}
	fake := newFakeEngine(rec)

	voices := voice.New(fake, voice.WithLogger(log.New(io.Discard)))
	voices.Initialize(context.Background())
	require.True(t, voices.IsTargetLanguageAvailable())

	base := []engine.Option{
		engine.WithSleep(recordingSleep(rec)),
		engine.WithLogger(log.New(io.Discard)),
	}
	return engine.New(fake, voices, append(base, opts...)...), fake, rec
}

// collect drains a session until its channel closes.
func collect(t *testing.T, s *engine.Session) []string {
	t.Helper()

	var events []string
	timeout := time.After(waitTimeout)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return events
			}
			events = append(events, ev.String())
		case <-timeout:
			t.Fatalf("session %s did not finish, got %v", s.ID(), events)
		}
	}
}

func TestSpeak_Lifecycle(t *testing.T) {
	t.Parallel()

	orch, fake, _ := setupTest(t)

	session, err := orch.Speak(context.Background(), "नमस्ते", engine.RateSlow)
	require.NoError(t, err)
	assert.Equal(t, engine.KindSpeak, session.Kind())
	assert.NotEmpty(t, session.ID())

	assert.Equal(t, []string{"start", "done"}, collect(t, session))
	assert.Equal(t, engine.StateIdle, orch.State())

	calls := fake.utterances()
	require.Len(t, calls, 1)
	assert.Equal(t, tts.Utterance{Text: "नमस्ते", Language: "ne-NP", Pitch: engine.Pitch, Rate: 0.5}, calls[0])
}

func TestSpeak_NormalRate(t *testing.T) {
	t.Parallel()

	orch, fake, _ := setupTest(t)

	session, err := orch.Speak(context.Background(), "पानी", engine.RateNormal)
	require.NoError(t, err)
	collect(t, session)

	assert.InEpsilon(t, 0.85, fake.utterances()[0].Rate, 0.001)
}

func TestSpeak_Validation(t *testing.T) {
	t.Parallel()

	orch, fake, _ := setupTest(t)

	_, err := orch.Speak(context.Background(), "   ", engine.RateSlow)
	require.ErrorIs(t, err, engine.ErrEmptyText)

	_, err = orch.Speak(context.Background(), "घर", engine.Rate("fast"))
	require.ErrorIs(t, err, engine.ErrInvalidRate)

	_, err = orch.SpeakWithPronunciation(context.Background(), "घर", "घ-र", engine.Rate(""))
	require.ErrorIs(t, err, engine.ErrInvalidRate)

	assert.Empty(t, fake.utterances())
	assert.Zero(t, fake.stops, "validation happens before any platform call")
}

func TestSpeak_ErrorReturnsToIdle(t *testing.T) {
	t.Parallel()

	orch, fake, _ := setupTest(t)
	fake.failOn[1] = errMockSynthesis

	session, err := orch.Speak(context.Background(), "दूध", engine.RateNormal)
	require.NoError(t, err)

	final, err := session.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, engine.EventError, final.Type)
	require.ErrorIs(t, final.Err, errMockSynthesis)

	var synthErr *engine.SynthesisError
	require.ErrorAs(t, final.Err, &synthErr)
	assert.Equal(t, session.ID(), synthErr.SessionID)
	assert.Equal(t, 1, synthErr.Step)
	assert.Equal(t, engine.StateIdle, orch.State())

	next, err := orch.Speak(context.Background(), "दूध", engine.RateNormal)
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "done"}, collect(t, next))
}

func TestSpeakWithPronunciation_Substitution(t *testing.T) {
	t.Parallel()

	orch, fake, _ := setupTest(t)

	slow, err := orch.SpeakWithPronunciation(context.Background(), "आमा", "आ-मा", engine.RateSlow)
	require.NoError(t, err)
	collect(t, slow)

	normal, err := orch.SpeakWithPronunciation(context.Background(), "आमा", "आ-मा", engine.RateNormal)
	require.NoError(t, err)
	collect(t, normal)

	calls := fake.utterances()
	require.Len(t, calls, 2)
	assert.Equal(t, "आ मा", calls[0].Text)
	assert.InEpsilon(t, 0.5, calls[0].Rate, 0.001)
	assert.Equal(t, "आमा", calls[1].Text)
	assert.InEpsilon(t, 0.85, calls[1].Rate, 0.001)
}

func TestPronunciationText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ह जुर आ मा", engine.PronunciationText("हजुरआमा", "ह-जुर-आ-मा", engine.RateSlow))
	assert.Equal(t, "मा फ गर् नु होस्", engine.PronunciationText("माफ गर्नुहोस्", "मा-फ गर्-नु-होस्", engine.RateSlow))
	assert.Equal(t, "हो", engine.PronunciationText("हो", "", engine.RateSlow))
	assert.Equal(t, "हो", engine.PronunciationText("हो", "हो", engine.RateNormal))
}

func TestPractice_EndToEndSequence(t *testing.T) {
	t.Parallel()

	orch, fake, rec := setupTest(t)

	var queued []int
	fake.onSpeak = func() {
		if current := orch.Current(); current != nil {
			queued = append(queued, len(current.Events()))
		}
	}

	session, err := orch.Practice(context.Background(), "बाबा", 3)
	require.NoError(t, err)
	assert.Equal(t, engine.KindPractice, session.Kind())

	// nothing reads the channel until the run ends, so queue depth is exact
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	_, err = session.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"start",
		"progress(1/3)",
		"progress(2/3)",
		"progress(3/3)",
		"done",
	}, collect(t, session))

	assert.Equal(t, []string{
		"utterance(बाबा, 0.50)",
		"pause(800ms)",
		"utterance(बाबा, 0.85)",
		"pause(800ms)",
		"utterance(बाबा, 0.85)",
		"pause(800ms)",
	}, rec.list())

	// start + progress(i) are queued before utterance i begins
	assert.Equal(t, []int{2, 3, 4}, queued)
	assert.Equal(t, engine.StateIdle, orch.State())
}

func TestPractice_FirstRepetitionSlow(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			t.Parallel()

			orch, fake, _ := setupTest(t)

			session, err := orch.Practice(context.Background(), "खाना", n)
			require.NoError(t, err)

			events := collect(t, session)
			require.Len(t, events, n+2)
			assert.Equal(t, "done", events[len(events)-1])

			calls := fake.utterances()
			require.Len(t, calls, n)
			assert.InEpsilon(t, engine.RateSlow.Value(), calls[0].Rate, 0.001)
			for _, call := range calls[1:] {
				assert.InEpsilon(t, engine.RateNormal.Value(), call.Rate, 0.001)
			}
		})
	}
}

func TestPractice_InvalidInput(t *testing.T) {
	t.Parallel()

	orch, fake, _ := setupTest(t)

	_, err := orch.Practice(context.Background(), "बाबा", 0)
	require.ErrorIs(t, err, engine.ErrInvalidRepetitions)

	_, err = orch.Practice(context.Background(), "बाबा", -2)
	require.ErrorIs(t, err, engine.ErrInvalidRepetitions)

	_, err = orch.Practice(context.Background(), "", 3)
	require.ErrorIs(t, err, engine.ErrEmptyText)

	assert.Empty(t, fake.utterances())
	assert.Zero(t, fake.stops)
}

func TestPractice_AbortOnError(t *testing.T) {
	t.Parallel()

	orch, fake, rec := setupTest(t)
	fake.failOn[2] = errMockSynthesis

	session, err := orch.Practice(context.Background(), "बाबा", 3)
	require.NoError(t, err)

	events := collect(t, session)
	require.Len(t, events, 4)
	assert.Equal(t, []string{"start", "progress(1/3)", "progress(2/3)"}, events[:3])
	assert.Contains(t, events[3], "error(")
	assert.NotContains(t, events, "done")

	final, err := session.Wait(context.Background())
	require.NoError(t, err)
	require.ErrorIs(t, final.Err, errMockSynthesis)

	assert.Equal(t, []string{
		"utterance(बाबा, 0.50)",
		"pause(800ms)",
		"utterance(बाबा, 0.85)",
	}, rec.list())
	assert.Equal(t, engine.StateIdle, orch.State())

	next, err := orch.Speak(context.Background(), "बाबा", engine.RateNormal)
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "done"}, collect(t, next))
}

func TestSyllableSequence(t *testing.T) {
	t.Parallel()

	orch, fake, rec := setupTest(t)

	session, err := orch.SpeakSyllableSequence(context.Background(), []string{"त", "र", "का", "री"})
	require.NoError(t, err)
	assert.Equal(t, engine.KindSyllables, session.Kind())

	events := collect(t, session)
	assert.Equal(t, "start", events[0])
	assert.Equal(t, "done", events[len(events)-1])
	assert.Len(t, events, 6)

	assert.Equal(t, []string{
		"utterance(त, 0.50)",
		"pause(300ms)",
		"utterance(र, 0.50)",
		"pause(300ms)",
		"utterance(का, 0.50)",
		"pause(300ms)",
		"utterance(री, 0.50)",
		"pause(300ms)",
	}, rec.list())
	assert.Len(t, fake.utterances(), 4)
}

func TestSyllableSequence_Validation(t *testing.T) {
	t.Parallel()

	orch, _, _ := setupTest(t)

	_, err := orch.SpeakSyllableSequence(context.Background(), nil)
	require.ErrorIs(t, err, engine.ErrNoSyllables)

	_, err = orch.SpeakSyllableSequence(context.Background(), []string{"आ", " "})
	require.ErrorIs(t, err, engine.ErrEmptyText)
}

func TestSyllableSequence_AbortOnError(t *testing.T) {
	t.Parallel()

	orch, fake, _ := setupTest(t)
	fake.failOn[1] = errMockSynthesis

	session, err := orch.SpeakSyllableSequence(context.Background(), []string{"आ", "मा"})
	require.NoError(t, err)

	final, err := session.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, engine.EventError, final.Type)
	assert.Len(t, fake.utterances(), 1)
}

func TestNewOperationPreemptsActive(t *testing.T) {
	t.Parallel()

	orch, fake, _ := setupTest(t)
	fake.blockTexts["बाबा"] = true

	first, err := orch.Practice(context.Background(), "बाबा", 3)
	require.NoError(t, err)
	fake.waitStarted(t, "बाबा")
	assert.Equal(t, engine.StateSpeaking, orch.State())

	second, err := orch.Speak(context.Background(), "आमा", engine.RateNormal)
	require.NoError(t, err)

	firstEvents := collect(t, first)
	assert.Equal(t, []string{"start", "progress(1/3)", "canceled"}, firstEvents)
	assert.Equal(t, []string{"start", "done"}, collect(t, second))

	calls := fake.utterances()
	require.Len(t, calls, 2, "the preempted run schedules no further steps")
	assert.Equal(t, "आमा", calls[1].Text)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, 1, fake.maxActive)
}

func TestRapidCallsKeepOneActiveUtterance(t *testing.T) {
	t.Parallel()

	orch, fake, _ := setupTest(t)
	fake.blockTexts["घर"] = true

	var sessions []*engine.Session
	for range 5 {
		s, err := orch.Practice(context.Background(), "घर", 2)
		require.NoError(t, err)
		sessions = append(sessions, s)
	}

	last := sessions[len(sessions)-1]
	for _, s := range sessions[:len(sessions)-1] {
		events := collect(t, s)
		assert.Equal(t, "canceled", events[len(events)-1])
	}

	assert.Equal(t, last, orch.Current())
	orch.Stop()
	final, err := last.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, engine.EventCanceled, final.Type)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.LessOrEqual(t, fake.maxActive, 1)
}

func TestStop_Idle(t *testing.T) {
	t.Parallel()

	orch, fake, _ := setupTest(t)

	orch.Stop()
	orch.Stop()

	assert.Equal(t, engine.StateIdle, orch.State())
	assert.Nil(t, orch.Current())
	assert.Equal(t, 2, fake.stops, "stop reaches the engine even when idle")
}

func TestStop_TwiceEndsSessionOnce(t *testing.T) {
	t.Parallel()

	orch, fake, _ := setupTest(t)
	fake.blockTexts["नानी"] = true

	session, err := orch.Speak(context.Background(), "नानी", engine.RateSlow)
	require.NoError(t, err)
	fake.waitStarted(t, "नानी")

	orch.Stop()
	orch.Stop()

	assert.Equal(t, []string{"start", "canceled"}, collect(t, session))
	assert.Equal(t, engine.StateIdle, orch.State())
}

func TestStop_EngineFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	orch, fake, _ := setupTest(t)
	fake.stopErr = errMockStop

	assert.NotPanics(t, orch.Stop)

	session, err := orch.Speak(context.Background(), "फल", engine.RateNormal)
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "done"}, collect(t, session))
}

func TestStop_DuringPause(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	paused := make(chan struct{}, 1)
	sleep := func(ctx context.Context, d time.Duration) error {
		rec.add(fmt.Sprintf("pause(%s)", d))
		paused <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}

	orch, fake, _ := setupTest(t, engine.WithSleep(sleep))

	session, err := orch.Practice(context.Background(), "रोटी", 3)
	require.NoError(t, err)

	select {
	case <-paused:
	case <-time.After(waitTimeout):
		t.Fatal("practice never paused")
	}
	orch.Stop()

	assert.Equal(t, []string{"start", "progress(1/3)", "canceled"}, collect(t, session))
	assert.Len(t, fake.utterances(), 1)
}

func TestContextCancelEndsSession(t *testing.T) {
	t.Parallel()

	orch, fake, _ := setupTest(t)
	fake.blockTexts["जुत्ता"] = true

	ctx, cancel := context.WithCancel(context.Background())
	session, err := orch.Speak(ctx, "जुत्ता", engine.RateNormal)
	require.NoError(t, err)
	fake.waitStarted(t, "जुत्ता")

	cancel()

	assert.Equal(t, []string{"start", "canceled"}, collect(t, session))
	assert.Equal(t, engine.StateIdle, orch.State())
}

func TestStepTimeout(t *testing.T) {
	t.Parallel()

	orch, fake, _ := setupTest(t, engine.WithStepTimeout(20*time.Millisecond))
	fake.blockTexts["लुगा"] = true

	session, err := orch.Practice(context.Background(), "लुगा", 3)
	require.NoError(t, err)

	final, err := session.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, engine.EventError, final.Type)
	require.ErrorIs(t, final.Err, engine.ErrStepTimeout)
	assert.Len(t, fake.utterances(), 1)
}

func TestVoiceFallsBackToDefaultTag(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	fake := newFakeEngine(rec)
	fake.voices = []tts.Voice{{Language: "en-US"}}

	voices := voice.New(fake, voice.WithLogger(log.New(io.Discard)))
	voices.Initialize(context.Background())

	orch := engine.New(fake, voices,
		engine.WithSleep(recordingSleep(rec)),
		engine.WithLogger(log.New(io.Discard)),
		engine.WithLocales("ne", "hi", "ne-NP"),
	)

	session, err := orch.Speak(context.Background(), "भात", engine.RateNormal)
	require.NoError(t, err)
	collect(t, session)

	assert.Equal(t, "ne-NP", fake.utterances()[0].Language)
}

func TestParseRate(t *testing.T) {
	t.Parallel()

	rate, err := engine.ParseRate(" Slow ")
	require.NoError(t, err)
	assert.Equal(t, engine.RateSlow, rate)

	rate, err = engine.ParseRate("normal")
	require.NoError(t, err)
	assert.Equal(t, engine.RateNormal, rate)

	_, err = engine.ParseRate("fast")
	require.ErrorIs(t, err, engine.ErrInvalidRate)
}

func TestStateAndEventStrings(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "idle", engine.StateIdle.String())
	assert.Equal(t, "speaking", engine.StateSpeaking.String())
	assert.True(t, engine.EventCanceled.Terminal())
	assert.False(t, engine.EventProgress.Terminal())
	assert.Equal(t, "progress(2/3)", engine.Event{Type: engine.EventProgress, Current: 2, Total: 3}.String())
}
