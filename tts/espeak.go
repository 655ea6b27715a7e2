package tts

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

const defaultWordsPerMinute = 175

type ESpeakConfig struct {
	Binary         string
	WordsPerMinute int
}

// ESpeak drives a local espeak-ng process per utterance.
type ESpeak struct {
	config ESpeakConfig
	logger *log.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stopped bool
}

var _ Engine = (*ESpeak)(nil)

func NewESpeak(config ESpeakConfig, logger *log.Logger) *ESpeak {
	if config.Binary == "" {
		config.Binary = "espeak-ng"
	}
	if config.WordsPerMinute <= 0 {
		config.WordsPerMinute = defaultWordsPerMinute
	}
	if logger == nil {
		logger = log.Default()
	}
	return &ESpeak{config: config, logger: logger.WithPrefix("espeak")}
}

// Voices runs `espeak-ng --voices` and parses the table it prints.
func (e *ESpeak) Voices(ctx context.Context) ([]Voice, error) {
	out, err := exec.CommandContext(ctx, e.config.Binary, "--voices").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list espeak voices: %w", err)
	}
	return parseESpeakVoices(out), nil
}

func parseESpeakVoices(out []byte) []Voice {
	var voices []Voice
	for _, row := range bytes.Split(out, []byte{'\n'}) {
		fields := strings.Fields(string(row))
		if len(fields) < 4 || fields[0] == "Pty" {
			continue
		}
		voices = append(voices, Voice{
			Language:   NormalizeTag(fields[1]),
			Identifier: fields[1],
			Name:       fields[3],
		})
	}
	return voices
}

func (e *ESpeak) Speak(ctx context.Context, u Utterance, started func()) error {
	if strings.TrimSpace(u.Text) == "" {
		return ErrEmptyText
	}

	// #nosec G204 -- binary comes from configuration, text is passed after "--"
	cmd := exec.CommandContext(ctx, e.config.Binary, e.args(u)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	e.mu.Lock()
	if e.cmd != nil {
		e.mu.Unlock()
		return ErrEngineBusy
	}
	if err := cmd.Start(); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("failed to start %s: %w", e.config.Binary, err)
	}
	e.cmd = cmd
	e.stopped = false
	e.mu.Unlock()

	e.logger.Debug("speaking", "language", u.Language, "rate", u.Rate, "text_length", len(u.Text))
	if started != nil {
		started()
	}

	err := cmd.Wait()

	e.mu.Lock()
	stopped := e.stopped
	e.cmd = nil
	e.mu.Unlock()

	switch {
	case stopped:
		return ErrStopped
	case err != nil:
		return fmt.Errorf("%s failed: %w: %s", e.config.Binary, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (e *ESpeak) args(u Utterance) []string {
	var args []string
	if tag := NormalizeTag(u.Language); tag != "" {
		args = append(args, "-v", strings.ToLower(tag))
	}

	rate := u.Rate
	if rate <= 0 {
		rate = 1
	}
	args = append(args, "-s", strconv.Itoa(int(math.Round(float64(e.config.WordsPerMinute)*rate))))

	pitch := u.Pitch
	if pitch <= 0 {
		pitch = 1
	}
	args = append(args, "-p", strconv.Itoa(min(99, int(math.Round(50*pitch)))))

	return append(args, "--", u.Text)
}

// Stop kills the running espeak process. It is a no-op when idle.
func (e *ESpeak) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cmd == nil || e.cmd.Process == nil {
		return nil
	}
	e.stopped = true
	if err := e.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("failed to kill %s: %w", e.config.Binary, err)
	}
	return nil
}

func (e *ESpeak) IsSpeaking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cmd != nil
}
