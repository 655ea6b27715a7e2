// Package prefs keeps the in-memory user preferences and the daily progress
// set. Nothing here is persisted.
package prefs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrUnknownLanguage = errors.New("unknown language")
	ErrUnknownTextSize = errors.New("unknown text size")
)

type Language string

const (
	LanguageNepali  Language = "nepali"
	LanguageEnglish Language = "english"
)

func ParseLanguage(s string) (Language, error) {
	switch l := Language(strings.ToLower(strings.TrimSpace(s))); l {
	case LanguageNepali, LanguageEnglish:
		return l, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownLanguage, s)
	}
}

// Pick returns nepali or english depending on l.
func (l Language) Pick(nepali, english string) string {
	if l == LanguageEnglish {
		return english
	}
	return nepali
}

type TextSize string

const (
	TextSizeSmall  TextSize = "small"
	TextSizeMedium TextSize = "medium"
	TextSizeLarge  TextSize = "large"
)

func ParseTextSize(s string) (TextSize, error) {
	switch ts := TextSize(strings.ToLower(strings.TrimSpace(s))); ts {
	case TextSizeSmall, TextSizeMedium, TextSizeLarge:
		return ts, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTextSize, s)
	}
}

// Multiplier scales base font sizes. Unknown sizes render as medium.
func (ts TextSize) Multiplier() float64 {
	switch ts {
	case TextSizeSmall:
		return 0.85
	case TextSizeLarge:
		return 1.2
	default:
		return 1
	}
}

// Preferences is safe for concurrent use.
type Preferences struct {
	mu           sync.RWMutex
	language     Language
	textSize     TextSize
	soundEnabled bool
}

func New() *Preferences {
	return &Preferences{
		language:     LanguageNepali,
		textSize:     TextSizeMedium,
		soundEnabled: true,
	}
}

func (p *Preferences) Language() Language {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.language
}

func (p *Preferences) SetLanguage(l Language) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.language = l
}

func (p *Preferences) TextSize() TextSize {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.textSize
}

func (p *Preferences) SetTextSize(ts TextSize) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.textSize = ts
}

func (p *Preferences) SoundEnabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.soundEnabled
}

func (p *Preferences) SetSoundEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.soundEnabled = enabled
}

// Progress is the daily progress set, keyed by checklist item id.
type Progress struct {
	mu    sync.Mutex
	items map[string]bool
}

func NewProgress() *Progress {
	return &Progress{items: make(map[string]bool)}
}

// Toggle flips key and returns its new state.
func (p *Progress) Toggle(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.items[key] = !p.items[key]
	return p.items[key]
}

func (p *Progress) Done(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.items[key]
}

func (p *Progress) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.items)
}

// Completed lists the done keys in sorted order.
func (p *Progress) Completed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	keys := make([]string, 0, len(p.items))
	for k, done := range p.items {
		if done {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Percent returns the rounded share of keys that are done.
func (p *Progress) Percent(keys []string) int {
	if len(keys) == 0 {
		return 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	done := 0
	for _, k := range keys {
		if p.items[k] {
			done++
		}
	}
	return (done*100 + len(keys)/2) / len(keys)
}
