// Package content holds the bundled speech exercises and the daily routine
// checklist.
package content

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/text/unicode/norm"
)

//go:embed catalog.toml
var catalogTOML []byte

var (
	ErrUnknownModule   = errors.New("unknown module")
	ErrUnknownExercise = errors.New("unknown exercise")
)

type Exercise struct {
	ID            string `toml:"id"`
	Nepali        string `toml:"nepali"`
	English       string `toml:"english"`
	Pronunciation string `toml:"pronunciation"`
	Instruction   string `toml:"instruction"`
	InstructionEn string `toml:"instruction_en"`
}

// Syllables splits the pronunciation guide on "-" and spaces.
func (e Exercise) Syllables() []string {
	return strings.FieldsFunc(e.Pronunciation, func(r rune) bool {
		return r == '-' || r == ' '
	})
}

type Module struct {
	ID          string     `toml:"id"`
	Title       string     `toml:"title"`
	TitleEn     string     `toml:"title_en"`
	Description string     `toml:"description"`
	Exercises   []Exercise `toml:"exercises"`
}

// ChecklistItem is one entry of the daily routine. Its ID is the key used by
// the daily progress set.
type ChecklistItem struct {
	ID            string `toml:"id"`
	Title         string `toml:"title"`
	TitleEn       string `toml:"title_en"`
	Description   string `toml:"description"`
	DescriptionEn string `toml:"description_en"`
	Time          string `toml:"time"`
}

type Routine struct {
	Title   string          `toml:"title"`
	TitleEn string          `toml:"title_en"`
	Items   []ChecklistItem `toml:"items"`
}

type Catalog struct {
	Modules  []Module  `toml:"modules"`
	Routines []Routine `toml:"routines"`
}

// Load parses the embedded catalogue.
func Load() (*Catalog, error) {
	return Parse(catalogTOML)
}

// Parse decodes a catalogue document and NFC-normalises every text field so
// that Devanagari compares byte-for-byte regardless of how it was typed.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}

	seen := make(map[string]bool, len(c.Modules))
	for i := range c.Modules {
		m := &c.Modules[i]
		if m.ID == "" {
			return nil, fmt.Errorf("module %d has no id", i+1)
		}
		if seen[m.ID] {
			return nil, fmt.Errorf("duplicate module %q", m.ID)
		}
		seen[m.ID] = true

		m.Title = nfc(m.Title)
		m.Description = nfc(m.Description)
		for j := range m.Exercises {
			e := &m.Exercises[j]
			e.Nepali = nfc(e.Nepali)
			e.Pronunciation = nfc(e.Pronunciation)
			e.Instruction = nfc(e.Instruction)
		}
	}

	for i := range c.Routines {
		r := &c.Routines[i]
		r.Title = nfc(r.Title)
		for j := range r.Items {
			item := &r.Items[j]
			item.Title = nfc(item.Title)
			item.Description = nfc(item.Description)
			item.Time = nfc(item.Time)
		}
	}

	return &c, nil
}

func (c *Catalog) Module(id string) (*Module, error) {
	for i := range c.Modules {
		if c.Modules[i].ID == id {
			return &c.Modules[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownModule, id)
}

func (c *Catalog) Exercise(moduleID, id string) (*Exercise, error) {
	m, err := c.Module(moduleID)
	if err != nil {
		return nil, err
	}
	for i := range m.Exercises {
		if m.Exercises[i].ID == id {
			return &m.Exercises[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrUnknownExercise, moduleID, id)
}

// Checklist flattens the routines into one ordered list.
func (c *Catalog) Checklist() []ChecklistItem {
	var items []ChecklistItem
	for _, r := range c.Routines {
		items = append(items, r.Items...)
	}
	return items
}

func nfc(s string) string {
	return norm.NFC.String(s)
}
