package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
)

const envPrefix = "BOLI_"

var (
	Engines    = []string{"espeak", "yandex", "silent"}
	LogFormats = []string{"text", "json", "logfmt"}
)

type Config struct {
	Engine    string `env:"ENGINE" envDefault:"espeak"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	Locale   LocaleConfig
	Practice PracticeConfig
	ESpeak   ESpeakConfig
	Yandex   YandexConfig
	Audio    AudioConfig
}

// LocaleConfig selects the practice language and its fallbacks.
type LocaleConfig struct {
	Target  string `env:"TARGET_LANGUAGE" envDefault:"ne"`
	Related string `env:"RELATED_LANGUAGE" envDefault:"hi"`
	Default string `env:"DEFAULT_VOICE_TAG" envDefault:"ne-NP"`
}

type PracticeConfig struct {
	Repetitions   int           `env:"REPETITIONS" envDefault:"3"`
	Pause         time.Duration `env:"PRACTICE_PAUSE" envDefault:"800ms"`
	SyllablePause time.Duration `env:"SYLLABLE_PAUSE" envDefault:"300ms"`
	// StepTimeout bounds one utterance, zero disables it.
	StepTimeout time.Duration `env:"STEP_TIMEOUT" envDefault:"0s"`
}

type ESpeakConfig struct {
	Binary         string `env:"ESPEAK_BINARY" envDefault:"espeak-ng"`
	WordsPerMinute int    `env:"ESPEAK_WPM" envDefault:"175"`
}

type YandexConfig struct {
	APIKey       string `env:"YANDEX_API_KEY"`
	FolderID     string `env:"YANDEX_FOLDER_ID"`
	Endpoint     string `env:"YANDEX_ENDPOINT" envDefault:"tts.api.cloud.yandex.net:443"`
	Model        string `env:"YANDEX_MODEL"`
	DefaultVoice string `env:"YANDEX_VOICE" envDefault:"alena"`
}

type AudioConfig struct {
	FramesPerBuffer int `env:"AUDIO_FRAMES_PER_BUFFER" envDefault:"1024"`
}

// LoadConfig reads the given dotenv files (".env" when none are given; a
// missing file is fine) and then parses BOLI_* variables.
func LoadConfig(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}
	return Parse(nil)
}

// Parse builds a Config from environ, or from the process environment when
// environ is nil.
func Parse(environ map[string]string) (*Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{
		Prefix:      envPrefix,
		Environment: environ,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	c.Engine = strings.ToLower(strings.TrimSpace(c.Engine))
	if !slices.Contains(Engines, c.Engine) {
		return fmt.Errorf("invalid engine %q: must be one of %v", c.Engine, Engines)
	}

	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	if !slices.Contains(LogFormats, c.LogFormat) {
		return fmt.Errorf("invalid log format %q: must be one of %v", c.LogFormat, LogFormats)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}

	if c.Locale.Target == "" || c.Locale.Default == "" {
		return errors.New("target language and default voice tag must be set")
	}

	if c.Practice.Repetitions < 1 {
		return fmt.Errorf("repetitions must be at least 1, got %d", c.Practice.Repetitions)
	}
	if c.Practice.Pause < 0 || c.Practice.SyllablePause < 0 || c.Practice.StepTimeout < 0 {
		return errors.New("pauses and step timeout must not be negative")
	}

	if c.ESpeak.WordsPerMinute < 80 || c.ESpeak.WordsPerMinute > 500 {
		return fmt.Errorf("espeak words per minute must be between 80 and 500, got %d", c.ESpeak.WordsPerMinute)
	}

	if c.Engine == "yandex" && (c.Yandex.APIKey == "" || c.Yandex.FolderID == "") {
		return errors.New("yandex engine requires BOLI_YANDEX_API_KEY and BOLI_YANDEX_FOLDER_ID")
	}

	if c.Audio.FramesPerBuffer <= 0 {
		return fmt.Errorf("frames per buffer must be positive, got %d", c.Audio.FramesPerBuffer)
	}

	return nil
}

// NewLogger builds the process logger from the level and format settings.
func (c *Config) NewLogger(w io.Writer) *log.Logger {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}

	formatter := log.TextFormatter
	switch c.LogFormat {
	case "json":
		formatter = log.JSONFormatter
	case "logfmt":
		formatter = log.LogfmtFormatter
	}

	return log.NewWithOptions(w, log.Options{
		Level:           level,
		Formatter:       formatter,
		ReportTimestamp: true,
		Prefix:          "boli",
	})
}
