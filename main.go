package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/d1nch8g/boli/config"
	"github.com/d1nch8g/boli/content"
	"github.com/d1nch8g/boli/engine"
	"github.com/d1nch8g/boli/prefs"
	"github.com/d1nch8g/boli/sound"
	"github.com/d1nch8g/boli/tts"
	"github.com/d1nch8g/boli/voice"
)

// silentRuneDuration paces the silent engine roughly like a slow speaker.
const silentRuneDuration = 80 * time.Millisecond

var (
	envFile        string
	engineOverride string
	language       string

	rootCmd = &cobra.Command{
		Use:           "boli",
		Short:         "Nepali speech practice from the terminal",
		Long:          "boli speaks Nepali words and practice drills through espeak-ng, Yandex SpeechKit or a silent engine.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// app is everything a command needs, built once per invocation.
type app struct {
	cfg      *config.Config
	logger   *log.Logger
	engine   tts.Engine
	voices   *voice.Service
	orch     *engine.Orchestrator
	catalog  *content.Catalog
	prefs    *prefs.Preferences
	progress *prefs.Progress
	closers  []func()
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig(envFiles()...)
	if err != nil {
		return nil, err
	}
	if engineOverride != "" {
		cfg.Engine = engineOverride
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	logger := cfg.NewLogger(os.Stderr)

	catalog, err := content.Load()
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		catalog:  catalog,
		prefs:    prefs.New(),
		progress: prefs.NewProgress(),
	}

	if language != "" {
		lang, err := prefs.ParseLanguage(language)
		if err != nil {
			return nil, err
		}
		a.prefs.SetLanguage(lang)
	}

	if err := a.initEngine(); err != nil {
		a.close()
		return nil, err
	}

	a.voices = voice.New(a.engine,
		voice.WithLanguages(cfg.Locale.Target, cfg.Locale.Related),
		voice.WithLogger(logger.WithPrefix("voice")),
	)
	a.voices.Initialize(ctx)
	if !a.voices.IsTargetLanguageAvailable() {
		logger.Warn("no voice for the practice language, falling back", "tag", cfg.Locale.Default)
	}

	a.orch = engine.New(a.engine, a.voices,
		engine.WithLocales(cfg.Locale.Target, cfg.Locale.Related, cfg.Locale.Default),
		engine.WithPracticePause(cfg.Practice.Pause),
		engine.WithSyllablePause(cfg.Practice.SyllablePause),
		engine.WithStepTimeout(cfg.Practice.StepTimeout),
		engine.WithLogger(logger.WithPrefix("engine")),
	)
	a.closers = append(a.closers, a.orch.Stop)

	return a, nil
}

func (a *app) initEngine() error {
	switch a.cfg.Engine {
	case "espeak":
		a.engine = tts.NewESpeak(tts.ESpeakConfig{
			Binary:         a.cfg.ESpeak.Binary,
			WordsPerMinute: a.cfg.ESpeak.WordsPerMinute,
		}, a.logger)

	case "yandex":
		player := sound.NewPortaudioPlayer(sound.PlayerConfig{FramesPerBuffer: a.cfg.Audio.FramesPerBuffer})
		if err := player.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize PortAudio: %w", err)
		}
		a.closers = append(a.closers, player.Terminate)

		client, err := tts.NewYandex(tts.YandexConfig{
			ApiKey:       a.cfg.Yandex.APIKey,
			FolderID:     a.cfg.Yandex.FolderID,
			Endpoint:     a.cfg.Yandex.Endpoint,
			Model:        a.cfg.Yandex.Model,
			DefaultVoice: a.cfg.Yandex.DefaultVoice,
		}, player, a.logger)
		if err != nil {
			return fmt.Errorf("failed to create Yandex client: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				a.logger.Warn("failed to close Yandex client", "err", err)
			}
		})
		a.engine = client

	case "silent":
		a.engine = tts.NewSilent(nil, silentRuneDuration, a.logger)

	default:
		return fmt.Errorf("unknown engine %q", a.cfg.Engine)
	}

	a.logger.Debug("engine ready", "engine", a.cfg.Engine)
	return nil
}

// close runs the closers in reverse order.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func envFiles() []string {
	if envFile == "" {
		return nil
	}
	return []string{envFile}
}

// run builds the app, hands it to fn and always stops playback on the way out.
func run(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	return fn(ctx, a)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error(err)
		cancel()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load (default .env)")
	rootCmd.PersistentFlags().StringVarP(&engineOverride, "engine", "e", "", "speech engine: espeak, yandex or silent")
	rootCmd.PersistentFlags().StringVarP(&language, "lang", "l", "", "display language: nepali or english")

	rootCmd.AddCommand(
		voicesCmd,
		sayCmd,
		pronounceCmd,
		practiceCmd,
		syllablesCmd,
		modulesCmd,
		checklistCmd,
		replCmd,
	)
}
