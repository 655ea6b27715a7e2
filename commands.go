package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/d1nch8g/boli/content"
	"github.com/d1nch8g/boli/engine"
	"github.com/d1nch8g/boli/prefs"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00B4D8"))
	dimStyle     = lipgloss.NewStyle().Faint(true)
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#2A9D8F"))
)

var (
	slow        bool
	repetitions int
	markDone    []string

	voicesCmd = &cobra.Command{
		Use:   "voices",
		Short: "List the engine voices and the resolved practice voice",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, func(_ context.Context, a *app) error {
				w := cmd.OutOrStdout()
				for _, v := range a.voices.Voices() {
					fmt.Fprintf(w, "%-12s %-20s %s\n", v.Language, v.Identifier, dimStyle.Render(v.Name))
				}

				tag := a.voices.ResolveVoiceTag(a.cfg.Locale.Target, a.cfg.Locale.Related, a.cfg.Locale.Default)
				fmt.Fprintf(w, "\n%s %s (available: %t)\n",
					headingStyle.Render("practice voice:"), tag, a.voices.IsTargetLanguageAvailable())
				return nil
			})
		},
	}

	sayCmd = &cobra.Command{
		Use:   "say TEXT...",
		Short: "Speak free text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *app) error {
				s, err := a.orch.Speak(ctx, strings.Join(args, " "), rateFlag())
				if err != nil {
					return err
				}
				return follow(ctx, a, s, cmd.OutOrStdout())
			})
		},
	}

	pronounceCmd = &cobra.Command{
		Use:   "pronounce MODULE ID",
		Short: "Speak an exercise, syllable by syllable with --slow",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *app) error {
				ex, err := a.catalog.Exercise(args[0], args[1])
				if err != nil {
					return err
				}
				printExercise(cmd.OutOrStdout(), a.prefs.Language(), ex)

				s, err := a.orch.SpeakWithPronunciation(ctx, ex.Nepali, ex.Pronunciation, rateFlag())
				if err != nil {
					return err
				}
				return follow(ctx, a, s, cmd.OutOrStdout())
			})
		},
	}

	practiceCmd = &cobra.Command{
		Use:   "practice MODULE ID",
		Short: "Repeat an exercise word, first slowly and then at normal speed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *app) error {
				ex, err := a.catalog.Exercise(args[0], args[1])
				if err != nil {
					return err
				}
				printExercise(cmd.OutOrStdout(), a.prefs.Language(), ex)

				n := repetitions
				if n == 0 {
					n = a.cfg.Practice.Repetitions
				}
				s, err := a.orch.Practice(ctx, ex.Nepali, n)
				if err != nil {
					return err
				}
				return follow(ctx, a, s, cmd.OutOrStdout())
			})
		},
	}

	syllablesCmd = &cobra.Command{
		Use:   "syllables MODULE ID",
		Short: "Speak the syllables of an exercise one at a time",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *app) error {
				ex, err := a.catalog.Exercise(args[0], args[1])
				if err != nil {
					return err
				}
				printExercise(cmd.OutOrStdout(), a.prefs.Language(), ex)

				s, err := a.orch.SpeakSyllableSequence(ctx, ex.Syllables())
				if err != nil {
					return err
				}
				return follow(ctx, a, s, cmd.OutOrStdout())
			})
		},
	}

	modulesCmd = &cobra.Command{
		Use:   "modules [MODULE]",
		Short: "List speech modules, or the exercises of one module",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := content.Load()
			if err != nil {
				return err
			}
			lang, err := displayLanguage()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if len(args) == 0 {
				for _, m := range catalog.Modules {
					fmt.Fprintf(w, "%-16s %s %s\n", m.ID, headingStyle.Render(lang.Pick(m.Title, m.TitleEn)),
						dimStyle.Render(fmt.Sprintf("(%d)", len(m.Exercises))))
				}
				return nil
			}

			m, err := catalog.Module(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(w, headingStyle.Render(lang.Pick(m.Title, m.TitleEn)))
			for _, ex := range m.Exercises {
				fmt.Fprintf(w, "%3s  %-16s %-14s %s\n", ex.ID, ex.Nepali, ex.English, dimStyle.Render(ex.Pronunciation))
			}
			return nil
		},
	}

	checklistCmd = &cobra.Command{
		Use:   "checklist",
		Short: "Show the daily practice routine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog, err := content.Load()
			if err != nil {
				return err
			}
			lang, err := displayLanguage()
			if err != nil {
				return err
			}

			progress := prefs.NewProgress()
			for _, id := range markDone {
				progress.Toggle(id)
			}
			printChecklist(cmd.OutOrStdout(), lang, catalog, progress)
			return nil
		},
	}
)

func init() {
	sayCmd.Flags().BoolVarP(&slow, "slow", "s", false, "speak at slow rate")
	pronounceCmd.Flags().BoolVarP(&slow, "slow", "s", false, "speak the syllable form at slow rate")
	practiceCmd.Flags().IntVarP(&repetitions, "repetitions", "n", 0, "number of repetitions (default from config)")
	checklistCmd.Flags().StringSliceVar(&markDone, "done", nil, "item ids to mark as done")
}

func rateFlag() engine.Rate {
	if slow {
		return engine.RateSlow
	}
	return engine.RateNormal
}

func displayLanguage() (prefs.Language, error) {
	if language == "" {
		return prefs.LanguageNepali, nil
	}
	return prefs.ParseLanguage(language)
}

// follow prints session events until the session ends. Interrupting the
// command stops playback.
func follow(ctx context.Context, a *app, s *engine.Session, w io.Writer) error {
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return nil
			}
			switch ev.Type {
			case engine.EventProgress:
				fmt.Fprintf(w, "%s %d/%d\n", dimStyle.Render("repetition"), ev.Current, ev.Total)
			case engine.EventError:
				return ev.Err
			case engine.EventCanceled:
				fmt.Fprintln(w, dimStyle.Render("stopped"))
			}
		case <-ctx.Done():
			a.orch.Stop()
			ctx = context.Background()
		}
	}
}

func printExercise(w io.Writer, lang prefs.Language, ex *content.Exercise) {
	fmt.Fprintf(w, "%s  %s\n", headingStyle.Render(ex.Nepali), dimStyle.Render(ex.Pronunciation))
	fmt.Fprintln(w, lang.Pick(ex.Instruction, ex.InstructionEn))
}

func printChecklist(w io.Writer, lang prefs.Language, catalog *content.Catalog, progress *prefs.Progress) {
	for _, r := range catalog.Routines {
		fmt.Fprintln(w, headingStyle.Render(lang.Pick(r.Title, r.TitleEn)))
		for _, item := range r.Items {
			mark := "[ ]"
			if progress.Done(item.ID) {
				mark = doneStyle.Render("[x]")
			}
			fmt.Fprintf(w, "  %s %-12s %s %s\n", mark, item.ID,
				lang.Pick(item.Title, item.TitleEn), dimStyle.Render(item.Time))
		}
	}

	keys := make([]string, 0)
	for _, item := range catalog.Checklist() {
		keys = append(keys, item.ID)
	}
	fmt.Fprintf(w, "\n%d%%\n", progress.Percent(keys))
}
