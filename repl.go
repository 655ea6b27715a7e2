package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/d1nch8g/boli/engine"
	"github.com/d1nch8g/boli/prefs"
	"github.com/d1nch8g/boli/session"
)

const replHelp = `commands:
  play [slow|normal]   speak the exercise, again to stop
  practice             repeat the word, again to stop
  syllables            speak the syllables one by one
  stop                 stop playback
  next | prev | go N   move between exercises
  done                 mark the exercise complete and move on
  sound on|off         toggle sound
  lang nepali|english  switch display language
  size small|medium|large
  check ID             toggle a daily checklist item
  status               show the current state
  quit`

var replCmd = &cobra.Command{
	Use:   "repl MODULE",
	Short: "Work through a speech module interactively",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, func(ctx context.Context, a *app) error {
			m, err := a.catalog.Module(args[0])
			if err != nil {
				return err
			}

			c, err := session.New(a.orch, a.prefs, m,
				session.WithRepetitions(a.cfg.Practice.Repetitions),
				session.WithLogger(a.logger.WithPrefix("session")),
			)
			if err != nil {
				return err
			}
			defer c.Close()

			return repl(ctx, a, c, cmd.InOrStdin(), cmd.OutOrStdout())
		})
	},
}

var errQuit = errors.New("quit")

func repl(ctx context.Context, a *app, c *session.Controller, in io.Reader, w io.Writer) error {
	fmt.Fprintln(w, replHelp)
	showExercise(w, a, c)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Fprint(w, "> ")

		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := replCommand(ctx, a, c, strings.Fields(line), w)
			switch {
			case errors.Is(err, errQuit):
				return nil
			case err != nil:
				fmt.Fprintln(w, dimStyle.Render(err.Error()))
			}
		}
	}
}

func replCommand(ctx context.Context, a *app, c *session.Controller, fields []string, w io.Writer) error {
	if len(fields) == 0 {
		return nil
	}
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch fields[0] {
	case "play":
		rate := c.Speed()
		if arg != "" {
			var err error
			if rate, err = engine.ParseRate(arg); err != nil {
				return err
			}
		}
		s, err := c.PlayExercise(ctx, rate)
		return report(w, s, err)

	case "practice":
		s, err := c.PracticeExercise(ctx)
		return report(w, s, err)

	case "syllables":
		s, err := c.PlaySyllables(ctx)
		return report(w, s, err)

	case "stop":
		c.Close()

	case "next":
		c.Next()
		showExercise(w, a, c)

	case "prev":
		c.Previous()
		showExercise(w, a, c)

	case "go":
		n, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("go needs an exercise number: %w", err)
		}
		c.Select(n - 1)
		showExercise(w, a, c)

	case "done":
		c.Complete()
		fmt.Fprintf(w, "%s %d/%d\n", doneStyle.Render("completed"), c.CompletedCount(), len(c.Module().Exercises))
		showExercise(w, a, c)

	case "sound":
		a.prefs.SetSoundEnabled(arg != "off")
		if arg == "off" {
			c.Close()
		}

	case "lang":
		lang, err := prefs.ParseLanguage(arg)
		if err != nil {
			return err
		}
		a.prefs.SetLanguage(lang)
		showExercise(w, a, c)

	case "size":
		size, err := prefs.ParseTextSize(arg)
		if err != nil {
			return err
		}
		a.prefs.SetTextSize(size)

	case "check":
		state := a.progress.Toggle(arg)
		fmt.Fprintf(w, "%s: %t\n", arg, state)

	case "status":
		p := c.Progress()
		fmt.Fprintf(w, "exercise %d/%d playing=%t practicing=%t repetition=%d/%d\n",
			c.Index()+1, len(c.Module().Exercises), c.IsPlaying(), c.IsPracticing(), p.Current, p.Total)
		fmt.Fprintf(w, "sound=%t lang=%s size=%s (x%.2f) checklist=%v\n",
			a.prefs.SoundEnabled(), a.prefs.Language(), a.prefs.TextSize(),
			a.prefs.TextSize().Multiplier(), a.progress.Completed())

	case "help":
		fmt.Fprintln(w, replHelp)

	case "quit", "exit":
		return errQuit

	default:
		return fmt.Errorf("unknown command %q, try help", fields[0])
	}

	return nil
}

// report prints whether a toggle started or stopped playback.
func report(w io.Writer, s *engine.Session, err error) error {
	if err != nil {
		return err
	}
	if s == nil {
		fmt.Fprintln(w, dimStyle.Render("stopped"))
		return nil
	}
	fmt.Fprintln(w, dimStyle.Render(string(s.Kind())))
	return nil
}

func showExercise(w io.Writer, a *app, c *session.Controller) {
	ex := c.Exercise()
	mark := ""
	if c.IsCompleted(ex.ID) {
		mark = doneStyle.Render(" [x]")
	}
	fmt.Fprintf(w, "%d/%d%s\n", c.Index()+1, len(c.Module().Exercises), mark)
	printExercise(w, a.prefs.Language(), &ex)
}
