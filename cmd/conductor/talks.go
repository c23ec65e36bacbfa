package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/alekspetrov/conductor/internal/logging"
	"github.com/alekspetrov/conductor/internal/scheduler"
	"github.com/alekspetrov/conductor/internal/talk"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7eb8da")) // steel blue

	activeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7ec699")) // sage green

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#d48a8a")) // dusty rose

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8b949e")) // mid gray
)

// talkRow is one line of the talks listing.
type talkRow struct {
	Number  int64
	Name    string
	Active  bool
	Later   bool
	Request string
	Daemon  string
	Updated time.Time
}

func newTalksCmd(load loader) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "talks",
		Short: "List talks, most recently modified first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logging.Suppress()
			store, err := talk.Open(cfg.Storage.Driver, cfg.Storage.Path)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			rows, err := collectTalks(cmd.Context(), store, all)
			if err != nil {
				return err
			}
			renderTalks(cmd.OutOrStdout(), rows, time.Now())
			return nil
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include archived talks")
	return cmd
}

func newTalkCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "talk <name>",
		Short: "Print the document of a talk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logging.Suppress()
			store, err := talk.Open(cfg.Storage.Driver, cfg.Storage.Path)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			t, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			doc, err := t.Read(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), doc.String())
			return err
		},
	}
}

func newTicksCmd(load loader) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "ticks",
		Short: "Show recent scheduler heartbeats",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logging.Suppress()
			store, err := talk.Open(cfg.Storage.Driver, cfg.Storage.Path)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			pulse, err := scheduler.NewPulse(store.DB())
			if err != nil {
				return err
			}
			ticks, err := pulse.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			renderTicks(cmd.OutOrStdout(), ticks, time.Now())
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of ticks to show")
	return cmd
}

func collectTalks(ctx context.Context, store *talk.Store, all bool) ([]talkRow, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var (
		talks []talk.Talk
		err   error
	)
	if all {
		talks, err = store.All(ctx)
	} else {
		talks, err = store.Active(ctx)
	}
	if err != nil {
		return nil, err
	}
	rows := make([]talkRow, 0, len(talks))
	for _, t := range talks {
		doc, err := t.Read(ctx)
		if err != nil {
			return nil, err
		}
		active, err := t.Active(ctx)
		if err != nil {
			return nil, err
		}
		updated, err := t.Updated(ctx)
		if err != nil {
			return nil, err
		}
		row := talkRow{
			Number:  t.Number(),
			Name:    t.Name(),
			Active:  active,
			Later:   doc.Later(),
			Daemon:  daemonState(doc),
			Updated: updated,
		}
		if req, ok := doc.Request(); ok {
			row.Request = req.Type
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func daemonState(doc *talk.Doc) string {
	d, ok := doc.Daemon()
	switch {
	case !ok:
		return ""
	case d.IsEnded():
		return fmt.Sprintf("ended (%d)", d.Code)
	case d.IsStarted():
		return "running"
	default:
		return "declared"
	}
}

func renderTalks(w io.Writer, rows []talkRow, now time.Time) {
	if len(rows) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no talks"))
		return
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%-5s %-32s %-8s %-8s %-12s %s",
		"#", "TALK", "STATE", "REQUEST", "DAEMON", "UPDATED")))
	for _, r := range rows {
		state := activeStyle.Render(fmt.Sprintf("%-8s", "active"))
		if !r.Active {
			state = dimStyle.Render(fmt.Sprintf("%-8s", "archived"))
		} else if r.Later {
			state = activeStyle.Render(fmt.Sprintf("%-8s", "later"))
		}
		fmt.Fprintf(w, "%-5d %-32s %s %-8s %-12s %s\n",
			r.Number, truncate(r.Name, 32), state, dash(r.Request), dash(r.Daemon),
			dimStyle.Render(humanize.RelTime(r.Updated, now, "ago", "from now")))
	}
}

func renderTicks(w io.Writer, ticks []scheduler.Tick, now time.Time) {
	if len(ticks) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no ticks recorded"))
		return
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%-16s %-10s %-6s %s", "STARTED", "DURATION", "TALKS", "ERROR")))
	for _, t := range ticks {
		errText := dash(firstLine(t.Error))
		if t.Error != "" {
			errText = failStyle.Render(errText)
		}
		fmt.Fprintf(w, "%-16s %-10s %-6d %s\n",
			humanize.RelTime(t.Start, now, "ago", "from now"),
			t.Duration.Round(time.Millisecond), t.Total, errText)
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
