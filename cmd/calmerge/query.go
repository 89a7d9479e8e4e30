package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"calmerge/internal/calendar"
	"calmerge/internal/ics"
	"calmerge/internal/model"
)

func addQuery(topLevel *cobra.Command, opts *rootOptions) {
	vo := &viewOptions{}
	fo := &filterOptions{}
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "query",
		Short: "List the merged occurrences of a view",
		Example: `
calmerge query --view=week --date=2024-01-17
calmerge query --source=shift,leave --branch=b1
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			view, win, err := vo.window(a.loc, a.cfg.FirstWeekday(), time.Now())
			if err != nil {
				return err
			}
			f, err := fo.filters()
			if err != nil {
				return err
			}

			events, err := a.agg.Query(cmd.Context(), a.cfg.OrgID, win, f)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(events)
			}
			printEvents(color.Output, view, win, events)
			return nil
		},
	}
	addViewFlags(cmd, vo)
	addFilterFlags(cmd, fo)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	topLevel.AddCommand(cmd)
}

func addRange(topLevel *cobra.Command, opts *rootOptions) {
	vo := &viewOptions{}

	cmd := &cobra.Command{
		Use:   "range",
		Short: "Print the time window a view covers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, loc, err := loadConfig(opts)
			if err != nil {
				return err
			}
			view, win, err := vo.window(loc, cfg.FirstWeekday(), time.Now())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s -> %s\n", view, win.From.Format(time.RFC3339), win.To.Format(time.RFC3339))
			return err
		},
	}
	addViewFlags(cmd, vo)
	topLevel.AddCommand(cmd)
}

func addExport(topLevel *cobra.Command, opts *rootOptions) {
	vo := &viewOptions{}
	fo := &filterOptions{}
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the merged occurrences of a view as ICS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			_, win, err := vo.window(a.loc, a.cfg.FirstWeekday(), time.Now())
			if err != nil {
				return err
			}
			f, err := fo.filters()
			if err != nil {
				return err
			}
			events, err := a.agg.Query(cmd.Context(), a.cfg.OrgID, win, f)
			if err != nil {
				return err
			}

			body := ics.ExportICS("calmerge "+a.cfg.OrgID, events, time.Now())
			if out == "" || out == "-" {
				_, err = io.WriteString(cmd.OutOrStdout(), body)
				return err
			}
			return os.WriteFile(out, []byte(body), 0o644)
		},
	}
	addViewFlags(cmd, vo)
	addFilterFlags(cmd, fo)
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default stdout)")
	topLevel.AddCommand(cmd)
}

// printEvents renders occurrences as a table grouped under a title line.
func printEvents(w io.Writer, view calendar.View, win calendar.Range, events []model.CalendarEvent) {
	t := color.New(color.Bold, color.Underline)
	c := color.New(color.Faint)

	_, _ = t.Fprintf(w, "%s %s", view, win.From.Format(model.DateLayout))
	_, _ = c.Fprintf(w, " - %d occurrences\n", len(events))

	if len(events) == 0 {
		f := color.New(color.Faint, color.Italic)
		_, _ = f.Fprintln(w, " none")
		return
	}

	tbl := uitable.New()
	tbl.Separator = "  "
	tbl.MaxColWidth = 48
	tbl.AddRow(bold("When"), bold("Source"), bold("Title"), bold("Status"), bold("Id"))
	for _, ev := range events {
		tbl.AddRow(when(ev), ev.SourceType, title(ev), status(ev.Status), ev.Key().String())
	}
	_, _ = fmt.Fprintln(w, tbl)
}

func bold(s string) string {
	return color.New(color.Bold).Sprint(s)
}

func when(ev model.CalendarEvent) string {
	if ev.AllDay {
		return ev.StartAt.Format("Mon 01-02") + " all day"
	}
	s := ev.StartAt.Format("Mon 01-02 15:04")
	if ev.EndAt != nil {
		s += "-" + ev.EndAt.Format("15:04")
	}
	return s
}

func title(ev model.CalendarEvent) string {
	if ev.IsRecurrenceInstance() {
		return ev.Title + color.New(color.Faint).Sprint(" (repeats)")
	}
	if ev.RecurrenceRule != "" {
		return ev.Title + color.New(color.FgHiYellow).Sprint(" (series)")
	}
	return ev.Title
}

func status(s model.Status) string {
	switch s {
	case model.StatusCancelled:
		return color.RedString(string(s))
	case model.StatusTentative, model.StatusPending:
		return color.YellowString(string(s))
	case model.StatusCompleted:
		return color.GreenString(string(s))
	default:
		return string(s)
	}
}
