package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"calmerge/internal/recurrence"
)

func addRule(topLevel *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "rule",
		Short: "Inspect recurrence rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	parse := &cobra.Command{
		Use:   "parse RULE",
		Short: "Print the canonical form and description of a rule",
		Example: `
calmerge rule parse "FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,WE;COUNT=5"
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := recurrence.Parse(args[0])
			tbl := uitable.New()
			tbl.Separator = "  "
			tbl.AddRow(bold("Canonical"), r.String())
			tbl.AddRow(bold("Repeats"), r.Enabled)
			tbl.AddRow(bold("Description"), r.Describe())
			_, err := fmt.Fprintln(cmd.OutOrStdout(), tbl)
			return err
		},
	}

	var (
		start string
		end   string
		count int
	)
	preview := &cobra.Command{
		Use:   "preview RULE",
		Short: "List the next occurrences of a rule",
		Example: `
calmerge rule preview "FREQ=MONTHLY;BYMONTHDAY=31" --start=2024-01-31T09:00 --count=4
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc := time.Local
			anchorStart := time.Now().In(loc).Truncate(time.Minute)
			if start != "" {
				t, err := parseWhen(start, loc)
				if err != nil {
					return err
				}
				anchorStart = t
			}
			var anchorEnd time.Time
			if end != "" {
				t, err := parseWhen(end, loc)
				if err != nil {
					return err
				}
				if !t.After(anchorStart) {
					return errors.New("--end must be after --start")
				}
				anchorEnd = t
			}

			r := recurrence.Parse(args[0])
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), bold(r.Describe()))

			tbl := uitable.New()
			tbl.Separator = "  "
			tbl.AddRow(bold("#"), bold("Start"), bold("End"))
			for _, o := range recurrence.Preview(anchorStart, anchorEnd, r, time.Time{}, count) {
				endStr := ""
				if !o.End.IsZero() {
					endStr = o.End.Format("2006-01-02 15:04")
				}
				tbl.AddRow(o.Index, o.Start.Format("Mon 2006-01-02 15:04"), endStr)
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), tbl)
			return err
		},
	}
	preview.Flags().StringVar(&start, "start", "", "Anchor start (default now)")
	preview.Flags().StringVar(&end, "end", "", "Anchor end")
	preview.Flags().IntVar(&count, "count", 5, "Number of occurrences")

	cmd.AddCommand(parse, preview)
	topLevel.AddCommand(cmd)
}
