package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"calmerge/internal/calendar"
	"calmerge/internal/model"
)

func addEvent(topLevel *cobra.Command, opts *rootOptions) {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Create and change manual events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(
		newEventCreate(opts),
		newEventMove(opts),
		newEventResize(opts),
		newEventDelete(opts),
	)
	topLevel.AddCommand(cmd)
}

func newEventCreate(opts *rootOptions) *cobra.Command {
	var (
		start, end    string
		allDay        bool
		draft         model.EventDraft
		statusStr     string
		titleFromArgs string
	)

	cmd := &cobra.Command{
		Use:   "create TITLE...",
		Short: "Create a manual event",
		Example: `
calmerge event create Team standup --start=2024-01-01T09:15 --end=2024-01-01T09:45 --rule="FREQ=WEEKLY;BYDAY=MO"
`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return errors.New("requires an event title")
			}
			titleFromArgs = strings.Join(args, " ")
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			draft.OrgID = a.cfg.OrgID
			draft.Title = titleFromArgs
			draft.AllDay = allDay
			if draft.StartAt, err = parseWhen(start, a.loc); err != nil {
				return err
			}
			if end != "" {
				t, err := parseWhen(end, a.loc)
				if err != nil {
					return err
				}
				draft.EndAt = &t
			}
			if statusStr != "" {
				if draft.Status, err = model.ParseStatus(statusStr); err != nil {
					return err
				}
			}

			ev, err := a.coord.Create(cmd.Context(), nil, draft)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.GreenString("created"), ev.Key())
			return err
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "Start time (RFC3339, YYYY-MM-DDTHH:MM or YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "End time")
	cmd.Flags().BoolVar(&allDay, "all-day", false, "All-day event")
	cmd.Flags().StringVar(&draft.RecurrenceRule, "rule", "", "Recurrence rule, e.g. FREQ=WEEKLY;BYDAY=MO")
	cmd.Flags().StringVar(&draft.Description, "description", "", "Description")
	cmd.Flags().StringVar(&statusStr, "status", "", "Status (default confirmed)")
	cmd.Flags().StringVar(&draft.BranchID, "branch", "", "Branch id")
	cmd.Flags().StringVar(&draft.AssignedTo, "assignee", "", "Assignee id")
	cmd.Flags().StringVar(&draft.Color, "color", "", "Display color")
	cmd.Flags().StringVar(&draft.Location, "location", "", "Location")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

func newEventMove(opts *rootOptions) *cobra.Command {
	var (
		date string
		hour int
	)

	cmd := &cobra.Command{
		Use:   "move ID",
		Short: "Move an event to another day and hour, keeping its minutes and duration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := model.ParseDate(date)
			if err != nil {
				return err
			}
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			m, err := a.coord.Move(cmd.Context(), nil, args[0], d, hour)
			return reportMutation(cmd.OutOrStdout(), m, err)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Target date YYYY-MM-DD")
	cmd.Flags().IntVar(&hour, "hour", 0, "Target hour 0-23")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func newEventResize(opts *rootOptions) *cobra.Command {
	var start, end string

	cmd := &cobra.Command{
		Use:   "resize ID",
		Short: "Change an event's start and end",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := parseWhen(start, a.loc)
			if err != nil {
				return err
			}
			e, err := parseWhen(end, a.loc)
			if err != nil {
				return err
			}
			m, err := a.coord.Resize(cmd.Context(), nil, args[0], s, e)
			return reportMutation(cmd.OutOrStdout(), m, err)
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "New start")
	cmd.Flags().StringVar(&end, "end", "", "New end")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newEventDelete(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a manual event and its exceptions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			m, err := a.coord.Delete(cmd.Context(), nil, args[0])
			return reportMutation(cmd.OutOrStdout(), m, err)
		},
	}
}

func reportMutation(w io.Writer, m *calendar.Mutation, err error) error {
	if err != nil {
		return err
	}
	line := fmt.Sprintf("%s %s %s", color.GreenString(m.State.String()), m.Kind, m.Key)
	if m.After != nil {
		line += " -> " + when(*m.After)
	}
	_, err = fmt.Fprintln(w, line)
	return err
}
