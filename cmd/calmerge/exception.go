package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"calmerge/internal/model"
)

func addException(topLevel *cobra.Command, opts *rootOptions) {
	cmd := &cobra.Command{
		Use:   "exception",
		Short: "Cancel or modify single occurrences of a recurring event",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var (
		date, typ          string
		start, end         string
		title, description string
	)
	add := &cobra.Command{
		Use:   "add ANCHOR_ID",
		Short: "Add an exception for one occurrence date",
		Example: `
calmerge exception add 7b0c... --date=2024-01-08 --type=cancelled
calmerge exception add 7b0c... --date=2024-01-15 --type=modified --start=2024-01-15T14:00 --end=2024-01-15T15:00
`,
		Args: cobra.ExactArgs(1),
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

			exc := model.CalendarException{
				OwnerID:      args[0],
				OriginalDate: d,
				Type:         model.ExceptionType(typ),
			}
			if start != "" {
				t, err := parseWhen(start, a.loc)
				if err != nil {
					return err
				}
				exc.NewStartAt = &t
			}
			if end != "" {
				t, err := parseWhen(end, a.loc)
				if err != nil {
					return err
				}
				exc.NewEndAt = &t
			}
			if cmd.Flags().Changed("title") {
				exc.NewTitle = &title
			}
			if cmd.Flags().Changed("description") {
				exc.NewDescription = &description
			}

			created, err := a.coord.AddException(cmd.Context(), exc)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s on %s\n", color.GreenString("added"), created.Type, created.OwnerID, created.OriginalDate)
			return err
		},
	}
	add.Flags().StringVar(&date, "date", "", "Original occurrence date YYYY-MM-DD")
	add.Flags().StringVar(&typ, "type", string(model.ExceptionCancelled), "cancelled or modified")
	add.Flags().StringVar(&start, "start", "", "New start (modified only)")
	add.Flags().StringVar(&end, "end", "", "New end (modified only)")
	add.Flags().StringVar(&title, "title", "", "New title (modified only)")
	add.Flags().StringVar(&description, "description", "", "New description (modified only)")
	_ = add.MarkFlagRequired("date")

	var rmDate string
	rm := &cobra.Command{
		Use:   "rm ANCHOR_ID",
		Short: "Remove the exception of one occurrence date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := model.ParseDate(rmDate)
			if err != nil {
				return err
			}
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.coord.RemoveException(cmd.Context(), args[0], d); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s exception %s on %s\n", color.GreenString("removed"), args[0], d)
			return err
		},
	}
	rm.Flags().StringVar(&rmDate, "date", "", "Original occurrence date YYYY-MM-DD")
	_ = rm.MarkFlagRequired("date")

	cmd.AddCommand(add, rm)
	topLevel.AddCommand(cmd)
}
