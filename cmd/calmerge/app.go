package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"calmerge/internal/calendar"
	"calmerge/internal/config"
	"calmerge/internal/ics"
	appLog "calmerge/internal/log"
	"calmerge/internal/model"
	"calmerge/internal/store"
)

const version = "0.1.0"

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	logLevel   string
}

// app is the wired engine for one command invocation.
type app struct {
	cfg   *config.Config
	loc   *time.Location
	store *store.Store
	feeds *ics.FeedReader
	agg   *calendar.Aggregator
	coord *calendar.Coordinator
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "calmerge",
		Short:         "Merge events from every source into one calendar.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "./calmerge.yaml", "Path to config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (overrides config if set)")

	addServe(cmd, opts)
	addQuery(cmd, opts)
	addRange(cmd, opts)
	addRule(cmd)
	addEvent(cmd, opts)
	addException(cmd, opts)
	addImport(cmd, opts)
	addExport(cmd, opts)
	return cmd
}

// loadConfig reads the config file and applies the log level.
func loadConfig(opts *rootOptions) (*config.Config, *time.Location, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", opts.configPath, err)
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))

	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, err
	}
	return cfg, loc, nil
}

// openApp wires store, feeds, aggregator and coordinator from config.
func openApp(opts *rootOptions) (*app, error) {
	cfg, loc, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, err
	}

	readers := st.Readers()
	var feeds *ics.FeedReader
	if len(cfg.Feeds) > 0 {
		fetcher := ics.NewFetcher(cfg.FeedCacheDir)
		feeds = ics.NewFeedReader(fetcher, feedsFromConfig(cfg.Feeds), loc, cfg.MaxOccurrencesPerEvent)
		readers = append(readers, feeds)
	}

	a := &app{
		cfg:   cfg,
		loc:   loc,
		store: st,
		feeds: feeds,
		agg:   calendar.NewAggregator(readers, st, loc, calendar.WithMaxOccurrences(cfg.MaxOccurrencesPerEvent)),
		coord: calendar.NewCoordinator(st, st,
			calendar.WithLocation(loc),
			calendar.WithMinGranularity(cfg.MinGranularity()),
		),
	}
	appLog.Debug("engine wired",
		"database", cfg.Database,
		"timezone", loc.String(),
		"readers", len(readers),
		"feeds", len(cfg.Feeds),
	)
	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// feedsFromConfig skips feeds without a URL and fills a missing id from the
// name or URL.
func feedsFromConfig(in []config.FeedConfig) []ics.Feed {
	out := make([]ics.Feed, 0, len(in))
	for _, fc := range in {
		if strings.TrimSpace(fc.URL) == "" {
			continue
		}
		id := fc.ID
		if id == "" {
			if fc.Name != "" {
				id = fc.Name
			} else {
				id = fc.URL
			}
		}
		out = append(out, ics.Feed{ID: id, Name: fc.Name, URL: fc.URL})
	}
	return out
}

// viewOptions select a window the way the HTTP API does.
type viewOptions struct {
	view string
	date string
}

func addViewFlags(cmd *cobra.Command, vo *viewOptions) {
	cmd.Flags().StringVar(&vo.view, "view", "month", "View: month, week, day or agenda")
	cmd.Flags().StringVar(&vo.date, "date", "", "Reference date YYYY-MM-DD (default today)")
}

func (vo *viewOptions) window(loc *time.Location, weekStart time.Weekday, now time.Time) (calendar.View, calendar.Range, error) {
	view, err := calendar.ParseView(vo.view)
	if err != nil {
		return "", calendar.Range{}, err
	}
	ref := now.In(loc)
	if vo.date != "" {
		d, err := model.ParseDate(vo.date)
		if err != nil {
			return "", calendar.Range{}, err
		}
		ref = d.In(loc)
	}
	return view, calendar.RangeFor(view, ref, weekStart), nil
}

// filterOptions mirror the HTTP query filters.
type filterOptions struct {
	branch   string
	assignee string
	statuses []string
	sources  []string
}

func addFilterFlags(cmd *cobra.Command, fo *filterOptions) {
	cmd.Flags().StringVar(&fo.branch, "branch", "", "Only events of this branch")
	cmd.Flags().StringVar(&fo.assignee, "assignee", "", "Only events assigned to this person")
	cmd.Flags().StringSliceVar(&fo.statuses, "status", nil, "Only these statuses")
	cmd.Flags().StringSliceVar(&fo.sources, "source", nil, "Only these source types")
}

func (fo *filterOptions) filters() (model.Filters, error) {
	f := model.Filters{BranchID: fo.branch, AssigneeID: fo.assignee}
	for _, s := range fo.statuses {
		st, err := model.ParseStatus(s)
		if err != nil {
			return f, err
		}
		f.Statuses = append(f.Statuses, st)
	}
	for _, s := range fo.sources {
		st, err := model.ParseSourceType(s)
		if err != nil {
			return f, err
		}
		f.SourceTypes = append(f.SourceTypes, st)
	}
	return f, nil
}

var timeLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	model.DateLayout,
}

// parseWhen accepts RFC3339, or a local "YYYY-MM-DDTHH:MM" / "YYYY-MM-DD"
// interpreted in loc.
func parseWhen(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}
