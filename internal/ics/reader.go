package ics

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	appLog "calmerge/internal/log"
	"calmerge/internal/model"
)

// FeedReader serves configured ICS feeds as the read-only subscription
// source. Feeds are expanded per query, so every row it returns is a
// concrete instance and it never reports recurring anchors.
type FeedReader struct {
	fetcher        *Fetcher
	feeds          []Feed
	loc            *time.Location
	maxOccurrences int
}

func NewFeedReader(fetcher *Fetcher, feeds []Feed, loc *time.Location, maxOccurrences int) *FeedReader {
	if loc == nil {
		loc = time.Local
	}
	return &FeedReader{
		fetcher:        fetcher,
		feeds:          feeds,
		loc:            loc,
		maxOccurrences: maxOccurrences,
	}
}

func (r *FeedReader) SourceType() model.SourceType {
	return model.SourceSubscription
}

// FetchInWindow fetches every feed concurrently. A feed that cannot be
// fetched and has no cached copy fails the call.
func (r *FeedReader) FetchInWindow(ctx context.Context, orgID string, from, to time.Time, f model.Filters) ([]model.RawEventRow, error) {
	results := make([][]model.RawEventRow, len(r.feeds))
	g, gctx := errgroup.WithContext(ctx)
	for i, feed := range r.feeds {
		g.Go(func() error {
			rows, err := r.feedRows(gctx, feed, from, to)
			if err != nil {
				return fmt.Errorf("feed %s: %w", feed.ID, err)
			}
			results[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]model.RawEventRow, 0)
	for _, rows := range results {
		for _, row := range rows {
			row.OrgID = orgID
			if f.Match(row) {
				out = append(out, row)
			}
		}
	}
	return out, nil
}

func (r *FeedReader) FetchRecurringAnchorsBefore(context.Context, string, time.Time, model.Filters) ([]model.RawEventRow, error) {
	return nil, nil
}

func (r *FeedReader) feedRows(ctx context.Context, feed Feed, from, to time.Time) ([]model.RawEventRow, error) {
	res, err := r.fetcher.FetchOne(ctx, feed)
	if err != nil {
		return nil, err
	}
	parsed, err := ParseICS(feed, res.Body)
	if err != nil {
		return nil, err
	}
	expanded, err := ExpandOccurrences(parsed, ExpandConfig{
		Location:               r.loc,
		From:                   from,
		To:                     to,
		MaxOccurrencesPerEvent: r.maxOccurrences,
	})
	if err != nil {
		return nil, err
	}
	return expanded.Rows, nil
}

// Refresh fetches every feed once to keep the disk cache warm. Failures
// are logged and counted; they do not stop the other feeds.
func (r *FeedReader) Refresh(ctx context.Context) int {
	results, errs := r.fetcher.FetchAll(ctx, r.feeds)
	appLog.Info("feed refresh done", "feeds", len(r.feeds), "ok", len(results), "failed", len(errs))
	return len(errs)
}
