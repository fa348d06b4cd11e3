package apic

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/cuemby/faultbridge/pkg/metrics"
)

// MaxResultSize is the controller's documented result-size ceiling. Counts
// at or above it are fetched in day buckets.
const MaxResultSize = 99000

// Interval is the half-open time range [Start, End)
type Interval struct {
	Start time.Time
	End   time.Time
}

func (iv Interval) String() string {
	return fmt.Sprintf("[%s, %s)", FormatTime(iv.Start), FormatTime(iv.End))
}

// DayBuckets partitions [since, now) into contiguous day-aligned intervals.
// The first bucket ends at the midnight after since (in since's location),
// the last ends at now. It returns nil when since is not before now.
func DayBuckets(since, now time.Time) []Interval {
	var out []Interval
	start := since
	for start.Before(now) {
		y, m, d := start.Date()
		end := time.Date(y, m, d+1, 0, 0, 0, 0, start.Location())
		if !end.Before(now) {
			end = now
		}
		out = append(out, Interval{Start: start, End: end})
		start = end
	}
	return out
}

// CheckpointFunc persists the end of the last completed bucket
type CheckpointFunc func(end time.Time) error

// Count returns the number of class records created within iv
func (c *Client) Count(ctx context.Context, class string, iv Interval) (int, error) {
	q := url.Values{
		"query-target-filter": {createdWithin(class, iv)},
		"rsp-subtree-include": {"count"},
	}
	resp, err := c.Query(ctx, classPath(class)+"?"+q.Encode())
	if err != nil {
		return 0, err
	}

	for _, rec := range resp.Records {
		if v, ok := rec.Attributes["count"]; ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return 0, &MalformedResponseError{Path: classPath(class), Reason: "invalid count " + strconv.Quote(v)}
			}
			return n, nil
		}
	}
	return resp.TotalCount, nil
}

// FetchInterval returns every class record created within iv
func (c *Client) FetchInterval(ctx context.Context, class string, iv Interval) ([]Record, error) {
	q := url.Values{"query-target-filter": {createdWithin(class, iv)}}
	resp, err := c.Query(ctx, classPath(class)+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// WalkHistorical fetches class records created in [since, now) and hands
// each fetched interval to fn in order. now is read once. Below
// MaxResultSize the whole range is one fetch; otherwise it is walked in
// DayBuckets. An error from fn stops the walk.
func (c *Client) WalkHistorical(ctx context.Context, class string, since time.Time, fn func(Interval, []Record) error) error {
	now := c.cfg.Now()
	if !since.Before(now) {
		return nil
	}

	whole := Interval{Start: since, End: now}
	count, err := c.Count(ctx, class, whole)
	if err != nil {
		return fmt.Errorf("failed to count %s records: %w", class, err)
	}

	if count < MaxResultSize {
		records, err := c.FetchInterval(ctx, class, whole)
		if err != nil {
			return fmt.Errorf("failed to fetch %s records %s: %w", class, whole, err)
		}
		return fn(whole, records)
	}

	buckets := DayBuckets(since, now)
	c.logger.Info().
		Str("class", class).
		Int("count", count).
		Int("buckets", len(buckets)).
		Msg("Result exceeds controller limit, paginating by day")

	for _, bucket := range buckets {
		if err := ctx.Err(); err != nil {
			return err
		}
		records, err := c.FetchInterval(ctx, class, bucket)
		if err != nil {
			return fmt.Errorf("failed to fetch %s records %s: %w", class, bucket, err)
		}
		metrics.PaginationBuckets.WithLabelValues(c.cluster).Inc()
		if err := fn(bucket, records); err != nil {
			return err
		}
	}
	return nil
}

// PaginatedHistoricalQuery collects every class record created since the
// given time. checkpoint, when set, is called with the end of each
// completed interval so an interrupted run can resume from there.
func (c *Client) PaginatedHistoricalQuery(ctx context.Context, class string, since time.Time, checkpoint CheckpointFunc) ([]Record, error) {
	var all []Record
	err := c.WalkHistorical(ctx, class, since, func(iv Interval, records []Record) error {
		all = append(all, records...)
		if checkpoint == nil {
			return nil
		}
		if err := checkpoint(iv.End); err != nil {
			return fmt.Errorf("failed to save checkpoint: %w", err)
		}
		return nil
	})
	return all, err
}
