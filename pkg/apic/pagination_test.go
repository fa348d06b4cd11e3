package apic_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuemby/faultbridge/pkg/apic"
	"github.com/cuemby/faultbridge/pkg/apic/apictest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDayBucketsPartition(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	tests := []struct {
		name  string
		since time.Time
		now   time.Time
		want  int
	}{
		{"same day", time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC), time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), 1},
		{"crosses midnight", time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC), time.Date(2024, 1, 2, 1, 0, 0, 0, time.UTC), 2},
		{"several days", time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC), time.Date(2024, 1, 5, 8, 15, 0, 0, time.UTC), 5},
		{"starts at midnight", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), 2},
		{"month boundary", time.Date(2024, 2, 28, 12, 0, 0, 0, time.UTC), time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), 3},
		{"zoned since", time.Date(2024, 1, 1, 22, 0, 0, 0, est), time.Date(2024, 1, 2, 6, 0, 0, 0, time.UTC), 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buckets := apic.DayBuckets(tt.since, tt.now)
			require.Len(t, buckets, tt.want)

			assert.True(t, buckets[0].Start.Equal(tt.since))
			assert.True(t, buckets[len(buckets)-1].End.Equal(tt.now))
			for i, b := range buckets {
				assert.True(t, b.Start.Before(b.End), "bucket %d is empty", i)
				if i > 0 {
					assert.True(t, buckets[i-1].End.Equal(b.Start), "gap or overlap before bucket %d", i)
				}
				if i < len(buckets)-1 {
					assert.Zero(t, b.End.Hour())
					assert.Zero(t, b.End.Minute())
				}
			}
		})
	}
}

func TestDayBucketsEmptyRange(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Empty(t, apic.DayBuckets(now, now))
	assert.Empty(t, apic.DayBuckets(now.Add(time.Hour), now))
}

func created(t time.Time) apic.Attributes {
	return apic.Attributes{"created": apic.FormatTime(t), "code": "F0532", "severity": "major"}
}

func TestPaginatedHistoricalQueryBelowLimit(t *testing.T) {
	srv := apictest.NewServer("admin", "secret")
	defer srv.Close()

	now := time.Date(2024, 1, 10, 15, 30, 0, 0, time.UTC)
	since := now.Add(-3 * 24 * time.Hour)
	srv.AddRecords("faultRecord",
		created(since.Add(-time.Minute)), // before range
		created(since),
		created(since.Add(30*time.Hour)),
		created(now.Add(-time.Second)),
		created(now), // excluded: upper bound is open
	)

	c := dial(t, srv, apic.Config{Now: func() time.Time { return now }})

	var checkpoints []time.Time
	records, err := c.PaginatedHistoricalQuery(context.Background(), "faultRecord", since, func(end time.Time) error {
		checkpoints = append(checkpoints, end)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, records, 3)

	// one count query plus exactly one direct fetch over [since, now)
	filters := srv.Filters("faultRecord")
	require.Len(t, filters, 2)
	assert.Equal(t, filters[0], filters[1])
	assert.Contains(t, filters[1], apic.FormatTime(since))
	assert.Contains(t, filters[1], apic.FormatTime(now))

	require.Len(t, checkpoints, 1)
	assert.True(t, checkpoints[0].Equal(now))
}

func TestPaginatedHistoricalQueryAboveLimit(t *testing.T) {
	srv := apictest.NewServer("admin", "secret")
	defer srv.Close()

	now := time.Date(2024, 1, 10, 15, 30, 0, 0, time.UTC)
	since := time.Date(2024, 1, 7, 20, 0, 0, 0, time.UTC)
	srv.SetCount("faultRecord", apic.MaxResultSize)
	srv.AddRecords("faultRecord",
		created(since.Add(time.Hour)),
		created(time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)),
		created(time.Date(2024, 1, 9, 12, 0, 0, 0, time.UTC)),
		created(now.Add(-time.Minute)),
	)

	c := dial(t, srv, apic.Config{Now: func() time.Time { return now }})

	var checkpoints []time.Time
	records, err := c.PaginatedHistoricalQuery(context.Background(), "faultRecord", since, func(end time.Time) error {
		checkpoints = append(checkpoints, end)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, records, 4)

	buckets := apic.DayBuckets(since, now)
	require.Len(t, buckets, 4)
	assert.Len(t, srv.Filters("faultRecord"), 1+len(buckets))

	require.Len(t, checkpoints, len(buckets))
	for i, b := range buckets {
		assert.True(t, checkpoints[i].Equal(b.End))
	}
	assert.True(t, checkpoints[len(checkpoints)-1].Equal(now))
}

func TestPaginatedHistoricalQueryStopsOnCheckpointError(t *testing.T) {
	srv := apictest.NewServer("admin", "secret")
	defer srv.Close()

	now := time.Date(2024, 1, 10, 15, 30, 0, 0, time.UTC)
	srv.SetCount("faultRecord", apic.MaxResultSize+1)
	c := dial(t, srv, apic.Config{Now: func() time.Time { return now }})

	calls := 0
	_, err := c.PaginatedHistoricalQuery(context.Background(), "faultRecord", now.Add(-72*time.Hour), func(time.Time) error {
		calls++
		return errors.New("disk full")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, calls)
	assert.Len(t, srv.Filters("faultRecord"), 2)
}

func TestPaginatedHistoricalQueryNothingToDo(t *testing.T) {
	srv := apictest.NewServer("admin", "secret")
	defer srv.Close()

	now := time.Date(2024, 1, 10, 15, 30, 0, 0, time.UTC)
	c := dial(t, srv, apic.Config{Now: func() time.Time { return now }})

	records, err := c.PaginatedHistoricalQuery(context.Background(), "faultRecord", now, nil)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Empty(t, srv.Filters("faultRecord"))
}
