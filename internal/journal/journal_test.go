package journal_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/wil-sub001/internal/journal"
)

func openJournal(t *testing.T) *journal.Journal {
	t.Helper()
	j, err := journal.Open(filepath.Join(t.TempDir(), "state", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestRecord_FillsDefaults(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()

	e, err := j.Record(ctx, journal.Entry{WatchID: "w1", Path: "/tmp/a", Kind: "modify"})
	require.NoError(t, err)
	require.NotEmpty(t, e.ID)
	require.False(t, e.RecordedAt.IsZero())
	require.Equal(t, time.UTC, e.RecordedAt.Location())

	n, err := j.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestRecord_RejectsIncompleteEntry(t *testing.T) {
	j := openJournal(t)
	_, err := j.Record(context.Background(), journal.Entry{Path: "/tmp/a", Kind: "modify"})
	require.Error(t, err)
}

func TestList_NewestFirstWithFilters(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	rows := []journal.Entry{
		{WatchID: "w1", Path: "/a", Kind: "modify", RecordedAt: base},
		{WatchID: "w1", Path: "/a", Kind: "modify", RecordedAt: base.Add(time.Second)},
		{WatchID: "w2", Path: "/b", Kind: "modify", RecordedAt: base.Add(2 * time.Second)},
		{WatchID: "w1", Path: "/a", Kind: "delete", RecordedAt: base.Add(3 * time.Second)},
	}
	for _, r := range rows {
		_, err := j.Record(ctx, r)
		require.NoError(t, err)
	}

	all, err := j.List(ctx, journal.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.Equal(t, "delete", all[0].Kind)
	require.True(t, all[0].RecordedAt.Equal(base.Add(3*time.Second)))

	onlyA, err := j.List(ctx, journal.Filter{Path: "/a", Kind: "modify"})
	require.NoError(t, err)
	require.Len(t, onlyA, 2)
	for _, e := range onlyA {
		require.Equal(t, "/a", e.Path)
	}

	limited, err := j.List(ctx, journal.Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestList_OrdersWithinOneSecond(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	// Inserted out of order; text forms of these times would not sort.
	offsets := []time.Duration{
		120 * time.Millisecond,
		100 * time.Millisecond,
		0,
		999_999_999,
		100*time.Millisecond + 1,
	}
	for _, d := range offsets {
		_, err := j.Record(ctx, journal.Entry{WatchID: "w", Path: "/a", Kind: "modify", RecordedAt: base.Add(d)})
		require.NoError(t, err)
	}

	got, err := j.List(ctx, journal.Filter{})
	require.NoError(t, err)
	require.Len(t, got, len(offsets))
	for i := 1; i < len(got); i++ {
		require.True(t, got[i-1].RecordedAt.After(got[i].RecordedAt),
			"row %d (%s) should be newer than row %d (%s)", i-1, got[i-1].RecordedAt, i, got[i].RecordedAt)
	}
	require.True(t, got[0].RecordedAt.Equal(base.Add(999_999_999)))
	require.True(t, got[len(got)-1].RecordedAt.Equal(base))
}

func TestOpen_PathWithURIMetacharacters(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "odd?name#dir")
	path := filepath.Join(dir, "journal 1.db")
	ctx := context.Background()

	j, err := journal.Open(path)
	require.NoError(t, err)
	_, err = j.Record(ctx, journal.Entry{WatchID: "w", Path: "/p", Kind: "modify"})
	require.NoError(t, err)
	require.NoError(t, j.Close())

	_, err = os.Stat(path)
	require.NoError(t, err, "database must be created at the literal path")
}

func TestJournal_ConcurrentRecord(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := j.Record(ctx, journal.Entry{WatchID: "w", Path: "/p", Kind: []string{"modify", "delete"}[i%2]})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := j.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 8, n)
}

func TestJournal_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	j, err := journal.Open(path)
	require.NoError(t, err)
	_, err = j.Record(ctx, journal.Entry{WatchID: "w", Path: "/p", Kind: "modify"})
	require.NoError(t, err)
	require.NoError(t, j.Close())

	j, err = journal.Open(path)
	require.NoError(t, err)
	defer j.Close()
	require.Equal(t, path, j.Path())
	n, err := j.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := journal.Open("")
	require.Error(t, err)
}
