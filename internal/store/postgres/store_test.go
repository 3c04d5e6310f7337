package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawler-frontier/internal/frontier"
)

var now = time.Unix(1700000000, 0).UTC()

func querySpec(shard int) frontier.QuerySpec {
	return frontier.QuerySpec{
		ReadyBefore:     now,
		PartitionField:  "hostname",
		MaxPerPartition: 2,
		MaxPartitions:   3,
		SampleSize:      6,
		TopHitsSize:     6,
		Shard:           shard,
	}
}

func TestSearchGroupsRankedRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock, "frontier", nil)
	require.NoError(t, err)

	rows := mock.NewRows([]string{"url", "metadata", "next_fetch_date", "partition_value"}).
		AddRow("https://a.com/1", []byte(`{"hostname":["a.com"]}`), now.Add(-time.Hour), "a.com").
		AddRow("https://b.com/1", []byte(`{"hostname":["b.com"],"depth":["2"]}`), now.Add(-time.Minute), "b.com").
		AddRow("https://a.com/2", []byte(`{"hostname":["a.com"]}`), now.Add(-time.Minute), "a.com")
	mock.ExpectQuery("SELECT url, metadata, next_fetch_date, partition_value FROM").
		WithArgs("hostname", now, 2, 6).
		WillReturnRows(rows)

	res, err := store.Search(context.Background(), querySpec(frontier.NoShard))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, res.Buckets, 2)
	require.Equal(t, "a.com", res.Buckets[0].Partition)
	require.Len(t, res.Buckets[0].Records, 2)
	require.Equal(t, "b.com", res.Buckets[1].Partition)

	rec := res.Buckets[1].Records[0]
	url, ok := rec.URL()
	require.True(t, ok)
	require.Equal(t, "https://b.com/1", url)
	meta := frontier.FromKeyValues(rec.Source)
	require.Equal(t, []string{"2"}, meta["depth"])
}

func TestSearchAddsShardFilter(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock, "", nil)
	require.NoError(t, err)

	mock.ExpectQuery(`FROM frontier\s+WHERE next_fetch_date <= \$2 AND shard = \$5`).
		WithArgs("hostname", now, 2, 6, 3).
		WillReturnRows(mock.NewRows([]string{"url", "metadata", "next_fetch_date", "partition_value"}))

	res, err := store.Search(context.Background(), querySpec(3))
	require.NoError(t, err)
	require.Zero(t, res.Total())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchWrapsQueryFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock, "frontier", nil)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT url").WillReturnError(errors.New("connection reset"))
	_, err = store.Search(context.Background(), querySpec(frontier.NoShard))
	require.ErrorIs(t, err, frontier.ErrStoreUnavailable)
	require.ErrorContains(t, err, "connection reset")
}

func TestUpsertCandidate(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock, "frontier", nil)
	require.NoError(t, err)

	c := frontier.Candidate{
		URL:           "https://a.com/",
		NextFetchDate: now,
		Metadata:      frontier.Metadata{"hostname": {"a.com"}},
		Shard:         1,
	}
	mock.ExpectExec("INSERT INTO frontier").
		WithArgs(c.URL, c.NextFetchDate, []byte(`{"hostname":["a.com"]}`), c.Shard).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Upsert(context.Background(), c))
	require.NoError(t, mock.ExpectationsWereMet())
	require.Error(t, store.Upsert(context.Background(), frontier.Candidate{}))
}

func TestPingFailureIsUnavailable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock, "frontier", nil)
	require.NoError(t, err)

	mock.ExpectPing().WillReturnError(errors.New("refused"))
	require.ErrorIs(t, store.Ping(context.Background()), frontier.ErrStoreUnavailable)
}

func TestConstructorValidation(t *testing.T) {
	t.Parallel()

	_, err := NewStoreWithPool(nil, "frontier", nil)
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewStoreWithPool(mock, "frontier; DROP TABLE x", nil)
	require.ErrorContains(t, err, "invalid table name")

	_, err = NewStore(context.Background(), Config{}, nil)
	require.ErrorContains(t, err, "postgres.dsn is required")
}
