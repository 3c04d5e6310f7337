// Package memory provides an in-process frontier store built on go-memdb,
// used for local development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-memdb"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-frontier/internal/frontier"
)

const (
	candidatesTable = "candidates"
	idIndex         = "id"    // unique by url
	readyIndex      = "ready" // ascending next fetch date
)

type row struct {
	URL       string
	ReadyAt   int64
	Candidate frontier.Candidate
}

// Store keeps candidates in an immutable radix tree indexed by readiness.
type Store struct {
	db     *memdb.MemDB
	logger *zap.Logger
}

// NewStore constructs an empty store.
func NewStore(logger *zap.Logger) (*Store, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("create memdb: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}, nil
}

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			candidatesTable: {
				Name: candidatesTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:    idIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "URL"},
					},
					readyIndex: {
						Name:    readyIndex,
						Unique:  false,
						Indexer: &memdb.IntFieldIndex{Field: "ReadyAt"},
					},
				},
			},
		},
	}
}

// Upsert inserts or replaces candidates keyed by URL.
func (s *Store) Upsert(_ context.Context, candidates ...frontier.Candidate) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	for _, c := range candidates {
		if c.URL == "" {
			return errors.New("candidate url is required")
		}
		c.Metadata = c.Metadata.Clone()
		r := &row{URL: c.URL, ReadyAt: c.NextFetchDate.UnixNano(), Candidate: c}
		if err := txn.Insert(candidatesTable, r); err != nil {
			return fmt.Errorf("insert candidate %q: %w", c.URL, err)
		}
	}
	txn.Commit()
	return nil
}

// Delete removes candidates by URL. Unknown URLs are ignored.
func (s *Store) Delete(_ context.Context, urls ...string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	for _, url := range urls {
		if err := txn.Delete(candidatesTable, &row{URL: url}); err != nil && !errors.Is(err, memdb.ErrNotFound) {
			return fmt.Errorf("delete candidate %q: %w", url, err)
		}
	}
	txn.Commit()
	return nil
}

// Len returns the number of stored candidates.
func (s *Store) Len() int {
	txn := s.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(candidatesTable, idIndex)
	if err != nil {
		return 0
	}
	n := 0
	for obj := it.Next(); obj != nil; obj = it.Next() {
		n++
	}
	return n
}

// Search walks due candidates in next fetch order and samples at most
// MaxPerPartition of them per partition, across at most MaxPartitions
// partitions, capped at SampleSize records in total.
func (s *Store) Search(ctx context.Context, spec frontier.QuerySpec) (frontier.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return frontier.SearchResult{}, fmt.Errorf("memory search: %w", err)
	}
	s.logger.Debug("frontier query",
		zap.Time("ready_before", spec.ReadyBefore),
		zap.String("partition_field", spec.PartitionField),
		zap.Int("sample_size", spec.SampleSize),
		zap.Int("shard", spec.Shard),
	)

	txn := s.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(candidatesTable, readyIndex)
	if err != nil {
		return frontier.SearchResult{}, fmt.Errorf("memory search: %w", err)
	}

	cutoff := spec.ReadyBefore.UnixNano()
	perPartition := make(map[string]int)
	var (
		partitions []string
		records    []frontier.RawRecord
	)
	for obj := it.Next(); obj != nil; obj = it.Next() {
		r := obj.(*row)
		if r.ReadyAt > cutoff {
			break
		}
		if spec.SampleSize > 0 && len(records) >= spec.SampleSize {
			break
		}
		if spec.Shard >= 0 && r.Candidate.Shard != spec.Shard {
			continue
		}
		key := r.Candidate.Metadata.First(spec.PartitionField)
		count, seen := perPartition[key]
		if !seen && spec.MaxPartitions > 0 && len(perPartition) >= spec.MaxPartitions {
			continue
		}
		if spec.MaxPerPartition > 0 && count >= spec.MaxPerPartition {
			continue
		}
		perPartition[key] = count + 1
		partitions = append(partitions, key)
		records = append(records, frontier.RawRecord{ID: r.URL, Source: r.Candidate.Source()})
	}
	return frontier.SearchResult{Buckets: frontier.GroupBuckets(partitions, records)}, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

