// Package postgres provides a Postgres-backed frontier store.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-frontier/internal/frontier"
)

const defaultTable = "frontier"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for frontier rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	LogIDPrefix     string
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Ping(context.Context) error
	Close()
}

// Store reads due candidates from a table shaped like:
//
//	url TEXT PRIMARY KEY, next_fetch_date TIMESTAMPTZ, metadata JSONB, shard INT
type Store struct {
	pool   pool
	table  string
	prefix string
	logger *zap.Logger
}

// NewStore creates a pooled store using the provided config.
func NewStore(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if err := checkTable(cfg.Table); err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewStoreWithPool(p, cfg.Table, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	s.prefix = cfg.LogIDPrefix
	return s, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(p pool, table string, logger *zap.Logger) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if err := checkTable(table); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: p, table: table, logger: logger}, nil
}

func checkTable(table string) error {
	if table != "" && !validTableName.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: postgres ping: %v", frontier.ErrStoreUnavailable, err)
	}
	return nil
}

// searchSQL ranks due rows within each partition and orders by that rank so
// every partition contributes one row before any contributes a second.
func (s *Store) searchSQL(spec frontier.QuerySpec) (string, []any) {
	args := []any{spec.PartitionField, spec.ReadyBefore, spec.MaxPerPartition, spec.SampleSize}
	var where strings.Builder
	where.WriteString("next_fetch_date <= $2")
	if spec.Shard >= 0 {
		args = append(args, spec.Shard)
		where.WriteString(" AND shard = $5")
	}
	query := fmt.Sprintf(`
SELECT url, metadata, next_fetch_date, partition_value FROM (
	SELECT url, metadata, next_fetch_date,
		coalesce(metadata->$1->>0, '') AS partition_value,
		row_number() OVER (PARTITION BY metadata->$1->>0 ORDER BY next_fetch_date, url) AS rn
	FROM %s
	WHERE %s
) ranked
WHERE rn <= $3
ORDER BY rn, next_fetch_date, url
LIMIT $4`, s.table, where.String())
	return query, args
}

// Search runs the ranked sampling query and groups rows by partition.
func (s *Store) Search(ctx context.Context, spec frontier.QuerySpec) (frontier.SearchResult, error) {
	query, args := s.searchSQL(spec)
	s.logger.Debug("frontier query",
		zap.String("log_id_prefix", s.prefix),
		zap.String("sql", query),
		zap.Any("args", args),
	)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return frontier.SearchResult{}, fmt.Errorf("%w: postgres query: %v", frontier.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var (
		partitions []string
		records    []frontier.RawRecord
	)
	for rows.Next() {
		var (
			url       string
			metaJSON  []byte
			nextFetch time.Time
			partition string
		)
		if err := rows.Scan(&url, &metaJSON, &nextFetch, &partition); err != nil {
			return frontier.SearchResult{}, fmt.Errorf("scan frontier row: %w", err)
		}
		meta := map[string]any{}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &meta); err != nil {
				return frontier.SearchResult{}, fmt.Errorf("decode metadata for %q: %w", url, err)
			}
		}
		partitions = append(partitions, partition)
		records = append(records, frontier.RawRecord{
			ID: url,
			Source: map[string]any{
				frontier.FieldURL:       url,
				frontier.FieldMetadata:  meta,
				frontier.FieldNextFetch: nextFetch.UTC().Format(time.RFC3339Nano),
			},
		})
	}
	if err := rows.Err(); err != nil {
		return frontier.SearchResult{}, fmt.Errorf("%w: postgres rows: %v", frontier.ErrStoreUnavailable, err)
	}
	return frontier.SearchResult{Buckets: frontier.GroupBuckets(partitions, records)}, nil
}

// Upsert inserts a candidate or reschedules an existing one.
func (s *Store) Upsert(ctx context.Context, c frontier.Candidate) error {
	if c.URL == "" {
		return fmt.Errorf("candidate url is required")
	}
	metaJSON, err := json.Marshal(c.Metadata.Clone())
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (url, next_fetch_date, metadata, shard)
VALUES ($1,$2,$3,$4)
ON CONFLICT (url) DO UPDATE SET
	next_fetch_date = EXCLUDED.next_fetch_date,
	metadata = EXCLUDED.metadata,
	shard = EXCLUDED.shard`, s.table)
	if _, err := s.pool.Exec(ctx, query, c.URL, c.NextFetchDate, metaJSON, c.Shard); err != nil {
		return fmt.Errorf("upsert candidate: %w", err)
	}
	return nil
}
