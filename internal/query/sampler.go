// Package query builds the diversity-sampled frontier queries issued by a
// populator. Strategies are store neutral; each store translates the resulting
// frontier.QuerySpec into its own query language.
package query

import (
	"fmt"
	"time"

	"github.com/JakeFAU/crawler-frontier/internal/frontier"
)

// Strategy produces the query for one refill cycle.
type Strategy interface {
	BuildQuery(now time.Time) frontier.QuerySpec
}

// Func adapts a plain function to the Strategy interface.
type Func func(now time.Time) frontier.QuerySpec

// BuildQuery calls f.
func (f Func) BuildQuery(now time.Time) frontier.QuerySpec {
	return f(now)
}

// SamplerConfig holds the knobs of the diversity sampler.
type SamplerConfig struct {
	PartitionField  string
	MaxPerPartition int
	MaxPartitions   int
	// Shard restricts execution to one shard; frontier.NoShard disables it.
	Shard int
}

// Validate checks the sampler knobs.
func (c SamplerConfig) Validate() error {
	if c.PartitionField == "" {
		return fmt.Errorf("partition field is required")
	}
	if c.MaxPerPartition <= 0 {
		return fmt.Errorf("max per partition must be > 0")
	}
	if c.MaxPartitions <= 0 {
		return fmt.Errorf("max partitions must be > 0")
	}
	if c.Shard < frontier.NoShard {
		return fmt.Errorf("shard must be >= 0 or %d", frontier.NoShard)
	}
	return nil
}

// DiversitySampler selects due URLs while capping how many come from any one
// partition, so one busy host cannot crowd the others out of a cycle.
type DiversitySampler struct {
	cfg SamplerConfig
}

// NewDiversitySampler validates cfg and returns a sampler.
func NewDiversitySampler(cfg SamplerConfig) (*DiversitySampler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("diversity sampler: %w", err)
	}
	return &DiversitySampler{cfg: cfg}, nil
}

// BuildQuery returns a QuerySpec selecting records due at or before now.
func (s *DiversitySampler) BuildQuery(now time.Time) frontier.QuerySpec {
	total := s.cfg.MaxPerPartition * s.cfg.MaxPartitions
	return frontier.QuerySpec{
		ReadyBefore:     now,
		PartitionField:  s.cfg.PartitionField,
		MaxPerPartition: s.cfg.MaxPerPartition,
		MaxPartitions:   s.cfg.MaxPartitions,
		SampleSize:      total,
		TopHitsSize:     total,
		Size:            0,
		Explain:         false,
		Shard:           s.cfg.Shard,
	}
}
