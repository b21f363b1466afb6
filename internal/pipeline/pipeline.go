// Package pipeline wires the per-domain ETL runs: fetch, normalize,
// aggregate, sync, strictly in that order. Each domain targets its own
// disjoint set of warehouse tables, so separate domain processes can
// run concurrently without coordination.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mezo-analytics/internal/domain"
	"mezo-analytics/internal/observability"
	"mezo-analytics/internal/subgraph"
	"mezo-analytics/internal/warehouse"
)

// Fetcher pulls every page of a subgraph query. Satisfied by
// subgraph.Client.
type Fetcher interface {
	FetchAll(ctx context.Context, q subgraph.Query) (domain.Batch, error)
}

// TxSource pulls every page of a block-explorer endpoint. Satisfied by
// explorer.Client.
type TxSource interface {
	FetchAll(ctx context.Context, path string) (domain.Batch, error)
}

// PriceSource returns symbol → USD conversion rates. Satisfied by
// prices.Client.
type PriceSource interface {
	TokenPrices(ctx context.Context) (map[string]float64, error)
}

// Options carries the collaborators shared by every runner.
type Options struct {
	Sink    warehouse.Sink
	Prices  PriceSource
	Dataset string // table name prefix, e.g. "mainnet"
	Log     *zap.Logger
	Metrics *observability.Metrics
}

// base is embedded by the domain runners.
type base struct {
	sink    warehouse.Sink
	prices  PriceSource
	dataset string
	log     *zap.Logger
	metrics *observability.Metrics
}

func newBase(opts Options, domainName string) base {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	return base{
		sink:    opts.Sink,
		prices:  opts.Prices,
		dataset: opts.Dataset,
		log: log.With(
			zap.String("domain", domainName),
			zap.String("run_id", uuid.NewString()),
		),
		metrics: opts.Metrics,
	}
}

// tableName renders the (dataset, table) pair into the sink's flat
// namespace.
func (b *base) tableName(name string) string {
	if b.dataset == "" {
		return name
	}
	return b.dataset + "_" + name
}

// fetch runs one query through the fetcher with logging and counters.
func (b *base) fetch(ctx context.Context, f Fetcher, q subgraph.Query) (domain.Batch, error) {
	start := time.Now()
	batch, err := f.FetchAll(ctx, q)
	if err != nil {
		if b.metrics != nil {
			b.metrics.FetchErrors.WithLabelValues(q.Entity).Inc()
		}
		return nil, err
	}
	b.log.Info("fetched entity",
		zap.String("entity", q.Entity),
		zap.Int("rows", len(batch)),
		zap.Duration("elapsed", time.Since(start)))
	if b.metrics != nil {
		b.metrics.RowsFetched.WithLabelValues(q.Entity).Add(float64(len(batch)))
	}
	return batch, nil
}

// fetchTxs runs one explorer endpoint through the source with logging
// and counters, labeled by path.
func (b *base) fetchTxs(ctx context.Context, src TxSource, path string) (domain.Batch, error) {
	start := time.Now()
	batch, err := src.FetchAll(ctx, path)
	if err != nil {
		if b.metrics != nil {
			b.metrics.FetchErrors.WithLabelValues(path).Inc()
		}
		return nil, err
	}
	b.log.Info("fetched transactions",
		zap.String("path", path),
		zap.Int("rows", len(batch)),
		zap.Duration("elapsed", time.Since(start)))
	if b.metrics != nil {
		b.metrics.RowsFetched.WithLabelValues(path).Add(float64(len(batch)))
	}
	return batch, nil
}

// sync upserts a batch into a table with logging and counters.
func (b *base) sync(ctx context.Context, table string, batch domain.Batch, keyColumn string) error {
	if len(batch) == 0 {
		b.log.Info("nothing to sync", zap.String("table", table))
		return nil
	}
	if err := b.sink.Upsert(ctx, table, batch, keyColumn); err != nil {
		if b.metrics != nil {
			b.metrics.UpsertErrors.WithLabelValues(table).Inc()
		}
		return err
	}
	b.log.Info("synced table",
		zap.String("table", table),
		zap.String("key", keyColumn),
		zap.Int("rows", len(batch)))
	if b.metrics != nil {
		b.metrics.RowsUpserted.WithLabelValues(table).Add(float64(len(batch)))
	}
	return nil
}

// observeRun records the outcome of a whole run.
func (b *base) observeRun(domainName string, start time.Time, err error) {
	if b.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	b.metrics.RunsTotal.WithLabelValues(domainName, outcome).Inc()
	b.metrics.RunDuration.WithLabelValues(domainName).Observe(time.Since(start).Seconds())
}

// dateKey renders a date column into the canonical string key used for
// daily tables.
func dateKey(batch domain.Batch, dateCol, keyCol string) domain.Batch {
	out := batch.Clone()
	for _, row := range out {
		row[keyCol] = domain.String(row[dateCol].AsTime().Format("2006-01-02"))
	}
	return out
}

// compositeKey renders date plus a group column into a single key.
func compositeKey(batch domain.Batch, dateCol, groupCol, keyCol string) domain.Batch {
	out := batch.Clone()
	for _, row := range out {
		key := row[dateCol].AsTime().Format("2006-01-02") + "|" + row.Key(groupCol)
		row[keyCol] = domain.String(key)
	}
	return out
}
