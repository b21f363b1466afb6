// Command bridge runs the bridge ETL pass: deposits and withdrawals
// from the bridge subgraphs into the warehouse.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"mezo-analytics/internal/observability"
	"mezo-analytics/internal/pipeline"
	"mezo-analytics/internal/prices"
	"mezo-analytics/internal/subgraph"
	"mezo-analytics/internal/warehouse"
	chsink "mezo-analytics/internal/warehouse/clickhouse"
	memsink "mezo-analytics/internal/warehouse/memory"
	pgsink "mezo-analytics/internal/warehouse/postgres"
)

func main() {
	var (
		backend     = flag.String("backend", "postgres", "Warehouse backend: memory, postgres, clickhouse")
		dsn         = flag.String("dsn", os.Getenv("WAREHOUSE_DSN"), "Warehouse DSN (or WAREHOUSE_DSN)")
		dataset     = flag.String("dataset", "mainnet", "Dataset prefix for table names")
		metricsAddr = flag.String("metrics-addr", "", "Serve /metrics on this address while running (optional)")
	)
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler(reg))
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	sink, cleanup, err := newSink(ctx, *backend, *dsn, log)
	if err != nil {
		log.Error("init warehouse sink", zap.Error(err))
		os.Exit(1)
	}
	defer cleanup()

	runner := pipeline.NewBridge(pipeline.Options{
		Sink:    sink,
		Prices:  prices.NewClient(prices.WithAPIKey(os.Getenv("COINGECKO_KEY")), prices.WithLogger(log)),
		Dataset: *dataset,
		Log:     log,
		Metrics: metrics,
	},
		subgraph.NewClient(subgraph.MezoBridgeURL, subgraph.WithLogger(log)),
		subgraph.NewClient(subgraph.MezoPortalURL, subgraph.WithLogger(log)),
	)

	if err := runner.Run(ctx); err != nil {
		log.Error("bridge run failed", zap.Error(err))
		os.Exit(1)
	}
}

// newSink builds the selected warehouse backend. The returned cleanup
// closes its connection.
func newSink(ctx context.Context, backend, dsn string, log *zap.Logger) (warehouse.Sink, func(), error) {
	switch backend {
	case "memory":
		return memsink.NewSink(), func() {}, nil
	case "postgres":
		pool, err := pgsink.NewPool(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return pgsink.NewSink(pool, pgsink.WithLogger(log)), pool.Close, nil
	case "clickhouse":
		conn, err := chsink.NewConn(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return chsink.NewSink(conn, chsink.WithLogger(log)), func() { conn.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", backend)
	}
}
