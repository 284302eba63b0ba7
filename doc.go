// Package telemetra provides an embedded time-series store for fleet
// device telemetry.
//
// Telemetra partitions raw readings into fixed-width time chunks,
// maintains incremental 5-minute, hourly, and daily aggregates, and
// drives compression and retention from a background lifecycle
// scheduler. Queries pick raw readings or aggregate buckets based on the
// requested window and fill sampling gaps by interpolation.
//
// # Basic Usage
//
// Open a store with default configuration:
//
//	store, err := telemetra.Open(telemetra.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
// Ingest readings in batches:
//
//	result, err := store.Append(ctx, []telemetra.Reading{
//	    telemetra.FloatReading("inv-01", "power_ac", time.Now(), 4213.5),
//	})
//
// Query a series:
//
//	page, err := store.Range(ctx, telemetra.NewRangeQuery(
//	    "inv-01", "power_ac",
//	    time.Now().Add(-time.Hour).UnixNano(), time.Now().UnixNano(),
//	))
//
// # Features
//
// Storage:
//   - Chunked raw storage with per-series columnar layout
//   - Gorilla float compression and delta timestamp encoding
//   - Snappy-compressed, checksummed chunk blobs
//   - Pluggable archive backends (memory, file, S3)
//   - Optional AES-256-GCM encryption of archived chunks
//
// Rollups:
//   - Incremental 5-minute, hourly, and daily aggregates
//   - Streaming updates for in-order data, dirty-window recomputation
//     for late arrivals and overwrites
//   - Strict fine-to-coarse cascade: hourly from 5-minute, daily from
//     hourly
//
// Lifecycle:
//   - Age-based chunk compression and eviction per series-class
//   - Per-site retention overrides via a device registry
//   - SQLite-checkpointed scheduler progress
//
// Queries:
//   - Latest-value lookups, paginated range scans with continuation
//     tokens
//   - Automatic raw/bucket crossover by window span
//   - Gap-aware grid interpolation and cumulative counter deltas with
//     reset detection
//
// # Configuration
//
// Use [Config] to customize behavior, or [LoadConfig] to read a YAML
// file:
//
//	cfg := telemetra.DefaultConfig()
//	cfg.Archive.Dir = "/var/lib/telemetra/archive"
//	cfg.Lifecycle.CheckpointPath = "/var/lib/telemetra/progress.db"
package telemetra
