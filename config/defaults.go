// Package config provides configuration defaults and utilities
// for the perfkit module.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via perfkit.yaml or environment variables.
package config

import "time"

// =============================================================================
// Logging Defaults
// =============================================================================

const (
	// DefaultLogLevel is the minimum severity that is written.
	// Override via config: core.log_level
	DefaultLogLevel = "info"

	// DefaultLogFormat selects the log handler ("text", "json").
	// A terminal always gets the colorized handler regardless of format.
	// Override via config: core.log_format
	DefaultLogFormat = "text"

	// DefaultMisuseLogPerSecond throttles warnings about operations on
	// removed or unknown counter handles.
	// Override via config: counter.misuse_log_per_second
	DefaultMisuseLogPerSecond = 1.0

	// DefaultMisuseLogBurst is the burst allowance for misuse warnings.
	DefaultMisuseLogBurst = 5
)

// =============================================================================
// Counter Defaults
// =============================================================================

const (
	// DefaultRateWindow is the sliding window a rate counter reports over.
	// Override via config: counter.rate_window
	DefaultRateWindow = 10 * time.Second

	// DefaultRateSlots is the number of sub-buckets the rate window is split into.
	// More slots give a smoother rate at the cost of one word per slot.
	// Range: 2-1024
	// Override via config: counter.rate_slots
	DefaultRateSlots = 10

	// DefaultPercentileWindow is the window a percentile counter summarizes.
	// Samples older than two windows are forgotten.
	// Override via config: counter.percentile_window
	DefaultPercentileWindow = 30 * time.Second

	// DefaultPercentileAccuracy is the relative accuracy of percentile estimates.
	// Range: (0, 0.5)
	// Override via config: counter.percentile_accuracy
	DefaultPercentileAccuracy = 0.01

	// DefaultDuplicatePolicy decides what a second registration of the same
	// (section, name) does: "fail" or "reuse".
	// Override via config: counter.duplicate_policy
	DefaultDuplicatePolicy = "fail"
)

// =============================================================================
// Registry Limits
// =============================================================================

const (
	// RegistryPageSize is the number of counter slots allocated together.
	RegistryPageSize = 1024

	// RegistryMaxPages bounds the arena; capacity is pages * page size.
	RegistryMaxPages = 4096

	// MaxNameLength limits section and counter names.
	MaxNameLength = 255
)

// =============================================================================
// Exporter Defaults
// =============================================================================

const (
	// DefaultExporterListen is the HTTP listen address for /metrics and /cli.
	// Override via config: exporter.listen
	DefaultExporterListen = "127.0.0.1:9180"

	// DefaultExporterNamespace prefixes exported Prometheus metric names.
	// Override via config: exporter.namespace
	DefaultExporterNamespace = "perfkit"
)

// =============================================================================
// Reporter and Sink Defaults
// =============================================================================

const (
	// DefaultReportInterval is how often counters are snapshotted to sinks.
	// Override via config: reporter.interval
	DefaultReportInterval = 10 * time.Second

	// DefaultJournalDir is where snapshot journal segments are written.
	// Override via config: journal.dir
	DefaultJournalDir = "data/journal"

	// DefaultJournalMaxSegmentSize rotates a segment once it would exceed this size.
	// Override via config: journal.max_segment_size
	DefaultJournalMaxSegmentSize = 64 * 1024 * 1024

	// DefaultJournalSyncMode is "async", "sync" or "fsync".
	// Override via config: journal.sync_mode
	DefaultJournalSyncMode = "async"

	// DefaultJournalBufferSize is the write buffer in front of a segment file.
	DefaultJournalBufferSize = 64 * 1024

	// DefaultJournalMaxRecordSize rejects records larger than this on read.
	DefaultJournalMaxRecordSize = 64 * 1024 * 1024

	// DefaultParquetDir is where Parquet snapshot files are written.
	// Override via config: parquet.dir
	DefaultParquetDir = "data/parquet"

	// DefaultParquetCompression is the Parquet codec.
	// Override via config: parquet.compression
	DefaultParquetCompression = "zstd"

	// DefaultParquetRowsPerFile rotates the Parquet file after this many rows.
	// Override via config: parquet.rows_per_file
	DefaultParquetRowsPerFile = 500000
)

// =============================================================================
// Shutdown Defaults
// =============================================================================

const (
	// DefaultDrainTimeout bounds how long perfkitd waits for the exporter
	// and sinks to flush during shutdown.
	// Override via config: core.drain_timeout
	DefaultDrainTimeout = 10 * time.Second
)
