package config

import (
	"fmt"
	"strings"
	"time"

	defaults "github.com/xtxerr/perfkit/config"
	"github.com/xtxerr/perfkit/internal/errors"
	"github.com/xtxerr/perfkit/internal/logging"
)

// Settings is the typed configuration of perfkitd.
type Settings struct {
	Core     CoreSettings
	Counter  CounterSettings
	Exporter ExporterSettings
	Journal  JournalSettings
	Parquet  ParquetSettings
	Reporter ReporterSettings
	Console  ConsoleSettings

	// Counters are created at startup.
	Counters []CounterDecl
}

// CoreSettings configures logging and shutdown.
type CoreSettings struct {
	LogLevel     string
	LogFormat    string
	DrainTimeout time.Duration
}

// CounterSettings configures the counter registry.
type CounterSettings struct {
	RateWindow         time.Duration
	RateSlots          int
	PercentileWindow   time.Duration
	PercentileAccuracy float64
	DuplicatePolicy    string
	MisuseLogPerSecond float64
	MisuseLogBurst     int
}

// ExporterSettings configures the HTTP exporter.
type ExporterSettings struct {
	Enabled   bool
	Listen    string
	Namespace string
	CLI       bool
}

// JournalSettings configures the snapshot journal sink.
type JournalSettings struct {
	Enabled        bool
	Dir            string
	MaxSegmentSize uint64
	MaxSegments    int
	SyncMode       string
	BufferSize     int
}

// ParquetSettings configures the Parquet snapshot sink.
type ParquetSettings struct {
	Enabled     bool
	Dir         string
	Compression string
	RowsPerFile int
	Retention   time.Duration
}

// ReporterSettings configures the snapshot loop.
type ReporterSettings struct {
	Interval time.Duration
	History  int
}

// ConsoleSettings configures the interactive console.
type ConsoleSettings struct {
	Enabled bool
}

// CounterDecl declares a counter in the counters.<id> sections.
type CounterDecl struct {
	ID          string
	Section     string
	Name        string
	Kind        string
	Description string
}

// ReadSettings reads Settings from the store and validates them.
func ReadSettings(s *Store) (*Settings, error) {
	st := &Settings{
		Core: CoreSettings{
			LogLevel:     s.GetString("core", "log_level", defaults.DefaultLogLevel, "minimum log level: debug, info, warn, error, fatal"),
			LogFormat:    s.GetString("core", "log_format", defaults.DefaultLogFormat, "log format when not on a terminal: text or json"),
			DrainTimeout: s.GetDuration("core", "drain_timeout", defaults.DefaultDrainTimeout, "time allowed for sinks to flush on shutdown"),
		},
		Counter: CounterSettings{
			RateWindow:         s.GetDuration("counter", "rate_window", defaults.DefaultRateWindow, "window a rate counter reports over"),
			RateSlots:          s.GetInt("counter", "rate_slots", defaults.DefaultRateSlots, "sub-buckets per rate window"),
			PercentileWindow:   s.GetDuration("counter", "percentile_window", defaults.DefaultPercentileWindow, "window a percentile counter summarizes"),
			PercentileAccuracy: s.GetDouble("counter", "percentile_accuracy", defaults.DefaultPercentileAccuracy, "relative accuracy of percentile estimates"),
			DuplicatePolicy:    s.GetString("counter", "duplicate_policy", defaults.DefaultDuplicatePolicy, "duplicate registration: fail or reuse"),
			MisuseLogPerSecond: s.GetDouble("counter", "misuse_log_per_second", defaults.DefaultMisuseLogPerSecond, "warnings per second about invalid handles"),
			MisuseLogBurst:     s.GetInt("counter", "misuse_log_burst", defaults.DefaultMisuseLogBurst, "burst of warnings about invalid handles"),
		},
		Exporter: ExporterSettings{
			Enabled:   s.GetBool("exporter", "enabled", true, "serve /metrics and /cli over HTTP"),
			Listen:    s.GetString("exporter", "listen", defaults.DefaultExporterListen, "HTTP listen address"),
			Namespace: s.GetString("exporter", "namespace", defaults.DefaultExporterNamespace, "Prometheus metric name prefix"),
			CLI:       s.GetBool("exporter", "cli", true, "serve console commands on /cli"),
		},
		Journal: JournalSettings{
			Enabled:        s.GetBool("journal", "enabled", false, "write snapshots to CRC-framed journal segments"),
			Dir:            s.GetString("journal", "dir", defaults.DefaultJournalDir, "journal segment directory"),
			MaxSegmentSize: s.GetUint64("journal", "max_segment_size", defaults.DefaultJournalMaxSegmentSize, "rotate segments beyond this size"),
			MaxSegments:    s.GetInt("journal", "max_segments", 0, "keep only this many segments; 0 keeps all"),
			SyncMode:       s.GetString("journal", "sync_mode", defaults.DefaultJournalSyncMode, "async, sync or fsync"),
			BufferSize:     s.GetInt("journal", "buffer_size", defaults.DefaultJournalBufferSize, "write buffer size in bytes"),
		},
		Parquet: ParquetSettings{
			Enabled:     s.GetBool("parquet", "enabled", false, "write snapshots to Parquet files"),
			Dir:         s.GetString("parquet", "dir", defaults.DefaultParquetDir, "Parquet output directory"),
			Compression: s.GetString("parquet", "compression", defaults.DefaultParquetCompression, "snappy, zstd, lz4, gzip or none"),
			RowsPerFile: s.GetInt("parquet", "rows_per_file", defaults.DefaultParquetRowsPerFile, "rotate Parquet files after this many rows"),
			Retention:   s.GetDuration("parquet", "retention", 0, "delete finished files older than this; 0 keeps all"),
		},
		Reporter: ReporterSettings{
			Interval: s.GetDuration("reporter", "interval", defaults.DefaultReportInterval, "snapshot interval for journal and Parquet sinks"),
			History:  s.GetInt("reporter", "history", 0, "recent snapshots kept in memory for counter.history"),
		},
		Console: ConsoleSettings{
			Enabled: s.GetBool("console", "enabled", false, "run the interactive console on the terminal"),
		},
	}

	const prefix = "counters."
	for _, section := range s.SectionsWithPrefix(prefix) {
		st.Counters = append(st.Counters, CounterDecl{
			ID:          strings.TrimPrefix(section, prefix),
			Section:     s.GetString(section, "section", "", "counter section"),
			Name:        s.GetString(section, "name", "", "counter name"),
			Kind:        s.GetString(section, "type", "number", "number, rate or percentile"),
			Description: s.GetString(section, "description", "", "counter description"),
		})
	}

	errs := errors.NewValidationErrors()
	if err := s.Err(); err != nil {
		errs.Add(err)
	}
	st.validate(errs)
	if err := errs.Err(); err != nil {
		return nil, err
	}
	return st, nil
}

// ReporterEnabled reports whether any consumer of periodic snapshots is
// configured.
func (st *Settings) ReporterEnabled() bool {
	return st.Journal.Enabled || st.Parquet.Enabled || st.Reporter.History > 0
}

func (st *Settings) validate(errs *errors.ValidationErrors) {
	if _, ok := logging.ParseLevel(st.Core.LogLevel); !ok {
		errs.AddField("core.log_level", fmt.Sprintf("unknown level %q", st.Core.LogLevel))
	}
	switch st.Core.LogFormat {
	case "text", "json":
	default:
		errs.AddField("core.log_format", fmt.Sprintf("unknown format %q", st.Core.LogFormat))
	}

	if st.Counter.RateWindow <= 0 {
		errs.AddField("counter.rate_window", "must be positive")
	}
	if st.Counter.RateSlots < 2 || st.Counter.RateSlots > 1024 {
		errs.AddField("counter.rate_slots", "must be between 2 and 1024")
	}
	if st.Counter.PercentileWindow <= 0 {
		errs.AddField("counter.percentile_window", "must be positive")
	}
	if st.Counter.PercentileAccuracy <= 0 || st.Counter.PercentileAccuracy >= 0.5 {
		errs.AddField("counter.percentile_accuracy", "must be in (0, 0.5)")
	}
	switch strings.ToLower(st.Counter.DuplicatePolicy) {
	case "fail", "reuse":
	default:
		errs.AddField("counter.duplicate_policy", "must be fail or reuse")
	}

	if st.Exporter.Enabled && st.Exporter.Listen == "" {
		errs.AddField("exporter.listen", "cannot be empty when enabled")
	}

	if st.Journal.Enabled {
		if st.Journal.Dir == "" {
			errs.AddField("journal.dir", "cannot be empty when enabled")
		}
		if st.Journal.MaxSegments < 0 {
			errs.AddField("journal.max_segments", "cannot be negative")
		}
		switch st.Journal.SyncMode {
		case "async", "sync", "fsync":
		default:
			errs.AddField("journal.sync_mode", "must be async, sync or fsync")
		}
	}

	if st.Parquet.Enabled {
		if st.Parquet.Dir == "" {
			errs.AddField("parquet.dir", "cannot be empty when enabled")
		}
		if st.Parquet.Retention < 0 {
			errs.AddField("parquet.retention", "cannot be negative")
		}
	}

	if st.Reporter.History < 0 {
		errs.AddField("reporter.history", "cannot be negative")
	}
	if st.ReporterEnabled() && st.Reporter.Interval <= 0 {
		errs.AddField("reporter.interval", "must be positive")
	}

	for _, c := range st.Counters {
		field := "counters." + c.ID
		if c.Section == "" {
			errs.AddMissing(field + ".section")
		}
		if c.Name == "" {
			errs.AddMissing(field + ".name")
		}
	}
}
