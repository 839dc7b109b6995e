package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/perfkit/internal/cli"
	"github.com/xtxerr/perfkit/internal/config"
	"github.com/xtxerr/perfkit/internal/console"
	"github.com/xtxerr/perfkit/internal/counter"
	"github.com/xtxerr/perfkit/internal/exporter"
	"github.com/xtxerr/perfkit/internal/journal"
	"github.com/xtxerr/perfkit/internal/logging"
	"github.com/xtxerr/perfkit/internal/parquet"
	"github.com/xtxerr/perfkit/internal/reporter"
)

// daemon owns the components built from one configuration.
type daemon struct {
	settings *config.Settings
	log      *slog.Logger

	counters *counter.Registry
	commands *cli.Registry
	exporter *exporter.Server
	reporter *reporter.Reporter
	console  *console.Console
}

func newDaemon(st *config.Settings, store *config.Store) (*daemon, error) {
	d := &daemon{
		settings: st,
		log:      logging.Component("perfkitd"),
	}

	policy, err := counter.ParseDuplicatePolicy(st.Counter.DuplicatePolicy)
	if err != nil {
		return nil, err
	}
	d.counters = counter.NewRegistry(
		counter.WithRateWindow(st.Counter.RateWindow, st.Counter.RateSlots),
		counter.WithPercentileWindow(st.Counter.PercentileWindow, st.Counter.PercentileAccuracy),
		counter.WithDuplicatePolicy(policy),
		counter.WithMisuseLogLimit(st.Counter.MisuseLogPerSecond, st.Counter.MisuseLogBurst),
		counter.WithLogger(logging.Component("counter")),
	)
	for _, decl := range st.Counters {
		kind, err := counter.ParseKind(decl.Kind)
		if err != nil {
			return nil, fmt.Errorf("counters.%s: %w", decl.ID, err)
		}
		if _, err := d.counters.Create(decl.Section, decl.Name, kind, decl.Description); err != nil {
			return nil, fmt.Errorf("counters.%s: %w", decl.ID, err)
		}
	}

	d.commands = cli.NewRegistry()
	if err := cli.RegisterBuiltins(d.commands, d.counters, store); err != nil {
		return nil, err
	}

	if st.Exporter.Enabled {
		cfg := exporter.Config{
			Counters:       d.counters,
			Commands:       d.commands,
			Listen:         st.Exporter.Listen,
			Namespace:      st.Exporter.Namespace,
			DrainTimeout:   st.Core.DrainTimeout,
			RuntimeMetrics: true,
		}
		if !st.Exporter.CLI {
			cfg.Commands = nil
		}
		d.exporter = exporter.New(cfg)
	}

	if st.ReporterEnabled() {
		if err := d.buildReporter(); err != nil {
			return nil, err
		}
	}

	if st.Console.Enabled {
		d.console = console.New(d.commands, console.Options{Counters: d.counters})
	}
	return d, nil
}

func (d *daemon) buildReporter() error {
	st := d.settings
	host, _ := os.Hostname()

	d.reporter = reporter.New(d.counters, reporter.Options{
		Interval:    st.Reporter.Interval,
		Host:        host,
		Metrics:     d.counters,
		HistorySize: st.Reporter.History,
	})
	if err := d.reporter.RegisterCommands(d.commands); err != nil {
		return err
	}

	if st.Journal.Enabled {
		mode, err := journal.ParseSyncMode(st.Journal.SyncMode)
		if err != nil {
			return err
		}
		w, err := journal.NewWriter(st.Journal.Dir, journal.Options{
			MaxSegmentSize: int64(st.Journal.MaxSegmentSize),
			MaxSegments:    st.Journal.MaxSegments,
			SyncMode:       mode,
			BufferSize:     st.Journal.BufferSize,
		})
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		d.reporter.AddSink("journal", w)
		d.log.Info("journal enabled", "dir", st.Journal.Dir, "sync_mode", mode)
	}

	if st.Parquet.Enabled {
		codec, err := parquet.ParseCompressionType(st.Parquet.Compression)
		if err != nil {
			return err
		}
		w, err := parquet.NewWriter(st.Parquet.Dir, parquet.Options{
			Compression: codec,
			RowsPerFile: st.Parquet.RowsPerFile,
			Host:        host,
			MaxAge:      st.Parquet.Retention,
		})
		if err != nil {
			return fmt.Errorf("open parquet: %w", err)
		}
		d.reporter.AddSink("parquet", w)
		if err := d.commands.Register(parquetUsageCommand(w.Retention())); err != nil {
			return err
		}
		d.log.Info("parquet enabled", "dir", st.Parquet.Dir, "compression", st.Parquet.Compression)
	}
	return nil
}

func parquetUsageCommand(r *parquet.Retention) cli.Command {
	return cli.Command{
		Name:     "parquet.usage",
		Help:     "show disk usage of finished Parquet files",
		ReadOnly: true,
		Run: func(_ context.Context, w io.Writer, _ []string) error {
			u, err := r.Usage()
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "files:     %d\n", u.FileCount)
			fmt.Fprintf(w, "size:      %s\n", parquet.FormatBytes(u.TotalSize))
			if u.FileCount > 0 {
				fmt.Fprintf(w, "oldest:    %s\n", u.Oldest.Format(time.RFC3339))
				fmt.Fprintf(w, "newest:    %s\n", u.Newest.Format(time.RFC3339))
			}
			if age := r.MaxAge(); age > 0 {
				fmt.Fprintf(w, "retention: %s\n", age)
			} else {
				fmt.Fprintln(w, "retention: keep all")
			}
			return nil
		},
	}
}

// run blocks until ctx is done, a component fails, or the console exits.
func (d *daemon) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	if d.exporter != nil {
		g.Go(func() error {
			return d.exporter.Run(ctx)
		})
	}
	if d.reporter != nil {
		g.Go(func() error {
			return d.reporter.Run(ctx)
		})
	}
	if d.console != nil {
		g.Go(func() error {
			defer cancel()
			return d.console.Run(ctx)
		})
	}

	d.log.Info("perfkitd running",
		"counters", d.counters.Len(),
		"exporter", d.exporter != nil,
		"reporter", d.reporter != nil,
		"console", d.console != nil)

	err := g.Wait()
	d.log.Info("perfkitd stopped")
	return err
}
