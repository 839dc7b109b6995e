package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/xtxerr/perfkit/internal/checksum"
	"github.com/xtxerr/perfkit/internal/config"
	"github.com/xtxerr/perfkit/internal/counter"
	"github.com/xtxerr/perfkit/internal/errors"
	"github.com/xtxerr/perfkit/internal/logging"
	"github.com/xtxerr/perfkit/internal/snapshot"
)

// RegisterCounterCommands adds the counter.* commands backed by reg.
func RegisterCounterCommands(r *Registry, reg *counter.Registry) error {
	cmds := []Command{
		{
			Name:     "counter.list",
			ReadOnly: true,
			Usage:    "[section]",
			Help:     "list counters with their current value",
			MaxArgs:  1,
			Run: func(_ context.Context, w io.Writer, args []string) error {
				section := ""
				if len(args) == 1 {
					section = args[0]
				}
				return listCounters(w, reg, section)
			},
		},
		{
			Name:     "counter.get",
			ReadOnly: true,
			Usage:    "<section> <name>",
			Help:     "show one counter",
			MinArgs:  2,
			MaxArgs:  2,
			Run: func(_ context.Context, w io.Writer, args []string) error {
				rec, err := lookupRecord(reg, args[0], args[1])
				if err != nil {
					return err
				}
				writeRecord(w, &rec)
				return nil
			},
		},
		{
			Name:     "counter.percentiles",
			ReadOnly: true,
			Usage:    "<section> <name>",
			Help:     "show the percentiles of a percentile counter",
			MinArgs:  2,
			MaxArgs:  2,
			Run: func(_ context.Context, w io.Writer, args []string) error {
				h, err := reg.Lookup(args[0], args[1])
				if err != nil {
					return err
				}
				values, err := reg.Percentiles(h)
				if err != nil {
					return err
				}
				for i, p := range counter.AllPercentiles() {
					fmt.Fprintf(w, "%-6s %g\n", p, values[i])
				}
				return nil
			},
		},
		{
			Name:    "counter.remove",
			Usage:   "<section> <name>",
			Help:    "remove a counter",
			MinArgs: 2,
			MaxArgs: 2,
			Run: func(_ context.Context, w io.Writer, args []string) error {
				h, err := reg.Lookup(args[0], args[1])
				if err != nil {
					return err
				}
				if err := reg.Remove(h); err != nil {
					return err
				}
				fmt.Fprintf(w, "removed %s\n", counter.Key{Section: args[0], Name: args[1]})
				return nil
			},
		},
	}
	return registerAll(r, cmds)
}

func lookupRecord(reg *counter.Registry, section, name string) (snapshot.Record, error) {
	h, err := reg.Lookup(section, name)
	if err != nil {
		return snapshot.Record{}, err
	}
	return reg.Record(h)
}

func listCounters(w io.Writer, reg *counter.Registry, section string) error {
	var recs []snapshot.Record
	for _, rec := range reg.Snapshot() {
		if section == "" || rec.Section == section {
			recs = append(recs, rec)
		}
	}
	if len(recs) == 0 {
		if section != "" {
			return errors.NewNotFound("section", section)
		}
		fmt.Fprintln(w, "no counters")
		return nil
	}

	width := 0
	for i := range recs {
		if n := len(recs[i].Key()); n > width {
			width = n
		}
	}
	for i := range recs {
		fmt.Fprintf(w, "%-*s  %-10s  %s\n", width, recs[i].Key(), recs[i].Kind, formatValue(&recs[i]))
	}
	return nil
}

func writeRecord(w io.Writer, rec *snapshot.Record) {
	fmt.Fprintf(w, "counter:     %s\n", rec.Key())
	fmt.Fprintf(w, "type:        %s\n", rec.Kind)
	if rec.Description != "" {
		fmt.Fprintf(w, "description: %s\n", rec.Description)
	}
	fmt.Fprintf(w, "value:       %s\n", formatValue(rec))
	fmt.Fprintf(w, "integer:     %d\n", rec.Integer)
	fmt.Fprintf(w, "total:       %d\n", rec.Total)
	if rec.HasPercentiles {
		for i, p := range counter.AllPercentiles() {
			fmt.Fprintf(w, "%-12s %g\n", p.String()+":", rec.Percentiles[i])
		}
	}
}

func formatValue(rec *snapshot.Record) string {
	switch rec.Kind {
	case counter.KindNumber.String():
		return fmt.Sprintf("%d", int64(rec.Integer))
	case counter.KindRate.String():
		return fmt.Sprintf("%.3f/s", rec.Value)
	default:
		return fmt.Sprintf("%g", rec.Value)
	}
}

// RegisterChecksumCommands adds crc32 and crc64, which checksum their
// arguments joined by single spaces.
func RegisterChecksumCommands(r *Registry) error {
	return registerAll(r, []Command{
		{
			Name:     "crc32",
			ReadOnly: true,
			Usage:    "<text>",
			Help:     "CRC-32C of the text",
			MinArgs:  1,
			MaxArgs:  -1,
			Run: func(_ context.Context, w io.Writer, args []string) error {
				fmt.Fprintf(w, "0x%08x\n", checksum.Compute32([]byte(strings.Join(args, " ")), 0))
				return nil
			},
		},
		{
			Name:     "crc64",
			ReadOnly: true,
			Usage:    "<text>",
			Help:     "CRC-64/Jones of the text",
			MinArgs:  1,
			MaxArgs:  -1,
			Run: func(_ context.Context, w io.Writer, args []string) error {
				fmt.Fprintf(w, "0x%016x\n", checksum.Compute64([]byte(strings.Join(args, " ")), 0))
				return nil
			},
		},
	})
}

// RegisterConfigCommands adds config.dump for store.
func RegisterConfigCommands(r *Registry, store *config.Store) error {
	return r.Register(Command{
		Name:     "config.dump",
		Usage:    "[file]",
		Help:     "print the effective configuration, or write it to a file",
		LongHelp: "Values never set in a file are shown at their default, marked \"# default\".\nWriting a file is refused for commands received over HTTP.",
		MaxArgs:  1,
		Run: func(ctx context.Context, w io.Writer, args []string) error {
			if len(args) == 1 {
				if IsRemote(ctx) {
					return fmt.Errorf("config.dump to a file over the network: %w", errors.ErrPermissionDenied)
				}
				if err := store.DumpFile(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(w, "configuration written to %s\n", args[0])
				return nil
			}
			return store.Dump(w)
		},
	})
}

// RegisterLogCommands adds log.level.
func RegisterLogCommands(r *Registry) error {
	return r.Register(Command{
		Name:    "log.level",
		Usage:   "[debug|info|warn|error|fatal]",
		Help:    "show or set the minimum log level",
		MaxArgs: 1,
		Run: func(_ context.Context, w io.Writer, args []string) error {
			if len(args) == 1 {
				l, ok := logging.ParseLevel(args[0])
				if !ok {
					return fmt.Errorf("level %q: %w", args[0], errors.ErrInvalidArgs)
				}
				logging.SetLevel(l)
			}
			fmt.Fprintln(w, logging.LevelName(logging.Level()))
			return nil
		},
	})
}

// RegisterBuiltins adds every built-in command. store may be nil, in which
// case config.dump is not registered.
func RegisterBuiltins(r *Registry, reg *counter.Registry, store *config.Store) error {
	if err := RegisterCounterCommands(r, reg); err != nil {
		return err
	}
	if err := RegisterChecksumCommands(r); err != nil {
		return err
	}
	if err := RegisterLogCommands(r); err != nil {
		return err
	}
	if store != nil {
		return RegisterConfigCommands(r, store)
	}
	return nil
}

func registerAll(r *Registry, cmds []Command) error {
	for _, c := range cmds {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}
