package reporter

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xtxerr/perfkit/internal/cli"
	"github.com/xtxerr/perfkit/internal/errors"
)

// RegisterCommands adds the reporter commands to cmds: snapshot.now,
// snapshot.stats and, when history is kept, counter.history.
func (r *Reporter) RegisterCommands(cmds *cli.Registry) error {
	list := []cli.Command{
		{
			Name: "snapshot.now",
			Help: "take a snapshot and write it to every sink now",
			Run: func(_ context.Context, w io.Writer, _ []string) error {
				b := r.Report()
				if b == nil {
					return fmt.Errorf("reporter stopped: %w", errors.ErrWriterClosed)
				}
				fmt.Fprintf(w, "snapshot of %d counters at %s\n", len(b.Records), b.TakenAt().UTC().Format(time.RFC3339))
				return nil
			},
		},
		{
			Name:     "snapshot.stats",
			Help:     "show reporter statistics",
			ReadOnly: true,
			Run: func(_ context.Context, w io.Writer, _ []string) error {
				st := r.Stats()
				fmt.Fprintf(w, "running:     %v\n", r.IsRunning())
				fmt.Fprintf(w, "interval:    %s\n", r.opts.Interval)
				fmt.Fprintf(w, "sinks:       %d\n", r.sinkCount())
				fmt.Fprintf(w, "batches:     %d\n", st.Batches.Load())
				fmt.Fprintf(w, "records:     %d\n", st.Records.Load())
				fmt.Fprintf(w, "sink errors: %d\n", st.SinkErrors.Load())
				if h := r.history; h != nil {
					fmt.Fprintf(w, "history:     %d/%d batches, %s\n", h.Len(), h.Cap(), h.Duration())
				}
				return nil
			},
		},
	}
	if r.history != nil {
		list = append(list, cli.Command{
			Name:     "counter.history",
			Usage:    "<section> <name> [count]",
			Help:     "show recent snapshot values of a counter",
			MinArgs:  2,
			MaxArgs:  3,
			ReadOnly: true,
			Run:      r.runHistory,
		})
	}

	for _, c := range list {
		if err := cmds.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reporter) runHistory(_ context.Context, w io.Writer, args []string) error {
	limit := 0
	if len(args) == 3 {
		n, err := strconv.Atoi(args[2])
		if err != nil || n <= 0 {
			return fmt.Errorf("count %q: must be a positive integer: %w", args[2], errors.ErrInvalidArgs)
		}
		limit = n
	}

	recs := r.history.Query(args[0], args[1], limit)
	if len(recs) == 0 {
		return errors.NewNotFound("history", args[0]+"*"+args[1])
	}
	for i := range recs {
		rec := &recs[i]
		fmt.Fprintf(w, "%s  %g", rec.Time().UTC().Format(time.RFC3339), rec.Value)
		if rec.HasPercentiles {
			fmt.Fprintf(w, "  n=%d p50=%g p99=%g", rec.Total, rec.Percentiles[0], rec.Percentiles[3])
		}
		fmt.Fprintln(w)
	}
	return nil
}
