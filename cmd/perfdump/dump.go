package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xtxerr/perfkit/internal/errors"
	"github.com/xtxerr/perfkit/internal/journal"
	"github.com/xtxerr/perfkit/internal/parquet"
	"github.com/xtxerr/perfkit/internal/snapshot"
)

const (
	exitOK      = 0
	exitDamaged = 1
	exitError   = 2
)

type dumper struct {
	out     io.Writer
	errOut  io.Writer
	width   int
	json    *json.Encoder
	summary bool
	section string

	damaged bool
	failed  bool
}

func run(args []string, stdout, stderr io.Writer, width int) int {
	fs := flag.NewFlagSet("perfdump", flag.ContinueOnError)
	fs.SetOutput(stderr)
	asJSON := fs.Bool("json", false, "print one JSON object per batch")
	summary := fs.Bool("summary", false, "print only per-file summaries")
	section := fs.String("section", "", "print only records of this section")
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(stderr, "usage: perfdump [-json] [-summary] [-section name] path...")
		return exitError
	}

	d := &dumper{out: stdout, errOut: stderr, width: width, summary: *summary, section: *section}
	if *asJSON {
		d.json = json.NewEncoder(stdout)
	}
	for _, path := range fs.Args() {
		d.dumpPath(path)
	}

	switch {
	case d.failed:
		return exitError
	case d.damaged:
		return exitDamaged
	}
	return exitOK
}

func (d *dumper) dumpPath(path string) {
	fi, err := os.Stat(path)
	if err != nil {
		d.fail(path, err)
		return
	}
	if !fi.IsDir() {
		d.dumpFile(path)
		return
	}

	segments, err := journal.ListSegments(path)
	if err != nil {
		d.fail(path, err)
		return
	}
	files, err := parquet.ListFiles(path)
	if err != nil {
		d.fail(path, err)
		return
	}
	if len(segments)+len(files) == 0 {
		d.fail(path, fmt.Errorf("no journal segments or parquet files"))
		return
	}
	for _, p := range segments {
		d.dumpSegment(p)
	}
	for _, p := range files {
		d.dumpParquet(p)
	}
}

func (d *dumper) dumpFile(path string) {
	switch {
	case strings.HasSuffix(path, ".pkj"):
		d.dumpSegment(path)
	case strings.HasSuffix(path, ".parquet"):
		d.dumpParquet(path)
	default:
		d.fail(path, fmt.Errorf("unknown file type %q", filepath.Ext(path)))
	}
}

func (d *dumper) dumpSegment(path string) {
	sum, err := journal.ReadSegment(path)
	if sum != nil {
		state := "sealed"
		if !sum.Complete {
			state = "open"
		}
		if d.json == nil {
			d.linef("segment %s: %d records, %d payload bytes, crc32c 0x%08x, %s",
				filepath.Base(path), sum.Records, sum.Payload, sum.CRC, state)
		}
		for _, b := range sum.Batches {
			d.dumpBatch(path, b)
		}
	}
	if err != nil {
		d.fail(path, err)
	}
}

func (d *dumper) dumpParquet(path string) {
	r, err := parquet.NewReader(path)
	if err != nil {
		d.fail(path, err)
		return
	}
	defer r.Close()

	recs, err := r.ReadAll()
	if err != nil {
		d.fail(path, err)
		return
	}
	if d.json == nil {
		d.linef("parquet %s: %d rows, host %q", filepath.Base(path), r.NumRows(), r.Host())
	}

	// Rows of one snapshot share a timestamp.
	var cur *snapshot.Batch
	for _, rec := range recs {
		if cur == nil || cur.TakenAtMs != rec.TimestampMs {
			if cur != nil {
				d.dumpBatch(path, cur)
			}
			cur = &snapshot.Batch{TakenAtMs: rec.TimestampMs, Host: r.Host()}
		}
		cur.Records = append(cur.Records, rec)
	}
	if cur != nil {
		d.dumpBatch(path, cur)
	}
}

type jsonBatch struct {
	Source  string       `json:"source"`
	TakenAt time.Time    `json:"taken_at"`
	Host    string       `json:"host,omitempty"`
	Records []jsonRecord `json:"records"`
}

type jsonRecord struct {
	Section     string             `json:"section"`
	Name        string             `json:"name"`
	Kind        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Value       float64            `json:"value"`
	Integer     uint64             `json:"integer"`
	Total       uint64             `json:"total"`
	Percentiles map[string]float64 `json:"percentiles,omitempty"`
}

var percentileNames = [snapshot.NumPercentiles]string{"p50", "p90", "p95", "p99", "p99.9"}

func (d *dumper) dumpBatch(source string, b *snapshot.Batch) {
	if d.summary {
		return
	}
	recs := b.Records
	if d.section != "" {
		recs = nil
		for _, r := range b.Records {
			if r.Section == d.section {
				recs = append(recs, r)
			}
		}
		if len(recs) == 0 {
			return
		}
	}

	if d.json != nil {
		jb := jsonBatch{
			Source:  source,
			TakenAt: b.TakenAt().UTC(),
			Host:    b.Host,
			Records: make([]jsonRecord, 0, len(recs)),
		}
		for _, r := range recs {
			jr := jsonRecord{
				Section:     r.Section,
				Name:        r.Name,
				Kind:        r.Kind,
				Description: r.Description,
				Value:       r.Value,
				Integer:     r.Integer,
				Total:       r.Total,
			}
			if r.HasPercentiles {
				jr.Percentiles = make(map[string]float64, snapshot.NumPercentiles)
				for i, name := range percentileNames {
					jr.Percentiles[name] = r.Percentiles[i]
				}
			}
			jb.Records = append(jb.Records, jr)
		}
		if err := d.json.Encode(jb); err != nil {
			d.fail(source, err)
		}
		return
	}

	d.linef("  batch %s host=%s records=%d", b.TakenAt().UTC().Format(time.RFC3339Nano), b.Host, len(recs))
	for i := range recs {
		r := &recs[i]
		line := fmt.Sprintf("    %-40s %-10s %g", r.Key(), r.Kind, r.Value)
		if r.HasPercentiles {
			line += fmt.Sprintf(" n=%d", r.Total)
			for j, name := range percentileNames {
				line += fmt.Sprintf(" %s=%g", name, r.Percentiles[j])
			}
		}
		d.linef("%s", line)
	}
}

// linef writes one line, cut to the terminal width.
func (d *dumper) linef(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if d.width > 1 && len(line) > d.width {
		line = line[:d.width-1] + "…"
	}
	fmt.Fprintln(d.out, line)
}

func (d *dumper) fail(path string, err error) {
	if errors.IsIntegrity(err) {
		d.damaged = true
		fmt.Fprintf(d.errOut, "perfdump: %s: damaged: %v\n", path, err)
		return
	}
	d.failed = true
	fmt.Fprintf(d.errOut, "perfdump: %s: %v\n", path, err)
}
