package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/xtxerr/perfkit/internal/journal"
	"github.com/xtxerr/perfkit/internal/parquet"
	"github.com/xtxerr/perfkit/internal/snapshot"
)

var testTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testBatch(i int) *snapshot.Batch {
	ms := testTime.Add(time.Duration(i) * time.Second).UnixMilli()
	return &snapshot.Batch{
		TakenAtMs: ms,
		Host:      "node1",
		Records: []snapshot.Record{
			{Section: "io", Name: "reads", Kind: "number", TimestampMs: ms, Value: float64(i), Integer: uint64(i), Total: uint64(i)},
			{Section: "net", Name: "rx", Kind: "rate", TimestampMs: ms, Value: 2.5, Integer: 2, Total: 100},
			{
				Section: "io", Name: "latency", Kind: "percentile", TimestampMs: ms,
				Value: 10, Integer: 10, Total: 4,
				Percentiles: [snapshot.NumPercentiles]float64{9, 11, 12, 13, 14}, HasPercentiles: true,
			},
		},
	}
}

func writeJournal(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	w, err := journal.NewWriter(dir, journal.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= n; i++ {
		if err := w.Write(testBatch(i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return dir
}

func writeParquet(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	mock := clock.NewMock()
	mock.Set(testTime)
	opts := parquet.DefaultOptions()
	opts.Host = "node1"
	opts.Clock = mock
	w, err := parquet.NewWriter(dir, opts)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= n; i++ {
		if err := w.Write(testBatch(i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return dir
}

func runDump(args ...string) (int, string, string) {
	var out, errOut bytes.Buffer
	code := run(args, &out, &errOut, 0)
	return code, out.String(), errOut.String()
}

func TestDumpJournal(t *testing.T) {
	dir := writeJournal(t, 2)

	code, out, errOut := runDump(dir)
	if code != exitOK {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if !strings.Contains(out, "2 records") || !strings.Contains(out, "sealed") {
		t.Errorf("segment summary missing:\n%s", out)
	}
	if strings.Count(out, "  batch ") != 2 {
		t.Errorf("want 2 batches:\n%s", out)
	}
	if !strings.Contains(out, "io*latency") || !strings.Contains(out, "p99.9=14") {
		t.Errorf("percentile record missing:\n%s", out)
	}
}

func TestDumpSummaryAndSection(t *testing.T) {
	dir := writeJournal(t, 2)

	_, out, _ := runDump("-summary", dir)
	if strings.Contains(out, "batch") {
		t.Errorf("-summary printed batches:\n%s", out)
	}

	_, out, _ = runDump("-section", "net", dir)
	if strings.Contains(out, "io*reads") || !strings.Contains(out, "net*rx") {
		t.Errorf("-section net:\n%s", out)
	}
}

func TestDumpJSON(t *testing.T) {
	dir := writeJournal(t, 1)

	code, out, errOut := runDump("-json", dir)
	if code != exitOK {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	var b jsonBatch
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &b); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if b.Host != "node1" || len(b.Records) != 3 || !b.TakenAt.Equal(testTime.Add(time.Second)) {
		t.Errorf("batch = %+v", b)
	}
	if got := b.Records[2].Percentiles["p50"]; got != 9 {
		t.Errorf("p50 = %g, want 9", got)
	}
}

func TestDumpParquet(t *testing.T) {
	dir := writeParquet(t, 3)

	code, out, errOut := runDump(dir)
	if code != exitOK {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if !strings.Contains(out, `9 rows, host "node1"`) {
		t.Errorf("parquet summary missing:\n%s", out)
	}
	if strings.Count(out, "  batch ") != 3 {
		t.Errorf("want 3 batches:\n%s", out)
	}
}

func TestDumpDamaged(t *testing.T) {
	dir := writeJournal(t, 2)
	segs, err := journal.ListSegments(dir)
	if err != nil || len(segs) != 1 {
		t.Fatalf("segments = %v, %v", segs, err)
	}
	data, err := os.ReadFile(segs[0])
	if err != nil {
		t.Fatal(err)
	}
	data[20] ^= 0xff // inside the first payload
	if err := os.WriteFile(segs[0], data, 0o644); err != nil {
		t.Fatal(err)
	}

	code, _, errOut := runDump(segs[0])
	if code != exitDamaged {
		t.Errorf("exit = %d, want %d", code, exitDamaged)
	}
	if !strings.Contains(errOut, "damaged") {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestDumpErrors(t *testing.T) {
	empty := t.TempDir()
	other := filepath.Join(t.TempDir(), "notes.txt")
	os.WriteFile(other, []byte("x"), 0o644)

	tests := []struct {
		name string
		args []string
	}{
		{"no args", nil},
		{"bad flag", []string{"-bogus"}},
		{"missing", []string{filepath.Join(empty, "absent.pkj")}},
		{"empty dir", []string{empty}},
		{"unknown type", []string{other}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, _, _ := runDump(tt.args...); code != exitError {
				t.Errorf("exit = %d, want %d", code, exitError)
			}
		})
	}
}

func TestLineWidth(t *testing.T) {
	var out bytes.Buffer
	d := &dumper{out: &out, width: 10}
	d.linef("%s", strings.Repeat("x", 30))
	if got := strings.TrimSuffix(out.String(), "\n"); got != strings.Repeat("x", 9)+"…" {
		t.Errorf("line = %q", got)
	}
}
