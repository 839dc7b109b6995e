// Package parquet writes counter snapshots to Parquet files and reads
// them back.
//
// Rows are appended to a file until it reaches a row limit; the file is
// then finished and a new one is started on the next write. A file being
// written carries a ".tmp" suffix and is renamed when finished, so every
// "*.parquet" file in the directory is complete.
package parquet

import (
	"github.com/xtxerr/perfkit/internal/snapshot"
)

// Row is one counter record in Parquet form.
type Row struct {
	Section     string  `parquet:"section,dict"`
	Name        string  `parquet:"name,dict"`
	Kind        string  `parquet:"kind,dict"`
	TimestampMs int64   `parquet:"timestamp_ms"`
	Value       float64 `parquet:"value"`
	Integer     uint64  `parquet:"integer"`
	Total       uint64  `parquet:"total"`
	P50         float64 `parquet:"p50,optional"`
	P90         float64 `parquet:"p90,optional"`
	P95         float64 `parquet:"p95,optional"`
	P99         float64 `parquet:"p99,optional"`
	P999        float64 `parquet:"p999,optional"`
}

// RecordToRow converts a snapshot record to a row.
func RecordToRow(r *snapshot.Record) Row {
	row := Row{
		Section:     r.Section,
		Name:        r.Name,
		Kind:        r.Kind,
		TimestampMs: r.TimestampMs,
		Value:       r.Value,
		Integer:     r.Integer,
		Total:       r.Total,
	}
	if r.HasPercentiles {
		row.P50 = r.Percentiles[0]
		row.P90 = r.Percentiles[1]
		row.P95 = r.Percentiles[2]
		row.P99 = r.Percentiles[3]
		row.P999 = r.Percentiles[4]
	}
	return row
}

// RowToRecord converts a row back to a snapshot record. Descriptions are
// not stored in Parquet files.
func RowToRecord(row *Row) snapshot.Record {
	rec := snapshot.Record{
		Section:     row.Section,
		Name:        row.Name,
		Kind:        row.Kind,
		TimestampMs: row.TimestampMs,
		Value:       row.Value,
		Integer:     row.Integer,
		Total:       row.Total,
	}
	if row.Kind == "percentile" {
		rec.Percentiles = [snapshot.NumPercentiles]float64{row.P50, row.P90, row.P95, row.P99, row.P999}
		rec.HasPercentiles = true
	}
	return rec
}
