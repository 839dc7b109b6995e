package parquet

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/perfkit/config"
	"github.com/xtxerr/perfkit/internal/errors"
	"github.com/xtxerr/perfkit/internal/logging"
	"github.com/xtxerr/perfkit/internal/snapshot"
)

const (
	fileExt = ".parquet"
	tmpExt  = ".tmp"

	// HostKey is the file metadata key holding the writing host.
	HostKey = "perfkit.host"
)

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// ParseCompressionType parses a compression name.
func ParseCompressionType(s string) (CompressionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "snappy":
		return CompressionSnappy, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	case "gzip":
		return CompressionGzip, nil
	case "none", "":
		return CompressionNone, nil
	}
	return CompressionNone, fmt.Errorf("compression %q: %w", s, errors.ErrInvalidConfig)
}

func (c CompressionType) codec() compress.Codec {
	switch c {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// Options configures the Parquet writer.
type Options struct {
	Compression CompressionType

	// RowsPerFile finishes the current file once it holds this many rows.
	RowsPerFile int

	// Host is stored in the file metadata under HostKey.
	Host string

	// Clock names files; defaults to the wall clock.
	Clock clock.Clock

	// MaxAge deletes finished files older than this after each rotation.
	// Zero keeps everything.
	MaxAge time.Duration
}

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	c, _ := ParseCompressionType(config.DefaultParquetCompression)
	return Options{
		Compression: c,
		RowsPerFile: config.DefaultParquetRowsPerFile,
	}
}

// WriterStats holds Parquet writer statistics.
type WriterStats struct {
	FilesFinished int64
	RowsWritten   int64
	Errors        int64
}

// Writer appends snapshot batches to rotating Parquet files in a
// directory. It is safe for concurrent use.
type Writer struct {
	mu sync.Mutex

	dir  string
	opts Options
	log  *slog.Logger

	file    *os.File
	tmpPath string
	writer  *parquet.GenericWriter[Row]
	rows    int
	seq     int

	retention *Retention

	stats  WriterStats
	closed bool
}

// NewWriter creates a writer on dir. No file is created before the first
// write.
func NewWriter(dir string, opts Options) (*Writer, error) {
	if opts.RowsPerFile <= 0 {
		opts.RowsPerFile = config.DefaultParquetRowsPerFile
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create parquet dir: %w", err)
	}
	return &Writer{
		dir:       dir,
		opts:      opts,
		log:       logging.Component("parquet"),
		retention: NewRetention(dir, opts.MaxAge, opts.Clock),
	}, nil
}

// Write appends the records of b. A batch is never split across files.
func (w *Writer) Write(b *snapshot.Batch) error {
	if len(b.Records) == 0 {
		return nil
	}

	rows := make([]Row, len(b.Records))
	for i := range b.Records {
		rows[i] = RecordToRow(&b.Records[i])
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.ErrWriterClosed
	}

	if w.writer == nil {
		if err := w.openLocked(); err != nil {
			w.stats.Errors++
			return err
		}
	}

	n, err := w.writer.Write(rows)
	w.rows += n
	w.stats.RowsWritten += int64(n)
	if err != nil {
		w.stats.Errors++
		return fmt.Errorf("write rows: %w", err)
	}

	if w.rows >= w.opts.RowsPerFile {
		if err := w.finishLocked(); err != nil {
			w.stats.Errors++
			return err
		}
	}
	return nil
}

func (w *Writer) openLocked() error {
	name := fmt.Sprintf("snapshot-%s-%04d%s",
		w.opts.Clock.Now().UTC().Format(fileTimeLayout), w.seq, fileExt)
	w.seq++
	path := filepath.Join(w.dir, name+tmpExt)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	opts := []parquet.WriterOption{
		parquet.Compression(w.opts.Compression.codec()),
	}
	if w.opts.Host != "" {
		opts = append(opts, parquet.KeyValueMetadata(HostKey, w.opts.Host))
	}

	w.file = f
	w.tmpPath = path
	w.writer = parquet.NewGenericWriter[Row](f, opts...)
	w.rows = 0
	return nil
}

// finishLocked closes the current file and gives it its final name.
func (w *Writer) finishLocked() error {
	if w.writer == nil {
		return nil
	}
	writer, f, tmp := w.writer, w.file, w.tmpPath
	w.writer, w.file, w.tmpPath = nil, nil, ""

	if err := writer.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close writer: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}

	final := strings.TrimSuffix(tmp, tmpExt)
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}

	w.stats.FilesFinished++
	w.log.Debug("file finished", "path", final, "rows", w.rows)

	if res := w.retention.Run(false); len(res.Errors) > 0 {
		w.log.Warn("retention cleanup failed", "errors", len(res.Errors), "first", res.Errors[0])
	}
	return nil
}

// Rotate finishes the current file, if any.
func (w *Writer) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.ErrWriterClosed
	}
	return w.finishLocked()
}

// Close finishes the current file. Later writes fail with ErrWriterClosed.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.finishLocked()
}

// Stats returns writer statistics.
func (w *Writer) Stats() WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Retention returns the writer's retention policy.
func (w *Writer) Retention() *Retention {
	return w.retention
}

// Dir returns the output directory.
func (w *Writer) Dir() string {
	return w.dir
}

// ListFiles returns the finished Parquet files in dir, sorted by name.
func ListFiles(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*"+fileExt))
	if err != nil {
		return nil, err
	}
	// Glob returns names in lexical order, which is creation order.
	return paths, nil
}
