package parquet

import (
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/perfkit/internal/errors"
	"github.com/xtxerr/perfkit/internal/snapshot"
)

// Reader reads snapshot records from a Parquet file.
type Reader struct {
	path   string
	file   *os.File
	pf     *parquet.File
	reader *parquet.GenericReader[Row]
}

// NewReader opens a Parquet file. A file that is not valid Parquet is
// reported as ErrCorruptRecord.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %v: %w", path, err, errors.ErrCorruptRecord)
	}

	return &Reader{
		path:   path,
		file:   f,
		pf:     pf,
		reader: parquet.NewGenericReader[Row](pf),
	}, nil
}

// Read reads up to n records. It returns io.EOF once every row has been
// read.
func (r *Reader) Read(n int) ([]snapshot.Record, error) {
	rows := make([]Row, n)
	count, err := r.reader.Read(rows)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("%s: read rows: %w", r.path, err)
	}
	if count == 0 && err == io.EOF {
		return nil, io.EOF
	}

	out := make([]snapshot.Record, count)
	for i := 0; i < count; i++ {
		out[i] = RowToRecord(&rows[i])
	}
	return out, nil
}

// ReadAll reads every record in the file.
func (r *Reader) ReadAll() ([]snapshot.Record, error) {
	var out []snapshot.Record
	for {
		recs, err := r.Read(1024)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, recs...)
	}
}

// NumRows returns the number of rows in the file.
func (r *Reader) NumRows() int64 {
	return r.pf.NumRows()
}

// Host returns the host recorded by the writer, if any.
func (r *Reader) Host() string {
	host, _ := r.pf.Lookup(HostKey)
	return host
}

// Path returns the file path.
func (r *Reader) Path() string {
	return r.path
}

// Close closes the reader.
func (r *Reader) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// ReadFile reads every record in a Parquet file.
func ReadFile(path string) ([]snapshot.Record, error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.ReadAll()
}
