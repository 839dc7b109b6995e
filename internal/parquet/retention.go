package parquet

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/xtxerr/perfkit/internal/logging"
)

// fileTimeLayout is the timestamp part of a snapshot file name.
const fileTimeLayout = "20060102T150405"

// Retention deletes finished snapshot files older than a maximum age.
// A file's age is taken from the time in its name, which is when it was
// opened.
type Retention struct {
	mu     sync.Mutex
	dir    string
	maxAge time.Duration
	clock  clock.Clock
	log    *slog.Logger
	stats  RetentionStats
}

// RetentionStats holds retention statistics.
type RetentionStats struct {
	LastRunTime  time.Time
	FilesDeleted int64
	BytesFreed   int64
	FilesSkipped int64
	Errors       int64
}

// CleanupResult holds the result of one cleanup pass.
type CleanupResult struct {
	FilesDeleted int
	BytesFreed   int64
	FilesSkipped int
	Errors       []error
}

// DiskUsage holds the size of the finished files in a directory.
type DiskUsage struct {
	FileCount int
	TotalSize int64
	Oldest    time.Time
	Newest    time.Time
}

// NewRetention creates a retention policy for dir. maxAge <= 0 keeps
// everything.
func NewRetention(dir string, maxAge time.Duration, clk clock.Clock) *Retention {
	if clk == nil {
		clk = clock.New()
	}
	return &Retention{
		dir:    dir,
		maxAge: maxAge,
		clock:  clk,
		log:    logging.Component("parquet.retention"),
	}
}

// MaxAge returns the configured maximum age.
func (r *Retention) MaxAge() time.Duration {
	return r.maxAge
}

// Run deletes expired files. With dryRun set it only reports what would
// be deleted.
func (r *Retention) Run(dryRun bool) CleanupResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result CleanupResult
	now := r.clock.Now()
	if !dryRun {
		r.stats.LastRunTime = now
	}
	if r.maxAge <= 0 {
		return result
	}
	cutoff := now.Add(-r.maxAge)

	files, err := listFileInfo(r.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, fmt.Errorf("list files: %w", err))
		}
		r.account(result, dryRun)
		return result
	}

	for _, f := range files {
		t, err := parseFileTime(f.name)
		if err != nil || t.After(cutoff) {
			result.FilesSkipped++
			continue
		}
		if !dryRun {
			if err := os.Remove(f.path); err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("delete %s: %w", f.path, err))
				continue
			}
			r.log.Debug("expired file deleted", "path", f.path, "age", now.Sub(t))
		}
		result.FilesDeleted++
		result.BytesFreed += f.size
	}

	r.account(result, dryRun)
	return result
}

func (r *Retention) account(result CleanupResult, dryRun bool) {
	if dryRun {
		return
	}
	r.stats.FilesDeleted += int64(result.FilesDeleted)
	r.stats.BytesFreed += result.BytesFreed
	r.stats.FilesSkipped += int64(result.FilesSkipped)
	r.stats.Errors += int64(len(result.Errors))
}

// Stats returns retention statistics.
func (r *Retention) Stats() RetentionStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Usage returns the disk usage of the finished files.
func (r *Retention) Usage() (DiskUsage, error) {
	var u DiskUsage
	files, err := listFileInfo(r.dir)
	if err != nil {
		return u, err
	}
	for _, f := range files {
		u.FileCount++
		u.TotalSize += f.size
		t, err := parseFileTime(f.name)
		if err != nil {
			continue
		}
		if u.Oldest.IsZero() || t.Before(u.Oldest) {
			u.Oldest = t
		}
		if t.After(u.Newest) {
			u.Newest = t
		}
	}
	return u, nil
}

type fileInfo struct {
	name string
	path string
	size int64
}

// listFileInfo lists the finished Parquet files in dir, oldest first.
func listFileInfo(dir string) ([]fileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []fileInfo
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != fileExt {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{
			name: entry.Name(),
			path: filepath.Join(dir, entry.Name()),
			size: info.Size(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].name < files[j].name
	})
	return files, nil
}

// parseFileTime extracts the timestamp from "snapshot-<time>-<seq>.parquet".
func parseFileTime(name string) (time.Time, error) {
	base := strings.TrimSuffix(name, fileExt)
	rest, ok := strings.CutPrefix(base, "snapshot-")
	if !ok || len(rest) < len(fileTimeLayout) {
		return time.Time{}, fmt.Errorf("not a snapshot file name: %q", name)
	}
	return time.Parse(fileTimeLayout, rest[:len(fileTimeLayout)])
}

// FormatBytes formats a byte count for humans.
func FormatBytes(b int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
