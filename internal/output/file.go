package output

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/torosent/stepfire/internal/metrics"
)

const lockRetryDelay = 50 * time.Millisecond

// FileReporter writes the final report to a file. Concurrent runs sharing the
// path serialize on a sibling ".lock" file.
type FileReporter struct {
	Path   string
	Format string
}

func NewFileReporter(path, format string) *FileReporter {
	return &FileReporter{Path: path, Format: format}
}

// Report renders the report and replaces the file while holding the lock.
func (f *FileReporter) Report(ctx context.Context, stats metrics.ScenarioStats, snapshots []metrics.Snapshot) error {
	var buf bytes.Buffer
	if err := WriteReport(&buf, f.Format, stats, snapshots); err != nil {
		return err
	}

	if dir := filepath.Dir(f.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}

	lock := flock.New(f.Path + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock report file: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock report file %s: not acquired", f.Path)
	}
	defer lock.Unlock()

	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if err := os.Rename(tmp, f.Path); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// WriterReporter prints the report to a writer, usually stdout.
type WriterReporter struct {
	W      io.Writer
	Format string
}

func (r *WriterReporter) Report(_ context.Context, stats metrics.ScenarioStats, snapshots []metrics.Snapshot) error {
	return WriteReport(r.W, r.Format, stats, snapshots)
}
