package output

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofrs/flock"
)

func TestFileReporterWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "run.json")
	rep := NewFileReporter(path, FormatJSON)

	if err := rep.Report(context.Background(), sampleStats(), nil); err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var decoded Report
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded.Stats.ScenarioName != "checkout" {
		t.Fatalf("scenario = %q", decoded.Stats.ScenarioName)
	}
}

func TestFileReporterWaitsForLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.txt")
	held := flock.New(path + ".lock")
	if err := held.Lock(); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	defer held.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewFileReporter(path, FormatText).Report(ctx, sampleStats(), nil)
	if err == nil {
		t.Fatal("expected lock error while another writer holds the lock")
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatalf("report written without the lock: %v", statErr)
	}
}

func TestWriterReporter(t *testing.T) {
	var sb strings.Builder
	rep := &WriterReporter{W: &sb, Format: FormatText}
	if err := rep.Report(context.Background(), sampleStats(), nil); err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	if !strings.Contains(sb.String(), "Scenario Results: checkout") {
		t.Fatalf("output = %q", sb.String())
	}
}
