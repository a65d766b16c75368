package logger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newQuiet(size int, sink FileSinkConfig) *Logger {
	l := New(size, sink)
	l.SetConsoleOutput(false)
	return l
}

func TestRingBufferBound(t *testing.T) {
	t.Parallel()

	const size = 10
	l := newQuiet(size, FileSinkConfig{})

	for i := 0; i < size+7; i++ {
		l.Info("test", fmt.Sprintf("message %d", i), "")
	}

	if got := l.Len(); got != size {
		t.Fatalf("buffer holds %d records, want %d", got, size)
	}

	// Snapshot is newest first; the newest record must be the last appended
	// and the oldest surviving record must be message 7.
	recs := l.Snapshot(0, "", "")
	if recs[0].Message != fmt.Sprintf("message %d", size+6) {
		t.Errorf("newest record = %q", recs[0].Message)
	}
	if recs[len(recs)-1].Message != "message 7" {
		t.Errorf("oldest surviving record = %q", recs[len(recs)-1].Message)
	}
}

func TestSnapshotFilters(t *testing.T) {
	t.Parallel()

	l := newQuiet(50, FileSinkConfig{})
	l.Info("api", "request served", "10.0.0.1:1234")
	l.Warn("security", "blocked request", "10.0.0.2:4321")
	l.Error("command", "spawn failed", "")
	l.Info("api", "another request", "")

	if got := len(l.Snapshot(0, LevelWarn, "")); got != 1 {
		t.Errorf("level filter returned %d records, want 1", got)
	}
	if got := len(l.Snapshot(0, "", "request")); got != 3 {
		t.Errorf("substring filter returned %d records, want 3", got)
	}
	if got := len(l.Snapshot(2, "", "")); got != 2 {
		t.Errorf("limit returned %d records, want 2", got)
	}

	recs := l.Snapshot(1, "", "")
	if recs[0].Message != "another request" {
		t.Errorf("most recent record = %q, want the last appended", recs[0].Message)
	}
}

func TestFileSinkWritesJSONL(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	l := newQuiet(10, FileSinkConfig{Enabled: true, Path: path, MaxBytes: 1 << 20})
	defer l.Close()

	l.Info("api", "hello", "10.1.2.3:555")
	l.Warn("security", "bad peer", "")

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log file: %v", err)
	}
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", lines+1, err)
		}
		lines++
	}
	if lines != 2 {
		t.Errorf("log file has %d lines, want 2", lines)
	}
}

func TestRotationBySize(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	// Tiny limit so the very first record triggers rotation.
	l := newQuiet(10, FileSinkConfig{Enabled: true, Path: path, MaxBytes: 64})
	defer l.Close()

	l.Info("test", strings.Repeat("x", 100), "")
	l.Info("test", "second record", "")

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var rotated []string
	var fresh bool
	for _, e := range entries {
		switch {
		case e.Name() == "app.log":
			fresh = true
		case strings.HasPrefix(e.Name(), "app.log."):
			rotated = append(rotated, e.Name())
		}
	}
	if len(rotated) == 0 {
		t.Fatal("no rotated file with timestamp suffix")
	}
	if !fresh {
		t.Fatal("no fresh log file after rotation")
	}

	// The rotated file keeps the earlier oversized record.
	data, err := os.ReadFile(filepath.Join(dir, rotated[0]))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), strings.Repeat("x", 100)) {
		t.Error("rotated file does not retain earlier content")
	}

	// The fresh file holds the record appended after rotation.
	data, err = os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "second record") {
		t.Error("fresh file missing post-rotation record")
	}
}

func TestOnRecordCallback(t *testing.T) {
	t.Parallel()

	l := newQuiet(10, FileSinkConfig{})
	var got []Record
	l.SetOnRecord(func(rec Record) { got = append(got, rec) })

	l.Info("api", "one", "")
	l.Error("api", "two", "")

	if len(got) != 2 {
		t.Fatalf("callback invoked %d times, want 2", len(got))
	}
	if got[0].Message != "one" || got[1].Message != "two" {
		t.Errorf("callback order wrong: %v", got)
	}
}

func TestReconfigureShrinksBuffer(t *testing.T) {
	t.Parallel()

	l := newQuiet(20, FileSinkConfig{})
	for i := 0; i < 20; i++ {
		l.Info("test", fmt.Sprintf("m%d", i), "")
	}
	l.Reconfigure(5, FileSinkConfig{})

	if got := l.Len(); got != 5 {
		t.Fatalf("buffer holds %d after shrink, want 5", got)
	}
	recs := l.Snapshot(0, "", "")
	if recs[0].Message != "m19" {
		t.Errorf("newest record after shrink = %q, want m19", recs[0].Message)
	}
}
