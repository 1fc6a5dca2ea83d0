package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
		hasError bool
	}{
		{"debug", LevelDebug, false},
		{"DEBUG", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
		{"", LevelInfo, true},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			level, err := ParseLevel(test.input)
			if test.hasError {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if level != test.expected {
				t.Errorf("expected %v, got %v", test.expected, level)
			}
			if LevelString(level) != strings.Replace(strings.ToLower(test.input), "warning", "warn", 1) {
				t.Errorf("LevelString(%v) = %q", level, LevelString(level))
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("JSON"); err != nil || f != FormatJSON {
		t.Errorf("ParseFormat(JSON) = %v, %v", f, err)
	}
	if f, err := ParseFormat(""); err != nil || f != FormatText {
		t.Errorf("ParseFormat(\"\") = %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for xml")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Level != LevelInfo {
		t.Errorf("expected info level, got %v", cfg.Level)
	}
	if cfg.Output != "stderr" {
		t.Errorf("expected stderr output, got %s", cfg.Output)
	}
	if cfg.Component != "duodisplayd" {
		t.Errorf("unexpected component %q", cfg.Component)
	}
	if !strings.HasSuffix(cfg.FilePath, "duodisplayd.log") {
		t.Errorf("unexpected log path %q", cfg.FilePath)
	}
}

func newFileLogger(t *testing.T, format Format) (*Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.log")
	l, err := New(&Config{
		Level:     LevelInfo,
		Format:    format,
		Output:    "file",
		FilePath:  path,
		MaxSize:   1,
		Component: "test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, path
}

func readJSONLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		out = append(out, rec)
	}
	return out
}

func TestChildLoggersShareLevel(t *testing.T) {
	l, path := newFileLogger(t, FormatJSON)
	child := l.WithComponent("engine").WithTransaction("txn-1")

	child.Debug("hidden")
	l.SetLevel(LevelDebug)
	child.Debug("shown")
	if l.Level() != LevelDebug {
		t.Errorf("expected debug level, got %v", l.Level())
	}
	l.Sync()

	recs := readJSONLines(t, path)
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0]["msg"] != "shown" {
		t.Errorf("unexpected message %v", recs[0]["msg"])
	}
	if recs[0]["txn"] != "txn-1" {
		t.Errorf("missing txn attribute: %v", recs[0])
	}
}

func TestTransactionContext(t *testing.T) {
	if TransactionFromContext(nil) != "" { //nolint:staticcheck
		t.Error("nil context should yield empty id")
	}
	if TransactionFromContext(context.Background()) != "" {
		t.Error("empty context should yield empty id")
	}

	ctx := ContextWithTransaction(context.Background(), "abc")
	if got := TransactionFromContext(ctx); got != "abc" {
		t.Errorf("expected abc, got %q", got)
	}

	l, path := newFileLogger(t, FormatJSON)
	l.WithContext(ctx).Info("applied")
	l.WithContext(context.Background()).Info("plain")
	l.Sync()

	recs := readJSONLines(t, path)
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0]["txn"] != "abc" {
		t.Errorf("expected txn on first record: %v", recs[0])
	}
	if _, ok := recs[1]["txn"]; ok {
		t.Errorf("unexpected txn on second record: %v", recs[1])
	}
}

func TestOrDefault(t *testing.T) {
	if OrDefault(nil) == nil {
		t.Fatal("OrDefault(nil) returned nil")
	}
	l := NewDiscard()
	if OrDefault(l) != l {
		t.Error("OrDefault should return its argument")
	}
}

func TestFileRotatorSizeRotation(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		FilePath:   filepath.Join(dir, "svc.log"),
		MaxSize:    1,
		MaxBackups: 2,
		Compress:   false,
	}
	r, err := NewFileRotator(cfg)
	if err != nil {
		t.Fatalf("NewFileRotator: %v", err)
	}

	// distinct timestamps keep rotated names unique
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local)
	r.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	r.opened = r.now()

	chunk := make([]byte, 600*1024)
	for i := 0; i < 5; i++ {
		if _, err := r.Write(chunk); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	backups, err := r.Backups()
	if err != nil {
		t.Fatalf("Backups: %v", err)
	}
	if len(backups) != 2 {
		t.Errorf("expected 2 backups after pruning, got %d: %v", len(backups), backups)
	}
	info, err := os.Stat(cfg.FilePath)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() > 1024*1024 {
		t.Errorf("active file exceeds max size: %d", info.Size())
	}
}

func TestFileRotatorDailyRotation(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		FilePath: filepath.Join(dir, "svc.log"),
		MaxSize:  100,
		Compress: true,
	}
	r, err := NewFileRotator(cfg)
	if err != nil {
		t.Fatalf("NewFileRotator: %v", err)
	}

	day := time.Date(2026, 3, 1, 23, 59, 0, 0, time.Local)
	r.now = func() time.Time { return day }
	r.opened = day

	r.Write([]byte("before midnight\n"))
	day = day.Add(2 * time.Minute)
	r.Write([]byte("after midnight\n"))
	r.Close()

	backups, _ := r.Backups()
	if len(backups) != 1 {
		t.Fatalf("expected 1 backup, got %v", backups)
	}
	if !strings.HasSuffix(backups[0], ".log.gz") {
		t.Errorf("expected compressed backup, got %s", backups[0])
	}
	data, _ := os.ReadFile(cfg.FilePath)
	if string(data) != "after midnight\n" {
		t.Errorf("unexpected active file content %q", data)
	}
}

func TestGuardRecoversPanic(t *testing.T) {
	dir := t.TempDir()

	panicked := Guard(NewDiscard(), "router", dir, "test", func() {
		panic("boom")
	})
	if !panicked {
		t.Fatal("expected Guard to report the panic")
	}

	files, _ := filepath.Glob(filepath.Join(dir, "crash-router-*.json"))
	if len(files) != 1 {
		t.Fatalf("expected one crash report, got %v", files)
	}
	data, _ := os.ReadFile(files[0])
	var report CrashReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.PanicValue != "boom" || report.Version != "test" {
		t.Errorf("unexpected report: %+v", report)
	}

	if Guard(NewDiscard(), "ok", dir, "", func() {}) {
		t.Error("Guard reported a panic for a clean return")
	}
}
