package journal

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"duodisplayd/internal/engine"
	"duodisplayd/internal/orientation"
)

func openTest(t *testing.T, opts Options) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func result(id string, started time.Time) engine.Result {
	return engine.Result{
		TransactionID: id,
		Started:       started,
		Duration:      1500 * time.Millisecond,
		Request: engine.Request{
			Panel1:    "panel-1",
			Panel2:    "panel-2",
			Rotation1: orientation.Rotate90,
			Rotation2: orientation.Rotate90,
			Enabled1:  true,
			Enabled2:  true,
		},
		Primary: "panel-2",
	}
}

func TestOpenCreatesDirectoryAndMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "journal.db")
	j, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer j.Close()

	v, err := SchemaVersion(j.db)
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if v != LatestVersion() {
		t.Errorf("schema version = %d, want %d", v, LatestVersion())
	}
	if err := j.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	j.Close()

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	defer db.Close()
	if err := MigrateDB(db); err != nil {
		t.Fatalf("second MigrateDB failed: %v", err)
	}
}

func TestCloseNilDB(t *testing.T) {
	j := &Journal{}
	if err := j.Close(); err != nil {
		t.Errorf("Close on nil db should not error: %v", err)
	}
}

func TestRecordAndHistory(t *testing.T) {
	j := openTest(t, Options{})
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	ok := result("a", base)
	if err := j.Record(ctx, ok, nil); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	soft := result("b", base.Add(time.Second))
	soft.Shortcut = true
	soft.Request.Enabled1 = false
	soft.SoftFailures = []error{errors.New("legacy rotation notification: port closed")}
	if err := j.Record(ctx, soft, nil); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	failed := result("c", base.Add(2*time.Second))
	failed.Primary = ""
	txErr := &engine.PlatformError{Step: engine.StepCommit, Err: errors.New("DISP_CHANGE_FAILED")}
	if err := j.Record(ctx, failed, txErr); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	entries, err := j.History(ctx, 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}

	if entries[0].ID != "c" || entries[0].Outcome != OutcomeFailed {
		t.Errorf("newest entry = %s/%s, want c/%s", entries[0].ID, entries[0].Outcome, OutcomeFailed)
	}
	if entries[0].Error != txErr.Error() {
		t.Errorf("error = %q, want %q", entries[0].Error, txErr.Error())
	}
	if entries[0].Primary != "" {
		t.Errorf("failed transaction primary = %q, want empty", entries[0].Primary)
	}

	b := entries[1]
	if b.Outcome != OutcomeSoftFailure || !b.Shortcut || b.Enabled1 || !b.Enabled2 {
		t.Errorf("soft entry = %+v", b)
	}
	if len(b.SoftFailures) != 1 || b.SoftFailures[0] != "legacy rotation notification: port closed" {
		t.Errorf("soft failures = %v", b.SoftFailures)
	}

	a := entries[2]
	if a.Outcome != OutcomeApplied || a.Rotation1 != orientation.Rotate90 || a.Primary != "panel-2" {
		t.Errorf("applied entry = %+v", a)
	}
	if !a.Started.Equal(base) || a.Duration != 1500*time.Millisecond {
		t.Errorf("timing = %v/%v", a.Started, a.Duration)
	}

	limited, err := j.History(ctx, 1)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "c" {
		t.Errorf("limited history = %v", limited)
	}
}

func TestRecordDuplicateID(t *testing.T) {
	j := openTest(t, Options{})
	ctx := context.Background()
	r := result("dup", time.Now())
	if err := j.Record(ctx, r, nil); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := j.Record(ctx, r, nil); err == nil {
		t.Error("expected an error for a duplicate transaction id")
	}
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	t.Run("by age", func(t *testing.T) {
		j := openTest(t, Options{RetentionDays: 7})
		for i, age := range []time.Duration{0, 24 * time.Hour, 8 * 24 * time.Hour, 30 * 24 * time.Hour} {
			if err := j.Record(ctx, result(string(rune('a'+i)), now.Add(-age)), nil); err != nil {
				t.Fatalf("Record failed: %v", err)
			}
		}
		n, err := j.Prune(ctx, now)
		if err != nil {
			t.Fatalf("Prune failed: %v", err)
		}
		if n != 2 {
			t.Errorf("pruned %d, want 2", n)
		}
		if count, _ := j.Count(ctx); count != 2 {
			t.Errorf("count = %d, want 2", count)
		}
	})

	t.Run("by count", func(t *testing.T) {
		j := openTest(t, Options{MaxEntries: 3})
		for i := 0; i < 5; i++ {
			if err := j.Record(ctx, result(string(rune('a'+i)), now.Add(time.Duration(i)*time.Second)), nil); err != nil {
				t.Fatalf("Record failed: %v", err)
			}
		}
		n, err := j.Prune(ctx, now)
		if err != nil {
			t.Fatalf("Prune failed: %v", err)
		}
		if n != 2 {
			t.Errorf("pruned %d, want 2", n)
		}
		entries, err := j.History(ctx, 0)
		if err != nil {
			t.Fatalf("History failed: %v", err)
		}
		if len(entries) != 3 || entries[2].ID != "c" {
			t.Errorf("kept %v, want the 3 newest", entries)
		}
	})

	t.Run("unbounded", func(t *testing.T) {
		j := openTest(t, Options{})
		if err := j.Record(ctx, result("a", now.AddDate(-1, 0, 0)), nil); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		if n, err := j.Prune(ctx, now); err != nil || n != 0 {
			t.Errorf("Prune = %d, %v; want 0, nil", n, err)
		}
	})
}

func TestRunPrunerStops(t *testing.T) {
	j := openTest(t, Options{MaxEntries: 1})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.RunPruner(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunPruner did not stop")
	}
}
