package roster

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"attendbot/pkg/logx"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{Path: filepath.Join(t.TempDir(), "roster.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestUpsertAndLookup(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	r := Recipient{ChatID: 42, Handle: "alice_t", DisplayName: "Alice", SheetName: "Alice K"}
	if err := db.Upsert(ctx, r); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := db.ByChatID(ctx, 42)
	if err != nil {
		t.Fatalf("by chat id: %v", err)
	}
	if got.SheetName != "Alice K" || got.Handle != "alice_t" {
		t.Errorf("got %+v", got)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}

	// Grid lookups fold case and whitespace.
	if _, err := db.BySheetName(ctx, "  alice k "); err != nil {
		t.Errorf("folded lookup: %v", err)
	}

	// Handle lookups fold case and tolerate the leading "@".
	if got, err := db.ByHandle(ctx, "@Alice_T"); err != nil || got.ChatID != 42 {
		t.Errorf("handle lookup = %+v, %v", got, err)
	}

	if _, err := db.ByChatID(ctx, 7); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing chat: %v", err)
	}
	if _, err := db.BySheetName(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing name: %v", err)
	}
	if _, err := db.ByHandle(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing handle: %v", err)
	}
	if _, err := db.ByHandle(ctx, "  "); !errors.Is(err, ErrNotFound) {
		t.Errorf("blank handle: %v", err)
	}
}

func TestUpsertReRegisterKeepsCreatedAt(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Upsert(ctx, Recipient{ChatID: 1, SheetName: "Bob"}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	first, _ := db.ByChatID(ctx, 1)

	time.Sleep(10 * time.Millisecond)
	if err := db.Upsert(ctx, Recipient{ChatID: 1, SheetName: "Bobby", Handle: "bob"}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, _ := db.ByChatID(ctx, 1)
	if got.SheetName != "Bobby" || got.Handle != "bob" {
		t.Errorf("update lost fields: %+v", got)
	}
	if !got.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("created_at changed: %v -> %v", first.CreatedAt, got.CreatedAt)
	}
	if !got.UpdatedAt.After(first.UpdatedAt) {
		t.Errorf("updated_at not advanced: %v -> %v", first.UpdatedAt, got.UpdatedAt)
	}
}

func TestUpsertNameClaimed(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Upsert(ctx, Recipient{ChatID: 1, SheetName: "Carol"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	err := db.Upsert(ctx, Recipient{ChatID: 2, SheetName: " CAROL "})
	if !errors.Is(err, ErrNameClaimed) {
		t.Fatalf("want ErrNameClaimed, got %v", err)
	}

	// The original owner can still re-register under the same name.
	if err := db.Upsert(ctx, Recipient{ChatID: 1, SheetName: "Carol"}); err != nil {
		t.Fatalf("owner re-register: %v", err)
	}
}

func TestUpsertEmptyNameRejected(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	if err := db.Upsert(context.Background(), Recipient{ChatID: 1, SheetName: "   "}); err == nil {
		t.Fatal("empty sheet name accepted")
	}
}

func TestAllAndRemove(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	for i, name := range []string{"zoe", "adam", "mia"} {
		if err := db.Upsert(ctx, Recipient{ChatID: int64(i + 1), SheetName: name}); err != nil {
			t.Fatalf("upsert %s: %v", name, err)
		}
	}

	all, err := db.All(ctx)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 3 || all[0].SheetName != "adam" || all[2].SheetName != "zoe" {
		t.Fatalf("all = %+v", all)
	}

	if err := db.Remove(ctx, 2); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := db.Remove(ctx, 2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double remove: %v", err)
	}
	if all, _ = db.All(ctx); len(all) != 2 {
		t.Fatalf("after remove: %+v", all)
	}
}

func TestSnapshotTo(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()
	if err := db.Upsert(ctx, Recipient{ChatID: 9, SheetName: "dana"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	path := filepath.Join(t.TempDir(), "snap.db")
	if err := db.SnapshotTo(ctx, path); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	copyDB, err := Open(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	defer copyDB.Close()

	if _, err := copyDB.BySheetName(ctx, "dana"); err != nil {
		t.Fatalf("snapshot content: %v", err)
	}
}

func TestBackupPrune(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	names := []string{
		"roster-20260101-000000.db",
		"roster-20260108-000000.db",
		"roster-20260115-000000.db",
		"roster-20260122-000000.db",
		"unrelated.txt",
	}
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644); err != nil {
			t.Fatalf("seed %s: %v", n, err)
		}
	}

	db := openTestDB(t)
	b, err := NewBackup(db, BackupConfig{Cron: "0 4 * * 1", Dir: dir, Keep: 2}, logx.Nop())
	if err != nil {
		t.Fatalf("new backup: %v", err)
	}
	if err := b.prune(); err != nil {
		t.Fatalf("prune: %v", err)
	}

	entries, _ := os.ReadDir(dir)
	var left []string
	for _, e := range entries {
		left = append(left, e.Name())
	}
	want := map[string]bool{
		"roster-20260115-000000.db": true,
		"roster-20260122-000000.db": true,
		"unrelated.txt":             true,
	}
	if len(left) != len(want) {
		t.Fatalf("left = %v", left)
	}
	for _, n := range left {
		if !want[n] {
			t.Errorf("unexpected survivor %s", n)
		}
	}
}

func TestBackupRejectsBadCron(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	if _, err := NewBackup(db, BackupConfig{Cron: "every monday", Dir: t.TempDir()}, logx.Nop()); err == nil {
		t.Fatal("bad cron accepted")
	}
}
