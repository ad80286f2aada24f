package roster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"attendbot/pkg/logx"
)

const schema = `
CREATE TABLE IF NOT EXISTS recipients (
	chat_id      INTEGER PRIMARY KEY,
	handle       TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT '',
	sheet_name   TEXT NOT NULL,
	sheet_key    TEXT NOT NULL,
	created_at   TIMESTAMP NOT NULL,
	updated_at   TIMESTAMP NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_recipients_sheet_key ON recipients(sheet_key);
`

// DB is the sqlite-backed Directory.
type DB struct {
	db  *sql.DB
	log logx.Logger
}

var _ Directory = (*DB)(nil)

type Config struct {
	Path        string
	BusyTimeout time.Duration
}

func Open(cfg Config, log logx.Logger) (*DB, error) {
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open roster db: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping roster db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate roster db: %w", err)
	}

	log.Debug("roster.opened", logx.String("path", cfg.Path))
	return &DB{db: db, log: log}, nil
}

func (d *DB) Close() error { return d.db.Close() }

func (d *DB) Upsert(ctx context.Context, r Recipient) error {
	key := Fold(r.SheetName)
	if key == "" {
		return errors.New("roster: empty sheet name")
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var owner int64
	err = tx.QueryRowContext(ctx,
		`SELECT chat_id FROM recipients WHERE sheet_key = ?`, key).Scan(&owner)
	switch {
	case err == nil && owner != r.ChatID:
		return fmt.Errorf("%w: %q", ErrNameClaimed, r.SheetName)
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("check sheet key: %w", err)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
INSERT INTO recipients (chat_id, handle, display_name, sheet_name, sheet_key, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (chat_id) DO UPDATE SET
	handle       = excluded.handle,
	display_name = excluded.display_name,
	sheet_name   = excluded.sheet_name,
	sheet_key    = excluded.sheet_key,
	updated_at   = excluded.updated_at`,
		r.ChatID, r.Handle, r.DisplayName, r.SheetName, key, now, now)
	if err != nil {
		return fmt.Errorf("upsert recipient: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	d.log.Debug("roster.upserted",
		logx.Int64("chat_id", r.ChatID),
		logx.String("sheet_name", r.SheetName))
	return nil
}

func (d *DB) ByChatID(ctx context.Context, chatID int64) (Recipient, error) {
	return d.one(ctx, `WHERE chat_id = ?`, chatID)
}

func (d *DB) ByHandle(ctx context.Context, handle string) (Recipient, error) {
	h := strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if h == "" {
		return Recipient{}, ErrNotFound
	}
	// Telegram usernames are ASCII, so NOCASE folds them fully.
	return d.one(ctx, `WHERE handle = ? COLLATE NOCASE`, h)
}

func (d *DB) BySheetName(ctx context.Context, name string) (Recipient, error) {
	return d.one(ctx, `WHERE sheet_key = ?`, Fold(name))
}

func (d *DB) one(ctx context.Context, where string, arg any) (Recipient, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT chat_id, handle, display_name, sheet_name, created_at, updated_at FROM recipients `+where, arg)

	var r Recipient
	err := row.Scan(&r.ChatID, &r.Handle, &r.DisplayName, &r.SheetName, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Recipient{}, ErrNotFound
	}
	if err != nil {
		return Recipient{}, fmt.Errorf("query recipient: %w", err)
	}
	return r, nil
}

func (d *DB) All(ctx context.Context) ([]Recipient, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT chat_id, handle, display_name, sheet_name, created_at, updated_at
		 FROM recipients ORDER BY sheet_key`)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	var out []Recipient
	for rows.Next() {
		var r Recipient
		if err := rows.Scan(&r.ChatID, &r.Handle, &r.DisplayName, &r.SheetName, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *DB) Remove(ctx context.Context, chatID int64) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM recipients WHERE chat_id = ?`, chatID)
	if err != nil {
		return fmt.Errorf("remove recipient: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	d.log.Debug("roster.removed", logx.Int64("chat_id", chatID))
	return nil
}

// SnapshotTo writes a consistent copy of the database to path.
func (d *DB) SnapshotTo(ctx context.Context, path string) error {
	if _, err := d.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return fmt.Errorf("vacuum into: %w", err)
	}
	return nil
}
