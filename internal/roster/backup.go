package roster

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"github.com/robfig/cron/v3"

	"attendbot/pkg/logx"
)

const (
	backupPrefix  = "roster-"
	backupSuffix  = ".db"
	backupStamp   = "20060102-150405"
	backupTimeout = time.Minute
)

type BackupConfig struct {
	// Cron is a standard 5-field schedule expression.
	Cron string
	Dir  string
	Keep int
}

// Backup snapshots the registry on a cron schedule and prunes old copies.
type Backup struct {
	db   *DB
	cfg  BackupConfig
	cron *cron.Cron
	log  logx.Logger
}

func NewBackup(db *DB, cfg BackupConfig, log logx.Logger) (*Backup, error) {
	if cfg.Dir == "" {
		cfg.Dir = "backups"
	}
	if cfg.Keep <= 0 {
		cfg.Keep = 8
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("backup dir: %w", err)
	}

	b := &Backup{db: db, cfg: cfg, cron: cron.New(), log: log}
	if _, err := b.cron.AddFunc(cfg.Cron, b.run); err != nil {
		return nil, fmt.Errorf("backup schedule %q: %w", cfg.Cron, err)
	}
	return b, nil
}

func (b *Backup) Start() {
	b.cron.Start()
	b.log.Info("roster.backup_scheduled",
		logx.String("cron", b.cfg.Cron),
		logx.String("dir", b.cfg.Dir))
}

// Stop waits for a running snapshot to finish, bounded by ctx.
func (b *Backup) Stop(ctx context.Context) error {
	done := b.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Backup) run() {
	ctx, cancel := context.WithTimeout(context.Background(), backupTimeout)
	defer cancel()

	name := backupPrefix + time.Now().UTC().Format(backupStamp) + backupSuffix
	final := filepath.Join(b.cfg.Dir, name)
	tmp := final + ".tmp"

	// Snapshot into a scratch file first so a crash mid-write never leaves
	// a truncated backup under the final name.
	if err := b.db.SnapshotTo(ctx, tmp); err != nil {
		b.log.Warn("roster.backup_failed", logx.Err(err))
		_ = os.Remove(tmp)
		return
	}
	if err := atomic.ReplaceFile(tmp, final); err != nil {
		b.log.Warn("roster.backup_failed", logx.Err(err))
		_ = os.Remove(tmp)
		return
	}

	b.log.Info("roster.backup_written", logx.String("path", final))
	if err := b.prune(); err != nil {
		b.log.Warn("roster.backup_prune_failed", logx.Err(err))
	}
}

// prune deletes the oldest snapshots beyond the keep count.
func (b *Backup) prune() error {
	entries, err := os.ReadDir(b.cfg.Dir)
	if err != nil {
		return err
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.Type().IsRegular() && strings.HasPrefix(name, backupPrefix) && strings.HasSuffix(name, backupSuffix) {
			names = append(names, name)
		}
	}
	if len(names) <= b.cfg.Keep {
		return nil
	}

	// Timestamped names sort chronologically.
	sort.Strings(names)
	for _, name := range names[:len(names)-b.cfg.Keep] {
		if err := os.Remove(filepath.Join(b.cfg.Dir, name)); err != nil {
			return err
		}
		b.log.Debug("roster.backup_pruned", logx.String("name", name))
	}
	return nil
}
