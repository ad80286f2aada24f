package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"attendbot/pkg/logx"
)

const (
	reloadDebounce  = 250 * time.Millisecond
	validateTimeout = 5 * time.Second

	watchBackoffBase = 250 * time.Millisecond
	watchBackoffMax  = 5 * time.Second
)

// Validator is consulted before a reloaded config is committed. Returning an
// error keeps the previous config active.
type Validator func(ctx context.Context, cfg *Config) error

// Manager owns the active configuration: initial load, strict parsing,
// file-watch reloads and subscriber fan-out.
type Manager struct {
	path      string
	validator Validator
	log       logx.Logger

	mu      sync.RWMutex
	cur     *Config
	curHash string

	subMu   sync.Mutex
	subs    map[int]chan *Config
	nextSub int

	timerMu sync.Mutex
	timer   *time.Timer
}

type ManagerOption func(*Manager)

func WithLogger(log logx.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

// WithValidator installs an extra check run before each commit, on top of the
// built-in structural validation.
func WithValidator(v Validator) ManagerOption {
	return func(m *Manager) { m.validator = v }
}

func NewManager(path string, opts ...ManagerOption) *Manager {
	m := &Manager{
		path: path,
		log:  logx.Nop(),
		subs: make(map[int]chan *Config),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Path() string { return m.path }

// Load reads, parses, validates and commits the config file. It must succeed
// once before Watch is useful.
func (m *Manager) Load(ctx context.Context) (*Config, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, hash, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := m.check(ctx, cfg); err != nil {
		return nil, err
	}
	m.Commit(cfg, hash)
	return cfg, nil
}

// Parse decodes YAML or JSON into a Config, rejecting unknown fields, then
// applies defaults. The returned hash identifies the decoded content.
func Parse(data []byte) (*Config, string, error) {
	jsonBytes, err := coerceToJSONBytes(data)
	if err != nil {
		return nil, "", err
	}

	dec := json.NewDecoder(bytes.NewReader(jsonBytes))
	dec.DisallowUnknownFields()

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, "", fmt.Errorf("decode config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, "", err
	}

	return &cfg, hashConfig(&cfg), nil
}

// Get returns the last committed config, or nil before the first Load.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur
}

// Commit installs cfg as current and fans it out to subscribers.
func (m *Manager) Commit(cfg *Config, hash string) {
	m.mu.Lock()
	m.cur = cfg
	m.curHash = hash
	m.mu.Unlock()
	m.publish(cfg)
}

// Subscribe registers a reload listener. The channel holds one pending config;
// slow consumers miss intermediate versions, never block the manager.
func (m *Manager) Subscribe() (int, <-chan *Config) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan *Config, 1)
	m.subs[id] = ch
	return id, ch
}

func (m *Manager) Unsubscribe(id int) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if ch, ok := m.subs[id]; ok {
		delete(m.subs, id)
		close(ch)
	}
}

func (m *Manager) publish(cfg *Config) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for id, ch := range m.subs {
		select {
		case ch <- cfg:
			continue
		default:
		}
		// Replace the unconsumed config so a lagging subscriber always gets
		// the latest version, not the oldest.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cfg:
		default:
		}
		m.log.Debug("config.subscriber_lagging", logx.Int("id", id))
	}
}

// Watch blocks reloading on file changes until ctx ends. The watcher is
// recreated with backoff if the OS channel dies (editors that replace the
// file, deleted parent dirs).
func (m *Manager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	base := filepath.Base(m.path)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	attempt := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := m.watchOnce(ctx, dir, base, &attempt)
		if ctx.Err() != nil {
			m.stopTimer()
			return ctx.Err()
		}
		if err != nil {
			m.log.Warn("config.watch_restart", logx.Err(err), logx.Int("attempt", attempt))
		}

		attempt++
		delay := watchBackoffBase << uint(min(attempt, 4))
		if delay > watchBackoffMax {
			delay = watchBackoffMax
		}
		delay = delay/2 + time.Duration(rng.Int63n(int64(delay/2)+1))

		select {
		case <-ctx.Done():
			m.stopTimer()
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (m *Manager) watchOnce(ctx context.Context, dir, base string, attempt *int) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	*attempt = 0

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("event channel closed")
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) == 0 {
				continue
			}
			m.scheduleReload(ctx)
		case werr, ok := <-w.Errors:
			if !ok {
				return errors.New("error channel closed")
			}
			if errors.Is(werr, fsnotify.ErrEventOverflow) {
				// Events were dropped; assume the file changed.
				m.scheduleReload(ctx)
				continue
			}
			m.log.Warn("config.watch_error", logx.Err(werr))
		}
	}
}

// scheduleReload debounces bursts of fs events into a single reload.
func (m *Manager) scheduleReload(ctx context.Context) {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(reloadDebounce, func() {
		m.reload(ctx)
	})
}

func (m *Manager) stopTimer() {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) reload(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	data, err := os.ReadFile(m.path)
	if err != nil {
		m.log.Warn("config.reload_read_failed", logx.Err(err))
		return
	}
	cfg, hash, err := Parse(data)
	if err != nil {
		m.log.Warn("config.reload_rejected", logx.Err(err))
		return
	}

	m.mu.RLock()
	unchanged := hash == m.curHash
	m.mu.RUnlock()
	if unchanged {
		m.log.Debug("config.reload_unchanged")
		return
	}

	if err := m.check(ctx, cfg); err != nil {
		m.log.Warn("config.reload_rejected", logx.Err(err))
		return
	}

	m.Commit(cfg, hash)
	m.log.Info("config.reloaded", logx.String("hash", hash[:12]))
}

func (m *Manager) check(ctx context.Context, cfg *Config) error {
	if m.validator == nil {
		return nil
	}
	vctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()
	if err := m.validator(vctx, cfg); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}

func hashConfig(cfg *Config) string {
	b, err := json.Marshal(cfg)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func applyDefaults(cfg *Config) {
	if cfg.Telegram.SendRatePerSec <= 0 {
		cfg.Telegram.SendRatePerSec = 20
	}
	if cfg.Schedule.TrainerSlots == 0 {
		cfg.Schedule.TrainerSlots = 4
	}
	if cfg.Schedule.OpenSlots == 0 {
		cfg.Schedule.OpenSlots = 4
	}
	if cfg.Schedule.IgnoredLabels == nil {
		cfg.Schedule.IgnoredLabels = []string{"reserved"}
	}
	if cfg.Schedule.CancelledLabels == nil {
		cfg.Schedule.CancelledLabels = []string{"cancelled"}
	}
	if cfg.Sheets.CacheTTL == "" {
		cfg.Sheets.CacheTTL = "2m"
	}
	if cfg.Roster.Backup.Keep <= 0 {
		cfg.Roster.Backup.Keep = 8
	}
	if cfg.Roster.Backup.Cron == "" {
		cfg.Roster.Backup.Cron = "0 4 * * 1"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Pprof.Addr == "" {
		cfg.Pprof.Addr = "127.0.0.1:6060"
	}
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return errors.New("telegram.token: required")
	}
	if strings.TrimSpace(cfg.Sheets.SpreadsheetID) == "" {
		return errors.New("sheets.spreadsheet_id: required")
	}
	if strings.TrimSpace(cfg.Sheets.CredentialsFile) == "" {
		return errors.New("sheets.credentials_file: required")
	}
	if strings.TrimSpace(cfg.Sheets.ScheduleSheet) == "" {
		return errors.New("sheets.schedule_sheet: required")
	}
	if strings.TrimSpace(cfg.Schedule.Timezone) == "" {
		return errors.New("schedule.timezone: required")
	}
	if _, err := time.LoadLocation(cfg.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}
	if cfg.Schedule.TrainerSlots < 0 || cfg.Schedule.OpenSlots < 0 {
		return errors.New("schedule: slot widths must not be negative")
	}
	if cfg.Schedule.TrainerSlots+cfg.Schedule.OpenSlots == 0 {
		return errors.New("schedule: at least one slot column required")
	}
	if strings.TrimSpace(cfg.Roster.DBPath) == "" {
		return errors.New("roster.db_path: required")
	}
	if cfg.Remind.Enabled && cfg.Telegram.BroadcastChatID == 0 {
		return errors.New("telegram.broadcast_chat_id: required when remind.enabled")
	}

	durations := []struct{ field, value string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"sheets.cache_ttl", cfg.Sheets.CacheTTL},
		{"remind.check_interval", cfg.Remind.CheckInterval},
		{"remind.stop_grace", cfg.Remind.StopGrace},
		{"remind.pacing_min", cfg.Remind.PacingMin},
		{"remind.pacing_max", cfg.Remind.PacingMax},
		{"roster.busy_timeout", cfg.Roster.BusyTimeout},
		{"pprof.read_timeout", cfg.Pprof.ReadTimeout},
		{"pprof.write_timeout", cfg.Pprof.WriteTimeout},
		{"pprof.idle_timeout", cfg.Pprof.IdleTimeout},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		if _, err := ParseDurationField(d.field, d.value); err != nil {
			return err
		}
	}

	w := cfg.Remind.Windows
	hours := []struct {
		field string
		hour  int
	}{
		{"personal_afternoon_hour", w.PersonalAfternoonHour},
		{"personal_evening_hour", w.PersonalEveningHour},
		{"group_evening_hour", w.GroupEveningHour},
		{"final_reminder_hour", w.FinalReminderHour},
		{"admin_weekly_hour", w.AdminWeeklyHour},
	}
	for _, h := range hours {
		if h.hour < -1 || h.hour > 23 {
			return fmt.Errorf("remind.windows.%s: %d out of range", h.field, h.hour)
		}
	}
	if w.AdminWeeklyWeekday < 0 || w.AdminWeeklyWeekday > 6 {
		return fmt.Errorf("remind.windows.admin_weekly_weekday: %d out of range", w.AdminWeeklyWeekday)
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level)
	}

	colors := []struct {
		field string
		rgb   *RGB
	}{
		{"status.yes", cfg.Status.Yes},
		{"status.no", cfg.Status.No},
		{"status.maybe", cfg.Status.Maybe},
	}
	for _, c := range colors {
		if c.rgb == nil {
			continue
		}
		for _, ch := range []float64{c.rgb.R, c.rgb.G, c.rgb.B} {
			if ch < 0 || ch > 1 {
				return fmt.Errorf("%s: channel %v outside 0..1", c.field, ch)
			}
		}
	}

	return nil
}
