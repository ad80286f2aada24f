package config

// Config is the single on-disk configuration surface.
//
// The file may be YAML or JSON; both are decoded strictly (unknown fields are
// rejected) so typos fail loudly instead of silently disabling features.
// All durations are Go duration strings (e.g. "500ms", "5m", "1h").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Sheets   SheetsConfig   `json:"sheets"`
	Schedule ScheduleConfig `json:"schedule"`
	Remind   RemindConfig   `json:"remind"`
	Status   StatusConfig   `json:"status,omitempty"`
	Roster   RosterConfig   `json:"roster"`
	Logging  LoggingConfig  `json:"logging"`
	Pprof    PprofConfig    `json:"pprof,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// BroadcastChatID receives group-scoped reminders (evening summary).
	// AdminChatID receives the weekly grid-fill reminder; if zero, the
	// broadcast chat is used. AdminHandle, when set, routes the weekly
	// reminder to the registered member holding that Telegram username
	// instead, with AdminChatID as the fallback.
	BroadcastChatID int64  `json:"broadcast_chat_id"`
	AdminChatID     int64  `json:"admin_chat_id,omitempty"`
	AdminHandle     string `json:"admin_handle,omitempty"`

	PollTimeout    string `json:"poll_timeout,omitempty"`
	SendRatePerSec int    `json:"send_rate_per_sec,omitempty"`
}

type SheetsConfig struct {
	SpreadsheetID   string `json:"spreadsheet_id"`
	CredentialsFile string `json:"credentials_file"`

	// ScheduleSheet is the tab title holding the schedule grid. The numeric
	// sheet id needed for format writes is resolved at startup.
	ScheduleSheet string `json:"schedule_sheet"`

	// ScheduleRange optionally restricts reads (A1 notation without the tab
	// prefix). Empty reads the whole tab.
	ScheduleRange string `json:"schedule_range,omitempty"`

	CacheTTL string `json:"cache_ttl,omitempty"`
}

type ScheduleConfig struct {
	// Timezone is the fixed IANA zone all trigger hours and event dates are
	// interpreted in. Required; the engine refuses to guess from the host.
	Timezone string `json:"timezone"`

	// TrainerSlots and OpenSlots are the widths of the two fixed slot blocks
	// following the date/time/place columns. Zero means the default (4 each).
	TrainerSlots int `json:"trainer_slots,omitempty"`
	OpenSlots    int `json:"open_slots,omitempty"`

	// IgnoredLabels are cell values that do not denote a participant
	// (placeholders like "reserved"). CancelledLabels are the subset meaning
	// the seat was cancelled; they render differently but are equally
	// ineligible for booking and reminders. Matching is case- and
	// whitespace-insensitive.
	IgnoredLabels   []string `json:"ignored_labels,omitempty"`
	CancelledLabels []string `json:"cancelled_labels,omitempty"`
}

type RemindConfig struct {
	Enabled       bool   `json:"enabled"`
	CheckInterval string `json:"check_interval,omitempty"`
	StopGrace     string `json:"stop_grace,omitempty"`

	// PacingMin/PacingMax bound the randomized delay between successive
	// sends within one dispatch.
	PacingMin string `json:"pacing_min,omitempty"`
	PacingMax string `json:"pacing_max,omitempty"`

	Windows WindowsConfig `json:"windows,omitempty"`
}

// WindowsConfig sets the local trigger hour (0-23) per reminder window.
// Omitted or zero picks the default; -1 disables the window.
type WindowsConfig struct {
	PersonalAfternoonHour int `json:"personal_afternoon_hour,omitempty"`
	PersonalEveningHour   int `json:"personal_evening_hour,omitempty"`
	GroupEveningHour      int `json:"group_evening_hour,omitempty"`
	FinalReminderHour     int `json:"final_reminder_hour,omitempty"`
	AdminWeeklyHour       int `json:"admin_weekly_hour,omitempty"`

	// AdminWeeklyWeekday: 0=Sunday .. 6=Saturday.
	AdminWeeklyWeekday int `json:"admin_weekly_weekday,omitempty"`
}

// StatusConfig optionally overrides the color palette encoded for each
// answer. Channels are 0..1 floats as the Sheets API reports them.
type StatusConfig struct {
	Yes   *RGB `json:"yes,omitempty"`
	No    *RGB `json:"no,omitempty"`
	Maybe *RGB `json:"maybe,omitempty"`
}

type RGB struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
}

type RosterConfig struct {
	DBPath      string       `json:"db_path"`
	BusyTimeout string       `json:"busy_timeout,omitempty"`
	Backup      BackupConfig `json:"backup,omitempty"`
}

// BackupConfig controls periodic registry snapshots.
type BackupConfig struct {
	Enabled bool   `json:"enabled"`
	Cron    string `json:"cron,omitempty"` // default: weekly, Monday 04:00
	Dir     string `json:"dir,omitempty"`
	Keep    int    `json:"keep,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LogFileConfig `json:"file,omitempty"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// PprofConfig controls the optional pprof HTTP server.
// Prefer binding to localhost; off-loopback requires a token or an explicit
// allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
