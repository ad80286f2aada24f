package app

import (
	"fmt"
	"time"

	"attendbot/internal/config"
	"attendbot/internal/observability/pprof"
	"attendbot/internal/remind"
	"attendbot/internal/roster"
	"attendbot/internal/schedule"
	"attendbot/internal/sheet"
	"attendbot/internal/status"
	telegram "attendbot/internal/transport/telegram"
	"attendbot/pkg/logx"
)

// The map* helpers translate the on-disk config into per-component configs.
// Parse errors carry the offending key so reload rejections are actionable.

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		RatePerSec:  cfg.Telegram.SendRatePerSec,
	}, nil
}

func mapSheetConfig(cfg *config.Config) (sheet.Config, error) {
	ttl, err := config.ParseDurationOrDefault("sheets.cache_ttl", cfg.Sheets.CacheTTL, 2*time.Minute)
	if err != nil {
		return sheet.Config{}, err
	}
	return sheet.Config{
		SpreadsheetID:   cfg.Sheets.SpreadsheetID,
		CredentialsFile: cfg.Sheets.CredentialsFile,
		Sheet:           cfg.Sheets.ScheduleSheet,
		Range:           cfg.Sheets.ScheduleRange,
		CacheTTL:        ttl,
	}, nil
}

func mapExtractorConfig(cfg *config.Config) (schedule.Config, error) {
	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		return schedule.Config{}, fmt.Errorf("schedule.timezone: %w", err)
	}
	return schedule.Config{
		Location:     loc,
		TrainerSlots: cfg.Schedule.TrainerSlots,
		OpenSlots:    cfg.Schedule.OpenSlots,
		Ignored:      cfg.Schedule.IgnoredLabels,
		Cancelled:    cfg.Schedule.CancelledLabels,
	}, nil
}

func mapPalette(cfg *config.Config) status.Palette {
	var p status.Palette
	if c := cfg.Status.Yes; c != nil {
		p.Yes = sheet.Color{Red: c.R, Green: c.G, Blue: c.B}
	}
	if c := cfg.Status.No; c != nil {
		p.No = sheet.Color{Red: c.R, Green: c.G, Blue: c.B}
	}
	if c := cfg.Status.Maybe; c != nil {
		p.Maybe = sheet.Color{Red: c.R, Green: c.G, Blue: c.B}
	}
	return p
}

func mapRosterConfig(cfg *config.Config) (roster.Config, error) {
	busy, err := config.ParseDurationOrDefault("roster.busy_timeout", cfg.Roster.BusyTimeout, 5*time.Second)
	if err != nil {
		return roster.Config{}, err
	}
	return roster.Config{
		Path:        cfg.Roster.DBPath,
		BusyTimeout: busy,
	}, nil
}

func mapRemindConfig(cfg *config.Config) (remind.Config, error) {
	check, err := config.ParseDurationOrDefault("remind.check_interval", cfg.Remind.CheckInterval, 0)
	if err != nil {
		return remind.Config{}, err
	}
	grace, err := config.ParseDurationOrDefault("remind.stop_grace", cfg.Remind.StopGrace, 0)
	if err != nil {
		return remind.Config{}, err
	}
	pmin, err := config.ParseDurationOrDefault("remind.pacing_min", cfg.Remind.PacingMin, 0)
	if err != nil {
		return remind.Config{}, err
	}
	pmax, err := config.ParseDurationOrDefault("remind.pacing_max", cfg.Remind.PacingMax, 0)
	if err != nil {
		return remind.Config{}, err
	}

	w := cfg.Remind.Windows
	return remind.Config{
		CheckInterval: check,
		StopGrace:     grace,
		PacingMin:     pmin,
		PacingMax:     pmax,
		Windows: remind.BuildWindows(
			w.PersonalAfternoonHour,
			w.PersonalEveningHour,
			w.GroupEveningHour,
			w.FinalReminderHour,
			w.AdminWeeklyHour,
			w.AdminWeeklyWeekday,
		),
		BroadcastChatID: cfg.Telegram.BroadcastChatID,
		AdminChatID:     cfg.Telegram.AdminChatID,
		AdminHandle:     cfg.Telegram.AdminHandle,
	}, nil
}

func mapPprofConfig(cfg *config.Config) (pprof.Config, error) {
	read, err := config.ParseDurationOrDefault("pprof.read_timeout", cfg.Pprof.ReadTimeout, 5*time.Second)
	if err != nil {
		return pprof.Config{}, err
	}
	// No write timeout by default: /debug/pprof/profile streams for the
	// whole profiling window.
	write, err := config.ParseDurationOrDefault("pprof.write_timeout", cfg.Pprof.WriteTimeout, 0)
	if err != nil {
		return pprof.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("pprof.idle_timeout", cfg.Pprof.IdleTimeout, time.Minute)
	if err != nil {
		return pprof.Config{}, err
	}
	return pprof.Config{
		Enabled:       cfg.Pprof.Enabled,
		Addr:          cfg.Pprof.Addr,
		Token:         cfg.Pprof.Token,
		AllowInsecure: cfg.Pprof.AllowInsecure,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}
