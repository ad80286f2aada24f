package remind

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"attendbot/internal/status"
)

// CallbackNS is the namespace of every attendance callback this package
// composes and handles.
const CallbackNS = "att"

type WindowKind int

const (
	// PersonalAfternoon and PersonalEvening ask participants without an
	// answer about their upcoming sessions, in direct messages.
	PersonalAfternoon WindowKind = iota
	PersonalEvening

	// GroupEvening posts an attendance summary to the broadcast chat.
	GroupEvening

	// FinalReminder is the day-of last call. It reaches everyone on the
	// grid, including people who declined.
	FinalReminder

	// AdminWeekly nudges the admin chat to fill the coming week's grid.
	AdminWeekly
)

func (k WindowKind) String() string {
	switch k {
	case PersonalAfternoon:
		return "personal_afternoon"
	case PersonalEvening:
		return "personal_evening"
	case GroupEvening:
		return "group_evening"
	case FinalReminder:
		return "final_reminder"
	case AdminWeekly:
		return "admin_weekly"
	default:
		return "unknown"
	}
}

// Window is one daily (or weekly) trigger. It fires during the local hour
// it names; the ledger keeps repeats within a day out.
type Window struct {
	Kind WindowKind
	Hour int

	// Weekday applies to AdminWeekly only.
	Weekday time.Weekday
}

// Due reports whether the window triggers at the given local time.
func (w Window) Due(now time.Time) bool {
	if w.Hour < 0 || now.Hour() != w.Hour {
		return false
	}
	if w.Kind == AdminWeekly && now.Weekday() != w.Weekday {
		return false
	}
	return true
}

const (
	defaultPersonalAfternoonHour = 16
	defaultPersonalEveningHour   = 20
	defaultGroupEveningHour      = 21
	defaultFinalReminderHour     = 17
	defaultAdminWeeklyHour       = 18
)

// DefaultWindows returns the full window set at its default hours, with the
// weekly admin check on Sunday.
func DefaultWindows() []Window {
	return BuildWindows(0, 0, 0, 0, 0, int(time.Sunday))
}

// BuildWindows assembles the window set from configured hours. A zero hour
// picks the default, a negative hour drops the window. The result is never
// nil, so disabling every window sticks through normalize.
func BuildWindows(personalAfternoon, personalEvening, groupEvening, final, adminHour, adminWeekday int) []Window {
	out := make([]Window, 0, 5)
	add := func(kind WindowKind, hour, def int) {
		if hour < 0 {
			return
		}
		if hour == 0 {
			hour = def
		}
		w := Window{Kind: kind, Hour: hour}
		if kind == AdminWeekly {
			w.Weekday = time.Weekday(adminWeekday)
		}
		out = append(out, w)
	}
	add(PersonalAfternoon, personalAfternoon, defaultPersonalAfternoonHour)
	add(PersonalEvening, personalEvening, defaultPersonalEveningHour)
	add(GroupEvening, groupEvening, defaultGroupEveningHour)
	add(FinalReminder, final, defaultFinalReminderHour)
	add(AdminWeekly, adminHour, defaultAdminWeeklyHour)
	return out
}

// Config drives the engine. BroadcastChatID receives group summaries;
// AdminChatID (falling back to broadcast) receives the weekly check.
type Config struct {
	CheckInterval time.Duration
	StopGrace     time.Duration

	PacingMin time.Duration
	PacingMax time.Duration

	Windows []Window

	BroadcastChatID int64
	AdminChatID     int64

	// AdminHandle, when set, routes the weekly check to the registered
	// member holding that Telegram username. AdminChatID stays the
	// fallback for when the handle is not registered.
	AdminHandle string
}

func (c *Config) normalize() error {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 5 * time.Minute
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 10 * time.Second
	}
	if c.PacingMin <= 0 {
		c.PacingMin = 400 * time.Millisecond
	}
	if c.PacingMax <= 0 {
		c.PacingMax = 1500 * time.Millisecond
	}
	if c.PacingMax < c.PacingMin {
		c.PacingMin, c.PacingMax = c.PacingMax, c.PacingMin
	}
	if c.Windows == nil {
		c.Windows = DefaultWindows()
	}
	if c.BroadcastChatID == 0 {
		return errors.New("remind: broadcast chat id required")
	}
	if c.AdminChatID == 0 {
		c.AdminChatID = c.BroadcastChatID
	}
	return nil
}

// Action is the closed set of things a reminder button can do. Callback
// data decodes into an Action exactly once, at the response boundary.
type Action int

const (
	ActionYes Action = iota
	ActionNo
	ActionMaybe
	ActionConfirmYes
	ActionConfirmNo
	ActionConfirmMaybe

	// ActionReconsider reopens the question for someone who declined; it
	// changes the message, never the grid.
	ActionReconsider
)

var actionWire = map[Action]string{
	ActionYes:          "yes",
	ActionNo:           "no",
	ActionMaybe:        "maybe",
	ActionConfirmYes:   "cyes",
	ActionConfirmNo:    "cno",
	ActionConfirmMaybe: "cmaybe",
	ActionReconsider:   "again",
}

func (a Action) wire() string { return actionWire[a] }

func parseAction(s string) (Action, bool) {
	for a, w := range actionWire {
		if w == s {
			return a, true
		}
	}
	return 0, false
}

// target returns the status the action asserts. false for ActionReconsider,
// which asserts nothing.
func (a Action) target() (status.Status, bool) {
	switch a {
	case ActionYes, ActionConfirmYes:
		return status.Yes, true
	case ActionNo, ActionConfirmNo:
		return status.No, true
	case ActionMaybe, ActionConfirmMaybe:
		return status.Maybe, true
	default:
		return status.Unknown, false
	}
}

// confirms reports whether the action re-asserts an earlier answer rather
// than giving a new one.
func (a Action) confirms() bool {
	switch a {
	case ActionConfirmYes, ActionConfirmNo, ActionConfirmMaybe:
		return true
	default:
		return false
	}
}

// slotPayload pins a button to the grid cell it was composed for.
func slotPayload(row, col int) string {
	return strconv.Itoa(row) + ":" + strconv.Itoa(col)
}

func parsePayload(s string) (row, col int, err error) {
	r, c, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("malformed payload %q", s)
	}
	row, err = strconv.Atoi(r)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed payload %q", s)
	}
	col, err = strconv.Atoi(c)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed payload %q", s)
	}
	return row, col, nil
}
