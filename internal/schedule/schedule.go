// Package schedule turns raw spreadsheet rows into typed session events.
//
// The grid convention: column 0 holds the session date (d.m.yyyy), column 1
// the time, column 2 the place. A fixed-width trainer block and open block
// follow; anything past those is an extra seat added by hand. Rows whose
// first column is not a date (headers, notes) are skipped.
package schedule

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DateLayout is how session dates are written on the grid.
const DateLayout = "2.1.2006"

const (
	colDate = iota
	colTime
	colPlace
	colFirstSlot
)

type SlotKind int

const (
	SlotTrainer SlotKind = iota
	SlotOpen
	SlotExtra
)

func (k SlotKind) String() string {
	switch k {
	case SlotTrainer:
		return "trainer"
	case SlotOpen:
		return "open"
	default:
		return "extra"
	}
}

type SlotState int

const (
	// SlotFree means the cell is empty and bookable.
	SlotFree SlotState = iota
	// SlotTaken means the cell names a participant.
	SlotTaken
	// SlotBlocked means the cell carries a placeholder label; the seat is
	// neither bookable nor reminded.
	SlotBlocked
	// SlotCancelled is a blocked seat whose label marks a cancellation.
	SlotCancelled
)

// Slot is one seat cell of a session row.
type Slot struct {
	Col   int
	Kind  SlotKind
	State SlotState

	// Text is the trimmed cell content; empty for free slots.
	Text string
}

// Occupant returns the participant name, or "" for anything that is not a
// taken seat.
func (s Slot) Occupant() string {
	if s.State != SlotTaken {
		return ""
	}
	return s.Text
}

// Event is one session row of the grid.
type Event struct {
	// Row is the zero-based grid row the event was read from.
	Row int

	// Date is midnight of the session day in the schedule zone.
	Date time.Time

	// Time is the raw time cell ("19:00" or "19:00 - 20:30").
	Time string

	Place string
	Slots []Slot
}

// Key identifies the event for idempotency bookkeeping. Time and place are
// part of it, so a rescheduled session reads as new and is reminded afresh.
func (e Event) Key() string {
	return e.Date.Format(DateLayout) + "|" + e.Time + "|" + e.Place
}

// StartAt resolves the session start from the time cell. ok is false when
// the cell holds no recognizable clock.
func (e Event) StartAt() (time.Time, bool) {
	start, _ := splitTimeRange(e.Time)
	h, m, ok := parseClock(start)
	if !ok {
		return time.Time{}, false
	}
	return time.Date(e.Date.Year(), e.Date.Month(), e.Date.Day(), h, m, 0, 0, e.Date.Location()), true
}

// EndAt resolves the session end when the time cell carries a range.
func (e Event) EndAt() (time.Time, bool) {
	_, end := splitTimeRange(e.Time)
	h, m, ok := parseClock(end)
	if !ok {
		return time.Time{}, false
	}
	return time.Date(e.Date.Year(), e.Date.Month(), e.Date.Day(), h, m, 0, 0, e.Date.Location()), true
}

// StartedBy reports whether the session has begun by now. Events without a
// parsable time never count as started, so reminders still go out for them.
func (e Event) StartedBy(now time.Time) bool {
	st, ok := e.StartAt()
	return ok && !now.Before(st)
}

// TakenSlots returns the seats holding participants, in column order.
func (e Event) TakenSlots() []Slot {
	var out []Slot
	for _, s := range e.Slots {
		if s.State == SlotTaken {
			out = append(out, s)
		}
	}
	return out
}

// Participants returns the occupant names, in column order.
func (e Event) Participants() []string {
	var out []string
	for _, s := range e.TakenSlots() {
		out = append(out, s.Text)
	}
	return out
}

// SlotOf finds the seat occupied by name (case- and space-insensitive).
func (e Event) SlotOf(name string) (Slot, bool) {
	want := foldLabel(name)
	for _, s := range e.Slots {
		if s.State == SlotTaken && foldLabel(s.Text) == want {
			return s, true
		}
	}
	return Slot{}, false
}

// FirstFree returns the lowest free seat of the given kind.
func (e Event) FirstFree(kind SlotKind) (Slot, bool) {
	for _, s := range e.Slots {
		if s.Kind == kind && s.State == SlotFree {
			return s, true
		}
	}
	return Slot{}, false
}

// Config shapes extraction: the slot block widths and the label sets that
// mark non-participant cells.
type Config struct {
	Location     *time.Location
	TrainerSlots int
	OpenSlots    int
	Ignored      []string
	Cancelled    []string
}

// Extractor parses grids into events using fixed block widths and label
// sets. Safe for concurrent use.
type Extractor struct {
	loc          *time.Location
	trainerSlots int
	openSlots    int
	ignored      map[string]struct{}
	cancelled    map[string]struct{}
}

func NewExtractor(cfg Config) (*Extractor, error) {
	if cfg.Location == nil {
		return nil, errors.New("schedule: location required")
	}
	if cfg.TrainerSlots < 0 || cfg.OpenSlots < 0 || cfg.TrainerSlots+cfg.OpenSlots == 0 {
		return nil, errors.New("schedule: invalid slot widths")
	}
	return &Extractor{
		loc:          cfg.Location,
		trainerSlots: cfg.TrainerSlots,
		openSlots:    cfg.OpenSlots,
		ignored:      labelSet(cfg.Ignored),
		cancelled:    labelSet(cfg.Cancelled),
	}, nil
}

// Location returns the schedule zone all dates are interpreted in.
func (x *Extractor) Location() *time.Location { return x.loc }

// Midnight truncates t to its day start in the schedule zone.
func (x *Extractor) Midnight(t time.Time) time.Time {
	t = t.In(x.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, x.loc)
}

// Extract parses the grid's event rows, sorted by date. Rows without a
// parsable date are skipped, and only the first row of each date counts:
// a later row repeating a date is a data-entry slip, not a second session.
func (x *Extractor) Extract(rows [][]string) []Event {
	var events []Event
	seen := make(map[string]struct{})
	for ri, row := range rows {
		if len(row) == 0 {
			continue
		}
		date, err := time.ParseInLocation(DateLayout, strings.TrimSpace(cellAt(row, colDate)), x.loc)
		if err != nil {
			continue
		}
		day := date.Format(DateLayout)
		if _, dup := seen[day]; dup {
			continue
		}
		seen[day] = struct{}{}

		ev := Event{
			Row:   ri,
			Date:  date,
			Time:  strings.TrimSpace(cellAt(row, colTime)),
			Place: strings.TrimSpace(cellAt(row, colPlace)),
		}

		// Fixed blocks materialize even past the stored row width so free
		// trailing seats stay addressable.
		for i := 0; i < x.trainerSlots; i++ {
			ev.Slots = append(ev.Slots, x.slot(row, colFirstSlot+i, SlotTrainer))
		}
		for i := 0; i < x.openSlots; i++ {
			ev.Slots = append(ev.Slots, x.slot(row, colFirstSlot+x.trainerSlots+i, SlotOpen))
		}
		// Extra seats exist only where someone wrote them.
		for col := colFirstSlot + x.trainerSlots + x.openSlots; col < len(row); col++ {
			if s := x.slot(row, col, SlotExtra); s.State != SlotFree {
				ev.Slots = append(ev.Slots, s)
			}
		}

		events = append(events, ev)
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Date.Before(events[j].Date)
	})
	return events
}

func (x *Extractor) slot(row []string, col int, kind SlotKind) Slot {
	text := strings.TrimSpace(cellAt(row, col))
	return Slot{
		Col:   col,
		Kind:  kind,
		State: x.classify(text),
		Text:  text,
	}
}

func (x *Extractor) classify(text string) SlotState {
	if text == "" {
		return SlotFree
	}
	folded := foldLabel(text)
	if _, ok := x.cancelled[folded]; ok {
		return SlotCancelled
	}
	if _, ok := x.ignored[folded]; ok {
		return SlotBlocked
	}
	return SlotTaken
}

// On filters events dated to the given day.
func On(events []Event, day time.Time) []Event {
	var out []Event
	for _, e := range events {
		if sameDay(e.Date, day) {
			out = append(out, e)
		}
	}
	return out
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func labelSet(labels []string) map[string]struct{} {
	set := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		if f := foldLabel(l); f != "" {
			set[f] = struct{}{}
		}
	}
	return set
}

func foldLabel(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func cellAt(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}

func splitTimeRange(s string) (start, end string) {
	for _, sep := range []string{"-", "–"} {
		if i := strings.Index(s, sep); i >= 0 {
			return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+len(sep):])
		}
	}
	return strings.TrimSpace(s), ""
}

func parseClock(s string) (hour, minute int, ok bool) {
	h, m, found := strings.Cut(s, ":")
	if !found {
		h, m, found = strings.Cut(s, ".")
	}
	if !found {
		return 0, 0, false
	}
	hh, err1 := strconv.Atoi(strings.TrimSpace(h))
	mm, err2 := strconv.Atoi(strings.TrimSpace(m))
	if err1 != nil || err2 != nil || hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, 0, false
	}
	return hh, mm, true
}
