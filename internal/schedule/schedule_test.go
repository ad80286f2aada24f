package schedule

import (
	"testing"
	"time"
)

func testExtractor(t *testing.T) *Extractor {
	t.Helper()
	x, err := NewExtractor(Config{
		Location:     time.UTC,
		TrainerSlots: 2,
		OpenSlots:    3,
		Ignored:      []string{"reserved"},
		Cancelled:    []string{"cancelled"},
	})
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	return x
}

func testGrid() [][]string {
	return [][]string{
		{"Date", "Time", "Place"},
		{"2.9.2026", "19:00 - 20:30", "Main hall", "Dana", "", "alice", "CANCELLED", "reserved", "walk-in"},
		{"1.9.2026", "10:00", "Annex", "", "", "", "", ""},
		{"notes: bring water"},
	}
}

func TestExtract(t *testing.T) {
	t.Parallel()

	events := testExtractor(t).Extract(testGrid())
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}

	// Sorted by date, not grid order.
	if events[0].Place != "Annex" || events[1].Place != "Main hall" {
		t.Fatalf("order = %s, %s", events[0].Place, events[1].Place)
	}

	ev := events[1]
	if ev.Row != 1 {
		t.Errorf("row = %d, want 1", ev.Row)
	}
	if ev.Date.Day() != 2 || ev.Date.Month() != time.September || ev.Date.Year() != 2026 {
		t.Errorf("date = %v", ev.Date)
	}
	if len(ev.Slots) != 6 {
		t.Fatalf("slots = %d, want 6", len(ev.Slots))
	}

	wantStates := []struct {
		col   int
		kind  SlotKind
		state SlotState
	}{
		{3, SlotTrainer, SlotTaken},
		{4, SlotTrainer, SlotFree},
		{5, SlotOpen, SlotTaken},
		{6, SlotOpen, SlotCancelled},
		{7, SlotOpen, SlotBlocked},
		{8, SlotExtra, SlotTaken},
	}
	for i, want := range wantStates {
		got := ev.Slots[i]
		if got.Col != want.col || got.Kind != want.kind || got.State != want.state {
			t.Errorf("slot %d = col %d %v %v, want col %d %v %v",
				i, got.Col, got.Kind, got.State, want.col, want.kind, want.state)
		}
	}

	if got := ev.Participants(); len(got) != 3 || got[0] != "Dana" || got[2] != "walk-in" {
		t.Errorf("participants = %v", got)
	}
}

func TestExtractShortRowMaterializesFixedBlocks(t *testing.T) {
	t.Parallel()

	events := testExtractor(t).Extract(testGrid())
	ev := events[0] // Annex, row holds no slot cells

	if len(ev.Slots) != 5 {
		t.Fatalf("slots = %d, want 5", len(ev.Slots))
	}
	free, ok := ev.FirstFree(SlotOpen)
	if !ok || free.Col != 5 {
		t.Errorf("FirstFree(open) = %+v, %v", free, ok)
	}
}

func TestSlotLookup(t *testing.T) {
	t.Parallel()

	ev := testExtractor(t).Extract(testGrid())[1]

	slot, ok := ev.SlotOf("  ALICE ")
	if !ok || slot.Col != 5 {
		t.Errorf("SlotOf(alice) = %+v, %v", slot, ok)
	}
	if _, ok := ev.SlotOf("cancelled"); ok {
		t.Error("cancel label matched as a participant")
	}

	// Every open seat is taken, cancelled or blocked.
	if _, ok := ev.FirstFree(SlotOpen); ok {
		t.Error("found a free open seat in a full block")
	}
	if free, ok := ev.FirstFree(SlotTrainer); !ok || free.Col != 4 {
		t.Errorf("FirstFree(trainer) = %+v, %v", free, ok)
	}
}

func TestStartEnd(t *testing.T) {
	t.Parallel()

	x := testExtractor(t)
	events := x.Extract(testGrid())

	start, ok := events[1].StartAt()
	if !ok || start.Hour() != 19 || start.Minute() != 0 || start.Day() != 2 {
		t.Errorf("StartAt = %v, %v", start, ok)
	}
	end, ok := events[1].EndAt()
	if !ok || end.Hour() != 20 || end.Minute() != 30 {
		t.Errorf("EndAt = %v, %v", end, ok)
	}
	if _, ok := events[0].EndAt(); ok {
		t.Error("EndAt for a single clock returned a value")
	}

	if events[1].StartedBy(time.Date(2026, 9, 2, 18, 59, 0, 0, time.UTC)) {
		t.Error("started before start time")
	}
	if !events[1].StartedBy(time.Date(2026, 9, 2, 19, 0, 0, 0, time.UTC)) {
		t.Error("not started at start time")
	}
}

func TestTimeCellVariants(t *testing.T) {
	t.Parallel()

	x := testExtractor(t)
	tests := []struct {
		cell     string
		wantOK   bool
		wantHour int
	}{
		{"19:00", true, 19},
		{"9.30", true, 9},
		{"19:00-20:30", true, 19},
		{"19:00 – 20:30", true, 19},
		{"evening", false, 0},
		{"", false, 0},
	}
	for _, tt := range tests {
		ev := Event{Date: time.Date(2026, 9, 1, 0, 0, 0, 0, x.Location()), Time: tt.cell}
		start, ok := ev.StartAt()
		if ok != tt.wantOK {
			t.Errorf("StartAt(%q) ok = %v, want %v", tt.cell, ok, tt.wantOK)
			continue
		}
		if ok && start.Hour() != tt.wantHour {
			t.Errorf("StartAt(%q) hour = %d, want %d", tt.cell, start.Hour(), tt.wantHour)
		}
	}

	// Unparsable times never count as started.
	ev := Event{Date: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), Time: "evening"}
	if ev.StartedBy(time.Date(2026, 9, 1, 23, 0, 0, 0, time.UTC)) {
		t.Error("unparsable time counted as started")
	}
}

func TestOn(t *testing.T) {
	t.Parallel()

	events := testExtractor(t).Extract(testGrid())
	day := time.Date(2026, 9, 2, 15, 4, 5, 0, time.UTC)
	got := On(events, day)
	if len(got) != 1 || got[0].Place != "Main hall" {
		t.Fatalf("On = %v", got)
	}
	if got := On(events, day.AddDate(0, 0, 5)); len(got) != 0 {
		t.Fatalf("On future day = %v", got)
	}
}

func TestExtractKeepsFirstRowPerDate(t *testing.T) {
	t.Parallel()

	events := testExtractor(t).Extract([][]string{
		{"1.9.2026", "19:00", "Main hall", "", "", "alice", "", ""},
		{"1.9.2026", "10:00", "Annex", "", "", "bob", "", ""},
		{"01.09.2026", "12:00", "Annex", "", "", "carol", "", ""},
	})

	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.Row != 0 || ev.Time != "19:00" || ev.Place != "Main hall" {
		t.Fatalf("kept event = %+v", ev)
	}
	if _, ok := ev.SlotOf("bob"); ok {
		t.Error("occupant of a dropped row leaked into the kept event")
	}
}

func TestKeyTracksReschedule(t *testing.T) {
	t.Parallel()

	day := time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC)
	before := Event{Date: day, Time: "10:00", Place: "Annex"}
	after := Event{Date: day, Time: "19:00", Place: "Annex"}
	if before.Key() == after.Key() {
		t.Fatal("moved session kept its key")
	}
}

func TestMidnight(t *testing.T) {
	t.Parallel()

	x := testExtractor(t)
	got := x.Midnight(time.Date(2026, 9, 2, 23, 59, 59, 0, time.UTC))
	want := time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("Midnight = %v, want %v", got, want)
	}
}
