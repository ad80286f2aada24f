package remind

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"attendbot/internal/schedule"
	"attendbot/internal/sheet"
	"attendbot/internal/status"
	kit "attendbot/internal/transport"
	"attendbot/pkg/logx"
)

func testResponder(t *testing.T, st *fakeStore, tp *fakeTransport, now time.Time) *Responder {
	t.Helper()

	x, err := schedule.NewExtractor(schedule.Config{
		Location:     time.UTC,
		TrainerSlots: 2,
		OpenSlots:    3,
	})
	if err != nil {
		t.Fatalf("extractor: %v", err)
	}
	r := NewResponder(st, status.NewCodec(status.Palette{}), x, newFakeDir(testRecipients()...), tp, logx.Nop())
	r.now = func() time.Time { return now }
	return r
}

func callback(from int64, data string) kit.Callback {
	return kit.Callback{ID: "cb", FromID: from, ChatID: from, MessageID: 7, Data: data}
}

func TestHandleRecordsAnswer(t *testing.T) {
	t.Parallel()

	st := newFakeStore(testRows())
	tp := newFakeTransport()
	now := time.Date(2026, 8, 25, 18, 0, 0, 0, time.UTC)
	r := testResponder(t, st, tp, now)

	// alice answers yes for tomorrow's session (row 1, col 5).
	if err := r.Handle(context.Background(), callback(101, "att:yes:1:5")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got, ok := st.setColors[sheet.Addr{Row: 1, Col: 5}]
	if !ok {
		t.Fatal("no color written")
	}
	if got.Green != 1 || got.Red != 0 {
		t.Errorf("written color = %+v", got)
	}
	if st.invalidations != 1 {
		t.Errorf("invalidations = %d, want 1", st.invalidations)
	}

	if len(tp.edits) != 1 || !strings.Contains(tp.edits[0].Text, "coming") {
		t.Errorf("edits = %+v", tp.edits)
	}
	if tp.edits[0].Markup != nil {
		t.Error("keyboard left on an answered message")
	}
	if ack := tp.lastAck(); ack != "Recorded: coming" {
		t.Errorf("ack = %q", ack)
	}
}

func TestHandleConfirmLeavesGridAlone(t *testing.T) {
	t.Parallel()

	st := newFakeStore(testRows())
	st.colors[sheet.Addr{Row: 2, Col: 5}] = no()
	tp := newFakeTransport()
	now := time.Date(2026, 8, 25, 18, 0, 0, 0, time.UTC)
	r := testResponder(t, st, tp, now)

	if err := r.Handle(context.Background(), callback(104, "att:cno:2:5")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(st.setColors) != 0 {
		t.Errorf("confirm rewrote the grid: %+v", st.setColors)
	}
	if ack := tp.lastAck(); ack != "Confirmed: not coming" {
		t.Errorf("ack = %q", ack)
	}
}

func TestHandleConfirmNeverWrites(t *testing.T) {
	t.Parallel()

	// The user confirms "maybe" but the cell lost its color. A confirm
	// still writes nothing; only a plain answer updates the grid.
	st := newFakeStore(testRows())
	tp := newFakeTransport()
	now := time.Date(2026, 8, 25, 18, 0, 0, 0, time.UTC)
	r := testResponder(t, st, tp, now)

	if err := r.Handle(context.Background(), callback(104, "att:cmaybe:2:5")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(st.setColors) != 0 {
		t.Errorf("confirm wrote to the grid: %+v", st.setColors)
	}
	if ack := tp.lastAck(); ack != "Confirmed: maybe" {
		t.Errorf("ack = %q", ack)
	}
}

func TestHandleReconsiderReopensQuestion(t *testing.T) {
	t.Parallel()

	st := newFakeStore(testRows())
	st.colors[sheet.Addr{Row: 2, Col: 5}] = no()
	tp := newFakeTransport()
	now := time.Date(2026, 8, 25, 18, 0, 0, 0, time.UTC)
	r := testResponder(t, st, tp, now)

	if err := r.Handle(context.Background(), callback(104, "att:again:2:5")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	// The question reopens with a fresh keyboard; the grid keeps its No.
	if len(st.setColors) != 0 {
		t.Errorf("reconsider wrote to the grid: %+v", st.setColors)
	}
	if len(tp.edits) != 1 {
		t.Fatalf("edits = %+v", tp.edits)
	}
	if !strings.Contains(tp.edits[0].Text, "Are you coming?") || tp.edits[0].Markup == nil {
		t.Errorf("reopened message = %+v", tp.edits[0])
	}
	if ack := tp.lastAck(); ack != ackPick {
		t.Errorf("ack = %q", ack)
	}
}

func TestHandleRejections(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 25, 18, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		from    int64
		data    string
		wantAck string
	}{
		{"unregistered chat", 999, "att:yes:1:5", ackRegister},
		{"seat now someone else's", 101, "att:yes:1:6", ackChanged},
		{"row no longer an event", 101, "att:yes:9:5", ackChanged},
		{"seat on a dropped duplicate row", 105, "att:yes:3:5", ackChanged},
		{"unknown action", 101, "att:frob:1:5", ackExpired},
		{"malformed payload", 101, "att:yes:oops", ackExpired},
		{"not a callback of ours", 101, "junk", ackExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			st := newFakeStore(testRows())
			tp := newFakeTransport()
			r := testResponder(t, st, tp, now)

			if err := r.Handle(context.Background(), callback(tt.from, tt.data)); err != nil {
				t.Fatalf("handle: %v", err)
			}
			if len(st.setColors) != 0 {
				t.Errorf("grid written: %+v", st.setColors)
			}
			if ack := tp.lastAck(); ack != tt.wantAck {
				t.Errorf("ack = %q, want %q", ack, tt.wantAck)
			}
		})
	}
}

func TestHandleAfterStartRejected(t *testing.T) {
	t.Parallel()

	st := newFakeStore(testRows())
	tp := newFakeTransport()
	// Tonight's 20:00 session is underway by now.
	now := time.Date(2026, 8, 25, 21, 0, 0, 0, time.UTC)
	r := testResponder(t, st, tp, now)

	if err := r.Handle(context.Background(), callback(104, "att:yes:2:5")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(st.setColors) != 0 {
		t.Errorf("grid written after start: %+v", st.setColors)
	}
	if ack := tp.lastAck(); ack != ackStarted {
		t.Errorf("ack = %q, want %q", ack, ackStarted)
	}
}

func TestHandleWriteFailurePointsAtName(t *testing.T) {
	t.Parallel()

	st := newFakeStore(testRows())
	st.setColorErr = errors.New("quota exceeded")
	tp := newFakeTransport()
	now := time.Date(2026, 8, 25, 18, 0, 0, 0, time.UTC)
	r := testResponder(t, st, tp, now)

	if err := r.Handle(context.Background(), callback(101, "att:yes:1:5")); err == nil {
		t.Fatal("write failure swallowed")
	}

	// The failure names the likeliest cause instead of a bare "try again".
	if ack := tp.lastAck(); !strings.Contains(ack, "registered name") {
		t.Errorf("ack = %q", ack)
	}
	if len(tp.edits) != 0 {
		t.Errorf("message rewritten despite the failed write: %+v", tp.edits)
	}
}

func TestHandleChangeOverwritesAnswer(t *testing.T) {
	t.Parallel()

	st := newFakeStore(testRows())
	st.colors[sheet.Addr{Row: 1, Col: 5}] = yes()
	tp := newFakeTransport()
	now := time.Date(2026, 8, 25, 18, 0, 0, 0, time.UTC)
	r := testResponder(t, st, tp, now)

	if err := r.Handle(context.Background(), callback(101, "att:no:1:5")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got := st.setColors[sheet.Addr{Row: 1, Col: 5}]
	if got.Red != 1 || got.Green != 0 {
		t.Errorf("overwritten color = %+v", got)
	}
	if len(tp.edits) != 1 || !strings.Contains(tp.edits[0].Text, "Answer changed") {
		t.Errorf("edits = %+v", tp.edits)
	}
	if ack := tp.lastAck(); ack != "Changed: not coming" {
		t.Errorf("ack = %q", ack)
	}
}
