package remind

import (
	"context"
	"errors"
	"time"

	"attendbot/internal/roster"
	"attendbot/internal/schedule"
	"attendbot/internal/sheet"
	"attendbot/internal/status"
	kit "attendbot/internal/transport"
	"attendbot/pkg/logx"
	"attendbot/pkg/tgui"
)

const (
	ackExpired    = "This button has expired."
	ackRegister   = "You're not registered yet. Send /register <name> first."
	ackChanged    = "The schedule changed. Check /schedule."
	ackStarted    = "That session has already started."
	ackRetry      = "Couldn't reach the schedule. Try again in a minute."
	ackSaveFailed = "Couldn't update the sheet. Check that your registered name matches the schedule."
	ackPick       = "Pick your answer."
)

// Responder reconciles button answers with the live grid. It shares the
// engine's ports but none of its state; in particular the idempotency
// ledger stays with the scheduling goroutine.
type Responder struct {
	store sheet.Store
	codec *status.Codec
	x     *schedule.Extractor
	dir   roster.Directory
	tp    kit.Adapter
	log   logx.Logger
	now   func() time.Time
}

func NewResponder(store sheet.Store, codec *status.Codec, x *schedule.Extractor, dir roster.Directory, tp kit.Adapter, log logx.Logger) *Responder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Responder{store: store, codec: codec, x: x, dir: dir, tp: tp, log: log, now: time.Now}
}

// Handle processes one attendance callback end to end: decode the action,
// re-validate seat ownership against the current grid, write the color,
// rewrite the message. Buttons outlive grid edits, so nothing from the
// callback payload is trusted beyond "which cell was this composed for".
func (r *Responder) Handle(ctx context.Context, cb kit.Callback) error {
	_, actionStr, payload, ok := tgui.Split(cb.Data)
	action, parsed := parseAction(actionStr)
	if !ok || !parsed {
		r.ack(ctx, cb.ID, ackExpired)
		return nil
	}
	row, col, err := parsePayload(payload)
	if err != nil {
		r.ack(ctx, cb.ID, ackExpired)
		return nil
	}

	rcpt, err := r.dir.ByChatID(ctx, cb.FromID)
	if errors.Is(err, roster.ErrNotFound) {
		r.ack(ctx, cb.ID, ackRegister)
		return nil
	}
	if err != nil {
		r.ack(ctx, cb.ID, ackRetry)
		return err
	}

	r.store.Invalidate()
	rows, err := r.store.Rows(ctx)
	if err != nil {
		r.ack(ctx, cb.ID, ackRetry)
		return err
	}

	ev, slot, found := locate(r.x.Extract(rows), row, col, rcpt.SheetName)
	if !found {
		r.ack(ctx, cb.ID, ackChanged)
		return nil
	}
	now := r.now()
	if ev.StartedBy(now) {
		r.ack(ctx, cb.ID, ackStarted)
		return nil
	}

	if action == ActionReconsider {
		// Reopen the question. The grid keeps its recorded answer until a
		// new one actually lands.
		isToday := ev.Date.Equal(r.x.Midnight(now))
		err := r.tp.EditText(ctx,
			kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID},
			askText(ev, isToday),
			htmlOpts(askKeyboard(slotPayload(ev.Row, slot.Col))))
		if err != nil {
			r.log.Debug("edit failed", logx.Err(err))
		}
		r.ack(ctx, cb.ID, ackPick)
		return nil
	}

	target, _ := action.target()
	addr := sheet.Addr{Row: ev.Row, Col: slot.Col}
	color, err := r.store.CellColor(ctx, addr)
	if err != nil {
		r.ack(ctx, cb.ID, ackRetry)
		return err
	}
	current := r.codec.Decode(color)

	// An explicit confirm never writes, even when the grid moved under the
	// button; re-asserting the standing answer with a plain one counts the
	// same.
	confirmed := action.confirms() || current == target

	if !confirmed {
		enc, ok := r.codec.Encode(target)
		if !ok {
			r.ack(ctx, cb.ID, ackExpired)
			return nil
		}
		if err := r.store.SetCellColor(ctx, addr, enc); err != nil {
			r.ack(ctx, cb.ID, ackSaveFailed)
			return err
		}
		r.log.Info("answer recorded",
			logx.Int64("chat_id", cb.FromID),
			logx.String("event", ev.Key()),
			logx.String("from", current.String()),
			logx.String("to", target.String()))
	}

	changed := !confirmed && current.Answered()

	// Swap the keyboard out so stale taps don't pile up.
	err = r.tp.EditText(ctx,
		kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID},
		recordedText(ev, target, changed),
		&kit.SendOptions{ParseMode: "HTML"})
	if err != nil {
		r.log.Debug("edit failed", logx.Err(err))
	}

	switch {
	case confirmed:
		r.ack(ctx, cb.ID, "Confirmed: "+statusLabel(target))
	case changed:
		r.ack(ctx, cb.ID, "Changed: "+statusLabel(target))
	default:
		r.ack(ctx, cb.ID, "Recorded: "+statusLabel(target))
	}
	return nil
}

func (r *Responder) ack(ctx context.Context, id, text string) {
	if err := r.tp.AnswerCallback(ctx, id, text); err != nil {
		r.log.Debug("callback ack failed", logx.Err(err))
	}
}

// locate finds the composed-for seat on the current grid and verifies it
// still belongs to the responder. A moved or reassigned seat does not
// match; the caller tells the user to re-check the schedule.
func locate(events []schedule.Event, row, col int, name string) (schedule.Event, schedule.Slot, bool) {
	for _, ev := range events {
		if ev.Row != row {
			continue
		}
		slot, ok := ev.SlotOf(name)
		if ok && slot.Col == col {
			return ev, slot, true
		}
		return schedule.Event{}, schedule.Slot{}, false
	}
	return schedule.Event{}, schedule.Slot{}, false
}
