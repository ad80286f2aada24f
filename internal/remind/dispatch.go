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
)

// attendee is one taken seat resolved against the color codec and the
// roster.
type attendee struct {
	slot       schedule.Slot
	st         status.Status
	rcpt       roster.Recipient
	registered bool
}

func (e *Engine) resolveEvent(ctx context.Context, log logx.Logger, ev schedule.Event) ([]attendee, error) {
	var out []attendee
	for _, slot := range ev.TakenSlots() {
		color, err := e.deps.Store.CellColor(ctx, sheet.Addr{Row: ev.Row, Col: slot.Col})
		if err != nil {
			return nil, err
		}
		at := attendee{slot: slot, st: e.deps.Codec.Decode(color)}
		if at.st == status.Other {
			// A hand-picked color we don't recognize. Counts as no answer.
			log.Info("unrecognized cell color",
				logx.String("name", slot.Text),
				logx.String("event", ev.Key()))
		}

		rcpt, err := e.deps.Roster.BySheetName(ctx, slot.Text)
		switch {
		case err == nil:
			at.rcpt = rcpt
			at.registered = true
		case errors.Is(err, roster.ErrNotFound):
			// Stays on the tally but can't receive direct messages.
		default:
			return nil, err
		}
		out = append(out, at)
	}
	return out, nil
}

// targetEvents picks the sessions a window covers: the last call looks at
// today's not-yet-started sessions only, every other window adds tomorrow's.
func (e *Engine) targetEvents(w Window, events []schedule.Event, now time.Time) []schedule.Event {
	today := e.deps.Extractor.Midnight(now)

	var out []schedule.Event
	for _, ev := range schedule.On(events, today) {
		if !ev.StartedBy(now) {
			out = append(out, ev)
		}
	}
	if w.Kind != FinalReminder {
		out = append(out, schedule.On(events, today.AddDate(0, 0, 1))...)
	}
	return out
}

func (e *Engine) dispatchWindow(ctx context.Context, log logx.Logger, w Window, events []schedule.Event, now time.Time) {
	switch w.Kind {
	case PersonalAfternoon, PersonalEvening, FinalReminder:
		e.dispatchPersonal(ctx, log, w, events, now)
	case GroupEvening:
		e.dispatchGroup(ctx, log, w, events, now)
	case AdminWeekly:
		e.dispatchAdmin(ctx, log, events, now)
	}
}

func (e *Engine) dispatchPersonal(ctx context.Context, log logx.Logger, w Window, events []schedule.Event, now time.Time) {
	today := e.deps.Extractor.Midnight(now)

	for _, ev := range e.targetEvents(w, events, now) {
		key := sentKey(w.Kind, today, ev.Key())
		if e.ledger.Sent(key) {
			continue
		}

		atts, err := e.resolveEvent(ctx, log, ev)
		if err != nil {
			log.Warn("resolve failed, will retry", logx.Err(err), logx.String("event", ev.Key()))
			continue
		}

		sent := 0
		for _, at := range atts {
			if !at.registered {
				log.Debug("occupant not registered", logx.String("name", at.slot.Text))
				continue
			}
			// A recorded decline is only revisited at the last call.
			if at.st == status.No && w.Kind != FinalReminder {
				continue
			}
			if sent > 0 && !e.pace(ctx) {
				return
			}

			payload := slotPayload(ev.Row, at.slot.Col)
			var text string
			var opt *kit.SendOptions
			switch {
			case w.Kind == FinalReminder:
				text = finalText(ev, at.st, now)
				opt = htmlOpts(nil)
			case at.st.Answered():
				text = confirmText(ev, at.st, ev.Date.Equal(today))
				opt = htmlOpts(confirmKeyboard(at.st, payload))
			default:
				text = askText(ev, ev.Date.Equal(today))
				opt = htmlOpts(askKeyboard(payload))
			}

			if _, err := e.deps.Transport.SendText(ctx, kit.ChatTarget{ChatID: at.rcpt.ChatID}, text, opt); err != nil {
				log.Warn("send failed", logx.Err(err), logx.Int64("chat_id", at.rcpt.ChatID))
				continue
			}
			sent++
		}

		// No delivery, no mark: the event is retried on the next pass
		// while the window's hour lasts.
		if sent > 0 {
			e.ledger.Mark(key, now)
			log.Info("window served",
				logx.String("event", ev.Key()),
				logx.Int("sent", sent))
		}
	}
}

func (e *Engine) dispatchGroup(ctx context.Context, log logx.Logger, w Window, events []schedule.Event, now time.Time) {
	today := e.deps.Extractor.Midnight(now)
	key := sentKey(w.Kind, today, "")
	if e.ledger.Sent(key) {
		return
	}

	targets := e.targetEvents(w, events, now)
	if len(targets) == 0 {
		log.Debug("no upcoming sessions, summary skipped")
		return
	}

	tallies := make([]eventTally, 0, len(targets))
	for _, ev := range targets {
		atts, err := e.resolveEvent(ctx, log, ev)
		if err != nil {
			log.Warn("resolve failed, will retry", logx.Err(err), logx.String("event", ev.Key()))
			return
		}
		tallies = append(tallies, tally(ev, atts))
	}

	cfg := e.config()
	if _, err := e.deps.Transport.SendText(ctx, kit.ChatTarget{ChatID: cfg.BroadcastChatID}, groupText(tallies), htmlOpts(nil)); err != nil {
		log.Warn("summary send failed", logx.Err(err))
		return
	}
	e.ledger.Mark(key, now)
	log.Info("summary posted", logx.Int("sessions", len(tallies)))
}

func (e *Engine) dispatchAdmin(ctx context.Context, log logx.Logger, events []schedule.Event, now time.Time) {
	today := e.deps.Extractor.Midnight(now)
	key := sentKey(AdminWeekly, today, "")
	if e.ledger.Sent(key) {
		return
	}

	from := today.AddDate(0, 0, 1)
	until := today.AddDate(0, 0, 8)
	count := 0
	for _, ev := range events {
		if !ev.Date.Before(from) && ev.Date.Before(until) {
			count++
		}
	}

	cfg := e.config()
	target := cfg.AdminChatID
	if cfg.AdminHandle != "" {
		if rcpt, err := e.deps.Roster.ByHandle(ctx, cfg.AdminHandle); err == nil {
			target = rcpt.ChatID
		} else {
			log.Warn("admin handle not registered, using admin chat",
				logx.String("handle", cfg.AdminHandle))
		}
	}

	text := adminText(count, from, today.AddDate(0, 0, 7))
	if _, err := e.deps.Transport.SendText(ctx, kit.ChatTarget{ChatID: target}, text, htmlOpts(nil)); err != nil {
		log.Warn("weekly check send failed", logx.Err(err))
		return
	}
	e.ledger.Mark(key, now)
	log.Info("weekly check posted", logx.Int("sessions", count))
}

func tally(ev schedule.Event, atts []attendee) eventTally {
	t := eventTally{ev: ev}
	for _, at := range atts {
		switch at.st {
		case status.Yes:
			t.yes++
		case status.No:
			t.no++
		case status.Maybe:
			t.maybe++
		default:
			t.open++
		}
	}
	for _, s := range ev.Slots {
		if s.Kind == schedule.SlotOpen && s.State == schedule.SlotFree {
			t.freeOpen++
		}
	}
	return t
}

// pace sleeps a randomized gap between successive sends. Only the engine's
// hard cancel cuts it short; a graceful stop waits the gap out.
func (e *Engine) pace(ctx context.Context) bool {
	cfg := e.config()
	d := cfg.PacingMin
	if span := cfg.PacingMax - cfg.PacingMin; span > 0 {
		d += time.Duration(e.rng.Int63n(int64(span) + 1))
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
