package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"attendbot/internal/roster"
	"attendbot/internal/schedule"
	"attendbot/internal/sheet"
	"attendbot/internal/status"
	kit "attendbot/internal/transport"
	"attendbot/pkg/logx"
	"attendbot/pkg/tgui"
)

const dayLabel = "Mon 2.1"

// handlers holds the ports the command implementations share. One instance
// backs the whole command table.
type handlers struct {
	deps Deps
	log  logx.Logger
	now  func() time.Time
}

func (h *handlers) reply(ctx context.Context, req *Request, text string) error {
	_, err := h.deps.Transport.SendText(ctx, req.Chat, text,
		&kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

func (h *handlers) start(ctx context.Context, req *Request) error {
	text := string(tgui.JoinH("\n",
		tgui.Raw("👋 ")+tgui.Esc("I keep track of who is coming to training."),
		tgui.Esc("Register once and attendance questions arrive here:"),
		tgui.Code("/register <name as written on the sheet>"),
		tgui.Esc("See /help for everything else."),
	))
	return h.reply(ctx, req, text)
}

func (h *handlers) register(ctx context.Context, req *Request) error {
	if req.Msg.IsGroup {
		return h.reply(ctx, req, "Message me privately to register, so reminders reach you directly.")
	}
	name := strings.TrimSpace(strings.Join(req.Args, " "))
	if name == "" {
		return h.reply(ctx, req, "Usage: "+string(tgui.Code("/register <name as written on the sheet>")))
	}

	err := h.deps.Roster.Upsert(ctx, roster.Recipient{
		ChatID:      req.Msg.ChatID,
		Handle:      req.Msg.FromUsername,
		DisplayName: req.Msg.FromName,
		SheetName:   name,
	})
	if errors.Is(err, roster.ErrNameClaimed) {
		return h.reply(ctx, req, "That name is already linked to another chat. If it is yours, ask an admin to sort it out.")
	}
	if err != nil {
		req.Log.Warn("register failed", logx.Err(err))
		return h.reply(ctx, req, "Couldn't save that. Try again in a minute.")
	}

	text := "Registered as " + string(tgui.B(name)) + ". Reminders and answer buttons now land here."
	// Not fatal when the grid is unreachable; the hint is best-effort.
	if rows, err := h.deps.Store.Rows(ctx); err == nil {
		if !onGrid(h.deps.Extractor.Extract(rows), name) {
			text += "\nHeads up: that name is not on the schedule right now."
		}
	}
	return h.reply(ctx, req, text)
}

func onGrid(events []schedule.Event, name string) bool {
	for _, ev := range events {
		if _, ok := ev.SlotOf(name); ok {
			return true
		}
	}
	return false
}

func (h *handlers) whoami(ctx context.Context, req *Request) error {
	rcpt, err := h.deps.Roster.ByChatID(ctx, req.Msg.ChatID)
	if errors.Is(err, roster.ErrNotFound) {
		return h.reply(ctx, req, "You're not registered. Send "+string(tgui.Code("/register <name>"))+" first.")
	}
	if err != nil {
		req.Log.Warn("whoami failed", logx.Err(err))
		return h.reply(ctx, req, "Couldn't look you up. Try again in a minute.")
	}

	lines := []tgui.H{tgui.Esc("You're registered as ") + tgui.B(rcpt.SheetName) + tgui.Raw(".")}
	if rcpt.Handle != "" {
		lines = append(lines, tgui.Esc("Telegram handle on file: @"+rcpt.Handle))
	}
	if !rcpt.CreatedAt.IsZero() {
		lines = append(lines, tgui.Esc("Registered "+rcpt.CreatedAt.Format("2.1.2006")+"."))
	}
	return h.reply(ctx, req, string(tgui.JoinH("\n", lines...)))
}

func (h *handlers) unregister(ctx context.Context, req *Request) error {
	err := h.deps.Roster.Remove(ctx, req.Msg.ChatID)
	if errors.Is(err, roster.ErrNotFound) {
		return h.reply(ctx, req, "You weren't registered.")
	}
	if err != nil {
		req.Log.Warn("unregister failed", logx.Err(err))
		return h.reply(ctx, req, "Couldn't remove your registration. Try again in a minute.")
	}
	return h.reply(ctx, req, "Registration removed. Reminders stop here; your name stays on the sheet until an admin clears it.")
}

// schedule lists upcoming sessions with attendance marks and offers a
// take-a-seat button per session that still has a free open seat.
func (h *handlers) schedule(ctx context.Context, req *Request) error {
	rows, err := h.deps.Store.Rows(ctx)
	if err != nil {
		req.Log.Warn("schedule read failed", logx.Err(err))
		return h.reply(ctx, req, "Couldn't read the schedule. Try again in a minute.")
	}

	now := h.now()
	today := h.deps.Extractor.Midnight(now)
	var upcoming []schedule.Event
	for _, ev := range h.deps.Extractor.Extract(rows) {
		if !ev.Date.Before(today) {
			upcoming = append(upcoming, ev)
		}
	}
	if len(upcoming) == 0 {
		return h.reply(ctx, req, "No upcoming sessions on the schedule.")
	}

	kb := tgui.NewInline()
	buttons := 0
	lines := []tgui.H{tgui.Raw("📅 ") + tgui.B("Upcoming sessions")}
	for _, ev := range upcoming {
		block, err := h.eventBlock(ctx, ev)
		if err != nil {
			req.Log.Warn("schedule read failed", logx.Err(err))
			return h.reply(ctx, req, "Couldn't read the schedule. Try again in a minute.")
		}
		lines = append(lines, block)

		if slot, ok := ev.FirstFree(schedule.SlotOpen); ok && !ev.StartedBy(now) {
			kb.Row(tgui.Btn("Take a seat "+ev.Date.Format("2.1"),
				tgui.Data(bookNS, bookActionTake, seatPayload(ev.Row, slot.Col))))
			buttons++
		}
	}

	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if buttons > 0 {
		opt.ReplyMarkup = kb.Markup()
	}
	_, err = h.deps.Transport.SendText(ctx, req.Chat, string(tgui.JoinH("\n", lines...)), opt)
	return err
}

// eventBlock renders one session: heading plus the seats with their answer
// marks. Placeholder seats are omitted; cancelled ones say so.
func (h *handlers) eventBlock(ctx context.Context, ev schedule.Event) (tgui.H, error) {
	var seats []tgui.H
	free := 0
	for _, slot := range ev.Slots {
		switch slot.State {
		case schedule.SlotTaken:
			color, err := h.deps.Store.CellColor(ctx, sheet.Addr{Row: ev.Row, Col: slot.Col})
			if err != nil {
				return "", err
			}
			seats = append(seats, tgui.Esc(slot.Text)+tgui.Raw(" "+statusMark(h.deps.Codec.Decode(color))))
		case schedule.SlotCancelled:
			seats = append(seats, tgui.I("cancelled"))
		case schedule.SlotFree:
			if slot.Kind == schedule.SlotOpen {
				free++
			}
		}
		// Blocked placeholder seats render as nothing.
	}
	if free > 0 {
		seats = append(seats, tgui.Esc(fmt.Sprintf("%d free", free)))
	}

	head := tgui.Raw("• ") + heading(ev)
	if len(seats) == 0 {
		return head, nil
	}
	return head + tgui.Raw("\n   ") + tgui.JoinH(", ", seats...), nil
}

func heading(ev schedule.Event) tgui.H {
	parts := []tgui.H{tgui.B(ev.Date.Format(dayLabel))}
	if ev.Time != "" {
		parts = append(parts, tgui.B(ev.Time))
	}
	if ev.Place != "" {
		parts = append(parts, tgui.Esc(tgui.TruncRunes(ev.Place, 48)))
	}
	return tgui.JoinH(", ", parts...)
}

func statusMark(st status.Status) string {
	switch st {
	case status.Yes:
		return "✅"
	case status.No:
		return "❌"
	case status.Maybe:
		return "🤔"
	default:
		return "❓"
	}
}
