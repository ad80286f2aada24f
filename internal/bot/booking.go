package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"attendbot/internal/roster"
	"attendbot/internal/schedule"
	"attendbot/internal/sheet"
	kit "attendbot/internal/transport"
	"attendbot/pkg/logx"
	"attendbot/pkg/tgui"
)

// bookNS is the namespace of seat booking callbacks.
const bookNS = "book"

const (
	bookActionTake = "take"
	bookActionFree = "free"
)

var (
	// ErrAlreadyBooked rejects a second seat in the same session, no matter
	// which seat is attempted.
	ErrAlreadyBooked = errors.New("bot: already holding a seat in this session")

	// ErrSlotTaken means the seat was grabbed between listing and tapping.
	ErrSlotTaken = errors.New("bot: seat no longer free")

	errNotBooked = errors.New("bot: no seat held in this session")
	errSeatGone  = errors.New("bot: seat moved or removed")
	errStarted   = errors.New("bot: session already started")
)

// book seats the recipient into the cell a button was composed for, after
// re-validating everything against a fresh grid read. Writes race other
// editors last-write-wins; the re-validation narrows that window.
func (h *handlers) book(ctx context.Context, rcpt roster.Recipient, row, col int) (schedule.Event, error) {
	ev, err := h.freshEvent(ctx, row)
	if err != nil {
		return schedule.Event{}, err
	}
	if ev.StartedBy(h.now()) {
		return schedule.Event{}, errStarted
	}
	if _, ok := ev.SlotOf(rcpt.SheetName); ok {
		return schedule.Event{}, ErrAlreadyBooked
	}
	slot, ok := slotAt(ev, col)
	if !ok || slot.Kind != schedule.SlotOpen {
		return schedule.Event{}, errSeatGone
	}
	if slot.State != schedule.SlotFree {
		return schedule.Event{}, ErrSlotTaken
	}
	if err := h.deps.Store.SetCellValue(ctx, sheet.Addr{Row: ev.Row, Col: col}, rcpt.SheetName); err != nil {
		return schedule.Event{}, err
	}
	return ev, nil
}

// giveBack clears the recipient's own seat, value and color both.
func (h *handlers) giveBack(ctx context.Context, rcpt roster.Recipient, row, col int) (schedule.Event, error) {
	ev, err := h.freshEvent(ctx, row)
	if err != nil {
		return schedule.Event{}, err
	}
	if ev.StartedBy(h.now()) {
		return schedule.Event{}, errStarted
	}
	slot, ok := ev.SlotOf(rcpt.SheetName)
	if !ok {
		return schedule.Event{}, errNotBooked
	}
	// Trainer seats are assigned by admins, not self-served.
	if slot.Col != col || slot.Kind == schedule.SlotTrainer {
		return schedule.Event{}, errSeatGone
	}
	addr := sheet.Addr{Row: ev.Row, Col: slot.Col}
	if err := h.deps.Store.SetCellValue(ctx, addr, ""); err != nil {
		return schedule.Event{}, err
	}
	if err := h.deps.Store.SetCellColor(ctx, addr, sheet.Color{}); err != nil {
		return schedule.Event{}, err
	}
	return ev, nil
}

// freshEvent re-reads the grid past the cache and returns the session at
// the given row, if one is still there.
func (h *handlers) freshEvent(ctx context.Context, row int) (schedule.Event, error) {
	h.deps.Store.Invalidate()
	rows, err := h.deps.Store.Rows(ctx)
	if err != nil {
		return schedule.Event{}, err
	}
	for _, ev := range h.deps.Extractor.Extract(rows) {
		if ev.Row == row {
			return ev, nil
		}
	}
	return schedule.Event{}, errSeatGone
}

func slotAt(ev schedule.Event, col int) (schedule.Slot, bool) {
	for _, s := range ev.Slots {
		if s.Col == col {
			return s, true
		}
	}
	return schedule.Slot{}, false
}

// unbook lists the sender's own upcoming seats with give-back buttons.
func (h *handlers) unbook(ctx context.Context, req *Request) error {
	rcpt, err := h.deps.Roster.ByChatID(ctx, req.Msg.ChatID)
	if errors.Is(err, roster.ErrNotFound) {
		return h.reply(ctx, req, "You're not registered. Send "+string(tgui.Code("/register <name>"))+" first.")
	}
	if err != nil {
		req.Log.Warn("unbook lookup failed", logx.Err(err))
		return h.reply(ctx, req, "Couldn't look you up. Try again in a minute.")
	}

	rows, err := h.deps.Store.Rows(ctx)
	if err != nil {
		req.Log.Warn("schedule read failed", logx.Err(err))
		return h.reply(ctx, req, "Couldn't read the schedule. Try again in a minute.")
	}

	now := h.now()
	today := h.deps.Extractor.Midnight(now)
	kb := tgui.NewInline()
	held := 0
	for _, ev := range h.deps.Extractor.Extract(rows) {
		if ev.Date.Before(today) || ev.StartedBy(now) {
			continue
		}
		slot, ok := ev.SlotOf(rcpt.SheetName)
		if !ok || slot.Kind == schedule.SlotTrainer {
			continue
		}
		label := strings.TrimSpace("Give back " + ev.Date.Format("2.1") + " " + ev.Time)
		kb.Row(tgui.Btn(label, tgui.Data(bookNS, bookActionFree, seatPayload(ev.Row, slot.Col))))
		held++
	}
	if held == 0 {
		return h.reply(ctx, req, "You don't hold any upcoming seats.")
	}

	_, err = h.deps.Transport.SendText(ctx, req.Chat, "Which seat do you want to give back?",
		&kit.SendOptions{ReplyMarkup: kb.Markup()})
	return err
}

// bookCallback handles both booking actions. Rejections are answered and
// swallowed; infrastructure failures are answered and returned.
func (h *handlers) bookCallback(ctx context.Context, cb kit.Callback) error {
	_, action, payload, ok := tgui.Split(cb.Data)
	row, col, perr := parseSeat(payload)
	if !ok || perr != nil {
		return h.ackCB(ctx, cb.ID, "This button has expired.")
	}

	rcpt, err := h.deps.Roster.ByChatID(ctx, cb.FromID)
	if errors.Is(err, roster.ErrNotFound) {
		return h.ackCB(ctx, cb.ID, "Register first: /register <name>.")
	}
	if err != nil {
		h.ackCB(ctx, cb.ID, "Couldn't look you up. Try again in a minute.")
		return err
	}

	var (
		ev      schedule.Event
		confirm string
	)
	switch action {
	case bookActionTake:
		ev, err = h.book(ctx, rcpt, row, col)
		confirm = "You're in: "
	case bookActionFree:
		ev, err = h.giveBack(ctx, rcpt, row, col)
		confirm = "Seat given back: "
	default:
		return h.ackCB(ctx, cb.ID, "This button has expired.")
	}
	if err != nil {
		h.ackCB(ctx, cb.ID, bookFailText(err))
		if isRejection(err) {
			return nil
		}
		return err
	}

	h.ackCB(ctx, cb.ID, "Done.")
	text := string(tgui.Esc(confirm) + heading(ev))
	if _, err := h.deps.Transport.SendText(ctx, kit.ChatTarget{ChatID: cb.ChatID}, text,
		&kit.SendOptions{ParseMode: "HTML", DisablePreview: true}); err != nil {
		h.log.Debug("booking confirm send failed", logx.Err(err))
	}
	return nil
}

func (h *handlers) ackCB(ctx context.Context, id, text string) error {
	if err := h.deps.Transport.AnswerCallback(ctx, id, text); err != nil {
		h.log.Debug("callback ack failed", logx.Err(err))
	}
	return nil
}

func bookFailText(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyBooked):
		return "You already have a seat in this session."
	case errors.Is(err, ErrSlotTaken):
		return "Someone grabbed that seat first. Check /schedule."
	case errors.Is(err, errNotBooked):
		return "You don't hold a seat in this session."
	case errors.Is(err, errSeatGone):
		return "The schedule changed. Check /schedule."
	case errors.Is(err, errStarted):
		return "That session has already started."
	default:
		return "Couldn't update the sheet. Try again in a minute."
	}
}

func isRejection(err error) bool {
	return errors.Is(err, ErrAlreadyBooked) || errors.Is(err, ErrSlotTaken) ||
		errors.Is(err, errNotBooked) || errors.Is(err, errSeatGone) || errors.Is(err, errStarted)
}

// seatPayload pins a button to the grid cell it was composed for.
func seatPayload(row, col int) string {
	return strconv.Itoa(row) + ":" + strconv.Itoa(col)
}

func parseSeat(s string) (row, col int, err error) {
	r, c, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("malformed seat %q", s)
	}
	row, err = strconv.Atoi(r)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed seat %q", s)
	}
	col, err = strconv.Atoi(c)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed seat %q", s)
	}
	return row, col, nil
}
