package remind

import (
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"attendbot/internal/schedule"
	"attendbot/internal/status"
	kit "attendbot/internal/transport"
	"attendbot/pkg/tgui"
)

const dayLabel = "Mon 2.1"

func eventLine(ev schedule.Event) tgui.H {
	parts := []tgui.H{tgui.B(ev.Date.Format(dayLabel))}
	if ev.Time != "" {
		parts = append(parts, tgui.B(ev.Time))
	}
	if ev.Place != "" {
		parts = append(parts, tgui.Esc(tgui.TruncRunes(ev.Place, 48)))
	}
	return tgui.JoinH(", ", parts...)
}

// askText is the open question personal reminders lead with.
func askText(ev schedule.Event, today bool) string {
	when := "Session coming up"
	if today {
		when = "Session today"
	}
	return string(tgui.JoinH("\n",
		tgui.Raw("🔔 ")+tgui.Esc(when)+tgui.Raw(": ")+eventLine(ev),
		tgui.Esc("Are you coming?"),
	))
}

// confirmText nudges someone who already answered: restate what the grid
// says and ask if it still holds.
func confirmText(ev schedule.Event, st status.Status, today bool) string {
	when := "Session coming up"
	if today {
		when = "Session today"
	}
	return string(tgui.JoinH("\n",
		tgui.Raw("🔔 ")+tgui.Esc(when)+tgui.Raw(": ")+eventLine(ev),
		tgui.Esc("You're down as "+statusLabel(st)+". Still right?"),
	))
}

// finalText is the day-of last call: plain information, no buttons. The
// earlier prompts in the chat keep their working keyboards.
func finalText(ev schedule.Event, st status.Status, now time.Time) string {
	head := tgui.B("Today")
	if at, ok := ev.StartAt(); ok {
		if left := at.Sub(now); left > 0 {
			head = tgui.B("Starts " + leftLabel(left))
		}
	}
	var line string
	switch st {
	case status.Yes:
		line = "You're down as coming. See you there."
	case status.Maybe:
		line = "You answered maybe. The seat is kept either way."
	case status.No:
		line = "You declined earlier. Answer on the prompt above if plans changed."
	default:
		line = "No answer from you yet."
	}
	return string(tgui.JoinH("\n",
		tgui.Raw("⏰ ")+head+tgui.Raw(": ")+eventLine(ev),
		tgui.Esc(line),
	))
}

func leftLabel(left time.Duration) string {
	if left < time.Hour {
		m := int(left.Round(5*time.Minute) / time.Minute)
		if m < 5 {
			m = 5
		}
		return fmt.Sprintf("in %d min", m)
	}
	h := int((left + 30*time.Minute) / time.Hour)
	if h == 1 {
		return "in about an hour"
	}
	return fmt.Sprintf("in about %d hours", h)
}

// recordedText replaces the question once an answer stands.
func recordedText(ev schedule.Event, st status.Status, changed bool) string {
	lead := "Answer recorded: "
	if changed {
		lead = "Answer changed: "
	}
	return string(tgui.JoinH("\n",
		eventLine(ev),
		tgui.Esc(lead)+tgui.B(statusLabel(st)),
	))
}

func statusLabel(st status.Status) string {
	switch st {
	case status.Yes:
		return "coming"
	case status.No:
		return "not coming"
	case status.Maybe:
		return "maybe"
	default:
		return "no answer"
	}
}

// askKeyboard offers the three answers to an open question.
func askKeyboard(payload string) *tele.ReplyMarkup {
	return tgui.Grid2([]tele.Btn{
		tgui.Btn("✅ Coming", tgui.Data(CallbackNS, ActionYes.wire(), payload)),
		tgui.Btn("❌ Not coming", tgui.Data(CallbackNS, ActionNo.wire(), payload)),
		tgui.Btn("🤔 Maybe", tgui.Data(CallbackNS, ActionMaybe.wire(), payload)),
	})
}

// confirmKeyboard pairs the standing answer with a reopen arm.
func confirmKeyboard(st status.Status, payload string) *tele.ReplyMarkup {
	data := func(a Action) string { return tgui.Data(CallbackNS, a.wire(), payload) }
	confirm := tgui.Btn("✅ Still coming", data(ActionConfirmYes))
	if st == status.Maybe {
		confirm = tgui.Btn("🤔 Still unsure", data(ActionConfirmMaybe))
	}
	return tgui.NewInline().
		Row(confirm).
		Row(tgui.Btn("🔄 Changed my mind", data(ActionReconsider))).
		Markup()
}

// eventTally is the per-event attendance breakdown for group summaries.
type eventTally struct {
	ev       schedule.Event
	yes      int
	no       int
	maybe    int
	open     int // answers outstanding
	freeOpen int // bookable open seats
}

func groupText(tallies []eventTally) string {
	lines := []tgui.H{tgui.Raw("📋 ") + tgui.B("Upcoming sessions")}
	for _, t := range tallies {
		counts := []string{fmt.Sprintf("%d coming", t.yes)}
		if t.maybe > 0 {
			counts = append(counts, fmt.Sprintf("%d maybe", t.maybe))
		}
		if t.no > 0 {
			counts = append(counts, fmt.Sprintf("%d out", t.no))
		}
		if t.open > 0 {
			counts = append(counts, fmt.Sprintf("%d unanswered", t.open))
		}
		if t.freeOpen > 0 {
			counts = append(counts, fmt.Sprintf("%d seats free", t.freeOpen))
		}
		lines = append(lines,
			tgui.Raw("• ")+eventLine(t.ev)+tgui.Esc(": "+strings.Join(counts, ", ")))
	}
	return string(tgui.JoinH("\n", lines...))
}

// adminText is the weekly fill-the-grid nudge.
func adminText(count int, from, to time.Time) string {
	span := from.Format("2.1") + " to " + to.Format("2.1")
	var body string
	switch count {
	case 0:
		body = "No sessions planned for " + span + " yet. Time to fill the grid."
	case 1:
		body = "Only 1 session planned for " + span + ". Anything missing?"
	default:
		body = fmt.Sprintf("%d sessions planned for %s. Check the grid for gaps.", count, span)
	}
	return string(tgui.Raw("🗓 ") + tgui.B("Weekly schedule check") + tgui.Raw("\n") + tgui.Esc(body))
}

func htmlOpts(markup *tele.ReplyMarkup) *kit.SendOptions {
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if markup != nil {
		opt.ReplyMarkup = markup
	}
	return opt
}
