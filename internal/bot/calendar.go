package bot

import (
	"context"
	"errors"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"attendbot/internal/roster"
	"attendbot/internal/schedule"
	kit "attendbot/internal/transport"
	"attendbot/pkg/logx"
	"attendbot/pkg/tgui"
)

// sessionLength stands in for the end time when the time cell has none.
const sessionLength = 90 * time.Minute

// calendar exports the sender's upcoming booked sessions as an .ics file.
func (h *handlers) calendar(ctx context.Context, req *Request) error {
	rcpt, err := h.deps.Roster.ByChatID(ctx, req.Msg.ChatID)
	if errors.Is(err, roster.ErrNotFound) {
		return h.reply(ctx, req, "You're not registered. Send "+string(tgui.Code("/register <name>"))+" first.")
	}
	if err != nil {
		req.Log.Warn("calendar lookup failed", logx.Err(err))
		return h.reply(ctx, req, "Couldn't look you up. Try again in a minute.")
	}

	rows, err := h.deps.Store.Rows(ctx)
	if err != nil {
		req.Log.Warn("schedule read failed", logx.Err(err))
		return h.reply(ctx, req, "Couldn't read the schedule. Try again in a minute.")
	}

	now := h.now()
	today := h.deps.Extractor.Midnight(now)
	var mine []schedule.Event
	for _, ev := range h.deps.Extractor.Extract(rows) {
		if ev.Date.Before(today) {
			continue
		}
		if _, ok := ev.SlotOf(rcpt.SheetName); ok {
			mine = append(mine, ev)
		}
	}
	if len(mine) == 0 {
		return h.reply(ctx, req, "No upcoming sessions with your name on them.")
	}

	doc := kit.Document{
		Name:    "sessions.ics",
		MIME:    "text/calendar",
		Payload: buildICS(mine, now),
		Caption: "Your upcoming sessions",
	}
	return h.deps.Transport.SendDocument(ctx, req.Chat, doc)
}

// buildICS renders the events as a VCALENDAR. UIDs derive from the event
// key, so a re-export updates the earlier import instead of duplicating it.
func buildICS(events []schedule.Event, now time.Time) []byte {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//attendbot//EN")

	for _, ev := range events {
		vev := cal.AddEvent(icsUID(ev))
		vev.SetDtStampTime(now)
		if start, ok := ev.StartAt(); ok {
			vev.SetStartAt(start)
			end, ok := ev.EndAt()
			if !ok {
				end = start.Add(sessionLength)
			}
			vev.SetEndAt(end)
		} else {
			// No parsable time cell; export the day instead.
			vev.SetAllDayStartAt(ev.Date)
			vev.SetAllDayEndAt(ev.Date.AddDate(0, 0, 1))
		}
		vev.SetSummary("Training session")
		if ev.Place != "" {
			vev.SetLocation(ev.Place)
		}
	}
	return []byte(cal.Serialize())
}

func icsUID(ev schedule.Event) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("attendbot/"+ev.Key())).String() + "@attendbot"
}
