// Package bot routes chat updates to command handlers and inline-button
// callbacks. The command table is built once at startup; handlers run on a
// bounded worker pool with panic recovery and a per-update timeout.
package bot

import (
	"context"
	"errors"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"attendbot/internal/remind"
	"attendbot/internal/roster"
	rtsup "attendbot/internal/runtime/supervisor"
	"attendbot/internal/schedule"
	"attendbot/internal/sheet"
	"attendbot/internal/status"
	kit "attendbot/internal/transport"
	"attendbot/pkg/logx"
	"attendbot/pkg/tgui"
)

const (
	jobQueueCap    = 64
	handlerTimeout = 30 * time.Second
)

type HandlerFunc func(ctx context.Context, req *Request) error

// CallbackFunc handles one inline-button tap. The handler owns the
// callback answer; the router only acks updates it drops itself.
type CallbackFunc func(ctx context.Context, cb kit.Callback) error

type Command struct {
	Name        string // first token without the slash
	Description string
	Usage       string // shown instead of Description when args are wrong
	Handle      HandlerFunc
}

type Request struct {
	Msg  kit.Message
	Chat kit.ChatTarget
	Args []string
	Log  logx.Logger
}

// Deps are the ports the handlers drive. All of them must be set.
type Deps struct {
	Store     sheet.Store
	Codec     *status.Codec
	Extractor *schedule.Extractor
	Roster    roster.Directory
	Transport kit.Adapter
	Responder *remind.Responder
}

// Router owns the command and callback tables. Both are populated in New
// and never mutated afterwards, so lookups need no locking.
type Router struct {
	commands  map[string]Command
	order     []string // help listing order
	callbacks map[string]CallbackFunc

	tp   kit.Adapter
	log  logx.Logger
	jobs chan func()
}

func New(deps Deps, log logx.Logger) (*Router, error) {
	if deps.Store == nil || deps.Codec == nil || deps.Extractor == nil ||
		deps.Roster == nil || deps.Transport == nil || deps.Responder == nil {
		return nil, errors.New("bot: incomplete dependencies")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	r := &Router{
		commands: map[string]Command{},
		tp:       deps.Transport,
		log:      log,
		jobs:     make(chan func(), jobQueueCap),
	}

	h := &handlers{deps: deps, log: log, now: time.Now}
	for _, c := range []Command{
		{Name: "start", Description: "what this bot is for", Handle: h.start},
		{Name: "register", Description: "link your chat to your name on the sheet", Usage: "/register <name as written on the sheet>", Handle: h.register},
		{Name: "whoami", Description: "show your registration", Handle: h.whoami},
		{Name: "unregister", Description: "drop your registration", Handle: h.unregister},
		{Name: "schedule", Description: "upcoming sessions and free seats", Handle: h.schedule},
		{Name: "unbook", Description: "give a booked seat back", Handle: h.unbook},
		{Name: "calendar", Description: "your sessions as an .ics file", Handle: h.calendar},
		{Name: "help", Description: "list commands", Handle: r.help},
	} {
		r.commands[c.Name] = c
		r.order = append(r.order, c.Name)
	}

	r.callbacks = map[string]CallbackFunc{
		remind.CallbackNS: deps.Responder.Handle,
		bookNS:            h.bookCallback,
	}
	return r, nil
}

// Run consumes updates until the context ends or the channel closes.
// Meant to run under the app supervisor.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}

	sup := rtsup.New(ctx,
		rtsup.WithLogger(r.log.With(logx.String("comp", "bot.router"))),
		rtsup.WithCancelOnError(false),
	)

	r.log.Info("router started", logx.Int("workers", workers), logx.Int("queue_cap", cap(r.jobs)))

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() { close(r.jobs) })
	}

	for i := 0; i < workers; i++ {
		name := "bot.worker." + strconv.Itoa(i)
		sup.GoRestart(name, func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					job()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		closeJobs()
		// Let in-flight handlers drain before reporting stopped.
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("router stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				r.log.Info("router stopped (updates channel closed)")
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) route(root context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			r.routeMessage(root, *up.Message)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			r.routeCallback(root, *up.Callback)
		}
	}
}

func (r *Router) routeMessage(root context.Context, msg kit.Message) {
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	parts := strings.Fields(text)
	name := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}

	cmd, ok := r.commands[name]
	if !ok {
		// Groups see every bot's slash commands; only hint in private.
		if !msg.IsGroup {
			_, _ = r.tp.SendText(root, kit.ChatTarget{ChatID: msg.ChatID}, "Unknown command. Try /help.", nil)
		}
		return
	}

	reqLog := r.log.With(
		logx.String("rid", reqID()),
		logx.Int64("chat_id", msg.ChatID),
		logx.Int64("from_id", msg.FromID),
		logx.String("cmd", cmd.Name),
	)
	req := &Request{
		Msg:  msg,
		Chat: kit.ChatTarget{ChatID: msg.ChatID},
		Args: parts[1:],
		Log:  reqLog,
	}

	job := chain(
		func(ctx context.Context) error { return cmd.Handle(ctx, req) },
		withRecover(reqLog),
		withRequestLog(reqLog),
		withTimeout(handlerTimeout),
	)
	if !r.tryEnqueue(func() { _ = job(root) }) {
		_, _ = r.tp.SendText(root, req.Chat, "Busy, try again in a moment.", nil)
	}
}

func (r *Router) routeCallback(root context.Context, cb kit.Callback) {
	if len(cb.Data) > tgui.MaxCallbackDataLen {
		// Telegram caps callback_data at 64 bytes; longer data is not ours.
		_ = r.tp.AnswerCallback(root, cb.ID, "")
		return
	}
	ns, _, _, ok := tgui.Split(cb.Data)
	fn := r.callbacks[ns]
	if !ok || fn == nil {
		// A button from an older build. Stop the client spinner.
		_ = r.tp.AnswerCallback(root, cb.ID, "")
		return
	}

	cbLog := r.log.With(
		logx.String("rid", reqID()),
		logx.Int64("chat_id", cb.ChatID),
		logx.Int64("from_id", cb.FromID),
		logx.String("cb", ns),
	)

	job := chain(
		func(ctx context.Context) error { return fn(ctx, cb) },
		withRecover(cbLog),
		withRequestLog(cbLog),
		withTimeout(handlerTimeout),
	)
	if !r.tryEnqueue(func() { _ = job(root) }) {
		_ = r.tp.AnswerCallback(root, cb.ID, "Busy, try again.")
	}
}

// tryEnqueue survives the jobs channel closing mid-shutdown.
func (r *Router) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
		}
	}()
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

func (r *Router) help(ctx context.Context, req *Request) error {
	var b strings.Builder
	b.WriteString(tgui.B("Commands").String())
	b.WriteString("\n")
	for _, name := range r.order {
		c := r.commands[name]
		b.WriteString("/" + c.Name + " - " + tgui.Esc(c.Description).String() + "\n")
	}
	_, err := r.tp.SendText(ctx, req.Chat, b.String(), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

func reqID() string {
	return uuid.NewString()[:8]
}
