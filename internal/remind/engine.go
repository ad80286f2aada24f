// Package remind runs the attendance reminder engine: one polling goroutine
// that watches the clock, derives upcoming sessions from the schedule grid,
// and delivers each reminder window at most once per day. The response side
// (button taps) lives in Responder and shares no mutable state with the
// engine.
package remind

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"attendbot/internal/roster"
	rtsup "attendbot/internal/runtime/supervisor"
	"attendbot/internal/schedule"
	"attendbot/internal/sheet"
	"attendbot/internal/status"
	kit "attendbot/internal/transport"
	"attendbot/pkg/logx"
)

// Deps are the ports the engine drives. All of them must be set.
type Deps struct {
	Store     sheet.Store
	Codec     *status.Codec
	Extractor *schedule.Extractor
	Roster    roster.Directory
	Transport kit.Adapter
}

type Engine struct {
	deps Deps
	log  logx.Logger

	mu      sync.Mutex
	cfg     Config
	running bool
	sup     *rtsup.Supervisor
	stopCh  chan struct{}

	// ledger and rng belong to the pass goroutine alone; nothing outside
	// loop/pass may touch them.
	ledger *ledger
	rng    *rand.Rand

	now func() time.Time
}

func New(cfg Config, deps Deps, log logx.Logger) (*Engine, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if deps.Store == nil || deps.Codec == nil || deps.Extractor == nil || deps.Roster == nil || deps.Transport == nil {
		return nil, errors.New("remind: incomplete dependencies")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		deps:   deps,
		log:    log,
		cfg:    cfg,
		ledger: newLedger(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		now:    time.Now,
	}, nil
}

func (e *Engine) config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Apply swaps the engine config; it takes effect on the next pass. The
// ledger survives, so already-served windows stay served.
func (e *Engine) Apply(cfg Config) error {
	if err := cfg.normalize(); err != nil {
		return err
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	e.log.Info("reminder config applied")
	return nil
}

func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.sup = rtsup.New(ctx,
		rtsup.WithLogger(e.log.With(logx.String("comp", "remind"))),
		rtsup.WithCancelOnError(false),
	)
	sup := e.sup
	cfg := e.cfg
	e.mu.Unlock()

	sup.GoRestart("remind.loop", e.loop,
		rtsup.WithRestartBackoff(time.Second, time.Minute),
	)
	e.log.Info("reminder engine started",
		logx.Duration("interval", cfg.CheckInterval),
		logx.Int("windows", len(cfg.Windows)))
	return nil
}

// loop is the single goroutine that runs passes and owns the ledger.
func (e *Engine) loop(ctx context.Context) error {
	stop := e.stopChan()
	e.pass(ctx)
	for {
		timer := time.NewTimer(e.config().CheckInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-stop:
			timer.Stop()
			return nil
		case <-timer.C:
		}
		e.pass(ctx)
	}
}

func (e *Engine) stopChan() chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopCh
}

// pass checks the clock, and only when a window is due fetches the grid and
// dispatches. The cheap no-window case keeps the poll interval tight.
// Window hours and day keys are read off the schedule's wall clock, not the
// host's.
func (e *Engine) pass(ctx context.Context) {
	now := e.now().In(e.deps.Extractor.Location())

	if n := e.ledger.Sweep(now); n > 0 {
		e.log.Debug("ledger swept", logx.Int("evicted", n), logx.Int("kept", e.ledger.Len()))
	}

	cfg := e.config()
	var due []Window
	for _, w := range cfg.Windows {
		if w.Due(now) {
			due = append(due, w)
		}
	}
	if len(due) == 0 {
		return
	}

	log := e.log.With(logx.String("pass", shortID()))
	rows, err := e.deps.Store.Rows(ctx)
	if err != nil {
		log.Warn("schedule fetch failed", logx.Err(err))
		return
	}
	events := e.deps.Extractor.Extract(rows)

	for _, w := range due {
		if ctx.Err() != nil {
			return
		}
		e.dispatchWindow(ctx, log.With(logx.String("window", w.Kind.String())), w, events, now)
	}
}

func shortID() string {
	return uuid.NewString()[:8]
}

// Stop first lets a running pass finish within the grace period, then
// cancels hard. New passes stop immediately either way.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	sup := e.sup
	e.sup = nil
	stopCh := e.stopCh
	e.stopCh = nil
	grace := e.cfg.StopGrace
	e.mu.Unlock()

	close(stopCh)

	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := sup.Wait(wctx); err != nil {
		e.log.Warn("stop grace exceeded, cancelling", logx.Err(err))
		sup.Cancel()
		if err := sup.Wait(ctx); err != nil {
			return err
		}
	}
	e.log.Info("reminder engine stopped")
	return nil
}
