package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"attendbot/pkg/logx"
)

// middleware wraps the unit of work a router job runs. Both command and
// callback handlers funnel through the same chain.
type middleware func(next func(ctx context.Context) error) func(ctx context.Context) error

func chain(h func(ctx context.Context) error, mws ...middleware) func(ctx context.Context) error {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func withTimeout(d time.Duration) middleware {
	return func(next func(ctx context.Context) error) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			if d <= 0 {
				return next(ctx)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx)
		}
	}
}

func withRecover(log logx.Logger) middleware {
	return func(next func(ctx context.Context) error) func(ctx context.Context) error {
		return func(ctx context.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic recovered",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx)
		}
	}
}

func withRequestLog(log logx.Logger) middleware {
	return func(next func(ctx context.Context) error) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			start := time.Now()
			err := next(ctx)
			d := time.Since(start)
			if err != nil {
				log.Warn("request failed", logx.Duration("dur", d), logx.Err(err))
				return err
			}
			// Keep INFO useful: quick requests go to DEBUG.
			if d >= 750*time.Millisecond {
				log.Info("request ok", logx.Duration("dur", d))
			} else {
				log.Debug("request ok", logx.Duration("dur", d))
			}
			return nil
		}
	}
}
