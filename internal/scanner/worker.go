package scanner

import (
	"context"
	"time"

	"breakout-scanner/internal/models"
)

const tickBuffer = 256

// runReplay steps a virtual clock through the session one base resolution at
// a time. Each step polls synchronously before the state machine runs, so a
// replay sees the data exactly as a live run would have at that moment.
func (c *Controller) runReplay(ctx context.Context, r *run, clock *virtualClock) {
	res := c.cfg.BaseResolution
	now := r.open.Add(res)
	if now.After(r.close) {
		now = r.close
	}
	clock.Set(now)

	if err := r.rec.LoadHistory(ctx, now); err != nil && ctx.Err() == nil {
		r.log.Warn().Err(err).Msg("history load failed; continuing on polls")
	}

	for {
		if ctx.Err() != nil {
			c.halt(r, now)
			return
		}

		clock.Set(now)
		_, _ = r.rec.Poll(ctx, now, r.tf)
		c.advance(r, now, nil)

		if r.state.Terminal() || !now.Before(r.close) {
			return
		}
		now = now.Add(res)
		if now.After(r.close) {
			now = r.close
		}
	}
}

type fetchResult struct {
	candles []models.Candle
	err     error
}

// runLive drives a session in real time. One goroutine owns the state
// machine; it selects over the poll ticker, pushed ticks, fetch results, the
// settle timer and cancellation. Fetches run on their own goroutine, guarded
// by the reconciler's in-flight slot.
func (c *Controller) runLive(ctx context.Context, r *run) {
	symbol := r.session.Symbol

	if err := r.rec.LoadHistory(ctx, c.now()); err != nil && ctx.Err() == nil {
		r.log.Warn().Err(err).Msg("history load failed; continuing on polls")
	}

	ticks := make(chan models.Tick, tickBuffer)
	c.source.OnPush(func(t models.Tick) {
		if t.Symbol != symbol {
			return
		}
		select {
		case ticks <- t:
		default:
			r.log.Debug().Float64("price", t.Price).Msg("tick dropped; worker busy")
		}
	})
	defer c.source.OnPush(nil)

	if err := c.source.Subscribe(ctx, []string{symbol}); err != nil {
		r.log.Warn().Err(err).Msg("live subscription failed; polling only")
	}

	poll := time.NewTicker(c.cfg.PollInterval)
	defer poll.Stop()

	results := make(chan fetchResult, 1)
	var settle *time.Timer
	var settleC <-chan time.Time
	defer func() {
		if settle != nil {
			settle.Stop()
		}
	}()

	c.advance(r, c.now(), nil)
	for !r.state.Terminal() {
		var tick *models.Tick

		select {
		case <-ctx.Done():
			c.halt(r, c.now())
			return

		case <-poll.C:
			now := c.now()
			r.rec.Freeze(now)
			if req, ok := r.rec.BeginPoll(now, r.tf); ok {
				go func() {
					candles, err := r.rec.Fetch(ctx, req)
					results <- fetchResult{candles: candles, err: err}
				}()
			}

		case res := <-results:
			r.rec.Apply(res.candles, res.err, c.now())

		case t := <-ticks:
			r.rec.OnTick(t)
			tick = &t

		case <-settleC:
			settle, settleC = nil, nil
		}

		c.advance(r, c.now(), tick)

		if r.state == StateTransitioning && settleC == nil && !r.settleUntil.IsZero() {
			settle = time.NewTimer(r.settleUntil.Sub(c.now()))
			settleC = settle.C
		}
	}
}
