// Package notify pushes breakouts, resolved trades and finished sessions to
// external channels such as a webhook or a Telegram chat.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"breakout-scanner/internal/config"
	"breakout-scanner/internal/models"
	"breakout-scanner/internal/stream"
	"breakout-scanner/pkg/utils"
)

// Channel delivers a notification to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// Notification represents a notification message.
type Notification struct {
	Kind      Kind
	Title     string
	Message   string
	Data      map[string]interface{}
	Timestamp time.Time
}

// Kind classifies a notification.
type Kind string

const (
	KindBreakout Kind = "breakout"
	KindTrade    Kind = "trade"
	KindSession  Kind = "session"
)

// Level filters which kinds are sent.
type Level string

const (
	LevelAll          Level = "all"
	LevelTradesOnly   Level = "trades_only"
	LevelSessionsOnly Level = "sessions_only"
)

const queueSize = 64

// Notifier is a stream.Observer that formats scanner events and sends them
// to its channels from a background goroutine. Observer calls never block;
// when the queue is full the notification is dropped.
type Notifier struct {
	stream.NopObserver
	channels []Channel
	level    Level
	timeout  time.Duration
	log      zerolog.Logger

	queue   chan Notification
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// New creates a notifier sending to channels and starts its sender.
func New(level Level, log zerolog.Logger, channels ...Channel) *Notifier {
	if level == "" {
		level = LevelAll
	}
	n := &Notifier{
		channels: channels,
		level:    level,
		timeout:  10 * time.Second,
		log:      log,
		queue:    make(chan Notification, queueSize),
	}
	n.wg.Add(1)
	go n.run()
	return n
}

// FromConfig builds a notifier from the enabled channels in cfg. It returns
// nil when notifications are disabled or no channel is usable.
func FromConfig(cfg config.NotifyConfig, log zerolog.Logger) *Notifier {
	if !cfg.Enabled {
		return nil
	}

	var channels []Channel
	if wh := NewWebhookChannel(cfg.Webhook); wh.IsEnabled() {
		channels = append(channels, wh)
	}
	if tg := NewTelegramChannel(cfg.Telegram); tg.IsEnabled() {
		channels = append(channels, tg)
	}
	if len(channels) == 0 {
		log.Warn().Msg("notifications enabled but no channel is configured")
		return nil
	}
	return New(Level(cfg.Level), log, channels...)
}

func (n *Notifier) run() {
	defer n.wg.Done()
	for msg := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		if err := n.Send(ctx, msg); err != nil {
			n.log.Warn().Err(err).Str("kind", string(msg.Kind)).Msg("notification failed")
		}
		cancel()
	}
}

// Close stops accepting notifications, sends what is queued and waits.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()

	n.wg.Wait()
	if d := n.dropped.Load(); d > 0 {
		n.log.Warn().Int64("dropped", d).Msg("notifications dropped")
	}
}

// Dropped returns how many notifications were discarded on a full queue.
func (n *Notifier) Dropped() int64 {
	return n.dropped.Load()
}

func (n *Notifier) shouldSend(kind Kind) bool {
	switch n.level {
	case LevelTradesOnly:
		return kind == KindTrade
	case LevelSessionsOnly:
		return kind == KindSession
	default:
		return true
	}
}

func (n *Notifier) enqueue(msg Notification) {
	if !n.shouldSend(msg.Kind) {
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	select {
	case n.queue <- msg:
	default:
		n.dropped.Add(1)
	}
}

// Send delivers n to every enabled channel and reports the channels that failed.
func (n *Notifier) Send(ctx context.Context, msg Notification) error {
	var errs []string
	for _, ch := range n.channels {
		if !ch.IsEnabled() {
			continue
		}
		if err := ch.Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", ch.Name(), err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// BreakoutDetected announces a breakout.
func (n *Notifier) BreakoutDetected(s stream.Scope, ev models.BreakoutEvent) {
	n.enqueue(breakoutNotification(s, ev))
}

// TradeResolved announces a closed simulated trade.
func (n *Notifier) TradeResolved(s stream.Scope, t models.SimulatedTrade) {
	n.enqueue(tradeNotification(s, t))
}

// SessionFinished announces the session result.
func (n *Notifier) SessionFinished(session models.ScannerSession) {
	n.enqueue(sessionNotification(session))
}

func breakoutNotification(s stream.Scope, ev models.BreakoutEvent) Notification {
	var direction models.Direction
	if ev.Pattern != nil {
		direction = ev.Pattern.Direction
	}
	return Notification{
		Kind:  KindBreakout,
		Title: fmt.Sprintf("%s %s breakout", s.Symbol, utils.FormatTimeframe(s.Timeframe)),
		Message: fmt.Sprintf("%s breakout through %s at %s on the %s candle",
			direction, utils.FormatPrice(ev.Level), utils.FormatPrice(ev.TriggerPrice), ev.Position),
		Data: map[string]interface{}{
			"session":   s.SessionID,
			"symbol":    s.Symbol,
			"timeframe": s.Timeframe,
			"direction": direction,
			"level":     ev.Level,
			"price":     ev.TriggerPrice,
			"position":  ev.Position,
		},
		Timestamp: ev.TriggerTimestamp,
	}
}

func tradeNotification(s stream.Scope, t models.SimulatedTrade) Notification {
	msg := fmt.Sprintf("%s %d @ %s, exit %s (%s)\nP&L: %s",
		t.Side, t.Quantity, utils.FormatPrice(t.EntryPrice), utils.FormatPrice(t.ExitPrice),
		t.ExitReason, utils.FormatPnL(t.ProfitLoss))
	if t.RiskFree {
		msg += ", risk-free reached"
	}
	return Notification{
		Kind:    KindTrade,
		Title:   fmt.Sprintf("%s %s trade closed", t.Symbol, utils.FormatTimeframe(t.Timeframe)),
		Message: msg,
		Data: map[string]interface{}{
			"session":     s.SessionID,
			"trade":       t.ID,
			"symbol":      t.Symbol,
			"timeframe":   t.Timeframe,
			"side":        t.Side,
			"entry":       t.EntryPrice,
			"exit":        t.ExitPrice,
			"exit_reason": t.ExitReason,
			"pnl":         t.ProfitLoss,
		},
		Timestamp: t.ExitTimestamp,
	}
}

func sessionNotification(session models.ScannerSession) Notification {
	sum := models.Summarize(session.Trades)

	var b strings.Builder
	fmt.Fprintf(&b, "Status: %s\n", session.Status)
	fmt.Fprintf(&b, "Trades: %d (%d won, %d lost)\n", sum.Count, sum.Winners, sum.Losers)
	fmt.Fprintf(&b, "P&L: %s", utils.FormatPnL(sum.TotalPnL))
	for _, w := range session.Warnings {
		fmt.Fprintf(&b, "\n! %s", w)
	}

	return Notification{
		Kind:    KindSession,
		Title:   fmt.Sprintf("%s %s session finished", session.Symbol, session.Date.Format("2006-01-02")),
		Message: b.String(),
		Data: map[string]interface{}{
			"session": session.ID,
			"symbol":  session.Symbol,
			"status":  session.Status,
			"trades":  sum.Count,
			"pnl":     sum.TotalPnL,
		},
		Timestamp: session.FinishedAt,
	}
}

var _ stream.Observer = (*Notifier)(nil)
