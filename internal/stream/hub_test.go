package stream

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"breakout-scanner/internal/models"
)

type recorder struct {
	NopObserver
	trades   []models.SimulatedTrade
	advances [][2]int
}

func (r *recorder) TradeResolved(_ Scope, t models.SimulatedTrade) {
	r.trades = append(r.trades, t)
}

func (r *recorder) TimeframeAdvanced(_ Scope, from, to int) {
	r.advances = append(r.advances, [2]int{from, to})
}

func TestHubDispatchesToObserversInOrder(t *testing.T) {
	hub := NewHub()
	rec := &recorder{}
	hub.Register(rec)

	scope := Scope{SessionID: "s1", Symbol: "INFY", Timeframe: 5}
	hub.TradeResolved(scope, models.SimulatedTrade{ID: "t1", ProfitLoss: 10})
	hub.TimeframeAdvanced(scope, 5, 10)
	hub.TimeframeAdvanced(scope, 10, 20)

	if len(rec.trades) != 1 || rec.trades[0].ID != "t1" {
		t.Fatalf("trades = %+v", rec.trades)
	}
	if len(rec.advances) != 2 || rec.advances[0] != [2]int{5, 10} || rec.advances[1] != [2]int{10, 20} {
		t.Fatalf("advances = %v", rec.advances)
	}

	hub.Unregister(rec)
	hub.TimeframeAdvanced(scope, 20, 40)
	if len(rec.advances) != 2 {
		t.Error("unregistered observer still notified")
	}
}

func TestHubFiltersByType(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe("trades", EventTradeResolved)

	hub.CandleUpdated(Scope{}, models.Candle{Close: 1})
	hub.TradeResolved(Scope{}, models.SimulatedTrade{ID: "t1"})

	select {
	case ev := <-ch:
		if ev.Type != EventTradeResolved || ev.Trade.ID != "t1" {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatal("no event delivered")
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected extra event %+v", ev)
	default:
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewHubWithConfig(HubConfig{SubscriberBufferSize: 2})
	hub.Subscribe("slow")

	for i := 0; i < 5; i++ {
		hub.CandleUpdated(Scope{}, models.Candle{Close: float64(i)})
	}

	m := hub.GetMetrics()
	if m.Published != 5 || m.Delivered != 2 || m.Dropped != 3 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestHubStopClosesChannels(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe("a")
	hub.Stop()

	if _, ok := <-ch; ok {
		t.Error("channel should be closed")
	}
	hub.CandleUpdated(Scope{}, models.Candle{})
	if hub.GetMetrics().Published != 0 {
		t.Error("publish after stop should be ignored")
	}
}

// Property: every subscriber with room in its buffer receives every event in order.
func TestProperty_SubscribersReceiveAllEventsInOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("fast subscribers see every event in publish order", prop.ForAll(
		func(subscriberCount int, eventCount int) bool {
			hub := NewHubWithConfig(HubConfig{SubscriberBufferSize: 64})
			channels := make([]<-chan Event, subscriberCount)
			for i := range channels {
				channels[i] = hub.Subscribe(string(rune('a' + i)))
			}

			for i := 0; i < eventCount; i++ {
				hub.TimeframeAdvanced(Scope{Symbol: "INFY"}, i, i+1)
			}

			for _, ch := range channels {
				for i := 0; i < eventCount; i++ {
					ev := <-ch
					if ev.From != i || ev.To != i+1 {
						return false
					}
				}
			}
			return hub.GetMetrics().Dropped == 0
		},
		gen.IntRange(1, 5),
		gen.IntRange(1, 40),
	))

	properties.TestingRun(t)
}
