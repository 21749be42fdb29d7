package scanner

import "breakout-scanner/internal/models"

// Table is the idempotency table of one session. It is only touched by the
// session worker, so it carries no lock.
type Table struct {
	breakouts map[models.BreakoutKey]models.ProcessingKey
	trades    map[tradeKey]bool
}

type tradeKey struct {
	key   models.ProcessingKey
	entry float64
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		breakouts: make(map[models.BreakoutKey]models.ProcessingKey),
		trades:    make(map[tradeKey]bool),
	}
}

// Claim records a breakout. A pattern breaks out at most once per timeframe,
// so a second claim for the same direction, timeframe and level fails
// whatever its trigger position.
func (t *Table) Claim(key models.ProcessingKey) bool {
	bk := breakoutKey(key)
	if _, ok := t.breakouts[bk]; ok {
		return false
	}
	t.breakouts[bk] = key
	return true
}

// Processed reports whether the exact key was claimed.
func (t *Table) Processed(key models.ProcessingKey) bool {
	claimed, ok := t.breakouts[breakoutKey(key)]
	return ok && claimed == key
}

// ClaimTrade records that a trade was opened for the breakout at entry.
func (t *Table) ClaimTrade(key models.ProcessingKey, entry float64) bool {
	tk := tradeKey{key: key, entry: entry}
	if t.trades[tk] {
		return false
	}
	t.trades[tk] = true
	return true
}

// Len returns the number of claimed breakouts.
func (t *Table) Len() int {
	return len(t.breakouts)
}

func breakoutKey(key models.ProcessingKey) models.BreakoutKey {
	return models.BreakoutKey{
		Direction: key.Direction,
		Timeframe: key.Timeframe,
		Level:     key.Level,
	}
}
