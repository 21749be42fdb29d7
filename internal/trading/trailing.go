package trading

// trailingStop follows the best favorable extreme at a fixed distance.
type trailingStop struct {
	Distance     float64
	IsLong       bool
	HighestPrice float64 // For long positions
	LowestPrice  float64 // For short positions
	TriggerPrice float64
	Active       bool
}

func newTrailingStop(distance float64, isLong bool, entry float64) *trailingStop {
	return &trailingStop{
		Distance:     distance,
		IsLong:       isLong,
		HighestPrice: entry,
		LowestPrice:  entry,
	}
}

// track records the favorable extreme of an observation.
func (ts *trailingStop) track(o Observation) {
	if o.High > ts.HighestPrice {
		ts.HighestPrice = o.High
	}
	if o.Low < ts.LowestPrice {
		ts.LowestPrice = o.Low
	}
}

// check activates the stop, moves it behind the best extreme and reports
// whether the observation retraced through it.
func (ts *trailingStop) check(o Observation) (bool, float64) {
	ts.Active = true
	if ts.IsLong {
		ts.TriggerPrice = ts.HighestPrice - ts.Distance
		if o.Low <= ts.TriggerPrice {
			return true, ts.TriggerPrice
		}
	} else {
		ts.TriggerPrice = ts.LowestPrice + ts.Distance
		if o.High >= ts.TriggerPrice {
			return true, ts.TriggerPrice
		}
	}
	return false, ts.TriggerPrice
}
