package exit

import "time"

// Options 是引擎级调参，所有持仓共享。
type Options struct {
	TickInterval       time.Duration
	MinScalpHold       time.Duration
	SuperScalpRatio    float64
	BreakevenProgress  float64
	TrailingProgress   float64
	TrailingDistance   float64
	ExtendedHoldFactor float64
	ProbeTimeout       time.Duration
}

func DefaultOptions() Options {
	return Options{
		TickInterval:       50 * time.Millisecond,
		MinScalpHold:       200 * time.Millisecond,
		SuperScalpRatio:    0.75,
		BreakevenProgress:  0.5,
		TrailingProgress:   0.75,
		TrailingDistance:   0.25,
		ExtendedHoldFactor: 2,
		ProbeTimeout:       2 * time.Second,
	}
}

func (o Options) normalized() Options {
	def := DefaultOptions()
	if o.TickInterval <= 0 {
		o.TickInterval = def.TickInterval
	}
	if o.MinScalpHold < 0 {
		o.MinScalpHold = 0
	}
	if o.SuperScalpRatio <= 0 {
		o.SuperScalpRatio = def.SuperScalpRatio
	}
	if o.BreakevenProgress <= 0 {
		o.BreakevenProgress = def.BreakevenProgress
	}
	if o.TrailingProgress <= 0 {
		o.TrailingProgress = def.TrailingProgress
	}
	if o.TrailingDistance <= 0 {
		o.TrailingDistance = def.TrailingDistance
	}
	if o.ExtendedHoldFactor < 1 {
		o.ExtendedHoldFactor = def.ExtendedHoldFactor
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = def.ProbeTimeout
	}
	return o
}
