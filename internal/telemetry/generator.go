package telemetry

import (
	"math"
	"math/rand/v2"
	"time"
)

// Generator produces synthetic readings drawn uniformly from Bounds.
//
// A Generator is owned by a single publisher and is not safe for concurrent
// use.
type Generator struct {
	bounds Bounds
	rng    *rand.Rand
	now    func() time.Time
	last   time.Time
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithSeed makes the generator deterministic.
func WithSeed(seed uint64) GeneratorOption {
	return func(g *Generator) {
		g.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithClock overrides the time source used for reading timestamps.
func WithClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) {
		g.now = now
	}
}

// NewGenerator creates a generator for the given bounds.
func NewGenerator(bounds Bounds, opts ...GeneratorOption) (*Generator, error) {
	if err := bounds.Validate(); err != nil {
		return nil, err
	}

	g := &Generator{
		bounds: bounds,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.rng == nil {
		g.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return g, nil
}

// Next returns a new reading stamped with the current time.
//
// Timestamps have second precision, matching the wire format, and never go
// backwards for a given generator even if the clock does.
func (g *Generator) Next() Reading {
	ts := g.now().Truncate(time.Second)
	if ts.Before(g.last) {
		ts = g.last
	}
	g.last = ts

	return Reading{
		Timestamp:   ts,
		Temperature: g.sample(g.bounds.Temperature),
		Humidity:    g.sample(g.bounds.Humidity),
		CO2:         g.sample(g.bounds.CO2),
	}
}

// sample draws from r and rounds to two decimals, keeping the result inside
// r when the bounds themselves are not on the 0.01 grid.
func (g *Generator) sample(r Range) float64 {
	v := Round2(r.Min + g.rng.Float64()*(r.Max-r.Min))
	if v < r.Min {
		v = math.Ceil(r.Min*100) / 100
	}
	if v > r.Max {
		v = math.Floor(r.Max*100) / 100
	}
	return v
}
