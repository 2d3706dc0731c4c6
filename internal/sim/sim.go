// Package sim generates plausible environment readings for running the
// dashboard without a board attached.
package sim

import (
	"math"
	"math/rand"
	"time"

	"github.com/greenroomlabs/envirodash/internal/control"
)

// Generator produces a slowly drifting environment: smooth curves over
// elapsed time plus per-reading jitter. Values stay inside physically
// sensible ranges so the control rules see realistic swings.
type Generator struct {
	rng *rand.Rand
	t0  time.Time
	now func() time.Time
}

// New creates a generator seeded for varied runs.
func New() *Generator {
	return NewWithSeed(time.Now().UnixNano())
}

// NewWithSeed creates a generator with a fixed seed for reproducible
// sequences.
func NewWithSeed(seed int64) *Generator {
	return &Generator{
		rng: rand.New(rand.NewSource(seed)),
		t0:  time.Now(),
		now: time.Now,
	}
}

// Next returns the next simulated sample.
func (g *Generator) Next() control.Sample {
	el := g.now().Sub(g.t0).Seconds()

	temp := 25 + math.Sin(el/60)*3 + (g.rng.Float64()*2 - 1)
	hum := 60 + math.Cos(el/80)*10 + (g.rng.Float64()*4 - 2)
	co2 := 450 + math.Sin(el/120)*200 + (g.rng.Float64()*40 - 20)
	light := 400 + math.Sin(el/150)*200 + (g.rng.Float64()*60 - 30)
	smoke := g.rng.Float64() * 10

	return control.Sample{
		Temperature: round1(temp),
		Humidity:    round1(clamp(hum, 0, 100)),
		CO2:         round1(math.Max(co2, 300)),
		Light:       round1(math.Max(light, 50)),
		Smoke:       round1(smoke),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
