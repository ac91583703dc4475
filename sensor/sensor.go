// Package sensor provides synthetic environmental readings for nodes that produce data.
package sensor

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"
)

// Generator produces the current reading for a data name and how long it stays usable
type Generator interface {
	Produce(name string) (value string, ttl time.Duration)
	// Update advances the generator if its interval has passed
	Update(now time.Time)
}

type profile struct {
	base, step, min, max float64
	precision            int
}

var profiles = map[string]profile{
	"temp":  {base: 8, step: 0.6, min: -35, max: 35, precision: 1},
	"per":   {base: 1.5, step: 0.4, min: 0, max: 40, precision: 1},
	"hum":   {base: 75, step: 2, min: 10, max: 100, precision: 0},
	"bar":   {base: 1013, step: 1.5, min: 950, max: 1060, precision: 1},
	"cloud": {base: 60, step: 8, min: 0, max: 100, precision: 0},
	"snow":  {base: 5, step: 1, min: 0, max: 150, precision: 0},
	"water": {base: 4, step: 0.3, min: 0, max: 25, precision: 1},
	"wind":  {base: 5, step: 1.2, min: 0, max: 40, precision: 1},
}

// RandomWalk is a bounded random walk around a baseline
type RandomWalk struct {
	Kind       string
	Interval   time.Duration
	profile    profile
	value      float64
	lastUpdate time.Time
	rng        *rand.Rand
}

func New(kind string, interval time.Duration) (*RandomWalk, error) {
	p, ok := profiles[kind]
	if !ok {
		return nil, fmt.Errorf("unknown sensor kind %s", kind)
	}
	return &RandomWalk{
		Kind:     kind,
		Interval: interval,
		profile:  p,
		value:    p.base,
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}, nil
}

func (w *RandomWalk) Update(now time.Time) {
	if !w.lastUpdate.IsZero() && now.Before(w.lastUpdate.Add(w.Interval)) {
		return
	}
	w.lastUpdate = now
	w.value += (w.rng.Float64()*2 - 1) * w.profile.step
	w.value = min(max(w.value, w.profile.min), w.profile.max)
}

func (w *RandomWalk) Produce(name string) (string, time.Duration) {
	return strconv.FormatFloat(w.value, 'f', w.profile.precision, 64), w.Interval
}

// DataName is the name a node with the given prefix publishes a sensor kind under
func DataName(prefix, kind string) string {
	return prefix + "_" + kind
}
