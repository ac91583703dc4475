package core

import (
	"maps"
	"slices"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/encodeous/weft/sensor"
	"github.com/encodeous/weft/state"
)

type localValue struct {
	value string
	ttl   time.Duration
}

// LocalStore holds the data this node produces itself
type LocalStore struct {
	sensors map[string]sensor.Generator
	data    map[string]localValue
	clock   clock.Clock
}

func (l *LocalStore) Init(s *state.State) error {
	s.Log.Debug("init local store")
	l.sensors = make(map[string]sensor.Generator)
	l.data = make(map[string]localValue)
	l.clock = s.Clock

	if s.DataPrefix == "" {
		return nil
	}
	kinds := s.Sensors
	if len(kinds) == 0 {
		kinds = state.SensorKinds
	}
	for _, kind := range kinds {
		gen, err := sensor.New(kind, state.SensorInterval)
		if err != nil {
			return err
		}
		l.sensors[sensor.DataName(s.DataPrefix, kind)] = gen
	}
	l.refresh(s)
	s.Log.Info("producing data", "names", slices.Sorted(maps.Keys(l.sensors)))

	s.Env.RepeatTask(func(s *state.State) error {
		l.refresh(s)
		return nil
	}, state.DataRefreshDelay)
	return nil
}

func (l *LocalStore) Cleanup(s *state.State) error {
	return nil
}

func (l *LocalStore) refresh(s *state.State) {
	now := l.clock.Now()
	for name, gen := range l.sensors {
		gen.Update(now)
		value, ttl := gen.Produce(name)
		l.data[name] = localValue{value, ttl}
	}
}

func (l *LocalStore) HasLocalData(name string) bool {
	_, ok := l.data[name]
	return ok
}

// GetLocalData returns the current value of name and the absolute time it stays usable until
func (l *LocalStore) GetLocalData(name string) (string, time.Time, bool) {
	v, ok := l.data[name]
	if !ok {
		return "", time.Time{}, false
	}
	return v.value, l.clock.Now().Add(v.ttl), true
}

// Put publishes a value under name, replacing any generated one
func (l *LocalStore) Put(name string, value string, ttl time.Duration) {
	delete(l.sensors, name)
	l.data[name] = localValue{value, ttl}
}

// Names lists the data this node produces, sorted
func (l *LocalStore) Names() []string {
	return slices.Sorted(maps.Keys(l.data))
}
