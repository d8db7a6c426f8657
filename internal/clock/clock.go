// Package clock implements the drift-tracking logical clocks used to keep
// audio, video and an external time source consistent during playback.
//
// Times are float64 seconds. NaN means the clock is undefined: it was never
// set, or the data that last set it predates a flush of its queue.
package clock

import (
	"encoding/json"
	"math"
	"sync"
	"time"
)

var epoch = time.Now()

func monotonicSeconds() float64 {
	return time.Since(epoch).Seconds()
}

// Clock is a logical time source with pause and speed control. All methods
// are safe for concurrent use.
type Clock struct {
	mu          sync.Mutex
	now         func() float64
	queueSerial func() int

	pts         float64
	drift       float64
	lastUpdated float64
	speed       float64
	paused      bool
	serial      int
}

// Option configures a Clock.
type Option func(*Clock)

// WithNow replaces the wall time source, in seconds.
func WithNow(now func() float64) Option {
	return func(c *Clock) {
		c.now = now
	}
}

// WithQueueSerial links the clock to the generation of the queue feeding
// it. While the serial last passed to SetAt differs from the queue's, Time
// reports NaN.
func WithQueueSerial(serial func() int) Option {
	return func(c *Clock) {
		c.queueSerial = serial
	}
}

// New creates a clock at speed 1 whose time is undefined until set.
func New(opts ...Option) *Clock {
	c := &Clock{
		now:   monotonicSeconds,
		speed: 1,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.setLocked(math.NaN(), -1, c.now())
	return c
}

// Time returns the current logical time. A paused clock returns the time it
// held when paused.
func (c *Clock) Time() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queueSerial != nil && c.queueSerial() != c.serial {
		return math.NaN()
	}
	return c.timeLocked(c.now())
}

func (c *Clock) timeLocked(now float64) float64 {
	if c.paused {
		return c.pts
	}
	return c.drift + now - (now-c.lastUpdated)*(1-c.speed)
}

// Set anchors the clock at t, keeping its serial.
func (c *Clock) Set(t float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(t, c.serial, c.now())
}

// SetAt anchors the clock at t, tagged with the serial of the data that
// produced t.
func (c *Clock) SetAt(t float64, serial int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(t, serial, c.now())
}

func (c *Clock) setLocked(t float64, serial int, now float64) {
	c.pts = t
	c.lastUpdated = now
	c.drift = t - now
	c.serial = serial
}

// SetPaused freezes or resumes the clock. The logical time is continuous
// across the change.
func (c *Clock) SetPaused(paused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused == paused {
		return
	}
	now := c.now()
	c.setLocked(c.timeLocked(now), c.serial, now)
	c.paused = paused
}

// Paused reports whether the clock is paused.
func (c *Clock) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// SetSpeed re-anchors the clock at its current time and then changes the
// rate at which it advances. Negative speeds run the clock backward.
func (c *Clock) SetSpeed(speed float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.setLocked(c.timeLocked(now), c.serial, now)
	c.speed = speed
}

// Speed returns the clock rate.
func (c *Clock) Speed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// Serial returns the serial of the data that last set the clock.
func (c *Clock) Serial() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serial
}

// LastUpdated returns the wall time, in seconds, of the last anchor.
func (c *Clock) LastUpdated() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUpdated
}

// State is a point-in-time snapshot of a clock.
type State struct {
	Time   float64 `json:"time"`
	Speed  float64 `json:"speed"`
	Paused bool    `json:"paused"`
	Serial int     `json:"serial"`
}

// MarshalJSON encodes an undefined time as null.
func (s State) MarshalJSON() ([]byte, error) {
	type state State
	out := struct {
		Time *float64 `json:"time"`
		state
	}{state: state(s)}
	if !math.IsNaN(s.Time) {
		out.Time = &s.Time
	}
	return json.Marshal(out)
}

// Snapshot returns the clock's current state.
func (c *Clock) Snapshot() State {
	t := c.Time()
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{Time: t, Speed: c.speed, Paused: c.paused, Serial: c.serial}
}

type anchor struct {
	pts, drift, lastUpdated, speed float64
	paused                         bool
	serial                         int
	time                           float64
}

func (c *Clock) anchor() anchor {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := anchor{
		pts:         c.pts,
		drift:       c.drift,
		lastUpdated: c.lastUpdated,
		speed:       c.speed,
		paused:      c.paused,
		serial:      c.serial,
		time:        c.timeLocked(c.now()),
	}
	if c.queueSerial != nil && c.queueSerial() != c.serial {
		a.time = math.NaN()
	}
	return a
}

func (c *Clock) restore(a anchor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pts = a.pts
	c.drift = a.drift
	c.lastUpdated = a.lastUpdated
	c.speed = a.speed
	c.paused = a.paused
	c.serial = a.serial
}

// SyncSlaveToMaster copies the slave's state into master when master is
// undefined or has diverged from slave by more than threshold seconds. The
// slave is never modified, and an undefined slave changes nothing. The two
// clocks are never locked at the same time.
func SyncSlaveToMaster(master, slave *Clock, threshold float64) bool {
	s := slave.anchor()
	if math.IsNaN(s.time) {
		return false
	}
	m := master.Time()
	if !math.IsNaN(m) && math.Abs(m-s.time) <= threshold {
		return false
	}
	master.restore(s)
	return true
}
