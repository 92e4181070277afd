// Package realtime implements the wall-clock throttle described in
// spec.md §4.8: an optional pacer that slows macro-step dispatch down
// to track a target multiple of simulated time against wall-clock
// time. Its configuration and published metrics are plain atomic
// scalars with one writer per field, grounded on the atomic-counter
// idiom tenant/dcache.Stats uses for concurrent-read metrics.
package realtime

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/cosimio/cosim-go/simtime"
)

// minSleepThreshold is the smallest lag the pacer will bother sleeping
// for; spec.md §4.8 cites 100 µs as the example threshold below which
// sleeping would cost more in scheduling jitter than it saves.
const minSleepThreshold = 100 * time.Microsecond

// Pacer throttles macro-step dispatch to approximate
// factor_target × wall-clock-time of simulated progress, when enabled.
// The zero Pacer reports itself disabled but has no clock: Start and
// AfterStep require a Pacer built with New.
type Pacer struct {
	enabled        atomic.Bool
	factorTarget   atomic.Uint64 // math.Float64bits
	stepsToMonitor atomic.Uint32

	rollingFactor atomic.Uint64 // math.Float64bits
	totalFactor   atomic.Uint64 // math.Float64bits

	// reference point for the current monitoring window, and for the
	// lifetime-average factor. Owned by the single driver goroutine
	// that calls Start/AfterStep; never written concurrently.
	wallT0  time.Time
	simT0   simtime.Point
	windowT time.Time
	windowS simtime.Point
	steps   uint32

	now func() time.Time
}

// New creates a Pacer with the given initial factor target (must be >
// 0) and monitoring window size (steps_to_monitor, at least 1).
// Real-time pacing starts disabled; call SetEnabled(true) to turn it
// on.
func New(factorTarget float64, stepsToMonitor uint32) *Pacer {
	if stepsToMonitor == 0 {
		stepsToMonitor = 1
	}
	p := &Pacer{now: time.Now}
	p.factorTarget.Store(math.Float64bits(factorTarget))
	p.stepsToMonitor.Store(stepsToMonitor)
	p.totalFactor.Store(math.Float64bits(factorTarget))
	p.rollingFactor.Store(math.Float64bits(factorTarget))
	return p
}

// SetEnabled turns real-time pacing on or off. Toggling it does not by
// itself reset the reference points; call Start to do that.
func (p *Pacer) SetEnabled(enabled bool) { p.enabled.Store(enabled) }

// Enabled reports whether real-time pacing is currently on.
func (p *Pacer) Enabled() bool { return p.enabled.Load() }

// SetFactorTarget changes the target real-time factor. Per spec.md
// §4.8, changing the target restarts the reference points, so the
// caller must also call Start again with the current simulation time.
func (p *Pacer) SetFactorTarget(target float64) {
	p.factorTarget.Store(math.Float64bits(target))
}

// FactorTarget returns the current target real-time factor.
func (p *Pacer) FactorTarget() float64 {
	return math.Float64frombits(p.factorTarget.Load())
}

// SetStepsToMonitor changes the number of macro steps between rolling
// average factor recomputations.
func (p *Pacer) SetStepsToMonitor(n uint32) {
	if n == 0 {
		n = 1
	}
	p.stepsToMonitor.Store(n)
}

// RollingAverageRealTimeFactor returns the real-time factor measured
// over the most recently completed monitoring window.
func (p *Pacer) RollingAverageRealTimeFactor() float64 {
	return math.Float64frombits(p.rollingFactor.Load())
}

// TotalAverageRealTimeFactor returns the real-time factor measured
// since the last Start call.
func (p *Pacer) TotalAverageRealTimeFactor() float64 {
	return math.Float64frombits(p.totalFactor.Load())
}

// Start captures the wall-clock and simulation-time reference points a
// subsequent AfterStep call measures elapsed progress against. Call it
// once before stepping begins, and again any time the factor target
// changes or stepping resumes after being paused.
func (p *Pacer) Start(currentT simtime.Point) {
	now := p.now()
	p.wallT0 = now
	p.simT0 = currentT
	p.windowT = now
	p.windowS = currentT
	p.steps = 0
}

// AfterStep is called once per completed macro step, with the
// simulation time s now at. If real-time pacing is enabled, it sleeps
// long enough to keep wall-clock elapsed time from outrunning
// (s - s0) / target, and every steps_to_monitor calls it recomputes
// and publishes the rolling and total average factors.
func (p *Pacer) AfterStep(s simtime.Point) {
	now := p.now()
	target := p.FactorTarget()

	if p.enabled.Load() && target > 0 {
		expected := time.Duration(float64(s.Sub(p.simT0)) / target)
		elapsed := now.Sub(p.wallT0)
		if lag := expected - elapsed; lag > minSleepThreshold {
			time.Sleep(lag)
			now = p.now()
		}
	}

	p.steps++
	if p.steps >= p.stepsToMonitor.Load() {
		p.publish(now, s)
		p.windowT = now
		p.windowS = s
		p.steps = 0
	}
}

func (p *Pacer) publish(now time.Time, s simtime.Point) {
	if windowElapsed := now.Sub(p.windowT); windowElapsed > 0 {
		rolling := s.Sub(p.windowS).Seconds() / windowElapsed.Seconds()
		p.rollingFactor.Store(math.Float64bits(rolling))
	}
	if totalElapsed := now.Sub(p.wallT0); totalElapsed > 0 {
		total := s.Sub(p.simT0).Seconds() / totalElapsed.Seconds()
		p.totalFactor.Store(math.Float64bits(total))
	}
}
