package execution

import (
	"log"

	"github.com/cosimio/cosim-go/simtime"
)

// RealTimeConfig collects the real-time pacer knobs a caller may set
// before Initialize. FactorTarget and StepsToMonitor are only
// meaningful when Enabled is true. A zero FactorTarget is replaced with
// 1.0; a zero StepsToMonitor becomes 1, the floor realtime.New applies.
type RealTimeConfig struct {
	// Enabled turns the wall-clock pacer on: when true, Step sleeps as
	// needed to track FactorTarget times real time.
	Enabled bool
	// FactorTarget is the simulated-seconds-per-wall-second the pacer
	// tries to track. A target of 1.0 means real time; 0 is treated
	// as 1.0.
	FactorTarget float64
	// StepsToMonitor is the number of macro steps averaged into one
	// published rolling real-time factor sample.
	StepsToMonitor uint32
}

// Config collects every knob an Execution needs before Initialize.
// Fields are documented individually rather than decoded from a file
// or environment, per spec.md §6: the core has no CLI or
// environment-variable surface.
type Config struct {
	// StartTime is the simulation's initial logical time.
	StartTime simtime.Point
	// StopTime, if non-nil, is recorded by the scheduler as the
	// simulation's stop time. Step and SimulateUntil do not check it;
	// a SimulateUntil run ends at its own target time. A nil StopTime
	// means an open-ended simulation.
	StopTime *simtime.Point
	// BaseStepSize is the fixed macro-step duration every simulator
	// advances by (scaled by its own decimation factor).
	BaseStepSize simtime.Duration
	// WorkerThreadCount bounds how many do_step calls run concurrently
	// within one macro step. Zero means the host's logical CPU count.
	WorkerThreadCount int
	// InitializationIterationCount is the number of propagation passes
	// Initialize runs before calling start_simulation on every slave.
	// Zero means one pass, the floor spec.md requires.
	InitializationIterationCount int
	// RealTime configures the optional wall-clock pacer.
	RealTime RealTimeConfig
	// Logger receives operational log lines (slave step failures,
	// restore failures, ...). Nil means log.Default().
	Logger *log.Logger
}
