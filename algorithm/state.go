package algorithm

// State is the lifecycle state of a FixedStep scheduler. It only ever
// moves forward, except for the stepping-to-stepping self-loop every
// completed DoStep represents.
type State int

const (
	// Created is the state immediately after NewFixedStep: simulators
	// and functions may be added and decimation factors set, but no
	// step may be taken yet.
	Created State = iota
	// SetupDone follows a call to Setup: start/stop times are fixed,
	// but Initialize has not yet run.
	SetupDone
	// Initialized follows a call to Initialize: every slave has
	// completed its iteration phase and StartSimulation, and DoStep may
	// now be called. No further AddSimulator, RemoveSimulator,
	// AddFunction, or RemoveFunction calls are permitted past this
	// point.
	Initialized
	// Stepping is entered on the first call to DoStep and remains the
	// state for every subsequent call.
	Stepping
	// Terminated is entered when a DoStep call fails: a transfer error,
	// a slave step failure, or a function evaluation error. No further
	// DoStep calls are accepted.
	Terminated
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case SetupDone:
		return "setup"
	case Initialized:
		return "initialized"
	case Stepping:
		return "stepping"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}
