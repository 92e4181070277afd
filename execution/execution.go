// Package execution implements the top-level façade spec.md §4.6
// describes: it owns the fixed-step scheduler, the per-slave wrapper
// table, the connection graph, the observer and manipulator registries,
// and the real-time pacer, and is the only component a host program
// talks to directly. Grounded on tenant/manager.go's role as the
// teacher's own single top-level coordinator: one struct wiring
// several independently-testable subsystems together and exposing a
// small, documented public surface.
package execution

import (
	"log"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/cosimio/cosim-go/algorithm"
	"github.com/cosimio/cosim-go/cosimerr"
	"github.com/cosimio/cosim-go/function"
	"github.com/cosimio/cosim-go/graph"
	"github.com/cosimio/cosim-go/manipulator"
	"github.com/cosimio/cosim-go/model"
	"github.com/cosimio/cosim-go/observer"
	"github.com/cosimio/cosim-go/realtime"
	"github.com/cosimio/cosim-go/simtime"
	"github.com/cosimio/cosim-go/slave"
	"github.com/cosimio/cosim-go/wrapper"
)

// Execution is the top-level façade. A zero Execution is not
// meaningful; use New. An Execution is not safe for concurrent calls
// to its mutating methods (AddSlave, ConnectVariables, ...) from
// multiple goroutines, the same restriction spec.md §5 places on
// mutating the observer/manipulator lists; SimulateUntil's background
// worker steps under the same lock as every other method.
type Execution struct {
	mu sync.Mutex

	sessionID string
	log       *log.Logger

	alg   *algorithm.FixedStep
	graph *graph.Graph

	wrappers  map[wrapper.SimulatorIndex]*wrapper.Wrapper
	nextSlave wrapper.SimulatorIndex

	functions   map[function.Index]function.Function
	nextFuncIdx function.Index

	observers    *observer.Registry
	manipulators *manipulator.Registry

	pacer *realtime.Pacer

	states   *stateTable
	lastStep simtime.Duration

	running       atomic.Bool
	stopRequested atomic.Bool
}

// New builds an Execution from cfg: an empty connection graph, a
// FixedStep scheduler sized per cfg.WorkerThreadCount, and a fresh
// UUID session id used to tag log lines (mirroring
// cmd/snellerd/handler_query.go's uuid.New().String() per-request id
// convention).
func New(cfg Config) *Execution {
	workers := cfg.WorkerThreadCount
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	g := graph.New()
	e := &Execution{
		sessionID: uuid.New().String(),
		log:       logger,
		graph:     g,
		wrappers:  make(map[wrapper.SimulatorIndex]*wrapper.Wrapper),
		functions: make(map[function.Index]function.Function),
		observers: observer.NewRegistry(),
		states:    newStateTable(),
	}
	e.manipulators = manipulator.NewRegistry()
	e.alg = algorithm.NewFixedStep(algorithm.Config{
		BaseStep:                 cfg.BaseStepSize,
		Workers:                  workers,
		InitializationIterations: cfg.InitializationIterationCount,
	}, g)
	if err := e.alg.Setup(cfg.StartTime, cfg.StopTime); err != nil {
		// Setup only fails out of algorithm.Created, which NewFixedStep
		// always returns; a failure here would be a defect in this
		// package, not a caller error.
		panic(err)
	}
	if cfg.RealTime.Enabled {
		target := cfg.RealTime.FactorTarget
		if target == 0 {
			target = 1.0
		}
		e.pacer = realtime.New(target, cfg.RealTime.StepsToMonitor)
		e.pacer.SetEnabled(true)
	}
	return e
}

// SessionID returns the UUID stamped on this Execution at New.
func (e *Execution) SessionID() string { return e.sessionID }

// AddObserver registers o. Permitted only while the execution is not
// running.
func (e *Execution) AddObserver(o observer.Observer) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running.Load() {
		return cosimerr.New(cosimerr.LogicError, "cannot add an observer while simulate_until is running")
	}
	e.observers.Add(o)
	return nil
}

// RemoveObserver unregisters o, if present. Permitted only while the
// execution is not running.
func (e *Execution) RemoveObserver(o observer.Observer) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running.Load() {
		return cosimerr.New(cosimerr.LogicError, "cannot remove an observer while simulate_until is running")
	}
	e.observers.Remove(o)
	return nil
}

// AddManipulator registers m. Permitted only while the execution is
// not running.
func (e *Execution) AddManipulator(m manipulator.Manipulator) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running.Load() {
		return cosimerr.New(cosimerr.LogicError, "cannot add a manipulator while simulate_until is running")
	}
	e.manipulators.Add(m)
	return nil
}

// RemoveManipulator unregisters m, if present. Permitted only while
// the execution is not running.
func (e *Execution) RemoveManipulator(m manipulator.Manipulator) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running.Load() {
		return cosimerr.New(cosimerr.LogicError, "cannot remove a manipulator while simulate_until is running")
	}
	e.manipulators.Remove(m)
	return nil
}

// AddSlave wraps s, assigns it a new, never-reused SimulatorIndex, and
// registers it with the scheduler, observers, and manipulators, in
// that order. stepSizeHint is s's preferred communication interval
// (recorded for diagnostics only; see algorithm.FixedStep.AddSimulator).
func (e *Execution) AddSlave(s slave.Slave, stepSizeHint simtime.Duration) (wrapper.SimulatorIndex, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx := e.nextSlave
	w := wrapper.New(idx, s)
	if err := e.alg.AddSimulator(idx, w, stepSizeHint); err != nil {
		return 0, err
	}
	e.nextSlave++
	e.wrappers[idx] = w
	e.observers.SimulatorAdded(idx, w)
	e.manipulators.SimulatorAdded(idx, w)
	return idx, nil
}

// RemoveSlave unregisters the slave at idx: manipulators and observers
// are notified before the scheduler forgets it and the connection
// graph drops every edge that touched it.
func (e *Execution) RemoveSlave(idx wrapper.SimulatorIndex) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.wrappers[idx]; !ok {
		return cosimerr.New(cosimerr.InvalidSystemStructure, "simulator %d not known", idx)
	}
	e.manipulators.SimulatorRemoved(idx)
	e.observers.SimulatorRemoved(idx)
	if err := e.alg.RemoveSimulator(idx); err != nil {
		return err
	}
	e.graph.RemoveSlave(idx)
	delete(e.wrappers, idx)
	return nil
}

// SetStepsizeDecimationFactor sets how many base steps elapse between
// successive do_step calls on idx. Delegates to the scheduler; see
// algorithm.FixedStep.SetStepsizeDecimationFactor for the precondition.
func (e *Execution) SetStepsizeDecimationFactor(idx wrapper.SimulatorIndex, k int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alg.SetStepsizeDecimationFactor(idx, k)
}

// AddFunction registers f, assigning it a new, never-reused
// function.Index. Unlike a slave, a function has no observer
// notification of its own beyond the optional observer.FunctionObserver
// extension.
func (e *Execution) AddFunction(f function.Function) (function.Index, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx := e.nextFuncIdx
	if err := e.alg.AddFunction(idx, f); err != nil {
		return 0, err
	}
	e.nextFuncIdx++
	e.functions[idx] = f
	e.observers.FunctionAdded(idx)
	return idx, nil
}

// RemoveFunction unregisters the function at idx and drops every
// connection that touched it.
func (e *Execution) RemoveFunction(idx function.Index) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.functions[idx]; !ok {
		return cosimerr.New(cosimerr.InvalidSystemStructure, "function %d not known", idx)
	}
	if err := e.alg.RemoveFunction(idx); err != nil {
		return err
	}
	e.observers.FunctionRemoved(idx)
	e.graph.RemoveFunction(idx)
	delete(e.functions, idx)
	return nil
}

// ConnectVariables adds a directed edge from src to tgt, with an
// optional linear transform (reals only). It delegates admissibility
// checking to the graph, resolving causality and type against this
// Execution's own wrapper and function tables, then exposes src for
// getting and tgt for setting on their owning wrappers so the
// scheduler's per-step transfer (algorithm.FixedStep.transfer, via
// wrapper.Wrapper.GetX/SetX) actually has something to read and write.
// Without this, every transfer over this edge fails with
// cosimerr.InvalidSystemStructure the moment Initialize runs its first
// propagation pass.
func (e *Execution) ConnectVariables(src, tgt graph.Endpoint, transform *graph.LinearTransform) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireNotInitialized(); err != nil {
		return err
	}
	if err := e.graph.Connect(e, src, tgt, transform); err != nil {
		return err
	}
	e.exposeForGetting(src)
	e.exposeForSetting(tgt)
	conn, _ := e.graph.SourceOf(tgt)
	e.observers.VariablesConnected(conn)
	return nil
}

// exposeForGetting and exposeForSetting mark ep as readable/writable on
// its owning wrapper, by resolved variable type. Function endpoints
// need no such bookkeeping: function.Function has no wrapper-style
// exposure set, every IO is always readable/writable (graph.validate
// already encodes that), so these are no-ops for graph.FunctionEndpoint.
func (e *Execution) exposeForGetting(ep graph.Endpoint) {
	if ep.Kind != graph.SlaveEndpoint {
		return
	}
	w, ok := e.wrappers[ep.Simulator]
	if !ok {
		return
	}
	switch ep.Type {
	case model.Real:
		w.ExposeRealForGetting(ep.Ref)
	case model.Integer:
		w.ExposeIntegerForGetting(ep.Ref)
	case model.Boolean:
		w.ExposeBooleanForGetting(ep.Ref)
	case model.String:
		w.ExposeStringForGetting(ep.Ref)
	}
}

func (e *Execution) exposeForSetting(ep graph.Endpoint) {
	if ep.Kind != graph.SlaveEndpoint {
		return
	}
	w, ok := e.wrappers[ep.Simulator]
	if !ok {
		return
	}
	switch ep.Type {
	case model.Real:
		w.ExposeRealForSetting(ep.Ref)
	case model.Integer:
		w.ExposeIntegerForSetting(ep.Ref)
	case model.Boolean:
		w.ExposeBooleanForSetting(ep.Ref)
	case model.String:
		w.ExposeStringForSetting(ep.Ref)
	}
}

// DisconnectVariables removes the edge targeting tgt, if any. Permitted
// only before Initialize, the same restriction ConnectVariables carries.
func (e *Execution) DisconnectVariables(tgt graph.Endpoint) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireNotInitialized(); err != nil {
		return err
	}
	e.graph.Disconnect(tgt)
	e.observers.VariableDisconnected(tgt)
	return nil
}

// requireNotInitialized rejects structural mutations (connect/disconnect
// variables) once the scheduler has left its pre-stepping states, per
// spec.md §4.6: "no add/remove_simulator, add/remove_function, nor
// connect/disconnect_variables is permitted after [Initialize]."
func (e *Execution) requireNotInitialized() error {
	switch e.alg.State() {
	case algorithm.Created, algorithm.SetupDone:
		return nil
	default:
		return cosimerr.New(cosimerr.LogicError, "connect/disconnect_variables is not permitted once the simulation is initialized")
	}
}

// SlaveCausality implements graph.Resolver by looking up ref in the
// Description of the wrapper registered under sim.
func (e *Execution) SlaveCausality(sim wrapper.SimulatorIndex, t model.Type, ref model.ValueRef) (model.Causality, bool) {
	w, ok := e.wrappers[sim]
	if !ok {
		return 0, false
	}
	v, ok := w.Description().Variable(t, ref)
	return v.Causality, ok
}

// FunctionIoType implements graph.Resolver by looking up id's
// (group, group instance, io, io instance) coordinate in the
// Description of the function registered under id.Function. The
// Function field stored on the function's own ResolvedIo entries (set
// at Instantiate time, before the function had an assigned Index) is
// ignored; id.Function is what selects the function here.
func (e *Execution) FunctionIoType(id function.IoID) (model.Type, bool) {
	f, ok := e.functions[id.Function]
	if !ok {
		return 0, false
	}
	for _, io := range f.Description().Io {
		if io.ID.Group == id.Group && io.ID.GroupInstance == id.GroupInstance &&
			io.ID.Io == id.Io && io.ID.IoInstance == id.IoInstance {
			return io.ID.Type, true
		}
	}
	return 0, false
}

// Initialize runs the scheduler's propagation pass and enters the
// stepping state. No slave, function, or connection may be added or
// removed after this succeeds.
func (e *Execution) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.alg.Initialize(); err != nil {
		return err
	}
	if e.pacer != nil {
		e.pacer.Start(e.alg.CurrentTime())
	}
	e.observers.SimulationInitialized()
	return nil
}

// IsRunning reports whether a SimulateUntil call is currently in
// flight.
func (e *Execution) IsRunning() bool {
	return e.running.Load()
}

// CurrentTime returns the scheduler's current logical time.
func (e *Execution) CurrentTime() simtime.Point {
	return e.alg.CurrentTime()
}

// Step advances the simulation by exactly one macro step: it notifies
// every manipulator that a step is commencing (spec.md §5 ordering rule
// 3: this happens-before the transfer the scheduler performs inside
// DoStep), asks the scheduler to step, notifies observers of the
// result, and paces the wall clock if real-time is configured. Step is
// for callers that want single-step control; it is refused while
// SimulateUntil's background worker runs, which steps through the same
// stepLocked path.
func (e *Execution) Step() (simtime.Point, error) {
	if !e.running.CompareAndSwap(false, true) {
		return e.alg.CurrentTime(), cosimerr.New(cosimerr.LogicError, "step is not permitted while simulate_until is running")
	}
	defer e.running.Store(false)

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stepLocked()
}

func (e *Execution) stepLocked() (simtime.Point, error) {
	now := e.alg.CurrentTime()
	e.manipulators.StepCommencing(now)

	delta, stepped, err := e.alg.DoStep()
	if err != nil {
		e.log.Printf("cosim[%s]: macro step at t=%d failed: %v", e.sessionID, now, err)
		return now, err
	}
	e.lastStep = delta
	t := e.alg.CurrentTime()
	e.observers.StepComplete(t, delta, stepped)
	if e.pacer != nil {
		e.pacer.AfterStep(t)
	}
	return t, nil
}

// SimulateUntil starts a background worker that repeatedly calls Step
// until target is reached (within one percent of the last step size),
// StopSimulation is called, or a step fails. It returns a channel that
// receives exactly one value: true if target was reached, false if the
// run was stopped early or failed. Only one SimulateUntil may be in
// flight at a time; calling it again before the first resolves is a
// cosimerr.LogicError.
func (e *Execution) SimulateUntil(target *simtime.Point) (<-chan bool, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, cosimerr.New(cosimerr.LogicError, "simulate_until is already running")
	}
	e.stopRequested.Store(false)

	result := make(chan bool, 1)
	go e.runUntil(target, result)
	return result, nil
}

func (e *Execution) runUntil(target *simtime.Point, result chan<- bool) {
	defer e.running.Store(false)

	for {
		if e.stopRequested.Load() {
			result <- false
			return
		}

		e.mu.Lock()
		t, err := e.stepLocked()
		lastStep := e.lastStep
		e.mu.Unlock()

		if err != nil {
			result <- false
			return
		}
		if target != nil {
			epsilon := simtime.Duration(float64(lastStep) * 0.01)
			if !t.Add(epsilon).Before(*target) {
				result <- true
				return
			}
		}
	}
}

// StopSimulation requests that a running SimulateUntil stop after its
// in-flight macro step completes. It is a no-op if nothing is running.
func (e *Execution) StopSimulation() {
	e.stopRequested.Store(true)
}
