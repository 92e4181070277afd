// Package algorithm implements the fixed-step, parallel stepping
// scheduler: the component that owns simulation time and drives every
// registered slave and function through one macro step at a time.
//
// FixedStep mirrors the shape of the teacher's parallel tree executor
// (plan.exec's subexec/mkexec: dispatch independent work, wait for all
// of it, then fold results) crossed with its bounded worker pool
// (sorting.ThreadPool): one errgroup-backed pool bounds how many
// DoStep calls run concurrently within a macro step, and every macro
// step is a complete barrier before the next one may start.
package algorithm

import (
	"fmt"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/cosimio/cosim-go/blob"
	"github.com/cosimio/cosim-go/cosimerr"
	"github.com/cosimio/cosim-go/function"
	"github.com/cosimio/cosim-go/graph"
	"github.com/cosimio/cosim-go/simtime"
	"github.com/cosimio/cosim-go/slave"
	"github.com/cosimio/cosim-go/wrapper"
)

// FixedStep is a fixed-base-step, parallel stepping scheduler. A
// FixedStep is not safe for concurrent use by multiple goroutines; the
// owning execution serializes access to it.
type FixedStep struct {
	mu sync.Mutex

	state    State
	baseStep simtime.Duration

	startTime simtime.Point
	stopTime  *simtime.Point
	currentT  simtime.Point

	stepNumber int64

	graph *graph.Graph

	wrappers  map[wrapper.SimulatorIndex]*wrapper.Wrapper
	order     []wrapper.SimulatorIndex
	decim     map[wrapper.SimulatorIndex]int64
	stepHints map[wrapper.SimulatorIndex]simtime.Duration

	functions map[function.Index]function.Function
	funcOrder []function.Index

	initIterations int
	pool           *pool
}

// Config collects the knobs a caller may set before the scheduler
// starts stepping. Workers defaults to 1 (serial) and
// InitializationIterations defaults to 1 if left at zero.
type Config struct {
	BaseStep                 simtime.Duration
	Workers                  int
	InitializationIterations int
}

// NewFixedStep creates a scheduler for the given connection graph. g is
// shared with the owning execution, which is responsible for keeping
// it consistent with the set of slaves and functions added here.
func NewFixedStep(cfg Config, g *graph.Graph) *FixedStep {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	iterations := cfg.InitializationIterations
	if iterations < 1 {
		iterations = 1
	}
	return &FixedStep{
		state:          Created,
		baseStep:       cfg.BaseStep,
		graph:          g,
		wrappers:       make(map[wrapper.SimulatorIndex]*wrapper.Wrapper),
		decim:          make(map[wrapper.SimulatorIndex]int64),
		stepHints:      make(map[wrapper.SimulatorIndex]simtime.Duration),
		functions:      make(map[function.Index]function.Function),
		initIterations: iterations,
		pool:           newPool(workers),
	}
}

// State returns the scheduler's current lifecycle state.
func (a *FixedStep) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// CurrentTime returns the time of the most recently completed macro
// step (or the start time, before the first step).
func (a *FixedStep) CurrentTime() simtime.Point {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentT
}

func (a *FixedStep) requireState(allowed ...State) error {
	for _, s := range allowed {
		if a.state == s {
			return nil
		}
	}
	return cosimerr.New(cosimerr.LogicError, "operation not permitted in state %v", a.state)
}

// AddSimulator registers w under idx with a decimation factor of 1.
// stepSizeHint is the simulator's preferred communication interval; the
// scheduler records it for diagnostics but does not derive a
// decimation factor from it (spec.md §9 leaves that mapping an open
// question, resolved here in favor of the explicit default — see
// DESIGN.md). Permitted only before Initialize.
func (a *FixedStep) AddSimulator(idx wrapper.SimulatorIndex, w *wrapper.Wrapper, stepSizeHint simtime.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireState(Created, SetupDone); err != nil {
		return err
	}
	if _, exists := a.wrappers[idx]; exists {
		return cosimerr.New(cosimerr.InvalidSystemStructure, "simulator %d already added", idx)
	}
	a.wrappers[idx] = w
	a.decim[idx] = 1
	a.stepHints[idx] = stepSizeHint
	a.order = append(a.order, idx)
	slices.Sort(a.order)
	return nil
}

// StepSizeHint returns the communication-interval hint recorded for idx
// at AddSimulator time.
func (a *FixedStep) StepSizeHint(idx wrapper.SimulatorIndex) (simtime.Duration, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.stepHints[idx]
	return h, ok
}

// RemoveSimulator unregisters idx. Permitted only before Initialize.
func (a *FixedStep) RemoveSimulator(idx wrapper.SimulatorIndex) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireState(Created, SetupDone); err != nil {
		return err
	}
	if _, exists := a.wrappers[idx]; !exists {
		return cosimerr.New(cosimerr.InvalidSystemStructure, "simulator %d not known", idx)
	}
	delete(a.wrappers, idx)
	delete(a.decim, idx)
	delete(a.stepHints, idx)
	for i, o := range a.order {
		if o == idx {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
	return nil
}

// SetStepsizeDecimationFactor sets the number of base steps between
// successive DoStep calls on simulator idx. k must be at least 1.
// Permitted only before Initialize.
func (a *FixedStep) SetStepsizeDecimationFactor(idx wrapper.SimulatorIndex, k int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireState(Created, SetupDone); err != nil {
		return err
	}
	if _, exists := a.wrappers[idx]; !exists {
		return cosimerr.New(cosimerr.InvalidSystemStructure, "simulator %d not known", idx)
	}
	if k < 1 {
		return cosimerr.New(cosimerr.InvalidSystemStructure, "decimation factor must be >= 1, got %d", k)
	}
	a.decim[idx] = k
	return nil
}

// AddFunction registers f under idx. Permitted only before Initialize.
func (a *FixedStep) AddFunction(idx function.Index, f function.Function) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireState(Created, SetupDone); err != nil {
		return err
	}
	if _, exists := a.functions[idx]; exists {
		return cosimerr.New(cosimerr.InvalidSystemStructure, "function %d already added", idx)
	}
	a.functions[idx] = f
	a.funcOrder = append(a.funcOrder, idx)
	slices.Sort(a.funcOrder)
	return nil
}

// RemoveFunction unregisters idx. Permitted only before Initialize.
func (a *FixedStep) RemoveFunction(idx function.Index) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireState(Created, SetupDone); err != nil {
		return err
	}
	if _, exists := a.functions[idx]; !exists {
		return cosimerr.New(cosimerr.InvalidSystemStructure, "function %d not known", idx)
	}
	delete(a.functions, idx)
	for i, o := range a.funcOrder {
		if o == idx {
			a.funcOrder = append(a.funcOrder[:i], a.funcOrder[i+1:]...)
			break
		}
	}
	return nil
}

// Setup fixes the simulation's start time and, optionally, a stop
// time. stop may be nil for an open-ended simulation.
func (a *FixedStep) Setup(start simtime.Point, stop *simtime.Point) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireState(Created); err != nil {
		return err
	}
	a.startTime = start
	a.currentT = start
	a.stopTime = stop
	a.state = SetupDone
	return nil
}

// Initialize runs the propagation pass (push cached inputs, iterate,
// pull outputs, propagate along the graph, repeat for
// Config.InitializationIterations rounds) on every registered slave,
// then calls StartSimulation on each. Past this point no simulator or
// function may be added or removed.
func (a *FixedStep) Initialize() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireState(SetupDone); err != nil {
		return err
	}

	for i := 0; i < a.initIterations; i++ {
		for _, idx := range a.order {
			if err := a.wrappers[idx].DoIteration(); err != nil {
				return err
			}
		}
		if err := a.propagateAll(); err != nil {
			return err
		}
		if err := a.evaluateFunctions(a.funcOrder); err != nil {
			return err
		}
		if err := a.propagateAll(); err != nil {
			return err
		}
	}

	for _, idx := range a.order {
		if err := a.wrappers[idx].StartSimulation(); err != nil {
			return err
		}
	}

	a.state = Initialized
	return nil
}

// propagateAll pushes every connection's current source value onto its
// target, regardless of due-ness. Used only during Initialize, where
// there is no notion of a due slave yet.
func (a *FixedStep) propagateAll() error {
	var errs []error
	for _, conn := range a.graph.Connections() {
		if err := a.transfer(conn); err != nil {
			errs = append(errs, err)
		}
	}
	return cosimerr.Join(cosimerr.BadValue, "initialize: propagating connections", errs...)
}

// DoStep advances every simulator that is due at the scheduler's
// current time by one base step (or, for a decimated simulator, by its
// configured multiple of the base step), evaluates every function
// whose inputs were freshly produced, and advances the scheduler's
// clock. It returns the duration actually elapsed and the set of
// simulator indices that stepped, in ascending order.
func (a *FixedStep) DoStep() (simtime.Duration, []wrapper.SimulatorIndex, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireState(Initialized, Stepping); err != nil {
		return 0, nil, err
	}

	due := a.dueSimulators()

	if err := a.transferInto(due); err != nil {
		a.state = Terminated
		return 0, nil, err
	}

	if err := a.stepDue(due); err != nil {
		a.state = Terminated
		return 0, nil, err
	}

	if err := a.evaluateFunctions(a.readyFunctions(due)); err != nil {
		a.state = Terminated
		return 0, nil, err
	}

	a.currentT = a.currentT.Add(a.baseStep)
	a.stepNumber++
	a.state = Stepping
	return a.baseStep, due, nil
}

// dueSimulators returns, in ascending index order, every registered
// simulator whose decimation factor divides the current (pre-step)
// step number.
func (a *FixedStep) dueSimulators() []wrapper.SimulatorIndex {
	due := make([]wrapper.SimulatorIndex, 0, len(a.order))
	for _, idx := range a.order {
		if a.stepNumber%a.decim[idx] == 0 {
			due = append(due, idx)
		}
	}
	return due
}

// transferInto moves the current value of every connection whose
// target is a slave variable owned by a simulator in due onto that
// target's input buffer, regardless of the connection's source kind.
func (a *FixedStep) transferInto(due []wrapper.SimulatorIndex) error {
	dueSet := indexSet(due)
	var errs []error
	for _, conn := range a.graph.Connections() {
		if conn.Target.Kind != graph.SlaveEndpoint {
			continue
		}
		if _, ok := dueSet[conn.Target.Simulator]; !ok {
			continue
		}
		if err := a.transfer(conn); err != nil {
			errs = append(errs, err)
		}
	}
	return cosimerr.Join(cosimerr.BadValue, "transferring into due simulators", errs...)
}

// stepDue dispatches DoStep to every simulator in due on the scheduler's
// worker pool, respecting each simulator's own decimation-scaled step
// size, and waits for all of them to finish. Any individual failure —
// either DoStep returning an error or a StepResult other than Complete
// — fails the whole macro step, per the ModelError recovery policy: the
// macro step fails and the execution transitions to an error state. The
// worker pool does not cancel the remaining in-flight calls; their
// results are simply not used once the step has been judged a failure.
func (a *FixedStep) stepDue(due []wrapper.SimulatorIndex) error {
	currentT := a.currentT
	errs := make([]error, len(due))
	for i, idx := range due {
		i, idx := i, idx
		delta := a.baseStep * simtime.Duration(a.decim[idx])
		w := a.wrappers[idx]
		a.pool.Go(func() error {
			result, err := w.DoStep(currentT, delta)
			if err != nil {
				errs[i] = err
				return err
			}
			if result != slave.Complete {
				errs[i] = cosimerr.New(cosimerr.ModelError, "slave %d: step did not complete", idx)
			}
			return nil
		})
	}
	a.pool.Wait()
	return cosimerr.Join(cosimerr.ModelError, fmt.Sprintf("macro step at t=%d failed", currentT), errs...)
}

// readyFunctions returns the functions, in declaration order, that
// should re-evaluate this macro step: any function with at least one
// connected input sourced from a due simulator, plus any function with
// no connected inputs at all (which has nothing to gate its
// evaluation on, and so runs every step).
func (a *FixedStep) readyFunctions(due []wrapper.SimulatorIndex) []function.Index {
	dueSet := indexSet(due)
	ready := make([]function.Index, 0, len(a.funcOrder))
	for _, idx := range a.funcOrder {
		anyConnected := false
		anyFresh := false
		for _, conn := range a.graph.Connections() {
			if conn.Target.Kind != graph.FunctionEndpoint || conn.Target.Io.Function != idx {
				continue
			}
			anyConnected = true
			if conn.Source.Kind == graph.SlaveEndpoint {
				if _, ok := dueSet[conn.Source.Simulator]; ok {
					anyFresh = true
				}
			}
		}
		if !anyConnected || anyFresh {
			ready = append(ready, idx)
		}
	}
	return ready
}

// evaluateFunctions runs the full per-function algorithm treatment —
// fetch connected inputs, Calculate, push connected outputs — for each
// function in idxs, in order. Functions are synchronous and cheap
// relative to slave steps, so this runs serially rather than on the
// worker pool.
func (a *FixedStep) evaluateFunctions(idxs []function.Index) error {
	for _, idx := range idxs {
		f := a.functions[idx]
		if err := a.fetchFunctionInputs(idx); err != nil {
			return cosimerr.Wrap(cosimerr.ModelError, err, "function %d: fetching inputs", idx)
		}
		if err := f.Calculate(); err != nil {
			return cosimerr.Wrap(cosimerr.ModelError, err, "function %d: calculate", idx)
		}
		if err := a.pushFunctionOutputs(idx); err != nil {
			return cosimerr.Wrap(cosimerr.BadValue, err, "function %d: pushing outputs", idx)
		}
	}
	return nil
}

// fetchFunctionInputs pulls the current value of every connection
// feeding into one of f's IO variables and sets it on f.
func (a *FixedStep) fetchFunctionInputs(idx function.Index) error {
	for _, conn := range a.graph.Connections() {
		if conn.Target.Kind != graph.FunctionEndpoint || conn.Target.Io.Function != idx {
			continue
		}
		if err := a.transfer(conn); err != nil {
			return err
		}
	}
	return nil
}

// pushFunctionOutputs transfers the value of every connection sourced
// from one of idx's IO variables onto its target (a slave input, under
// the current design — function-to-function connections are not
// disallowed by the graph, but no spec scenario exercises them).
func (a *FixedStep) pushFunctionOutputs(idx function.Index) error {
	var errs []error
	for _, conn := range a.graph.Connections() {
		if conn.Source.Kind != graph.FunctionEndpoint || conn.Source.Io.Function != idx {
			continue
		}
		if err := a.transfer(conn); err != nil {
			errs = append(errs, err)
		}
	}
	return cosimerr.Join(cosimerr.BadValue, fmt.Sprintf("function %d: pushing outputs", idx), errs...)
}

func indexSet(idxs []wrapper.SimulatorIndex) map[wrapper.SimulatorIndex]struct{} {
	m := make(map[wrapper.SimulatorIndex]struct{}, len(idxs))
	for _, idx := range idxs {
		m[idx] = struct{}{}
	}
	return m
}

// ExportCurrentState captures the scheduler's own bookkeeping (not any
// slave's internal state, which is captured separately via
// wrapper.ExportState) as a blob.Node, for inclusion in a larger saved
// state alongside per-slave payloads.
func (a *FixedStep) ExportCurrentState() blob.Node {
	a.mu.Lock()
	defer a.mu.Unlock()
	return blob.Map(map[string]blob.Node{
		"step_number":  blob.Int64(a.stepNumber),
		"current_time": blob.Int64(int64(a.currentT)),
	})
}

// ImportState restores the scheduler's own bookkeeping from a node
// produced by ExportCurrentState. It does not touch any slave's
// internal state or the scheduler's lifecycle state.
func (a *FixedStep) ImportState(node blob.Node) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	fields, ok := node.Fields()
	if !ok {
		return cosimerr.New(cosimerr.IoError, "algorithm state: expected a map node")
	}
	stepNode, ok := fields["step_number"]
	if !ok {
		return cosimerr.New(cosimerr.IoError, "algorithm state: missing step_number")
	}
	step, ok := stepNode.Int()
	if !ok {
		return cosimerr.New(cosimerr.IoError, "algorithm state: step_number has wrong kind")
	}
	timeNode, ok := fields["current_time"]
	if !ok {
		return cosimerr.New(cosimerr.IoError, "algorithm state: missing current_time")
	}
	t, ok := timeNode.Int()
	if !ok {
		return cosimerr.New(cosimerr.IoError, "algorithm state: current_time has wrong kind")
	}
	a.stepNumber = step
	a.currentT = simtime.Point(t)
	return nil
}
