// Package wrapper adapts a slave.Slave to the scheduler: it batches
// variable gets and sets into one bulk call per type per step
// boundary, applies user-installed modifiers at transfer time, and
// tracks which variables have been exposed for getting or setting.
//
// Following the design notes in SPEC_FULL.md, the public surface
// exposes four typed paths (real/integer/boolean/string) rather than a
// single method parameterized by model.Type; a shared generic helper
// (typedState) avoids repeating the exposure/modifier/cache bookkeeping
// four times.
package wrapper

import (
	"fmt"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/cosimio/cosim-go/blob"
	"github.com/cosimio/cosim-go/cosimerr"
	"github.com/cosimio/cosim-go/model"
	"github.com/cosimio/cosim-go/simtime"
	"github.com/cosimio/cosim-go/slave"
)

// SimulatorIndex is the dense integer id an execution assigns to a
// slave when it is added. Indices are never reused.
type SimulatorIndex int32

// Modifier intercepts the value of an exposed variable at transfer
// time. It is called with the variable's current value and the size
// of the upcoming (or just-completed) step.
type Modifier[T any] func(value T, stepSize simtime.Duration) T

// typedState holds the exposure sets, cached buffers, and modifiers
// for one variable type.
type typedState[T any] struct {
	exposedGet map[model.ValueRef]struct{}
	exposedSet map[model.ValueRef]struct{}
	cachedIn   map[model.ValueRef]T
	cachedOut  map[model.ValueRef]T
	modIn      map[model.ValueRef]Modifier[T]
	modOut     map[model.ValueRef]Modifier[T]
}

func newTypedState[T any]() *typedState[T] {
	return &typedState[T]{
		exposedGet: make(map[model.ValueRef]struct{}),
		exposedSet: make(map[model.ValueRef]struct{}),
		cachedIn:   make(map[model.ValueRef]T),
		cachedOut:  make(map[model.ValueRef]T),
		modIn:      make(map[model.ValueRef]Modifier[T]),
		modOut:     make(map[model.ValueRef]Modifier[T]),
	}
}

func (s *typedState[T]) exposeGetting(ref model.ValueRef) { s.exposedGet[ref] = struct{}{} }
func (s *typedState[T]) exposeSetting(ref model.ValueRef) { s.exposedSet[ref] = struct{}{} }

func (s *typedState[T]) setInputModifier(ref model.ValueRef, mod Modifier[T]) {
	if mod == nil {
		delete(s.modIn, ref)
		return
	}
	s.exposeSetting(ref)
	s.modIn[ref] = mod
}

func (s *typedState[T]) setOutputModifier(ref model.ValueRef, mod Modifier[T]) {
	if mod == nil {
		delete(s.modOut, ref)
		return
	}
	s.exposeGetting(ref)
	s.modOut[ref] = mod
}

func (s *typedState[T]) modifiedRefs() []model.ValueRef {
	seen := make(map[model.ValueRef]struct{}, len(s.modIn)+len(s.modOut))
	for ref := range s.modIn {
		seen[ref] = struct{}{}
	}
	for ref := range s.modOut {
		seen[ref] = struct{}{}
	}
	out := make([]model.ValueRef, 0, len(seen))
	for ref := range seen {
		out = append(out, ref)
	}
	slices.Sort(out)
	return out
}

// set queues a value to be written on the next flush. It is a logic
// error to set a variable that was never exposed for setting.
func (s *typedState[T]) set(ref model.ValueRef, value T) error {
	if _, ok := s.exposedSet[ref]; !ok {
		return cosimerr.New(cosimerr.LogicError, "set on ref %v not exposed for setting", ref)
	}
	s.cachedIn[ref] = value
	return nil
}

func (s *typedState[T]) get(ref model.ValueRef) (T, bool) {
	v, ok := s.cachedOut[ref]
	return v, ok
}

func (s *typedState[T]) applyInputModifiers(step simtime.Duration) {
	for ref, mod := range s.modIn {
		s.cachedIn[ref] = mod(s.cachedIn[ref], step)
	}
}

func (s *typedState[T]) applyOutputModifiers(step simtime.Duration) {
	for ref, mod := range s.modOut {
		s.cachedOut[ref] = mod(s.cachedOut[ref], step)
	}
}

func (s *typedState[T]) sortedSetRefs() []model.ValueRef {
	refs := make([]model.ValueRef, 0, len(s.exposedSet))
	for ref := range s.exposedSet {
		refs = append(refs, ref)
	}
	slices.Sort(refs)
	return refs
}

func (s *typedState[T]) sortedGetRefs() []model.ValueRef {
	refs := make([]model.ValueRef, 0, len(s.exposedGet))
	for ref := range s.exposedGet {
		refs = append(refs, ref)
	}
	slices.Sort(refs)
	return refs
}

// flushSet pushes the current cachedIn values for every exposed-for-
// setting ref to the slave via one bulk call, using bulkSet.
func flushSet[T any](s *typedState[T], bulkSet func(refs []model.ValueRef, values []T) error) error {
	refs := s.sortedSetRefs()
	if len(refs) == 0 {
		return nil
	}
	values := make([]T, len(refs))
	for i, ref := range refs {
		values[i] = s.cachedIn[ref]
	}
	return bulkSet(refs, values)
}

// flushGet pulls the current value for every exposed-for-getting ref
// from the slave via one bulk call, using bulkGet, and stores the
// result in cachedOut.
func flushGet[T any](s *typedState[T], bulkGet func(refs []model.ValueRef) ([]T, error)) error {
	refs := s.sortedGetRefs()
	if len(refs) == 0 {
		return nil
	}
	values, err := bulkGet(refs)
	if err != nil {
		return err
	}
	if len(values) != len(refs) {
		return cosimerr.New(cosimerr.ModelError, "slave returned %d values for %d requested refs", len(values), len(refs))
	}
	for i, ref := range refs {
		s.cachedOut[ref] = values[i]
	}
	return nil
}

// Wrapper is the runtime state the scheduler holds for one slave: a
// single bulk-get/bulk-set buffer per type, the modifier registry, and
// the exposure sets.
type Wrapper struct {
	mu    sync.Mutex
	index SimulatorIndex
	slave slave.Slave
	desc  *model.Description

	real    *typedState[float64]
	integer *typedState[int64]
	boolean *typedState[bool]
	str     *typedState[string]

	stepNumber int64
}

// New creates a Wrapper around s, assigning it index as its stable
// SimulatorIndex within the owning execution.
func New(index SimulatorIndex, s slave.Slave) *Wrapper {
	return &Wrapper{
		index:   index,
		slave:   s,
		desc:    s.Description(),
		real:    newTypedState[float64](),
		integer: newTypedState[int64](),
		boolean: newTypedState[bool](),
		str:     newTypedState[string](),
	}
}

// Index returns the wrapper's stable SimulatorIndex.
func (w *Wrapper) Index() SimulatorIndex { return w.index }

// Description returns the wrapped slave's immutable metadata.
func (w *Wrapper) Description() *model.Description { return w.desc }

// StepNumber returns the number of completed DoStep calls.
func (w *Wrapper) StepNumber() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stepNumber
}

// --- exposure ---

func (w *Wrapper) ExposeRealForGetting(ref model.ValueRef)    { w.locked(func() { w.real.exposeGetting(ref) }) }
func (w *Wrapper) ExposeRealForSetting(ref model.ValueRef)    { w.locked(func() { w.real.exposeSetting(ref) }) }
func (w *Wrapper) ExposeIntegerForGetting(ref model.ValueRef) { w.locked(func() { w.integer.exposeGetting(ref) }) }
func (w *Wrapper) ExposeIntegerForSetting(ref model.ValueRef) { w.locked(func() { w.integer.exposeSetting(ref) }) }
func (w *Wrapper) ExposeBooleanForGetting(ref model.ValueRef) { w.locked(func() { w.boolean.exposeGetting(ref) }) }
func (w *Wrapper) ExposeBooleanForSetting(ref model.ValueRef) { w.locked(func() { w.boolean.exposeSetting(ref) }) }
func (w *Wrapper) ExposeStringForGetting(ref model.ValueRef)  { w.locked(func() { w.str.exposeGetting(ref) }) }
func (w *Wrapper) ExposeStringForSetting(ref model.ValueRef)  { w.locked(func() { w.str.exposeSetting(ref) }) }

func (w *Wrapper) locked(f func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	f()
}

// --- modifiers ---

func (w *Wrapper) SetRealInputModifier(ref model.ValueRef, mod Modifier[float64]) {
	w.locked(func() { w.real.setInputModifier(ref, mod) })
}
func (w *Wrapper) SetRealOutputModifier(ref model.ValueRef, mod Modifier[float64]) {
	w.locked(func() { w.real.setOutputModifier(ref, mod) })
}
func (w *Wrapper) SetIntegerInputModifier(ref model.ValueRef, mod Modifier[int64]) {
	w.locked(func() { w.integer.setInputModifier(ref, mod) })
}
func (w *Wrapper) SetIntegerOutputModifier(ref model.ValueRef, mod Modifier[int64]) {
	w.locked(func() { w.integer.setOutputModifier(ref, mod) })
}
func (w *Wrapper) SetBooleanInputModifier(ref model.ValueRef, mod Modifier[bool]) {
	w.locked(func() { w.boolean.setInputModifier(ref, mod) })
}
func (w *Wrapper) SetBooleanOutputModifier(ref model.ValueRef, mod Modifier[bool]) {
	w.locked(func() { w.boolean.setOutputModifier(ref, mod) })
}
func (w *Wrapper) SetStringInputModifier(ref model.ValueRef, mod Modifier[string]) {
	w.locked(func() { w.str.setInputModifier(ref, mod) })
}
func (w *Wrapper) SetStringOutputModifier(ref model.ValueRef, mod Modifier[string]) {
	w.locked(func() { w.str.setOutputModifier(ref, mod) })
}

// GetModifiedRealVariables returns the refs with an active modifier on
// either side, in ascending order. GetModifiedIntegerVariables,
// GetModifiedBooleanVariables, and GetModifiedStringVariables do the
// same for their respective type.
func (w *Wrapper) GetModifiedRealVariables() []model.ValueRef {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.real.modifiedRefs()
}
func (w *Wrapper) GetModifiedIntegerVariables() []model.ValueRef {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.integer.modifiedRefs()
}
func (w *Wrapper) GetModifiedBooleanVariables() []model.ValueRef {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.boolean.modifiedRefs()
}
func (w *Wrapper) GetModifiedStringVariables() []model.ValueRef {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.str.modifiedRefs()
}

// --- queued set / cached get ---

func (w *Wrapper) SetReal(ref model.ValueRef, value float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.real.set(ref, value)
}
func (w *Wrapper) SetInteger(ref model.ValueRef, value int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.integer.set(ref, value)
}
func (w *Wrapper) SetBoolean(ref model.ValueRef, value bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.boolean.set(ref, value)
}
func (w *Wrapper) SetString(ref model.ValueRef, value string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.str.set(ref, value)
}

func (w *Wrapper) GetReal(ref model.ValueRef) (float64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.real.get(ref)
}
func (w *Wrapper) GetInteger(ref model.ValueRef) (int64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.integer.get(ref)
}
func (w *Wrapper) GetBoolean(ref model.ValueRef) (bool, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.boolean.get(ref)
}
func (w *Wrapper) GetString(ref model.ValueRef) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.str.get(ref)
}

// --- lifecycle delegation ---

// DoIteration pushes cached inputs to the slave, calls DoIteration on
// it, and pulls fresh outputs, without advancing simulation time. Used
// during Initialize's propagation pass.
func (w *Wrapper) DoIteration() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.real.applyInputModifiers(0)
	w.integer.applyInputModifiers(0)
	w.boolean.applyInputModifiers(0)
	w.str.applyInputModifiers(0)
	if err := w.push(); err != nil {
		return err
	}
	if err := w.slave.DoIteration(); err != nil {
		return cosimerr.Wrap(cosimerr.ModelError, err, "slave %d: DoIteration", w.index)
	}
	if err := w.pull(); err != nil {
		return err
	}
	w.real.applyOutputModifiers(0)
	w.integer.applyOutputModifiers(0)
	w.boolean.applyOutputModifiers(0)
	w.str.applyOutputModifiers(0)
	return nil
}

// StartSimulation ends the iteration phase on the underlying slave.
func (w *Wrapper) StartSimulation() error {
	if err := w.slave.StartSimulation(); err != nil {
		return cosimerr.Wrap(cosimerr.ModelError, err, "slave %d: StartSimulation", w.index)
	}
	return nil
}

// DoStep advances the wrapped slave by delta, applying input modifiers
// before the call and output modifiers after it, as spec.md §4.2
// requires.
func (w *Wrapper) DoStep(currentT simtime.Point, delta simtime.Duration) (slave.StepResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.real.applyInputModifiers(delta)
	w.integer.applyInputModifiers(delta)
	w.boolean.applyInputModifiers(delta)
	w.str.applyInputModifiers(delta)

	if err := w.push(); err != nil {
		return slave.Failed, err
	}

	result, err := w.slave.DoStep(currentT, delta)
	if err != nil {
		return slave.Failed, cosimerr.Wrap(cosimerr.ModelError, err, "slave %d: DoStep", w.index)
	}
	if result != slave.Complete {
		return result, nil
	}

	if err := w.pull(); err != nil {
		return slave.Failed, err
	}
	w.real.applyOutputModifiers(delta)
	w.integer.applyOutputModifiers(delta)
	w.boolean.applyOutputModifiers(delta)
	w.str.applyOutputModifiers(delta)

	w.stepNumber++
	return slave.Complete, nil
}

// push flushes every type's cached input buffer to the slave in one
// bulk call per type, aggregating any non-fatal BadValue errors into a
// single error (spec.md §7: "aggregate across the four types").
func (w *Wrapper) push() error {
	errs := []error{
		flushSet(w.real, w.slave.SetReal),
		flushSet(w.integer, w.slave.SetInteger),
		flushSet(w.boolean, w.slave.SetBoolean),
		flushSet(w.str, w.slave.SetString),
	}
	return cosimerr.Join(cosimerr.BadValue, fmt.Sprintf("slave %d: bulk set", w.index), errs...)
}

// pull refreshes every type's cached output buffer from the slave in
// one bulk call per type.
func (w *Wrapper) pull() error {
	if err := flushGet(w.real, w.slave.GetReal); err != nil {
		return cosimerr.Wrap(cosimerr.ModelError, err, "slave %d: bulk get real", w.index)
	}
	if err := flushGet(w.integer, w.slave.GetInteger); err != nil {
		return cosimerr.Wrap(cosimerr.ModelError, err, "slave %d: bulk get integer", w.index)
	}
	if err := flushGet(w.boolean, w.slave.GetBoolean); err != nil {
		return cosimerr.Wrap(cosimerr.ModelError, err, "slave %d: bulk get boolean", w.index)
	}
	if err := flushGet(w.str, w.slave.GetString); err != nil {
		return cosimerr.Wrap(cosimerr.ModelError, err, "slave %d: bulk get string", w.index)
	}
	return nil
}

// --- save / restore state ---

func (w *Wrapper) requireSaveState() (slave.StateSaver, error) {
	if !w.desc.Capabilities.CanSaveState {
		return nil, cosimerr.New(cosimerr.UnsupportedFeature, "slave %d does not support state save", w.index)
	}
	saver, ok := w.slave.(slave.StateSaver)
	if !ok {
		return nil, cosimerr.New(cosimerr.UnsupportedFeature, "slave %d does not implement StateSaver", w.index)
	}
	return saver, nil
}

// SaveState captures the slave's current internal state into a new
// handle.
func (w *Wrapper) SaveState() (int, error) {
	saver, err := w.requireSaveState()
	if err != nil {
		return 0, err
	}
	idx, err := saver.SaveState()
	if err != nil {
		return 0, cosimerr.Wrap(cosimerr.IoError, err, "slave %d: SaveState", w.index)
	}
	return idx, nil
}

// RestoreState replaces the slave's current internal state with the
// one captured under idx.
func (w *Wrapper) RestoreState(idx int) error {
	saver, err := w.requireSaveState()
	if err != nil {
		return err
	}
	if err := saver.RestoreState(idx); err != nil {
		return cosimerr.Wrap(cosimerr.StateIndexInvalid, err, "slave %d: RestoreState(%d)", w.index, idx)
	}
	return nil
}

// ReleaseState discards the state captured under idx.
func (w *Wrapper) ReleaseState(idx int) error {
	saver, err := w.requireSaveState()
	if err != nil {
		return err
	}
	if err := saver.ReleaseState(idx); err != nil {
		return cosimerr.Wrap(cosimerr.StateIndexInvalid, err, "slave %d: ReleaseState(%d)", w.index, idx)
	}
	return nil
}

// ExportState serializes the state captured under idx into the
// tagged-union tree contract (package blob).
func (w *Wrapper) ExportState(idx int) (blob.Node, error) {
	saver, err := w.requireSaveState()
	if err != nil {
		return blob.Node{}, err
	}
	node, err := saver.ExportState(idx)
	if err != nil {
		return blob.Node{}, cosimerr.Wrap(cosimerr.IoError, err, "slave %d: ExportState(%d)", w.index, idx)
	}
	return node, nil
}

// ImportState deserializes node into a new state handle.
func (w *Wrapper) ImportState(node blob.Node) (int, error) {
	saver, err := w.requireSaveState()
	if err != nil {
		return 0, err
	}
	idx, err := saver.ImportState(node)
	if err != nil {
		return 0, cosimerr.Wrap(cosimerr.IoError, err, "slave %d: ImportState", w.index)
	}
	return idx, nil
}
