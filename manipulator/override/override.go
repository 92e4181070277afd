// Package override implements a manipulator that lets a caller force a
// slave's variable to a fixed value, or reset it back to its declared
// start value for one step, grounded on the original override_manipulator:
// every override or reset is queued under a lock and only applied to the
// wrapper at the next StepCommencing, never synchronously from the
// calling goroutine.
package override

import (
	"sync"

	"github.com/cosimio/cosim-go/cosimerr"
	"github.com/cosimio/cosim-go/model"
	"github.com/cosimio/cosim-go/simtime"
	"github.com/cosimio/cosim-go/wrapper"
)

// action is a pending modifier install (f != nil) or clear (f == nil)
// for one variable. Exactly one of the typed modifier fields is used,
// chosen by typ.
type action struct {
	sim   wrapper.SimulatorIndex
	ref   model.ValueRef
	typ   model.Type
	input bool

	real    wrapper.Modifier[float64]
	integer wrapper.Modifier[int64]
	boolean wrapper.Modifier[bool]
	str     wrapper.Modifier[string]
}

// Override is a Manipulator that forces variables to caller-supplied
// values until explicitly reset. Overriding the same variable twice
// replaces the earlier value. Resetting a variable that has no declared
// start value only clears its modifier, a harmless no-op if it was never
// overridden; a variable with a start value is forced to it for one step.
//
// Reset is distinct from clearing a modifier outright: per
// original_source's manipulator.hpp, reset re-applies the variable's
// declared start value as a one-shot override, then releases it again
// one macro step later, rather than immediately handing control back
// to the slave's own computation.
type Override struct {
	mu         sync.Mutex
	simulators map[wrapper.SimulatorIndex]*wrapper.Wrapper
	actions    []action
	deferred   []action
}

// New creates an Override manipulator with no pending actions.
func New() *Override {
	return &Override{simulators: make(map[wrapper.SimulatorIndex]*wrapper.Wrapper)}
}

func (o *Override) SimulatorAdded(idx wrapper.SimulatorIndex, w *wrapper.Wrapper) {
	o.simulators[idx] = w
}

func (o *Override) SimulatorRemoved(idx wrapper.SimulatorIndex) {
	delete(o.simulators, idx)
}

// StepCommencing drains the queue of pending actions, installing or
// clearing modifiers on the wrapper each action targets, then promotes
// any deferred (one-shot reset release) actions so they apply at the
// following StepCommencing. Order matches enqueue order; a later
// action for the same variable wins.
func (o *Override) StepCommencing(simtime.Point) {
	o.mu.Lock()
	pending := o.actions
	o.actions = o.deferred
	o.deferred = nil
	o.mu.Unlock()

	for _, a := range pending {
		w, ok := o.simulators[a.sim]
		if !ok {
			continue
		}
		switch a.typ {
		case model.Real:
			if a.input {
				w.ExposeRealForSetting(a.ref)
				w.SetRealInputModifier(a.ref, a.real)
			} else {
				w.ExposeRealForGetting(a.ref)
				w.SetRealOutputModifier(a.ref, a.real)
			}
		case model.Integer:
			if a.input {
				w.ExposeIntegerForSetting(a.ref)
				w.SetIntegerInputModifier(a.ref, a.integer)
			} else {
				w.ExposeIntegerForGetting(a.ref)
				w.SetIntegerOutputModifier(a.ref, a.integer)
			}
		case model.Boolean:
			if a.input {
				w.ExposeBooleanForSetting(a.ref)
				w.SetBooleanInputModifier(a.ref, a.boolean)
			} else {
				w.ExposeBooleanForGetting(a.ref)
				w.SetBooleanOutputModifier(a.ref, a.boolean)
			}
		case model.String:
			if a.input {
				w.ExposeStringForSetting(a.ref)
				w.SetStringInputModifier(a.ref, a.str)
			} else {
				w.ExposeStringForGetting(a.ref)
				w.SetStringOutputModifier(a.ref, a.str)
			}
		}
	}
}

func (o *Override) enqueue(a action, deferToNext bool) error {
	w, ok := o.simulators[a.sim]
	if !ok {
		return cosimerr.New(cosimerr.InvalidSystemStructure, "override: simulator %d is not part of this execution", a.sim)
	}
	causality, err := findCausality(w, a.typ, a.ref)
	if err != nil {
		return err
	}
	switch causality {
	case model.Input, model.Parameter:
		a.input = true
	case model.CalculatedParameter, model.Output:
		a.input = false
	default:
		return cosimerr.New(cosimerr.InvalidSystemStructure, "override: no support for overriding a variable with causality %v", causality)
	}

	o.mu.Lock()
	if deferToNext {
		o.deferred = append(o.deferred, a)
	} else {
		o.actions = append(o.actions, a)
	}
	o.mu.Unlock()
	return nil
}

func findCausality(w *wrapper.Wrapper, typ model.Type, ref model.ValueRef) (model.Causality, error) {
	for _, v := range w.Description().Variables {
		if v.Type == typ && v.Reference == ref {
			return v.Causality, nil
		}
	}
	return 0, cosimerr.New(cosimerr.InvalidSystemStructure, "override: no %s variable with reference %d on simulator %d", typ, ref, w.Index())
}

// OverrideReal forces variable ref on sim to value until reset.
func (o *Override) OverrideReal(sim wrapper.SimulatorIndex, ref model.ValueRef, value float64) error {
	return o.enqueue(action{sim: sim, ref: ref, typ: model.Real, real: func(float64, simtime.Duration) float64 { return value }}, false)
}

// OverrideInteger forces variable ref on sim to value until reset.
func (o *Override) OverrideInteger(sim wrapper.SimulatorIndex, ref model.ValueRef, value int64) error {
	return o.enqueue(action{sim: sim, ref: ref, typ: model.Integer, integer: func(int64, simtime.Duration) int64 { return value }}, false)
}

// OverrideBoolean forces variable ref on sim to value until reset.
func (o *Override) OverrideBoolean(sim wrapper.SimulatorIndex, ref model.ValueRef, value bool) error {
	return o.enqueue(action{sim: sim, ref: ref, typ: model.Boolean, boolean: func(bool, simtime.Duration) bool { return value }}, false)
}

// OverrideString forces variable ref on sim to value until reset.
func (o *Override) OverrideString(sim wrapper.SimulatorIndex, ref model.ValueRef, value string) error {
	return o.enqueue(action{sim: sim, ref: ref, typ: model.String, str: func(string, simtime.Duration) string { return value }}, false)
}

// Reset re-applies the variable's declared start value as a one-shot
// override: it takes effect for exactly one macro step, then releases
// automatically, handing control back to the slave's own computation.
// A variable with no declared start value is released immediately
// instead, since there is no default to re-apply.
func (o *Override) Reset(sim wrapper.SimulatorIndex, typ model.Type, ref model.ValueRef) error {
	w, ok := o.simulators[sim]
	if !ok {
		return cosimerr.New(cosimerr.InvalidSystemStructure, "override: simulator %d is not part of this execution", sim)
	}
	start, hasStart, err := findStartValue(w, typ, ref)
	if err != nil {
		return err
	}
	if !hasStart {
		return o.enqueue(action{sim: sim, ref: ref, typ: typ}, false)
	}

	var a action
	switch typ {
	case model.Real:
		v := start.Real
		a = action{sim: sim, ref: ref, typ: typ, real: func(float64, simtime.Duration) float64 { return v }}
	case model.Integer:
		v := start.Integer
		a = action{sim: sim, ref: ref, typ: typ, integer: func(int64, simtime.Duration) int64 { return v }}
	case model.Boolean:
		v := start.Boolean
		a = action{sim: sim, ref: ref, typ: typ, boolean: func(bool, simtime.Duration) bool { return v }}
	case model.String:
		v := start.String
		a = action{sim: sim, ref: ref, typ: typ, str: func(string, simtime.Duration) string { return v }}
	}
	if err := o.enqueue(a, false); err != nil {
		return err
	}
	return o.enqueue(action{sim: sim, ref: ref, typ: typ}, true)
}

func findStartValue(w *wrapper.Wrapper, typ model.Type, ref model.ValueRef) (model.StartValue, bool, error) {
	for _, v := range w.Description().Variables {
		if v.Type == typ && v.Reference == ref {
			return v.Start, v.Start.HasValue, nil
		}
	}
	return model.StartValue{}, false, cosimerr.New(cosimerr.InvalidSystemStructure, "override: no %s variable with reference %d on simulator %d", typ, ref, w.Index())
}
