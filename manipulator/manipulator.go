// Package manipulator declares the active counterpart to observer.Observer:
// a callback that may install or remove modifiers and schedule value
// overrides on the wrappers it is given, once per macro step, before
// any transfer happens.
package manipulator

import (
	"github.com/cosimio/cosim-go/simtime"
	"github.com/cosimio/cosim-go/wrapper"
)

// Manipulator can alter the course of a simulation by installing
// modifiers on exposed variables. Unlike observer.Observer, a
// Manipulator is expected to mutate the wrappers it holds.
type Manipulator interface {
	// SimulatorAdded is called once, synchronously, when a slave joins
	// the execution, before any step is taken.
	SimulatorAdded(idx wrapper.SimulatorIndex, w *wrapper.Wrapper)
	// SimulatorRemoved is called once, synchronously, before a slave
	// leaves the execution.
	SimulatorRemoved(idx wrapper.SimulatorIndex)
	// StepCommencing is called exactly once per macro step, before any
	// output→input transfer for that step. Value writes and modifier
	// installs made here take effect on the imminent step.
	StepCommencing(now simtime.Point)
}

// Registry drives a set of Manipulators through their lifecycle calls,
// in registration order.
type Registry struct {
	manipulators []Manipulator
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers m. Permitted only while the owning execution is not
// running, the same precondition observer.Registry.Add carries.
func (r *Registry) Add(m Manipulator) {
	r.manipulators = append(r.manipulators, m)
}

// Remove unregisters m, if present.
func (r *Registry) Remove(m Manipulator) {
	for i, existing := range r.manipulators {
		if existing == m {
			r.manipulators = append(r.manipulators[:i], r.manipulators[i+1:]...)
			return
		}
	}
}

func (r *Registry) SimulatorAdded(idx wrapper.SimulatorIndex, w *wrapper.Wrapper) {
	for _, m := range r.manipulators {
		m.SimulatorAdded(idx, w)
	}
}

func (r *Registry) SimulatorRemoved(idx wrapper.SimulatorIndex) {
	for _, m := range r.manipulators {
		m.SimulatorRemoved(idx)
	}
}

// StepCommencing notifies every manipulator that a macro step is about
// to begin at time now, in registration order.
func (r *Registry) StepCommencing(now simtime.Point) {
	for _, m := range r.manipulators {
		m.StepCommencing(now)
	}
}
