// Package observer declares the passive notification interface the
// execution façade drives every macro step, and a registry that fans
// one notification out to every registered observer, collecting
// failures instead of stopping at the first one.
package observer

import (
	"github.com/cosimio/cosim-go/cosimerr"
	"github.com/cosimio/cosim-go/function"
	"github.com/cosimio/cosim-go/graph"
	"github.com/cosimio/cosim-go/simtime"
	"github.com/cosimio/cosim-go/wrapper"
)

// Observer receives read-only notifications about the system structure
// and the progress of a simulation. An Observer must not mutate any
// slave or function it is given a reference to; that is the province
// of Manipulator.
type Observer interface {
	// SimulatorAdded is called once, synchronously, when a slave joins
	// the execution.
	SimulatorAdded(idx wrapper.SimulatorIndex, w *wrapper.Wrapper)
	// SimulatorRemoved is called once, synchronously, before a slave
	// leaves the execution.
	SimulatorRemoved(idx wrapper.SimulatorIndex)
	// VariablesConnected is called once per successful connect_variables
	// call.
	VariablesConnected(conn graph.Connection)
	// VariableDisconnected is called once per disconnect_variables call.
	VariableDisconnected(tgt graph.Endpoint)
	// SimulationInitialized is called once, after Initialize succeeds
	// and before the first DoStep.
	SimulationInitialized()
	// StepComplete is called once per macro step, after every due
	// slave has finished stepping and every ready function has been
	// evaluated.
	StepComplete(t simtime.Point, delta simtime.Duration, stepped []wrapper.SimulatorIndex)
	// SimulatorStepComplete is called once per stepped slave per macro
	// step, after StepComplete's observers have all been notified of
	// the step as a whole.
	SimulatorStepComplete(idx wrapper.SimulatorIndex, t simtime.Point, delta simtime.Duration)
	// StateRestored is called once after a successful restore_state.
	// An observer that cannot reconstruct its own bookkeeping from
	// observable slave/function state alone must return an error of
	// kind cosimerr.UnsupportedFeature, which fails the restore.
	StateRestored(handle int) error
}

// FunctionObserver is an optional extension an Observer may also
// implement, to be notified about function lifecycle events. The core
// does not require it: most observers only watch slave variables.
type FunctionObserver interface {
	FunctionAdded(idx function.Index)
	FunctionRemoved(idx function.Index)
}

// Registry fans out notifications to a set of registered observers, in
// registration order, collecting any returning errors (only
// StateRestored can fail) into one aggregate error.
type Registry struct {
	observers []Observer
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers o. Permitted only while the owning execution is not
// running (spec.md §5: "Observer/manipulator lists: mutated only while
// !is_running()"); the registry itself does not enforce that
// precondition, since it has no notion of the execution's running
// state — the caller (package execution) is responsible for it.
func (r *Registry) Add(o Observer) {
	r.observers = append(r.observers, o)
}

// Remove unregisters o, if present.
func (r *Registry) Remove(o Observer) {
	for i, existing := range r.observers {
		if existing == o {
			r.observers = append(r.observers[:i], r.observers[i+1:]...)
			return
		}
	}
}

func (r *Registry) SimulatorAdded(idx wrapper.SimulatorIndex, w *wrapper.Wrapper) {
	for _, o := range r.observers {
		o.SimulatorAdded(idx, w)
	}
}

func (r *Registry) SimulatorRemoved(idx wrapper.SimulatorIndex) {
	for _, o := range r.observers {
		o.SimulatorRemoved(idx)
	}
}

func (r *Registry) VariablesConnected(conn graph.Connection) {
	for _, o := range r.observers {
		o.VariablesConnected(conn)
	}
}

func (r *Registry) VariableDisconnected(tgt graph.Endpoint) {
	for _, o := range r.observers {
		o.VariableDisconnected(tgt)
	}
}

func (r *Registry) SimulationInitialized() {
	for _, o := range r.observers {
		o.SimulationInitialized()
	}
}

func (r *Registry) StepComplete(t simtime.Point, delta simtime.Duration, stepped []wrapper.SimulatorIndex) {
	for _, o := range r.observers {
		o.StepComplete(t, delta, stepped)
	}
	for _, idx := range stepped {
		for _, o := range r.observers {
			o.SimulatorStepComplete(idx, t, delta)
		}
	}
}

// FunctionAdded notifies every observer that also implements
// FunctionObserver that function idx joined the execution.
func (r *Registry) FunctionAdded(idx function.Index) {
	for _, o := range r.observers {
		if fo, ok := o.(FunctionObserver); ok {
			fo.FunctionAdded(idx)
		}
	}
}

// FunctionRemoved notifies every observer that also implements
// FunctionObserver that function idx is leaving the execution.
func (r *Registry) FunctionRemoved(idx function.Index) {
	for _, o := range r.observers {
		if fo, ok := o.(FunctionObserver); ok {
			fo.FunctionRemoved(idx)
		}
	}
}

// StateRestored notifies every observer that state was restored under
// handle, aggregating any UnsupportedFeature failures.
func (r *Registry) StateRestored(handle int) error {
	var errs []error
	for _, o := range r.observers {
		if err := o.StateRestored(handle); err != nil {
			errs = append(errs, err)
		}
	}
	return cosimerr.Join(cosimerr.UnsupportedFeature, "state_restored", errs...)
}
