// Package scenario implements a manipulator that plays back a fixed,
// in-memory timeline of variable overrides relative to the time it was
// loaded, grounded on the original scenario_manager: each event fires
// once its relative trigger time is reached, an optional per-event
// reset time releases its override again, and the whole scenario can
// be aborted early, which releases every override it had installed.
package scenario

import (
	"sort"
	"sync"

	"github.com/cosimio/cosim-go/cosimerr"
	"github.com/cosimio/cosim-go/model"
	"github.com/cosimio/cosim-go/simtime"
	"github.com/cosimio/cosim-go/wrapper"
)

// Action describes what one Event does once it fires: force
// (sim, ref) of type Type to Value.
type Action struct {
	Simulator wrapper.SimulatorIndex
	Ref       model.ValueRef
	Type      model.Type
	Value     model.StartValue
}

// Event is one scheduled point in a Scenario's timeline. Trigger is
// relative to the time the scenario was loaded. Reset, if non-nil, is
// also relative to load time and must be >= Trigger; once reached the
// event's override is released and the event does not fire again.
type Event struct {
	ID      int
	Trigger simtime.Duration
	Reset   *simtime.Duration
	Action  Action
}

// Scenario is an ordered, fixed timeline of events. End, if non-nil,
// stops the scenario (and releases every override it installed) once
// reached, independent of whether all events have fired.
type Scenario struct {
	Events []Event
	End    *simtime.Duration
}

type pending struct {
	event Event
	fired bool
}

// Manager plays back at most one Scenario at a time. The zero Manager
// is ready to use.
type Manager struct {
	mu         sync.Mutex
	simulators map[wrapper.SimulatorIndex]*wrapper.Wrapper

	running   bool
	startTime simtime.Point
	endTime   *simtime.Duration
	remaining []*pending
	executed  []*pending
}

// New creates an empty, idle Manager.
func New() *Manager {
	return &Manager{simulators: make(map[wrapper.SimulatorIndex]*wrapper.Wrapper)}
}

func (m *Manager) SimulatorAdded(idx wrapper.SimulatorIndex, w *wrapper.Wrapper) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.simulators == nil {
		m.simulators = make(map[wrapper.SimulatorIndex]*wrapper.Wrapper)
	}
	m.simulators[idx] = w
}

func (m *Manager) SimulatorRemoved(idx wrapper.SimulatorIndex) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.simulators, idx)
}

// Load starts s, with every event's Trigger and Reset interpreted
// relative to currentTime. Load may only be called while no other
// scenario is running; call Abort first to replace one.
func (m *Manager) Load(s Scenario, currentTime simtime.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return cosimerr.New(cosimerr.InvalidSystemStructure, "scenario: a scenario is already running")
	}
	m.startTime = currentTime
	m.endTime = s.End
	m.remaining = m.remaining[:0]
	m.executed = m.executed[:0]
	for _, e := range s.Events {
		m.remaining = append(m.remaining, &pending{event: e})
	}
	sort.SliceStable(m.remaining, func(i, j int) bool { return m.remaining[i].event.ID < m.remaining[j].event.ID })
	m.running = true
	return nil
}

// IsRunning reports whether a scenario is currently being played back.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Abort stops the running scenario immediately, releasing every
// override any of its already-fired events installed. A no-op if no
// scenario is running.
func (m *Manager) Abort() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.cleanup()
	m.running = false
	m.remaining = nil
	m.executed = nil
}

// StepCommencing advances the running scenario's clock to now,
// firing every event whose trigger has been reached and releasing
// every event whose reset time has been reached, in event-ID order.
func (m *Manager) StepCommencing(now simtime.Point) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	relative := now.Sub(m.startTime)

	if m.endTime != nil && relative >= *m.endTime {
		m.cleanup()
		m.running = false
		return
	}

	stillRemaining := m.remaining[:0]
	for _, p := range m.remaining {
		if p.event.Reset != nil && relative >= *p.event.Reset {
			m.apply(p.event.Action, nil)
			if !p.fired {
				m.executed = append(m.executed, p)
			}
			continue
		}
		if !p.fired && relative >= p.event.Trigger {
			m.apply(p.event.Action, &p.event.Action.Value)
			m.executed = append(m.executed, p)
			if p.event.Reset == nil {
				continue
			}
			p.fired = true
		}
		stillRemaining = append(stillRemaining, p)
	}
	m.remaining = stillRemaining
}

// apply installs a modifier that always returns value (an override),
// or clears the modifier (a reset) when value is nil. Which side of
// the wrapper it installs on depends on a's resolved causality: an
// Output/CalculatedParameter target is overridden on the output side
// (ExposeXForGetting + SetXOutputModifier), matching how the original
// scenario_manager intercepts a simulator's own computed value, while
// an Input/Parameter target is overridden on the input side, the same
// branch manipulator/override.Override.enqueue takes.
func (m *Manager) apply(a Action, value *model.StartValue) {
	w, ok := m.simulators[a.Simulator]
	if !ok {
		return
	}
	causality, err := findCausality(w, a.Type, a.Ref)
	if err != nil {
		return
	}
	var input bool
	switch causality {
	case model.Input, model.Parameter:
		input = true
	case model.CalculatedParameter, model.Output:
		input = false
	default:
		return
	}
	switch a.Type {
	case model.Real:
		var mod wrapper.Modifier[float64]
		if value != nil {
			v := value.Real
			mod = func(float64, simtime.Duration) float64 { return v }
		}
		if input {
			w.ExposeRealForSetting(a.Ref)
			w.SetRealInputModifier(a.Ref, mod)
		} else {
			w.ExposeRealForGetting(a.Ref)
			w.SetRealOutputModifier(a.Ref, mod)
		}
	case model.Integer:
		var mod wrapper.Modifier[int64]
		if value != nil {
			v := value.Integer
			mod = func(int64, simtime.Duration) int64 { return v }
		}
		if input {
			w.ExposeIntegerForSetting(a.Ref)
			w.SetIntegerInputModifier(a.Ref, mod)
		} else {
			w.ExposeIntegerForGetting(a.Ref)
			w.SetIntegerOutputModifier(a.Ref, mod)
		}
	case model.Boolean:
		var mod wrapper.Modifier[bool]
		if value != nil {
			v := value.Boolean
			mod = func(bool, simtime.Duration) bool { return v }
		}
		if input {
			w.ExposeBooleanForSetting(a.Ref)
			w.SetBooleanInputModifier(a.Ref, mod)
		} else {
			w.ExposeBooleanForGetting(a.Ref)
			w.SetBooleanOutputModifier(a.Ref, mod)
		}
	case model.String:
		var mod wrapper.Modifier[string]
		if value != nil {
			v := value.String
			mod = func(string, simtime.Duration) string { return v }
		}
		if input {
			w.ExposeStringForSetting(a.Ref)
			w.SetStringInputModifier(a.Ref, mod)
		} else {
			w.ExposeStringForGetting(a.Ref)
			w.SetStringOutputModifier(a.Ref, mod)
		}
	}
}

// findCausality reports the declared causality of the (typ, ref)
// variable on w, the same lookup manipulator/override.findCausality
// performs.
func findCausality(w *wrapper.Wrapper, typ model.Type, ref model.ValueRef) (model.Causality, error) {
	for _, v := range w.Description().Variables {
		if v.Type == typ && v.Reference == ref {
			return v.Causality, nil
		}
	}
	return 0, cosimerr.New(cosimerr.InvalidSystemStructure, "scenario: no %s variable with reference %d on simulator %d", typ, ref, w.Index())
}

// cleanup releases the override every already-executed event
// installed, in event-ID order, matching the original's deterministic
// teardown.
func (m *Manager) cleanup() {
	sort.Slice(m.executed, func(i, j int) bool { return m.executed[i].event.ID < m.executed[j].event.ID })
	for _, p := range m.executed {
		m.apply(p.event.Action, nil)
	}
}
