package scenario

import (
	"testing"

	"github.com/cosimio/cosim-go/model"
	"github.com/cosimio/cosim-go/simtime"
	"github.com/cosimio/cosim-go/slave"
	"github.com/cosimio/cosim-go/wrapper"
)

type inputSlave struct {
	desc *model.Description
	in   float64
}

func (s *inputSlave) Description() *model.Description                    { return s.desc }
func (s *inputSlave) Setup(simtime.Point, *simtime.Point, *float64) error { return nil }
func (s *inputSlave) GetReal(refs []model.ValueRef) ([]float64, error) {
	out := make([]float64, len(refs))
	for i, r := range refs {
		if r == 1 {
			out[i] = s.in
		}
	}
	return out, nil
}
func (s *inputSlave) GetInteger(refs []model.ValueRef) ([]int64, error) { return make([]int64, len(refs)), nil }
func (s *inputSlave) GetBoolean(refs []model.ValueRef) ([]bool, error)  { return make([]bool, len(refs)), nil }
func (s *inputSlave) GetString(refs []model.ValueRef) ([]string, error) { return make([]string, len(refs)), nil }
func (s *inputSlave) SetReal(refs []model.ValueRef, values []float64) error {
	for i, r := range refs {
		if r == 1 {
			s.in = values[i]
		}
	}
	return nil
}
func (s *inputSlave) SetInteger([]model.ValueRef, []int64) error { return nil }
func (s *inputSlave) SetBoolean([]model.ValueRef, []bool) error  { return nil }
func (s *inputSlave) SetString([]model.ValueRef, []string) error { return nil }
func (s *inputSlave) DoIteration() error                         { return nil }
func (s *inputSlave) StartSimulation() error                     { return nil }
func (s *inputSlave) DoStep(simtime.Point, simtime.Duration) (slave.StepResult, error) {
	return slave.Complete, nil
}
func (s *inputSlave) EndSimulation() error { return nil }

func newInputSlave() (*inputSlave, *wrapper.Wrapper) {
	s := &inputSlave{desc: &model.Description{Variables: []model.Variable{
		{Name: "in", Reference: 1, Type: model.Real, Causality: model.Input},
	}}}
	return s, wrapper.New(0, s)
}

func TestScenarioFiresAtTriggerTime(t *testing.T) {
	s, w := newInputSlave()
	m := New()
	m.SimulatorAdded(0, w)

	sc := Scenario{Events: []Event{
		{ID: 1, Trigger: 300 * simtime.Millisecond, Action: Action{
			Simulator: 0, Ref: 1, Type: model.Real, Value: model.StartValue{Real: 99},
		}},
	}}
	if err := m.Load(sc, simtime.Zero); err != nil {
		t.Fatal(err)
	}

	m.StepCommencing(simtime.Point(200 * simtime.Millisecond))
	if _, err := w.DoStep(simtime.Zero, 100*simtime.Millisecond); err != nil {
		t.Fatal(err)
	}
	if s.in != 0 {
		t.Fatalf("in = %v before trigger, want 0", s.in)
	}

	m.StepCommencing(simtime.Point(300 * simtime.Millisecond))
	if _, err := w.DoStep(simtime.Zero, 100*simtime.Millisecond); err != nil {
		t.Fatal(err)
	}
	if s.in != 99 {
		t.Fatalf("in = %v at trigger time, want 99", s.in)
	}
}

func TestScenarioResetReleasesOverride(t *testing.T) {
	s, w := newInputSlave()
	m := New()
	m.SimulatorAdded(0, w)

	resetAt := simtime.Duration(200 * simtime.Millisecond)
	sc := Scenario{Events: []Event{
		{ID: 1, Trigger: 100 * simtime.Millisecond, Reset: &resetAt, Action: Action{
			Simulator: 0, Ref: 1, Type: model.Real, Value: model.StartValue{Real: 5},
		}},
	}}
	if err := m.Load(sc, simtime.Zero); err != nil {
		t.Fatal(err)
	}

	m.StepCommencing(simtime.Point(100 * simtime.Millisecond))
	if _, err := w.DoStep(simtime.Zero, simtime.Millisecond); err != nil {
		t.Fatal(err)
	}
	if s.in != 5 {
		t.Fatalf("in = %v after trigger, want 5", s.in)
	}

	m.StepCommencing(simtime.Point(200 * simtime.Millisecond))
	w.SetReal(1, 1)
	if _, err := w.DoStep(simtime.Zero, simtime.Millisecond); err != nil {
		t.Fatal(err)
	}
	if s.in != 1 {
		t.Fatalf("in = %v after reset, want 1 (override should be released)", s.in)
	}
}

func TestAbortReleasesOverrides(t *testing.T) {
	s, w := newInputSlave()
	m := New()
	m.SimulatorAdded(0, w)

	sc := Scenario{Events: []Event{
		{ID: 1, Trigger: 0, Action: Action{Simulator: 0, Ref: 1, Type: model.Real, Value: model.StartValue{Real: 7}}},
	}}
	if err := m.Load(sc, simtime.Zero); err != nil {
		t.Fatal(err)
	}
	m.StepCommencing(simtime.Zero)
	if _, err := w.DoStep(simtime.Zero, simtime.Millisecond); err != nil {
		t.Fatal(err)
	}
	if s.in != 7 {
		t.Fatalf("in = %v, want 7", s.in)
	}

	m.Abort()
	if m.IsRunning() {
		t.Fatal("expected scenario to stop running after Abort")
	}
	w.SetReal(1, 3)
	if _, err := w.DoStep(simtime.Zero, simtime.Millisecond); err != nil {
		t.Fatal(err)
	}
	if s.in != 3 {
		t.Fatalf("in = %v after abort, want 3 (override should be released)", s.in)
	}
}

func TestLoadWhileRunningFails(t *testing.T) {
	_, w := newInputSlave()
	m := New()
	m.SimulatorAdded(0, w)
	sc := Scenario{Events: []Event{{ID: 1, Action: Action{Simulator: 0, Ref: 1, Type: model.Real}}}}
	if err := m.Load(sc, simtime.Zero); err != nil {
		t.Fatal(err)
	}
	if err := m.Load(sc, simtime.Zero); err == nil {
		t.Fatal("expected error loading a scenario while one is already running")
	}
}
