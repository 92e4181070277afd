package wrapper

import (
	"testing"

	"github.com/cosimio/cosim-go/model"
	"github.com/cosimio/cosim-go/simtime"
	"github.com/cosimio/cosim-go/slave"
)

// echoSlave is a minimal test double: out = in for a single real
// variable, updated once per DoStep/DoIteration call.
type echoSlave struct {
	desc  *model.Description
	value float64
}

func newEchoSlave() *echoSlave {
	return &echoSlave{desc: &model.Description{
		Name: "echo",
		Variables: []model.Variable{
			{Name: "in", Reference: 1, Type: model.Real, Causality: model.Input},
			{Name: "out", Reference: 2, Type: model.Real, Causality: model.Output},
		},
	}}
}

func (s *echoSlave) Description() *model.Description { return s.desc }
func (s *echoSlave) Setup(simtime.Point, *simtime.Point, *float64) error { return nil }
func (s *echoSlave) GetReal(refs []model.ValueRef) ([]float64, error) {
	out := make([]float64, len(refs))
	for i := range refs {
		out[i] = s.value
	}
	return out, nil
}
func (s *echoSlave) GetInteger(refs []model.ValueRef) ([]int64, error)  { return make([]int64, len(refs)), nil }
func (s *echoSlave) GetBoolean(refs []model.ValueRef) ([]bool, error)   { return make([]bool, len(refs)), nil }
func (s *echoSlave) GetString(refs []model.ValueRef) ([]string, error)  { return make([]string, len(refs)), nil }
func (s *echoSlave) SetReal(refs []model.ValueRef, values []float64) error {
	for _, v := range values {
		s.value = v
	}
	return nil
}
func (s *echoSlave) SetInteger([]model.ValueRef, []int64) error   { return nil }
func (s *echoSlave) SetBoolean([]model.ValueRef, []bool) error    { return nil }
func (s *echoSlave) SetString([]model.ValueRef, []string) error   { return nil }
func (s *echoSlave) DoIteration() error                           { return nil }
func (s *echoSlave) StartSimulation() error                       { return nil }
func (s *echoSlave) DoStep(simtime.Point, simtime.Duration) (slave.StepResult, error) {
	return slave.Complete, nil
}
func (s *echoSlave) EndSimulation() error { return nil }

func TestWrapperIdentityPassthrough(t *testing.T) {
	s := newEchoSlave()
	w := New(0, s)
	w.ExposeRealForSetting(1)
	w.ExposeRealForGetting(2)

	if err := w.SetReal(1, 3.25); err != nil {
		t.Fatalf("SetReal: %v", err)
	}
	if err := w.DoIteration(); err != nil {
		t.Fatalf("DoIteration: %v", err)
	}
	if v, ok := w.GetReal(2); !ok || v != 3.25 {
		t.Fatalf("GetReal(2) = %v, %v, want 3.25, true", v, ok)
	}

	if err := w.StartSimulation(); err != nil {
		t.Fatalf("StartSimulation: %v", err)
	}
	h := 100 * simtime.Millisecond
	tcur := simtime.Point(0)
	for i := 0; i < 10; i++ {
		if _, err := w.DoStep(tcur, h); err != nil {
			t.Fatalf("DoStep: %v", err)
		}
		tcur = tcur.Add(h)
	}
	if v, ok := w.GetReal(2); !ok || v != 3.25 {
		t.Fatalf("after 10 steps, GetReal(2) = %v, %v, want 3.25, true", v, ok)
	}
	if w.StepNumber() != 10 {
		t.Fatalf("StepNumber() = %d, want 10", w.StepNumber())
	}
}

func TestSetWithoutExposeIsLogicError(t *testing.T) {
	s := newEchoSlave()
	w := New(0, s)
	if err := w.SetReal(1, 1.0); err == nil {
		t.Fatal("expected logic error setting an unexposed ref")
	}
}

func TestOutputModifierOverridesValue(t *testing.T) {
	s := newEchoSlave()
	w := New(0, s)
	w.ExposeRealForSetting(1)
	w.ExposeRealForGetting(2)
	w.SetRealOutputModifier(2, func(v float64, _ simtime.Duration) float64 { return 7 })

	if err := w.StartSimulation(); err != nil {
		t.Fatal(err)
	}
	if _, err := w.DoStep(0, simtime.Second); err != nil {
		t.Fatal(err)
	}
	if v, ok := w.GetReal(2); !ok || v != 7 {
		t.Fatalf("GetReal(2) = %v, %v, want 7, true", v, ok)
	}

	mods := w.GetModifiedRealVariables()
	if len(mods) != 1 || mods[0] != 2 {
		t.Fatalf("GetModifiedRealVariables() = %v, want [2]", mods)
	}

	w.SetRealOutputModifier(2, nil)
	if mods := w.GetModifiedRealVariables(); len(mods) != 0 {
		t.Fatalf("after clearing, GetModifiedRealVariables() = %v, want []", mods)
	}
}
