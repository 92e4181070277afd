package algorithm

import (
	"testing"

	"github.com/cosimio/cosim-go/function"
	"github.com/cosimio/cosim-go/graph"
	"github.com/cosimio/cosim-go/model"
	"github.com/cosimio/cosim-go/simtime"
	"github.com/cosimio/cosim-go/slave"
	"github.com/cosimio/cosim-go/wrapper"
)

// counterSlave counts how many times DoStep has completed, ignoring
// its single real input entirely. Useful for asserting a decimated
// simulator only steps on the macro steps it is due.
type counterSlave struct {
	desc  *model.Description
	steps int
}

func newCounterSlave() *counterSlave {
	return &counterSlave{desc: &model.Description{
		Name: "counter",
		Variables: []model.Variable{
			{Name: "in", Reference: 1, Type: model.Real, Causality: model.Input},
			{Name: "out", Reference: 2, Type: model.Real, Causality: model.Output},
		},
	}}
}

func (s *counterSlave) Description() *model.Description { return s.desc }
func (s *counterSlave) Setup(simtime.Point, *simtime.Point, *float64) error { return nil }
func (s *counterSlave) GetReal(refs []model.ValueRef) ([]float64, error) {
	out := make([]float64, len(refs))
	for i := range refs {
		out[i] = float64(s.steps)
	}
	return out, nil
}
func (s *counterSlave) GetInteger(refs []model.ValueRef) ([]int64, error) { return make([]int64, len(refs)), nil }
func (s *counterSlave) GetBoolean(refs []model.ValueRef) ([]bool, error)  { return make([]bool, len(refs)), nil }
func (s *counterSlave) GetString(refs []model.ValueRef) ([]string, error) { return make([]string, len(refs)), nil }
func (s *counterSlave) SetReal([]model.ValueRef, []float64) error        { return nil }
func (s *counterSlave) SetInteger([]model.ValueRef, []int64) error       { return nil }
func (s *counterSlave) SetBoolean([]model.ValueRef, []bool) error        { return nil }
func (s *counterSlave) SetString([]model.ValueRef, []string) error       { return nil }
func (s *counterSlave) DoIteration() error                               { return nil }
func (s *counterSlave) StartSimulation() error                          { return nil }
func (s *counterSlave) DoStep(simtime.Point, simtime.Duration) (slave.StepResult, error) {
	s.steps++
	return slave.Complete, nil
}
func (s *counterSlave) EndSimulation() error { return nil }

func TestDecimationFactorGatesStepping(t *testing.T) {
	g := graph.New()
	a := NewFixedStep(Config{BaseStep: 100 * simtime.Millisecond}, g)

	fast := newCounterSlave()
	slow := newCounterSlave()
	fastWrapper := wrapper.New(0, fast)
	slowWrapper := wrapper.New(1, slow)

	if err := a.AddSimulator(0, fastWrapper, 100*simtime.Millisecond); err != nil {
		t.Fatal(err)
	}
	if err := a.AddSimulator(1, slowWrapper, 300*simtime.Millisecond); err != nil {
		t.Fatal(err)
	}
	if err := a.SetStepsizeDecimationFactor(1, 3); err != nil {
		t.Fatal(err)
	}

	if err := a.Setup(simtime.Zero, nil); err != nil {
		t.Fatal(err)
	}
	if err := a.Initialize(); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 9; i++ {
		if _, _, err := a.DoStep(); err != nil {
			t.Fatalf("DoStep #%d: %v", i, err)
		}
	}

	if fast.steps != 9 {
		t.Fatalf("fast.steps = %d, want 9", fast.steps)
	}
	if slow.steps != 3 {
		t.Fatalf("slow.steps = %d, want 3", slow.steps)
	}
}

func TestDoStepRejectsUnsupportedStateBeforeInitialize(t *testing.T) {
	g := graph.New()
	a := NewFixedStep(Config{BaseStep: simtime.Second}, g)
	if _, _, err := a.DoStep(); err == nil {
		t.Fatal("expected DoStep to fail before Initialize")
	}
}

// sumFunction computes out = a + b over two real inputs, grounded on
// spec.md's example of a stateless two-input adder.
type sumFunction struct {
	desc *function.Description
	a, b float64
	out  float64
}

func newSumFunction() *sumFunction {
	return &sumFunction{desc: &function.Description{
		Name: "sum",
		Io: []function.ResolvedIo{
			{ID: function.IoID{Type: model.Real, Io: 0}, Name: "a"},
			{ID: function.IoID{Type: model.Real, Io: 1}, Name: "b"},
			{ID: function.IoID{Type: model.Real, Io: 2}, Name: "out"},
		},
	}}
}

func (f *sumFunction) Description() *function.Description { return f.desc }
func (f *sumFunction) GetReal(ids []function.IoID) ([]float64, error) {
	out := make([]float64, len(ids))
	for i, id := range ids {
		switch id.Io {
		case 0:
			out[i] = f.a
		case 1:
			out[i] = f.b
		case 2:
			out[i] = f.out
		}
	}
	return out, nil
}
func (f *sumFunction) GetInteger([]function.IoID) ([]int64, error) { return nil, nil }
func (f *sumFunction) GetBoolean([]function.IoID) ([]bool, error) { return nil, nil }
func (f *sumFunction) GetString([]function.IoID) ([]string, error) { return nil, nil }
func (f *sumFunction) SetReal(ids []function.IoID, values []float64) error {
	for i, id := range ids {
		switch id.Io {
		case 0:
			f.a = values[i]
		case 1:
			f.b = values[i]
		}
	}
	return nil
}
func (f *sumFunction) SetInteger([]function.IoID, []int64) error { return nil }
func (f *sumFunction) SetBoolean([]function.IoID, []bool) error  { return nil }
func (f *sumFunction) SetString([]function.IoID, []string) error { return nil }
func (f *sumFunction) Calculate() error {
	f.out = f.a + f.b
	return nil
}

type fakeResolver struct {
	slaves    map[wrapper.SimulatorIndex]map[model.ValueRef]model.Causality
	functions map[function.Index]model.Type
}

func (r *fakeResolver) SlaveCausality(sim wrapper.SimulatorIndex, t model.Type, ref model.ValueRef) (model.Causality, bool) {
	c, ok := r.slaves[sim][ref]
	return c, ok
}
func (r *fakeResolver) FunctionIoType(id function.IoID) (model.Type, bool) {
	t, ok := r.functions[id.Function]
	return t, ok
}

func TestFunctionEvaluatesAfterSourcesStep(t *testing.T) {
	g := graph.New()
	a := NewFixedStep(Config{BaseStep: simtime.Second}, g)

	src0 := newCounterSlave()
	src1 := newCounterSlave()
	sink := newCounterSlave()
	w0 := wrapper.New(0, src0)
	w1 := wrapper.New(1, src1)
	w2 := wrapper.New(2, sink)
	w0.ExposeRealForGetting(2)
	w1.ExposeRealForGetting(2)
	w2.ExposeRealForSetting(1)

	if err := a.AddSimulator(0, w0, simtime.Second); err != nil {
		t.Fatal(err)
	}
	if err := a.AddSimulator(1, w1, simtime.Second); err != nil {
		t.Fatal(err)
	}
	if err := a.AddSimulator(2, w2, simtime.Second); err != nil {
		t.Fatal(err)
	}

	fn := newSumFunction()
	if err := a.AddFunction(0, fn); err != nil {
		t.Fatal(err)
	}

	r := &fakeResolver{
		slaves: map[wrapper.SimulatorIndex]map[model.ValueRef]model.Causality{
			0: {2: model.Output},
			1: {2: model.Output},
			2: {1: model.Input},
		},
		functions: map[function.Index]model.Type{0: model.Real},
	}
	mustConnect := func(src, tgt graph.Endpoint) {
		if err := g.Connect(r, src, tgt, nil); err != nil {
			t.Fatalf("Connect: %v", err)
		}
	}
	mustConnect(graph.SlaveVar(0, model.Real, 2), graph.FunctionVar(function.IoID{Function: 0, Type: model.Real, Io: 0}))
	mustConnect(graph.SlaveVar(1, model.Real, 2), graph.FunctionVar(function.IoID{Function: 0, Type: model.Real, Io: 1}))
	mustConnect(graph.FunctionVar(function.IoID{Function: 0, Type: model.Real, Io: 2}), graph.SlaveVar(2, model.Real, 1))

	if err := a.Setup(simtime.Zero, nil); err != nil {
		t.Fatal(err)
	}
	if err := a.Initialize(); err != nil {
		t.Fatal(err)
	}
	if _, _, err := a.DoStep(); err != nil {
		t.Fatal(err)
	}

	if fn.a != 1 || fn.b != 1 {
		t.Fatalf("fn inputs = (%v, %v), want (1, 1)", fn.a, fn.b)
	}
	if fn.out != 2 {
		t.Fatalf("fn.out = %v, want 2", fn.out)
	}
}
