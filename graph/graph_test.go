package graph

import (
	"testing"

	"github.com/cosimio/cosim-go/function"
	"github.com/cosimio/cosim-go/model"
	"github.com/cosimio/cosim-go/wrapper"
)

// fakeResolver answers causality/type questions from a fixed table,
// standing in for the execution's wrapper table in these unit tests.
type fakeResolver struct {
	slaves map[wrapper.SimulatorIndex]map[model.ValueRef]model.Causality
}

func (r *fakeResolver) SlaveCausality(sim wrapper.SimulatorIndex, t model.Type, ref model.ValueRef) (model.Causality, bool) {
	vars, ok := r.slaves[sim]
	if !ok {
		return 0, false
	}
	c, ok := vars[ref]
	return c, ok
}

func (r *fakeResolver) FunctionIoType(id function.IoID) (model.Type, bool) { return 0, false }

func TestConnectDisconnectRoundTrip(t *testing.T) {
	r := &fakeResolver{slaves: map[wrapper.SimulatorIndex]map[model.ValueRef]model.Causality{
		0: {1: model.Output},
		1: {1: model.Input},
	}}
	g := New()
	src := SlaveVar(0, model.Real, 1)
	tgt := SlaveVar(1, model.Real, 1)
	if err := g.Connect(r, src, tgt, nil); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if len(g.Connections()) != 1 {
		t.Fatalf("expected 1 connection, got %d", len(g.Connections()))
	}
	g.Disconnect(tgt)
	if len(g.Connections()) != 0 {
		t.Fatalf("expected graph empty after Disconnect, got %d", len(g.Connections()))
	}
}

func TestConnectRejectsSecondDriver(t *testing.T) {
	r := &fakeResolver{slaves: map[wrapper.SimulatorIndex]map[model.ValueRef]model.Causality{
		0: {1: model.Output},
		1: {1: model.Output, 2: model.Input},
	}}
	g := New()
	if err := g.Connect(r, SlaveVar(0, model.Real, 1), SlaveVar(1, model.Real, 2), nil); err != nil {
		t.Fatalf("first Connect: %v", err)
	}
	if err := g.Connect(r, SlaveVar(1, model.Real, 1), SlaveVar(1, model.Real, 2), nil); err == nil {
		t.Fatal("expected error connecting a second source to the same target")
	}
}

func TestConnectRejectsTypeMismatch(t *testing.T) {
	r := &fakeResolver{slaves: map[wrapper.SimulatorIndex]map[model.ValueRef]model.Causality{
		0: {1: model.Output},
		1: {1: model.Input},
	}}
	g := New()
	err := g.Connect(r, SlaveVar(0, model.Real, 1), SlaveVar(1, model.Integer, 1), nil)
	if err == nil {
		t.Fatal("expected type mismatch error")
	}
}

func TestLinearTransform(t *testing.T) {
	lt := LinearTransform{Factor: 1.3, Offset: 50}
	if got := lt.Apply(2.0); got != 52.6 {
		t.Fatalf("Apply(2.0) = %v, want 52.6", got)
	}
}

func TestRemoveSlaveCascades(t *testing.T) {
	r := &fakeResolver{slaves: map[wrapper.SimulatorIndex]map[model.ValueRef]model.Causality{
		0: {1: model.Output},
		1: {1: model.Input},
	}}
	g := New()
	if err := g.Connect(r, SlaveVar(0, model.Real, 1), SlaveVar(1, model.Real, 1), nil); err != nil {
		t.Fatal(err)
	}
	g.RemoveSlave(1)
	if len(g.Connections()) != 0 {
		t.Fatalf("expected connections removed after RemoveSlave, got %d", len(g.Connections()))
	}
}
