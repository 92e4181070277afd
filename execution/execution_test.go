package execution

import (
	"testing"
	"time"

	"github.com/cosimio/cosim-go/blob"
	"github.com/cosimio/cosim-go/graph"
	"github.com/cosimio/cosim-go/model"
	"github.com/cosimio/cosim-go/simtime"
	"github.com/cosimio/cosim-go/slave"
)

// identitySlave exposes a single real variable: an output (sourceRef)
// when built by newSourceSlave, an input (sinkRef) when built by
// newSinkSlave.
// It is deliberately minimal: the goal is to exercise Execution's
// wiring, not a realistic model.
type identitySlave struct {
	desc       *model.Description
	value      float64
	saved      map[int]float64
	nextHandle int
	// stepDelay, if set, is slept at the start of every DoStep. Used to
	// slow a simulation down enough for a test to observe a
	// StopSimulation call landing mid-run rather than racing it.
	stepDelay time.Duration
}

const (
	sourceRef model.ValueRef = 1
	sinkRef   model.ValueRef = 1
)

func newSourceSlave(start float64) *identitySlave {
	return &identitySlave{
		value: start,
		desc: &model.Description{
			Name: "source",
			Variables: []model.Variable{
				{Name: "out", Reference: sourceRef, Type: model.Real, Causality: model.Output},
			},
			Capabilities: model.Capabilities{CanSaveState: true},
		},
	}
}

func newSinkSlave() *identitySlave {
	return &identitySlave{
		desc: &model.Description{
			Name: "sink",
			Variables: []model.Variable{
				{Name: "in", Reference: sinkRef, Type: model.Real, Causality: model.Input},
			},
		},
	}
}

func (s *identitySlave) Description() *model.Description { return s.desc }
func (s *identitySlave) Setup(simtime.Point, *simtime.Point, *float64) error { return nil }
func (s *identitySlave) GetReal(refs []model.ValueRef) ([]float64, error) {
	out := make([]float64, len(refs))
	for i := range refs {
		out[i] = s.value
	}
	return out, nil
}
func (s *identitySlave) GetInteger(refs []model.ValueRef) ([]int64, error)  { return make([]int64, len(refs)), nil }
func (s *identitySlave) GetBoolean(refs []model.ValueRef) ([]bool, error)   { return make([]bool, len(refs)), nil }
func (s *identitySlave) GetString(refs []model.ValueRef) ([]string, error)  { return make([]string, len(refs)), nil }
func (s *identitySlave) SetReal(refs []model.ValueRef, values []float64) error {
	if len(values) > 0 {
		s.value = values[len(values)-1]
	}
	return nil
}
func (s *identitySlave) SetInteger([]model.ValueRef, []int64) error { return nil }
func (s *identitySlave) SetBoolean([]model.ValueRef, []bool) error  { return nil }
func (s *identitySlave) SetString([]model.ValueRef, []string) error { return nil }
func (s *identitySlave) DoIteration() error                        { return nil }
func (s *identitySlave) StartSimulation() error                    { return nil }
func (s *identitySlave) DoStep(simtime.Point, simtime.Duration) (slave.StepResult, error) {
	if s.stepDelay > 0 {
		time.Sleep(s.stepDelay)
	}
	return slave.Complete, nil
}
func (s *identitySlave) EndSimulation() error { return nil }

// identitySlave's StateSaver implementation is a minimal fake: it
// saves only the current value under the given handle, keyed in a map
// rather than a real checkpoint stack, since tests only round-trip one
// handle at a time.
func (s *identitySlave) SaveState() (int, error) {
	if s.saved == nil {
		s.saved = make(map[int]float64)
	}
	s.nextHandle++
	s.saved[s.nextHandle] = s.value
	return s.nextHandle, nil
}
func (s *identitySlave) SaveStateTo(idx int) error {
	s.saved[idx] = s.value
	return nil
}
func (s *identitySlave) RestoreState(idx int) error {
	s.value = s.saved[idx]
	return nil
}
func (s *identitySlave) ReleaseState(idx int) error {
	delete(s.saved, idx)
	return nil
}
func (s *identitySlave) ExportState(idx int) (blob.Node, error) {
	return blob.Float64(s.saved[idx]), nil
}
func (s *identitySlave) ImportState(node blob.Node) (int, error) {
	v, _ := node.Float()
	s.nextHandle++
	if s.saved == nil {
		s.saved = make(map[int]float64)
	}
	s.saved[s.nextHandle] = v
	return s.nextHandle, nil
}

func newRingExecution(t *testing.T) (*Execution, sourceSinkPair) {
	t.Helper()
	stop := simtime.PointFromSeconds(1.0)
	e := New(Config{
		StartTime:    simtime.Zero,
		StopTime:     &stop,
		BaseStepSize: simtime.FromSeconds(0.1),
	})

	src := newSourceSlave(3.0)
	sink := newSinkSlave()

	srcIdx, err := e.AddSlave(src, 0)
	if err != nil {
		t.Fatalf("AddSlave(source): %v", err)
	}
	sinkIdx, err := e.AddSlave(sink, 0)
	if err != nil {
		t.Fatalf("AddSlave(sink): %v", err)
	}

	if err := e.ConnectVariables(
		graph.SlaveVar(srcIdx, model.Real, sourceRef),
		graph.SlaveVar(sinkIdx, model.Real, sinkRef),
		nil,
	); err != nil {
		t.Fatalf("ConnectVariables: %v", err)
	}

	return e, sourceSinkPair{src: src, sink: sink}
}

type sourceSinkPair struct {
	src, sink *identitySlave
}

func TestInitializeAndStepPropagatesValue(t *testing.T) {
	e, pair := newRingExecution(t)

	if err := e.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := e.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}

	if pair.sink.value != 3.0 {
		t.Fatalf("sink.value = %v, want 3.0", pair.sink.value)
	}
}

func TestConnectVariablesRejectedAfterInitialize(t *testing.T) {
	e, _ := newRingExecution(t)
	if err := e.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	extra := newSinkSlave()
	idx, err := e.AddSlave(extra, 0)
	if err == nil {
		t.Fatalf("AddSlave after Initialize unexpectedly succeeded (idx=%v)", idx)
	}

	if err := e.ConnectVariables(graph.SlaveVar(0, model.Real, sourceRef), graph.SlaveVar(1, model.Real, sinkRef), nil); err == nil {
		t.Fatal("ConnectVariables after Initialize should be rejected")
	}
}

func TestSimulateUntilReachesTarget(t *testing.T) {
	e, _ := newRingExecution(t)
	if err := e.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	target := simtime.PointFromSeconds(1.0)
	done, err := e.SimulateUntil(&target)
	if err != nil {
		t.Fatalf("SimulateUntil: %v", err)
	}

	select {
	case reached := <-done:
		if !reached {
			t.Fatal("SimulateUntil resolved false, want true")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("SimulateUntil did not resolve in time")
	}

	if e.IsRunning() {
		t.Fatal("IsRunning() true after SimulateUntil resolved")
	}
}

func TestSimulateUntilRejectsConcurrentCall(t *testing.T) {
	stop := simtime.PointFromSeconds(1000.0)
	e := New(Config{
		StartTime:    simtime.Zero,
		StopTime:     &stop,
		BaseStepSize: simtime.FromSeconds(1.0),
	})
	src := newSourceSlave(3.0)
	src.stepDelay = 50 * time.Millisecond
	sink := newSinkSlave()
	srcIdx, err := e.AddSlave(src, 0)
	if err != nil {
		t.Fatalf("AddSlave(source): %v", err)
	}
	sinkIdx, err := e.AddSlave(sink, 0)
	if err != nil {
		t.Fatalf("AddSlave(sink): %v", err)
	}
	if err := e.ConnectVariables(graph.SlaveVar(srcIdx, model.Real, sourceRef), graph.SlaveVar(sinkIdx, model.Real, sinkRef), nil); err != nil {
		t.Fatalf("ConnectVariables: %v", err)
	}
	if err := e.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// Far enough away that the run is still in flight once we attempt
	// the concurrent calls below.
	target := simtime.PointFromSeconds(100.0)
	done, err := e.SimulateUntil(&target)
	if err != nil {
		t.Fatalf("first SimulateUntil: %v", err)
	}

	if _, err := e.SimulateUntil(&target); err == nil {
		t.Fatal("second concurrent SimulateUntil should fail")
	}
	if _, err := e.Step(); err == nil {
		t.Fatal("manual Step while SimulateUntil is running should fail")
	}

	e.StopSimulation()
	<-done
}

// TestStopDuringLongSimulation exercises the "stop during long
// simulation" scenario: simulate_until with a distant target, stopped
// from another goroutine shortly after starting. The future must
// resolve false, and current_time must land strictly between start and
// target.
func TestStopDuringLongSimulation(t *testing.T) {
	stop := simtime.PointFromSeconds(1000.0)
	e := New(Config{
		StartTime:    simtime.Zero,
		StopTime:     &stop,
		BaseStepSize: simtime.FromSeconds(1.0),
	})
	// A per-step sleep slows the run down to roughly one macro step per
	// 20ms of wall time, long enough that StopSimulation reliably lands
	// mid-run instead of racing SimulateUntil to completion.
	src := newSourceSlave(1.0)
	src.stepDelay = 20 * time.Millisecond
	sink := newSinkSlave()
	srcIdx, err := e.AddSlave(src, 0)
	if err != nil {
		t.Fatalf("AddSlave(source): %v", err)
	}
	sinkIdx, err := e.AddSlave(sink, 0)
	if err != nil {
		t.Fatalf("AddSlave(sink): %v", err)
	}
	if err := e.ConnectVariables(graph.SlaveVar(srcIdx, model.Real, sourceRef), graph.SlaveVar(sinkIdx, model.Real, sinkRef), nil); err != nil {
		t.Fatalf("ConnectVariables: %v", err)
	}
	if err := e.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	target := simtime.PointFromSeconds(100.0)
	done, err := e.SimulateUntil(&target)
	if err != nil {
		t.Fatalf("SimulateUntil: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	e.StopSimulation()

	select {
	case reached := <-done:
		if reached {
			t.Fatal("SimulateUntil resolved true, want false (stopped early)")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("SimulateUntil did not resolve after StopSimulation")
	}

	t_ := e.CurrentTime()
	if !t_.After(simtime.Zero) || !t_.Before(target) {
		t.Fatalf("current time %v not strictly between start and target %v", t_, target)
	}
}

func TestSaveRestoreStateRoundTrip(t *testing.T) {
	e, pair := newRingExecution(t)
	if err := e.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := e.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}

	handle, err := e.SaveState()
	if err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	pair.src.value = 99.0
	if _, err := e.Step(); err != nil {
		t.Fatalf("Step after mutation: %v", err)
	}

	if err := e.RestoreState(handle); err != nil {
		t.Fatalf("RestoreState: %v", err)
	}

	if err := e.ReleaseState(handle); err != nil {
		t.Fatalf("ReleaseState: %v", err)
	}
}
