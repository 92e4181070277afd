// Command cosim-run wires up a small in-process co-simulation system
// and runs it to a fixed end time, printing the observed output of
// every connected variable after each macro step. It has no model
// loader of its own: both slaves are built-in identity models, wired
// together the same way a host program would wire real ones.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/cosimio/cosim-go/execution"
	"github.com/cosimio/cosim-go/graph"
	"github.com/cosimio/cosim-go/model"
	"github.com/cosimio/cosim-go/simtime"
	"github.com/cosimio/cosim-go/slave"
)

var (
	dashT     float64
	dashH     float64
	dashAIn   float64
	dashRT    bool
	dashRTFac float64
)

func init() {
	flag.Float64Var(&dashT, "t", 1.0, "simulated end time, in seconds")
	flag.Float64Var(&dashH, "h", 0.1, "fixed macro-step size, in seconds")
	flag.Float64Var(&dashAIn, "a-in", 2.0, "initial value of slave a's input")
	flag.BoolVar(&dashRT, "realtime", false, "pace execution to wall-clock time")
	flag.Float64Var(&dashRTFac, "realtime-factor", 1.0, "target simulated-seconds-per-wall-second when -realtime is set")
}

const (
	inRef  model.ValueRef = 1
	outRef model.ValueRef = 2
)

// identity is a minimal slave whose single real output always equals
// its single real input from the previous step: the `id` slave
// spec.md §8 scenario 1 and 2 both build their assertions around.
type identity struct {
	desc *model.Description
	in   float64
	out  float64
}

func newIdentity(name string) *identity {
	return &identity{desc: &model.Description{
		Name: name,
		Variables: []model.Variable{
			{Name: "in", Reference: inRef, Type: model.Real, Causality: model.Input},
			{Name: "out", Reference: outRef, Type: model.Real, Causality: model.Output},
		},
	}}
}

func (s *identity) Description() *model.Description                         { return s.desc }
func (s *identity) Setup(simtime.Point, *simtime.Point, *float64) error     { return nil }
func (s *identity) GetInteger([]model.ValueRef) ([]int64, error)           { return nil, nil }
func (s *identity) GetBoolean([]model.ValueRef) ([]bool, error)            { return nil, nil }
func (s *identity) GetString([]model.ValueRef) ([]string, error)           { return nil, nil }
func (s *identity) SetInteger([]model.ValueRef, []int64) error            { return nil }
func (s *identity) SetBoolean([]model.ValueRef, []bool) error             { return nil }
func (s *identity) SetString([]model.ValueRef, []string) error            { return nil }
func (s *identity) DoIteration() error                                     { return nil }
func (s *identity) StartSimulation() error                                 { return nil }
func (s *identity) EndSimulation() error                                   { return nil }

func (s *identity) GetReal(refs []model.ValueRef) ([]float64, error) {
	out := make([]float64, len(refs))
	for i, ref := range refs {
		switch ref {
		case inRef:
			out[i] = s.in
		case outRef:
			out[i] = s.out
		}
	}
	return out, nil
}

func (s *identity) SetReal(refs []model.ValueRef, values []float64) error {
	for i, ref := range refs {
		if ref == inRef {
			s.in = values[i]
		}
	}
	return nil
}

func (s *identity) DoStep(simtime.Point, simtime.Duration) (slave.StepResult, error) {
	s.out = s.in
	return slave.Complete, nil
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	stop := simtime.PointFromSeconds(dashT)
	e := execution.New(execution.Config{
		StartTime:    simtime.Zero,
		StopTime:     &stop,
		BaseStepSize: simtime.FromSeconds(dashH),
		RealTime: execution.RealTimeConfig{
			Enabled:      dashRT,
			FactorTarget: dashRTFac,
		},
		Logger: log.New(os.Stderr, "cosim-run: ", log.LstdFlags),
	})

	a := newIdentity("a")
	a.in = dashAIn
	b := newIdentity("b")

	aIdx, err := e.AddSlave(a, 0)
	if err != nil {
		return fmt.Errorf("add slave a: %w", err)
	}
	bIdx, err := e.AddSlave(b, 0)
	if err != nil {
		return fmt.Errorf("add slave b: %w", err)
	}

	// a.out -> b.in, scaled by factor=1.3, offset=50; b.out -> a.in,
	// unscaled. This is the two-slave ring spec.md §8 scenario 2 names.
	if err := e.ConnectVariables(
		graph.SlaveVar(aIdx, model.Real, outRef),
		graph.SlaveVar(bIdx, model.Real, inRef),
		&graph.LinearTransform{Factor: 1.3, Offset: 50},
	); err != nil {
		return fmt.Errorf("connect a.out -> b.in: %w", err)
	}
	if err := e.ConnectVariables(
		graph.SlaveVar(bIdx, model.Real, outRef),
		graph.SlaveVar(aIdx, model.Real, inRef),
		nil,
	); err != nil {
		return fmt.Errorf("connect b.out -> a.in: %w", err)
	}

	if err := e.Initialize(); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	for e.CurrentTime().Before(stop) {
		t, err := e.Step()
		if err != nil {
			return fmt.Errorf("step: %w", err)
		}
		fmt.Printf("t=%.3f a.in=%.4f a.out=%.4f b.in=%.4f b.out=%.4f\n",
			t.Seconds(), a.in, a.out, b.in, b.out)
	}
	return nil
}
