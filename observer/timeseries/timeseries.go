// Package timeseries implements an in-memory, bounded-history observer
// that records every step's value for a caller-selected set of
// variables, grounded on the original C++ time_series_observer: a
// fixed-capacity ring buffer per observed variable, keyed by simulator
// index and value reference.
package timeseries

import (
	"github.com/cosimio/cosim-go/cosimerr"
	"github.com/cosimio/cosim-go/graph"
	"github.com/cosimio/cosim-go/model"
	"github.com/cosimio/cosim-go/simtime"
	"github.com/cosimio/cosim-go/wrapper"
)

// DefaultBufferSize matches the original observer's default of 10000
// samples per observed variable.
const DefaultBufferSize = 10000

type key struct {
	sim wrapper.SimulatorIndex
	typ model.Type
	ref model.ValueRef
}

// sample is one recorded observation. integ doubles as a boolean's 0/1
// when the observed variable is model.Boolean.
type sample struct {
	step  int64
	t     simtime.Point
	real  float64
	integ int64
}

// ring is a fixed-capacity circular buffer of samples. Once full, the
// oldest sample is overwritten by the newest.
type ring struct {
	buf   []sample
	next  int
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]sample, capacity)}
}

func (r *ring) push(s sample) {
	r.buf[r.next] = s
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// since returns every sample with step >= fromStep, oldest first.
func (r *ring) since(fromStep int64) []sample {
	out := make([]sample, 0, r.count)
	start := r.next - r.count
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.count; i++ {
		s := r.buf[(start+i)%len(r.buf)]
		if s.step >= fromStep {
			out = append(out, s)
		}
	}
	return out
}

// Observer records samples for a caller-selected set of variables.
// The zero Observer is not usable; construct with New.
type Observer struct {
	bufSize int
	sources map[wrapper.SimulatorIndex]*wrapper.Wrapper
	watched map[key]*ring
	step    int64
}

// New creates an Observer that buffers up to bufSize samples per
// observed variable. A non-positive bufSize uses DefaultBufferSize.
func New(bufSize int) *Observer {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Observer{
		bufSize: bufSize,
		sources: make(map[wrapper.SimulatorIndex]*wrapper.Wrapper),
		watched: make(map[key]*ring),
	}
}

// StartObserving begins recording (sim, typ, ref). Samples are
// captured from the next StepComplete onward; no history prior to this
// call is retroactively available.
func (o *Observer) StartObserving(sim wrapper.SimulatorIndex, typ model.Type, ref model.ValueRef) {
	o.watched[key{sim, typ, ref}] = newRing(o.bufSize)
}

// StopObserving discards the recorded history for (sim, typ, ref) and
// stops recording new samples for it.
func (o *Observer) StopObserving(sim wrapper.SimulatorIndex, typ model.Type, ref model.ValueRef) {
	delete(o.watched, key{sim, typ, ref})
}

// --- observer.Observer ---

func (o *Observer) SimulatorAdded(idx wrapper.SimulatorIndex, w *wrapper.Wrapper) {
	o.sources[idx] = w
}

func (o *Observer) SimulatorRemoved(idx wrapper.SimulatorIndex) {
	delete(o.sources, idx)
	for k := range o.watched {
		if k.sim == idx {
			delete(o.watched, k)
		}
	}
}

func (o *Observer) VariablesConnected(graph.Connection) {}
func (o *Observer) VariableDisconnected(graph.Endpoint)  {}
func (o *Observer) SimulationInitialized()               {}

func (o *Observer) StepComplete(t simtime.Point, delta simtime.Duration, stepped []wrapper.SimulatorIndex) {
	o.step++
	for k, r := range o.watched {
		w, ok := o.sources[k.sim]
		if !ok {
			continue
		}
		s := sample{step: o.step, t: t}
		switch k.typ {
		case model.Real:
			if v, ok := w.GetReal(k.ref); ok {
				s.real = v
			}
		case model.Integer:
			if v, ok := w.GetInteger(k.ref); ok {
				s.integ = v
			}
		case model.Boolean:
			if v, ok := w.GetBoolean(k.ref); ok && v {
				s.integ = 1
			}
		default:
			continue // string variables are not recorded: no numeric sample slot
		}
		r.push(s)
	}
}

func (o *Observer) SimulatorStepComplete(wrapper.SimulatorIndex, simtime.Point, simtime.Duration) {}

// StateRestored always fails: the observer's recorded history cannot
// be reconstructed from a restored slave's current values alone.
func (o *Observer) StateRestored(handle int) error {
	return cosimerr.New(cosimerr.UnsupportedFeature, "timeseries observer cannot rebuild recorded history from restored state")
}

// --- sample retrieval ---

// RealSamples returns every recorded real sample for (sim, ref) with
// step >= fromStep, oldest first, alongside the step numbers and
// simulation times they were taken at.
func (o *Observer) RealSamples(sim wrapper.SimulatorIndex, ref model.ValueRef, fromStep int64) (values []float64, steps []int64, times []simtime.Point) {
	r, ok := o.watched[key{sim, model.Real, ref}]
	if !ok {
		return nil, nil, nil
	}
	for _, s := range r.since(fromStep) {
		values = append(values, s.real)
		steps = append(steps, s.step)
		times = append(times, s.t)
	}
	return values, steps, times
}

// IntegerSamples returns every recorded integer sample for (sim, ref)
// with step >= fromStep, oldest first.
func (o *Observer) IntegerSamples(sim wrapper.SimulatorIndex, ref model.ValueRef, fromStep int64) (values []int64, steps []int64, times []simtime.Point) {
	r, ok := o.watched[key{sim, model.Integer, ref}]
	if !ok {
		return nil, nil, nil
	}
	for _, s := range r.since(fromStep) {
		values = append(values, s.integ)
		steps = append(steps, s.step)
		times = append(times, s.t)
	}
	return values, steps, times
}
