// Package graph implements the connection graph: typed, directed edges
// between slave variables and function IO, with type checking and an
// optional linear transform on real-valued edges.
package graph

import (
	"github.com/cosimio/cosim-go/cosimerr"
	"github.com/cosimio/cosim-go/function"
	"github.com/cosimio/cosim-go/model"
	"github.com/cosimio/cosim-go/wrapper"
)

// EndpointKind distinguishes a slave-variable endpoint from a
// function-IO endpoint.
type EndpointKind int

const (
	SlaveEndpoint EndpointKind = iota
	FunctionEndpoint
)

// Endpoint identifies one variable that can serve as a connection
// source or target: either (simulator, type, ref) or a function IoID.
type Endpoint struct {
	Kind      EndpointKind
	Simulator wrapper.SimulatorIndex
	Type      model.Type
	Ref       model.ValueRef
	Io        function.IoID
}

// SlaveVar constructs an Endpoint referring to a slave variable.
func SlaveVar(sim wrapper.SimulatorIndex, t model.Type, ref model.ValueRef) Endpoint {
	return Endpoint{Kind: SlaveEndpoint, Simulator: sim, Type: t, Ref: ref}
}

// FunctionVar constructs an Endpoint referring to a function IO.
func FunctionVar(id function.IoID) Endpoint {
	return Endpoint{Kind: FunctionEndpoint, Type: id.Type, Io: id}
}

// key identifies an Endpoint for use as a map key. A slave endpoint's
// key includes its logical Type, since a slave variable is identified by
// (Type, ValueRef); a function endpoint's key is its IoID.
type key struct {
	kind      EndpointKind
	simulator wrapper.SimulatorIndex
	typ       model.Type
	ref       model.ValueRef
	io        function.IoID
}

func (e Endpoint) key() key {
	if e.Kind == SlaveEndpoint {
		return key{kind: SlaveEndpoint, simulator: e.Simulator, typ: e.Type, ref: e.Ref}
	}
	return key{kind: FunctionEndpoint, io: e.Io}
}

// LinearTransform is an optional affine transform applied to real
// values at transfer time: y = factor*x + offset.
type LinearTransform struct {
	Factor float64
	Offset float64
}

// Apply evaluates the transform on x.
func (lt LinearTransform) Apply(x float64) float64 {
	return lt.Factor*x + lt.Offset
}

// Connection is one directed edge of the graph.
type Connection struct {
	Source    Endpoint
	Target    Endpoint
	Transform *LinearTransform // only meaningful for model.Real edges
}

// Resolver answers causality and type questions about an endpoint.
// Slave endpoints are resolved against a model.Description; function
// endpoints are resolved against a function.Description. The graph
// itself holds no slave or function state, so callers of Connect
// supply a Resolver that can answer these questions.
type Resolver interface {
	SlaveCausality(sim wrapper.SimulatorIndex, t model.Type, ref model.ValueRef) (model.Causality, bool)
	FunctionIoType(id function.IoID) (model.Type, bool)
}

// Graph holds the set of connections among slave variables and
// function IO. The zero Graph is ready to use.
type Graph struct {
	byTarget map[key]Connection
	bySource map[key][]Connection
}

func New() *Graph {
	return &Graph{
		byTarget: make(map[key]Connection),
		bySource: make(map[key][]Connection),
	}
}

// validate resolves src/tgt's type and readability/writability
// using r, returning a cosimerr.InvalidSystemStructure error identifying
// the problem if resolution or admissibility fails.
func (g *Graph) validate(r Resolver, src, tgt Endpoint, transform *LinearTransform) error {
	var srcType, tgtType model.Type
	var srcReadable, tgtWritable bool

	if src.Kind == SlaveEndpoint {
		c, ok := r.SlaveCausality(src.Simulator, src.Type, src.Ref)
		if !ok {
			return cosimerr.New(cosimerr.InvalidSystemStructure, "connect: source slave variable does not exist")
		}
		srcType, srcReadable = src.Type, c.Readable()
	} else {
		t, ok := r.FunctionIoType(src.Io)
		if !ok {
			return cosimerr.New(cosimerr.InvalidSystemStructure, "connect: source function io does not exist")
		}
		srcType, srcReadable = t, true // function outputs are always readable
	}

	if tgt.Kind == SlaveEndpoint {
		c, ok := r.SlaveCausality(tgt.Simulator, tgt.Type, tgt.Ref)
		if !ok {
			return cosimerr.New(cosimerr.InvalidSystemStructure, "connect: target slave variable does not exist")
		}
		tgtType, tgtWritable = tgt.Type, c.Writable()
	} else {
		t, ok := r.FunctionIoType(tgt.Io)
		if !ok {
			return cosimerr.New(cosimerr.InvalidSystemStructure, "connect: target function io does not exist")
		}
		tgtType, tgtWritable = t, true // function inputs are always writable
	}

	if srcType != tgtType {
		return cosimerr.New(cosimerr.InvalidSystemStructure, "connect: type mismatch (%v vs %v)", srcType, tgtType)
	}
	if !srcReadable {
		return cosimerr.New(cosimerr.InvalidSystemStructure, "connect: source causality does not permit reading")
	}
	if !tgtWritable {
		return cosimerr.New(cosimerr.InvalidSystemStructure, "connect: target causality does not permit writing")
	}
	if transform != nil && srcType != model.Real {
		return cosimerr.New(cosimerr.InvalidSystemStructure, "connect: linear transform only applies to real variables")
	}
	return nil
}

// Connect adds a directed edge from src to tgt, with an optional linear
// transform (only legal when both endpoints are model.Real). It fails
// with cosimerr.InvalidSystemStructure if either endpoint does not
// exist, the causalities are incompatible, the types mismatch, or tgt
// already has a source.
func (g *Graph) Connect(r Resolver, src, tgt Endpoint, transform *LinearTransform) error {
	if err := g.validate(r, src, tgt, transform); err != nil {
		return err
	}
	tk := tgt.key()
	if _, exists := g.byTarget[tk]; exists {
		return cosimerr.New(cosimerr.InvalidSystemStructure, "connect: target already has a source connection")
	}
	if g.byTarget == nil {
		g.byTarget = make(map[key]Connection)
		g.bySource = make(map[key][]Connection)
	}
	conn := Connection{Source: src, Target: tgt, Transform: transform}
	g.byTarget[tk] = conn
	sk := src.key()
	g.bySource[sk] = append(g.bySource[sk], conn)
	return nil
}

// Disconnect removes the edge targeting tgt, if any. It is a no-op if
// tgt has no incoming connection.
func (g *Graph) Disconnect(tgt Endpoint) {
	tk := tgt.key()
	conn, ok := g.byTarget[tk]
	if !ok {
		return
	}
	delete(g.byTarget, tk)
	sk := conn.Source.key()
	list := g.bySource[sk]
	for i, c := range list {
		if c.Target.key() == tk {
			g.bySource[sk] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(g.bySource[sk]) == 0 {
		delete(g.bySource, sk)
	}
}

// RemoveSlave removes every connection touching simulator sim, as
// either a source or a target.
func (g *Graph) RemoveSlave(sim wrapper.SimulatorIndex) {
	g.removeWhere(func(e Endpoint) bool { return e.Kind == SlaveEndpoint && e.Simulator == sim })
}

// RemoveFunction removes every connection touching function fn.
func (g *Graph) RemoveFunction(fn function.Index) {
	g.removeWhere(func(e Endpoint) bool { return e.Kind == FunctionEndpoint && e.Io.Function == fn })
}

func (g *Graph) removeWhere(touches func(Endpoint) bool) {
	var targets []Endpoint
	for _, conn := range g.byTarget {
		if touches(conn.Source) || touches(conn.Target) {
			targets = append(targets, conn.Target)
		}
	}
	for _, tgt := range targets {
		g.Disconnect(tgt)
	}
}

// SourceOf returns the connection targeting tgt, if any.
func (g *Graph) SourceOf(tgt Endpoint) (Connection, bool) {
	conn, ok := g.byTarget[tgt.key()]
	return conn, ok
}

// TargetsOf returns every connection sourced from src, in no
// particular order.
func (g *Graph) TargetsOf(src Endpoint) []Connection {
	return append([]Connection(nil), g.bySource[src.key()]...)
}

// Connections returns every connection in the graph, in no particular
// order.
func (g *Graph) Connections() []Connection {
	out := make([]Connection, 0, len(g.byTarget))
	for _, c := range g.byTarget {
		out = append(out, c)
	}
	return out
}
