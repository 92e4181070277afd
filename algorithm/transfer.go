package algorithm

import (
	"github.com/cosimio/cosim-go/cosimerr"
	"github.com/cosimio/cosim-go/function"
	"github.com/cosimio/cosim-go/graph"
	"github.com/cosimio/cosim-go/model"
)

// transfer moves conn's current source value onto its target,
// applying conn.Transform when present. Reading from a slave source
// reads the wrapper's last-pulled output, which may predate the
// current macro step if the source simulator is decimated and was not
// due this step — exactly the "most recently committed by the
// producer at or before the current step" rule connections across
// differing decimation factors rely on.
func (a *FixedStep) transfer(conn graph.Connection) error {
	// String-typed connections are type-exact per spec.md §4.3 (legal,
	// just never carrying a LinearTransform — graph.Graph.validate
	// already rejects a transform on any non-real endpoint) and are
	// transferred through their own path rather than the float64 one
	// below, since a string has no numeric coercion.
	if conn.Source.Type == model.String {
		value, err := a.readSourceString(conn.Source)
		if err != nil {
			return err
		}
		return a.writeTargetString(conn.Target, value)
	}

	value, err := a.readSource(conn.Source)
	if err != nil {
		return err
	}
	if conn.Transform != nil {
		value = conn.Transform.Apply(value)
	}
	return a.writeTarget(conn.Target, value)
}

// readSource and writeTarget are defined only over model.Real, Integer,
// and Boolean: every connection the graph accepts a transform on is
// real-valued, and integer/boolean pass through this same numeric path
// unscaled. String endpoints use readSourceString/writeTargetString
// instead.
func (a *FixedStep) readSource(src graph.Endpoint) (float64, error) {
	switch src.Kind {
	case graph.SlaveEndpoint:
		return a.readSlave(src)
	case graph.FunctionEndpoint:
		return a.readFunction(src)
	default:
		return 0, cosimerr.New(cosimerr.LogicError, "unknown endpoint kind")
	}
}

func (a *FixedStep) readSourceString(src graph.Endpoint) (string, error) {
	switch src.Kind {
	case graph.SlaveEndpoint:
		return a.readSlaveString(src)
	case graph.FunctionEndpoint:
		return a.readFunctionString(src)
	default:
		return "", cosimerr.New(cosimerr.LogicError, "unknown endpoint kind")
	}
}

func (a *FixedStep) writeTargetString(tgt graph.Endpoint, value string) error {
	switch tgt.Kind {
	case graph.SlaveEndpoint:
		return a.writeSlaveString(tgt, value)
	case graph.FunctionEndpoint:
		return a.writeFunctionString(tgt, value)
	default:
		return cosimerr.New(cosimerr.LogicError, "unknown endpoint kind")
	}
}

func (a *FixedStep) readSlaveString(ep graph.Endpoint) (string, error) {
	w, ok := a.wrappers[ep.Simulator]
	if !ok {
		return "", cosimerr.New(cosimerr.InvalidSystemStructure, "simulator %d not known", ep.Simulator)
	}
	v, ok := w.GetString(ep.Ref)
	if !ok {
		return "", cosimerr.New(cosimerr.InvalidSystemStructure, "simulator %d: string ref %d not exposed for getting", ep.Simulator, ep.Ref)
	}
	return v, nil
}

func (a *FixedStep) writeSlaveString(ep graph.Endpoint, value string) error {
	w, ok := a.wrappers[ep.Simulator]
	if !ok {
		return cosimerr.New(cosimerr.InvalidSystemStructure, "simulator %d not known", ep.Simulator)
	}
	return w.SetString(ep.Ref, value)
}

func (a *FixedStep) readFunctionString(ep graph.Endpoint) (string, error) {
	f, ok := a.functions[ep.Io.Function]
	if !ok {
		return "", cosimerr.New(cosimerr.InvalidSystemStructure, "function %d not known", ep.Io.Function)
	}
	vs, err := f.GetString([]function.IoID{ep.Io})
	if err != nil {
		return "", err
	}
	return vs[0], nil
}

func (a *FixedStep) writeFunctionString(ep graph.Endpoint, value string) error {
	f, ok := a.functions[ep.Io.Function]
	if !ok {
		return cosimerr.New(cosimerr.InvalidSystemStructure, "function %d not known", ep.Io.Function)
	}
	return f.SetString([]function.IoID{ep.Io}, []string{value})
}

func (a *FixedStep) writeTarget(tgt graph.Endpoint, value float64) error {
	switch tgt.Kind {
	case graph.SlaveEndpoint:
		return a.writeSlave(tgt, value)
	case graph.FunctionEndpoint:
		return a.writeFunction(tgt, value)
	default:
		return cosimerr.New(cosimerr.LogicError, "unknown endpoint kind")
	}
}

func (a *FixedStep) readSlave(ep graph.Endpoint) (float64, error) {
	w, ok := a.wrappers[ep.Simulator]
	if !ok {
		return 0, cosimerr.New(cosimerr.InvalidSystemStructure, "simulator %d not known", ep.Simulator)
	}
	switch ep.Type {
	case model.Real:
		v, ok := w.GetReal(ep.Ref)
		if !ok {
			return 0, cosimerr.New(cosimerr.InvalidSystemStructure, "simulator %d: real ref %d not exposed for getting", ep.Simulator, ep.Ref)
		}
		return v, nil
	case model.Integer:
		v, ok := w.GetInteger(ep.Ref)
		if !ok {
			return 0, cosimerr.New(cosimerr.InvalidSystemStructure, "simulator %d: integer ref %d not exposed for getting", ep.Simulator, ep.Ref)
		}
		return float64(v), nil
	case model.Boolean:
		v, ok := w.GetBoolean(ep.Ref)
		if !ok {
			return 0, cosimerr.New(cosimerr.InvalidSystemStructure, "simulator %d: boolean ref %d not exposed for getting", ep.Simulator, ep.Ref)
		}
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, cosimerr.New(cosimerr.InvalidSystemStructure, "variable type %v cannot be transferred as a numeric value", ep.Type)
	}
}

func (a *FixedStep) writeSlave(ep graph.Endpoint, value float64) error {
	w, ok := a.wrappers[ep.Simulator]
	if !ok {
		return cosimerr.New(cosimerr.InvalidSystemStructure, "simulator %d not known", ep.Simulator)
	}
	switch ep.Type {
	case model.Real:
		return w.SetReal(ep.Ref, value)
	case model.Integer:
		return w.SetInteger(ep.Ref, int64(value))
	case model.Boolean:
		return w.SetBoolean(ep.Ref, value != 0)
	default:
		return cosimerr.New(cosimerr.InvalidSystemStructure, "variable type %v cannot be transferred as a numeric value", ep.Type)
	}
}

func (a *FixedStep) readFunction(ep graph.Endpoint) (float64, error) {
	f, ok := a.functions[ep.Io.Function]
	if !ok {
		return 0, cosimerr.New(cosimerr.InvalidSystemStructure, "function %d not known", ep.Io.Function)
	}
	ids := []function.IoID{ep.Io}
	switch ep.Type {
	case model.Real:
		vs, err := f.GetReal(ids)
		if err != nil {
			return 0, err
		}
		return vs[0], nil
	case model.Integer:
		vs, err := f.GetInteger(ids)
		if err != nil {
			return 0, err
		}
		return float64(vs[0]), nil
	case model.Boolean:
		vs, err := f.GetBoolean(ids)
		if err != nil {
			return 0, err
		}
		if vs[0] {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, cosimerr.New(cosimerr.InvalidSystemStructure, "variable type %v cannot be transferred as a numeric value", ep.Type)
	}
}

func (a *FixedStep) writeFunction(ep graph.Endpoint, value float64) error {
	f, ok := a.functions[ep.Io.Function]
	if !ok {
		return cosimerr.New(cosimerr.InvalidSystemStructure, "function %d not known", ep.Io.Function)
	}
	ids := []function.IoID{ep.Io}
	switch ep.Type {
	case model.Real:
		return f.SetReal(ids, []float64{value})
	case model.Integer:
		return f.SetInteger(ids, []int64{int64(value)})
	case model.Boolean:
		return f.SetBoolean(ids, []bool{value != 0})
	default:
		return cosimerr.New(cosimerr.InvalidSystemStructure, "variable type %v cannot be transferred as a numeric value", ep.Type)
	}
}
