// Package function declares the stateless, synchronous computation
// block the core can wire between slaves' outputs and inputs. A
// function type declares parameters and IO groups with placeholder
// cardinality; instantiating it with a concrete parameter binding
// resolves those placeholders into a fixed shape.
package function

import (
	"fmt"

	"github.com/cosimio/cosim-go/cosimerr"
	"github.com/cosimio/cosim-go/model"
)

// Index is the dense integer id the execution assigns to a function
// when it is added. Indices are never reused.
type Index int32

// ParameterType enumerates the kinds of compile-time parameters a
// function type may declare.
type ParameterType int

const (
	ParamInteger ParameterType = iota
	ParamReal
	ParamEnum
)

// ParameterSpec declares one parameter a function type accepts before
// instantiation (e.g. "vector length").
type ParameterSpec struct {
	Name string
	Type ParameterType
	// EnumValues lists the legal values when Type is ParamEnum.
	EnumValues []string
}

// IoGroupSpec declares one group of IO variables whose cardinality and
// per-member type/cardinality may depend on parameter values. Count,
// when non-nil, is evaluated against the bound parameters to resolve
// the number of instances of this group; a nil Count means exactly one
// instance.
type IoGroupSpec struct {
	Name  string
	Io    []IoSpec
	Count func(params map[string]Value) (int, error)
}

// IoSpec declares one IO variable within a group. Count works like
// IoGroupSpec.Count but resolves the number of instances of this
// particular IO within one group instance.
type IoSpec struct {
	Name  string
	Type  model.Type
	Count func(params map[string]Value) (int, error)
}

// Value holds one resolved parameter value, tagged by ParameterType.
type Value struct {
	Type    ParameterType
	Integer int64
	Real    float64
	Enum    string
}

// TypeSpec is the parameterized description of a function, declared
// once by a backend and shared by every instance created from it.
type TypeSpec struct {
	Name       string
	Parameters []ParameterSpec
	Groups     []IoGroupSpec
}

// IoID identifies one resolved IO variable of one function instance:
// the function, its type, and the (group, group instance, io, io
// instance) coordinate within the resolved shape.
type IoID struct {
	Function     Index
	Type         model.Type
	Group        int
	GroupInstance int
	Io           int
	IoInstance   int
}

// ResolvedIo is one concrete IO variable after placeholder resolution.
type ResolvedIo struct {
	ID   IoID
	Name string
}

// Description is a function's metadata after instantiation: every
// placeholder in group and IO cardinality has been resolved against
// the bound parameter values.
type Description struct {
	Name       string
	Parameters map[string]Value
	Io         []ResolvedIo
}

// Instantiate resolves spec's placeholders against params, producing a
// concrete Description. It validates that every declared parameter is
// bound and that enum parameters carry a legal value.
func Instantiate(spec TypeSpec, params map[string]Value) (Description, error) {
	for _, p := range spec.Parameters {
		v, ok := params[p.Name]
		if !ok {
			return Description{}, cosimerr.New(cosimerr.InvalidSystemStructure,
				"function %q: missing binding for parameter %q", spec.Name, p.Name)
		}
		if v.Type != p.Type {
			return Description{}, cosimerr.New(cosimerr.InvalidSystemStructure,
				"function %q: parameter %q has wrong type", spec.Name, p.Name)
		}
		if p.Type == ParamEnum && !containsString(p.EnumValues, v.Enum) {
			return Description{}, cosimerr.New(cosimerr.InvalidSystemStructure,
				"function %q: parameter %q has illegal enum value %q", spec.Name, p.Name, v.Enum)
		}
	}

	desc := Description{Name: spec.Name, Parameters: params}
	for gi, g := range spec.Groups {
		groupCount := 1
		if g.Count != nil {
			n, err := g.Count(params)
			if err != nil {
				return Description{}, cosimerr.Wrap(cosimerr.InvalidSystemStructure, err,
					"function %q: resolving group %q cardinality", spec.Name, g.Name)
			}
			groupCount = n
		}
		for gInst := 0; gInst < groupCount; gInst++ {
			for ii, io := range g.Io {
				ioCount := 1
				if io.Count != nil {
					n, err := io.Count(params)
					if err != nil {
						return Description{}, cosimerr.Wrap(cosimerr.InvalidSystemStructure, err,
							"function %q: resolving io %q cardinality", spec.Name, io.Name)
					}
					ioCount = n
				}
				for ioInst := 0; ioInst < ioCount; ioInst++ {
					desc.Io = append(desc.Io, ResolvedIo{
						ID: IoID{
							Type:          io.Type,
							Group:         gi,
							GroupInstance: gInst,
							Io:            ii,
							IoInstance:    ioInst,
						},
						Name: fmt.Sprintf("%s[%d].%s[%d]", g.Name, gInst, io.Name, ioInst),
					})
				}
			}
		}
	}
	return desc, nil
}

func containsString(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

// Function is a stateless computation block: a pure function of its
// current inputs, called once per macro step after all due slaves have
// finished stepping. Function has no persistent state between steps;
// save/restore (package execution) ignores it entirely.
type Function interface {
	Description() *Description

	GetReal(ids []IoID) ([]float64, error)
	GetInteger(ids []IoID) ([]int64, error)
	GetBoolean(ids []IoID) ([]bool, error)
	GetString(ids []IoID) ([]string, error)

	SetReal(ids []IoID, values []float64) error
	SetInteger(ids []IoID, values []int64) error
	SetBoolean(ids []IoID, values []bool) error
	SetString(ids []IoID, values []string) error

	// Calculate runs the function's computation over its currently set
	// inputs. Output values are only defined after Calculate returns
	// and until the next Set* call.
	Calculate() error
}
