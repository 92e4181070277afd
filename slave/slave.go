// Package slave declares the capability contract the core consumes
// from each model backend: the opaque sub-simulator ("slave"). The
// stateless computation block ("function") is declared in package
// function. Nothing in this package
// loads models, decodes file formats, or talks to a concrete process;
// it only states the shape a backend must satisfy. Loading a model
// from an FMU, a proxy process, or a URI is external to this module.
package slave

import (
	"github.com/cosimio/cosim-go/blob"
	"github.com/cosimio/cosim-go/model"
	"github.com/cosimio/cosim-go/simtime"
)

// StepResult is the outcome of one DoStep call.
type StepResult int

const (
	// Complete indicates the slave advanced successfully to the
	// requested time.
	Complete StepResult = iota
	// Failed indicates the slave could not complete the step (e.g. an
	// internal solver failed to converge). Failed is not the same as
	// a Go error return: a slave that returns (Failed, nil) is telling
	// the scheduler the macro step failed without it being a fatal
	// defect in the slave itself.
	Failed
)

// Slave is the lifecycle contract every sub-simulator backend must
// satisfy. Calls happen in the order:
//
//	Setup -> (SetReal/SetInteger/.../GetReal/.../DoIteration)* -> StartSimulation
//	      -> (DoStep, SetReal/.../GetReal/...)* -> EndSimulation
//
// A Slave is never called from more than one goroutine at a time; the
// scheduler confines each slave to a single worker for the duration of
// one macro step (see package algorithm), but does not otherwise
// synchronize access on the caller's behalf.
type Slave interface {
	// Description returns the slave's immutable variable and
	// capability metadata.
	Description() *model.Description

	// Setup prepares the slave to begin the iteration phase. stop and
	// relativeTolerance are optional; a nil stop means the simulation
	// has no known end time, and a nil relativeTolerance means the
	// caller has no preference.
	Setup(start simtime.Point, stop *simtime.Point, relativeTolerance *float64) error

	// GetReal, GetInteger, GetBoolean, and GetString read the current
	// value of the variables named by refs, in the same order. Every
	// ref must have been exposed for getting (see wrapper.Wrapper).
	GetReal(refs []model.ValueRef) ([]float64, error)
	GetInteger(refs []model.ValueRef) ([]int64, error)
	GetBoolean(refs []model.ValueRef) ([]bool, error)
	GetString(refs []model.ValueRef) ([]string, error)

	// SetReal, SetInteger, SetBoolean, and SetString write values to
	// the variables named by refs, in the same order. Every ref must
	// have been exposed for setting. A non-nil error of kind
	// cosimerr.BadValue means some values were clamped or ignored but
	// the slave remains usable; any other error is fatal.
	SetReal(refs []model.ValueRef, values []float64) error
	SetInteger(refs []model.ValueRef, values []int64) error
	SetBoolean(refs []model.ValueRef, values []bool) error
	SetString(refs []model.ValueRef, values []string) error

	// DoIteration pushes pending input writes into the slave and
	// lets it refresh its outputs, without advancing simulation time.
	// It is only valid during the iteration phase (after Setup, before
	// StartSimulation).
	DoIteration() error

	// StartSimulation ends the iteration phase and enters stepping.
	StartSimulation() error

	// DoStep advances the slave from currentT by delta. A returned
	// error is always fatal; a non-error (Failed, nil) return means
	// the step did not succeed but the slave itself has not faulted.
	DoStep(currentT simtime.Point, delta simtime.Duration) (StepResult, error)

	// EndSimulation releases any resources held for stepping.
	EndSimulation() error
}

// StateSaver is implemented by slaves whose model.Description reports
// Capabilities.CanSaveState. The core must check that flag before
// calling any of these methods; calling them on a slave that does not
// implement StateSaver, or whose capability flag is unset, is a
// cosimerr.UnsupportedFeature logic error.
type StateSaver interface {
	// SaveState captures the slave's current internal state and
	// returns a new opaque handle for it.
	SaveState() (int, error)
	// SaveStateTo overwrites the state captured under idx with the
	// slave's current internal state.
	SaveStateTo(idx int) error
	// RestoreState replaces the slave's current internal state with
	// the one captured under idx. idx remains valid afterward.
	RestoreState(idx int) error
	// ReleaseState discards the state captured under idx. idx may be
	// reused by a later SaveState call after this returns.
	ReleaseState(idx int) error
	// ExportState serializes the state captured under idx into the
	// tagged-union tree contract (package blob).
	ExportState(idx int) (blob.Node, error)
	// ImportState deserializes node into a new state handle.
	ImportState(node blob.Node) (int, error)
}
