// Package steps holds the built-in step types. Register wires every one of
// them into an engine.Registry:
//
//	generator          emit a fixed number of rows of constant values
//	csv_input          stream a delimited file
//	deserialize_input  read a binary row file written by serialize_output
//	dummy              pass rows through unchanged
//	coerce             convert string fields to typed values
//	validate           reject rows that miss required fields or violate enums
//	normalize          Unicode-normalize and trim string fields
//	dedupe             drop rows with an already seen business key
//	column_exists      append whether a database column exists
//	symmetric_crypto   encrypt or decrypt a field
//	table_output       bulk insert rows into a database table
//	serialize_output   write rows to a binary row file
//	row_counter        count rows and log the total
//
// Each factory runs once per step copy, so the values a step keeps (cached
// field indices, open files, connections) belong to that copy alone.
package steps

import (
	"context"
	"errors"
	"fmt"

	"kettle/internal/config"
	"kettle/internal/engine"
	"kettle/internal/schema"
)

// Step type ids.
const (
	TypeGenerator        = "generator"
	TypeCSVInput         = "csv_input"
	TypeDeserializeInput = "deserialize_input"
	TypeDummy            = "dummy"
	TypeCoerce           = "coerce"
	TypeValidate         = "validate"
	TypeNormalize        = "normalize"
	TypeDedupe           = "dedupe"
	TypeColumnExists     = "column_exists"
	TypeSymmetricCrypto  = "symmetric_crypto"
	TypeTableOutput      = "table_output"
	TypeSerializeOutput  = "serialize_output"
	TypeRowCounter       = "row_counter"
)

// Env carries what the database steps need beyond their own options.
type Env struct {
	Connections *config.Connections
}

// Register adds every built-in step type to reg.
func Register(reg *engine.Registry, env Env) {
	if env.Connections == nil {
		env.Connections = config.NewConnections()
	}
	reg.Register(TypeGenerator, newGenerator)
	reg.Register(TypeCSVInput, newCSVInput)
	reg.Register(TypeDeserializeInput, newDeserializeInput)
	reg.Register(TypeDummy, newDummy)
	reg.Register(TypeCoerce, newCoerce)
	reg.Register(TypeValidate, newValidate)
	reg.Register(TypeNormalize, newNormalize)
	reg.Register(TypeDedupe, newDedupe)
	reg.Register(TypeColumnExists, func(meta engine.StepMeta, copyNr int) (engine.Step, error) {
		return newColumnExists(env, meta)
	})
	reg.Register(TypeSymmetricCrypto, newSymmetricCrypto)
	reg.Register(TypeTableOutput, func(meta engine.StepMeta, copyNr int) (engine.Step, error) {
		return newTableOutput(env, meta)
	})
	reg.Register(TypeSerializeOutput, newSerializeOutput)
	reg.Register(TypeRowCounter, newRowCounter)
}

// NewRegistry returns a registry holding every built-in step.
func NewRegistry(env Env) *engine.Registry {
	reg := engine.NewRegistry()
	Register(reg, env)
	return reg
}

// nextRow reads one row. done is true at end of stream.
func nextRow(ctx context.Context, sc *engine.StepContext) (row schema.Row, done bool, err error) {
	row, err = sc.GetRow(ctx)
	if errors.Is(err, engine.ErrEndOfStream) {
		return nil, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return row, false, nil
}

// indexOf resolves names against s. A missing name is an error.
func indexOf(s *schema.Schema, names []string) ([]int, error) {
	idx := make([]int, len(names))
	for i, n := range names {
		j := s.IndexOf(n)
		if j < 0 {
			return nil, fmt.Errorf("field %q not found in input %s", n, s)
		}
		idx[i] = j
	}
	return idx, nil
}

// optionErr reports an invalid option of a step.
func optionErr(meta engine.StepMeta, key, format string, args ...any) error {
	return fmt.Errorf("step %s: option %s: %s", meta.Name, key, fmt.Sprintf(format, args...))
}

// isEmpty treats nil and the empty string as missing.
func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

// dummy passes rows through unchanged.
type dummy struct{}

func newDummy(engine.StepMeta, int) (engine.Step, error) { return dummy{}, nil }

func (dummy) Init(context.Context, *engine.StepContext) error { return nil }

func (dummy) ProcessCycle(ctx context.Context, sc *engine.StepContext) (bool, error) {
	row, done, err := nextRow(ctx, sc)
	if done || err != nil {
		return done, err
	}
	return false, sc.PutRow(ctx, sc.InputSchema(), row)
}

func (dummy) Finalize(context.Context, *engine.StepContext) error { return nil }
