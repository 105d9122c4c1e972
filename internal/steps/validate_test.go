package steps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kettle/internal/config"
	"kettle/internal/engine"
)

func validateGraph(t *testing.T, data string, opts config.Options, maxErrors int) engine.Graph {
	t.Helper()
	v := step("check", TypeValidate, opts)
	v.ErrorHandling = &engine.ErrorHandling{Target: "rejects", MaxErrors: maxErrors}
	return engine.Graph{
		Steps: []engine.StepMeta{
			step("read", TypeCSVInput, config.Options{"path": writeTemp(t, []byte(data))}),
			v, capture("out"), capture("rejects"),
		},
		Hops: chain("read", "check", "out"),
	}
}

func TestValidate_Rules(t *testing.T) {
	data := "id,status,qty,code\n" +
		"1,new,5,ab\n" + // ok
		",new,5,ab\n" + // required
		"3,lost,5,ab\n" + // enum
		"4,new,many,ab\n" + // type
		"5,done,,abcd\n" + // length, empty qty passes
		",lost,x,ab\n" // three failures
	opts := config.Options{
		"required":   []string{"id"},
		"enums":      map[string]string{"status": "new | done"},
		"types":      map[string]string{"qty": "integer"},
		"max_length": map[string]any{"code": 3},
	}
	res, s, err := run(t, validateGraph(t, data, opts, 0), Env{})
	require.NoError(t, err)

	assert.Equal(t, []any{"1"}, s.column(t, "out", "id"))
	assert.EqualValues(t, 5, res.StepTotals("check").LinesRejected)

	codes := s.column(t, "rejects", engine.DefaultCodesField)
	fields := s.column(t, "rejects", engine.DefaultFieldsField)
	nr := s.column(t, "rejects", engine.DefaultNrErrorsField)
	require.Len(t, codes, 5)
	assert.Equal(t, []any{CodeRequired, CodeEnum, CodeType, CodeLength, "VAL001,VAL002,VAL003"}, codes)
	assert.Equal(t, "id,status,qty", fields[4])
	for _, n := range nr {
		assert.Equal(t, int64(1), n)
	}
}

func TestValidate_ThresholdFailsRun(t *testing.T) {
	res, _, err := run(t, validateGraph(t, "id,x\n,1\n,2\n,3\n4,4\n", config.Options{"required": []string{"id"}}, 2), Env{})
	require.ErrorIs(t, err, engine.ErrTooManyErrors)
	check := res.StepTotals("check")
	assert.Equal(t, engine.StateFailed, check.State)
	assert.EqualValues(t, 3, check.LinesRejected)
}

func TestValidate_Options(t *testing.T) {
	tests := []struct {
		name string
		opts config.Options
	}{
		{"no rules", config.Options{}},
		{"bad type", config.Options{"types": map[string]string{"a": "uuid"}}},
		{"bad length", config.Options{"max_length": map[string]any{"a": -1}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := newValidate(step("v", TypeValidate, tc.opts), 0)
			assert.Error(t, err)
		})
	}
}
