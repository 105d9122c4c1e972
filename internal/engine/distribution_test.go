package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kettle/internal/schema"
)

func TestRoundRobin_EveryNthRowSameOutput(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5} {
		rr := &RoundRobin{}
		var dst []int
		for i := 0; i < 101; i++ {
			var err error
			dst, err = rr.Select(seqSchema, schema.Row{int64(i), int64(0)}, n, dst[:0])
			require.NoError(t, err)
			require.Equal(t, []int{i % n}, dst, "n=%d row=%d", n, i)
		}
	}
}

func TestCopy_SelectsAll(t *testing.T) {
	dst, err := Copy{}.Select(seqSchema, schema.Row{int64(1), int64(1)}, 4, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, dst)
}

func TestPartitioned_Deterministic(t *testing.T) {
	p := &Partitioned{Fields: []string{"k"}}
	route := map[int64]int{}
	for i := 0; i < 1000; i++ {
		key := int64(i % 13)
		dst, err := p.Select(seqSchema, schema.Row{int64(i), key}, 4, nil)
		require.NoError(t, err)
		require.Len(t, dst, 1)
		if prev, ok := route[key]; ok {
			require.Equal(t, prev, dst[0], "key %d moved", key)
		}
		route[key] = dst[0]
	}

	// A second distributor over an equal schema agrees.
	q := &Partitioned{Fields: []string{"k"}}
	other := schema.New(seqSchema.Fields()...)
	for key, idx := range route {
		dst, err := q.Select(other, schema.Row{int64(-1), key}, 4, nil)
		require.NoError(t, err)
		assert.Equal(t, idx, dst[0])
	}
}

func TestPartitioned_Errors(t *testing.T) {
	_, err := (&Partitioned{Fields: []string{"missing"}}).Select(seqSchema, schema.Row{int64(1), int64(1)}, 2, nil)
	require.ErrorIs(t, err, ErrPartitionOutOfRange)
	assert.Contains(t, err.Error(), `"missing"`)

	bad := &Partitioned{Func: func(_ *schema.Schema, _ schema.Row, n int) int { return n }}
	_, err = bad.Select(seqSchema, schema.Row{int64(1), int64(1)}, 2, nil)
	require.ErrorIs(t, err, ErrPartitionOutOfRange)
}

func TestParseDistribution(t *testing.T) {
	cases := map[string]Distribution{
		"":            DistributeRoundRobin,
		"Round_Robin": DistributeRoundRobin,
		"copy":        DistributeCopy,
		"hash":        DistributePartitioned,
	}
	for in, want := range cases {
		got, err := ParseDistribution(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDistribution("broadcast-ish")
	assert.Error(t, err)
}
