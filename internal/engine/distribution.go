package engine

import (
	"fmt"
	"strings"

	"github.com/zeebo/xxh3"

	"kettle/internal/schema"
)

// Distribution selects how a step copy spreads its rows over the copies of
// one target step. Every target step gets every row; the distribution only
// picks among that target's copies, ordered by copy number.
type Distribution string

const (
	// DistributeRoundRobin sends each row to exactly one output, in strict
	// rotation. It is the default.
	DistributeRoundRobin Distribution = "round_robin"
	// DistributeCopy sends every row to every output. The same Row value is
	// shared by all readers, which is safe because rows are immutable.
	DistributeCopy Distribution = "copy"
	// DistributePartitioned routes a row to the output chosen by a
	// deterministic function of its key fields.
	DistributePartitioned Distribution = "partitioned"
)

// ParseDistribution accepts the canonical names plus a few aliases.
func ParseDistribution(s string) (Distribution, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "round_robin", "roundrobin", "distribute":
		return DistributeRoundRobin, nil
	case "copy", "clone":
		return DistributeCopy, nil
	case "partitioned", "partition", "hash":
		return DistributePartitioned, nil
	}
	return "", fmt.Errorf("unknown distribution %q", s)
}

// PartitionFunc returns the index of the output row set, in [0, n), that
// should receive row.
type PartitionFunc func(s *schema.Schema, row schema.Row, n int) int

// Distributor picks the output row set(s) for one produced row. A
// Distributor belongs to a single step copy and is not safe for concurrent
// use.
type Distributor interface {
	// Select appends to dst the indices, in [0, n), that receive row.
	Select(s *schema.Schema, row schema.Row, n int, dst []int) ([]int, error)
}

// RoundRobin rotates over the outputs.
type RoundRobin struct{ next int }

func (r *RoundRobin) Select(_ *schema.Schema, _ schema.Row, n int, dst []int) ([]int, error) {
	if n == 0 {
		return dst, nil
	}
	if r.next >= n {
		r.next = 0
	}
	dst = append(dst, r.next)
	r.next = (r.next + 1) % n
	return dst, nil
}

// Copy selects every output.
type Copy struct{}

func (Copy) Select(_ *schema.Schema, _ schema.Row, n int, dst []int) ([]int, error) {
	for i := 0; i < n; i++ {
		dst = append(dst, i)
	}
	return dst, nil
}

// Partitioned routes by key. With Func nil the key fields are hashed with
// xxh3 and reduced modulo n, so a key always lands on the same output within
// a run.
type Partitioned struct {
	Fields []string
	Func   PartitionFunc

	// key field positions, resolved per schema
	seen *schema.Schema
	idx  []int
	buf  []byte
}

func (p *Partitioned) Select(s *schema.Schema, row schema.Row, n int, dst []int) ([]int, error) {
	if n == 0 {
		return dst, nil
	}
	var i int
	if p.Func != nil {
		i = p.Func(s, row, n)
	} else {
		if err := p.resolve(s); err != nil {
			return dst, err
		}
		p.buf = schema.AppendKey(p.buf[:0], row, p.idx)
		i = int(xxh3.Hash(p.buf) % uint64(n))
	}
	if i < 0 || i >= n {
		return dst, fmt.Errorf("%w: %d not in [0,%d)", ErrPartitionOutOfRange, i, n)
	}
	return append(dst, i), nil
}

func (p *Partitioned) resolve(s *schema.Schema) error {
	if s == p.seen {
		return nil
	}
	idx := make([]int, len(p.Fields))
	for k, name := range p.Fields {
		j := s.IndexOf(name)
		if j < 0 {
			return fmt.Errorf("%w: partition field %q not in %s", ErrPartitionOutOfRange, name, s)
		}
		idx[k] = j
	}
	p.seen, p.idx = s, idx
	return nil
}

// newDistributor builds the distributor for one copy of meta.
func newDistributor(meta StepMeta) Distributor {
	switch meta.Distribution {
	case DistributeCopy:
		return Copy{}
	case DistributePartitioned:
		return &Partitioned{Fields: meta.PartitionFields, Func: meta.Partitioner}
	default:
		return &RoundRobin{}
	}
}
