package steps

import (
	"context"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"

	"kettle/internal/engine"
	"kettle/internal/schema"
)

// Dedupe policies.
const (
	KeepFirst    = "keep-first"
	KeepLast     = "keep-last"
	MostComplete = "most-complete"
)

// dedupe collapses rows sharing a business key.
//
//   - keep-first streams: the first row of a key passes, later ones are dropped.
//   - keep-last keeps the latest row of a key (default).
//   - most-complete keeps the row with the most non-empty fields; ties go to
//     the later row. prefer_fields add weight to the listed fields.
//
// The buffered policies emit their winners at end of stream, in the order
// the winners arrived. Keys are xxh3 128-bit hashes of the key values. With
// several copies the upstream step must partition on the same keys, or each
// copy only sees part of every group.
type dedupe struct {
	keys   []string
	policy string
	prefer map[string]struct{}

	in     *schema.Schema
	idx    []int
	buf    []byte
	seen   map[xxh3.Uint128]struct{}
	winner map[xxh3.Uint128]*slot
	n      int
}

type slot struct {
	s     *schema.Schema
	row   schema.Row
	index int
	score int
}

func newDedupe(meta engine.StepMeta, _ int) (engine.Step, error) {
	keys := meta.Options.StringSlice("keys")
	if len(keys) == 0 {
		return nil, optionErr(meta, "keys", "required")
	}
	policy := strings.ToLower(strings.TrimSpace(meta.Options.String("policy", KeepLast)))
	switch policy {
	case KeepFirst, KeepLast, MostComplete:
	default:
		return nil, optionErr(meta, "policy", "unknown policy %q", policy)
	}
	d := &dedupe{
		keys:   keys,
		policy: policy,
		prefer: map[string]struct{}{},
		seen:   map[xxh3.Uint128]struct{}{},
		winner: map[xxh3.Uint128]*slot{},
	}
	for _, f := range meta.Options.StringSlice("prefer_fields") {
		d.prefer[f] = struct{}{}
	}
	return d, nil
}

func (d *dedupe) Init(context.Context, *engine.StepContext) error { return nil }

func (d *dedupe) ProcessCycle(ctx context.Context, sc *engine.StepContext) (bool, error) {
	row, done, err := nextRow(ctx, sc)
	if done || err != nil {
		return done, err
	}
	in := sc.InputSchema()
	if in != d.in {
		idx, err := indexOf(in, d.keys)
		if err != nil {
			return false, err
		}
		d.in, d.idx = in, idx
	}

	d.buf = schema.AppendKey(d.buf[:0], row, d.idx)
	key := xxh3.Hash128(d.buf)
	d.n++

	switch d.policy {
	case KeepFirst:
		if _, dup := d.seen[key]; dup {
			return false, nil
		}
		d.seen[key] = struct{}{}
		return false, sc.PutRow(ctx, in, row)
	case MostComplete:
		s := &slot{s: in, row: row, index: d.n, score: d.score(in, row)}
		if prev, ok := d.winner[key]; !ok || s.score >= prev.score {
			d.winner[key] = s
		}
	default:
		d.winner[key] = &slot{s: in, row: row, index: d.n}
	}
	return false, nil
}

// score counts non-empty values, weighted by ten, plus one per non-empty
// preferred field.
func (d *dedupe) score(s *schema.Schema, row schema.Row) int {
	score, bonus := 0, 0
	for i, v := range row {
		if isEmpty(v) {
			continue
		}
		score++
		if _, ok := d.prefer[s.Field(i).Name]; ok {
			bonus++
		}
	}
	return score*10 + bonus
}

func (d *dedupe) Finalize(ctx context.Context, sc *engine.StepContext) error {
	if len(d.winner) == 0 {
		return nil
	}
	out := make([]*slot, 0, len(d.winner))
	for _, s := range d.winner {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].index < out[j].index })
	d.winner = nil
	for _, s := range out {
		if err := sc.PutRow(ctx, s.s, s.row); err != nil {
			return err
		}
	}
	sc.Logger().Debug("dedupe done", "rows", d.n, "kept", len(out))
	return nil
}
