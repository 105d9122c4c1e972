package steps

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"kettle/internal/engine"
	"kettle/internal/schema"
)

// CodeNormalize marks a value the Unicode transform could not process.
const CodeNormalize = "NORM001"

// mojibakeNBSP is a UTF-8 no-break space read back as Latin-1.
const mojibakeNBSP = "\u00c2\u00a0"

// normalize rewrites string fields in place.
//
// Options:
//
//	fields            fields to rewrite, default every string field
//	form              NFC (default), NFKC, NFD or NFKD
//	strip_diacritics  drop combining marks, default false
//	trim              trim surrounding space, default true
//	fix_nbsp          replace mojibake no-break spaces with a space, default true
type normalize struct {
	names []string
	form  norm.Form
	strip bool
	trim  bool
	nbsp  bool

	t   transform.Transformer
	in  *schema.Schema
	idx []int
}

func newNormalize(meta engine.StepMeta, _ int) (engine.Step, error) {
	form, err := parseForm(meta.Options.String("form", "NFC"))
	if err != nil {
		return nil, optionErr(meta, "form", "%v", err)
	}
	n := &normalize{
		names: meta.Options.StringSlice("fields"),
		form:  form,
		strip: meta.Options.Bool("strip_diacritics", false),
		trim:  meta.Options.Bool("trim", true),
		nbsp:  meta.Options.Bool("fix_nbsp", true),
	}
	if n.strip {
		n.t = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), form)
	} else {
		n.t = form
	}
	return n, nil
}

func parseForm(s string) (norm.Form, error) {
	switch strings.ToUpper(s) {
	case "NFC":
		return norm.NFC, nil
	case "NFKC":
		return norm.NFKC, nil
	case "NFD":
		return norm.NFD, nil
	case "NFKD":
		return norm.NFKD, nil
	}
	return 0, fmt.Errorf("unknown normalization form %q", s)
}

func (n *normalize) Init(context.Context, *engine.StepContext) error { return nil }

func (n *normalize) bind(in *schema.Schema) error {
	if len(n.names) > 0 {
		idx, err := indexOf(in, n.names)
		if err != nil {
			return err
		}
		n.in, n.idx = in, idx
		return nil
	}
	var idx []int
	for i, f := range in.Fields() {
		if f.Type == schema.TypeString {
			idx = append(idx, i)
		}
	}
	n.in, n.idx = in, idx
	return nil
}

func (n *normalize) ProcessCycle(ctx context.Context, sc *engine.StepContext) (bool, error) {
	row, done, err := nextRow(ctx, sc)
	if done || err != nil {
		return done, err
	}
	if sc.InputSchema() != n.in {
		if err := n.bind(sc.InputSchema()); err != nil {
			return false, err
		}
	}

	out := row.Clone()
	for _, j := range n.idx {
		s, ok := out[j].(string)
		if !ok {
			continue
		}
		v, err := n.apply(s)
		if err != nil {
			name := n.in.Field(j).Name
			return false, engine.RejectRow(row, CodeNormalize, fmt.Sprintf("field %s: %v", name, err), name)
		}
		out[j] = v
	}
	return false, sc.PutRow(ctx, sc.InputSchema(), out)
}

func (n *normalize) apply(s string) (string, error) {
	if n.nbsp {
		s = strings.ReplaceAll(s, mojibakeNBSP, " ")
	}
	n.t.Reset()
	v, _, err := transform.String(n.t, s)
	if err != nil {
		return "", err
	}
	if n.trim {
		v = strings.TrimSpace(v)
	}
	return v, nil
}

func (n *normalize) Finalize(context.Context, *engine.StepContext) error { return nil }
