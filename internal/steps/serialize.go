package steps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"kettle/internal/engine"
	"kettle/internal/schema"
)

// serializeOutput writes rows to a binary row file and passes them on.
//
// Options:
//
//	path         target file (required); with several copies each copy
//	             writes path with ".<copy>" before the extension
//	codec        cbor (default) or msgpack
//	compression  none (default), zstd or lz4
//
// The header is the layout of the first row. Later rows must have a
// compatible layout.
type serializeOutput struct {
	path        string
	codec       byte
	compression byte

	w      *rowFileWriter
	layout *schema.Schema
	in     *schema.Schema
	n      int64
}

func newSerializeOutput(meta engine.StepMeta, copyNr int) (engine.Step, error) {
	path := meta.Options.String("path", "")
	if path == "" {
		return nil, optionErr(meta, "path", "required")
	}
	codec, err := ParseCodec(meta.Options.String("codec", "cbor"))
	if err != nil {
		return nil, optionErr(meta, "codec", "%v", err)
	}
	comp, err := ParseCompression(meta.Options.String("compression", "none"))
	if err != nil {
		return nil, optionErr(meta, "compression", "%v", err)
	}
	if meta.Copies > 1 {
		path = copyPath(path, copyNr)
	}
	return &serializeOutput{path: path, codec: codec, compression: comp}, nil
}

// copyPath inserts the copy number before the extension of path.
func copyPath(path string, copyNr int) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + strconv.Itoa(copyNr) + ext
}

func (s *serializeOutput) Init(context.Context, *engine.StepContext) error {
	w, err := createRowFile(s.path, s.codec, s.compression)
	if err != nil {
		return fmt.Errorf("create row file: %w", err)
	}
	s.w = w
	return nil
}

func (s *serializeOutput) ProcessCycle(ctx context.Context, sc *engine.StepContext) (bool, error) {
	row, done, err := nextRow(ctx, sc)
	if done || err != nil {
		return done, err
	}
	if in := sc.InputSchema(); in != s.in {
		if s.layout == nil {
			if err := s.w.Encode(headerOf(in)); err != nil {
				return false, fmt.Errorf("write header: %w", err)
			}
			s.layout = in
		} else if !s.layout.Compatible(in) {
			return false, fmt.Errorf("layout changed from %s to %s", s.layout, in)
		}
		s.in = in
	}
	if err := s.w.Encode([]any(row)); err != nil {
		return false, fmt.Errorf("write row %d: %w", s.n+1, err)
	}
	s.n++
	sc.IncLinesOutput(1)
	return false, sc.PutRow(ctx, sc.InputSchema(), row)
}

func (s *serializeOutput) Finalize(_ context.Context, sc *engine.StepContext) error {
	if s.layout == nil {
		if err := s.w.Encode(fileHeader{}); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	if err := s.w.Close(); err != nil {
		return fmt.Errorf("close row file: %w", err)
	}
	sc.Logger().Debug("row file written", "path", s.path, "rows", s.n)
	return nil
}

func (s *serializeOutput) Dispose() error {
	if s.w == nil {
		return nil
	}
	return s.w.Close()
}

// deserializeInput reads a row file written by serialize_output. Values are
// restored to the types of the header. With several copies each copy
// reads the whole file and keeps every n-th row.
//
// Options:
//
//	path  file to read (required)
type deserializeInput struct {
	meta engine.StepMeta
	path string

	r    *rowFileReader
	out  *schema.Schema
	nr   int
	self int
	step int
}

func newDeserializeInput(meta engine.StepMeta, copyNr int) (engine.Step, error) {
	path := meta.Options.String("path", "")
	if path == "" {
		return nil, optionErr(meta, "path", "required")
	}
	return &deserializeInput{meta: meta, path: path, self: copyNr, step: max(meta.Copies, 1)}, nil
}

func (d *deserializeInput) Init(_ context.Context, sc *engine.StepContext) error {
	r, err := openRowFile(d.path)
	if err != nil {
		return fmt.Errorf("open row file: %w", err)
	}
	d.r = r
	var h fileHeader
	if err := r.Decode(&h); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	switch {
	case len(h.Fields) > 0:
		d.out, err = h.schema(d.meta.Name)
		if err != nil {
			return fmt.Errorf("read header: %w", err)
		}
	case len(d.meta.Fields) > 0:
		d.out = schema.New(d.meta.Fields...)
	default:
		d.out = schema.New()
	}
	sc.SetOutputSchema(d.out)
	return nil
}

func (d *deserializeInput) ProcessCycle(ctx context.Context, sc *engine.StepContext) (bool, error) {
	for {
		var vals []any
		err := d.r.Decode(&vals)
		if errors.Is(err, io.EOF) {
			return true, nil
		}
		if err != nil {
			return false, fmt.Errorf("read row %d: %w", d.nr+1, err)
		}
		d.nr++
		if (d.nr-1)%d.step != d.self {
			continue
		}
		sc.IncLinesInput(1)
		if len(vals) != d.out.Len() {
			return false, fmt.Errorf("row %d: %d values, layout has %d", d.nr, len(vals), d.out.Len())
		}
		row := make(schema.Row, len(vals))
		for i, v := range vals {
			f := d.out.Field(i)
			nv, err := schema.Normalize(f.Type, v)
			if err != nil {
				return false, fmt.Errorf("row %d: field %s: %w", d.nr, f.Name, err)
			}
			row[i] = nv
		}
		return false, sc.PutRow(ctx, d.out, row)
	}
}

func (d *deserializeInput) Finalize(context.Context, *engine.StepContext) error { return nil }

func (d *deserializeInput) Dispose() error {
	if d.r == nil {
		return nil
	}
	return d.r.Close()
}
