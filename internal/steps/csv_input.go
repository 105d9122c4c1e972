package steps

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"kettle/internal/datasource"
	"kettle/internal/datasource/httpds"
	"kettle/internal/engine"
	"kettle/internal/schema"
)

// utf8BOM is stripped from the first header cell if present.
const utf8BOM = "\uFEFF"

// Row error codes of csv_input.
const (
	CodeCSVWidth = "CSV001"
	CodeCSVParse = "CSV002"
	CodeCSVType  = "CSV003"
)

// csvInput streams a delimited file line by line without whole-file
// buffering.
//
// Options:
//
//	path             local file or http(s) URL (required); a .gz, .zst or
//	                 .lz4 suffix is decompressed on the fly
//	http_retries     download retries for URLs, default 3
//	http_timeout     download timeout for URLs, e.g. "10m"
//	comma            field delimiter, default ","
//	has_header       first record holds column names, default true
//	header_map       source header -> field name
//	trim_space       trim values, default true
//	date_layout      layout for date fields
//	replace_from/to  streaming byte rewrite applied before parsing, for
//	                 known malformed sequences in real data
//
// Declared fields select and type the columns by name; without them every
// header becomes a string field. Values are parsed with the field type and
// empty values become nil. With several copies each copy reads the whole
// file and keeps every n-th record.
type csvInput struct {
	meta     engine.StepMeta
	path     string
	comma    rune
	header   bool
	trim     bool
	layout   string
	headMap  map[string]string
	from, to string
	client   *httpds.Client

	f     io.ReadCloser
	cr    *csv.Reader
	out   *schema.Schema
	cols  []int // record column per output field
	width int   // header width, enforced when non-zero
	line  int
	nr    int // data record number, for copy striping
	self  int
	step  int
}

func newCSVInput(meta engine.StepMeta, copyNr int) (engine.Step, error) {
	path := meta.Options.String("path", "")
	if path == "" {
		return nil, optionErr(meta, "path", "required")
	}
	c := &csvInput{
		meta:    meta,
		path:    path,
		comma:   meta.Options.Rune("comma", ','),
		header:  meta.Options.Bool("has_header", true),
		trim:    meta.Options.Bool("trim_space", true),
		layout:  meta.Options.String("date_layout", schema.DefaultDateLayout),
		headMap: meta.Options.StringMap("header_map"),
		from:    meta.Options.String("replace_from", ""),
		to:      meta.Options.String("replace_to", ""),
		self:    copyNr,
		step:    max(meta.Copies, 1),
	}
	var timeout time.Duration
	if s := meta.Options.String("http_timeout", ""); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, optionErr(meta, "http_timeout", "%v", err)
		}
		timeout = d
	}
	if datasource.IsURL(path) {
		c.client = httpds.NewClient(httpds.Config{
			MaxRetries: meta.Options.Int("http_retries", 3),
			Timeout:    timeout,
		})
	}
	if !c.header && len(meta.Fields) == 0 {
		return nil, fmt.Errorf("step %s: csv_input without header needs fields", meta.Name)
	}
	return c, nil
}

func (c *csvInput) Init(ctx context.Context, sc *engine.StepContext) error {
	f, err := datasource.Open(ctx, c.path, c.client)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	c.f = f

	var r io.Reader = f
	if c.from != "" {
		r = newReplaceReader(r, []byte(c.from), []byte(c.to))
	}
	c.cr = csv.NewReader(r)
	c.cr.Comma = c.comma
	c.cr.FieldsPerRecord = -1
	c.cr.ReuseRecord = true
	if c.from != "" {
		c.cr.LazyQuotes = true
	}

	var headers []string
	if c.header {
		h, err := c.cr.Read()
		if err != nil {
			return fmt.Errorf("read csv header: %w", err)
		}
		c.line++
		headers = normalizeHeaders(h, c.headMap)
		c.width = len(headers)
	}

	if len(c.meta.Fields) == 0 {
		fields := make([]schema.Field, len(headers))
		for i, h := range headers {
			fields[i] = schema.Field{Name: h, Type: schema.TypeString, Origin: c.meta.Name}
		}
		c.out = schema.New(fields...)
		c.cols = make([]int, len(headers))
		for i := range c.cols {
			c.cols[i] = i
		}
	} else {
		c.out = schema.New(c.meta.Fields...)
		c.cols = make([]int, c.out.Len())
		for i, f := range c.meta.Fields {
			c.cols[i] = i
			if headers == nil {
				continue
			}
			j := indexString(headers, f.Name)
			if j < 0 {
				return fmt.Errorf("field %q not in header %v", f.Name, headers)
			}
			c.cols[i] = j
		}
	}
	sc.SetOutputSchema(c.out)
	return nil
}

func (c *csvInput) ProcessCycle(ctx context.Context, sc *engine.StepContext) (bool, error) {
	for {
		rec, err := c.cr.Read()
		if errors.Is(err, io.EOF) {
			return true, nil
		}
		c.line++
		if err != nil {
			var pe *csv.ParseError
			if !errors.As(err, &pe) {
				return false, fmt.Errorf("read %s: %w", c.path, err)
			}
		}
		c.nr++
		if (c.nr-1)%c.step != c.self {
			continue
		}
		sc.IncLinesInput(1)
		if err != nil {
			return false, c.reject(CodeCSVParse, fmt.Sprintf("line %d: %v", c.line, err))
		}
		return false, c.emit(ctx, sc, rec)
	}
}

func (c *csvInput) emit(ctx context.Context, sc *engine.StepContext, rec []string) error {
	if c.width > 0 && len(rec) != c.width {
		return c.reject(CodeCSVWidth, fmt.Sprintf("line %d: incorrect number of fields: expected %d, got %d", c.line, c.width, len(rec)))
	}
	row := make(schema.Row, c.out.Len())
	var bad []string
	var firstErr error
	for i, col := range c.cols {
		if col >= len(rec) {
			return c.reject(CodeCSVWidth, fmt.Sprintf("line %d: expected at least %d fields, got %d", c.line, col+1, len(rec)))
		}
		v := rec[col]
		if c.trim {
			v = strings.TrimSpace(v)
		}
		if v == "" {
			continue
		}
		f := c.out.Field(i)
		pv, err := schema.Parse(f.Type, v, c.layout)
		if err != nil {
			bad = append(bad, f.Name)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		row[i] = pv
	}
	if len(bad) > 0 {
		re := engine.RejectRow(row, CodeCSVType, fmt.Sprintf("line %d: %v", c.line, firstErr), bad...)
		re.Schema = c.out
		return re
	}
	return sc.PutRow(ctx, c.out, row)
}

func (c *csvInput) reject(code, desc string) error {
	re := engine.RejectRow(make(schema.Row, c.out.Len()), code, desc)
	re.Schema = c.out
	return re
}

func (c *csvInput) Finalize(context.Context, *engine.StepContext) error { return nil }

func (c *csvInput) Dispose() error {
	if c.f == nil {
		return nil
	}
	return c.f.Close()
}

// normalizeHeaders produces canonical header keys using headerMap (when
// provided) and simple normalization (lowercase, spaces to underscores). It
// also strips a UTF-8 BOM from the first cell if present.
func normalizeHeaders(h []string, headerMap map[string]string) []string {
	res := make([]string, len(h))
	for i, col := range h {
		c := strings.TrimSpace(col)
		if i == 0 {
			c = strings.TrimPrefix(c, utf8BOM)
		}
		if m, ok := headerMap[c]; ok {
			res[i] = m
			continue
		}
		res[i] = strings.ReplaceAll(strings.ToLower(c), " ", "_")
	}
	return res
}

func indexString(ss []string, s string) int {
	for i, x := range ss {
		if x == s {
			return i
		}
	}
	return -1
}
