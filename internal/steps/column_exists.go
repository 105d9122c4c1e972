package steps

import (
	"context"
	"fmt"

	"kettle/internal/engine"
	"kettle/internal/schema"
	"kettle/internal/storage"
)

// CodeColumnExists marks a row whose lookup failed.
const CodeColumnExists = "ColumnExists001"

// openRepository is the storage seam of the database steps.
var openRepository = storage.New

// columnExists appends a boolean telling whether the column named by
// column_field exists in the table.
//
// Options:
//
//	connection    named connection (required)
//	schema        schema qualifying the table, optional
//	table         static table name
//	table_field   field holding the table name, used instead of table
//	column_field  field holding the column name (required)
//	result_field  name of the appended field, default "result"
//
// Answers are cached per table and column for the life of the copy.
type columnExists struct {
	conn     string
	dbSchema string
	table    string
	tableFld string
	colFld   string
	result   string

	cfg   storage.Config
	repo  storage.Repository
	cache map[[2]string]bool

	in     *schema.Schema
	out    *schema.Schema
	tblIdx int
	colIdx int
}

func newColumnExists(env Env, meta engine.StepMeta) (engine.Step, error) {
	c := &columnExists{
		conn:     meta.Options.String("connection", ""),
		dbSchema: meta.Options.String("schema", ""),
		table:    meta.Options.String("table", ""),
		tableFld: meta.Options.String("table_field", ""),
		colFld:   meta.Options.String("column_field", ""),
		result:   meta.Options.String("result_field", "result"),
		cache:    map[[2]string]bool{},
		tblIdx:   -1,
	}
	if c.conn == "" {
		return nil, optionErr(meta, "connection", "required")
	}
	if c.colFld == "" {
		return nil, optionErr(meta, "column_field", "required")
	}
	if c.table == "" && c.tableFld == "" {
		return nil, optionErr(meta, "table", "either table or table_field is required")
	}
	conn, err := env.Connections.Get(c.conn)
	if err != nil {
		return nil, fmt.Errorf("step %s: %w", meta.Name, err)
	}
	c.cfg = storage.Config{Kind: conn.Kind, DSN: conn.DSN}
	return c, nil
}

func (c *columnExists) Init(ctx context.Context, _ *engine.StepContext) error {
	repo, err := openRepository(ctx, c.cfg)
	if err != nil {
		return fmt.Errorf("connect %s: %w", c.conn, err)
	}
	c.repo = repo
	return nil
}

func (c *columnExists) bind(in *schema.Schema) error {
	c.colIdx = in.IndexOf(c.colFld)
	if c.colIdx < 0 {
		return fmt.Errorf("column field %q not found in input %s", c.colFld, in)
	}
	if c.tableFld != "" {
		c.tblIdx = in.IndexOf(c.tableFld)
		if c.tblIdx < 0 {
			return fmt.Errorf("table field %q not found in input %s", c.tableFld, in)
		}
	}
	c.in = in
	c.out = in.Append(schema.Field{Name: c.result, Type: schema.TypeBoolean})
	return nil
}

func (c *columnExists) ProcessCycle(ctx context.Context, sc *engine.StepContext) (bool, error) {
	row, done, err := nextRow(ctx, sc)
	if done || err != nil {
		return done, err
	}
	if sc.InputSchema() != c.in {
		if err := c.bind(sc.InputSchema()); err != nil {
			return false, err
		}
	}

	table := c.table
	if c.tblIdx >= 0 {
		table = schema.Format(row[c.tblIdx])
	}
	if c.dbSchema != "" {
		table = c.dbSchema + "." + table
	}
	column := schema.Format(row[c.colIdx])
	if table == "" || column == "" {
		return false, engine.RejectRow(row, CodeColumnExists, "table or column name is empty", c.result)
	}

	key := [2]string{table, column}
	ok, hit := c.cache[key]
	if !hit {
		ok, err = c.repo.ColumnExists(ctx, table, column)
		if err != nil {
			return false, engine.RejectRow(row, CodeColumnExists, err.Error(), c.result)
		}
		c.cache[key] = ok
	}
	return false, sc.PutRow(ctx, c.out, row.Append(ok))
}

func (c *columnExists) Finalize(context.Context, *engine.StepContext) error { return nil }

func (c *columnExists) Dispose() error {
	if c.repo != nil {
		c.repo.Close()
	}
	return nil
}
