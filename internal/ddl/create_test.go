package ddl

import (
	"strings"
	"testing"
)

func TestBuildCreateTableSQL_Errors(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		def  TableDef
		want string
	}{
		"no table":    {TableDef{Columns: []ColumnDef{{Name: "id", SQLType: "INT"}}}, "FQN must not be empty"},
		"blank table": {TableDef{FQN: "  ", Columns: []ColumnDef{{Name: "id", SQLType: "INT"}}}, "FQN must not be empty"},
		"no columns":  {TableDef{FQN: "t"}, "at least one column"},
		"unnamed":     {TableDef{FQN: "t", Columns: []ColumnDef{{SQLType: "INT"}}}, "empty name"},
		"untyped":     {TableDef{FQN: "t", Columns: []ColumnDef{{Name: "id"}}}, "missing SQLType"},
		"blank typed": {TableDef{FQN: "t", Columns: []ColumnDef{{Name: "id", SQLType: " "}}}, "missing SQLType"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := BuildCreateTableSQL(tt.def, Generic)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %v, want it to mention %q", err, tt.want)
			}
			if !strings.HasPrefix(err.Error(), "ddl: ") {
				t.Errorf("error %q lacks the dialect prefix", err)
			}
		})
	}
}

func TestBuildCreateTableSQL_Columns(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cols []ColumnDef
		want string
	}{
		{
			name: "nullable only",
			cols: []ColumnDef{{Name: "note", SQLType: "TEXT", Nullable: true}},
			want: "CREATE TABLE stage.orders (\n  note TEXT\n);",
		},
		{
			name: "not null with default",
			cols: []ColumnDef{{Name: " loaded_at ", SQLType: " TIMESTAMP ", Default: "  CURRENT_TIMESTAMP "}},
			want: "CREATE TABLE stage.orders (\n  loaded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP\n);",
		},
		{
			name: "key columns keep declaration order",
			cols: []ColumnDef{
				{Name: "run_id", SQLType: "TEXT", PrimaryKey: true, Nullable: true},
				{Name: "line", SQLType: "BIGINT", PrimaryKey: true},
				{Name: "amount", SQLType: "NUMERIC(12,2)", Nullable: true},
			},
			want: "CREATE TABLE stage.orders (\n" +
				"  run_id TEXT NOT NULL,\n" +
				"  line BIGINT NOT NULL,\n" +
				"  amount NUMERIC(12,2),\n" +
				"  PRIMARY KEY (run_id, line)\n);",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := BuildCreateTableSQL(TableDef{FQN: "stage.orders", Columns: tt.cols}, Generic)
			if err != nil {
				t.Fatalf("BuildCreateTableSQL() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("got:\n%s\nwant:\n%s", got, tt.want)
			}
		})
	}
}
