package file

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestLocalOpen covers success, a missing file, a directory and a
// pre-canceled context.
func TestLocalOpen(t *testing.T) {
	t.Parallel()

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	type tc struct {
		name            string
		prepare         func(t *testing.T) string // returns path to open
		ctx             context.Context
		wantErrIs       error
		wantErrContains string
		wantContent     string
	}
	writeFile := func(t *testing.T, body string) string {
		t.Helper()
		p := filepath.Join(t.TempDir(), "data.csv")
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatalf("write test file: %v", err)
		}
		return p
	}

	cases := []tc{
		{
			name:        "reads_content",
			prepare:     func(t *testing.T) string { return writeFile(t, "id,name\n1,kettle\n") },
			ctx:         context.Background(),
			wantContent: "id,name\n1,kettle\n",
		},
		{
			name:            "missing_file_keeps_cause",
			prepare:         func(t *testing.T) string { return filepath.Join(t.TempDir(), "missing.csv") },
			ctx:             context.Background(),
			wantErrIs:       os.ErrNotExist,
			wantErrContains: "open ",
		},
		{
			name:            "directory_refused",
			prepare:         func(t *testing.T) string { return t.TempDir() },
			ctx:             context.Background(),
			wantErrContains: "is a directory",
		},
		{
			name:      "canceled_context_short_circuits",
			prepare:   func(t *testing.T) string { return writeFile(t, "ignored") },
			ctx:       canceled,
			wantErrIs: context.Canceled,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			l := NewLocal(c.prepare(t))
			rc, err := l.Open(c.ctx)

			if c.wantErrIs != nil || c.wantErrContains != "" {
				if err == nil {
					rc.Close()
					t.Fatalf("expected error, got nil")
				}
				if c.wantErrIs != nil && !errors.Is(err, c.wantErrIs) {
					t.Errorf("errors.Is(%v, %v) = false", err, c.wantErrIs)
				}
				if c.wantErrContains != "" && !strings.Contains(err.Error(), c.wantErrContains) {
					t.Errorf("error %q does not contain %q", err, c.wantErrContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer rc.Close()
			got, err := io.ReadAll(rc)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if string(got) != c.wantContent {
				t.Errorf("content = %q, want %q", got, c.wantContent)
			}
		})
	}
}
