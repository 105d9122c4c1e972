package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Environment overrides applied by ApplyEnv.
const (
	EnvRowSetSize = "KETTLE_ROWSET_SIZE"
)

// Load reads a definition file. The format follows the extension: .yaml and
// .yml are YAML, everything else is JSON with comments and trailing commas
// allowed.
func Load(path string) (Transformation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Transformation{}, fmt.Errorf("reading %s: %w", path, err)
	}
	var t Transformation
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		t, err = ParseYAML(data)
	default:
		t, err = ParseJSON(data)
	}
	if err != nil {
		return Transformation{}, fmt.Errorf("%s: %w", path, err)
	}
	if t.Name == "" {
		t.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return t, nil
}

// ParseJSON decodes a JSON or JSONC definition. Unknown fields are rejected
// so that typos surface instead of being ignored.
func ParseJSON(data []byte) (Transformation, error) {
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	dec.DisallowUnknownFields()
	var t Transformation
	if err := dec.Decode(&t); err != nil {
		return Transformation{}, fmt.Errorf("parsing transformation: %w", err)
	}
	t.fill()
	return t, nil
}

// ParseYAML decodes a YAML definition.
func ParseYAML(data []byte) (Transformation, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var t Transformation
	if err := dec.Decode(&t); err != nil {
		return Transformation{}, fmt.Errorf("parsing transformation: %w", err)
	}
	t.fill()
	return t, nil
}

// fill gives every step a non-nil Options map and expands ${VAR}
// references in connection strings.
func (t *Transformation) fill() {
	for i := range t.Steps {
		if t.Steps[i].Options == nil {
			t.Steps[i].Options = Options{}
		}
	}
	for i := range t.Connections {
		t.Connections[i].DSN = os.ExpandEnv(t.Connections[i].DSN)
	}
}

// ApplyEnv overrides runtime knobs from the environment.
func (t *Transformation) ApplyEnv() {
	t.Runtime.RowSetSize = getenvInt(EnvRowSetSize, t.Runtime.RowSetSize)
}

func getenvInt(k string, def int) int {
	if s := os.Getenv(k); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}
