package engine

import (
	"errors"
	"fmt"

	"kettle/internal/config"
	"kettle/internal/schema"
)

// DefaultRowSetSize is the capacity of every row set unless overridden.
const DefaultRowSetSize = 10000

// Default names of the diagnostic fields appended to error rows.
const (
	DefaultNrErrorsField     = "nr_errors"
	DefaultDescriptionsField = "error_descriptions"
	DefaultFieldsField       = "error_fields"
	DefaultCodesField        = "error_codes"
)

// StepMeta declares one step of a graph.
type StepMeta struct {
	Name   string
	Type   string
	Copies int

	Distribution    Distribution
	PartitionFields []string
	// Partitioner overrides the default key hash of DistributePartitioned.
	Partitioner PartitionFunc

	// Fields is the static output schema of a source step.
	Fields []schema.Field

	Options       config.Options
	ErrorHandling *ErrorHandling
}

// ErrorHandling binds a step to an error target step. Rejected rows are sent
// there, extended with diagnostic fields, instead of failing the step.
type ErrorHandling struct {
	Target string
	// MaxErrors fails the step once more rows than this were rejected.
	// Zero means no limit.
	MaxErrors int

	NrErrorsField     string
	DescriptionsField string
	FieldsField       string
	CodesField        string
}

func (e ErrorHandling) withDefaults() ErrorHandling {
	if e.NrErrorsField == "" {
		e.NrErrorsField = DefaultNrErrorsField
	}
	if e.DescriptionsField == "" {
		e.DescriptionsField = DefaultDescriptionsField
	}
	if e.FieldsField == "" {
		e.FieldsField = DefaultFieldsField
	}
	if e.CodesField == "" {
		e.CodesField = DefaultCodesField
	}
	return e
}

// Hop connects the output of one step to the input of another.
type Hop struct {
	From, To string
	Disabled bool
}

// Graph is the declarative form of a transformation.
type Graph struct {
	Name       string
	Steps      []StepMeta
	Hops       []Hop
	RowSetSize int
}

// Step returns the declaration of the step called name.
func (g *Graph) Step(name string) (StepMeta, bool) {
	for _, s := range g.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepMeta{}, false
}

// Validate checks the graph and normalizes it in place: copy counts below 1
// become 1, an empty distribution becomes round robin, error handling gets
// its default field names, and a non-positive row set size becomes
// DefaultRowSetSize. It returns a *ConfigError describing the first problem.
func (g *Graph) Validate() error {
	if len(g.Steps) == 0 {
		return configErrorf("steps", "transformation has no steps")
	}
	if g.RowSetSize <= 0 {
		g.RowSetSize = DefaultRowSetSize
	}

	byName := make(map[string]int, len(g.Steps))
	for i := range g.Steps {
		s := &g.Steps[i]
		path := fmt.Sprintf("steps[%d]", i)
		if s.Name == "" {
			return configErrorf(path+".name", "must not be empty")
		}
		if _, dup := byName[s.Name]; dup {
			return configErrorf(path+".name", "duplicate step name %q", s.Name)
		}
		byName[s.Name] = i
		if s.Type == "" {
			return configErrorf(path+".type", "step %q has no type", s.Name)
		}
		if s.Copies < 1 {
			s.Copies = 1
		}
		if s.Distribution == "" {
			s.Distribution = DistributeRoundRobin
		}
		switch s.Distribution {
		case DistributeRoundRobin, DistributeCopy:
		case DistributePartitioned:
			if len(s.PartitionFields) == 0 && s.Partitioner == nil {
				return configErrorf(path+".partition_fields", "step %q is partitioned but names no key fields", s.Name)
			}
		default:
			return configErrorf(path+".distribution", "unknown distribution %q", s.Distribution)
		}
	}

	seen := make(map[[2]string]bool, len(g.Hops))
	for i, h := range g.Hops {
		path := fmt.Sprintf("hops[%d]", i)
		if _, ok := byName[h.From]; !ok {
			return configErrorf(path+".from", "unknown step %q", h.From)
		}
		if _, ok := byName[h.To]; !ok {
			return configErrorf(path+".to", "unknown step %q", h.To)
		}
		if h.From == h.To {
			return configErrorf(path, "step %q is connected to itself", h.From)
		}
		k := [2]string{h.From, h.To}
		if seen[k] && !h.Disabled {
			return configErrorf(path, "duplicate hop %s -> %s", h.From, h.To)
		}
		if !h.Disabled {
			seen[k] = true
		}
	}

	for i := range g.Steps {
		s := &g.Steps[i]
		path := fmt.Sprintf("steps[%d]", i)
		if s.Distribution == DistributePartitioned && len(g.outputs(s.Name)) == 0 {
			return configErrorf(path+".distribution", "step %q is partitioned but has no outgoing hop", s.Name)
		}
		if s.ErrorHandling == nil {
			continue
		}
		eh := s.ErrorHandling.withDefaults()
		s.ErrorHandling = &eh
		if eh.Target == "" {
			return configErrorf(path+".error_handling.target", "step %q has error handling without a target", s.Name)
		}
		if _, ok := byName[eh.Target]; !ok {
			return configErrorf(path+".error_handling.target", "unknown step %q", eh.Target)
		}
		if eh.Target == s.Name {
			return configErrorf(path+".error_handling.target", "step %q cannot be its own error target", s.Name)
		}
		if seen[[2]string{s.Name, eh.Target}] {
			return configErrorf(path+".error_handling.target", "step %q is both a regular and the error target of %q", eh.Target, s.Name)
		}
		if eh.MaxErrors < 0 {
			return configErrorf(path+".error_handling.max_errors", "must not be negative")
		}
	}

	if cyc := g.cycle(); cyc != "" {
		return configErrorf("hops", "graph contains a cycle through step %q", cyc)
	}
	return nil
}

// outputs lists the targets of the enabled hops leaving name, in hop order.
func (g *Graph) outputs(name string) []string {
	var out []string
	for _, h := range g.Hops {
		if h.From == name && !h.Disabled {
			out = append(out, h.To)
		}
	}
	return out
}

// inputs lists the sources feeding name, error hops included, in step order.
func (g *Graph) inputs(name string) []string {
	var in []string
	for _, s := range g.Steps {
		for _, to := range g.outputs(s.Name) {
			if to == name {
				in = append(in, s.Name)
			}
		}
		if s.ErrorHandling != nil && s.ErrorHandling.Target == name {
			in = append(in, s.Name)
		}
	}
	return in
}

// cycle runs Kahn's algorithm over regular and error edges and returns a
// step left on a cycle, or "".
func (g *Graph) cycle() string {
	indeg := make(map[string]int, len(g.Steps))
	next := make(map[string][]string, len(g.Steps))
	for _, s := range g.Steps {
		indeg[s.Name] += 0
		targets := g.outputs(s.Name)
		if s.ErrorHandling != nil {
			targets = append(targets, s.ErrorHandling.Target)
		}
		for _, t := range targets {
			next[s.Name] = append(next[s.Name], t)
			indeg[t]++
		}
	}
	var queue []string
	for _, s := range g.Steps {
		if indeg[s.Name] == 0 {
			queue = append(queue, s.Name)
		}
	}
	visited := 0
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		visited++
		for _, t := range next[n] {
			indeg[t]--
			if indeg[t] == 0 {
				queue = append(queue, t)
			}
		}
	}
	if visited == len(g.Steps) {
		return ""
	}
	for _, s := range g.Steps {
		if indeg[s.Name] > 0 {
			return s.Name
		}
	}
	return ""
}

// GraphFromConfig converts a decoded transformation definition into a Graph.
// Field types and distributions are parsed here; structural checks are left
// to Validate.
func GraphFromConfig(t config.Transformation) (Graph, error) {
	g := Graph{Name: t.Name, RowSetSize: t.Runtime.RowSetSize}
	var errs []error
	for i, s := range t.Steps {
		path := fmt.Sprintf("steps[%d]", i)
		dist, err := ParseDistribution(s.Distribution)
		if err != nil {
			errs = append(errs, configErrorf(path+".distribution", "%v", err))
		}
		meta := StepMeta{
			Name:            s.Name,
			Type:            s.Type,
			Copies:          s.Copies,
			Distribution:    dist,
			PartitionFields: s.PartitionFields,
			Options:         s.Options,
		}
		if meta.Options == nil {
			meta.Options = config.Options{}
		}
		for j, f := range s.Fields {
			typ, err := schema.ParseType(f.Type)
			if err != nil {
				errs = append(errs, configErrorf(fmt.Sprintf("%s.fields[%d].type", path, j), "%v", err))
				continue
			}
			meta.Fields = append(meta.Fields, schema.Field{
				Name: f.Name, Type: typ, Length: f.Length, Precision: f.Precision, Origin: s.Name,
			})
		}
		if eh := s.ErrorHandling; eh != nil {
			meta.ErrorHandling = &ErrorHandling{
				Target:            eh.Target,
				MaxErrors:         eh.MaxErrors,
				NrErrorsField:     eh.NrErrorsField,
				DescriptionsField: eh.DescriptionsField,
				FieldsField:       eh.FieldsField,
				CodesField:        eh.CodesField,
			}
		}
		g.Steps = append(g.Steps, meta)
	}
	for _, h := range t.Hops {
		g.Hops = append(g.Hops, Hop{From: h.From, To: h.To, Disabled: h.Disabled})
	}
	return g, errors.Join(errs...)
}
