package driver

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Factory builds a configured driver. ConfigSchema is a JSON schema for the
// driver's config block; it is compiled at registration and enforced before
// the constructor runs.
type Factory struct {
	Name         string
	ConfigSchema map[string]any
	New          func(env Env, cfg map[string]any) (Driver, error)
}

type registered struct {
	factory Factory
	schema  *jsonschema.Schema
}

// Registry maps driver names to factories.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]registered
}

func NewRegistry() *Registry {
	return &Registry{drivers: map[string]registered{}}
}

func (r *Registry) Register(f Factory) error {
	name := strings.TrimSpace(f.Name)
	if name == "" {
		return fmt.Errorf("driver factory missing name")
	}
	if f.New == nil {
		return fmt.Errorf("driver %s missing constructor", name)
	}
	schema, err := compileSchema(f.ConfigSchema)
	if err != nil {
		return fmt.Errorf("driver %s config schema: %w", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.drivers == nil {
		r.drivers = map[string]registered{}
	}
	r.drivers[name] = registered{factory: f, schema: schema}
	return nil
}

// Names returns the registered driver names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve validates cfg against the named driver's config schema and
// constructs the driver. Unknown names list the registered alternatives.
func (r *Registry) Resolve(name string, env Env, cfg map[string]any) (Driver, error) {
	r.mu.RLock()
	reg, ok := r.drivers[strings.TrimSpace(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown driver %q (known: %s)", name, strings.Join(r.Names(), ", "))
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	normalized, err := normalizeConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("driver %s config: %w", name, err)
	}
	if err := reg.schema.Validate(normalized); err != nil {
		return nil, fmt.Errorf("driver %s config: %w", name, err)
	}
	return reg.factory.New(env, normalized)
}

// normalizeConfig round-trips a YAML-decoded map through JSON so the schema
// validator sees JSON-native types (float64, not int).
func normalizeConfig(cfg map[string]any) (map[string]any, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func compileSchema(params map[string]any) (*jsonschema.Schema, error) {
	if params == nil {
		params = map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", strings.NewReader(string(b))); err != nil {
		return nil, err
	}
	return c.Compile("schema.json")
}
