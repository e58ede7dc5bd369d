package agent

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Options configures a Registry.
type Options struct {
	// Theme selects display names; unknown themes fall back to DefaultTheme.
	Theme string
	// Models maps model keys (MODEL_OPUS, ...) to routable model names.
	Models map[string]string
	// Definitions overrides the built-in council.
	Definitions []Definition
	// Now is used for the {{.Date}} prompt variable.
	Now func() time.Time
}

// Registry resolves council roles to definitions and model chains.
type Registry struct {
	theme  Theme
	models map[string]string
	defs   map[Role]Definition
	order  []Role
	now    func() time.Time
}

// NewRegistry creates a themed registry.
func NewRegistry(optFns ...func(o *Options)) *Registry {
	opts := Options{Theme: string(DefaultTheme)}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Definitions == nil {
		opts.Definitions = DefaultDefinitions()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	r := &Registry{
		theme:  ParseTheme(opts.Theme),
		models: make(map[string]string, len(opts.Models)),
		defs:   make(map[Role]Definition, len(opts.Definitions)),
		now:    opts.Now,
	}
	for k, v := range opts.Models {
		if v != "" {
			r.models[k] = v
		}
	}

	personas := themes[r.theme].Personas
	for _, d := range opts.Definitions {
		d.Role = d.Role.Canonical()
		if p, ok := personas[d.Role]; ok {
			if d.Name == "" {
				d.Name = p.Name
			}
			if d.Avatar == "" {
				d.Avatar = p.Avatar
			}
		}
		if d.Name == "" {
			d.Name = string(d.Role)
		}
		if d.Model == "" {
			d.Model = r.models[d.ModelKey]
		}
		if _, dup := r.defs[d.Role]; !dup {
			r.order = append(r.order, d.Role)
		}
		r.defs[d.Role] = d
	}
	return r
}

// Theme returns the active theme.
func (r *Registry) Theme() Theme { return r.theme }

// Get returns the definition for role. "critic" resolves to the reasoner.
func (r *Registry) Get(role Role) (Definition, bool) {
	d, ok := r.defs[role.Canonical()]
	return d, ok
}

// Has reports whether role is registered.
func (r *Registry) Has(role Role) bool {
	_, ok := r.Get(role)
	return ok
}

// Name returns the themed display name of role, or the role key itself.
func (r *Registry) Name(role Role) string {
	if d, ok := r.Get(role); ok {
		return d.Name
	}
	return string(role)
}

// Definitions returns all definitions in registration order.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, 0, len(r.order))
	for _, role := range r.order {
		out = append(out, r.defs[role])
	}
	return out
}

// Models returns the ordered model candidates for role: the agent's own
// model, its tier fallbacks and the ultimate fallback, deduplicated. With
// exhausted set the cheap models move to the front.
func (r *Registry) Models(role Role, exhausted bool) []string {
	d, ok := r.Get(role)
	if !ok {
		return []string{UltimateFallbackModel}
	}

	var chain []string
	add := func(name string) {
		if name != "" && !slices.Contains(chain, name) {
			chain = append(chain, name)
		}
	}

	if exhausted {
		for _, k := range cheapKeys {
			add(r.models[k])
		}
	}
	add(d.Model)
	for _, k := range tierFallbacks[d.Tier] {
		add(r.models[k])
	}
	add(UltimateFallbackModel)
	return chain
}

// Prompt renders the system prompt of role.
func (r *Registry) Prompt(role Role) (string, error) {
	d, ok := r.Get(role)
	if !ok {
		return "", fmt.Errorf("unknown agent role %q", role)
	}
	data := PromptData{
		Date:  r.now().Format("Monday, 2 January 2006"),
		Theme: string(r.theme),
		Name:  d.Name,
	}
	text, err := d.Prompt.Render(data)
	if err != nil {
		return "", fmt.Errorf("%s prompt: %w", role, err)
	}
	return text, nil
}

// Validate checks the registry shape: exactly one tier-1 agent and the
// planner, implementer and reasoner roles present.
func (r *Registry) Validate() error {
	var errs []error
	tier1 := 0
	for _, d := range r.defs {
		if d.Tier == 1 {
			tier1++
		}
		if d.Tier < 1 || d.Tier > 3 {
			errs = append(errs, fmt.Errorf("agent %s: tier %d out of range", d.Role, d.Tier))
		}
		if err := d.Prompt.Err(); err != nil {
			errs = append(errs, fmt.Errorf("agent %s: %w", d.Role, err))
		}
	}
	if tier1 != 1 {
		errs = append(errs, fmt.Errorf("expected exactly one tier-1 agent, got %d", tier1))
	}
	for _, role := range []Role{RolePlanner, RoleImplementer, RoleReasoner} {
		if !r.Has(role) {
			errs = append(errs, fmt.Errorf("missing required role %s", role))
		}
	}
	return errors.Join(errs...)
}
