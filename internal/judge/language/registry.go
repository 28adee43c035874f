package language

import (
	"strings"

	appErr "codejudge/pkg/errors"
)

// Registry resolves language names and aliases to adapters.
// It is immutable after construction and safe for concurrent use.
type Registry struct {
	specs   map[string]Spec
	aliases map[string]string
	order   []string
}

// NewRegistry validates specs and indexes them by id and alias.
func NewRegistry(specs []Spec) (*Registry, error) {
	if len(specs) == 0 {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("at least one language is required")
	}
	r := &Registry{
		specs:   make(map[string]Spec, len(specs)),
		aliases: make(map[string]string),
	}
	for _, s := range specs {
		s.ID = normalize(s.ID)
		if err := s.validate(); err != nil {
			return nil, err
		}
		if _, dup := r.specs[s.ID]; dup {
			return nil, appErr.Newf(appErr.InvalidParams, "duplicate language %q", s.ID)
		}
		if s.Name == "" {
			s.Name = s.ID
		}
		r.specs[s.ID] = s
		r.order = append(r.order, s.ID)
	}
	for _, s := range r.specs {
		for _, alias := range s.Aliases {
			key := normalize(alias)
			if key == "" || key == s.ID {
				continue
			}
			if _, clash := r.specs[key]; clash {
				return nil, appErr.Newf(appErr.InvalidParams, "alias %q shadows a language id", alias)
			}
			if owner, dup := r.aliases[key]; dup && owner != s.ID {
				return nil, appErr.Newf(appErr.InvalidParams, "alias %q registered twice", alias)
			}
			r.aliases[key] = s.ID
		}
	}
	return r, nil
}

// Resolve returns the adapter for name or an UnsupportedLanguage error.
func (r *Registry) Resolve(name string) (Spec, error) {
	key := normalize(name)
	if key == "" {
		return Spec{}, appErr.ValidationError("language", "required")
	}
	if s, ok := r.specs[key]; ok {
		return s, nil
	}
	if id, ok := r.aliases[key]; ok {
		return r.specs[id], nil
	}
	return Spec{}, appErr.UnsupportedLanguageError(name)
}

// List returns the registered adapters in registration order.
func (r *Registry) List() []Spec {
	out := make([]Spec, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.specs[id])
	}
	return out
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
