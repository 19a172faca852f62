package normalize

import "strings"

// ModelResolver maps public model aliases onto provider model names.
type ModelResolver struct {
	aliases map[string]string
}

// NewModelResolver creates a resolver over the alias table. Keys are
// matched case-insensitively.
func NewModelResolver(aliases map[string]string) *ModelResolver {
	m := make(map[string]string, len(aliases))
	for alias, target := range aliases {
		if target == "" {
			continue
		}
		m[strings.ToLower(alias)] = target
	}
	return &ModelResolver{aliases: m}
}

// Resolve returns the provider model for name; unknown names pass through.
func (r *ModelResolver) Resolve(name string) string {
	if target, ok := r.aliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return target
	}
	return name
}
