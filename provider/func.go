package provider

import "context"

// Func adapts a plain function into a Provider, for custom backends and
// tests. The function must be a pure function of its inputs.
type Func struct {
	// ProviderName is reported by Name; defaults to "custom".
	ProviderName string

	// Generate produces the decision for each call.
	Generate func(ctx context.Context, turns []Turn, manifest []ToolSpec) (*Decision, error)
}

var _ Provider = (*Func)(nil)

// Name implements Provider.
func (f *Func) Name() string {
	if f.ProviderName == "" {
		return "custom"
	}
	return f.ProviderName
}

// GenerateResponse implements Provider.
func (f *Func) GenerateResponse(ctx context.Context, turns []Turn, manifest []ToolSpec) (*Decision, error) {
	return f.Generate(ctx, turns, manifest)
}
