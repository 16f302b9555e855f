package ai

import "context"

// Completer is the opaque text-completion capability backing question
// generation, reply classification, and outcome evaluation. Implementations
// must be safe for concurrent use. It is injected into consumers so tests can
// substitute a deterministic fake.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
	Model() string
}
