// internal/autofix/interfaces.go
package autofix

import (
	"context"
)

// Responder is the boundary to the language model. Implementations hand the
// request to the provider (or to whatever already did) and return the raw
// reply text. Timeouts and retries are the implementation's business.
type Responder interface {
	Respond(ctx context.Context, req ChatRequest) (string, error)
}

// ContextReader loads the failure context that belongs to a DOM artifact.
type ContextReader interface {
	Read(artifactPath string) (*FailureContext, error)
}

// PayloadBuilder renders the model request for one failure.
type PayloadBuilder interface {
	Build(testSource, normalizedDOM string, fc FailureContext, meta RunMetadata) (*PromptPayload, error)
}

// FixApplier applies a validated fix to the live file and can undo it.
type FixApplier interface {
	// Check runs Apply's preconditions without touching the file.
	Check(fix FixRecord) error
	// Apply re-checks the fix against the file, backs the file up and writes the edit.
	Apply(fix FixRecord) (*ApplyResult, *BackupRecord, error)
	// Revert restores the most recent backup. It reports false when there is none.
	Revert(path string) bool
}
