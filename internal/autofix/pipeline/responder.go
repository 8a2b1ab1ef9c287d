// internal/autofix/pipeline/responder.go
package pipeline

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/xkilldash9x/mender/internal/autofix"
)

// FileResponder serves a model reply that an earlier CI step already
// fetched from the provider and saved to disk.
type FileResponder struct {
	Path string
}

var _ autofix.Responder = FileResponder{}

// Respond ignores the request and returns the saved reply.
func (r FileResponder) Respond(ctx context.Context, _ autofix.ChatRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(r.Path)
	if err != nil {
		return "", fmt.Errorf("failed to read model reply '%s': %w", r.Path, err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", fmt.Errorf("model reply '%s' is empty", r.Path)
	}
	return string(data), nil
}
