// internal/artifacts/artifacts.go
package artifacts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/mender/internal/autofix"
)

// Paths names the on-disk location of every artifact a run persists.
type Paths struct {
	Payload  string
	Response string
	FixData  string
	Summary  string
}

// DefaultPaths mirrors the artifact names CI jobs expect. They are the
// configuration defaults.
func DefaultPaths() Paths {
	return Paths{
		Payload:  "openai_payload.json",
		Response: "ai-response.txt",
		FixData:  "fix-data.json",
		Summary:  "fix-summary.json",
	}
}

// Store reads and writes run artifacts relative to a base directory.
type Store struct {
	dir   string
	paths Paths
}

// NewStore creates a Store. Relative artifact paths are resolved against dir.
func NewStore(dir string, paths Paths) *Store {
	return &Store{dir: dir, paths: paths}
}

func (s *Store) resolve(p string) string {
	if s.dir == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.dir, p)
}

// WritePayload persists the chat request body for the external model call.
func (s *Store) WritePayload(req autofix.ChatRequest) (string, error) {
	path := s.resolve(s.paths.Payload)
	return path, WriteJSON(path, req)
}

// WriteResponse keeps a verbatim copy of the model's reply.
func (s *Store) WriteResponse(raw string) (string, error) {
	path := s.resolve(s.paths.Response)
	return path, writeFile(path, []byte(raw))
}

// WriteFixData persists a validated fix.
func (s *Store) WriteFixData(resp autofix.AnalysisResponse) (string, error) {
	path := s.resolve(s.paths.FixData)
	return path, WriteJSON(path, resp)
}

// WriteSummary persists the outcome of an applied fix.
func (s *Store) WriteSummary(summary autofix.FixSummary) (string, error) {
	path := s.resolve(s.paths.Summary)
	return path, WriteJSON(path, summary)
}

// ReadSummary loads a persisted fix summary.
func (s *Store) ReadSummary() (*autofix.FixSummary, error) {
	var summary autofix.FixSummary
	if err := ReadJSON(s.resolve(s.paths.Summary), &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// WriteJSON writes v as indented JSON, creating parent directories as needed.
func WriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal artifact '%s': %w", path, err)
	}
	return writeFile(path, append(data, '\n'))
}

// ReadJSON decodes the JSON file at path into v.
func ReadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("artifact '%s' does not exist: %w", path, err)
		}
		return fmt.Errorf("failed to read artifact '%s': %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode artifact '%s': %w", path, err)
	}
	return nil
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create artifact directory '%s': %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write artifact '%s': %w", path, err)
	}
	return nil
}
