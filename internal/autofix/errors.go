// internal/autofix/errors.go
package autofix

import "fmt"

// Stage names used in StageError and in CLI diagnostics.
const (
	StageReadContext   = "read-context"
	StageReadSource    = "read-test-source"
	StageNormalizeDOM  = "normalize-dom"
	StageBuildPayload  = "build-payload"
	StageModelResponse = "model-response"
	StageParseResponse = "parse-response"
	StageApplyFix      = "apply-fix"
	StagePersist       = "persist-artifacts"
)

// StageError tags a failure with the pipeline stage that produced it.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// MissingContentError means required prompt input was empty.
type MissingContentError struct {
	Field string
}

func (e *MissingContentError) Error() string {
	return fmt.Sprintf("missing required content: %s is empty", e.Field)
}

// ContextNotFoundError means the sibling failure-context record does not exist.
type ContextNotFoundError struct {
	Path string
}

func (e *ContextNotFoundError) Error() string {
	return fmt.Sprintf("failure context not found: %s", e.Path)
}

// ContextParseError means the failure-context record exists but is unusable.
type ContextParseError struct {
	Path string
	Err  error
}

func (e *ContextParseError) Error() string {
	return fmt.Sprintf("failed to parse failure context %s: %v", e.Path, e.Err)
}

func (e *ContextParseError) Unwrap() error { return e.Err }

// NoStructuredContentError means the model reply contained no JSON object.
type NoStructuredContentError struct {
	Excerpt string
}

func (e *NoStructuredContentError) Error() string {
	if e.Excerpt == "" {
		return "no JSON object found in model response"
	}
	return fmt.Sprintf("no JSON object found in model response (excerpt: %q)", e.Excerpt)
}

// SchemaViolationError names the first field of the model reply that failed validation.
type SchemaViolationError struct {
	Field  string
	Reason string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("schema violation on field '%s': %s", e.Field, e.Reason)
}

// FileNotFoundError means the fix targets a file that does not exist.
type FileNotFoundError struct {
	Path string
}

func (e *FileNotFoundError) Error() string {
	return fmt.Sprintf("target file does not exist: %s", e.Path)
}

// LineOutOfRangeError means the fix targets a line outside the file.
type LineOutOfRangeError struct {
	Path      string
	Line      int
	LineCount int
}

func (e *LineOutOfRangeError) Error() string {
	return fmt.Sprintf("line %d does not exist in file %s (%d lines)", e.Line, e.Path, e.LineCount)
}

// CodeMismatchError means the target line does not contain the expected code.
type CodeMismatchError struct {
	Path     string
	Line     int
	OldCode  string
	LineText string
}

func (e *CodeMismatchError) Error() string {
	return fmt.Sprintf("expected code %q not found on line %d of %s (line is %q)", e.OldCode, e.Line, e.Path, e.LineText)
}

// BackupFailureError means the safety copy could not be written. Nothing was mutated.
type BackupFailureError struct {
	Path       string
	BackupPath string
	Err        error
}

func (e *BackupFailureError) Error() string {
	return fmt.Sprintf("failed to back up %s to %s: %v", e.Path, e.BackupPath, e.Err)
}

func (e *BackupFailureError) Unwrap() error { return e.Err }
