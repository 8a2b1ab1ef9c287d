// internal/autofix/models.go
package autofix

import "time"

// FailureContext is the sibling record the test runner writes next to a DOM
// snapshot when a test fails. The core only ever reads it.
type FailureContext struct {
	TestName  string        `json:"testName"`
	TestFile  string        `json:"testFile"` // Source file that must be edited.
	SpecFile  string        `json:"specFile"`
	Timestamp time.Time     `json:"timestamp"`
	Error     *FailureError `json:"error,omitempty"`
}

// FailureError carries what the runner knew about the failing assertion.
type FailureError struct {
	Message  string        `json:"message"`
	Stack    string        `json:"stack"`
	Location ErrorLocation `json:"-"`
}

// Location returns where the failure happened, or UnknownLocation when the
// runner could not tell.
func (fc FailureContext) Location() ErrorLocation {
	if fc.Error == nil || fc.Error.Location == nil {
		return UnknownLocation{}
	}
	return fc.Error.Location
}

// ErrorLocation is either KnownLocation or UnknownLocation. The unexported
// method keeps the set closed so a type switch over it is exhaustive.
type ErrorLocation interface {
	isErrorLocation()
}

// KnownLocation is a 1-based line/column pair parsed from the runner's stack trace.
type KnownLocation struct {
	Line   int
	Column int
}

// UnknownLocation means the stack trace could not be parsed.
type UnknownLocation struct{}

func (KnownLocation) isErrorLocation()   {}
func (UnknownLocation) isErrorLocation() {}

// RunMetadata describes the CI run that observed the failure.
type RunMetadata struct {
	Repository   string `json:"repository"`
	WorkflowName string `json:"workflow_name"`
	FailureURL   string `json:"failure_url"`
}

// ModelParameters are fixed generation settings; they never depend on the failure.
type ModelParameters struct {
	Model           string  `json:"model"`
	MaxOutputTokens int     `json:"max_tokens"`
	Temperature     float64 `json:"temperature"`
}

// PromptConfig is the immutable prompt configuration handed to the payload builder.
type PromptConfig struct {
	SystemInstructions string
	UserTemplate       string
	Model              ModelParameters
	// MaxDOMChars bounds the DOM block in the prompt. Zero disables truncation.
	MaxDOMChars int
}

// PromptPayload is the fully rendered request for the model.
type PromptPayload struct {
	SystemInstructions string          `json:"system_instructions"`
	UserContent        string          `json:"user_content"`
	ModelParameters    ModelParameters `json:"model_parameters"`
}

// ChatMessage is one entry of the chat-completions message list.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the exact request body persisted for the external model call.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

// ChatRequest renders the payload in the provider's wire format.
func (p PromptPayload) ChatRequest() ChatRequest {
	return ChatRequest{
		Model: p.ModelParameters.Model,
		Messages: []ChatMessage{
			{Role: "system", Content: p.SystemInstructions},
			{Role: "user", Content: p.UserContent},
		},
		MaxTokens:   p.ModelParameters.MaxOutputTokens,
		Temperature: p.ModelParameters.Temperature,
	}
}

// PayloadMetrics summarizes the size of a rendered payload.
type PayloadMetrics struct {
	TestLines    int `json:"testLines"`
	DOMChars     int `json:"domChars"`
	PayloadBytes int `json:"payloadBytes"`
}

// FixRecord is a single-line edit proposed by the model. It is only trusted
// after fixparse has validated it, and only applied after the surgeon has
// re-checked it against the live file.
type FixRecord struct {
	File    string `json:"file"`
	Line    int    `json:"line"`   // 1-based.
	Column  int    `json:"column"` // 1-based, advisory only.
	OldCode string `json:"oldCode"`
	NewCode string `json:"newCode"`
	Reason  string `json:"reason"`
}

// AnalysisResponse is the structured reply expected from the model.
type AnalysisResponse struct {
	Analysis string    `json:"analysis"`
	Fix      FixRecord `json:"fix"`
}

// BackupRecord points at the pre-mutation copy of a file.
type BackupRecord struct {
	OriginalPath string `json:"originalPath"`
	BackupPath   string `json:"backupPath"`
}

// ApplyResult describes a successful edit.
type ApplyResult struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	OldLine string `json:"oldLine"`
	NewLine string `json:"newLine"`
	Success bool   `json:"success"`
}

// FixSummary is persisted after a fix has been applied.
type FixSummary struct {
	RunID     string       `json:"runId"`
	Timestamp time.Time    `json:"timestamp"`
	Fix       FixRecord    `json:"fix"`
	Result    ApplyResult  `json:"result"`
	Backup    BackupRecord `json:"backup"`
}
