// internal/autofix/payload/builder.go
package payload

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/mender/internal/autofix"
)

// Template placeholders.
const (
	PlaceholderTestFile      = "{{TEST_FILE}}"
	PlaceholderTestContent   = "{{TEST_CONTENT}}"
	PlaceholderDOMContent    = "{{DOM_CONTENT}}"
	PlaceholderErrorLocation = "{{ERROR_LOCATION}}"
	PlaceholderErrorMessage  = "{{ERROR_MESSAGE}}"
	PlaceholderRepository    = "{{REPOSITORY}}"
	PlaceholderWorkflowName  = "{{WORKFLOW_NAME}}"
	PlaceholderFailureURL    = "{{FAILURE_URL}}"
)

// Placeholders is every placeholder a template may reference.
var Placeholders = []string{
	PlaceholderTestFile,
	PlaceholderTestContent,
	PlaceholderDOMContent,
	PlaceholderErrorLocation,
	PlaceholderErrorMessage,
	PlaceholderRepository,
	PlaceholderWorkflowName,
	PlaceholderFailureURL,
}

// unknownValue stands in for metadata the run did not provide.
const unknownValue = "Unknown"

var placeholderPattern = regexp.MustCompile(`\{\{\s*[A-Za-z0-9_]+\s*\}\}`)

// Builder renders prompt payloads from a fixed, pre-validated configuration.
type Builder struct {
	cfg autofix.PromptConfig
}

// NewBuilder validates cfg and returns a Builder for it. A template that
// references an unknown placeholder, or omits one of the content
// placeholders, is rejected here so Build never emits a half-rendered prompt.
func NewBuilder(cfg autofix.PromptConfig) (*Builder, error) {
	if strings.TrimSpace(cfg.SystemInstructions) == "" {
		return nil, fmt.Errorf("prompt configuration has empty system instructions")
	}
	if strings.TrimSpace(cfg.Model.Model) == "" {
		return nil, fmt.Errorf("prompt configuration has no model name")
	}
	if err := ValidateTemplate(cfg.UserTemplate); err != nil {
		return nil, err
	}
	if cfg.MaxDOMChars < 0 {
		return nil, fmt.Errorf("max DOM chars must not be negative, got %d", cfg.MaxDOMChars)
	}
	return &Builder{cfg: cfg}, nil
}

// ValidateTemplate checks that tmpl only references known placeholders and
// includes both content placeholders.
func ValidateTemplate(tmpl string) error {
	if strings.TrimSpace(tmpl) == "" {
		return fmt.Errorf("prompt template is empty")
	}

	known := make(map[string]bool, len(Placeholders))
	for _, p := range Placeholders {
		known[p] = true
	}
	for _, found := range placeholderPattern.FindAllString(tmpl, -1) {
		if !known[found] {
			return fmt.Errorf("prompt template references unknown placeholder %s", found)
		}
	}

	for _, required := range []string{PlaceholderTestContent, PlaceholderDOMContent} {
		if !strings.Contains(tmpl, required) {
			return fmt.Errorf("prompt template must reference %s", required)
		}
	}
	return nil
}

// Build renders the prompt for one failure. Substitution is a single pass
// over the template, so placeholder-like text inside the test source or DOM
// is copied through literally.
func (b *Builder) Build(testSource, normalizedDOM string, fc autofix.FailureContext, meta autofix.RunMetadata) (*autofix.PromptPayload, error) {
	if strings.TrimSpace(testSource) == "" {
		return nil, &autofix.MissingContentError{Field: "testSource"}
	}
	if strings.TrimSpace(normalizedDOM) == "" {
		return nil, &autofix.MissingContentError{Field: "normalizedDom"}
	}

	message := unknownValue
	if fc.Error != nil && strings.TrimSpace(fc.Error.Message) != "" {
		message = strings.TrimSpace(fc.Error.Message)
	}

	r := strings.NewReplacer(
		PlaceholderTestFile, orUnknown(fc.TestFile),
		PlaceholderTestContent, testSource,
		PlaceholderDOMContent, TruncateDOM(normalizedDOM, b.cfg.MaxDOMChars),
		PlaceholderErrorLocation, FormatLocation(fc.Location()),
		PlaceholderErrorMessage, message,
		PlaceholderRepository, orUnknown(meta.Repository),
		PlaceholderWorkflowName, orUnknown(meta.WorkflowName),
		PlaceholderFailureURL, orUnknown(meta.FailureURL),
	)

	return &autofix.PromptPayload{
		SystemInstructions: b.cfg.SystemInstructions,
		UserContent:        r.Replace(b.cfg.UserTemplate),
		ModelParameters:    b.cfg.Model,
	}, nil
}

// FormatLocation renders an error location for the prompt.
func FormatLocation(loc autofix.ErrorLocation) string {
	switch l := loc.(type) {
	case autofix.KnownLocation:
		return fmt.Sprintf("line %d, column %d", l.Line, l.Column)
	default:
		return "unknown"
	}
}

// TruncateDOM cuts dom to at most maxChars runes and appends a marker saying
// how much was dropped. maxChars <= 0 disables truncation.
func TruncateDOM(dom string, maxChars int) string {
	if maxChars <= 0 {
		return dom
	}
	total := utf8.RuneCountInString(dom)
	if total <= maxChars {
		return dom
	}

	var sb strings.Builder
	n := 0
	for _, r := range dom {
		if n == maxChars {
			break
		}
		sb.WriteRune(r)
		n++
	}
	fmt.Fprintf(&sb, "\n<!-- DOM truncated: showing %d of %d characters -->", maxChars, total)
	return sb.String()
}

// Metrics reports the size of a rendered payload and its inputs.
func Metrics(p *autofix.PromptPayload, testSource, normalizedDOM string) (autofix.PayloadMetrics, error) {
	body, err := json.Marshal(p.ChatRequest())
	if err != nil {
		return autofix.PayloadMetrics{}, fmt.Errorf("failed to marshal chat request: %w", err)
	}
	return autofix.PayloadMetrics{
		TestLines:    len(strings.Split(testSource, "\n")),
		DOMChars:     utf8.RuneCountInString(normalizedDOM),
		PayloadBytes: len(body),
	}, nil
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return unknownValue
	}
	return s
}
