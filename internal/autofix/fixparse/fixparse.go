// internal/autofix/fixparse/fixparse.go
package fixparse

import (
	"fmt"
	"math"
	"strings"

	"github.com/xkilldash9x/mender/internal/autofix"
	"github.com/xkilldash9x/mender/internal/llmutil"
)

// RequiredFixFields lists the fix fields in the order they are validated.
var RequiredFixFields = []string{"file", "line", "column", "oldCode", "newCode", "reason"}

// Parse extracts the structured reply from raw model text and validates it.
// Nothing the model says is acted on unless it passes here.
func Parse(raw string) (*autofix.AnalysisResponse, error) {
	doc, err := llmutil.ParseJSONResponse[map[string]interface{}](raw)
	if err != nil {
		return nil, &autofix.NoStructuredContentError{Excerpt: llmutil.TruncateString(strings.TrimSpace(raw), 120)}
	}
	return Validate(*doc)
}

// Validate checks a decoded reply against the fix schema.
func Validate(doc map[string]interface{}) (*autofix.AnalysisResponse, error) {
	analysis, err := requireString(doc, "analysis", true)
	if err != nil {
		return nil, err
	}

	rawFix, present := doc["fix"]
	if !present || rawFix == nil {
		return nil, violation("fix", "is required")
	}
	fixDoc, ok := rawFix.(map[string]interface{})
	if !ok {
		return nil, violation("fix", fmt.Sprintf("must be an object, got %s", typeName(rawFix)))
	}

	fix, err := validateFix(fixDoc)
	if err != nil {
		return nil, err
	}

	return &autofix.AnalysisResponse{Analysis: analysis, Fix: *fix}, nil
}

func validateFix(doc map[string]interface{}) (*autofix.FixRecord, error) {
	var (
		fix autofix.FixRecord
		err error
	)

	for _, field := range RequiredFixFields {
		if _, present := doc[field]; !present {
			return nil, violation(field, "is required")
		}

		switch field {
		case "file":
			fix.File, err = requireString(doc, field, true)
		case "line":
			fix.Line, err = requirePositiveInt(doc, field)
		case "column":
			fix.Column, err = requirePositiveInt(doc, field)
		case "oldCode":
			// Whitespace is a legitimate target; only "" would match every line.
			fix.OldCode, err = requireString(doc, field, false)
			if err == nil && fix.OldCode == "" {
				err = violation(field, "must not be empty")
			}
		case "newCode":
			fix.NewCode, err = requireString(doc, field, false)
		case "reason":
			fix.Reason, err = requireString(doc, field, false)
		}
		if err != nil {
			return nil, err
		}
	}

	return &fix, nil
}

func requireString(doc map[string]interface{}, field string, nonEmpty bool) (string, error) {
	v, present := doc[field]
	if !present || v == nil {
		return "", violation(field, "is required")
	}
	s, ok := v.(string)
	if !ok {
		return "", violation(field, fmt.Sprintf("must be a string, got %s", typeName(v)))
	}
	if nonEmpty && strings.TrimSpace(s) == "" {
		return "", violation(field, "must not be empty")
	}
	return s, nil
}

func requirePositiveInt(doc map[string]interface{}, field string) (int, error) {
	v := doc[field]
	n, ok := v.(float64)
	if !ok {
		return 0, violation(field, fmt.Sprintf("must be a number, got %s", typeName(v)))
	}
	if n != math.Trunc(n) || n < 1 || n > math.MaxInt32 {
		return 0, violation(field, fmt.Sprintf("must be an integer >= 1, got %v", n))
	}
	return int(n), nil
}

func violation(field, reason string) error {
	return &autofix.SchemaViolationError{Field: field, Reason: reason}
}

func typeName(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case map[string]interface{}:
		return "object"
	case []interface{}:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}
