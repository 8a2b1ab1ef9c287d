// internal/autofix/coroner/coroner.go
package coroner

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/internal/autofix"
)

const (
	cleanSuffix   = "-clean.html"
	rawSuffix     = ".html"
	contextSuffix = ".context.json"
)

// contextRecord mirrors the JSON the test runner writes. Line and column are
// nullable there; they are folded into an autofix.ErrorLocation on the way out.
type contextRecord struct {
	TestName  string `json:"testName"`
	TestFile  string `json:"testFile"`
	SpecFile  string `json:"specFile"`
	Timestamp string `json:"timestamp"`
	Error     *struct {
		Message string   `json:"message"`
		Stack   string   `json:"stack"`
		Line    *float64 `json:"line"`
		Column  *float64 `json:"column"`
	} `json:"error"`
}

// Reader loads the failure context that sits next to a DOM snapshot.
type Reader struct {
	logger *zap.Logger
}

// NewReader creates a new context reader.
func NewReader(logger *zap.Logger) *Reader {
	return &Reader{logger: logger.Named("coroner")}
}

// ContextPath derives the sibling context record for a snapshot. Both the
// normalized "<name>-clean.html" and the raw "<name>.html" map to
// "<name>.context.json" in the same directory.
func ContextPath(artifactPath string) string {
	dir := filepath.Dir(artifactPath)
	return filepath.Join(dir, TestName(artifactPath)+contextSuffix)
}

// TestName recovers the test title encoded in a snapshot filename.
func TestName(artifactPath string) string {
	base := filepath.Base(artifactPath)
	switch {
	case strings.HasSuffix(base, cleanSuffix):
		return strings.TrimSuffix(base, cleanSuffix)
	case strings.HasSuffix(base, rawSuffix):
		return strings.TrimSuffix(base, rawSuffix)
	default:
		return strings.TrimSuffix(base, filepath.Ext(base))
	}
}

// Read loads and validates the context record for artifactPath.
func (r *Reader) Read(artifactPath string) (*autofix.FailureContext, error) {
	path := ContextPath(artifactPath)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &autofix.ContextNotFoundError{Path: path}
		}
		return nil, &autofix.ContextParseError{Path: path, Err: err}
	}

	fc, err := r.Parse(data)
	if err != nil {
		return nil, &autofix.ContextParseError{Path: path, Err: err}
	}

	r.logger.Debug("Loaded failure context.",
		zap.String("path", path),
		zap.String("test_name", fc.TestName),
		zap.String("test_file", fc.TestFile))
	return fc, nil
}

// Parse decodes a context record.
func (r *Reader) Parse(data []byte) (*autofix.FailureContext, error) {
	var rec contextRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if strings.TrimSpace(rec.TestName) == "" {
		return nil, fmt.Errorf("testName is required")
	}
	if strings.TrimSpace(rec.TestFile) == "" {
		return nil, fmt.Errorf("testFile is required")
	}

	fc := &autofix.FailureContext{
		TestName: rec.TestName,
		TestFile: rec.TestFile,
		SpecFile: rec.SpecFile,
	}

	if rec.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, rec.Timestamp)
		if err != nil {
			// The timestamp is informational; a bad one is not worth aborting for.
			r.logger.Warn("Ignoring unparsable failure timestamp.", zap.String("timestamp", rec.Timestamp))
		} else {
			fc.Timestamp = ts
		}
	}

	if rec.Error != nil {
		fc.Error = &autofix.FailureError{
			Message:  rec.Error.Message,
			Stack:    rec.Error.Stack,
			Location: toLocation(rec.Error.Line, rec.Error.Column),
		}
	}

	return fc, nil
}

func toLocation(line, column *float64) autofix.ErrorLocation {
	l, okLine := positiveInt(line)
	c, okCol := positiveInt(column)
	if !okLine || !okCol {
		return autofix.UnknownLocation{}
	}
	return autofix.KnownLocation{Line: l, Column: c}
}

func positiveInt(v *float64) (int, bool) {
	if v == nil || *v < 1 || *v != math.Trunc(*v) || *v > math.MaxInt32 {
		return 0, false
	}
	return int(*v), true
}
