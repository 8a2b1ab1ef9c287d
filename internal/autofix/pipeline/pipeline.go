// internal/autofix/pipeline/pipeline.go
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/internal/artifacts"
	"github.com/xkilldash9x/mender/internal/autofix"
	"github.com/xkilldash9x/mender/internal/autofix/coroner"
	"github.com/xkilldash9x/mender/internal/autofix/domclean"
	"github.com/xkilldash9x/mender/internal/autofix/fixparse"
	"github.com/xkilldash9x/mender/internal/autofix/payload"
	"github.com/xkilldash9x/mender/internal/autofix/surgeon"
	"github.com/xkilldash9x/mender/internal/config"
)

// Pipeline runs the healing workflow for one failing test: normalize the
// snapshot, build the prompt, validate the model's reply and apply the fix.
type Pipeline struct {
	logger  *zap.Logger
	cfg     config.Interface
	root    string
	reader  autofix.ContextReader
	builder autofix.PayloadBuilder
	applier autofix.FixApplier
	cleaner *domclean.Cleaner
	store   *artifacts.Store

	now      func() time.Time
	newRunID func() string
}

// Prepared is everything Prepare produced for one failure.
type Prepared struct {
	Context      *autofix.FailureContext
	Payload      *autofix.PromptPayload
	Metrics      autofix.PayloadMetrics
	CleanDOMPath string
	PayloadPath  string
}

// Outcome describes an applied fix.
type Outcome struct {
	Analysis    string
	Summary     autofix.FixSummary
	SummaryPath string
}

// New wires a Pipeline from configuration. The prompt configuration is
// validated here, so a bad template fails before any artifact is read.
func New(cfg config.Interface, logger *zap.Logger) (*Pipeline, error) {
	builder, err := payload.NewBuilder(cfg.BuildPromptConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize payload builder: %w", err)
	}

	root := cfg.Project().Root
	art := cfg.Artifacts()

	return &Pipeline{
		logger:  logger.Named("pipeline"),
		cfg:     cfg,
		root:    root,
		reader:  coroner.NewReader(logger),
		builder: builder,
		applier: surgeon.New(logger, surgeon.WithRoot(root), surgeon.WithBackupSuffix(art.BackupSuffix)),
		cleaner: domclean.NewCleaner(logger),
		store: artifacts.NewStore("", artifacts.Paths{
			Payload:  art.PayloadPath,
			Response: art.ResponsePath,
			FixData:  art.FixDataPath,
			Summary:  art.SummaryPath,
		}),
		now:      func() time.Time { return time.Now().UTC() },
		newRunID: uuid.NewString,
	}, nil
}

// Clean normalizes a single raw snapshot, or every raw snapshot in a
// directory. An empty path means the configured failures directory.
func (p *Pipeline) Clean(ctx context.Context, path string) ([]domclean.FileStat, error) {
	if err := checkpoint(ctx, autofix.StageNormalizeDOM); err != nil {
		return nil, err
	}
	if path == "" {
		path = p.resolve(p.cfg.Project().FailuresDir)
	}

	info, err := os.Stat(path)
	if err == nil && !info.IsDir() {
		stat, err := p.cleaner.CleanFile(path)
		if err != nil {
			return nil, &autofix.StageError{Stage: autofix.StageNormalizeDOM, Err: err}
		}
		return []domclean.FileStat{*stat}, nil
	}

	stats, err := p.cleaner.CleanDir(path)
	if err != nil {
		return stats, &autofix.StageError{Stage: autofix.StageNormalizeDOM, Err: err}
	}
	return stats, nil
}

// Prepare turns a DOM artifact into a persisted model request. A raw
// snapshot is normalized first and its "-clean.html" sibling written.
func (p *Pipeline) Prepare(ctx context.Context, artifactPath string) (*Prepared, error) {
	p.logger.Info("Preparing model request.", zap.String("artifact", artifactPath))

	if err := checkpoint(ctx, autofix.StageReadContext); err != nil {
		return nil, err
	}
	fc, err := p.reader.Read(artifactPath)
	if err != nil {
		return nil, &autofix.StageError{Stage: autofix.StageReadContext, Err: err}
	}

	if err := checkpoint(ctx, autofix.StageReadSource); err != nil {
		return nil, err
	}
	testPath := p.resolve(fc.TestFile)
	source, err := os.ReadFile(testPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = &autofix.FileNotFoundError{Path: testPath}
		}
		return nil, &autofix.StageError{Stage: autofix.StageReadSource, Err: err}
	}

	if err := checkpoint(ctx, autofix.StageNormalizeDOM); err != nil {
		return nil, err
	}
	dom, cleanPath, err := p.loadDOM(artifactPath)
	if err != nil {
		return nil, &autofix.StageError{Stage: autofix.StageNormalizeDOM, Err: err}
	}

	if err := checkpoint(ctx, autofix.StageBuildPayload); err != nil {
		return nil, err
	}
	pl, err := p.builder.Build(string(source), dom, *fc, p.cfg.RunMetadata())
	if err != nil {
		return nil, &autofix.StageError{Stage: autofix.StageBuildPayload, Err: err}
	}
	metrics, err := payload.Metrics(pl, string(source), dom)
	if err != nil {
		return nil, &autofix.StageError{Stage: autofix.StageBuildPayload, Err: err}
	}

	payloadPath, err := p.store.WritePayload(pl.ChatRequest())
	if err != nil {
		return nil, &autofix.StageError{Stage: autofix.StagePersist, Err: err}
	}

	p.logger.Info("Model request saved.",
		zap.String("test", fc.TestName),
		zap.String("payload", payloadPath),
		zap.Int("test_lines", metrics.TestLines),
		zap.Int("dom_chars", metrics.DOMChars),
		zap.Int("payload_bytes", metrics.PayloadBytes))

	return &Prepared{
		Context:      fc,
		Payload:      pl,
		Metrics:      metrics,
		CleanDOMPath: cleanPath,
		PayloadPath:  payloadPath,
	}, nil
}

// Heal runs the whole workflow for one artifact. Artifacts written before a
// failing stage stay on disk for inspection.
func (p *Pipeline) Heal(ctx context.Context, artifactPath string, responder autofix.Responder) (*Outcome, error) {
	prep, err := p.Prepare(ctx, artifactPath)
	if err != nil {
		return nil, err
	}

	if err := checkpoint(ctx, autofix.StageModelResponse); err != nil {
		return nil, err
	}
	reply, err := responder.Respond(ctx, prep.Payload.ChatRequest())
	if err != nil {
		return nil, &autofix.StageError{Stage: autofix.StageModelResponse, Err: err}
	}
	if _, err := p.store.WriteResponse(reply); err != nil {
		return nil, &autofix.StageError{Stage: autofix.StagePersist, Err: err}
	}

	resp, err := fixparse.Parse(reply)
	if err != nil {
		p.logger.Error("Model reply rejected.", zap.Error(err))
		return nil, &autofix.StageError{Stage: autofix.StageParseResponse, Err: err}
	}
	if err := p.checkTarget(resp.Fix, prep.Context); err != nil {
		return nil, &autofix.StageError{Stage: autofix.StageParseResponse, Err: err}
	}
	if _, err := p.store.WriteFixData(*resp); err != nil {
		return nil, &autofix.StageError{Stage: autofix.StagePersist, Err: err}
	}

	return p.apply(ctx, *resp)
}

// ParseFromFile validates a saved model reply, checks that its fix could be
// applied right now and persists it as fix data.
func (p *Pipeline) ParseFromFile(ctx context.Context, replyPath string) (*autofix.AnalysisResponse, string, error) {
	if err := checkpoint(ctx, autofix.StageParseResponse); err != nil {
		return nil, "", err
	}
	raw, err := os.ReadFile(replyPath)
	if err != nil {
		return nil, "", &autofix.StageError{Stage: autofix.StageParseResponse, Err: fmt.Errorf("failed to read model reply '%s': %w", replyPath, err)}
	}

	resp, err := fixparse.Parse(string(raw))
	if err != nil {
		return nil, "", &autofix.StageError{Stage: autofix.StageParseResponse, Err: err}
	}
	if err := p.checkTarget(resp.Fix, nil); err != nil {
		return nil, "", &autofix.StageError{Stage: autofix.StageParseResponse, Err: err}
	}
	if err := p.applier.Check(resp.Fix); err != nil {
		return nil, "", &autofix.StageError{Stage: autofix.StageApplyFix, Err: err}
	}

	path, err := p.store.WriteFixData(*resp)
	if err != nil {
		return nil, "", &autofix.StageError{Stage: autofix.StagePersist, Err: err}
	}
	p.logger.Info("Fix validated.", zap.String("file", resp.Fix.File), zap.Int("line", resp.Fix.Line), zap.String("fix_data", path))
	return resp, path, nil
}

// ApplyFromFile re-validates saved fix data and applies it.
func (p *Pipeline) ApplyFromFile(ctx context.Context, fixDataPath string) (*Outcome, error) {
	if err := checkpoint(ctx, autofix.StageParseResponse); err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := artifacts.ReadJSON(fixDataPath, &doc); err != nil {
		return nil, &autofix.StageError{Stage: autofix.StageParseResponse, Err: err}
	}

	resp, err := fixparse.Validate(doc)
	if err != nil {
		return nil, &autofix.StageError{Stage: autofix.StageParseResponse, Err: err}
	}
	if err := p.checkTarget(resp.Fix, nil); err != nil {
		return nil, &autofix.StageError{Stage: autofix.StageParseResponse, Err: err}
	}
	return p.apply(ctx, *resp)
}

// Revert restores a file from its backup.
func (p *Pipeline) Revert(path string) bool {
	return p.applier.Revert(path)
}

// LastFix returns the persisted summary of the most recent applied fix when
// that fix targeted path.
func (p *Pipeline) LastFix(path string) (*autofix.FixSummary, bool) {
	summary, err := p.store.ReadSummary()
	if err != nil {
		p.logger.Debug("No fix summary available.", zap.Error(err))
		return nil, false
	}

	want, err := filepath.Abs(p.resolve(path))
	if err != nil {
		return nil, false
	}
	got, err := filepath.Abs(summary.Backup.OriginalPath)
	if err != nil || got != want {
		return nil, false
	}
	return summary, true
}

func (p *Pipeline) apply(ctx context.Context, resp autofix.AnalysisResponse) (*Outcome, error) {
	if err := checkpoint(ctx, autofix.StageApplyFix); err != nil {
		return nil, err
	}
	result, backup, err := p.applier.Apply(resp.Fix)
	if err != nil {
		return nil, &autofix.StageError{Stage: autofix.StageApplyFix, Err: err}
	}

	summary := autofix.FixSummary{
		RunID:     p.newRunID(),
		Timestamp: p.now(),
		Fix:       resp.Fix,
		Result:    *result,
		Backup:    *backup,
	}
	summaryPath, err := p.store.WriteSummary(summary)
	if err != nil {
		// An applied fix without a summary is not a completed run; undo it.
		if !p.applier.Revert(resp.Fix.File) {
			p.logger.Error("Failed to undo fix after persistence error. Restore it from the backup.",
				zap.String("file", result.File),
				zap.String("backup", backup.BackupPath))
		}
		return nil, &autofix.StageError{Stage: autofix.StagePersist, Err: err}
	}

	p.logger.Info("Fix applied and summarized.",
		zap.String("run_id", summary.RunID),
		zap.String("file", result.File),
		zap.Int("line", result.Line),
		zap.String("summary", summaryPath))

	return &Outcome{Analysis: resp.Analysis, Summary: summary, SummaryPath: summaryPath}, nil
}

// loadDOM returns the normalized DOM for an artifact and the path it lives at.
func (p *Pipeline) loadDOM(artifactPath string) (string, string, error) {
	if domclean.IsClean(artifactPath) {
		b, err := os.ReadFile(artifactPath)
		if err != nil {
			return "", "", fmt.Errorf("failed to read normalized DOM '%s': %w", artifactPath, err)
		}
		return string(b), artifactPath, nil
	}

	stat, err := p.cleaner.CleanFile(artifactPath)
	if err != nil {
		return "", "", err
	}
	b, err := os.ReadFile(stat.Output)
	if err != nil {
		return "", "", fmt.Errorf("failed to read normalized DOM '%s': %w", stat.Output, err)
	}
	return string(b), stat.Output, nil
}

// checkTarget keeps the edit inside the project and, when the failure context
// is known, on the failing test's own source file.
func (p *Pipeline) checkTarget(fix autofix.FixRecord, fc *autofix.FailureContext) error {
	target, err := filepath.Abs(p.resolve(fix.File))
	if err != nil {
		return fmt.Errorf("failed to resolve fix target '%s': %w", fix.File, err)
	}
	root, err := filepath.Abs(p.resolve("."))
	if err != nil {
		return fmt.Errorf("failed to resolve project root: %w", err)
	}

	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return &autofix.SchemaViolationError{Field: "file", Reason: fmt.Sprintf("'%s' is outside the project root", fix.File)}
	}

	if fc != nil {
		want, err := filepath.Abs(p.resolve(fc.TestFile))
		if err != nil {
			return fmt.Errorf("failed to resolve test file '%s': %w", fc.TestFile, err)
		}
		if want != target {
			return &autofix.SchemaViolationError{
				Field:  "file",
				Reason: fmt.Sprintf("targets '%s' but the failing test is '%s'", fix.File, fc.TestFile),
			}
		}
	}
	return nil
}

func (p *Pipeline) resolve(path string) string {
	if p.root == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.root, path)
}

func checkpoint(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		return &autofix.StageError{Stage: stage, Err: err}
	}
	return nil
}
