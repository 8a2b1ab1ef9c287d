// internal/autofix/pipeline/pipeline_test.go
package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/mender/internal/autofix"
	"github.com/xkilldash9x/mender/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// -- Fixtures --

const specSource = `describe('New todo', () => {
  afterEach(function () {
    // capture failure artifacts
  });

  it('should create new todo', () => {
    cy.contains('h1', 'todos');
    cy.visit('/');
  });
});
`

const rawDOM = `<!DOCTYPE html><html><head><title>TodoMVC</title><style>h1{color:red}</style></head>` +
	`<body><section class="todoapp"><h1>todo's</h1><script>track()</script><input class="new-todo"></section></body></html>`

const contextRecord = `{
  "testName": "New todo -- should create new todo",
  "testFile": "tests/e2e/new-todo.spec.js",
  "specFile": "new-todo.spec.js",
  "timestamp": "2026-03-01T12:00:00.000Z",
  "error": {
    "message": "Timed out retrying: Expected to find content: 'todos' within the selector: 'h1'",
    "stack": "at Context.eval (tests/e2e/new-todo.spec.js:7:8)",
    "line": 7,
    "column": 8
  }
}`

const goodReply = "Here is the fix:\n```json\n" + `{
  "analysis": "The heading now reads todo's.",
  "fix": {
    "file": "tests/e2e/new-todo.spec.js",
    "line": 7,
    "column": 8,
    "oldCode": "'todos'",
    "newCode": "\"todo's\"",
    "reason": "Match the rendered heading text."
  }
}` + "\n```"

type project struct {
	root     string
	spec     string
	artifact string
	out      string
	cfg      *config.Config
}

func newProject(t *testing.T) *project {
	t.Helper()
	root := t.TempDir()
	p := &project{
		root:     root,
		spec:     filepath.Join(root, "tests", "e2e", "new-todo.spec.js"),
		artifact: filepath.Join(root, "cypress", "failures", "new-todo.html"),
		out:      filepath.Join(root, "out"),
	}
	write(t, p.spec, specSource)
	write(t, p.artifact, rawDOM)
	write(t, filepath.Join(root, "cypress", "failures", "new-todo.context.json"), contextRecord)

	cfg := config.NewDefaultConfig()
	cfg.ProjectCfg.Root = root
	cfg.ProjectCfg.FailuresDir = filepath.Join("cypress", "failures")
	cfg.RunCfg.Repository = "acme/todomvc"
	cfg.ArtifactsCfg.PayloadPath = filepath.Join(p.out, "openai_payload.json")
	cfg.ArtifactsCfg.ResponsePath = filepath.Join(p.out, "ai-response.txt")
	cfg.ArtifactsCfg.FixDataPath = filepath.Join(p.out, "fix-data.json")
	cfg.ArtifactsCfg.SummaryPath = filepath.Join(p.out, "fix-summary.json")
	p.cfg = cfg
	return p
}

func (p *project) pipeline(t *testing.T) *Pipeline {
	t.Helper()
	pl, err := New(p.cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	pl.now = func() time.Time { return time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC) }
	pl.newRunID = func() string { return "run-123" }
	return pl
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func read(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

type mockResponder struct {
	mock.Mock
}

func (m *mockResponder) Respond(ctx context.Context, req autofix.ChatRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func requireStage(t *testing.T, err error, stage string) {
	t.Helper()
	var se *autofix.StageError
	require.True(t, errors.As(err, &se), "expected a StageError, got %v", err)
	assert.Equal(t, stage, se.Stage)
}

// -- Prepare --

func TestPrepare_RawArtifact(t *testing.T) {
	p := newProject(t)
	pl := p.pipeline(t)

	prep, err := pl.Prepare(context.Background(), p.artifact)
	require.NoError(t, err)

	assert.Equal(t, "New todo -- should create new todo", prep.Context.TestName)
	assert.Equal(t, filepath.Join(p.root, "cypress", "failures", "new-todo-clean.html"), prep.CleanDOMPath)
	cleaned := read(t, prep.CleanDOMPath)
	assert.NotContains(t, cleaned, "track()")
	assert.NotContains(t, cleaned, "color:red")

	user := prep.Payload.UserContent
	assert.Contains(t, user, "cy.contains('h1', 'todos');")
	assert.Contains(t, user, "<h1>todo&#39;s</h1>")
	assert.Contains(t, user, "line 7, column 8")
	assert.Contains(t, user, "Repository: acme/todomvc")
	assert.Contains(t, user, "Workflow: Unknown")

	assert.Equal(t, 11, prep.Metrics.TestLines, "the trailing newline counts as a line")
	assert.Greater(t, prep.Metrics.PayloadBytes, prep.Metrics.DOMChars)

	var req autofix.ChatRequest
	require.NoError(t, json.Unmarshal([]byte(read(t, prep.PayloadPath)), &req))
	assert.Equal(t, "gpt-4", req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, user, req.Messages[1].Content)
}

func TestPrepare_CleanArtifactIsUsedAsIs(t *testing.T) {
	p := newProject(t)
	clean := filepath.Join(p.root, "cypress", "failures", "new-todo-clean.html")
	write(t, clean, "<html><head><title></title></head><body><p>pre-cleaned</p></body></html>")

	prep, err := p.pipeline(t).Prepare(context.Background(), clean)
	require.NoError(t, err)
	assert.Equal(t, clean, prep.CleanDOMPath)
	assert.Contains(t, prep.Payload.UserContent, "<p>pre-cleaned</p>")
}

func TestPrepare_Failures(t *testing.T) {
	t.Run("missing context record", func(t *testing.T) {
		p := newProject(t)
		require.NoError(t, os.Remove(filepath.Join(p.root, "cypress", "failures", "new-todo.context.json")))

		_, err := p.pipeline(t).Prepare(context.Background(), p.artifact)
		requireStage(t, err, autofix.StageReadContext)
		var target *autofix.ContextNotFoundError
		assert.True(t, errors.As(err, &target))
		assert.False(t, exists(p.cfg.ArtifactsCfg.PayloadPath))
	})

	t.Run("missing test source", func(t *testing.T) {
		p := newProject(t)
		require.NoError(t, os.Remove(p.spec))

		_, err := p.pipeline(t).Prepare(context.Background(), p.artifact)
		requireStage(t, err, autofix.StageReadSource)
		var target *autofix.FileNotFoundError
		assert.True(t, errors.As(err, &target))
	})

	t.Run("empty test source", func(t *testing.T) {
		p := newProject(t)
		write(t, p.spec, "  \n")

		_, err := p.pipeline(t).Prepare(context.Background(), p.artifact)
		requireStage(t, err, autofix.StageBuildPayload)
		var target *autofix.MissingContentError
		assert.True(t, errors.As(err, &target))
	})

	t.Run("cancelled context", func(t *testing.T) {
		p := newProject(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := p.pipeline(t).Prepare(ctx, p.artifact)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

// -- Heal --

func TestHeal_AppliesFix(t *testing.T) {
	p := newProject(t)
	pl := p.pipeline(t)

	responder := new(mockResponder)
	responder.On("Respond", mock.Anything, mock.MatchedBy(func(req autofix.ChatRequest) bool {
		return req.Model == "gpt-4" && strings.Contains(req.Messages[1].Content, "'todos'")
	})).Return(goodReply, nil).Once()

	outcome, err := pl.Heal(context.Background(), p.artifact, responder)
	require.NoError(t, err)
	responder.AssertExpectations(t)

	assert.Equal(t, "The heading now reads todo's.", outcome.Analysis)
	assert.Equal(t, "run-123", outcome.Summary.RunID)
	assert.True(t, outcome.Summary.Result.Success)
	assert.Equal(t, `    cy.contains('h1', "todo's");`, outcome.Summary.Result.NewLine)

	lines := strings.Split(read(t, p.spec), "\n")
	assert.Equal(t, `    cy.contains('h1', "todo's");`, lines[6])
	assert.Equal(t, specSource, read(t, p.spec+".backup"))

	assert.Equal(t, goodReply, read(t, p.cfg.ArtifactsCfg.ResponsePath))
	assert.Contains(t, read(t, p.cfg.ArtifactsCfg.FixDataPath), `"oldCode": "'todos'"`)

	var summary autofix.FixSummary
	require.NoError(t, json.Unmarshal([]byte(read(t, outcome.SummaryPath)), &summary))
	assert.Equal(t, "run-123", summary.RunID)
	assert.Equal(t, 7, summary.Fix.Line)
	assert.Equal(t, p.spec+".backup", summary.Backup.BackupPath)
}

func TestHeal_RejectedReplies(t *testing.T) {
	cases := []struct {
		name  string
		reply string
		stage string
		check func(t *testing.T, err error)
	}{
		{
			name:  "no JSON",
			reply: "I am not sure what is wrong here.",
			stage: autofix.StageParseResponse,
			check: func(t *testing.T, err error) {
				var target *autofix.NoStructuredContentError
				assert.True(t, errors.As(err, &target))
			},
		},
		{
			name:  "missing oldCode",
			reply: strings.Replace(goodReply, `"oldCode"`, `"old"`, 1),
			stage: autofix.StageParseResponse,
			check: func(t *testing.T, err error) {
				var target *autofix.SchemaViolationError
				require.True(t, errors.As(err, &target))
				assert.Equal(t, "oldCode", target.Field)
			},
		},
		{
			name:  "targets another file",
			reply: strings.Replace(goodReply, "tests/e2e/new-todo.spec.js", "tests/e2e/other.spec.js", 1),
			stage: autofix.StageParseResponse,
			check: func(t *testing.T, err error) {
				var target *autofix.SchemaViolationError
				require.True(t, errors.As(err, &target))
				assert.Equal(t, "file", target.Field)
			},
		},
		{
			name:  "oldCode not on the line",
			reply: strings.Replace(goodReply, `"line": 7`, `"line": 8`, 1),
			stage: autofix.StageApplyFix,
			check: func(t *testing.T, err error) {
				var target *autofix.CodeMismatchError
				require.True(t, errors.As(err, &target))
				assert.Equal(t, "    cy.visit('/');", target.LineText)
			},
		},
		{
			name:  "line out of range",
			reply: strings.Replace(goodReply, `"line": 7`, `"line": 99`, 1),
			stage: autofix.StageApplyFix,
			check: func(t *testing.T, err error) {
				var target *autofix.LineOutOfRangeError
				assert.True(t, errors.As(err, &target))
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newProject(t)
			responder := new(mockResponder)
			responder.On("Respond", mock.Anything, mock.Anything).Return(tc.reply, nil)

			_, err := p.pipeline(t).Heal(context.Background(), p.artifact, responder)
			requireStage(t, err, tc.stage)
			tc.check(t, err)

			assert.Equal(t, specSource, read(t, p.spec), "source must be untouched")
			assert.False(t, exists(p.spec+".backup"))
			assert.False(t, exists(p.cfg.ArtifactsCfg.SummaryPath))
			// Earlier artifacts stay for inspection.
			assert.True(t, exists(p.cfg.ArtifactsCfg.PayloadPath))
			assert.Equal(t, tc.reply, read(t, p.cfg.ArtifactsCfg.ResponsePath))
		})
	}
}

func TestHeal_ResponderFailure(t *testing.T) {
	p := newProject(t)
	responder := new(mockResponder)
	responder.On("Respond", mock.Anything, mock.Anything).Return("", errors.New("provider unavailable"))

	_, err := p.pipeline(t).Heal(context.Background(), p.artifact, responder)
	requireStage(t, err, autofix.StageModelResponse)
	assert.Contains(t, err.Error(), "provider unavailable")
	assert.Equal(t, specSource, read(t, p.spec))
}

func TestHeal_CancelledBeforeModelCall(t *testing.T) {
	p := newProject(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	responder := new(mockResponder)
	_, err := p.pipeline(t).Heal(ctx, p.artifact, responder)
	assert.ErrorIs(t, err, context.Canceled)
	responder.AssertNotCalled(t, "Respond", mock.Anything, mock.Anything)
}

func TestHeal_WithFileResponder(t *testing.T) {
	p := newProject(t)
	replyPath := filepath.Join(p.root, "reply.txt")
	write(t, replyPath, goodReply)

	outcome, err := p.pipeline(t).Heal(context.Background(), p.artifact, FileResponder{Path: replyPath})
	require.NoError(t, err)
	assert.Equal(t, 7, outcome.Summary.Result.Line)
}

// -- Per-stage entry points --

func TestParseThenApplyFromFile(t *testing.T) {
	p := newProject(t)
	pl := p.pipeline(t)
	replyPath := filepath.Join(p.root, "reply.txt")
	write(t, replyPath, goodReply)

	resp, fixData, err := pl.ParseFromFile(context.Background(), replyPath)
	require.NoError(t, err)
	assert.Equal(t, "'todos'", resp.Fix.OldCode)
	assert.Equal(t, p.cfg.ArtifactsCfg.FixDataPath, fixData)
	assert.Equal(t, specSource, read(t, p.spec), "parsing must not touch the source")

	outcome, err := pl.ApplyFromFile(context.Background(), fixData)
	require.NoError(t, err)
	assert.Equal(t, `    cy.contains('h1', "todo's");`, outcome.Summary.Result.NewLine)

	assert.True(t, pl.Revert("tests/e2e/new-todo.spec.js"))
	assert.Equal(t, specSource, read(t, p.spec))
}

func TestParseFromFile_ChecksAppliability(t *testing.T) {
	p := newProject(t)
	replyPath := filepath.Join(p.root, "reply.txt")
	write(t, replyPath, strings.Replace(goodReply, `'todos'`, `'todoz'`, 1))

	_, _, err := p.pipeline(t).ParseFromFile(context.Background(), replyPath)
	requireStage(t, err, autofix.StageApplyFix)
	var target *autofix.CodeMismatchError
	assert.True(t, errors.As(err, &target))
	assert.False(t, exists(p.cfg.ArtifactsCfg.FixDataPath))
}

func TestApplyFromFile_Rejects(t *testing.T) {
	t.Run("target outside the project", func(t *testing.T) {
		p := newProject(t)
		fixData := filepath.Join(p.root, "fix.json")
		write(t, fixData, `{"analysis": "a", "fix": {"file": "../../etc/hosts", "line": 1, "column": 1, "oldCode": "x", "newCode": "y", "reason": "r"}}`)

		_, err := p.pipeline(t).ApplyFromFile(context.Background(), fixData)
		requireStage(t, err, autofix.StageParseResponse)
		var target *autofix.SchemaViolationError
		require.True(t, errors.As(err, &target))
		assert.Equal(t, "file", target.Field)
	})

	t.Run("tampered fix data", func(t *testing.T) {
		p := newProject(t)
		fixData := filepath.Join(p.root, "fix.json")
		write(t, fixData, `{"analysis": "a", "fix": {"file": "tests/e2e/new-todo.spec.js", "line": 0, "column": 1, "oldCode": "x", "newCode": "y", "reason": "r"}}`)

		_, err := p.pipeline(t).ApplyFromFile(context.Background(), fixData)
		requireStage(t, err, autofix.StageParseResponse)
		var target *autofix.SchemaViolationError
		require.True(t, errors.As(err, &target))
		assert.Equal(t, "line", target.Field)
	})

	t.Run("missing fix data", func(t *testing.T) {
		p := newProject(t)
		_, err := p.pipeline(t).ApplyFromFile(context.Background(), filepath.Join(p.root, "nope.json"))
		requireStage(t, err, autofix.StageParseResponse)
	})
}

func TestHeal_SummaryWriteFailureUndoesFix(t *testing.T) {
	p := newProject(t)
	// A directory where the summary file should go makes the write fail.
	blocked := filepath.Join(p.out, "fix-summary.json")
	require.NoError(t, os.MkdirAll(blocked, 0755))
	p.cfg.ArtifactsCfg.SummaryPath = blocked
	pl := p.pipeline(t)

	responder := new(mockResponder)
	responder.On("Respond", mock.Anything, mock.Anything).Return(goodReply, nil).Once()

	_, err := pl.Heal(context.Background(), p.artifact, responder)
	requireStage(t, err, autofix.StagePersist)
	assert.Equal(t, specSource, read(t, p.spec), "the applied edit is undone")
	assert.Equal(t, specSource, read(t, p.spec+".backup"))
}

func TestLastFix(t *testing.T) {
	p := newProject(t)
	pl := p.pipeline(t)
	rel := filepath.Join("tests", "e2e", "new-todo.spec.js")

	_, found := pl.LastFix(rel)
	assert.False(t, found, "no summary before the first apply")

	fixData := filepath.Join(p.root, "fix.json")
	write(t, fixData, `{"analysis": "a", "fix": {"file": "tests/e2e/new-todo.spec.js", "line": 7, "column": 8, "oldCode": "'todos'", "newCode": "'todo'", "reason": "r"}}`)
	_, err := pl.ApplyFromFile(context.Background(), fixData)
	require.NoError(t, err)

	summary, found := pl.LastFix(rel)
	require.True(t, found)
	assert.Equal(t, "run-123", summary.RunID)
	assert.Equal(t, 7, summary.Result.Line)
	assert.Equal(t, "    cy.contains('h1', 'todos');", summary.Result.OldLine)

	summary, found = pl.LastFix(p.spec)
	require.True(t, found, "absolute and relative paths name the same file")
	assert.Equal(t, "run-123", summary.RunID)

	_, found = pl.LastFix("tests/e2e/other.spec.js")
	assert.False(t, found)
}

func TestRevert_NoBackup(t *testing.T) {
	p := newProject(t)
	assert.False(t, p.pipeline(t).Revert("tests/e2e/new-todo.spec.js"))
}

func TestClean(t *testing.T) {
	p := newProject(t)
	pl := p.pipeline(t)

	stats, err := pl.Clean(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, p.artifact, stats[0].Source)
	assert.True(t, exists(stats[0].Output))

	stats, err = pl.Clean(context.Background(), p.artifact)
	require.NoError(t, err)
	require.Len(t, stats, 1)

	stats, err = pl.Clean(context.Background(), filepath.Join(p.root, "no-failures"))
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestNew_RejectsBadTemplate(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.PromptCfg.Template = "{{TEST_CONTENT}} {{DOM_CONTENT}} {{NOPE}}"
	_, err := New(cfg, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown placeholder")
}

func TestFileResponder(t *testing.T) {
	dir := t.TempDir()

	_, err := FileResponder{Path: filepath.Join(dir, "missing.txt")}.Respond(context.Background(), autofix.ChatRequest{})
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.txt")
	write(t, empty, "\n")
	_, err = FileResponder{Path: empty}.Respond(context.Background(), autofix.ChatRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is empty")
}
