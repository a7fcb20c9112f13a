package orchestrator

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jeeveserrors "github.com/jeevesbot/jeeves/internal/errors"
	"github.com/jeevesbot/jeeves/internal/issue"
	"github.com/jeevesbot/jeeves/internal/workflow"
)

const miniWorkflow = `name: mini
version: 1
start: work
phases:
  work:
    kind: execute
    prompt: work.md
    transitions:
      - to: done
        when: status.done == true
  done:
    kind: terminal
`

const scriptWorkflow = `name: scripted
version: 1
start: check
phases:
  check:
    kind: script
    command: "true"
    status_mapping:
      success:
        check_passed: true
      failure:
        check_passed: false
    transitions:
      - to: done
        when: status.check_passed == true
  done:
    kind: terminal
`

const reviewWorkflow = `name: reviewed
version: 1
start: review
phases:
  review:
    kind: evaluate
    prompt: work.md
    transitions:
      - to: done
        when: status.reviewed == true
  done:
    kind: terminal
`

type fixture struct {
	orch  *Orchestrator
	store *issue.Store
	ref   issue.Ref
	state string // issue state dir
}

// newFixture builds an orchestrator over temp directories with a shell
// script standing in for the agent runner. The script receives the argv
// contract and can inspect --state-dir and --text-output.
func newFixture(t *testing.T, workflowName, workflowYAML, agentScript string) *fixture {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fixture agent is a shell script")
	}

	dataDir := t.TempDir()
	store := issue.NewStore(dataDir)

	catalog, err := workflow.NewCatalog(filepath.Join(dataDir, "workflows"))
	require.NoError(t, err)
	require.NoError(t, catalog.Save(workflowName, []byte(workflowYAML)))

	promptsDir := filepath.Join(dataDir, "prompts")
	require.NoError(t, os.MkdirAll(promptsDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(promptsDir, "work.md"), []byte("do the work\n"), 0644))

	ref := issue.Ref{Owner: "octo", Repo: "widgets", Number: 5}
	worktree := filepath.Join(dataDir, "worktrees", "octo", "widgets", "issue-5")
	require.NoError(t, os.MkdirAll(worktree, 0755))

	st := &issue.State{
		Owner:    "octo",
		Repo:     "widgets",
		Issue:    issue.Info{Number: 5, Title: "add frobnicator"},
		Workflow: workflowName,
		Phase:    "",
	}
	require.NoError(t, store.Save(st))

	agentBin := filepath.Join(dataDir, "fake-agent.sh")
	script := "#!/bin/sh\n" +
		`while [ $# -gt 0 ]; do
  case "$1" in
    --prompt) PROMPT="$2"; shift 2 ;;
    --text-output) TEXT="$2"; shift 2 ;;
    --output) OUTPUT="$2"; shift 2 ;;
    --state-dir) STATE="$2"; shift 2 ;;
    --work-dir) WORK="$2"; shift 2 ;;
    *) shift ;;
  esac
done
` + agentScript + "\n"
	require.NoError(t, os.WriteFile(agentBin, []byte(script), 0755))

	orch, err := New(Config{
		Store:          store,
		Catalog:        catalog,
		Logger:         slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
		AgentBin:       agentBin,
		PromptsDir:     promptsDir,
		WorktreesDir:   filepath.Join(dataDir, "worktrees"),
		Grace:          300 * time.Millisecond,
		PollInterval:   20 * time.Millisecond,
		IterationDelay: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, orch.SetIssue(ref))

	return &fixture{orch: orch, store: store, ref: ref, state: store.Dir(ref)}
}

func waitDone(t *testing.T, o *Orchestrator, within time.Duration) RunRecord {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		rec := o.Status()
		if !rec.Running && !rec.StartedAt.IsZero() {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("run did not finish in time")
	return RunRecord{}
}

func TestRunReachesTerminalPhase(t *testing.T) {
	// The agent marks status.done in the state file; the work->done guard
	// then fires and the run completes via state.
	f := newFixture(t, "mini", miniWorkflow, `cat > "$STATE/issue.json" <<'EOF'
{"owner":"octo","repo":"widgets","issue":{"number":5},"workflow":"mini","phase":"work","status":{"done":true}}
EOF
echo "did the work" > "$TEXT"`)

	require.NoError(t, f.orch.Start(StartOptions{
		MaxIterations:     3,
		IterationTimeout:  10 * time.Second,
		InactivityTimeout: 10 * time.Second,
	}))

	rec := waitDone(t, f.orch, 10*time.Second)
	assert.True(t, rec.CompletedViaState)
	assert.False(t, rec.CompletedViaPromise)
	assert.Equal(t, "reached terminal phase: done", rec.CompletionReason)
	assert.Equal(t, 1, rec.CurrentIteration)

	st, err := f.store.Load(f.ref)
	require.NoError(t, err)
	assert.Equal(t, "done", st.Phase)

	vlog, err := os.ReadFile(rec.ViewerLogPath)
	require.NoError(t, err)
	assert.Contains(t, string(vlog), "[TRANSITION] work → done")
}

func TestCompletionPromiseEndsRun(t *testing.T) {
	f := newFixture(t, "mini", miniWorkflow,
		`printf '%s\n' '<promise>COMPLETE</promise>' > "$TEXT"`)

	require.NoError(t, f.orch.Start(StartOptions{
		MaxIterations:     10,
		IterationTimeout:  10 * time.Second,
		InactivityTimeout: 10 * time.Second,
	}))

	rec := waitDone(t, f.orch, 10*time.Second)
	assert.True(t, rec.CompletedViaPromise)
	assert.False(t, rec.CompletedViaState)
	assert.Equal(t, "completion promise found in output", rec.CompletionReason)
	assert.Equal(t, 1, rec.CurrentIteration)
}

func TestMaxIterationsExhausted(t *testing.T) {
	f := newFixture(t, "mini", miniWorkflow, `echo "no progress" > "$TEXT"`)

	require.NoError(t, f.orch.Start(StartOptions{
		MaxIterations:     2,
		IterationTimeout:  10 * time.Second,
		InactivityTimeout: 10 * time.Second,
	}))

	rec := waitDone(t, f.orch, 10*time.Second)
	assert.Equal(t, "reached maximum iterations", rec.CompletionReason)
	assert.Equal(t, 2, rec.CurrentIteration)
	assert.False(t, rec.CompletedViaPromise)
	assert.False(t, rec.CompletedViaState)
}

func TestNonZeroExitContinues(t *testing.T) {
	f := newFixture(t, "mini", miniWorkflow, `echo "boom" > "$TEXT"; exit 3`)

	require.NoError(t, f.orch.Start(StartOptions{
		MaxIterations:     2,
		IterationTimeout:  10 * time.Second,
		InactivityTimeout: 10 * time.Second,
	}))

	rec := waitDone(t, f.orch, 10*time.Second)
	// Both iterations ran despite the failure exit.
	assert.Equal(t, 2, rec.CurrentIteration)
	assert.Equal(t, 3, rec.ReturnCode)
	assert.Empty(t, rec.LastError)
}

func TestInactivityTimeoutKillsAgent(t *testing.T) {
	f := newFixture(t, "mini", miniWorkflow, `sleep 30`)

	require.NoError(t, f.orch.Start(StartOptions{
		MaxIterations:     1,
		IterationTimeout:  20 * time.Second,
		InactivityTimeout: 300 * time.Millisecond,
	}))

	rec := waitDone(t, f.orch, 10*time.Second)
	assert.NotZero(t, rec.ReturnCode)

	vlog, err := os.ReadFile(rec.ViewerLogPath)
	require.NoError(t, err)
	assert.Contains(t, string(vlog), "[ERROR] Iteration inactive for")
}

func TestStopRequestEndsRun(t *testing.T) {
	f := newFixture(t, "mini", miniWorkflow, `sleep 30`)

	require.NoError(t, f.orch.Start(StartOptions{
		MaxIterations:     5,
		IterationTimeout:  20 * time.Second,
		InactivityTimeout: 20 * time.Second,
	}))

	// Give the iteration a moment to spawn its subprocess.
	time.Sleep(300 * time.Millisecond)
	require.NoError(t, f.orch.Stop(false, 10*time.Second))

	rec := f.orch.Status()
	assert.False(t, rec.Running)
	assert.Equal(t, "stop requested", rec.CompletionReason)
}

func TestScriptPhaseTransitions(t *testing.T) {
	f := newFixture(t, "scripted", scriptWorkflow, `exit 0`)

	require.NoError(t, f.orch.Start(StartOptions{
		MaxIterations:     3,
		IterationTimeout:  10 * time.Second,
		InactivityTimeout: 10 * time.Second,
	}))

	rec := waitDone(t, f.orch, 10*time.Second)
	assert.True(t, rec.CompletedViaState)
	assert.Equal(t, "reached terminal phase: done", rec.CompletionReason)

	st, err := f.store.Load(f.ref)
	require.NoError(t, err)
	assert.Equal(t, "done", st.Phase)
	assert.Equal(t, true, st.Status["check_passed"])
}

func TestEvaluatePhaseFlagsStrayWrites(t *testing.T) {
	// An evaluate phase may only write under .jeeves; a file dropped in the
	// worktree root shows up in the viewer log as an allowlist violation.
	f := newFixture(t, "reviewed", reviewWorkflow, `sleep 1
echo "oops" > "$WORK/stray.txt"
cat > "$STATE/issue.json" <<'EOF'
{"owner":"octo","repo":"widgets","issue":{"number":5},"workflow":"reviewed","phase":"review","status":{"reviewed":true}}
EOF
echo "reviewed" > "$TEXT"`)

	require.NoError(t, f.orch.Start(StartOptions{
		MaxIterations:     1,
		IterationTimeout:  10 * time.Second,
		InactivityTimeout: 10 * time.Second,
	}))

	rec := waitDone(t, f.orch, 15*time.Second)
	assert.True(t, rec.CompletedViaState)

	vlog, err := os.ReadFile(rec.ViewerLogPath)
	require.NoError(t, err)
	assert.Contains(t, string(vlog), "wrote outside its allowlist: stray.txt")
}

func TestStartValidation(t *testing.T) {
	f := newFixture(t, "mini", miniWorkflow, `true`)

	// Missing worktree.
	other := issue.Ref{Owner: "octo", Repo: "widgets", Number: 9}
	require.NoError(t, f.store.Save(&issue.State{
		Owner: "octo", Repo: "widgets", Issue: issue.Info{Number: 9}, Workflow: "mini",
	}))
	require.NoError(t, f.orch.SetIssue(other))
	err := f.orch.Start(StartOptions{})
	var jerr *jeeveserrors.JeevesError
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, jeeveserrors.CodeWorktreeMissing, jerr.Code)
}

func TestStartRejectedWhileRunning(t *testing.T) {
	f := newFixture(t, "mini", miniWorkflow, `sleep 5`)

	require.NoError(t, f.orch.Start(StartOptions{
		MaxIterations:     1,
		IterationTimeout:  20 * time.Second,
		InactivityTimeout: 20 * time.Second,
	}))
	defer f.orch.Stop(true, 10*time.Second)

	err := f.orch.Start(StartOptions{})
	var jerr *jeeveserrors.JeevesError
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, jeeveserrors.CodeRunActive, jerr.Code)

	err = f.orch.SetIssue(f.ref)
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, jeeveserrors.CodeRunActive, jerr.Code)
}

func TestEnsureStateLinkRepairsDangling(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks")
	}
	stateDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(stateDir, issue.StateFileName), []byte("{}"), 0644))
	worktree := t.TempDir()

	// Dangling link left behind by a removed state dir.
	link := filepath.Join(worktree, ".jeeves")
	require.NoError(t, os.Symlink(filepath.Join(stateDir, "gone"), link))

	require.NoError(t, ensureStateLink(worktree, stateDir))
	target, err := os.Readlink(link)
	require.NoError(t, err)
	assert.Equal(t, stateDir, target)

	// Idempotent once healthy.
	require.NoError(t, ensureStateLink(worktree, stateDir))
}

func TestProgressFileBanner(t *testing.T) {
	f := newFixture(t, "mini", miniWorkflow, `true`)

	require.NoError(t, f.orch.Start(StartOptions{
		MaxIterations:     1,
		IterationTimeout:  10 * time.Second,
		InactivityTimeout: 10 * time.Second,
	}))
	waitDone(t, f.orch, 10*time.Second)

	data, err := os.ReadFile(filepath.Join(f.state, issue.ProgressFileName))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Iteration 1 of 1", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "Started: "))
}
