package gym

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/leangym/internal/prover"
)

type frameResult struct {
	frame prover.Frame
	err   error
}

// fakeSession replays scripted frames. Next reports a timeout once the
// script runs out.
type fakeSession struct {
	started  []prover.Command
	startErr error
	stops    int
	aliveErr error
	sent     []string
	frames   []frameResult
}

func (s *fakeSession) Start(cmd prover.Command, _ time.Duration) error {
	s.started = append(s.started, cmd)
	return s.startErr
}

func (s *fakeSession) Stop() error {
	s.stops++
	return nil
}

func (s *fakeSession) CheckAlive() error { return s.aliveErr }

func (s *fakeSession) SendLine(text string) error {
	s.sent = append(s.sent, text)
	return nil
}

func (s *fakeSession) Next() (prover.Frame, error) {
	if len(s.frames) == 0 {
		return prover.Frame{}, prover.ErrTimeout
	}
	next := s.frames[0]
	s.frames = s.frames[1:]
	return next.frame, next.err
}

func (s *fakeSession) push(frames ...frameResult) { s.frames = append(s.frames, frames...) }

func stateFrame(sid any, state string) frameResult {
	b, _ := json.Marshal(map[string]any{"sid": sid, "tacticState": state, "error": nil})
	return frameResult{frame: prover.Frame{Payload: string(b)}}
}

func errorFrame(msg string) frameResult {
	b, _ := json.Marshal(map[string]any{"sid": nil, "tacticState": nil, "error": msg})
	return frameResult{frame: prover.Frame{Payload: string(b)}}
}

func newTestEnv(t *testing.T, session *fakeSession, cfg Config) *Env {
	t.Helper()
	cfg.Session = session
	if cfg.WorkDir == "" {
		cfg.WorkDir = t.TempDir()
	}
	if cfg.LakePath == "" {
		cfg.LakePath = "/opt/elan/bin/lake"
	}
	env, err := New("theorem foo : p ∧ q := by sorry", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })
	return env
}

func resetFreshEnv(t *testing.T, session *fakeSession) *Env {
	t.Helper()
	env := newTestEnv(t, session, Config{})
	session.push(stateFrame(0, "⊢ p ∧ q"))
	obs, info, err := env.Reset(nil)
	require.NoError(t, err)
	require.Equal(t, "⊢ p ∧ q", obs)
	require.Equal(t, prover.StateID("0"), info.SID)
	return env
}

func TestNew_WritesSource(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(t, &fakeSession{}, Config{WorkDir: dir, Header: "import Mathlib"})

	data, err := os.ReadFile(env.SourcePath())
	require.NoError(t, err)
	assert.Equal(t, "import Mathlib\n\ntheorem foo : p ∧ q := by\n  lean_dojo_repl\n  sorry\n\n", string(data))
	assert.NotEmpty(t, env.ID())
	assert.Equal(t, StatusUninitialized, env.Status())
}

func TestNew_DistinctIDs(t *testing.T) {
	a := newTestEnv(t, &fakeSession{}, Config{})
	b := newTestEnv(t, &fakeSession{}, Config{})
	assert.NotEqual(t, a.ID(), b.ID())
	assert.NotEqual(t, a.SourcePath(), b.SourcePath())
}

func TestEnv_ResetStartsProver(t *testing.T) {
	session := &fakeSession{}
	env := newTestEnv(t, session, Config{Prover: "lean4", Prompt: "PROVER>"})
	session.push(stateFrame(0, "⊢ p ∧ q"))

	obs, info, err := env.Reset(nil)
	require.NoError(t, err)
	assert.Equal(t, "⊢ p ∧ q", obs)
	assert.Equal(t, prover.StateID("0"), info.SID)
	assert.Equal(t, StatusActive, env.Status())
	assert.Equal(t, State{SID: "0", State: "⊢ p ∧ q"}, env.Current())
	assert.Equal(t, 1, env.Archive().Len())

	require.Len(t, session.started, 1)
	cmd := session.started[0]
	assert.Equal(t, "/opt/elan/bin/lake", cmd.Name)
	assert.Equal(t, []string{"env", "lean4", env.SourcePath()}, cmd.Args)
	assert.Equal(t, "PROVER>", cmd.Prompt)
	assert.NotEmpty(t, cmd.Dir)
	assert.Empty(t, session.sent)
}

func TestEnv_ResetStripsGoalCount(t *testing.T) {
	session := &fakeSession{}
	env := newTestEnv(t, session, Config{})
	session.push(stateFrame(0, "2 goals\n⊢ p\n⊢ q"))

	obs, _, err := env.Reset(nil)
	require.NoError(t, err)
	assert.Equal(t, "⊢ p\n⊢ q", obs)
}

func TestEnv_ResetFailures(t *testing.T) {
	t.Run("start", func(t *testing.T) {
		session := &fakeSession{startErr: errors.New("no such file")}
		env := newTestEnv(t, session, Config{})
		_, _, err := env.Reset(nil)
		assert.ErrorContains(t, err, "no such file")
		assert.Equal(t, StatusUninitialized, env.Status())
	})
	t.Run("initial error", func(t *testing.T) {
		session := &fakeSession{}
		env := newTestEnv(t, session, Config{})
		session.push(errorFrame("unknown identifier 'p'"))
		_, _, err := env.Reset(nil)
		assert.ErrorIs(t, err, ErrInitialState)
		assert.ErrorContains(t, err, "unknown identifier 'p'")
	})
	t.Run("eof", func(t *testing.T) {
		session := &fakeSession{}
		env := newTestEnv(t, session, Config{})
		session.push(frameResult{err: io.EOF})
		_, _, err := env.Reset(nil)
		assert.Equal(t, prover.CrashUnexpectedEOF, prover.CrashKindOf(err))
	})
	t.Run("timeout", func(t *testing.T) {
		session := &fakeSession{}
		env := newTestEnv(t, session, Config{})
		_, _, err := env.Reset(nil)
		assert.ErrorIs(t, err, prover.ErrTimeout)
	})
	t.Run("invalid payload", func(t *testing.T) {
		session := &fakeSession{}
		env := newTestEnv(t, session, Config{})
		session.push(frameResult{frame: prover.Frame{Payload: "{oops"}})
		_, _, err := env.Reset(nil)
		assert.Equal(t, prover.CrashInvalidPayload, prover.CrashKindOf(err))
	})
}

func TestEnv_StepOngoing(t *testing.T) {
	session := &fakeSession{}
	env := resetFreshEnv(t, session)
	session.push(stateFrame(1, "2 goals\n⊢ p\n⊢ q"))

	out := env.Step("constructor")
	assert.Equal(t, Outcome{Observation: "⊢ p\n⊢ q", Reward: RewardNeutral, Info: map[string]any{}}, out)
	assert.Equal(t, []string{`{"sid":0,"cmd":"constructor"}`}, session.sent)
	assert.Equal(t, State{SID: "1", State: "⊢ p\n⊢ q"}, env.Current())
	assert.Equal(t, []prover.StateID{"0", "1"}, env.StateIDs())
	assert.Equal(t, StatusActive, env.Status())
	_, done := env.Result()
	assert.False(t, done)
}

func TestEnv_StepProvedIsIdempotent(t *testing.T) {
	session := &fakeSession{}
	env := resetFreshEnv(t, session)
	session.push(stateFrame(1, prover.NoGoals))

	first := env.Step("exact ⟨hp, hq⟩")
	assert.Equal(t, Outcome{Observation: "no goals", Reward: RewardProved, Done: true, Info: map[string]any{}}, first)
	assert.Equal(t, StatusTerminated, env.Status())

	second := env.Step("anything")
	assert.Equal(t, first, second)
	assert.Len(t, session.sent, 1, "terminated episodes must not contact the prover")

	result, ok := env.Result()
	assert.True(t, ok)
	assert.Equal(t, first, result)
}

func TestEnv_StepRejected(t *testing.T) {
	session := &fakeSession{}
	env := resetFreshEnv(t, session)
	session.push(errorFrame("unknown tactic"))

	out := env.Step("foo")
	assert.Equal(t, "unknown tactic", out.Observation)
	assert.Equal(t, RewardFailure, out.Reward)
	assert.True(t, out.Done)
	assert.False(t, out.Truncated)
	assert.Equal(t, State{SID: "0", State: "⊢ p ∧ q"}, env.Current(), "rejection leaves the cursor")
	assert.Equal(t, out, env.Step("bar"))
}

func TestEnv_StepTimeoutTruncates(t *testing.T) {
	session := &fakeSession{}
	env := resetFreshEnv(t, session)
	session.push(stateFrame(1, "⊢ q"))
	require.False(t, env.Step("left").Done)

	// no frame queued: the read times out
	out := env.Step("slow")
	assert.Equal(t, "⊢ q", out.Observation, "the pre-step state is reported")
	assert.Equal(t, RewardFailure, out.Reward)
	assert.True(t, out.Done)
	assert.True(t, out.Truncated)

	assert.Equal(t, prover.ErrTimeout.Error(), out.Info[InfoError])
	sentBefore := len(session.sent)

	obs, info, err := env.Reset(&ResetOptions{SID: "0"})
	require.NoError(t, err, "cached states stay reachable after truncation")
	assert.Equal(t, "⊢ p ∧ q", obs)
	assert.Equal(t, prover.StateID("0"), info.SID)
	assert.Equal(t, State{SID: "0", State: "⊢ p ∧ q"}, env.Current())
	assert.Equal(t, StatusTerminated, env.Status())
	assert.Equal(t, out, env.Step("intro"), "the truncated outcome is kept")
	assert.Len(t, session.sent, sentBefore)

	session.push(stateFrame(0, "⊢ p ∧ q"))
	obs, _, err = env.Reset(nil)
	require.NoError(t, err)
	assert.Equal(t, "⊢ p ∧ q", obs)
	assert.Len(t, session.started, 2)
	assert.Equal(t, []prover.StateID{"0"}, env.StateIDs(), "restart clears the archive")
}

func TestEnv_StepCrash(t *testing.T) {
	session := &fakeSession{}
	env := resetFreshEnv(t, session)
	session.aliveErr = &prover.CrashError{Kind: prover.CrashOutOfMemory, ExitCode: prover.ExitCodeOutOfMemory}

	out := env.Step("simp")
	assert.True(t, out.Truncated)
	assert.Equal(t, "⊢ p ∧ q", out.Observation)
	assert.Equal(t, "out-of-memory", out.Info[InfoCrash])
	assert.Empty(t, session.sent)
}

func TestEnv_StepAfterFailedReset(t *testing.T) {
	for name, frame := range map[string]frameResult{
		"initial error":   errorFrame("unknown identifier 'p'"),
		"invalid payload": {frame: prover.Frame{Payload: "{oops"}},
		"eof":             {err: io.EOF},
	} {
		t.Run(name, func(t *testing.T) {
			session := &fakeSession{}
			env := newTestEnv(t, session, Config{})
			session.push(frame)
			_, _, err := env.Reset(nil)
			require.Error(t, err)
			assert.Equal(t, 1, session.stops, "the half-started prover is stopped")

			out := env.Step("intro")
			assert.True(t, out.Done)
			assert.True(t, out.Truncated)
			assert.Equal(t, RewardFailure, out.Reward)
			assert.Empty(t, session.sent)
		})
	}

	t.Run("timeout", func(t *testing.T) {
		session := &fakeSession{}
		env := newTestEnv(t, session, Config{})
		_, _, err := env.Reset(nil)
		require.ErrorIs(t, err, prover.ErrTimeout)
		assert.Equal(t, 1, session.stops)
		assert.True(t, env.Step("intro").Truncated)
		assert.Empty(t, session.sent)
	})
}

func TestEnv_StepBeforeReset(t *testing.T) {
	session := &fakeSession{}
	env := newTestEnv(t, session, Config{})

	out := env.Step("intro")
	assert.True(t, out.Truncated)
	assert.Empty(t, session.sent)
	assert.Empty(t, session.started)
}

func TestEnv_BacktrackWithoutProver(t *testing.T) {
	session := &fakeSession{}
	env := resetFreshEnv(t, session)
	session.push(stateFrame(1, "⊢ p"), stateFrame(2, "⊢ q"))
	env.Step("constructor")
	env.Step("exact hp")
	sentBefore := len(session.sent)
	startedBefore := len(session.started)

	obs, info, err := env.Reset(&ResetOptions{SID: "1"})
	require.NoError(t, err)
	assert.Equal(t, "⊢ p", obs)
	assert.Equal(t, prover.StateID("1"), info.SID)
	assert.Len(t, session.sent, sentBefore)
	assert.Len(t, session.started, startedBefore)
	assert.Equal(t, State{SID: "1", State: "⊢ p"}, env.Current())

	session.push(stateFrame(3, "⊢ r"))
	env.Step("intro")
	assert.Equal(t, `{"sid":1,"cmd":"intro"}`, session.sent[len(session.sent)-1])
}

func TestEnv_BacktrackAfterCompletion(t *testing.T) {
	session := &fakeSession{}
	env := resetFreshEnv(t, session)
	session.push(errorFrame("type mismatch"))
	require.True(t, env.Step("exact foo").Done)

	_, _, err := env.Reset(&ResetOptions{SID: "0"})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, env.Status())

	session.push(stateFrame(1, "⊢ q"))
	out := env.Step("left")
	assert.False(t, out.Done)
	assert.Equal(t, "⊢ q", out.Observation)
}

func TestEnv_BacktrackUnknownState(t *testing.T) {
	session := &fakeSession{}
	env := resetFreshEnv(t, session)

	_, _, err := env.Reset(&ResetOptions{SID: "42"})
	assert.ErrorIs(t, err, ErrUnknownState)
	assert.Equal(t, State{SID: "0", State: "⊢ p ∧ q"}, env.Current())
}

func TestEnv_StaleStateReuse(t *testing.T) {
	session := &fakeSession{}
	env := resetFreshEnv(t, session)
	session.push(stateFrame(1, "⊢ p"), stateFrame(1, "⊢ something else"))

	env.Step("constructor")
	_, _, err := env.Reset(&ResetOptions{SID: "0"})
	require.NoError(t, err)

	out := env.Step("constructor")
	assert.Equal(t, "⊢ p", out.Observation)
	assert.Equal(t, State{SID: "1", State: "⊢ p"}, env.Current())
}

func TestEnv_StringStateIDs(t *testing.T) {
	session := &fakeSession{}
	env := newTestEnv(t, session, Config{})
	session.push(stateFrame("root", "⊢ p"), stateFrame("child", "⊢ q"))

	_, info, err := env.Reset(nil)
	require.NoError(t, err)
	assert.Equal(t, prover.StateID(`"root"`), info.SID)

	env.Step("intro")
	assert.Equal(t, `{"sid":"root","cmd":"intro"}`, session.sent[0])

	_, _, err = env.Reset(&ResetOptions{SID: prover.ParseStateID("root")})
	assert.NoError(t, err)
}

func TestEnv_Close(t *testing.T) {
	session := &fakeSession{}
	env := resetFreshEnv(t, session)
	source := env.SourcePath()

	require.NoError(t, env.Close())
	require.NoError(t, env.Close())
	assert.Equal(t, 1, session.stops)
	assert.NoFileExists(t, source)

	_, _, err := env.Reset(nil)
	assert.ErrorIs(t, err, ErrClosed)
	_, _, err = env.Reset(&ResetOptions{SID: "0"})
	assert.ErrorIs(t, err, ErrClosed)

	state, ok := env.Lookup("0")
	assert.True(t, ok, "the archive survives close")
	assert.Equal(t, "⊢ p ∧ q", state)
}

func TestEnv_CloseWithoutReset(t *testing.T) {
	env := newTestEnv(t, &fakeSession{}, Config{})
	assert.NoError(t, env.Close())
	assert.NoFileExists(t, env.SourcePath())
}

func TestEnv_Spaces(t *testing.T) {
	env := newTestEnv(t, &fakeSession{}, Config{})
	assert.Equal(t, DefaultMaxLength, env.ObservationSpace().MaxLength)
	assert.Same(t, env.ObservationSpace().Charset, env.ActionSpace().Charset)
}

func TestEnv_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	session := &fakeSession{}
	env := newTestEnv(t, session, Config{Metrics: metrics})

	session.push(stateFrame(0, "⊢ p ∧ q"), stateFrame(1, "⊢ p"), stateFrame(2, prover.NoGoals))
	_, _, err := env.Reset(nil)
	require.NoError(t, err)
	env.Step("constructor")
	_, _, err = env.Reset(&ResetOptions{SID: "1"})
	require.NoError(t, err)
	env.Step("exact hp")
	env.Step("exact hp")

	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.resets.WithLabelValues(resetFresh)))
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.resets.WithLabelValues(resetBacktrack)))
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.steps.WithLabelValues(resultOngoing)))
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.steps.WithLabelValues(resultProved)))
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.steps.WithLabelValues(resultCached)))
	assert.Equal(t, 2.0, promtest.ToFloat64(metrics.archiveSize))
}

func TestPostProcess(t *testing.T) {
	tests := []struct{ in, want string }{
		{"⊢ p", "⊢ p"},
		{"2 goals\n⊢ p\n⊢ q", "⊢ p\n⊢ q"},
		{"12 goals\nx", "x"},
		{"goals\n⊢ p", "goals\n⊢ p"},
		{"case h\n2 goals\n⊢ p", "case h\n2 goals\n⊢ p"},
		{"no goals", "no goals"},
		{"2 goals", "2 goals"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PostProcess(tt.in), "input %q", tt.in)
	}
}
