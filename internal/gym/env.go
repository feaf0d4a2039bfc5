// Package gym exposes a Lean prover session as a turn-based environment for
// proof search. An Env owns one prover process, caches every proof state it
// observes, and lets the caller jump back to any cached state without
// touching the process.
package gym

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/joeycumines/leangym/internal/prover"
)

const (
	// DefaultTimeout bounds the wait for each prover response.
	DefaultTimeout = 600 * time.Second
	// DefaultProver is the executable run through "lake env".
	DefaultProver = "lean"
)

var (
	// ErrUnknownState is returned by Reset for a state id that was never
	// observed.
	ErrUnknownState = errors.New("gym: unknown state id")
	// ErrInitialState is returned by Reset when the prover reports an error
	// instead of the theorem's initial goals.
	ErrInitialState = errors.New("gym: prover rejected the theorem")
	// ErrClosed is returned by Reset after Close.
	ErrClosed = errors.New("gym: environment closed")
)

// Info keys set on truncated outcomes.
const (
	InfoError = "error"
	InfoCrash = "crash"
)

// Session is the prover process driven by an Env. *prover.Process
// implements it.
type Session interface {
	prover.Conn
	prover.FrameReader
	Start(cmd prover.Command, timeout time.Duration) error
	Stop() error
}

// Config configures an Env. Zero values select the defaults.
type Config struct {
	// Header is placed above the theorem (imports, opens, variables).
	Header string
	// LakePath defaults to ~/.elan/bin/lake.
	LakePath string
	// Prover defaults to DefaultProver.
	Prover string
	// WorkDir is the Lean project the prover runs in. The generated source
	// file is written there. Defaults to os.TempDir().
	WorkDir string
	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration
	// Prompt defaults to prover.DefaultPrompt.
	Prompt string
	// EntryTactic defaults to DefaultEntryTactic.
	EntryTactic string
	// Env is appended to the prover's environment.
	Env     []string
	Logger  *slog.Logger
	Metrics *Metrics
	// Session defaults to a new *prover.Process.
	Session Session
}

// DefaultLakePath returns the lake binary installed by elan.
func DefaultLakePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "lake"
	}
	return filepath.Join(home, ".elan", "bin", "lake")
}

// Env is a proof environment for a single theorem. It is not safe for
// concurrent use; run one Env per goroutine.
type Env struct {
	id      string
	cfg     Config
	logger  *slog.Logger
	session Session
	source  string
	archive *Archive
	current State
	status  Status
	final   *Outcome
	closed  bool
}

var _ Environment = (*Env)(nil)

// New writes the source file for theorem and returns an environment ready
// for Reset. The prover is not started until then.
func New(theorem string, cfg Config) (*Env, error) {
	if cfg.LakePath == "" {
		cfg.LakePath = DefaultLakePath()
	}
	if cfg.Prover == "" {
		cfg.Prover = DefaultProver
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Prompt == "" {
		cfg.Prompt = prover.DefaultPrompt
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Session == nil {
		cfg.Session = prover.NewProcess()
	}

	source, err := writeSource(cfg.WorkDir, RenderSource(cfg.Header, NormalizeTheorem(theorem), cfg.EntryTactic))
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	return &Env{
		id:      id,
		cfg:     cfg,
		logger:  cfg.Logger.With("episode", id),
		session: cfg.Session,
		source:  source,
		archive: NewArchive(),
	}, nil
}

// ID identifies the environment in logs.
func (e *Env) ID() string { return e.id }

// SourcePath is the generated Lean file.
func (e *Env) SourcePath() string { return e.source }

// Status returns the lifecycle stage.
func (e *Env) Status() Status { return e.status }

// Current returns the cursor.
func (e *Env) Current() State { return e.current }

// Archive returns the state cache. Callers must not insert into it.
func (e *Env) Archive() *Archive { return e.archive }

// Lookup returns the cached state for sid.
func (e *Env) Lookup(sid prover.StateID) (string, bool) { return e.archive.Lookup(sid) }

// StateIDs returns every cached state id in the order observed.
func (e *Env) StateIDs() []prover.StateID { return e.archive.IDs() }

// Result returns the terminal outcome once the episode is done.
func (e *Env) Result() (Outcome, bool) {
	if e.final == nil {
		return Outcome{}, false
	}
	return *e.final, true
}

// ObservationSpace implements Environment.
func (e *Env) ObservationSpace() TextSpace { return LeanTextSpace() }

// ActionSpace implements Environment.
func (e *Env) ActionSpace() TextSpace { return LeanTextSpace() }

func (e *Env) command() prover.Command {
	return prover.Command{
		Name:   e.cfg.LakePath,
		Args:   []string{"env", e.cfg.Prover, e.source},
		Dir:    e.cfg.WorkDir,
		Env:    e.cfg.Env,
		Prompt: e.cfg.Prompt,
	}
}

// Reset starts the episode. With nil opts the prover is (re)started and the
// archive cleared. With opts.SID the cursor moves to that cached state and
// the prover is not contacted.
func (e *Env) Reset(opts *ResetOptions) (string, ResetInfo, error) {
	if e.closed {
		return "", ResetInfo{}, ErrClosed
	}
	if opts != nil {
		return e.resume(opts.SID)
	}
	return e.restart()
}

func (e *Env) restart() (string, ResetInfo, error) {
	e.archive.Reset()
	e.current = State{}
	e.final = nil
	e.status = StatusUninitialized
	e.cfg.Metrics.setArchiveSize(0)

	if err := e.session.Start(e.command(), e.cfg.Timeout); err != nil {
		return "", ResetInfo{}, e.abort(fmt.Errorf("failed to start prover: %w", err))
	}
	res, err := prover.ReadResponse(e.session)
	if err != nil {
		return "", ResetInfo{}, e.abort(fmt.Errorf("failed to read initial state: %w", err))
	}
	if res.Error != nil {
		return "", ResetInfo{}, e.abort(fmt.Errorf("%w: %s", ErrInitialState, *res.Error))
	}

	state := PostProcess(res.TacticState)
	e.archive.Insert(res.SID, state)
	e.current = State{SID: res.SID, State: state}
	e.status = StatusActive
	e.cfg.Metrics.observeReset(resetFresh)
	e.cfg.Metrics.setArchiveSize(e.archive.Len())
	e.logger.Info("prover started", "sid", res.SID.String(), "source", e.source)
	return state, ResetInfo{SID: res.SID}, nil
}

// abort stops a prover that failed to deliver its initial state, so no
// later Step can talk to it.
func (e *Env) abort(err error) error {
	if stopErr := e.session.Stop(); stopErr != nil {
		e.logger.Warn("failed to stop prover", "error", stopErr)
	}
	return err
}

// resume moves the cursor to a cached state. After a truncated outcome the
// episode stays terminated: the prover may still owe a reply, so Step keeps
// returning the truncated outcome until a Reset(nil).
func (e *Env) resume(sid prover.StateID) (string, ResetInfo, error) {
	state, ok := e.archive.Lookup(sid)
	if !ok {
		return "", ResetInfo{}, fmt.Errorf("%w: %s", ErrUnknownState, sid.String())
	}
	e.current = State{SID: sid, State: state}
	e.cfg.Metrics.observeReset(resetBacktrack)
	if e.final != nil && e.final.Truncated {
		e.logger.Debug("resumed from archive after truncation", "sid", sid.String())
		return state, ResetInfo{SID: sid}, nil
	}
	e.final = nil
	e.status = StatusActive
	e.logger.Debug("resumed from archive", "sid", sid.String())
	return state, ResetInfo{SID: sid}, nil
}

// Step applies action to the current state. Once an outcome is done, every
// further Step returns it unchanged until the next Reset.
func (e *Env) Step(action string) Outcome {
	switch e.status {
	case StatusTerminated:
		e.cfg.Metrics.observeStep(resultCached, 0)
		return *e.final
	case StatusUninitialized:
		return e.truncate(errors.New("gym: no prover state, reset first"), 0)
	}

	start := time.Now()
	res, err := prover.Submit(e.session, e.session, e.current.SID, action)
	elapsed := time.Since(start)

	switch {
	case err != nil:
		e.logger.Warn("prover step failed", "sid", e.current.SID.String(), "error", err)
		return e.truncate(err, elapsed)
	case res.Error != nil:
		return e.finish(Outcome{
			Observation: *res.Error,
			Reward:      RewardFailure,
			Done:        true,
			Info:        map[string]any{},
		}, resultRejected, elapsed)
	case res.TacticState == prover.NoGoals:
		return e.finish(Outcome{
			Observation: PostProcess(res.TacticState),
			Reward:      RewardProved,
			Done:        true,
			Info:        map[string]any{},
		}, resultProved, elapsed)
	}

	state := PostProcess(res.TacticState)
	if !e.archive.Insert(res.SID, state) {
		state, _ = e.archive.Lookup(res.SID)
	}
	e.current = State{SID: res.SID, State: state}
	if res.Message != "" {
		e.logger.Debug("prover diagnostics", "sid", res.SID.String(), "message", res.Message)
	}
	e.cfg.Metrics.observeStep(resultOngoing, elapsed)
	e.cfg.Metrics.setArchiveSize(e.archive.Len())
	return Outcome{Observation: state, Reward: RewardNeutral, Info: map[string]any{}}
}

// truncate ends the episode on an infrastructure failure. Info carries the
// error and, for a crash, its kind.
func (e *Env) truncate(err error, elapsed time.Duration) Outcome {
	info := map[string]any{InfoError: err.Error()}
	if kind := prover.CrashKindOf(err); kind != 0 {
		info[InfoCrash] = kind.String()
	}
	return e.finish(Outcome{
		Observation: e.current.State,
		Reward:      RewardFailure,
		Done:        true,
		Truncated:   true,
		Info:        info,
	}, resultTruncated, elapsed)
}

func (e *Env) finish(outcome Outcome, result string, elapsed time.Duration) Outcome {
	e.final = &outcome
	e.status = StatusTerminated
	e.cfg.Metrics.observeStep(result, elapsed)
	e.logger.Info("episode finished", "result", result, "reward", outcome.Reward, "truncated", outcome.Truncated)
	return outcome
}

// Close stops the prover and removes the generated source file. It is safe
// to call more than once.
func (e *Env) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true

	var errs []error
	if err := e.session.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop prover: %w", err))
	}
	if err := os.Remove(e.source); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, fmt.Errorf("failed to remove %s: %w", e.source, err))
	}
	return errors.Join(errs...)
}

var goalCount = regexp.MustCompile(`^\d+ goals\n`)

// PostProcess strips the "<n> goals" header the prover prints when more
// than one goal is open.
func PostProcess(tacticState string) string {
	if loc := goalCount.FindStringIndex(tacticState); loc != nil {
		return tacticState[loc[1]:]
	}
	return tacticState
}
