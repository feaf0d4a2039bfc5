package command

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/joeycumines/leangym/internal/config"
	"github.com/joeycumines/leangym/internal/gym"
	"github.com/joeycumines/leangym/internal/prover"
	"github.com/joeycumines/leangym/internal/storage"
)

// Episode is a scripted proof attempt read from YAML.
type Episode struct {
	// Header precedes the theorem in the generated source.
	Header  string        `yaml:"header"`
	Theorem string        `yaml:"theorem"`
	Steps   []EpisodeStep `yaml:"steps"`
}

// EpisodeStep applies Tactic, first moving back to the state From when set.
type EpisodeStep struct {
	Tactic string   `yaml:"tactic"`
	From   StateRef `yaml:"from"`
}

// StateRef is a state id in an episode file. YAML integers are numeric ids
// and anything else is a string id.
type StateRef prover.StateID

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *StateRef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: state id must be a scalar", node.Line)
	}
	switch node.ShortTag() {
	case "!!null":
		*r = ""
	case "!!int":
		n, err := strconv.ParseInt(node.Value, 0, 64)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*r = StateRef(strconv.FormatInt(n, 10))
	default:
		b, err := json.Marshal(node.Value)
		if err != nil {
			return err
		}
		*r = StateRef(b)
	}
	return nil
}

// LoadEpisode reads and checks an episode file.
func LoadEpisode(path string) (*Episode, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read episode: %w", err)
	}
	var ep Episode
	if err := yaml.Unmarshal(data, &ep); err != nil {
		return nil, fmt.Errorf("failed to parse episode %s: %w", path, err)
	}
	if ep.Theorem == "" {
		return nil, fmt.Errorf("episode %s: theorem is required", path)
	}
	for i, step := range ep.Steps {
		if step.Tactic == "" {
			return nil, fmt.Errorf("episode %s: step %d has no tactic", path, i+1)
		}
	}
	return &ep, nil
}

// Transcript records an episode run.
type Transcript struct {
	Episode string           `json:"episode"`
	Theorem string           `json:"theorem"`
	Initial TranscriptState  `json:"initial"`
	Steps   []TranscriptStep `json:"steps"`
	Proved  bool             `json:"proved"`
}

// TranscriptState is a cached proof state.
type TranscriptState struct {
	SID   prover.StateID `json:"sid"`
	State string         `json:"state"`
}

// TranscriptStep is one applied tactic. SID is the state reached, empty when
// the step ended the episode.
type TranscriptStep struct {
	From        prover.StateID `json:"from"`
	Tactic      string         `json:"tactic"`
	Observation string         `json:"observation"`
	Reward      int            `json:"reward"`
	Done        bool           `json:"done"`
	Truncated   bool           `json:"truncated"`
	SID         prover.StateID `json:"sid,omitempty"`
	// Crash names the failure kind of a truncated step, when known.
	Crash string `json:"crash,omitempty"`
}

// RunCommand replays an episode file against the prover.
type RunCommand struct {
	*BaseCommand
	config      *config.Config
	output      string
	metricsFile string
	log         logFlags
}

// NewRunCommand creates a new run command.
func NewRunCommand(cfg *config.Config) *RunCommand {
	return &RunCommand{
		BaseCommand: NewBaseCommand(
			"run",
			"Replay a scripted episode against the prover",
			"run [-o transcript.json] [-metrics-file file] <episode.yaml>",
		),
		config: cfg,
	}
}

// SetupFlags configures the flags for the run command.
func (c *RunCommand) SetupFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.output, "o", "", "Write a JSON transcript to this file")
	fs.StringVar(&c.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file when done")
	c.log.register(fs)
}

// Execute runs the episode.
func (c *RunCommand) Execute(args []string, stdout, stderr io.Writer) (err error) {
	if len(args) != 1 {
		return errors.New("expected exactly one episode file")
	}
	ep, err := LoadEpisode(args[0])
	if err != nil {
		return err
	}

	logger, restore, err := setupLogging(c.log, c.config, stderr)
	if err != nil {
		return err
	}
	defer restore()

	envCfg, err := envConfig(c.config, c.Name())
	if err != nil {
		return err
	}
	reg := prometheus.NewRegistry()
	envCfg.Header = ep.Header
	envCfg.Logger = logger
	envCfg.Metrics = gym.NewMetrics(reg)

	env, err := gym.New(ep.Theorem, envCfg)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, env.Close())
	}()

	transcript, runErr := c.play(env, ep, stdout)
	transcript.Episode = env.ID()
	transcript.Theorem = ep.Theorem

	schema := config.DefaultSchema()
	output := c.output
	if output == "" {
		output = schema.ResolveCommand(c.config, c.Name(), config.KeyOutput)
	}
	if output != "" {
		data, err := json.MarshalIndent(transcript, "", "  ")
		if err != nil {
			return errors.Join(runErr, fmt.Errorf("failed to encode transcript: %w", err))
		}
		if err := storage.AtomicWriteFile(expandHome(output), append(data, '\n'), 0644); err != nil {
			return errors.Join(runErr, fmt.Errorf("failed to write transcript: %w", err))
		}
	}

	metricsFile := c.metricsFile
	if metricsFile == "" {
		metricsFile = schema.ResolveCommand(c.config, c.Name(), config.KeyMetricsFile)
	}
	if metricsFile != "" {
		if err := prometheus.WriteToTextfile(expandHome(metricsFile), reg); err != nil {
			return errors.Join(runErr, fmt.Errorf("failed to write metrics: %w", err))
		}
	}
	return runErr
}

func (c *RunCommand) play(env *gym.Env, ep *Episode, stdout io.Writer) (Transcript, error) {
	var t Transcript
	obs, info, err := env.Reset(nil)
	if err != nil {
		return t, err
	}
	t.Initial = TranscriptState{SID: info.SID, State: obs}
	_, _ = fmt.Fprintf(stdout, "reset: sid %s\n%s\n", info.SID, obs)

	for i, step := range ep.Steps {
		if step.From != "" {
			if _, _, err := env.Reset(&gym.ResetOptions{SID: prover.StateID(step.From)}); err != nil {
				return t, fmt.Errorf("step %d: %w", i+1, err)
			}
		}
		from := env.Current().SID
		out := env.Step(step.Tactic)

		rec := TranscriptStep{
			From:        from,
			Tactic:      step.Tactic,
			Observation: out.Observation,
			Reward:      out.Reward,
			Done:        out.Done,
			Truncated:   out.Truncated,
		}
		if !out.Done {
			rec.SID = env.Current().SID
		}
		if crash, ok := out.Info[gym.InfoCrash].(string); ok {
			rec.Crash = crash
		}
		t.Steps = append(t.Steps, rec)
		if out.Reward == gym.RewardProved {
			t.Proved = true
		}
		_, _ = fmt.Fprintf(stdout, "step %d: %s -> %s\n%s\n", i+1, step.Tactic, describe(out, rec.SID), out.Observation)
	}

	if t.Proved {
		_, _ = fmt.Fprintln(stdout, "result: proved")
	} else {
		_, _ = fmt.Fprintln(stdout, "result: not proved")
	}
	return t, nil
}

func describe(out gym.Outcome, sid prover.StateID) string {
	switch {
	case out.Truncated:
		return "truncated"
	case out.Reward == gym.RewardProved:
		return "proved"
	case out.Done:
		return "rejected"
	default:
		return "sid " + sid.String()
	}
}
