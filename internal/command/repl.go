package command

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/joeycumines/go-prompt"
	istrings "github.com/joeycumines/go-prompt/strings"
	"golang.org/x/term"

	"github.com/joeycumines/leangym/internal/config"
	"github.com/joeycumines/leangym/internal/gym"
	"github.com/joeycumines/leangym/internal/prover"
)

// ReplCommand drives an environment interactively, one tactic per line.
type ReplCommand struct {
	*BaseCommand
	config *config.Config
	stdin  io.Reader
	header string
	log    logFlags
}

// NewReplCommand creates a new repl command reading from stdin.
func NewReplCommand(cfg *config.Config, stdin io.Reader) *ReplCommand {
	return &ReplCommand{
		BaseCommand: NewBaseCommand(
			"repl",
			"Prove a theorem interactively",
			"repl [-header file] <theorem>",
		),
		config: cfg,
		stdin:  stdin,
	}
}

// SetupFlags configures the flags for the repl command.
func (c *ReplCommand) SetupFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.header, "header", "", "File whose contents precede the theorem (imports, opens)")
	c.log.register(fs)
}

const replHelp = `Enter a tactic to apply it to the current state.
  :back <sid>  return to a cached state
  :states      list cached states
  :reset       restart the prover
  :quit        exit`

// Execute runs the loop until :quit or end of input. On a terminal, input is
// edited with history and completion; piped input is read line by line.
func (c *ReplCommand) Execute(args []string, stdout, stderr io.Writer) (err error) {
	if len(args) == 0 {
		return errors.New("expected a theorem")
	}
	theorem := strings.Join(args, " ")

	headerPath := c.header
	if headerPath == "" {
		headerPath = config.DefaultSchema().ResolveCommand(c.config, c.Name(), config.KeyHeader)
	}
	var header string
	if headerPath != "" {
		data, err := os.ReadFile(expandHome(headerPath))
		if err != nil {
			return fmt.Errorf("failed to read header: %w", err)
		}
		header = string(data)
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
	envCfg.Header = header
	envCfg.Logger = logger

	env, err := gym.New(theorem, envCfg)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, env.Close())
	}()

	obs, info, err := env.Reset(nil)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(stdout, replHelp)
	printState(stdout, info.SID, obs)

	if isTerminal(c.stdin) {
		history := config.DefaultSchema().ResolveCommand(c.config, c.Name(), config.KeyHistory)
		c.runPrompt(env, stdout, expandHome(history))
		return nil
	}
	return c.runLines(env, stdout)
}

// runLines reads piped input, one command per line, without a prompt.
func (c *ReplCommand) runLines(env *gym.Env, stdout io.Writer) error {
	scanner := bufio.NewScanner(c.stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), gym.DefaultMaxLength*4)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if quit := c.handle(env, line, stdout); quit {
			return nil
		}
	}
	return scanner.Err()
}

// runPrompt edits lines on the terminal with history and completion. It
// returns on :quit or Ctrl-D.
func (c *ReplCommand) runPrompt(env *gym.Env, stdout io.Writer, historyPath string) {
	var quit bool
	executor := func(line string) {
		line = strings.TrimSpace(line)
		if line == "" {
			return
		}
		appendHistory(historyPath, line)
		quit = c.handle(env, line, stdout)
	}
	completer := func(document prompt.Document) ([]prompt.Suggest, istrings.RuneNumber, istrings.RuneNumber) {
		suggestions, start, end := completeLine(env, document.TextBeforeCursor())
		return suggestions, istrings.RuneNumber(start), istrings.RuneNumber(end)
	}

	options := []prompt.Option{
		prompt.WithPrefix(replPrefix),
		prompt.WithCompleter(completer),
		prompt.WithExitChecker(func(_ string, breakline bool) bool {
			return breakline && quit
		}),
	}
	if history := loadHistory(historyPath); len(history) > 0 {
		options = append(options, prompt.WithHistory(history))
	}
	prompt.New(executor, options...).Run()
}

const replPrefix = "leangym> "

var replCommands = []prompt.Suggest{
	{Text: ":back", Description: "return to a cached state"},
	{Text: ":states", Description: "list cached states"},
	{Text: ":reset", Description: "restart the prover"},
	{Text: ":help", Description: "show commands"},
	{Text: ":quit", Description: "exit"},
}

// completeLine suggests commands, or cached state ids after ":back". start
// and end are the rune offsets of the word being replaced.
func completeLine(env *gym.Env, before string) (suggestions []prompt.Suggest, start, end int) {
	end = utf8.RuneCountInString(before)
	word := before[strings.LastIndexByte(before, ' ')+1:]
	start = end - utf8.RuneCountInString(word)

	switch {
	case !strings.Contains(before, " ") && strings.HasPrefix(before, ":"):
		for _, s := range replCommands {
			if strings.HasPrefix(s.Text, word) {
				suggestions = append(suggestions, s)
			}
		}
	case strings.HasPrefix(before, ":back ") && strings.Count(before, " ") == 1:
		for _, sid := range env.StateIDs() {
			text := sid.String()
			if !strings.HasPrefix(text, word) {
				continue
			}
			state, _ := env.Lookup(sid)
			first, _, _ := strings.Cut(state, "\n")
			suggestions = append(suggestions, prompt.Suggest{Text: text, Description: first})
		}
	}
	return suggestions, start, end
}

func loadHistory(path string) []string {
	if path == "" {
		return nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var history []string
	for _, line := range strings.Split(strings.TrimSpace(string(content)), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			history = append(history, line)
		}
	}
	return history
}

func appendHistory(path, line string) {
	if path == "" {
		return
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		slog.Warn("failed to open history file", "path", path, "error", err)
		return
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		slog.Warn("failed to write history", "path", path, "error", err)
	}
}

// handle runs one input line and reports whether the loop should stop.
func (c *ReplCommand) handle(env *gym.Env, line string, stdout io.Writer) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case ":quit", ":q":
		return true
	case ":help":
		_, _ = fmt.Fprintln(stdout, replHelp)
	case ":states":
		for _, sid := range env.StateIDs() {
			state, _ := env.Lookup(sid)
			printState(stdout, sid, state)
		}
	case ":reset":
		obs, info, err := env.Reset(nil)
		if err != nil {
			_, _ = fmt.Fprintf(stdout, "error: %v\n", err)
			return false
		}
		printState(stdout, info.SID, obs)
	case ":back":
		if arg == "" {
			_, _ = fmt.Fprintln(stdout, "usage: :back <sid>")
			return false
		}
		obs, info, err := env.Reset(&gym.ResetOptions{SID: prover.ParseStateID(arg)})
		if err != nil {
			_, _ = fmt.Fprintf(stdout, "error: %v\n", err)
			return false
		}
		if result, done := env.Result(); done && result.Truncated {
			_, _ = fmt.Fprintln(stdout, "prover failed; :reset to restart")
		}
		printState(stdout, info.SID, obs)
	default:
		if strings.HasPrefix(cmd, ":") {
			_, _ = fmt.Fprintf(stdout, "unknown command %s, try :help\n", cmd)
			return false
		}
		out := env.Step(line)
		switch {
		case out.Truncated:
			_, _ = fmt.Fprintln(stdout, "prover failed; :reset to restart")
			_, _ = fmt.Fprintln(stdout, out.Observation)
		case out.Reward == gym.RewardProved:
			_, _ = fmt.Fprintln(stdout, "proof complete")
		case out.Done:
			_, _ = fmt.Fprintf(stdout, "rejected: %s\n", out.Observation)
			_, _ = fmt.Fprintln(stdout, ":back <sid> to continue from a cached state")
		default:
			printState(stdout, env.Current().SID, out.Observation)
		}
	}
	return false
}

func printState(w io.Writer, sid prover.StateID, state string) {
	_, _ = fmt.Fprintf(w, "[%s]\n%s\n", sid, state)
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
