package command

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeycumines/leangym/internal/config"
	"github.com/joeycumines/leangym/internal/gym"
	"github.com/joeycumines/leangym/internal/logging"
)

// logFlags are shared by the commands that start a prover.
type logFlags struct {
	file  string
	level string
}

func (f *logFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.file, "log-file", "", "Write JSON logs to this file (overrides log.file)")
	fs.StringVar(&f.level, "log-level", "", "Log level: debug, info, warn, error (overrides log.level)")
}

// setupLogging resolves the log options (flag, then config, then default),
// installs the logger as the slog default and returns a function restoring
// the previous default.
func setupLogging(flags logFlags, cfg *config.Config, stderr io.Writer) (*slog.Logger, func(), error) {
	schema := config.DefaultSchema()
	opts := logging.Options{
		Level:     flags.level,
		File:      flags.file,
		MaxSizeMB: schema.Int(cfg, config.KeyLogMaxSize),
		MaxFiles:  schema.Int(cfg, config.KeyLogMaxFiles),
		Stderr:    stderr,
	}
	if opts.Level == "" {
		opts.Level = schema.Resolve(cfg, config.KeyLogLevel)
	}
	if opts.File == "" {
		opts.File = expandHome(schema.Resolve(cfg, config.KeyLogFile))
	}

	logger, closer, err := logging.New(opts)
	if err != nil {
		return nil, nil, err
	}
	prev := slog.Default()
	slog.SetDefault(logger)
	return logger, func() {
		slog.SetDefault(prev)
		_ = closer.Close()
	}, nil
}

// envConfig builds the environment settings for command from the
// configuration, letting the command's section override global options.
func envConfig(cfg *config.Config, command string) (gym.Config, error) {
	schema := config.DefaultSchema()
	resolve := func(key string) string { return schema.ResolveCommand(cfg, command, key) }

	timeout := gym.DefaultTimeout
	if v := resolve(config.KeyTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return gym.Config{}, fmt.Errorf("invalid %s %q", config.KeyTimeout, v)
		}
		timeout = d
	}

	workDir := expandHome(resolve(config.KeyWorkDir))
	if workDir != "" {
		abs, err := filepath.Abs(workDir)
		if err != nil {
			return gym.Config{}, fmt.Errorf("invalid %s: %w", config.KeyWorkDir, err)
		}
		workDir = abs
	}

	return gym.Config{
		LakePath:    expandHome(resolve(config.KeyLakePath)),
		Prover:      resolve(config.KeyProver),
		WorkDir:     workDir,
		Timeout:     timeout,
		Prompt:      resolve(config.KeyPrompt),
		EntryTactic: resolve(config.KeyEntryTactic),
	}, nil
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok && path != "~" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}
