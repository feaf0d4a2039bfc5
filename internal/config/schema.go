package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// OptionType is the expected type of an option value.
type OptionType string

const (
	TypeString   OptionType = "string"
	TypeBool     OptionType = "bool"
	TypeInt      OptionType = "int"
	TypeDuration OptionType = "duration"
	// TypeLevel is a log level: debug, info, warn or error.
	TypeLevel OptionType = "level"
)

// Option declares one configuration key.
type Option struct {
	Key         string
	Type        OptionType
	Default     string
	Description string
	// Section is empty for global options.
	Section string
	// EnvVar, when set, overrides the file value.
	EnvVar string
}

// Schema is the set of known options.
type Schema struct {
	options []Option
	index   map[string]map[string]int
}

// NewSchema returns an empty schema.
func NewSchema() *Schema {
	return &Schema{index: make(map[string]map[string]int)}
}

// Register adds opt, replacing an earlier option with the same section and
// key.
func (s *Schema) Register(opts ...Option) {
	for _, opt := range opts {
		keys := s.index[opt.Section]
		if keys == nil {
			keys = make(map[string]int)
			s.index[opt.Section] = keys
		}
		if i, ok := keys[opt.Key]; ok {
			s.options[i] = opt
			continue
		}
		keys[opt.Key] = len(s.options)
		s.options = append(s.options, opt)
	}
}

// Lookup returns the option for key in section ("" for global).
func (s *Schema) Lookup(section, key string) (Option, bool) {
	i, ok := s.index[section][key]
	if !ok {
		return Option{}, false
	}
	return s.options[i], true
}

// lookupWithFallback resolves key in section, then globally.
func (s *Schema) lookupWithFallback(section, key string) (Option, bool) {
	if opt, ok := s.Lookup(section, key); ok {
		return opt, true
	}
	return s.Lookup("", key)
}

// Options returns the options of section in registration order.
func (s *Schema) Options(section string) []Option {
	var out []Option
	for _, o := range s.options {
		if o.Section == section {
			out = append(out, o)
		}
	}
	return out
}

// Sections returns the non-global section names, sorted.
func (s *Schema) Sections() []string {
	var out []string
	for sec := range s.index {
		if sec != "" {
			out = append(out, sec)
		}
	}
	slices.Sort(out)
	return out
}

// Resolve returns the effective value of a global key: its environment
// variable, then the file, then the default.
func (s *Schema) Resolve(c *Config, key string) string {
	opt, known := s.Lookup("", key)
	if known && opt.EnvVar != "" {
		if v, ok := os.LookupEnv(opt.EnvVar); ok {
			return v
		}
	}
	if v, ok := c.GetGlobalOption(key); ok {
		return v
	}
	return opt.Default
}

// ResolveCommand is Resolve for an option read by command, where the
// command's section takes precedence over the global value.
func (s *Schema) ResolveCommand(c *Config, command, key string) string {
	opt, known := s.lookupWithFallback(command, key)
	if known && opt.EnvVar != "" {
		if v, ok := os.LookupEnv(opt.EnvVar); ok {
			return v
		}
	}
	if v, ok := c.GetCommandOption(command, key); ok {
		return v
	}
	return opt.Default
}

// Int resolves key as an integer, falling back to the default when the
// configured value is malformed.
func (s *Schema) Int(c *Config, key string) int {
	if n, err := strconv.Atoi(s.Resolve(c, key)); err == nil {
		return n
	}
	opt, _ := s.Lookup("", key)
	n, _ := strconv.Atoi(opt.Default)
	return n
}

// Duration resolves key and parses it, falling back to the default when the
// configured value is malformed.
func (s *Schema) Duration(c *Config, key string) time.Duration {
	if d, err := time.ParseDuration(s.Resolve(c, key)); err == nil {
		return d
	}
	opt, _ := s.Lookup("", key)
	d, _ := time.ParseDuration(opt.Default)
	return d
}

// ValidateConfig reports unknown keys and values of the wrong type, sorted.
func ValidateConfig(c *Config, s *Schema) []string {
	var issues []string
	for key, value := range c.Global {
		opt, ok := s.Lookup("", key)
		if !ok {
			issues = append(issues, fmt.Sprintf("unknown global option: %q (value: %q)", key, value))
			continue
		}
		if err := validateType(opt.Type, value); err != nil {
			issues = append(issues, fmt.Sprintf("global option %q: %v", key, err))
		}
	}
	for section, values := range c.Commands {
		for key, value := range values {
			opt, ok := s.lookupWithFallback(section, key)
			if !ok {
				issues = append(issues, fmt.Sprintf("unknown option for command %q: %q (value: %q)", section, key, value))
				continue
			}
			if err := validateType(opt.Type, value); err != nil {
				issues = append(issues, fmt.Sprintf("option %q in [%s]: %v", key, section, err))
			}
		}
	}
	slices.Sort(issues)
	return issues
}

func validateType(t OptionType, value string) error {
	switch t {
	case TypeString, "":
		return nil
	case TypeBool:
		if _, err := parseBool(value); err != nil {
			return fmt.Errorf("expected bool, got %q", value)
		}
	case TypeInt:
		if _, err := strconv.Atoi(value); err != nil {
			return fmt.Errorf("expected int, got %q", value)
		}
	case TypeDuration:
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("expected duration, got %q", value)
		}
		if d <= 0 {
			return fmt.Errorf("expected positive duration, got %q", value)
		}
	case TypeLevel:
		switch strings.ToLower(value) {
		case "debug", "info", "warn", "warning", "error":
		default:
			return fmt.Errorf("expected debug, info, warn or error, got %q", value)
		}
	default:
		return fmt.Errorf("unknown option type %q", t)
	}
	return nil
}

// FormatHelp renders the schema for the "config schema" command.
func (s *Schema) FormatHelp() string {
	var b strings.Builder
	if globals := s.Options(""); len(globals) > 0 {
		b.WriteString("Global Options:\n")
		for _, o := range globals {
			writeOptionHelp(&b, o)
		}
	}
	for _, sec := range s.Sections() {
		fmt.Fprintf(&b, "\n[%s] Options:\n", sec)
		for _, o := range s.Options(sec) {
			writeOptionHelp(&b, o)
		}
	}
	return b.String()
}

func writeOptionHelp(b *strings.Builder, o Option) {
	fmt.Fprintf(b, "  %-20s %s", o.Key, o.Description)
	var parts []string
	if o.Type != "" && o.Type != TypeString {
		parts = append(parts, "type: "+string(o.Type))
	}
	if o.Default != "" {
		parts = append(parts, "default: "+o.Default)
	}
	if o.EnvVar != "" {
		parts = append(parts, "env: "+o.EnvVar)
	}
	if len(parts) > 0 {
		fmt.Fprintf(b, " (%s)", strings.Join(parts, ", "))
	}
	b.WriteString("\n")
}

// Keys read by the commands.
const (
	KeyLakePath    = "lake.path"
	KeyProver      = "prover"
	KeyWorkDir     = "workdir"
	KeyTimeout     = "timeout"
	KeyPrompt      = "prompt"
	KeyEntryTactic = "entry-tactic"
	KeyLogFile     = "log.file"
	KeyLogLevel    = "log.level"
	KeyLogMaxSize  = "log.max-size-mb"
	KeyLogMaxFiles = "log.max-files"
	KeyMetricsFile = "metrics.file"
	KeyOutput      = "output"
	KeyHeader      = "header"
	KeyHistory     = "history"
)

// DefaultSchema declares every option leangym understands.
func DefaultSchema() *Schema {
	s := NewSchema()
	s.Register(
		Option{Key: KeyLakePath, Description: "Path to the lake binary", Default: "~/.elan/bin/lake", EnvVar: "LEANGYM_LAKE_PATH"},
		Option{Key: KeyProver, Description: "Executable run by lake env", Default: "lean"},
		Option{Key: KeyWorkDir, Description: "Lean project directory the prover runs in", EnvVar: "LEANGYM_WORKDIR"},
		Option{Key: KeyTimeout, Type: TypeDuration, Default: "600s", Description: "Time allowed for each prover response"},
		Option{Key: KeyPrompt, Default: "REPL>", Description: "Marker preceding each response payload"},
		Option{Key: KeyEntryTactic, Default: "lean_dojo_repl", Description: "Tactic that opens the REPL"},
		Option{Key: KeyLogFile, Description: "Write JSON logs to this file instead of stderr", EnvVar: "LEANGYM_LOG_FILE"},
		Option{Key: KeyLogLevel, Type: TypeLevel, Default: "info", Description: "Log level", EnvVar: "LEANGYM_LOG_LEVEL"},
		Option{Key: KeyLogMaxSize, Type: TypeInt, Default: "10", Description: "Rotate the log file once it reaches this size"},
		Option{Key: KeyLogMaxFiles, Type: TypeInt, Default: "5", Description: "Rotated log files to keep"},
		Option{Key: KeyMetricsFile, Description: "Write Prometheus metrics to this file on exit"},

		Option{Key: KeyOutput, Section: "run", Description: "Write the episode transcript to this file"},
		Option{Key: KeyHeader, Section: "repl", Description: "File whose contents precede the theorem"},
		Option{Key: KeyHistory, Section: "repl", Description: "File that keeps interactive input history (empty disables it)"},
	)
	return s
}
