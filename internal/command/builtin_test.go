package command

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/leangym/internal/config"
)

func TestHelpCommand(t *testing.T) {
	r := NewRegistry()
	r.Register(NewHelpCommand(r))
	r.Register(NewRunCommand(config.NewConfig()))
	r.Register(NewVersionCommand("1.2.3"))

	var stdout bytes.Buffer
	require.NoError(t, r.Run([]string{"help"}, &stdout, io.Discard))
	assert.Contains(t, stdout.String(), "Replay a scripted episode")
	assert.Contains(t, stdout.String(), "Display version information")

	stdout.Reset()
	require.NoError(t, r.Run([]string{"help", "run"}, &stdout, io.Discard))
	assert.Contains(t, stdout.String(), "Usage: leangym run [-o transcript.json]")
	assert.Contains(t, stdout.String(), "-metrics-file")
	assert.Contains(t, stdout.String(), "-log-level")

	assert.Error(t, r.Run([]string{"help", "missing"}, io.Discard, io.Discard))
}

func TestVersionCommand(t *testing.T) {
	var stdout bytes.Buffer
	cmd := NewVersionCommand("1.2.3")
	require.NoError(t, cmd.Execute(nil, &stdout, io.Discard))
	assert.Equal(t, "leangym version 1.2.3\n", stdout.String())
	assert.Error(t, cmd.Execute([]string{"x"}, io.Discard, io.Discard))
}

func TestConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	cfg := config.NewConfig()
	cfg.SetCommandOption("run", config.KeyOutput, "out.json")
	cmd := NewConfigCommand(cfg, path)

	run := func(args ...string) (string, error) {
		var stdout bytes.Buffer
		err := cmd.Execute(args, &stdout, io.Discard)
		return stdout.String(), err
	}

	out, err := run("timeout")
	require.NoError(t, err)
	assert.Equal(t, "timeout: 600s\n", out)

	out, err = run("timeout", "30s")
	require.NoError(t, err)
	assert.Equal(t, "Set configuration: timeout = 30s\n", out)
	persisted, err := config.LoadFromPath(path)
	require.NoError(t, err)
	v, _ := persisted.GetGlobalOption("timeout")
	assert.Equal(t, "30s", v)

	out, _ = run("timeout")
	assert.Equal(t, "timeout: 30s\n", out)

	out, _ = run("nonsense")
	assert.Contains(t, out, "not found")

	out, err = run("validate")
	require.NoError(t, err)
	assert.Equal(t, "Configuration is valid.\n", out)

	cfg.SetGlobalOption("timeout", "later")
	out, err = run("validate")
	assert.Error(t, err)
	assert.Contains(t, out, `global option "timeout": expected duration`)

	out, _ = run("schema")
	assert.Contains(t, out, "lake.path")

	cmd.showAll = true
	out, _ = run()
	assert.Contains(t, out, "timeout: later")
	assert.Contains(t, out, "[run]\n  output: out.json")

	_, err = run("a", "b", "c")
	assert.Error(t, err)
}

func TestInitCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config")
	cmd := NewInitCommand(path)

	var stdout bytes.Buffer
	require.NoError(t, cmd.Execute(nil, &stdout, io.Discard))
	assert.Contains(t, stdout.String(), "Initialized leangym configuration")

	cfg, err := config.LoadFromPath(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Warnings, "the starter file must validate")
	v, _ := cfg.GetGlobalOption("timeout")
	assert.Equal(t, "600s", v)

	require.NoError(t, os.WriteFile(path, []byte("prover custom\n"), 0644))
	stdout.Reset()
	require.NoError(t, cmd.Execute(nil, &stdout, io.Discard))
	assert.Contains(t, stdout.String(), "already exists")
	data, _ := os.ReadFile(path)
	assert.Equal(t, "prover custom\n", string(data))

	cmd.force = true
	require.NoError(t, cmd.Execute(nil, io.Discard, io.Discard))
	data, _ = os.ReadFile(path)
	assert.Contains(t, string(data), "# leangym configuration")
}
