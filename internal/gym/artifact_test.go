package gym

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTheorem(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare statement", "theorem foo : p", "theorem foo : p :="},
		{"already open", "theorem foo : p :=", "theorem foo : p :="},
		{"by sorry", "theorem foo : p := by sorry", "theorem foo : p :="},
		{"sorry", "theorem foo : p := sorry", "theorem foo : p :="},
		{"by", "theorem foo : p := by", "theorem foo : p :="},
		{"by without space", "theorem foo : p :=by", "theorem foo : p :="},
		{"surrounding whitespace", "  theorem foo : p := by\n  sorry\n", "theorem foo : p :="},
		{"word ending in by", "theorem foo : nearby", "theorem foo : nearby :="},
		{"word ending in sorry", "theorem foo : not_sorry", "theorem foo : not_sorry :="},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeTheorem(tt.in))
		})
	}
}

func TestRenderSource(t *testing.T) {
	got := RenderSource("import Mathlib", "theorem foo : p :=", "")
	want := "import Mathlib\n\ntheorem foo : p := by\n  lean_dojo_repl\n  sorry\n\n"
	assert.Equal(t, want, got)

	got = RenderSource("", "example : True :=", "my_repl")
	assert.Equal(t, "\n\nexample : True := by\n  my_repl\n  sorry\n\n", got)
}

func TestWriteSource(t *testing.T) {
	dir := t.TempDir()
	path, err := writeSource(dir, "example : True := trivial\n")
	require.NoError(t, err)

	assert.Equal(t, dir, filepath.Dir(path))
	assert.True(t, strings.HasSuffix(path, ".lean"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "example : True := trivial\n", string(data))

	other, err := writeSource(dir, "x")
	require.NoError(t, err)
	assert.NotEqual(t, path, other)
}

func TestWriteSource_MissingDir(t *testing.T) {
	_, err := writeSource(filepath.Join(t.TempDir(), "missing"), "x")
	assert.Error(t, err)
}
