package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}

func TestSetKeyInFile(t *testing.T) {
	tests := []struct {
		name    string
		initial string
		key     string
		value   string
		want    string
	}{
		{
			name:  "new file",
			key:   "prover",
			value: "lean",
			want:  "prover lean\n",
		},
		{
			name:    "append global",
			initial: "# settings\ntimeout 30s\n",
			key:     "prover",
			value:   "lean",
			want:    "# settings\ntimeout 30s\nprover lean\n",
		},
		{
			name:    "replace in place",
			initial: "timeout 30s\n# keep me\nprover lean\n",
			key:     "timeout",
			value:   "1m",
			want:    "timeout 1m\n# keep me\nprover lean\n",
		},
		{
			name:    "insert before first section",
			initial: "timeout 30s\n[run]\nprover ignored\n",
			key:     "prover",
			value:   "lean4",
			want:    "timeout 30s\nprover lean4\n[run]\nprover ignored\n",
		},
		{
			name:    "empty value",
			initial: "header x\n",
			key:     "header",
			want:    "header\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "sub", "config")
			if tt.initial != "" {
				if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
					t.Fatal(err)
				}
				if err := os.WriteFile(path, []byte(tt.initial), 0644); err != nil {
					t.Fatal(err)
				}
			}
			if err := SetKeyInFile(path, tt.key, tt.value); err != nil {
				t.Fatalf("SetKeyInFile failed: %v", err)
			}
			if got := readFile(t, path); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSetKeyInFileConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	keys := []string{"prover", "timeout", "prompt", "workdir", "entry-tactic", "metrics.file"}

	var wg sync.WaitGroup
	for _, key := range keys {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := SetKeyInFile(path, key, "x"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range keys {
		if _, ok := cfg.GetGlobalOption(key); !ok {
			t.Errorf("update to %q was lost:\n%s", key, readFile(t, path))
		}
	}
}
