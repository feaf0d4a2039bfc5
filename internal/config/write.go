package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeycumines/leangym/internal/storage"
)

// SetKeyInFile sets a global option in the file at path, keeping comments and
// sections intact. An existing global line for key is replaced in place;
// otherwise the option is inserted before the first section header. Options
// inside sections are never touched. Concurrent writers are serialized.
func SetKeyInFile(path, key, value string) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	lock, err := storage.Lock(path)
	if err != nil {
		return err
	}
	defer func() {
		if unlockErr := lock.Unlock(); err == nil {
			err = unlockErr
		}
	}()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading config file: %w", err)
	}

	newLine := strings.TrimSpace(key + " " + value)
	lines := setGlobalLine(splitLines(string(data)), key, newLine)

	return storage.AtomicWriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644)
}

func splitLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func setGlobalLine(lines []string, key, newLine string) []string {
	insert := len(lines)
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			insert = i
			break
		}
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if name, _, _ := strings.Cut(trimmed, " "); name == key {
			lines[i] = newLine
			return lines
		}
	}
	return append(lines[:insert], append([]string{newLine}, lines[insert:]...)...)
}
