package gym

import (
	"fmt"
	"os"
	"strings"
	"unicode"
)

// DefaultEntryTactic hands control from the elaborator to the REPL.
const DefaultEntryTactic = "lean_dojo_repl"

// NormalizeTheorem turns a theorem statement into the form "<statement> :=",
// dropping a trailing "sorry" and "by" so a proof can be attached.
func NormalizeTheorem(theorem string) string {
	theorem = strings.TrimSpace(theorem)
	theorem = trimWord(theorem, "sorry")
	theorem = trimWord(theorem, "by")
	if !strings.HasSuffix(theorem, ":=") {
		theorem += " :="
	}
	return theorem
}

// trimWord removes word from the end of s when it is a whole token.
func trimWord(s, word string) string {
	if !strings.HasSuffix(s, word) {
		return s
	}
	rest := s[:len(s)-len(word)]
	if rest != "" && !strings.HasSuffix(rest, "=") && !unicode.IsSpace(lastRune(rest)) {
		return s
	}
	return strings.TrimSpace(rest)
}

func lastRune(s string) rune {
	r := []rune(s)
	return r[len(r)-1]
}

// RenderSource builds the Lean file that opens the REPL on the theorem. The
// theorem must already be normalized.
func RenderSource(header, theorem, entryTactic string) string {
	if entryTactic == "" {
		entryTactic = DefaultEntryTactic
	}
	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n\n")
	b.WriteString(theorem)
	b.WriteString(" by\n  ")
	b.WriteString(entryTactic)
	b.WriteString("\n  sorry\n\n")
	return b.String()
}

// writeSource writes source to a new temporary .lean file in dir.
func writeSource(dir, source string) (string, error) {
	f, err := os.CreateTemp(dir, "leangym-*.lean")
	if err != nil {
		return "", fmt.Errorf("failed to create lean file: %w", err)
	}
	if _, err := f.WriteString(source); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to write lean file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to close lean file: %w", err)
	}
	return f.Name(), nil
}
