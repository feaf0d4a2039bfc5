package testutil

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	// HelperModeEnv selects helper mode when a test binary re-execs itself.
	HelperModeEnv = "GO_TEST_MODE"
	// HelperModeREPL is the HelperModeEnv value that runs RunFakeREPL.
	HelperModeREPL = "helper"
	// FakeStartEnv selects how the fake REPL starts up.
	FakeStartEnv = "LEANGYM_FAKE_START"
)

// Startup behaviours for FakeStartEnv.
const (
	StartNormal  = ""
	StartGarbage = "garbage"
	StartSilent  = "silent"
	StartOOM     = "oom"
	StartExit    = "exit"
	StartEOF     = "eof"
)

// InitialState is the tactic state the fake REPL reports on startup.
const InitialState = "⊢ p ∧ q"

// HelperEnv returns the environment that makes a re-exec'd test binary run
// the fake REPL with the given startup behaviour.
func HelperEnv(start string) []string {
	return []string{HelperModeEnv + "=" + HelperModeREPL, FakeStartEnv + "=" + start}
}

// IsHelper reports whether the current process was started as a fake REPL.
func IsHelper() bool {
	return os.Getenv(HelperModeEnv) == HelperModeREPL
}

// RunFakeREPL emulates the prover REPL on in/out and returns the exit code.
//
// Commands:
//
//	done / trivial  proof complete
//	fail ...        rejected with an error
//	oom             exit 137
//	exit            exit 1
//	quit            exit 0 without output
//	hang            never answer
//	garbage         answer with a malformed payload
//	noisy ...       print two log lines before answering
//	anything else   a new state with two goals
func RunFakeREPL(in io.Reader, out io.Writer) int {
	switch os.Getenv(FakeStartEnv) {
	case StartGarbage:
		_, _ = fmt.Fprintln(out, "REPL> {not json")
	case StartSilent:
		time.Sleep(time.Hour)
		return 0
	case StartOOM:
		return 137
	case StartExit:
		return 3
	case StartEOF:
		return 0
	default:
		_, _ = fmt.Fprintln(out, "info: elaborating header")
		writeFrame(out, map[string]any{"sid": 0, "tacticState": InitialState, "error": nil})
	}

	next := 1
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		var req struct {
			SID json.RawMessage `json:"sid"`
			Cmd string          `json:"cmd"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			writeFrame(out, map[string]any{"sid": nil, "tacticState": nil, "error": "bad request: " + err.Error()})
			continue
		}

		cmd := strings.TrimSpace(req.Cmd)
		switch {
		case cmd == "done" || cmd == "trivial":
			writeFrame(out, map[string]any{"sid": next, "tacticState": "no goals", "error": nil})
			next++
		case strings.HasPrefix(cmd, "fail"):
			writeFrame(out, map[string]any{"sid": nil, "tacticState": nil, "error": "unknown tactic: " + cmd})
		case cmd == "oom":
			return 137
		case cmd == "exit":
			return 1
		case cmd == "quit":
			return 0
		case cmd == "hang":
			time.Sleep(time.Hour)
			return 0
		case cmd == "garbage":
			_, _ = fmt.Fprintln(out, "REPL> {\"sid\": ")
		default:
			if strings.HasPrefix(cmd, "noisy") {
				_, _ = fmt.Fprintln(out, "warning: a")
				_, _ = fmt.Fprintln(out, "warning: b")
			}
			state := fmt.Sprintf("2 goals\n⊢ %s from %s\n⊢ q", cmd, req.SID)
			writeFrame(out, map[string]any{"sid": next, "tacticState": state, "error": nil})
			next++
		}
	}
	return 0
}

func writeFrame(out io.Writer, v map[string]any) {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	_, _ = fmt.Fprintf(out, "REPL> %s\n", b)
}
