package prover

import (
	"os"
	"testing"

	"github.com/joeycumines/leangym/internal/testutil"
)

func TestMain(m *testing.M) {
	if testutil.IsHelper() {
		os.Exit(testutil.RunFakeREPL(os.Stdin, os.Stdout))
	}
	os.Exit(m.Run())
}
