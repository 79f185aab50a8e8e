package tests

import (
	"os"
	"testing"

	"github.com/trezcool/tathmini/core"
)

func TestMain(m *testing.M) {
	// deterministic error payloads (the error handler echoes raw errors in debug)
	core.Conf.Debug = false
	core.Conf.TestMode = true

	os.Exit(m.Run())
}
