package build

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain ensures no goroutines leak in any test in the build package.
// The scheduler spawns a plan executor per cycle and bounded compile
// workers, all of which must drain through Shutdown.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
