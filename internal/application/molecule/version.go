package molecule

import (
	"fmt"
	"runtime"
	"strconv"

	"github.com/turtacn/molcore/internal/chemistry/handle"
	moltypes "github.com/turtacn/molcore/pkg/types/molecule"
)

// Version is the library version. Binaries override it with
// -ldflags "-X .../internal/application/molecule.Version=...".
var Version = "0.3.0"

// BoostVersion identifies the toolchain generation the on-disk formats were
// fixed against. It never changes at runtime.
const BoostVersion = "1_73"

// BuildInfo describes the running binary, e.g. "linux|amd64|go1.22.1|64-bit".
func BuildInfo() string {
	return fmt.Sprintf("%s|%s|%s|%d-bit", runtime.GOOS, runtime.GOARCH, runtime.Version(), strconv.IntSize)
}

// VersionInfo collects every version string.
func VersionInfo() moltypes.VersionInfo {
	return moltypes.VersionInfo{
		Library:   Version,
		Toolchain: BoostVersion,
		Build:     BuildInfo(),
		Wire:      handle.WireVersion,
	}
}
