//go:build !linux

package camera

import (
	"fmt"
	"log/slog"
	"runtime"
)

func openV4L2(s Settings, log *slog.Logger) (Camera, error) {
	return nil, fmt.Errorf("%w: v4l2 is only available on linux, not %s", ErrUnsupportedBackend, runtime.GOOS)
}
