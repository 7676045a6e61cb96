//go:build !linux && !darwin

package host

import (
	"fmt"
	"runtime"
)

func newPlatform() (Platform, error) {
	return nil, fmt.Errorf("%w: unsupported platform %s/%s", ErrPlatform, runtime.GOOS, runtime.GOARCH)
}
