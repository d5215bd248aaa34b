package timesync

import (
	"time"

	"github.com/papamarky/pi-camera-control/internal/apierr"
)

// HostClock abstracts the privileged OS calls needed to move the host's
// wall clock and timezone, replacing the source's shelled-out `sudo date`
// / `timedatectl` invocations with two typed methods (spec §9 design
// note). Linux gets a real implementation in hostclock_linux.go; other
// GOOS values get the stub in hostclock_other.go so callers never branch
// on runtime.GOOS themselves.
type HostClock interface {
	SetSystemTime(t time.Time) error
	SetTimezone(tz string) error
}

// ErrUnsupportedPlatform is returned by the non-Linux HostClock stub.
var ErrUnsupportedPlatform = apierr.New(component, "HostClock", apierr.OperationFailed, "host clock control is not supported on this platform", nil)
