//go:build linux

package timesync

import (
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/papamarky/pi-camera-control/internal/apierr"
)

// linuxHostClock sets the system clock directly via Settimeofday rather
// than shelling out to `sudo date`/`timedatectl`, per spec §9's redesign
// note. The process needs CAP_SYS_TIME (or root) for this to succeed; the
// service is expected to run with that capability on the Pi.
type linuxHostClock struct{}

func NewHostClock() HostClock { return linuxHostClock{} }

func (linuxHostClock) SetSystemTime(t time.Time) error {
	tv := unix.NsecToTimeval(t.UnixNano())
	if err := unix.Settimeofday(&tv); err != nil {
		return apierr.New(component, "SetSystemTime", apierr.OperationFailed, "failed to set system clock", err)
	}
	return nil
}

func (linuxHostClock) SetTimezone(tz string) error {
	zoneFile := "/usr/share/zoneinfo/" + tz
	if _, err := os.Stat(zoneFile); err != nil {
		return apierr.New(component, "SetTimezone", apierr.ValidationFailed, "unknown timezone "+tz, err)
	}
	// /etc/localtime is conventionally a symlink to the zoneinfo file;
	// replacing it is how timedatectl itself applies a timezone change.
	const localtime = "/etc/localtime"
	os.Remove(localtime)
	if err := os.Symlink(zoneFile, localtime); err != nil {
		return apierr.New(component, "SetTimezone", apierr.OperationFailed, "failed to update /etc/localtime", err)
	}
	return os.WriteFile("/etc/timezone", []byte(tz+"\n"), 0644)
}
