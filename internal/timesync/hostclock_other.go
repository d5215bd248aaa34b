//go:build !linux

package timesync

import "time"

type stubHostClock struct{}

func NewHostClock() HostClock { return stubHostClock{} }

func (stubHostClock) SetSystemTime(t time.Time) error { return ErrUnsupportedPlatform }
func (stubHostClock) SetTimezone(tz string) error     { return ErrUnsupportedPlatform }
