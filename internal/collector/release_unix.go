//go:build linux || darwin

package collector

import "golang.org/x/sys/unix"

func osRelease() string {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return ""
	}
	return unix.ByteSliceToString(uts.Release[:])
}
