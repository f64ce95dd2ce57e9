//go:build unix

package files

import "golang.org/x/sys/unix"

// AllowGroupWrite clears the group read and write bits of the process umask,
// so files the release creates stay writable by the release group.
func AllowGroupWrite() {
	old := unix.Umask(0)
	unix.Umask(old &^ 0o060)
}
