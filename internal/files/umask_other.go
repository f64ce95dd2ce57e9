//go:build !unix

package files

// AllowGroupWrite is a no-op where there is no umask.
func AllowGroupWrite() {}
