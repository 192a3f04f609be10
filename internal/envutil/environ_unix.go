//go:build aix || darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris

package envutil

import "golang.org/x/sys/unix"

// Environ returns a copy of the process environment as KEY=VALUE strings.
func Environ() []string {
	return unix.Environ()
}
