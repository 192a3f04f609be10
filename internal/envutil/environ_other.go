//go:build !(aix || darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris)

package envutil

import "os"

// Environ returns a copy of the process environment as KEY=VALUE strings.
func Environ() []string {
	return os.Environ()
}
