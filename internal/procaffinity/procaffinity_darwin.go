//go:build darwin

package procaffinity

import "golang.org/x/sys/unix"

// SetThreadPriority renices the calling process. Darwin's setpriority has
// no per-thread equivalent to Linux's PRIO_PROCESS-with-tid trick, so this
// is a process-wide best-effort priority clamp rather than a true
// per-fiber one.
func SetThreadPriority(priority int) error {
	return unix.Setpriority(unix.PRIO_PROCESS, 0, clampPriority(priority))
}
