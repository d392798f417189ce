//go:build linux

package procaffinity

import "golang.org/x/sys/unix"

// SetThreadPriority renices the calling OS thread. The caller must already
// hold runtime.LockOSThread, since Setpriority(PRIO_PROCESS, Gettid(), ...)
// targets the specific kernel task backing the current goroutine, not the
// whole process.
func SetThreadPriority(priority int) error {
	return unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), clampPriority(priority))
}
