// Package procaffinity clamps a state-set fiber's OS thread priority,
// following the teacher event loop's per-OS poller split
// (poller_linux.go/poller_darwin.go/poller_windows.go): a real
// implementation for linux/darwin via golang.org/x/sys/unix in this
// file's platform-suffixed siblings, a no-op stub elsewhere.
package procaffinity

// clampPriority maps seqrt's [0,99] priority scale (spec "clamped to
// runtime ceiling") onto the kernel's nice range [-20,19] inverted, so a
// higher seqrt priority value means a lower (more favorable) nice value.
func clampPriority(priority int) int {
	if priority < 0 {
		priority = 0
	}
	if priority > 99 {
		priority = 99
	}
	return 19 - (priority * 39 / 99)
}
