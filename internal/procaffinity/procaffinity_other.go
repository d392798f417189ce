//go:build !linux && !darwin

package procaffinity

// SetThreadPriority is a no-op on platforms without a native thread/process
// priority primitive wired up (spec doc.go "Platform support": the same
// per-OS split the teacher event loop used for its I/O poller).
func SetThreadPriority(priority int) error {
	return nil
}
