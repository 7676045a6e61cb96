package host

import "sync"

// Platform is the capability handle for one hardware flavor. Detection runs
// once inside the factory; all methods answer from cached state and are safe
// for concurrent use.
type Platform interface {
	// Name identifies the platform flavor, e.g. "linux-x86" or "apple-silicon".
	Name() string

	// SystemInfo returns the detected hardware inventory.
	SystemInfo() *SystemInfo

	// CacheHierarchy returns the cache view for the given core class. On
	// uniform designs every class maps to the whole-chip view.
	CacheHierarchy(class AffinityClass) CacheHierarchy

	// MaxThreads reports how many hardware threads the class offers.
	MaxThreads(class AffinityClass) int

	// ValidateThreadCount rejects thread counts the class cannot serve,
	// including the global oversubscription ceiling for the default class.
	ValidateThreadCount(numThreads int, class AffinityClass) error

	// PinThread binds the calling OS thread to a core of the class. Callers
	// treat failures as advisory: the worker keeps running unpinned.
	PinThread(threadID int, class AffinityClass, totalThreads int) error

	// SupportsAffinity reports whether PinThread can actually bind threads
	// on this platform.
	SupportsAffinity() bool
}

// MaxThreadOversubscription bounds requested threads to a multiple of the
// hardware thread count for classes without their own core-count limit.
const MaxThreadOversubscription = 2

var (
	globalPlatform Platform
	platformOnce   sync.Once
	platformErr    error
)

// GetPlatform returns the process-wide platform handle, creating it on first
// call. Unsupported OS/architecture combinations fail here, not later.
func GetPlatform() (Platform, error) {
	platformOnce.Do(func() {
		globalPlatform, platformErr = NewPlatform()
	})
	return globalPlatform, platformErr
}

// NewPlatform builds a fresh platform handle for the current OS and
// architecture. Most callers want GetPlatform instead.
func NewPlatform() (Platform, error) {
	return newPlatform()
}
