package vm

import "github.com/pkg/errors"

var (
	// ErrOutOfMemory is returned when neither a frame nor a swap slot can
	// be found for a page, or when no more address spaces can be created.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrOverlap is returned when a region collides with an existing one.
	ErrOverlap = errors.New("region overlaps an existing region")

	// ErrSegmentationFault is returned for accesses outside every region.
	ErrSegmentationFault = errors.New("segmentation fault")

	// ErrProtectionFault is returned for accesses that violate the
	// permissions of their region.
	ErrProtectionFault = errors.New("protection fault")

	// ErrSwapExhausted is returned by the swap store when every slot is
	// occupied. It is a kind of ErrOutOfMemory.
	ErrSwapExhausted = errors.Wrap(ErrOutOfMemory, "swap store exhausted")

	// ErrBackingStore is returned when the swap device fails or returns
	// corrupted data. The kernel cannot recover from it.
	ErrBackingStore = errors.New("backing store failure")
)

// IsFatal reports whether the error leaves the kernel unable to guarantee
// correctness.
func IsFatal(err error) bool {
	return errors.Is(err, ErrBackingStore)
}

// KillsProcess reports whether the error terminates the process that
// caused it.
func KillsProcess(err error) bool {
	return errors.Is(err, ErrSegmentationFault) ||
		errors.Is(err, ErrProtectionFault) ||
		errors.Is(err, ErrOutOfMemory)
}
