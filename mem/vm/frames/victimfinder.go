package frames

import "github.com/sarchlab/vmswap/mem/vm"

// A VictimFinder decides which frame should be evicted when no frame is
// free. All methods are called with the allocator lock held.
type VictimFinder interface {
	// FindVictim returns a frame for which evictable returns true.
	FindVictim(numFrames int, evictable func(vm.FrameID) bool) (vm.FrameID, bool)

	// Installed is called when a frame receives a new page.
	Installed(frame vm.FrameID)

	// Accessed is called when the page in a frame is touched.
	Accessed(frame vm.FrameID)
}

// ClockVictimFinder gives every frame a second chance: a frame touched
// since the hand last passed it is skipped once.
type ClockVictimFinder struct {
	hand       int
	referenced []bool
}

// NewClockVictimFinder returns a newly constructed clock victim finder.
func NewClockVictimFinder() *ClockVictimFinder {
	return &ClockVictimFinder{}
}

func (e *ClockVictimFinder) grow(n int) {
	if len(e.referenced) < n {
		e.referenced = append(e.referenced, make([]bool, n-len(e.referenced))...)
	}
}

// FindVictim sweeps the clock hand at most twice around the frames.
func (e *ClockVictimFinder) FindVictim(
	numFrames int,
	evictable func(vm.FrameID) bool,
) (vm.FrameID, bool) {
	if numFrames == 0 {
		return vm.InvalidFrame, false
	}

	e.grow(numFrames)

	for i := 0; i < 2*numFrames; i++ {
		frame := vm.FrameID(e.hand)
		e.hand = (e.hand + 1) % numFrames

		if !evictable(frame) {
			continue
		}

		if e.referenced[frame] {
			e.referenced[frame] = false
			continue
		}

		return frame, true
	}

	return vm.InvalidFrame, false
}

// Installed marks the frame as referenced.
func (e *ClockVictimFinder) Installed(frame vm.FrameID) {
	e.grow(int(frame) + 1)
	e.referenced[frame] = true
}

// Accessed marks the frame as referenced.
func (e *ClockVictimFinder) Accessed(frame vm.FrameID) {
	e.grow(int(frame) + 1)
	e.referenced[frame] = true
}

// FIFOVictimFinder evicts the frame whose page was installed first.
type FIFOVictimFinder struct {
	clock     uint64
	installed []uint64
}

// NewFIFOVictimFinder returns a newly constructed FIFO victim finder.
func NewFIFOVictimFinder() *FIFOVictimFinder {
	return &FIFOVictimFinder{}
}

// FindVictim returns the evictable frame installed the longest time ago.
// Ties go to the lowest frame number.
func (e *FIFOVictimFinder) FindVictim(
	numFrames int,
	evictable func(vm.FrameID) bool,
) (vm.FrameID, bool) {
	victim := vm.InvalidFrame
	oldest := ^uint64(0)

	for i := 0; i < numFrames; i++ {
		frame := vm.FrameID(i)
		if !evictable(frame) {
			continue
		}

		stamp := uint64(0)
		if i < len(e.installed) {
			stamp = e.installed[i]
		}

		if stamp < oldest {
			oldest = stamp
			victim = frame
		}
	}

	return victim, victim != vm.InvalidFrame
}

// Installed records the installation time of the frame.
func (e *FIFOVictimFinder) Installed(frame vm.FrameID) {
	if int(frame) >= len(e.installed) {
		e.installed = append(e.installed,
			make([]uint64, int(frame)+1-len(e.installed))...)
	}

	e.clock++
	e.installed[frame] = e.clock
}

// Accessed does nothing; FIFO ignores accesses.
func (e *FIFOVictimFinder) Accessed(vm.FrameID) {}

// NewVictimFinder creates a victim finder by policy name. Unknown names
// fall back to the clock policy.
func NewVictimFinder(policy string) VictimFinder {
	switch policy {
	case "fifo":
		return NewFIFOVictimFinder()
	default:
		return NewClockVictimFinder()
	}
}
