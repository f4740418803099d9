package vm

import "fmt"

// A Location tells where the content of a virtual page lives. It is either
// Resident or Swapped; no other implementation exists.
type Location interface {
	isLocation()
	fmt.Stringer
}

// Resident means the page is held by a physical frame.
type Resident struct {
	Frame FrameID
}

func (Resident) isLocation() {}

func (r Resident) String() string {
	return fmt.Sprintf("frame %d", r.Frame)
}

// Swapped means the page was evicted to a swap slot.
type Swapped struct {
	Slot SlotID
}

func (Swapped) isLocation() {}

func (s Swapped) String() string {
	return fmt.Sprintf("slot %d", s.Slot)
}
