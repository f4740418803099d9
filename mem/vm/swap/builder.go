package swap

import (
	"github.com/sirupsen/logrus"
)

// A Builder can build swap stores.
type Builder struct {
	device   Device
	numSlots int
	log      logrus.FieldLogger
}

// MakeBuilder creates a new builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		numSlots: 1024,
		log:      logrus.StandardLogger(),
	}
}

// WithDevice sets the device that stores the slots. If no device is given,
// an in-memory device is created.
func (b Builder) WithDevice(d Device) Builder {
	b.device = d
	return b
}

// WithNumSlots sets the number of slots. It is ignored when a device is
// given; the device size decides.
func (b Builder) WithNumSlots(n int) Builder {
	b.numSlots = n
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(l logrus.FieldLogger) Builder {
	b.log = l
	return b
}

// Build creates a new swap store.
func (b Builder) Build() *Store {
	device := b.device
	if device == nil {
		device = NewMemDevice(b.numSlots)
	}

	s := &Store{
		device:  device,
		slots:   make([]*slot, device.NumBlocks()),
		numFree: device.NumBlocks(),
		log:     b.log,
	}

	for i := range s.slots {
		s.slots[i] = &slot{}
	}

	return s
}
