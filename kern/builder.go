package kern

import (
	"io"

	"github.com/pkg/errors"
	"github.com/sarchlab/vmswap/config"
	"github.com/sarchlab/vmswap/hooking"
	"github.com/sarchlab/vmswap/idgen"
	"github.com/sarchlab/vmswap/mem/vm"
	"github.com/sarchlab/vmswap/mem/vm/addrspace"
	"github.com/sarchlab/vmswap/mem/vm/frames"
	"github.com/sarchlab/vmswap/mem/vm/swap"
	"github.com/sarchlab/vmswap/mem/vm/tlb"
	"github.com/sarchlab/vmswap/memory"
	"github.com/sirupsen/logrus"
	"github.com/tebeka/atexit"
)

// A Builder can boot kernels.
type Builder struct {
	cfg    config.Config
	log    logrus.FieldLogger
	fatal  func(error)
	hooks  []hooking.Hook
	device swap.Device
}

// MakeBuilder creates a builder with the default configuration.
func MakeBuilder() Builder {
	return Builder{
		cfg: config.Default(),
		log: logrus.StandardLogger(),
	}
}

// WithConfig sets the configuration.
func (b Builder) WithConfig(c config.Config) Builder {
	b.cfg = c
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(l logrus.FieldLogger) Builder {
	b.log = l
	return b
}

// WithFatalHandler sets the function called when the backing store fails.
// By default the error is logged and the program exits.
func (b Builder) WithFatalHandler(f func(error)) Builder {
	b.fatal = f
	return b
}

// WithSwapDevice sets the device of the swap store, overriding the swap file
// of the configuration.
func (b Builder) WithSwapDevice(d swap.Device) Builder {
	b.device = d
	return b
}

// WithHook attaches a hook to the frame allocator and to the address space
// manager.
func (b Builder) WithHook(h hooking.Hook) Builder {
	b.hooks = append(b.hooks, h)
	return b
}

// Build boots the kernel: the kernel takes its pages from RAM and the frame
// allocator manages the rest.
func (b Builder) Build() (*Kernel, error) {
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}

	k := &Kernel{
		log:   b.log,
		fatal: b.fatal,
		pids:  idgen.New(),
		procs: make(map[PID]*Process),
	}

	if k.fatal == nil {
		k.fatal = func(err error) {
			b.log.WithError(err).Error("backing store failure, halting")
			atexit.Exit(1)
		}
	}

	k.RAM = memory.NewRAM(uint64(b.cfg.RAMPages) << vm.Log2PageSize)
	if _, err := k.RAM.StealPages(b.cfg.KernelPages); err != nil {
		return nil, errors.Wrap(err, "reserve kernel pages")
	}

	device, closer, err := b.buildDevice()
	if err != nil {
		return nil, err
	}

	if closer != nil {
		k.closers = append(k.closers, closer)
	}

	k.Swap = swap.MakeBuilder().
		WithDevice(device).
		WithNumSlots(b.cfg.SwapSlots).
		WithLogger(b.log).
		Build()

	k.Frames = frames.MakeBuilder().
		WithRAM(k.RAM).
		WithSwapStore(k.Swap).
		WithVictimFinder(frames.NewVictimFinder(b.cfg.VictimPolicy)).
		WithLogger(b.log).
		Build("Frames")

	k.TLB = tlb.MakeBuilder().
		WithNumSets(b.cfg.TLBSets).
		WithNumWays(b.cfg.TLBWays).
		Build("TLB")

	k.Spaces = addrspace.MakeBuilder().
		WithFrameAllocator(k.Frames).
		WithSwapStore(k.Swap).
		WithTLB(k.TLB).
		WithMaxSpaces(b.cfg.MaxProcesses).
		WithLogger(b.log).
		Build("AddressSpaces")

	for _, h := range b.hooks {
		k.Frames.AcceptHook(h)
		k.Spaces.AcceptHook(h)
	}

	b.log.WithFields(logrus.Fields{
		"frames":     k.Frames.NumFrames(),
		"swap_slots": k.Swap.NumSlots(),
		"policy":     b.cfg.VictimPolicy,
	}).Info("kernel booted")

	return k, nil
}

func (b Builder) buildDevice() (swap.Device, io.Closer, error) {
	if b.device != nil {
		return b.device, nil, nil
	}

	if b.cfg.SwapFile == "" {
		return swap.NewMemDevice(b.cfg.SwapSlots), nil, nil
	}

	d, err := swap.OpenFileDevice(b.cfg.SwapFile, b.cfg.SwapSlots)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open swap file")
	}

	return d, d, nil
}
