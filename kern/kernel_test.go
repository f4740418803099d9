package kern

import (
	"errors"
	"path/filepath"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/vmswap/config"
	"github.com/sarchlab/vmswap/loader"
	"github.com/sarchlab/vmswap/mem/vm"
	"github.com/sarchlab/vmswap/recording"
	"github.com/sirupsen/logrus"
)

func program() *loader.Image {
	return &loader.Image{
		Entry: 0x400000,
		Segments: []loader.Segment{
			{
				Vaddr:      0x400000,
				Memsz:      0x1000,
				Data:       []byte{0x90, 0xc3},
				Readable:   true,
				Executable: true,
			},
			{
				Vaddr:    0x600000,
				Memsz:    0x3000,
				Data:     []byte("hello"),
				Readable: true,
				Writable: true,
			},
		},
	}
}

type brokenDevice struct {
	numBlocks int
}

func (d brokenDevice) NumBlocks() int { return d.numBlocks }

func (d brokenDevice) ReadBlock(int, []byte) error {
	return errors.New("read error")
}

func (d brokenDevice) WriteBlock(int, []byte) error {
	return errors.New("write error")
}

var _ = Describe("Kernel", func() {
	var (
		logger  *logrus.Logger
		cfg     config.Config
		counter *recording.Counter
		k       *Kernel
	)

	BeforeEach(func() {
		logger = logrus.New()
		logger.SetOutput(GinkgoWriter)

		cfg = config.Default()
		cfg.RAMPages = 12
		cfg.KernelPages = 4
		cfg.SwapSlots = 64
		cfg.VictimPolicy = "fifo"

		counter = recording.NewCounter()

		var err error
		k, err = MakeBuilder().
			WithConfig(cfg).
			WithLogger(logger).
			WithHook(counter).
			Build()
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(k.Shutdown()).To(Succeed())
	})

	It("should give the frame allocator what the kernel did not take", func() {
		Expect(k.Frames.NumFrames()).To(Equal(8))
	})

	It("should start programs", func() {
		p, err := k.Spawn(program())
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Entry).To(Equal(uint64(0x400000)))
		Expect(p.SP).To(Equal(vm.UserStackTop))

		data, err := k.Load(p, 0x600000, 5)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("hello"))
		Expect(k.Exec(p, p.Entry)).To(Succeed())

		err = k.Store(p, 0x400000, []byte{0})
		Expect(errors.Is(err, vm.ErrProtectionFault)).To(BeTrue())
		Expect(p.State).To(Equal(StateKilled))
		Expect(errors.Is(p.Cause, vm.ErrProtectionFault)).To(BeTrue())

		_, err = k.Load(p, 0x600000, 1)
		Expect(err).To(MatchError(ErrNoProcess))
	})

	It("should kill processes that touch unmapped memory", func() {
		p, _ := k.Spawn(program())

		_, err := k.Load(p, 0x10, 1)

		Expect(errors.Is(err, vm.ErrSegmentationFault)).To(BeTrue())
		Expect(p.State).To(Equal(StateKilled))
		Expect(k.Frames.NumFree()).To(Equal(k.Frames.NumFrames()))
	})

	It("should fork processes with private memory", func() {
		parent, _ := k.Spawn(program())
		Expect(k.Switch(parent)).To(Succeed())

		child, err := k.Fork(parent)
		Expect(err).NotTo(HaveOccurred())
		Expect(child.Parent).To(Equal(parent.PID))

		Expect(k.Store(child, 0x600000, []byte("HELLO"))).To(Succeed())

		data, _ := k.Load(parent, 0x600000, 5)
		Expect(string(data)).To(Equal("hello"))
		data, _ = k.Load(child, 0x600000, 5)
		Expect(string(data)).To(Equal("HELLO"))

		Expect(counter.Count(vm.HookPosCopy)).To(BeNumerically(">", 0))
	})

	It("should report the status of processes ending concurrently", func() {
		var procs []*Process
		for i := 0; i < 3; i++ {
			p, err := k.Spawn(program())
			Expect(err).NotTo(HaveOccurred())
			procs = append(procs, p)
		}

		done := make(chan struct{})
		go func() {
			defer GinkgoRecover()
			defer close(done)

			for i, p := range procs {
				Expect(k.Exit(p, i)).To(Succeed())
			}
		}()

		for running := len(procs); running > 0; {
			running = 0
			for _, p := range k.Processes() {
				if k.Status(p).State == StateRunning {
					running++
				}
			}
		}

		<-done

		for i, p := range procs {
			Expect(k.Status(p)).To(Equal(Status{
				State:    StateExited,
				ExitCode: i,
			}))
		}
	})

	It("should reject reads of negative length", func() {
		p, _ := k.Spawn(program())

		_, err := k.Load(p, 0x600000, -1)

		Expect(errors.Is(err, vm.ErrInvalidRegion)).To(BeTrue())
		Expect(k.Status(p).State).To(Equal(StateRunning))
	})

	It("should release memory on exit", func() {
		p, _ := k.Spawn(program())
		_, err := k.Sbrk(p, 4*int64(vm.PageSize))
		Expect(err).NotTo(HaveOccurred())
		for i := uint64(0); i < 4; i++ {
			Expect(k.Store(p, 0x603000+i*vm.PageSize, []byte{1})).To(Succeed())
		}

		Expect(k.Switch(p)).To(Succeed())
		Expect(k.Exit(p, 3)).To(Succeed())

		Expect(p.State).To(Equal(StateExited))
		Expect(p.ExitCode).To(Equal(3))
		Expect(k.Current()).To(BeNil())
		Expect(k.Frames.NumFree()).To(Equal(k.Frames.NumFrames()))
		Expect(k.Swap.NumFree()).To(Equal(k.Swap.NumSlots()))
		Expect(k.Exit(p, 0)).To(MatchError(ErrNoProcess))
	})

	It("should keep many processes running on little memory", func() {
		var procs []*Process
		for i := 0; i < 4; i++ {
			p, err := k.Spawn(program())
			Expect(err).NotTo(HaveOccurred())
			procs = append(procs, p)
		}

		var wg sync.WaitGroup
		for i, p := range procs {
			wg.Add(1)

			go func(i int, p *Process) {
				defer GinkgoRecover()
				defer wg.Done()

				for page := uint64(0); page < 3; page++ {
					va := 0x600000 + page*vm.PageSize + 8
					Expect(k.Store(p, va, []byte{byte(i), byte(page)})).
						To(Succeed())
				}

				for page := uint64(0); page < 3; page++ {
					va := 0x600000 + page*vm.PageSize + 8
					data, err := k.Load(p, va, 2)
					Expect(err).NotTo(HaveOccurred())
					Expect(data).To(Equal([]byte{byte(i), byte(page)}))
				}
			}(i, p)
		}

		wg.Wait()

		Expect(k.Frames.Stats().Evictions).To(BeNumerically(">", 0))
		Expect(counter.Count(vm.HookPosEvict)).
			To(Equal(k.Frames.Stats().Evictions))
	})

	It("should back swap with a file", func() {
		cfg.SwapFile = filepath.Join(GinkgoT().TempDir(), "swap")
		cfg.RAMPages = 8
		fk, err := MakeBuilder().WithConfig(cfg).WithLogger(logger).Build()
		Expect(err).NotTo(HaveOccurred())

		p, _ := fk.Spawn(program())
		for i := uint64(0); i < 3; i++ {
			Expect(fk.Store(p, 0x600000+i*vm.PageSize, []byte{byte(i)})).
				To(Succeed())
		}

		q, _ := fk.Spawn(program())
		for i := uint64(0); i < 3; i++ {
			Expect(fk.Store(q, 0x600000+i*vm.PageSize, []byte{byte(i)})).
				To(Succeed())
		}

		data, err := fk.Load(p, 0x600000, 5)
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(Equal([]byte{0, 'e', 'l', 'l', 'o'}))

		Expect(fk.Shutdown()).To(Succeed())
	})

	It("should halt on backing store failures", func() {
		var fatal error
		cfg.SwapSlots = 8
		bk, err := MakeBuilder().
			WithConfig(cfg).
			WithLogger(logger).
			WithSwapDevice(brokenDevice{numBlocks: 8}).
			WithFatalHandler(func(err error) { fatal = err }).
			Build()
		Expect(err).NotTo(HaveOccurred())

		p, _ := bk.Spawn(program())
		heap, err := bk.Sbrk(p, 8*int64(vm.PageSize))
		Expect(err).NotTo(HaveOccurred())

		for i := uint64(0); i < 8 && fatal == nil; i++ {
			_ = bk.Store(p, heap+i*vm.PageSize, []byte{1})
		}

		Expect(vm.IsFatal(fatal)).To(BeTrue())
		Expect(p.State).To(Equal(StateRunning))
	})
})
