package workload

import (
	"bytes"
	"errors"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/vmswap/config"
	"github.com/sarchlab/vmswap/kern"
	"github.com/sarchlab/vmswap/loader"
	"github.com/sarchlab/vmswap/mem/vm"
	"github.com/sirupsen/logrus"
)

type progress struct {
	sync.Mutex
	inProgress, finished uint64
}

func (p *progress) IncrementInProgress(amount uint64) {
	p.Lock()
	p.inProgress += amount
	p.Unlock()
}

func (p *progress) MoveInProgressToFinished(amount uint64) {
	p.Lock()
	p.inProgress -= amount
	p.finished += amount
	p.Unlock()
}

var _ = Describe("Workload", func() {
	var (
		logger *logrus.Logger
		k      *kern.Kernel
	)

	BeforeEach(func() {
		logger = logrus.New()
		logger.SetOutput(GinkgoWriter)

		cfg := config.Default()
		cfg.RAMPages = 20
		cfg.KernelPages = 4
		cfg.SwapSlots = 128
		cfg.MaxProcesses = 8

		var err error
		k, err = kern.MakeBuilder().
			WithConfig(cfg).
			WithLogger(logger).
			Build()
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(k.Shutdown()).To(Succeed())
	})

	It("should reject empty workloads", func() {
		_, err := Run(k, Options{}, nil, logger)

		Expect(err).To(HaveOccurred())
	})

	It("should page under pressure without losing data", func() {
		opt := Options{Processes: 3, Pages: 8, Rounds: 2, Fork: true}
		bar := &progress{}

		res, err := Run(k, opt, bar, logger)

		Expect(err).NotTo(HaveOccurred())
		Expect(res.Spawned).To(Equal(3))
		Expect(res.Forked).To(Equal(6))
		Expect(res.Checked).To(Equal(uint64(3 * 2 * 3 * 8)))
		Expect(bar.finished).To(Equal(Steps(opt)))
		Expect(bar.inProgress).To(BeZero())

		Expect(k.Frames.Stats().Evictions).To(BeNumerically(">", 0))
		Expect(k.Frames.NumFree()).To(Equal(k.Frames.NumFrames()))
		Expect(k.Swap.NumFree()).To(Equal(k.Swap.NumSlots()))
	})

	It("should report programs that run out of memory", func() {
		opt := Options{Processes: 2, Pages: 150, Rounds: 1}

		_, err := Run(k, opt, nil, logger)

		Expect(errors.Is(err, vm.ErrOutOfMemory)).To(BeTrue())
	})

	It("should run executables", func() {
		img := Image(3)
		raw := loader.Encode(img)

		parsed, err := loader.Parse(bytes.NewReader(raw))
		Expect(err).NotTo(HaveOccurred())

		Expect(RunImage(k, parsed, logger)).To(Succeed())
		Expect(k.Processes()).To(HaveLen(1))
		Expect(k.Processes()[0].State).To(Equal(kern.StateExited))
	})
})
