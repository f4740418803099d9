// Package workload drives a kernel with programs that fill, fork and check
// their memory, so that paging happens under load.
package workload

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/sarchlab/vmswap/kern"
	"github.com/sarchlab/vmswap/loader"
	"github.com/sarchlab/vmswap/mem/vm"
	"github.com/sirupsen/logrus"
)

// Addresses of the synthetic program.
const (
	CodeBase = uint64(0x400000)
	DataBase = uint64(0x1000000)
)

// ErrCorrupted is returned when a page does not hold what was written to it.
var ErrCorrupted = errors.New("memory corrupted")

// Options configures a synthetic workload.
type Options struct {
	// Processes is the number of programs that run at the same time.
	Processes int
	// Pages is the number of data pages each program touches.
	Pages int
	// Rounds is the number of times each program rewrites its pages.
	Rounds int
	// Fork makes each program fork a child after every round and check that
	// the child sees the same memory and can change it privately.
	Fork bool
}

// Progress receives the number of steps done.
type Progress interface {
	IncrementInProgress(amount uint64)
	MoveInProgressToFinished(amount uint64)
}

// Result sums up a run.
type Result struct {
	Spawned int
	Forked  int
	Checked uint64
}

// Image returns a program with one code page and the given number of data
// pages.
func Image(pages int) *loader.Image {
	return &loader.Image{
		Entry: CodeBase,
		Segments: []loader.Segment{
			{
				Vaddr:      CodeBase,
				Memsz:      vm.PageSize,
				Data:       []byte{0x90, 0x90, 0xc3},
				Readable:   true,
				Executable: true,
			},
			{
				Vaddr:    DataBase,
				Memsz:    uint64(pages) * vm.PageSize,
				Readable: true,
				Writable: true,
			},
		},
	}
}

// Steps returns the number of progress steps Run reports for the options.
func Steps(opt Options) uint64 {
	return uint64(opt.Processes * opt.Rounds)
}

type runner struct {
	k   *kern.Kernel
	opt Options
	bar Progress
	log logrus.FieldLogger

	lock   sync.Mutex
	result Result
}

// Run starts the programs and waits for all of them to finish. The first
// error ends the run.
func Run(
	k *kern.Kernel,
	opt Options,
	bar Progress,
	log logrus.FieldLogger,
) (Result, error) {
	if opt.Processes <= 0 || opt.Pages <= 0 || opt.Rounds <= 0 {
		return Result{}, errors.Errorf("invalid workload %+v", opt)
	}

	r := &runner{k: k, opt: opt, bar: bar, log: log}

	errs := make(chan error, opt.Processes)

	var wg sync.WaitGroup
	for i := 0; i < opt.Processes; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()
			errs <- r.program(i)
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			return r.result, err
		}
	}

	return r.result, nil
}

func (r *runner) program(i int) error {
	p, err := r.k.Spawn(Image(r.opt.Pages))
	if err != nil {
		return errors.Wrapf(err, "program %d", i)
	}

	r.count(func(res *Result) { res.Spawned++ })

	for round := 0; round < r.opt.Rounds; round++ {
		if r.bar != nil {
			r.bar.IncrementInProgress(1)
		}

		err = r.round(p, i, round)
		if err != nil {
			_ = r.k.Exit(p, 1)
			return errors.Wrapf(err, "program %d round %d", i, round)
		}

		if r.bar != nil {
			r.bar.MoveInProgressToFinished(1)
		}
	}

	return r.k.Exit(p, 0)
}

func (r *runner) round(p *kern.Process, i, round int) error {
	if err := r.k.Exec(p, p.Entry); err != nil {
		return err
	}

	for page := 0; page < r.opt.Pages; page++ {
		err := r.k.Store(p, pageAddr(page), pattern(i, page, round))
		if err != nil {
			return err
		}
	}

	if err := r.check(p, i, round); err != nil {
		return err
	}

	if r.opt.Fork {
		return r.fork(p, i, round)
	}

	return nil
}

func (r *runner) fork(p *kern.Process, i, round int) error {
	child, err := r.k.Fork(p)
	if err != nil {
		return err
	}

	r.count(func(res *Result) { res.Forked++ })

	err = r.check(child, i, round)
	if err == nil {
		err = r.k.Store(child, pageAddr(0), pattern(-1, 0, round))
	}

	if err == nil {
		err = r.check(p, i, round)
	}

	if exitErr := r.k.Exit(child, 0); err == nil {
		err = exitErr
	}

	return err
}

func (r *runner) check(p *kern.Process, i, round int) error {
	for page := 0; page < r.opt.Pages; page++ {
		want := pattern(i, page, round)

		got, err := r.k.Load(p, pageAddr(page), len(want))
		if err != nil {
			return err
		}

		if string(got) != string(want) {
			return errors.Wrapf(ErrCorrupted, "pid %d page %d: %x != %x",
				p.PID, page, got, want)
		}
	}

	r.count(func(res *Result) { res.Checked += uint64(r.opt.Pages) })

	return nil
}

func (r *runner) count(f func(res *Result)) {
	r.lock.Lock()
	f(&r.result)
	r.lock.Unlock()
}

func pageAddr(page int) uint64 {
	return DataBase + uint64(page)*vm.PageSize
}

func pattern(i, page, round int) []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint32(b[0:], uint32(i))
	binary.LittleEndian.PutUint32(b[4:], uint32(page))
	binary.LittleEndian.PutUint32(b[8:], uint32(round))
	copy(b[12:], "page")

	return b
}

// RunImage starts the program of an executable, runs its entry point, reads
// every loaded page and exits it.
func RunImage(
	k *kern.Kernel,
	img *loader.Image,
	log logrus.FieldLogger,
) error {
	p, err := k.Spawn(img)
	if err != nil {
		return err
	}

	if err = k.Exec(p, p.Entry); err != nil {
		return err
	}

	for _, seg := range img.Segments {
		start := vm.AlignDown(seg.Vaddr)
		for va := start; va < seg.Vaddr+seg.Memsz; va += vm.PageSize {
			if !seg.Readable {
				break
			}

			if _, err = k.Load(p, va, 1); err != nil {
				return err
			}
		}
	}

	log.WithFields(logrus.Fields{
		"pid":   p.PID,
		"entry": fmt.Sprintf("0x%x", p.Entry),
	}).Info("program ran")

	return k.Exit(p, 0)
}
