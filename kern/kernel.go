// Package kern wires the virtual memory system into a small process table:
// it boots the memory subsystems, starts programs, forks and exits them, and
// decides what happens when a memory access fails.
package kern

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/sarchlab/vmswap/idgen"
	"github.com/sarchlab/vmswap/loader"
	"github.com/sarchlab/vmswap/mem/vm"
	"github.com/sarchlab/vmswap/mem/vm/addrspace"
	"github.com/sarchlab/vmswap/mem/vm/frames"
	"github.com/sarchlab/vmswap/mem/vm/swap"
	"github.com/sarchlab/vmswap/mem/vm/tlb"
	"github.com/sarchlab/vmswap/memory"
	"github.com/sirupsen/logrus"
)

// ErrNoProcess is returned for operations on exited processes.
var ErrNoProcess = errors.New("no such process")

// PID identifies a process.
type PID = idgen.ID

// State is the state of a process.
type State int

// Process states.
const (
	StateRunning State = iota
	StateExited
	StateKilled
)

func (s State) String() string {
	switch s {
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	default:
		return "running"
	}
}

// A Process is a running program and its address space.
type Process struct {
	PID      PID
	Parent   PID
	Entry    uint64
	SP       uint64
	State    State
	ExitCode int
	Cause    error

	as *addrspace.AddressSpace
}

// Status is a snapshot of how a process is doing.
type Status struct {
	State    State
	ExitCode int
	Cause    error
}

// AddressSpace returns the address space of the process.
func (p *Process) AddressSpace() *addrspace.AddressSpace {
	return p.as
}

// Kernel owns the memory subsystems and the process table.
type Kernel struct {
	RAM    *memory.RAM
	Swap   *swap.Store
	Frames *frames.Allocator
	TLB    *tlb.Comp
	Spaces *addrspace.Manager

	log     logrus.FieldLogger
	fatal   func(error)
	closers []io.Closer

	lock    sync.Mutex
	pids    idgen.Generator
	procs   map[PID]*Process
	current *Process
}

// Spawn starts a new process running the image.
func (k *Kernel) Spawn(img *loader.Image) (*Process, error) {
	as, err := k.Spaces.Create()
	if err != nil {
		return nil, err
	}

	entry, sp, err := loader.Load(as, img, k.log.WithField("asid", as.ID()))
	if err != nil {
		k.Spaces.Destroy(as)
		k.checkFatal(err)

		return nil, err
	}

	p := k.register(&Process{Entry: entry, SP: sp, as: as})

	k.log.WithFields(logrus.Fields{
		"pid":   p.PID,
		"asid":  as.ID(),
		"entry": fmt.Sprintf("0x%x", entry),
	}).Info("process started")

	return p, nil
}

// Fork duplicates a running process.
func (k *Kernel) Fork(parent *Process) (*Process, error) {
	if err := k.mustBeRunning(parent); err != nil {
		return nil, err
	}

	as, err := k.Spaces.Copy(parent.as)
	if err != nil {
		k.checkFatal(err)
		return nil, err
	}

	child := k.register(&Process{
		Parent: parent.PID,
		Entry:  parent.Entry,
		SP:     parent.SP,
		as:     as,
	})

	k.log.WithFields(logrus.Fields{
		"pid":    child.PID,
		"parent": parent.PID,
	}).Info("process forked")

	return child, nil
}

func (k *Kernel) register(p *Process) *Process {
	k.lock.Lock()
	defer k.lock.Unlock()

	p.PID = k.pids.Generate()
	p.State = StateRunning
	k.procs[p.PID] = p

	return p
}

// Exit ends the process and releases its memory.
func (k *Kernel) Exit(p *Process, code int) error {
	return k.terminate(p, StateExited, code, nil)
}

func (k *Kernel) terminate(p *Process, state State, code int, cause error) error {
	k.lock.Lock()
	if p.State != StateRunning {
		k.lock.Unlock()
		return errors.Wrapf(ErrNoProcess, "pid %d", p.PID)
	}

	p.State = state
	p.ExitCode = code
	p.Cause = cause

	if k.current == p {
		k.current = nil
	}
	k.lock.Unlock()

	k.Spaces.Destroy(p.as)

	entry := k.log.WithFields(logrus.Fields{
		"pid":   p.PID,
		"state": state.String(),
		"code":  code,
	})
	if cause != nil {
		entry.WithError(cause).Warn("process killed")
	} else {
		entry.Info("process exited")
	}

	return nil
}

// Switch makes the process the one running on the processor.
func (k *Kernel) Switch(p *Process) error {
	if err := k.mustBeRunning(p); err != nil {
		return err
	}

	k.lock.Lock()
	k.current = p
	k.lock.Unlock()

	k.Spaces.Activate(p.as)

	return nil
}

// Current returns the process running on the processor, or nil.
func (k *Kernel) Current() *Process {
	k.lock.Lock()
	defer k.lock.Unlock()

	return k.current
}

// Load reads user memory of the process.
func (k *Kernel) Load(p *Process, va uint64, n int) ([]byte, error) {
	if err := k.mustBeRunning(p); err != nil {
		return nil, err
	}

	data, err := p.as.Read(va, n)
	if err != nil {
		return nil, k.handleFault(p, err)
	}

	return data, nil
}

// Store writes user memory of the process.
func (k *Kernel) Store(p *Process, va uint64, data []byte) error {
	if err := k.mustBeRunning(p); err != nil {
		return err
	}

	err := p.as.Write(va, data)
	if err != nil {
		return k.handleFault(p, err)
	}

	return nil
}

// Exec fetches an instruction of the process.
func (k *Kernel) Exec(p *Process, va uint64) error {
	if err := k.mustBeRunning(p); err != nil {
		return err
	}

	err := p.as.Exec(va)
	if err != nil {
		return k.handleFault(p, err)
	}

	return nil
}

// Sbrk moves the program break of the process.
func (k *Kernel) Sbrk(p *Process, delta int64) (uint64, error) {
	if err := k.mustBeRunning(p); err != nil {
		return 0, err
	}

	return p.as.Sbrk(delta)
}

// handleFault kills the process on access errors and stops the kernel on
// errors it cannot recover from.
func (k *Kernel) handleFault(p *Process, err error) error {
	k.checkFatal(err)

	if vm.KillsProcess(err) {
		_ = k.terminate(p, StateKilled, -1, err)
	}

	return err
}

func (k *Kernel) checkFatal(err error) {
	if vm.IsFatal(err) {
		k.fatal(err)
	}
}

func (k *Kernel) mustBeRunning(p *Process) error {
	k.lock.Lock()
	defer k.lock.Unlock()

	if p == nil || p.State != StateRunning {
		return ErrNoProcess
	}

	return nil
}

// Status returns the state of the process. The fields of a Process that
// change when it ends must be read through Status by other goroutines.
func (k *Kernel) Status(p *Process) Status {
	k.lock.Lock()
	defer k.lock.Unlock()

	return Status{State: p.State, ExitCode: p.ExitCode, Cause: p.Cause}
}

// Processes returns every process ever started, ordered by PID.
func (k *Kernel) Processes() []*Process {
	k.lock.Lock()
	defer k.lock.Unlock()

	list := make([]*Process, 0, len(k.procs))
	for _, p := range k.procs {
		list = append(list, p)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].PID < list[j].PID
	})

	return list
}

// Shutdown ends every running process and closes the swap device.
func (k *Kernel) Shutdown() error {
	for _, p := range k.Processes() {
		if k.Status(p).State == StateRunning {
			_ = k.Exit(p, 0)
		}
	}

	var firstErr error
	for _, c := range k.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	k.closers = nil

	return firstErr
}
