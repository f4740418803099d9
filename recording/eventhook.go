package recording

import (
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/sarchlab/vmswap/hooking"
	"github.com/sarchlab/vmswap/mem/vm"
)

// EventTable is the name of the table the EventRecorder writes to.
const EventTable = "vm_events"

// Entry is a row of the event table.
type Entry struct {
	ID     string
	Time   int64
	Domain string
	Pos    string
	ASID   uint64
	VPN    uint64
	Frame  int
	Slot   int
	Access string
}

// EventRecorder is a hook that writes every event into a DataRecorder.
type EventRecorder struct {
	recorder DataRecorder
	now      func() time.Time
}

// NewEventRecorder creates the event table and returns the hook.
func NewEventRecorder(r DataRecorder) *EventRecorder {
	r.CreateTable(EventTable, Entry{})

	return &EventRecorder{
		recorder: r,
		now:      time.Now,
	}
}

// Func records the event of the hook context.
func (h *EventRecorder) Func(ctx hooking.HookCtx) {
	e, ok := ctx.Item.(vm.Event)
	if !ok {
		return
	}

	h.recorder.InsertData(EventTable, Entry{
		ID:     xid.New().String(),
		Time:   h.now().UnixNano(),
		Domain: ctx.Domain.Name(),
		Pos:    ctx.Pos.Name,
		ASID:   uint64(e.ASID),
		VPN:    uint64(e.VPN),
		Frame:  int(e.Frame),
		Slot:   int(e.Slot),
		Access: e.Access.String(),
	})
}

// Counter is a hook that counts the events by hook position.
type Counter struct {
	lock   sync.Mutex
	counts map[string]uint64
}

// NewCounter creates an empty counter.
func NewCounter() *Counter {
	return &Counter{counts: make(map[string]uint64)}
}

// Func counts the event.
func (c *Counter) Func(ctx hooking.HookCtx) {
	c.lock.Lock()
	c.counts[ctx.Pos.Name]++
	c.lock.Unlock()
}

// Count returns the number of events seen at a position.
func (c *Counter) Count(pos *hooking.HookPos) uint64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.counts[pos.Name]
}

// Counts returns a copy of all the counts.
func (c *Counter) Counts() map[string]uint64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	m := make(map[string]uint64, len(c.counts))
	for k, v := range c.counts {
		m[k] = v
	}

	return m
}
