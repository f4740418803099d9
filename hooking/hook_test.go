package hooking

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type domain struct {
	HookableBase
}

func (d *domain) Name() string {
	return "domain"
}

type countingHook struct {
	calls []HookCtx
}

func (h *countingHook) Func(ctx HookCtx) {
	h.calls = append(h.calls, ctx)
}

var _ = Describe("HookableBase", func() {
	var (
		d   *domain
		pos *HookPos
	)

	BeforeEach(func() {
		d = &domain{}
		pos = &HookPos{Name: "Pos"}
	})

	It("should invoke every registered hook in order", func() {
		h1 := &countingHook{}
		h2 := &countingHook{}
		d.AcceptHook(h1)
		d.AcceptHook(h2)

		d.InvokeHook(HookCtx{Domain: d, Pos: pos, Item: 42})

		Expect(d.NumHooks()).To(Equal(2))
		Expect(h1.calls).To(HaveLen(1))
		Expect(h1.calls[0].Item).To(Equal(42))
		Expect(h2.calls[0].Pos).To(BeIdenticalTo(pos))
	})

	It("should panic if the same hook is registered twice", func() {
		h := &countingHook{}
		d.AcceptHook(h)

		Expect(func() { d.AcceptHook(h) }).To(Panic())
	})

	It("should accept function hooks", func() {
		called := 0
		d.AcceptHook(HookFunc(func(HookCtx) { called++ }))
		d.AcceptHook(HookFunc(func(HookCtx) { called++ }))

		d.InvokeHook(HookCtx{Domain: d, Pos: pos})

		Expect(called).To(Equal(2))
	})

	It("should return a copy of the hook list", func() {
		d.AcceptHook(&countingHook{})

		hooks := d.Hooks()
		hooks[0] = nil

		Expect(d.Hooks()[0]).NotTo(BeNil())
	})
})
