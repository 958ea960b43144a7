package hooking

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type countingHook struct {
	count int
	last  HookCtx
}

func (h *countingHook) Func(ctx HookCtx) {
	h.count++
	h.last = ctx
}

var _ = Describe("HookableBase", func() {
	var (
		hookable *HookableBase
		hook     *countingHook
	)

	BeforeEach(func() {
		hookable = &HookableBase{}
		hook = &countingHook{}
	})

	It("should start with no hooks", func() {
		Expect(hookable.NumHooks()).To(Equal(0))
		Expect(hookable.Hooks()).To(BeEmpty())
	})

	It("should invoke registered hooks", func() {
		hookable.AcceptHook(hook)

		pos := &HookPos{Name: "Sample"}
		hookable.InvokeHook(HookCtx{Pos: pos, Item: 42})
		hookable.InvokeHook(HookCtx{Pos: pos, Item: 43})

		Expect(hook.count).To(Equal(2))
		Expect(hook.last.Item).To(Equal(43))
	})

	It("should reject duplicated hooks", func() {
		hookable.AcceptHook(hook)

		Expect(func() { hookable.AcceptHook(hook) }).To(Panic())
	})
})
