package vm

import "github.com/sarchlab/vmswap/hooking"

// Hook positions fired by the virtual memory system. The item of every
// position is an Event.
var (
	HookPosPageFault = &hooking.HookPos{Name: "PageFault"}
	HookPosZeroFill  = &hooking.HookPos{Name: "ZeroFill"}
	HookPosSwapIn    = &hooking.HookPos{Name: "SwapIn"}
	HookPosSwapOut   = &hooking.HookPos{Name: "SwapOut"}
	HookPosEvict     = &hooking.HookPos{Name: "Evict"}
	HookPosCopy      = &hooking.HookPos{Name: "Copy"}
	HookPosDestroy   = &hooking.HookPos{Name: "Destroy"}
)

// An Event describes what happened to a page.
type Event struct {
	ASID   ASID
	VPN    VPN
	Frame  FrameID
	Slot   SlotID
	Access AccessKind
}
