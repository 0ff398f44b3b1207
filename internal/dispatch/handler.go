package dispatch

import (
	"encoding/binary"
)

// Handler is the per-opcode contract (spec.md §4.4): read decoded
// arguments, resolve identifiers via the object table, call the native
// driver, record the result. A non-nil return is a driver error — recorded
// in the reply stream, never fatal. Structural problems are signaled by
// setting the shared fatal flag directly (via the decoder/encoder) rather
// than through the return value.
type Handler func(ex *Exec) error

// Table is the opcode-to-handler dispatch table, implemented as a
// registration map rather than literal function pointers — a Go map
// keeps per-command setup uniform and lets handlers register themselves
// independently (builtins, transport extensions) without a single giant
// switch statement.
type Table struct {
	handlers map[Opcode]Handler
}

// NewTable creates an empty dispatch table.
func NewTable() *Table {
	return &Table{handlers: make(map[Opcode]Handler)}
}

// Register associates op with h, overwriting any previous registration.
func (t *Table) Register(op Opcode, h Handler) {
	t.handlers[op] = h
}

// DispatchOne decodes one opcode header from ex's bound stream and
// executes the matching handler. Returns false once the decoder/encoder
// fatal flag is set — by this call or any prior one — meaning the caller
// must stop dispatching for the remainder of this context's lifetime.
//
// An unregistered opcode is a structural-protocol error (spec.md §7): it
// sets the fatal flag and DispatchOne returns false, matching real
// servers' behavior for an unrecognized/un-generated call. A registered
// blocking opcode (wait-for-fences, device-wait-idle, queue-wait-idle) is
// likewise rejected as fatal before its handler — if any — ever runs.
func (t *Table) DispatchOne(ex *Exec) bool {
	if ex.Codec.IsFatal() {
		return false
	}

	header, ok := ex.decoder().Read(4)
	if !ok {
		return false
	}
	op := Opcode(binary.LittleEndian.Uint32(header))

	if blockingOpcodes[op] {
		ex.Codec.SetFatal()
		return false
	}

	h, ok := t.handlers[op]
	if !ok {
		ex.Codec.SetFatal()
		return false
	}

	if err := h(ex); err != nil {
		// Negative-status-on-failure, the teacher's convention for block
		// I/O completions (negative errno), generalized to per-call Vulkan
		// results: the guest sees a failure code, the context stays live.
		ex.writeStatus(-1)
	} else {
		ex.writeStatus(0)
	}
	return !ex.Codec.IsFatal()
}
