package dispatch

import (
	"github.com/vera-firefly/vkrcontext/internal/codec"
	"github.com/vera-firefly/vkrcontext/internal/objtable"
	"github.com/vera-firefly/vkrcontext/internal/region"
	"github.com/vera-firefly/vkrcontext/internal/ring"
	"github.com/vera-firefly/vkrcontext/internal/vkdriver"
)

// RingHost abstracts the ring-lifecycle and seqno operations the transport
// extension opcodes need, implemented by the owning context (C7) so this
// package never has to own a context's full ring list or mutex discipline
// itself.
type RingHost interface {
	CreateRing(index int32, res *region.Resource, layout ring.Layout) bool
	DestroyRing(index int32) bool
	NotifyRing(index int32) bool
	WriteRingExtra(index int32, offset uint64, value uint32) bool
	WaitRingSeqno(index int32, target uint32) bool
}

// ResourceHost resolves a guest resource id to the attached Resource, for
// the opcodes that bind a stream (SetReplyCommandStream, CreateRing) by id
// rather than by direct handle.
type ResourceHost interface {
	LookupResource(resourceID uint32) (*region.Resource, bool)
}

// Exec bundles everything a Handler needs for one dispatched command: the
// shared codec (decoder+encoder+fatal flag), the object table, the native
// driver, the ring host, and the resource host. It carries no per-command
// state of its own, so one Exec serves every command of a dispatch pass
// (the context builds one per SubmitCmd call and per ring batch).
type Exec struct {
	Codec     *codec.Codec
	Table     *objtable.Table
	Driver    vkdriver.Driver
	Rings     RingHost
	Resources ResourceHost
	ContextID uint32

	// Handlers is the dispatch table itself, threaded through so
	// ExecuteCommandStreams can recurse into the same registered handlers
	// for its nested sub-stream.
	Handlers *Table
}

func (ex *Exec) decoder() *codec.Decoder { return ex.Codec.Decoder }
func (ex *Exec) encoder() *codec.Encoder { return ex.Codec.Encoder }

// readID reads an inline 8-byte guest identifier from the command stream.
func (ex *Exec) readID() (uint64, bool) {
	slot, ok := ex.decoder().Read(8)
	if !ok {
		return 0, false
	}
	return ex.decoder().LoadID(slot, false)
}

// writeStatus records a per-command return code in the reply stream, per
// spec.md §7 ("driver errors are returned to the guest inside the reply
// stream"). A no-op when the guest hasn't bound a reply stream, rather than
// driving the encoder fatal for lack of one.
func (ex *Exec) writeStatus(code int32) {
	enc := ex.encoder()
	if !enc.IsBound() {
		return
	}
	buf := make([]byte, 4)
	buf[0] = byte(code)
	buf[1] = byte(code >> 8)
	buf[2] = byte(code >> 16)
	buf[3] = byte(code >> 24)
	enc.Write(4, buf)
}
