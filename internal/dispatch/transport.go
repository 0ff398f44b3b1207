package dispatch

import (
	"encoding/binary"
	"time"

	"github.com/vera-firefly/vkrcontext/internal/ring"
)

// RegisterTransport installs the full transport-extension opcode set from
// spec.md §6: the ring/reply-stream/nested-execute control surface. These
// are in scope even though the generated per-call Vulkan grammar is not —
// they are how the guest drives the decoder/dispatcher itself.
func RegisterTransport(t *Table) {
	t.Register(OpSetReplyCommandStream, handleSetReplyCommandStream)
	t.Register(OpSeekReplyCommandStream, handleSeekReplyCommandStream)
	t.Register(OpExecuteCommandStreams, handleExecuteCommandStreams)
	t.Register(OpCreateRing, handleCreateRing)
	t.Register(OpDestroyRing, handleDestroyRing)
	t.Register(OpNotifyRing, handleNotifyRing)
	t.Register(OpWriteRingExtra, handleWriteRingExtra)
	t.Register(OpSubmitVirtqueueSeqno, handleSubmitVirtqueueSeqno)
	t.Register(OpWaitVirtqueueSeqno, handleWaitVirtqueueSeqno)
	t.Register(OpWaitRingSeqno, handleWaitRingSeqno)
	t.Register(OpGetExperimentalFeatureData, handleGetExperimentalFeatureData)
}

func (ex *Exec) readUint32() (uint32, bool) {
	b, ok := ex.decoder().Read(4)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b), true
}

func (ex *Exec) readUint64() (uint64, bool) {
	b, ok := ex.decoder().Read(8)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint64(b), true
}

func (ex *Exec) readInt32() (int32, bool) {
	v, ok := ex.readUint32()
	return int32(v), ok
}

// handleSetReplyCommandStream binds the encoder to {resource_id, offset,
// size}, the out-of-band destination for per-command return codes and any
// future reply payloads.
func handleSetReplyCommandStream(ex *Exec) error {
	resourceID, ok := ex.readUint32()
	if !ok {
		return nil
	}
	offset, ok := ex.readUint64()
	if !ok {
		return nil
	}
	size, ok := ex.readUint64()
	if !ok {
		return nil
	}
	res, ok := ex.Resources.LookupResource(resourceID)
	if !ok {
		ex.Codec.SetFatal()
		return nil
	}
	ex.encoder().SetStream(res, offset, size)
	return nil
}

// handleSeekReplyCommandStream repositions the already-bound reply stream.
func handleSeekReplyCommandStream(ex *Exec) error {
	position, ok := ex.readUint64()
	if !ok {
		return nil
	}
	ex.encoder().Seek(position)
	return nil
}

// handleExecuteCommandStreams implements nested execution: {offset, size}
// address a sub-range of the currently bound command stream's own backing
// array (spec.md §4.2's nested-execute, one level deep per
// constants.StateStackDepth). The nested commands dispatch through the
// same table; a second nested ExecuteCommandStreams while one is active is
// rejected by PushState's depth check (policy: "nested execute already
// active").
func handleExecuteCommandStreams(ex *Exec) error {
	offset, ok := ex.readUint64()
	if !ok {
		return nil
	}
	size, ok := ex.readUint64()
	if !ok {
		return nil
	}

	dec := ex.decoder()
	if !dec.PushState() {
		return nil
	}
	if !dec.EnterSubStream(offset, size) {
		dec.PopState()
		return nil
	}

	for dec.HasCommand() && !ex.Codec.IsFatal() {
		if !ex.Handlers.DispatchOne(ex) {
			break
		}
	}

	dec.PopState()
	return nil
}

func handleCreateRing(ex *Exec) error {
	ringIndex, ok := ex.readInt32()
	if !ok {
		return nil
	}
	resourceID, ok := ex.readUint32()
	if !ok {
		return nil
	}

	var l ring.Layout
	fields := []*uint64{
		&l.BaseOffset, &l.Size, &l.HeadOffset, &l.TailOffset, &l.StatusOffset,
		&l.BufferOffset,
	}
	for _, f := range fields {
		v, ok := ex.readUint64()
		if !ok {
			return nil
		}
		*f = v
	}
	bufSize, ok := ex.readUint32()
	if !ok {
		return nil
	}
	l.BufferSize = bufSize
	extraOffset, ok := ex.readUint64()
	if !ok {
		return nil
	}
	extraSize, ok := ex.readUint64()
	if !ok {
		return nil
	}
	idleUs, ok := ex.readUint64()
	if !ok {
		return nil
	}
	l.ExtraOffset = extraOffset
	l.ExtraSize = extraSize
	l.IdleTimeout = time.Duration(idleUs) * time.Microsecond

	res, ok := ex.Resources.LookupResource(resourceID)
	if !ok {
		ex.Codec.SetFatal()
		return nil
	}
	if !l.Validate(res) {
		ex.Codec.SetFatal()
		return nil
	}
	if !ex.Rings.CreateRing(ringIndex, res, l) {
		ex.Codec.SetFatal()
	}
	return nil
}

func handleDestroyRing(ex *Exec) error {
	ringIndex, ok := ex.readInt32()
	if !ok {
		return nil
	}
	if !ex.Rings.DestroyRing(ringIndex) {
		ex.Codec.SetFatal()
	}
	return nil
}

func handleNotifyRing(ex *Exec) error {
	ringIndex, ok := ex.readInt32()
	if !ok {
		return nil
	}
	if !ex.Rings.NotifyRing(ringIndex) {
		ex.Codec.SetFatal()
	}
	return nil
}

func handleWriteRingExtra(ex *Exec) error {
	ringIndex, ok := ex.readInt32()
	if !ok {
		return nil
	}
	offset, ok := ex.readUint64()
	if !ok {
		return nil
	}
	value, ok := ex.readUint32()
	if !ok {
		return nil
	}
	if !ex.Rings.WriteRingExtra(ringIndex, offset, value) {
		ex.Codec.SetFatal()
	}
	return nil
}

// handleSubmitVirtqueueSeqno and handleWaitVirtqueueSeqno: spec.md §6 lists
// these transport-extension opcodes by name without further semantics (the
// individual call grammar is out of scope). A real venus-style transport
// splits "ring seqno" (derived from the consumed head position) from a
// separately tracked "virtqueue seqno" cookie; here both collapse onto the
// single seqno primitive C5 already exposes — submit is a notify carrying
// an advisory seqno value written to extra slot 0, wait defers to the same
// WaitRingSeqno blocking primitive. DESIGN.md records this as the
// resolution of an unspecified-by-spec transport detail, not an invented
// feature.
func handleSubmitVirtqueueSeqno(ex *Exec) error {
	ringIndex, ok := ex.readInt32()
	if !ok {
		return nil
	}
	seqno, ok := ex.readUint32()
	if !ok {
		return nil
	}
	ex.Rings.WriteRingExtra(ringIndex, 0, seqno)
	if !ex.Rings.NotifyRing(ringIndex) {
		ex.Codec.SetFatal()
	}
	return nil
}

func handleWaitVirtqueueSeqno(ex *Exec) error {
	return handleWaitRingSeqno(ex)
}

func handleWaitRingSeqno(ex *Exec) error {
	ringIndex, ok := ex.readInt32()
	if !ok {
		return nil
	}
	target, ok := ex.readUint32()
	if !ok {
		return nil
	}
	if !ex.Rings.WaitRingSeqno(ringIndex, target) {
		ex.Codec.SetFatal()
	}
	return nil
}

// capsetWireVersion, capsetVulkanXMLVersion, capsetExtensionBitmask are the
// fixed fields of spec.md §6's capset record.
const (
	capsetWireVersion      = 1
	capsetVulkanXMLVersion = 1
	capsetExtensionBitmask = uint32(0)

	capsetAllowWaitSyncs            = 1 << 0
	capsetSupportsMultipleTimelines = 1 << 1
)

// handleGetExperimentalFeatureData writes the static capset record to the
// reply stream: wire-format version, Vulkan XML version, supported
// extension bitmask, and feature toggles.
func handleGetExperimentalFeatureData(ex *Exec) error {
	enc := ex.encoder()
	if !enc.IsBound() {
		return nil
	}
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], capsetWireVersion)
	binary.LittleEndian.PutUint32(buf[4:8], capsetVulkanXMLVersion)
	binary.LittleEndian.PutUint32(buf[8:12], capsetExtensionBitmask)
	binary.LittleEndian.PutUint32(buf[12:16], capsetAllowWaitSyncs|capsetSupportsMultipleTimelines)
	enc.Write(16, buf)
	return nil
}
