package dispatch

import (
	"encoding/binary"
	"testing"

	"github.com/vera-firefly/vkrcontext/internal/codec"
	"github.com/vera-firefly/vkrcontext/internal/objtable"
	"github.com/vera-firefly/vkrcontext/internal/region"
	"github.com/vera-firefly/vkrcontext/internal/ring"
	"github.com/vera-firefly/vkrcontext/internal/vkdriver"
)

type fakeRingHost struct {
	created  map[int32]bool
	notified map[int32]int
	waited   map[int32]uint32
}

func newFakeRingHost() *fakeRingHost {
	return &fakeRingHost{created: map[int32]bool{}, notified: map[int32]int{}, waited: map[int32]uint32{}}
}

func (f *fakeRingHost) CreateRing(index int32, res *region.Resource, layout ring.Layout) bool {
	f.created[index] = true
	return true
}
func (f *fakeRingHost) DestroyRing(index int32) bool {
	if !f.created[index] {
		return false
	}
	delete(f.created, index)
	return true
}
func (f *fakeRingHost) NotifyRing(index int32) bool {
	if !f.created[index] {
		return false
	}
	f.notified[index]++
	return true
}
func (f *fakeRingHost) WriteRingExtra(index int32, offset uint64, value uint32) bool {
	return f.created[index]
}
func (f *fakeRingHost) WaitRingSeqno(index int32, target uint32) bool {
	f.waited[index] = target
	return f.created[index]
}

type fakeResourceHost struct {
	resources map[uint32]*region.Resource
}

func newFakeResourceHost() *fakeResourceHost {
	return &fakeResourceHost{resources: map[uint32]*region.Resource{}}
}
func (f *fakeResourceHost) LookupResource(id uint32) (*region.Resource, bool) {
	r, ok := f.resources[id]
	return r, ok
}

func newTestExec() (*Exec, *codec.Codec, *vkdriver.Stub) {
	table := objtable.New()
	c := codec.New(table)
	stub := vkdriver.NewStub()
	handlers := NewTable()
	RegisterBuiltins(handlers)
	RegisterTransport(handlers)

	ex := &Exec{
		Codec:     c,
		Table:     table,
		Driver:    stub,
		Rings:     newFakeRingHost(),
		Resources: newFakeResourceHost(),
		ContextID: 1,
		Handlers:  handlers,
	}
	return ex, c, stub
}

// cmdBuilder builds a little-endian command stream: 4-byte opcode header
// followed by fixed-width fields.
type cmdBuilder struct {
	buf []byte
}

func (b *cmdBuilder) op(o Opcode) *cmdBuilder {
	var h [4]byte
	binary.LittleEndian.PutUint32(h[:], uint32(o))
	b.buf = append(b.buf, h[:]...)
	return b
}
func (b *cmdBuilder) u64(v uint64) *cmdBuilder {
	var h [8]byte
	binary.LittleEndian.PutUint64(h[:], v)
	b.buf = append(b.buf, h[:]...)
	return b
}
func (b *cmdBuilder) u32(v uint32) *cmdBuilder {
	var h [4]byte
	binary.LittleEndian.PutUint32(h[:], v)
	b.buf = append(b.buf, h[:]...)
	return b
}
func (b *cmdBuilder) i32(v int32) *cmdBuilder {
	return b.u32(uint32(v))
}
func (b *cmdBuilder) u8(v byte) *cmdBuilder {
	b.buf = append(b.buf, v)
	return b
}
func (b *cmdBuilder) bytes() []byte { return b.buf }

func TestCreateDestroyInstance(t *testing.T) {
	ex, c, stub := newTestExec()

	create := new(cmdBuilder).op(OpCreateInstance).u64(1).bytes()
	c.Decoder.SetBufferStream(create)
	if !ex.Handlers.DispatchOne(ex) {
		t.Fatalf("unexpected fatal after create_instance: %v", c.IsFatal())
	}
	if ex.Table.Len() != 1 {
		t.Fatalf("expected 1 object, got %d", ex.Table.Len())
	}

	destroy := new(cmdBuilder).op(OpDestroyInstance).u64(1).bytes()
	c.Decoder.SetBufferStream(destroy)
	if !ex.Handlers.DispatchOne(ex) {
		t.Fatalf("unexpected fatal after destroy_instance")
	}
	if ex.Table.Len() != 0 {
		t.Fatalf("expected 0 objects after destroy, got %d", ex.Table.Len())
	}
	if stub.Calls.Load() == 0 {
		t.Error("expected native calls to be tracked")
	}
}

func TestCreateDeviceAndBufferCascadeOnDestroyDevice(t *testing.T) {
	ex, c, _ := newTestExec()

	c.Decoder.SetBufferStream(new(cmdBuilder).op(OpCreateInstance).u64(1).bytes())
	ex.Handlers.DispatchOne(ex)

	c.Decoder.SetBufferStream(new(cmdBuilder).op(OpEnumeratePhysicalDevices).u64(1).u64(2).bytes())
	ex.Handlers.DispatchOne(ex)

	c.Decoder.SetBufferStream(new(cmdBuilder).op(OpCreateDevice).u64(2).u64(3).bytes())
	ex.Handlers.DispatchOne(ex)

	c.Decoder.SetBufferStream(new(cmdBuilder).op(OpCreateBuffer).u64(3).u64(4).u64(4096).u32(0).bytes())
	ex.Handlers.DispatchOne(ex)
	if c.IsFatal() {
		t.Fatalf("unexpected fatal building device/buffer graph")
	}
	if ex.Table.Len() != 4 {
		t.Fatalf("expected 4 live objects, got %d", ex.Table.Len())
	}

	c.Decoder.SetBufferStream(new(cmdBuilder).op(OpDestroyDevice).u64(3).bytes())
	if !ex.Handlers.DispatchOne(ex) {
		t.Fatalf("unexpected fatal destroying device")
	}
	// instance + physical device remain; device + buffer are gone.
	if ex.Table.Len() != 2 {
		t.Fatalf("expected 2 objects remaining after device destroy, got %d", ex.Table.Len())
	}
	if _, ok := ex.Table.Lookup(4, objtable.KindBuffer); ok {
		t.Error("expected buffer to be gone after its owning device was destroyed")
	}
}

func TestGetDeviceQueueLinksUnderDevice(t *testing.T) {
	ex, c, _ := newTestExec()

	c.Decoder.SetBufferStream(new(cmdBuilder).op(OpCreateInstance).u64(1).bytes())
	ex.Handlers.DispatchOne(ex)
	c.Decoder.SetBufferStream(new(cmdBuilder).op(OpEnumeratePhysicalDevices).u64(1).u64(2).bytes())
	ex.Handlers.DispatchOne(ex)
	c.Decoder.SetBufferStream(new(cmdBuilder).op(OpCreateDevice).u64(2).u64(3).bytes())
	ex.Handlers.DispatchOne(ex)

	c.Decoder.SetBufferStream(new(cmdBuilder).op(OpGetDeviceQueue).u64(3).u64(4).u32(0).u32(0).bytes())
	if !ex.Handlers.DispatchOne(ex) {
		t.Fatalf("unexpected fatal getting device queue: %v", c.IsFatal())
	}
	if _, ok := ex.Table.Lookup(4, objtable.KindQueue); !ok {
		t.Fatal("expected queue object to be inserted")
	}
}

func TestUnknownOpcodeSetsFatal(t *testing.T) {
	ex, c, _ := newTestExec()
	c.Decoder.SetBufferStream(new(cmdBuilder).op(Opcode(0xdeadbeef)).bytes())
	if ex.Handlers.DispatchOne(ex) {
		t.Fatal("expected unknown opcode to report fatal")
	}
	if !c.IsFatal() {
		t.Fatal("expected fatal flag set after unknown opcode")
	}

	// Subsequent well-formed commands must be skipped once fatal.
	c.Decoder.SetBufferStream(new(cmdBuilder).op(OpCreateInstance).u64(1).bytes())
	if ex.Handlers.DispatchOne(ex) {
		t.Fatal("expected dispatch to stay refused once fatal")
	}
	if ex.Table.Len() != 0 {
		t.Fatal("expected no object created once the context is fatal")
	}
}

func TestBlockingCallRejectedAsFatal(t *testing.T) {
	for _, op := range []Opcode{OpWaitForFences, OpDeviceWaitIdle, OpQueueWaitIdle} {
		ex, c, _ := newTestExec()
		c.Decoder.SetBufferStream(new(cmdBuilder).op(op).bytes())
		if ex.Handlers.DispatchOne(ex) {
			t.Fatalf("expected %s to be rejected as fatal", op)
		}
		if !c.IsFatal() {
			t.Fatalf("expected fatal flag set after %s", op)
		}
	}
}

func TestCreateRingDelegatesToRingHost(t *testing.T) {
	ex, c, _ := newTestExec()
	backing := make([]byte, 4096)
	res, _ := region.NewSHMResource(7, backing, "ring-res")
	ex.Resources.(*fakeResourceHost).resources[7] = res

	cmd := new(cmdBuilder).op(OpCreateRing).
		i32(0).    // ring index
		u32(7).    // resource id
		u64(0).    // base offset
		u64(1216). // enclosing region size
		u64(0).    // head offset
		u64(4).    // tail offset
		u64(8).    // status offset
		u64(64).   // buffer offset
		u32(1024).
		u64(1088). // extra offset
		u64(128).  // extra size
		u64(50000) // idle timeout us
	c.Decoder.SetBufferStream(cmd.bytes())

	if !ex.Handlers.DispatchOne(ex) {
		t.Fatalf("unexpected fatal creating ring: %v", c.IsFatal())
	}
	host := ex.Rings.(*fakeRingHost)
	if !host.created[0] {
		t.Error("expected ring 0 to be created")
	}
}

func TestNotifyRingUnknownRingIsFatal(t *testing.T) {
	ex, c, _ := newTestExec()
	cmd := new(cmdBuilder).op(OpNotifyRing).i32(5).bytes()
	c.Decoder.SetBufferStream(cmd)
	if ex.Handlers.DispatchOne(ex) {
		t.Fatal("expected notify of an unknown ring to be fatal")
	}
}

func TestExecuteCommandStreamsNestedDispatch(t *testing.T) {
	ex, c, _ := newTestExec()

	// Nested sub-stream: create_instance(id=9), embedded at a fixed offset
	// within the same buffer the outer command also lives in.
	nested := new(cmdBuilder).op(OpCreateInstance).u64(9).bytes()
	outerPrefix := new(cmdBuilder).op(OpExecuteCommandStreams)
	nestedOffset := uint64(len(outerPrefix.buf) + 16) // header + two u64 args
	outer := outerPrefix.u64(nestedOffset).u64(uint64(len(nested))).bytes()

	full := append(outer, nested...)
	c.Decoder.SetBufferStream(full)

	if !ex.Handlers.DispatchOne(ex) {
		t.Fatalf("unexpected fatal during nested execute: %v", c.IsFatal())
	}
	if _, ok := ex.Table.Lookup(9, objtable.KindInstance); !ok {
		t.Error("expected the nested create_instance to have run")
	}
	if ex.Codec.Decoder.StackDepth() != 0 {
		t.Errorf("expected the state stack to be unwound, depth=%d", ex.Codec.Decoder.StackDepth())
	}
}

func TestGetExperimentalFeatureDataWritesCapset(t *testing.T) {
	ex, c, _ := newTestExec()
	backing := make([]byte, 256)
	res, _ := region.NewSHMResource(1, backing, "reply")
	c.Encoder.SetStream(res, 0, 256)

	c.Decoder.SetBufferStream(new(cmdBuilder).op(OpGetExperimentalFeatureData).bytes())
	if !ex.Handlers.DispatchOne(ex) {
		t.Fatalf("unexpected fatal")
	}
	if binary.LittleEndian.Uint32(backing[0:4]) != capsetWireVersion {
		t.Error("expected capset wire version written to the reply stream")
	}
}
