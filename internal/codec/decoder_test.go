package codec

import (
	"encoding/binary"
	"testing"

	"github.com/vera-firefly/vkrcontext/internal/objtable"
	"github.com/vera-firefly/vkrcontext/internal/region"
)

func newTestDecoder() (*Decoder, *fatalFlag) {
	fatal := &fatalFlag{}
	tbl := objtable.New()
	tbl.Insert(objtable.Object{ID: 7, Kind: objtable.KindDevice, Native: 0xd00d})
	return NewDecoder(tbl, fatal), fatal
}

func TestDecoderReadAdvancesCursor(t *testing.T) {
	d, fatal := newTestDecoder()
	d.SetBufferStream([]byte{1, 2, 3, 4, 5, 6})

	got, ok := d.Read(2)
	if !ok || len(got) != 2 || got[0] != 1 {
		t.Fatalf("unexpected read result: %v ok=%v", got, ok)
	}
	if d.Cursor() != 2 {
		t.Errorf("expected cursor=2, got %d", d.Cursor())
	}
	if fatal.IsSet() {
		t.Error("expected no fatal yet")
	}
}

func TestDecoderShortReadIsFatalAndZeroFilled(t *testing.T) {
	d, fatal := newTestDecoder()
	d.SetBufferStream([]byte{1, 2})

	got, ok := d.Read(10)
	if ok {
		t.Error("expected short read to fail")
	}
	if !fatal.IsSet() {
		t.Error("expected fatal flag to be set")
	}
	if len(got) != 10 {
		t.Fatalf("expected zero-filled 10-byte slice, got len=%d", len(got))
	}
	for _, b := range got {
		if b != 0 {
			t.Error("expected zero-filled slice on short read")
			break
		}
	}
}

func TestDecoderPeekDoesNotAdvance(t *testing.T) {
	d, _ := newTestDecoder()
	d.SetBufferStream([]byte{9, 8, 7})

	d.Peek(2)
	if d.Cursor() != 0 {
		t.Errorf("expected peek to not advance cursor, got %d", d.Cursor())
	}
}

func TestDecoderLookupNullAndMismatch(t *testing.T) {
	d, fatal := newTestDecoder()

	if _, ok := d.Lookup(0, objtable.KindDevice); ok {
		t.Error("expected id=0 to return not-found")
	}
	if fatal.IsSet() {
		t.Error("id=0 must not be fatal")
	}

	if _, ok := d.Lookup(7, objtable.KindBuffer); ok {
		t.Error("expected kind mismatch to fail")
	}
	if !fatal.IsSet() {
		t.Error("expected kind mismatch to set fatal")
	}
}

func TestDecoderLookupSuccess(t *testing.T) {
	d, fatal := newTestDecoder()
	obj, ok := d.Lookup(7, objtable.KindDevice)
	if !ok || obj.Native != 0xd00d {
		t.Fatalf("expected successful lookup, got ok=%v native=%x", ok, obj.Native)
	}
	if fatal.IsSet() {
		t.Error("expected no fatal on success")
	}
}

func TestDecoderLoadIDInline(t *testing.T) {
	d, fatal := newTestDecoder()
	slot := make([]byte, 8)
	binary.LittleEndian.PutUint64(slot, 42)

	id, ok := d.LoadID(slot, false)
	if !ok || id != 42 {
		t.Fatalf("expected inline id=42, got id=%d ok=%v", id, ok)
	}
	if fatal.IsSet() {
		t.Error("expected no fatal on valid inline load")
	}
}

func TestDecoderLoadIDIndirect(t *testing.T) {
	d, fatal := newTestDecoder()

	backing := make([]byte, 64)
	binary.LittleEndian.PutUint64(backing[16:], 99)
	res, ok := region.NewSHMResource(1, backing, "test")
	if !ok {
		t.Fatal("failed to build test resource")
	}
	d.SetResourceStream(res, 0, uint64(len(backing)))

	slot := make([]byte, 8)
	binary.LittleEndian.PutUint64(slot, 16)

	id, ok := d.LoadID(slot, true)
	if !ok || id != 99 {
		t.Fatalf("expected indirect id=99, got id=%d ok=%v", id, ok)
	}
	if fatal.IsSet() {
		t.Error("expected no fatal on valid indirect load")
	}
}

func TestDecoderPushPopStatePreservesArenaAcrossReset(t *testing.T) {
	d, fatal := newTestDecoder()
	d.SetBufferStream(make([]byte, 16))

	outer, _ := d.AllocTemp(8)
	outer[0] = 0xAA

	if !d.PushState() {
		t.Fatal("expected push to succeed")
	}
	nested, _ := d.AllocTemp(8)
	nested[0] = 0xBB

	// reset_temp between nested commands rewinds only to the floor frozen
	// by the push, so the outer allocation made before it is never handed
	// out again.
	d.ResetTemp()
	again, _ := d.AllocTemp(8)
	again[0] = 0xCC
	if outer[0] != 0xAA {
		t.Error("expected outer allocation to survive ResetTemp while pushed")
	}

	if !d.PopState() {
		t.Fatal("expected pop to succeed")
	}
	if d.StackDepth() != 0 {
		t.Errorf("expected stack depth 0 after pop, got %d", d.StackDepth())
	}
	if fatal.IsSet() {
		t.Error("expected no fatal across push/pop")
	}
}

func TestDecoderPopWithoutPushIsFatal(t *testing.T) {
	d, fatal := newTestDecoder()
	if d.PopState() {
		t.Error("expected pop without push to fail")
	}
	if !fatal.IsSet() {
		t.Error("expected fatal to be set")
	}
}

func TestDecoderPushBeyondDepthIsFatal(t *testing.T) {
	d, fatal := newTestDecoder()
	if !d.PushState() {
		t.Fatal("expected first push to succeed")
	}
	if d.PushState() {
		t.Error("expected second push to fail at depth 1")
	}
	if !fatal.IsSet() {
		t.Error("expected fatal to be set on depth overflow")
	}
}
