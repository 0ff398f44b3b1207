package codec

import (
	"testing"

	"github.com/vera-firefly/vkrcontext/internal/region"
)

func newTestEncoder(size int) (*Encoder, *region.Resource, *fatalFlag) {
	fatal := &fatalFlag{}
	res, _ := region.NewSHMResource(1, make([]byte, size), "reply")
	return NewEncoder(fatal), res, fatal
}

func TestEncoderSetStreamValidatesBounds(t *testing.T) {
	e, res, fatal := newTestEncoder(64)

	if !e.SetStream(res, 0, 64) {
		t.Fatal("expected exact-fit SetStream to succeed")
	}
	if fatal.IsSet() {
		t.Error("expected no fatal yet")
	}

	e2, res2, fatal2 := newTestEncoder(64)
	if e2.SetStream(res2, 32, 64) {
		t.Error("expected offset+size > resource.Size() to fail")
	}
	if !fatal2.IsSet() {
		t.Error("expected fatal on out-of-bounds SetStream")
	}
}

func TestEncoderWriteAdvancesByPaddedSize(t *testing.T) {
	e, res, fatal := newTestEncoder(64)
	e.SetStream(res, 0, 64)

	if !e.Write(8, []byte{1, 2, 3}) {
		t.Fatal("expected write to succeed")
	}
	if e.pos != 8 {
		t.Errorf("expected pos=8 after padded write, got %d", e.pos)
	}

	slice, _ := res.AsSlice(region.Region{Begin: 0, End: 3})
	if slice[0] != 1 || slice[1] != 2 || slice[2] != 3 {
		t.Errorf("unexpected bytes written: %v", slice)
	}
	if fatal.IsSet() {
		t.Error("expected no fatal")
	}
}

func TestEncoderWriteShortIsFatal(t *testing.T) {
	e, res, fatal := newTestEncoder(8)
	e.SetStream(res, 0, 8)
	e.Seek(4)

	if e.Write(8, []byte{1}) {
		t.Error("expected write past stream end to fail")
	}
	if !fatal.IsSet() {
		t.Error("expected fatal to be set")
	}
}

func TestEncoderSeekRejectsPastEnd(t *testing.T) {
	e, res, fatal := newTestEncoder(16)
	e.SetStream(res, 0, 16)

	if e.Seek(17) {
		t.Error("expected seek past stream size to fail")
	}
	if !fatal.IsSet() {
		t.Error("expected fatal to be set")
	}
}

func TestEncoderCheckStreamUnbindsMatchingResource(t *testing.T) {
	e, res, _ := newTestEncoder(16)
	e.SetStream(res, 0, 16)

	e.CheckStream(res)
	if e.res != nil {
		t.Error("expected CheckStream to unbind the matching resource")
	}

	other, _ := region.NewSHMResource(2, make([]byte, 16), "other")
	e.SetStream(res, 0, 16)
	e.CheckStream(other)
	if e.res != res {
		t.Error("expected CheckStream to leave a non-matching resource bound")
	}
}
