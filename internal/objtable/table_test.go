package objtable

import "testing"

func TestInsertRejectsZeroIDAndBadKind(t *testing.T) {
	tbl := New()
	if tbl.Insert(Object{ID: 0, Kind: KindDevice}) {
		t.Error("expected id=0 to be rejected")
	}
	if tbl.Insert(Object{ID: 1, Kind: Kind(999)}) {
		t.Error("expected unrecognized kind to be rejected")
	}
}

func TestInsertRejectsCollision(t *testing.T) {
	tbl := New()
	if !tbl.Insert(Object{ID: 1, Kind: KindDevice}) {
		t.Fatal("expected first insert to succeed")
	}
	if tbl.Insert(Object{ID: 1, Kind: KindBuffer}) {
		t.Error("expected id collision to be rejected")
	}
}

func TestLookupKindMismatch(t *testing.T) {
	tbl := New()
	tbl.Insert(Object{ID: 5, Kind: KindBuffer, Native: 42})

	if _, ok := tbl.Lookup(5, KindImage); ok {
		t.Error("expected kind mismatch to fail lookup")
	}
	obj, ok := tbl.Lookup(5, KindBuffer)
	if !ok || obj.Native != 42 {
		t.Fatalf("expected successful lookup with native=42, got ok=%v native=%d", ok, obj.Native)
	}
	if _, ok := tbl.Lookup(0, KindBuffer); ok {
		t.Error("expected id=0 to always miss")
	}
}

func TestRemoveMany(t *testing.T) {
	tbl := New()
	tbl.Insert(Object{ID: 1, Kind: KindDevice})
	tbl.Insert(Object{ID: 2, Kind: KindBuffer})
	tbl.Insert(Object{ID: 3, Kind: KindImage})

	removed := tbl.RemoveMany([]uint64{1, 3, 99})
	if len(removed) != 2 {
		t.Fatalf("expected 2 removed objects, got %d", len(removed))
	}
	if tbl.Len() != 1 {
		t.Fatalf("expected 1 object remaining, got %d", tbl.Len())
	}
	if _, ok := tbl.Lookup(2, KindBuffer); !ok {
		t.Error("expected untouched id=2 to remain")
	}
}

func TestRemoveWithChildren(t *testing.T) {
	tbl := New()
	tbl.Insert(Object{ID: 1, Kind: KindDevice})
	tbl.Insert(Object{ID: 2, Kind: KindBuffer, Parent: 1, HasParent: true})
	tbl.Insert(Object{ID: 3, Kind: KindCommandPool, Parent: 1, HasParent: true})
	tbl.Insert(Object{ID: 4, Kind: KindCommandBuffer, Parent: 3, HasParent: true})

	removed := tbl.RemoveWithChildren(1)
	if len(removed) != 4 {
		t.Fatalf("expected 4 objects removed (device + 3 descendants), got %d", len(removed))
	}
	if tbl.Len() != 0 {
		t.Fatalf("expected empty table after device removal, got %d", tbl.Len())
	}

	// the parent (device, id=1) must be last: children destroyed before parent.
	if removed[len(removed)-1].ID != 1 {
		t.Errorf("expected parent to be removed last, got order %+v", idsOf(removed))
	}
}

func TestRemoveChildrenOnlyKeepsParent(t *testing.T) {
	tbl := New()
	tbl.Insert(Object{ID: 1, Kind: KindCommandPool})
	tbl.Insert(Object{ID: 2, Kind: KindCommandBuffer, Parent: 1, HasParent: true})
	tbl.Insert(Object{ID: 3, Kind: KindCommandBuffer, Parent: 1, HasParent: true})

	removed := tbl.RemoveChildrenOnly(1)
	if len(removed) != 2 {
		t.Fatalf("expected 2 children removed, got %d", len(removed))
	}
	if _, ok := tbl.Lookup(1, KindCommandPool); !ok {
		t.Error("expected pool to survive a reset")
	}
	if tbl.Len() != 1 {
		t.Fatalf("expected only the pool to remain, got %d", tbl.Len())
	}
}

func idsOf(objs []Object) []uint64 {
	ids := make([]uint64, len(objs))
	for i, o := range objs {
		ids[i] = o.ID
	}
	return ids
}
