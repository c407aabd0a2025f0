package staging

import (
	"bytes"
	"testing"
)

func TestStoreLoad(t *testing.T) {
	var b Buffer
	first := b.Store([]byte{1, 2, 3})
	second := b.Store([]byte{4, 5})

	if first.Off != 0 || first.Len != 3 {
		t.Fatalf("first ref = %+v", first)
	}
	if second.Off != 3 || second.Len != 2 {
		t.Fatalf("second ref = %+v", second)
	}
	if !bytes.Equal(b.Load(first), []byte{1, 2, 3}) {
		t.Fatalf("load first = %v", b.Load(first))
	}
	if !bytes.Equal(b.Load(second), []byte{4, 5}) {
		t.Fatalf("load second = %v", b.Load(second))
	}
	if b.Len() != 5 {
		t.Fatalf("Len() = %d", b.Len())
	}
}

func TestTokensSurviveLaterStores(t *testing.T) {
	var b Buffer
	ref := b.Store([]byte{7, 7, 7})
	for range 100 {
		b.Store(bytes.Repeat([]byte{9}, 64))
	}
	if !bytes.Equal(b.Load(ref), []byte{7, 7, 7}) {
		t.Fatalf("early token invalidated by growth: %v", b.Load(ref))
	}
}

func TestReset(t *testing.T) {
	var b Buffer
	b.Store([]byte{1})
	b.Reset()
	if b.Len() != 0 {
		t.Fatalf("Len() after reset = %d", b.Len())
	}
	ref := b.Store([]byte{2})
	if ref.Off != 0 {
		t.Fatalf("ref after reset = %+v", ref)
	}
}

func TestRefSlice(t *testing.T) {
	buf := []byte{10, 20, 30, 40}
	r := Ref{Off: 1, Len: 2}
	if !bytes.Equal(r.Slice(buf), []byte{20, 30}) {
		t.Fatalf("Slice = %v", r.Slice(buf))
	}
}
