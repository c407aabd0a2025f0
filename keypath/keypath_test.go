package keypath

import (
	"bytes"
	"testing"
)

func TestCompare(t *testing.T) {
	testCases := []struct {
		name string
		a, b Path
		want int
	}{
		{"equal", New(3, 17, 1), New(3, 17, 1), 0},
		{"component_order", New(3, 16), New(3, 17), -1},
		{"prefix_sorts_first", New(3, 17), New(3, 17, 1), -1},
		{"longer_sorts_last", New(3, 17, 1, 14), New(3, 17, 1), 1},
		{"byte_order_within_component", FromBytes([]byte{1, 2}), FromBytes([]byte{1, 3}), -1},
		{"root_sorts_first", Path{}, New(1), -1},
		{"marker_component", New(129), New(130), -1},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Compare(tc.a, tc.b); got != tc.want {
				t.Fatalf("Compare(%v, %v) = %d, want %d", tc.a, tc.b, got, tc.want)
			}
			if got := Compare(tc.b, tc.a); got != -tc.want {
				t.Fatalf("Compare(%v, %v) = %d, want %d", tc.b, tc.a, got, -tc.want)
			}
		})
	}
}

func TestContains(t *testing.T) {
	parent := New(3, 17, 1)
	if !parent.Contains(New(3, 17, 1)) {
		t.Fatal("path should contain itself")
	}
	if !parent.Contains(New(3, 17, 1, 14)) {
		t.Fatal("path should contain its child")
	}
	if parent.Contains(New(3, 17)) {
		t.Fatal("path should not contain its parent")
	}
	if parent.Contains(New(3, 17, 2, 14)) {
		t.Fatal("path should not contain a sibling subtree")
	}
	if !(Path{}).Contains(parent) {
		t.Fatal("root should contain everything")
	}
}

func TestPushPop(t *testing.T) {
	p := New(3, 17)
	p.Push([]byte{1})
	if !p.Equal(New(3, 17, 1)) {
		t.Fatalf("after push: %v", p)
	}
	p.Pop()
	p.Pop()
	if !p.Equal(New(3)) {
		t.Fatalf("after pops: %v", p)
	}
	p.Pop()
	p.Pop() // popping the root is a no-op
	if len(p) != 0 {
		t.Fatalf("root pop should be a no-op, got %v", p)
	}
}

func TestComponentIntRoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 1, 5, 127, 128, 129, 255, 1000, 32895} {
		enc := IntComponent(v)
		got, ok := ComponentInt(enc)
		if !ok {
			t.Fatalf("ComponentInt(%x) not decodable for %d", enc, v)
		}
		if got != v {
			t.Fatalf("round trip %d -> %x -> %d", v, enc, got)
		}
	}
}

func TestComponentIntKnownEncodings(t *testing.T) {
	if got := IntComponent(129); !bytes.Equal(got, []byte{0x80, 0x01}) {
		t.Fatalf("IntComponent(129) = %x", got)
	}
	if v, ok := ComponentInt([]byte{0x80, 0x01}); !ok || v != 129 {
		t.Fatalf("ComponentInt(80 01) = %d, %v", v, ok)
	}
	if _, ok := ComponentInt([]byte{0x00, 0x01}); ok {
		t.Fatal("two-byte component without marker bit should not decode")
	}
	if _, ok := ComponentInt([]byte{0xFF}); ok {
		t.Fatal("one-byte component above 127 should not decode")
	}
}

func TestString(t *testing.T) {
	if got := (Path{}).String(); got != "." {
		t.Fatalf("root String() = %q", got)
	}
	if got := New(3, 17, 129).String(); got != "3/17/129" {
		t.Fatalf("String() = %q", got)
	}
	p := FromBytes([]byte{3}, []byte{0xAA, 0xBB, 0xCC})
	if got := p.String(); got != "3/aabbcc" {
		t.Fatalf("String() = %q", got)
	}
}

func TestCloneIndependence(t *testing.T) {
	p := New(3, 17)
	q := p.Clone()
	p.Push([]byte{9})
	p[0][0] = 99
	if !q.Equal(New(3, 17)) {
		t.Fatalf("clone changed with original: %v", q)
	}
}
