package view

import (
	"bytes"
	"errors"
	"testing"

	"treedb/internal/chunk"
	"treedb/keypath"
)

// innerChunks parses wire bytes laid into a page image and returns the
// chunk list, standing in for the inner chunks of a materialized view.
func innerChunks(t *testing.T, wire ...[]byte) []chunk.Chunk {
	t.Helper()
	img := make([]byte, chunk.PageSize)
	off := chunk.HeaderSize
	for _, w := range wire {
		off += copy(img[off:], w)
	}
	p := chunk.NewParser(img)
	var out []chunk.Chunk
	for {
		c, err := p.Next()
		if errors.Is(err, chunk.ErrEndOfChunks) {
			return out
		}
		if err != nil {
			t.Fatalf("parse fixture: %v", err)
		}
		out = append(out, c)
	}
}

func val(key byte, data ...byte) []byte {
	out := []byte{0x06, key, byte(len(data))}
	return append(out, data...)
}

func push(comp ...byte) []byte {
	switch len(comp) {
	case 1:
		return append([]byte{0x20}, comp...)
	case 2:
		return append([]byte{0x28}, comp...)
	case 3:
		return append([]byte{0x30}, comp...)
	}
	return append([]byte{0x38, byte(len(comp))}, comp...)
}

func pop() []byte { return []byte{0x3D} }

func fixtureView(t *testing.T) *View {
	t.Helper()
	chunks := innerChunks(t,
		val(0, 3, 208, 0, 1),
		[]byte{0x0E, 0xFC, 0x02, 0x05, 27, 62, 55, 51, 52}, // key 64514
		[]byte{0x23, 0x02, 0xAA, 0xBB},                      // simple data
		[]byte{0x1E, 0x02, 5, 6, 0x03, 2, 128, 1},           // long key {5,6}
		push(1), val(1, 9), pop(),
		push(3), val(1, 8), val(2, 7), pop(),
		push(14),
		push(0x80, 0x01),
		push(0xFF), val(1, 1, 1), val(5, 1, 5), pop(),
		push(0xFF, 0x00), val(2, 1, 1, 2, 1, 1), pop(),
		pop(),
		pop(),
	)
	return New(keypath.New(3, 17, 1), chunks, nil)
}

func TestValue(t *testing.T) {
	v := fixtureView(t)
	got, ok := v.Value(0)
	if !ok || !bytes.Equal(got, []byte{3, 208, 0, 1}) {
		t.Fatalf("Value(0) = %x, %v", got, ok)
	}
	got, ok = v.Value(64514)
	if !ok || !bytes.Equal(got, []byte{27, 62, 55, 51, 52}) {
		t.Fatalf("Value(64514) = %x, %v", got, ok)
	}
	// Keys inside nested directories are not visible at depth 0.
	if _, ok := v.Value(5); ok {
		t.Fatal("Value(5) should not see nested keys")
	}
	if _, ok := v.Value(99); ok {
		t.Fatal("Value(99) should be absent")
	}
}

func TestAllValues(t *testing.T) {
	v := fixtureView(t)
	kvs := v.AllValues()
	if len(kvs) != 2 {
		t.Fatalf("AllValues = %d entries, want 2", len(kvs))
	}
	if kvs[0].Key != 0 || kvs[1].Key != 64514 {
		t.Fatalf("keys = %d, %d", kvs[0].Key, kvs[1].Key)
	}
}

func TestSimpleData(t *testing.T) {
	v := fixtureView(t)
	data := v.SimpleData()
	if len(data) != 1 || !bytes.Equal(data[0], []byte{0xAA, 0xBB}) {
		t.Fatalf("SimpleData = %x", data)
	}
}

func TestLongValue(t *testing.T) {
	v := fixtureView(t)
	got, ok := v.LongValue([]byte{5, 6})
	if !ok || !bytes.Equal(got, []byte{2, 128, 1}) {
		t.Fatalf("LongValue = %x, %v", got, ok)
	}
	if _, ok := v.LongValue([]byte{9, 9}); ok {
		t.Fatal("unknown long key should be absent")
	}
	all := v.AllLongValues()
	if len(all) != 1 || !bytes.Equal(all[0].Key, []byte{5, 6}) {
		t.Fatalf("AllLongValues = %+v", all)
	}
}

func TestSubdirs(t *testing.T) {
	v := fixtureView(t)
	subs := v.Subdirs()
	if len(subs) != 3 {
		t.Fatalf("Subdirs = %d, want 3", len(subs))
	}

	wantPaths := []keypath.Path{
		keypath.New(3, 17, 1, 1),
		keypath.New(3, 17, 1, 3),
		keypath.New(3, 17, 1, 14),
	}
	for i, sub := range subs {
		if !sub.Path.Equal(wantPaths[i]) {
			t.Fatalf("subdir %d path = %v, want %v", i, sub.Path, wantPaths[i])
		}
	}

	got, ok := subs[1].Value(2)
	if !ok || !bytes.Equal(got, []byte{7}) {
		t.Fatalf("nested Value(2) = %x, %v", got, ok)
	}
}

func TestNestedSubdirs(t *testing.T) {
	v := fixtureView(t)
	sub, ok := v.Subdir(keypath.FromBytes([]byte{14}, []byte{0x80, 0x01}))
	if !ok {
		t.Fatal("Subdir(14/129) not found")
	}
	children := sub.Subdirs()
	if len(children) != 2 {
		t.Fatalf("children = %d, want 2", len(children))
	}
	if !bytes.Equal(children[0].Path.Last(), []byte{0xFF}) {
		t.Fatalf("first child = %x", children[0].Path.Last())
	}
	if !bytes.Equal(children[1].Path.Last(), []byte{0xFF, 0x00}) {
		t.Fatalf("second child = %x", children[1].Path.Last())
	}

	got, ok := children[0].Value(5)
	if !ok || !bytes.Equal(got, []byte{1, 5}) {
		t.Fatalf("Value(5) = %x, %v", got, ok)
	}
}

func TestSubdirMissing(t *testing.T) {
	v := fixtureView(t)
	if _, ok := v.Subdir(keypath.New(99)); ok {
		t.Fatal("Subdir(99) should be absent")
	}
}

func TestEmptyDirectoryFromDelayedPush(t *testing.T) {
	chunks := innerChunks(t,
		[]byte{0xE0, 0x07}, // push 7 with delayed pop: an empty child
		push(8), val(1, 5), pop(),
	)
	v := New(keypath.New(2), chunks, nil)
	subs := v.Subdirs()
	if len(subs) != 2 {
		t.Fatalf("Subdirs = %d, want 2", len(subs))
	}
	if len(subs[0].Chunks) != 0 {
		t.Fatalf("empty dir has %d chunks", len(subs[0].Chunks))
	}
	if !bytes.Equal(subs[0].Path.Last(), []byte{7}) {
		t.Fatalf("empty dir path = %v", subs[0].Path)
	}
}

func TestDelayedPopClosesDirectory(t *testing.T) {
	// The child directory is closed by a delayed pop on its last value
	// rather than an explicit pop chunk.
	chunks := innerChunks(t,
		push(4),
		[]byte{0xC6, 0x01, 0x01, 0x09}, // value with delayed pop
		push(5), val(1, 3), pop(),
	)
	v := New(keypath.New(2), chunks, nil)
	subs := v.Subdirs()
	if len(subs) != 2 {
		t.Fatalf("Subdirs = %d, want 2", len(subs))
	}
	got, ok := subs[0].Value(1)
	if !ok || !bytes.Equal(got, []byte{9}) {
		t.Fatalf("Value(1) in delayed-closed dir = %x, %v", got, ok)
	}
}
