package treedb

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"treedb/internal/chunk"
	"treedb/internal/page"
)

// chunkArea assembles a page's chunk stream for fixtures, byte by byte and
// independently of the codec under test.
type chunkArea struct {
	buf []byte
}

func (a *chunkArea) push(comp ...byte) *chunkArea {
	switch len(comp) {
	case 1:
		a.buf = append(a.buf, 0x20)
	case 2:
		a.buf = append(a.buf, 0x28)
	case 3:
		a.buf = append(a.buf, 0x30)
	default:
		a.buf = append(a.buf, 0x38, byte(len(comp)))
	}
	a.buf = append(a.buf, comp...)
	return a
}

func (a *chunkArea) pop() *chunkArea {
	a.buf = append(a.buf, 0x3D)
	return a
}

func (a *chunkArea) val(key uint16, data ...byte) *chunkArea {
	if key < 256 {
		a.buf = append(a.buf, 0x06, byte(key), byte(len(data)))
	} else {
		a.buf = append(a.buf, 0x0E, byte(key>>8), byte(key), byte(len(data)))
	}
	a.buf = append(a.buf, data...)
	return a
}

func (a *chunkArea) valDelayed(key uint16, data ...byte) *chunkArea {
	a.buf = append(a.buf, 0xC6, byte(key), byte(len(data)))
	a.buf = append(a.buf, data...)
	return a
}

func (a *chunkArea) long(key []byte, data ...byte) *chunkArea {
	a.buf = append(a.buf, 0x1E, byte(len(key)))
	a.buf = append(a.buf, key...)
	a.buf = append(a.buf, byte(len(data)))
	a.buf = append(a.buf, data...)
	return a
}

func (a *chunkArea) data(data ...byte) *chunkArea {
	a.buf = append(a.buf, 0x23, byte(len(data)))
	a.buf = append(a.buf, data...)
	return a
}

func (a *chunkArea) route(child uint32) *chunkArea {
	a.buf = append(a.buf, 0x23, 0x04)
	a.buf = binary.BigEndian.AppendUint32(a.buf, child)
	return a
}

func (a *chunkArea) image(t *testing.T, level, prev, next uint32) []byte {
	t.Helper()
	img := make([]byte, page.Size)
	img[1] = byte(level >> 16)
	img[2] = byte(level >> 8)
	img[3] = byte(level)
	binary.BigEndian.PutUint32(img[4:8], prev)
	binary.BigEndian.PutUint32(img[8:12], next)
	if chunk.HeaderSize+len(a.buf) > page.Size {
		t.Fatalf("fixture chunk area is %d bytes", len(a.buf))
	}
	copy(img[chunk.HeaderSize:], a.buf)
	return img
}

var fixtureLongKey = []byte{18, 37, 19, 48}

// fixtureImages builds the page images of the test database:
//
//	page 0  fixed sector (zeros)
//	page 1  root, routing [3 17 1 3] -> leaf 2, [255] -> leaf 3
//	page 2  leaf: 3/16/1/1 (long value), 3/16/5/129 (name + counter),
//	        3/17/1 values and children 1 and 3; the directory continues
//	        on the sibling
//	page 3  leaf: 3/17/1 children 8 and 14, with the nested 14/129
//	        subtree of S3
func fixtureImages(t *testing.T) [][]byte {
	t.Helper()

	var root chunkArea
	root.push(3).push(17).push(1).push(3).route(2).pop().pop().pop().pop()
	root.push(0xFF).route(3).pop()

	var leafA chunkArea
	leafA.push(3).push(16).push(1).push(1)
	leafA.long(fixtureLongKey, 2, 128, 1)
	leafA.pop().pop()
	leafA.push(5).push(0x80, 0x01)
	leafA.val(16, 56, 54, 59, 52, 49)
	leafA.val(252, 1, 7)
	leafA.pop().pop().pop()
	leafA.push(17).push(1)
	leafA.val(0, 3, 208, 0, 1)
	leafA.val(64514, 27, 62, 55, 51, 52)
	leafA.data(0xAA, 0xBB)
	leafA.push(1).val(16, 99).pop()
	leafA.push(3).val(16, 98).pop()

	var leafB chunkArea
	leafB.push(3).push(17).push(1)
	leafB.push(8).val(16, 97).pop()
	leafB.push(14)
	leafB.push(0x80, 0x01)
	leafB.push(0xFF).val(1, 1, 1).val(5, 1, 5).pop()
	leafB.push(0xFF, 0x00).val(2, 1, 1, 2, 1, 1).pop()
	leafB.push(0xFF, 0x02).val(1, 42).pop()
	leafB.push(0xFF, 0xFC).valDelayed(1, 41)
	leafB.pop().pop().pop().pop().pop()

	return [][]byte{
		make([]byte, page.Size),
		root.image(t, 1, 0, 0),
		leafA.image(t, 0, 0, 3),
		leafB.image(t, 0, 2, 0),
	}
}

func writeFixtureFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.db")
	var buf bytes.Buffer
	for _, img := range fixtureImages(t) {
		buf.Write(img)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func openFixture(t *testing.T) *Context {
	t.Helper()
	ctx, err := Open(writeFixtureFile(t), Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { ctx.Close() })
	return ctx
}
