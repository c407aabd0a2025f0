// Package page implements the 4 KiB storage unit: a 20-byte header followed
// by a chunk stream.
package page

import (
	"encoding/binary"
	"errors"
	"fmt"

	"treedb/internal/chunk"
	"treedb/internal/staging"
)

// Size is the fixed page size; pages are the unit of I/O and caching.
const Size = chunk.PageSize

// ErrCorrupted reports a page whose header or chunk stream cannot be parsed.
var ErrCorrupted = errors.New("corrupted page")

// Page is a parsed page image. The header fields and chunk list describe the
// immutable image; mutation happens by staging replacement payloads on
// individual chunks and re-serializing with ToBytes.
type Page struct {
	Index     uint32
	Deleted   bool
	Level     uint32 // 0 = leaf, >0 = internal routing level
	Previous  uint32 // page index of the left sibling, 0 = none
	Next      uint32 // page index of the right sibling, 0 = none
	BlockType byte
	Chunks    []chunk.Chunk

	img   []byte // original 4096-byte image
	tail  int    // offset where the chunk stream terminated
	dirty bool
}

// Parse reads a full page image. The chunk stream is parsed eagerly so that
// a corrupt page is rejected at load time; the error wraps ErrCorrupted and
// carries the page index and byte offset for diagnostics.
func Parse(img []byte, index uint32) (*Page, error) {
	if len(img) != Size {
		return nil, fmt.Errorf("%w: page %d: image is %d bytes", ErrCorrupted, index, len(img))
	}
	p := &Page{
		Index:     index,
		Deleted:   img[0] != 0,
		Level:     binary.BigEndian.Uint32(img[0:4]) & 0x00FFFFFF,
		Previous:  binary.BigEndian.Uint32(img[4:8]),
		Next:      binary.BigEndian.Uint32(img[8:12]),
		BlockType: img[13],
		img:       img,
	}

	parser := chunk.NewParser(img)
	for {
		c, err := parser.Next()
		if errors.Is(err, chunk.ErrEndOfChunks) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: page %d offset %d: %v", ErrCorrupted, index, parser.Offset(), err)
		}
		p.Chunks = append(p.Chunks, c)
	}
	p.tail = parser.End()
	return p, nil
}

// Image returns the original page image the page was parsed from.
func (p *Page) Image() []byte { return p.img }

// Tail returns the offset where the chunk stream ended; the bytes from Tail
// to the page end (terminator included) carry no chunks; ToBytes copies them
// right after the re-serialized stream.
func (p *Page) Tail() int { return p.tail }

// Dirty reports whether any chunk carries a staged modification.
func (p *Page) Dirty() bool { return p.dirty }

// MarkDirty records that a chunk of this page has been modified.
func (p *Page) MarkDirty() { p.dirty = true }

// ToBytes re-serializes the page: the original header, each chunk's wire
// form, then the original bytes past the chunk stream, shifted by any change
// in the stream's length: bytes shifted past the page end are dropped and a
// shortened page is zero-padded. If no chunk is Modified the result equals
// the image the page was loaded from. A stream that grew past the page
// boundary is reported as ErrDataExceedsPage.
func (p *Page) ToBytes(stg *staging.Buffer) ([]byte, error) {
	out := make([]byte, 0, Size)
	out = append(out, p.img[:chunk.HeaderSize]...)

	var err error
	for i := range p.Chunks {
		out, err = p.Chunks[i].AppendWire(out, stg)
		if err != nil {
			return nil, fmt.Errorf("page %d chunk %d: %w", p.Index, i, err)
		}
	}
	if len(out) > Size {
		return nil, fmt.Errorf("page %d: %w", p.Index, chunk.ErrDataExceedsPage)
	}
	out = append(out, p.img[p.tail:]...)
	if len(out) > Size {
		out = out[:Size]
	}
	for len(out) < Size {
		out = append(out, 0)
	}
	return out, nil
}
