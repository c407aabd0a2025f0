// Package chunk implements the codec for the opcode-tagged records that make
// up a page's payload.
//
// A chunk is parsed from, and serialized back to, a small self-delimiting
// wire form. Opcodes 0x00..0x40 select the shape; a 0xC0 prefix on the
// opcode byte schedules one extra path pop after the chunk's own effect
// (the delayed pop). A few opcodes share their value between two shapes and
// are disambiguated by a one-byte peek, either at the page's sentinel byte
// (offset 21) or at the byte after the opcode; the on-disk format relies on
// exactly these peeks.
//
// Parsing is deterministic and byte-exact: serializing an unmodified chunk
// reproduces the bytes it was parsed from.
package chunk

import (
	"encoding/binary"
	"errors"
	"fmt"

	"treedb/keypath"
	"treedb/internal/staging"
)

const (
	// PageSize is the fixed size of a page image.
	PageSize = 4096
	// HeaderSize is the page header length; chunks start after it.
	HeaderSize = 20
	// sentinelOffset is the page byte peeked to disambiguate the
	// alternate shapes of opcodes 0x0E and 0x0F.
	sentinelOffset = 21
)

// Kind discriminates the chunk variants.
type Kind uint8

const (
	SimpleData Kind = iota // raw data bytes at the current path
	SimpleRef              // u16-keyed value at the current path
	LongRef                // byte-string-keyed value at the current path
	Segment                // indexed segment of a larger payload
	Push                   // appends a component to the path
	Pop                    // removes the last path component
	Noop                   // no semantic effect
)

func (k Kind) String() string {
	switch k {
	case SimpleData:
		return "simple-data"
	case SimpleRef:
		return "simple-ref"
	case LongRef:
		return "long-ref"
	case Segment:
		return "segment"
	case Push:
		return "push"
	case Pop:
		return "pop"
	case Noop:
		return "noop"
	}
	return "unknown"
}

// ErrEndOfChunks signals the 0x00 0x00 terminator or the page end.
// It is the non-fatal end of a page's chunk stream.
var ErrEndOfChunks = errors.New("end of chunks")

// ErrDataExceedsPage reports a payload that would cross the page boundary.
// The page is corrupt; this is not a truncation.
var ErrDataExceedsPage = errors.New("chunk data exceeds page boundary")

// OpcodeError reports an opcode byte with no recognized shape.
type OpcodeError struct {
	Byte   byte
	Offset int
}

func (e *OpcodeError) Error() string {
	return fmt.Sprintf("unrecognized opcode 0x%02x at offset %d", e.Byte, e.Offset)
}

// Chunk is one parsed record. Key material and payload are addressed by
// (offset, length) refs into the page image the chunk was parsed from; a
// Modified chunk's DataRef points into the staging buffer instead, leaving
// the page image untouched until serialization.
type Chunk struct {
	Offset   uint16 // position of the opcode byte within the page
	Opcode   uint16 // saved opcode, two bytes for the disambiguated forms
	Kind     Kind
	Key      uint16      // SimpleRef key
	KeyRef   staging.Ref // raw key bytes in the page image (SimpleRef, LongRef, Push)
	DataRef  staging.Ref // payload bytes
	Segment  uint8       // Segment index
	Delayed  bool        // pop once after this chunk's own effect
	Modified bool        // DataRef resolves against the staging buffer

	img []byte
}

// Data returns the chunk's payload, from the staging buffer when the chunk
// is Modified and from the original page image otherwise. stg may be nil
// for unmodified chunks.
func (c *Chunk) Data(stg *staging.Buffer) []byte {
	if c.Modified {
		return stg.Load(c.DataRef)
	}
	return c.DataRef.Slice(c.img)
}

// KeyBytes returns the raw key bytes as stored in the page image.
func (c *Chunk) KeyBytes() []byte {
	return c.KeyRef.Slice(c.img)
}

// SetData stages a replacement payload and marks the chunk Modified.
func (c *Chunk) SetData(stg *staging.Buffer, data []byte) {
	c.DataRef = stg.Store(data)
	c.Modified = true
}

// Parser walks the chunk stream of one page image, maintaining the running
// directory-path stack as it goes.
type Parser struct {
	img   []byte
	off   int
	end   int
	stack keypath.Path
}

// NewParser returns a parser positioned at the first chunk of img.
// img must be a full page image.
func NewParser(img []byte) *Parser {
	return &Parser{img: img, off: HeaderSize, end: -1}
}

// Offset returns the parser's byte cursor.
func (p *Parser) Offset() int { return p.off }

// End returns the offset where the chunk stream terminated, or -1 while
// chunks remain. The bytes from End to the page end (terminator included)
// are not part of any chunk.
func (p *Parser) End() int { return p.end }

// Stack returns the current path stack. The backing array is reused across
// Next calls; clone before retaining.
func (p *Parser) Stack() keypath.Path { return p.stack }

func (p *Parser) take(n int) (staging.Ref, error) {
	if p.off+n > PageSize {
		return staging.Ref{}, ErrDataExceedsPage
	}
	ref := staging.Ref{Off: uint32(p.off), Len: uint32(n)}
	p.off += n
	return ref, nil
}

func (p *Parser) u8() (byte, error) {
	if p.off+1 > PageSize {
		return 0, ErrDataExceedsPage
	}
	b := p.img[p.off]
	p.off++
	return b, nil
}

func (p *Parser) u16() (uint16, error) {
	if p.off+2 > PageSize {
		return 0, ErrDataExceedsPage
	}
	v := binary.BigEndian.Uint16(p.img[p.off:])
	p.off += 2
	return v, nil
}

// pathKey16 decodes a two-byte key with the marker-bit path encoding used
// by opcodes 0x09..0x0D.
func pathKey16(b []byte) uint16 {
	if b[0]&0x80 != 0 {
		return (uint16(b[0]&0x7f)<<8 | uint16(b[1])) + 128
	}
	return binary.BigEndian.Uint16(b)
}

// Next parses one chunk, advancing the cursor and the path stack.
// It returns ErrEndOfChunks at the terminator or page end, an *OpcodeError
// for an unknown opcode, and ErrDataExceedsPage when a payload would cross
// the page boundary.
func (p *Parser) Next() (Chunk, error) {
	if p.off >= PageSize {
		p.end = PageSize
		return Chunk{}, ErrEndOfChunks
	}
	start := p.off
	raw := p.img[p.off]
	op := raw
	delayed := false
	if op&0xC0 == 0xC0 {
		op &= 0x3F
		delayed = true
	}

	c := Chunk{
		Offset:  uint16(start),
		Opcode:  uint16(op),
		Delayed: delayed,
		img:     p.img,
	}
	var err error

	switch {
	case op == 0x00:
		p.off++
		if p.off >= PageSize || p.img[p.off] == 0x00 {
			p.end = start
			return Chunk{}, ErrEndOfChunks
		}
		c.Kind = SimpleData
		c.DataRef, err = p.take(1)

	case op <= 0x05:
		p.off++
		c.Kind = SimpleRef
		if c.KeyRef, err = p.take(1); err != nil {
			break
		}
		c.Key = uint16(p.img[c.KeyRef.Off])
		c.DataRef, err = p.take(fixedLen(op, 0x01))

	case op == 0x06:
		p.off++
		c.Kind = SimpleRef
		if c.KeyRef, err = p.take(1); err != nil {
			break
		}
		c.Key = uint16(p.img[c.KeyRef.Off])
		var n byte
		if n, err = p.u8(); err != nil {
			break
		}
		c.DataRef, err = p.take(int(n))

	case op == 0x07:
		p.off++
		c.Kind = Segment
		if c.Segment, err = p.u8(); err != nil {
			break
		}
		var n uint16
		if n, err = p.u16(); err != nil {
			break
		}
		c.DataRef, err = p.take(int(n))

	case op == 0x08:
		p.off++
		c.Kind = SimpleData
		c.DataRef, err = p.take(2)

	case op == 0x0E && p.img[sentinelOffset] == 0xFF:
		p.off++
		c.Kind = SimpleData
		c.DataRef, err = p.take(6)

	case op >= 0x09 && op <= 0x0D:
		p.off++
		c.Kind = SimpleRef
		if c.KeyRef, err = p.take(2); err != nil {
			break
		}
		c.Key = pathKey16(c.KeyRef.Slice(p.img))
		c.DataRef, err = p.take(fixedLen(op, 0x09))

	case op == 0x0E:
		p.off++
		c.Kind = SimpleRef
		if c.KeyRef, err = p.take(2); err != nil {
			break
		}
		c.Key = binary.BigEndian.Uint16(c.KeyRef.Slice(p.img))
		var n byte
		if n, err = p.u8(); err != nil {
			break
		}
		c.DataRef, err = p.take(int(n))

	case op == 0x0F:
		if start+1 >= PageSize {
			err = ErrDataExceedsPage
			break
		}
		second := p.img[start+1]
		if p.img[sentinelOffset]&0x80 == 0 && second&0x80 == 0 {
			// The plain shape of 0x0F has not been observed; reject
			// rather than infer.
			return Chunk{}, &OpcodeError{Byte: raw, Offset: start}
		}
		c.Opcode = 0x0F00 | uint16(second)
		c.Kind = Segment
		p.off += 2
		if c.Segment, err = p.u8(); err != nil {
			break
		}
		var n uint16
		if n, err = p.u16(); err != nil {
			break
		}
		c.DataRef, err = p.take(int(n))

	case op == 0x10:
		p.off++
		c.Kind = SimpleData
		c.DataRef, err = p.take(3)

	case op >= 0x11 && op <= 0x15:
		p.off++
		c.Kind = SimpleData
		c.DataRef, err = p.take(3 + fixedLen(op, 0x11))

	case op == 0x16:
		p.off++
		c.Kind = LongRef
		if c.KeyRef, err = p.take(3); err != nil {
			break
		}
		var n byte
		if n, err = p.u8(); err != nil {
			break
		}
		c.DataRef, err = p.take(int(n))

	case op == 0x17:
		p.off++
		c.Kind = LongRef
		if c.KeyRef, err = p.take(3); err != nil {
			break
		}
		var n uint16
		if n, err = p.u16(); err != nil {
			break
		}
		c.DataRef, err = p.take(int(n))

	case op == 0x1B && start+1 < PageSize && p.img[start+1] == 0x00:
		c.Opcode = 0x1B00
		c.Kind = SimpleRef
		p.off += 2
		if c.KeyRef, err = p.take(1); err != nil {
			break
		}
		c.Key = uint16(p.img[c.KeyRef.Off])
		c.DataRef, err = p.take(4)

	case op >= 0x19 && op <= 0x1D:
		p.off++
		c.Kind = SimpleData
		var n byte
		if n, err = p.u8(); err != nil {
			break
		}
		c.DataRef, err = p.take(int(n) + fixedLen(op, 0x19))

	case op == 0x1E:
		p.off++
		c.Kind = LongRef
		var rlen byte
		if rlen, err = p.u8(); err != nil {
			break
		}
		if c.KeyRef, err = p.take(int(rlen)); err != nil {
			break
		}
		var n byte
		if n, err = p.u8(); err != nil {
			break
		}
		c.DataRef, err = p.take(int(n))

	case op == 0x1F:
		p.off++
		c.Kind = LongRef
		var rlen byte
		if rlen, err = p.u8(); err != nil {
			break
		}
		if c.KeyRef, err = p.take(int(rlen)); err != nil {
			break
		}
		var n uint16
		if n, err = p.u16(); err != nil {
			break
		}
		c.DataRef, err = p.take(int(n))

	case op == 0x20:
		p.off++
		c.Kind = Push
		if p.off >= PageSize {
			err = ErrDataExceedsPage
			break
		}
		if p.img[p.off] == 0xFE {
			p.off++
			c.KeyRef, err = p.take(8)
		} else {
			c.KeyRef, err = p.take(1)
		}

	case op == 0x23:
		p.off++
		c.Kind = SimpleData
		var n byte
		if n, err = p.u8(); err != nil {
			break
		}
		c.DataRef, err = p.take(int(n))

	case op == 0x28:
		p.off++
		c.Kind = Push
		c.KeyRef, err = p.take(2)

	case op == 0x30:
		p.off++
		c.Kind = Push
		c.KeyRef, err = p.take(3)

	case op == 0x38:
		p.off++
		c.Kind = Push
		var n byte
		if n, err = p.u8(); err != nil {
			break
		}
		c.KeyRef, err = p.take(int(n))

	case op == 0x3D || op == 0x40:
		p.off++
		c.Kind = Pop

	case op == 0x80:
		p.off++
		c.Kind = Noop

	default:
		return Chunk{}, &OpcodeError{Byte: raw, Offset: start}
	}
	if err != nil {
		return Chunk{}, err
	}

	switch c.Kind {
	case Push:
		p.stack.Push(c.KeyBytes())
	case Pop:
		p.stack.Pop()
	}
	if c.Delayed {
		p.stack.Pop()
	}
	return c, nil
}

// fixedLen computes the payload length families share: the base opcode
// encodes one byte, each following opcode two more.
func fixedLen(op, base byte) int {
	if op == base {
		return 1
	}
	return 2 * int(op-base)
}
