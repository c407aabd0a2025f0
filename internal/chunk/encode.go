package chunk

import (
	"encoding/binary"
	"fmt"

	"treedb/internal/staging"
)

// AppendWire appends the chunk's wire form to dst and returns the extended
// slice. Payload bytes come from the staging buffer when the chunk is
// Modified and from the original page image otherwise.
//
// The opcode written is a function of the variant and the current payload
// length. For an unmodified chunk the saved opcode is always compatible, so
// the output is byte-identical to the parsed input. A modified payload that
// no longer fits the saved opcode's shape falls over to the nearest
// explicit-length shape of the same variant and key width.
func (c *Chunk) AppendWire(dst []byte, stg *staging.Buffer) ([]byte, error) {
	switch c.Kind {
	case Pop:
		op := byte(c.Opcode)
		if c.Delayed {
			// 0x40 cannot carry the 0xC0 prefix; the delayed form
			// is always encoded through 0x3D.
			op = 0x3D
		}
		return append(dst, c.prefix(op)), nil
	case Noop:
		return append(dst, byte(c.Opcode)), nil
	case Push:
		return c.appendPush(dst)
	case Segment:
		return c.appendSegment(dst, stg)
	case SimpleData:
		return c.appendSimpleData(dst, stg)
	case SimpleRef:
		return c.appendSimpleRef(dst, stg)
	case LongRef:
		return c.appendLongRef(dst, stg)
	}
	return dst, fmt.Errorf("cannot serialize chunk kind %v", c.Kind)
}

func (c *Chunk) prefix(op byte) byte {
	if c.Delayed {
		return op | 0xC0
	}
	return op
}

func (c *Chunk) appendPush(dst []byte) ([]byte, error) {
	key := c.KeyBytes()
	switch c.Opcode {
	case 0x20:
		dst = append(dst, c.prefix(0x20))
		if len(key) == 8 {
			dst = append(dst, 0xFE)
		}
		return append(dst, key...), nil
	case 0x28, 0x30:
		return append(append(dst, c.prefix(byte(c.Opcode))), key...), nil
	case 0x38:
		dst = append(dst, c.prefix(0x38), byte(len(key)))
		return append(dst, key...), nil
	}
	return dst, fmt.Errorf("push chunk with opcode 0x%02x", c.Opcode)
}

func (c *Chunk) appendSegment(dst []byte, stg *staging.Buffer) ([]byte, error) {
	data := c.Data(stg)
	if len(data) > 0xFFFF {
		return dst, ErrDataExceedsPage
	}
	if c.Opcode>>8 == 0x0F {
		dst = append(dst, c.prefix(0x0F), byte(c.Opcode))
	} else {
		dst = append(dst, c.prefix(0x07))
	}
	dst = append(dst, c.Segment)
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(data)))
	return append(dst, data...), nil
}

func (c *Chunk) appendSimpleData(dst []byte, stg *staging.Buffer) ([]byte, error) {
	data := c.Data(stg)
	n := len(data)

	switch {
	case c.Opcode == 0x00 && n == 1:
		return append(append(dst, c.prefix(0x00)), data...), nil
	case c.Opcode == 0x08 && n == 2, c.Opcode == 0x10 && n == 3:
		return append(append(dst, c.prefix(byte(c.Opcode))), data...), nil
	case c.Opcode == 0x0E && n == 6:
		return append(append(dst, c.prefix(0x0E)), data...), nil
	case c.Opcode >= 0x11 && c.Opcode <= 0x15:
		if op, ok := familyOpcode(0x11, n-3); ok {
			return append(append(dst, c.prefix(op)), data...), nil
		}
	case c.Opcode >= 0x19 && c.Opcode <= 0x1D:
		// A zero length byte under 0x1B would reparse as the
		// disambiguated keyed shape; never emit that pairing.
		fits := func(op byte) bool {
			rem := n - fixedLen(op, 0x19)
			if rem < 0 || rem > 0xFF {
				return false
			}
			return !(op == 0x1B && rem == 0)
		}
		op := byte(c.Opcode)
		if !fits(op) {
			op = 0
			for cand := byte(0x19); cand <= 0x1D; cand++ {
				if fits(cand) {
					op = cand
					break
				}
			}
		}
		if op != 0 {
			dst = append(dst, c.prefix(op), byte(n-fixedLen(op, 0x19)))
			return append(dst, data...), nil
		}
	}

	// Explicit-length fallback.
	if n > 0xFF {
		return dst, ErrDataExceedsPage
	}
	dst = append(dst, c.prefix(0x23), byte(n))
	return append(dst, data...), nil
}

func (c *Chunk) appendSimpleRef(dst []byte, stg *staging.Buffer) ([]byte, error) {
	data := c.Data(stg)
	n := len(data)
	key := c.KeyBytes()

	switch {
	case c.Opcode >= 0x01 && c.Opcode <= 0x05:
		if op, ok := familyOpcode(0x01, n); ok {
			dst = append(dst, c.prefix(op), key[0])
			return append(dst, data...), nil
		}
		if n > 0xFF {
			return dst, ErrDataExceedsPage
		}
		dst = append(dst, c.prefix(0x06), key[0], byte(n))
		return append(dst, data...), nil

	case c.Opcode == 0x06:
		if n > 0xFF {
			return dst, ErrDataExceedsPage
		}
		dst = append(dst, c.prefix(0x06), key[0], byte(n))
		return append(dst, data...), nil

	case c.Opcode == 0x1B00:
		if n == 4 {
			dst = append(dst, c.prefix(0x1B), 0x00, key[0])
			return append(dst, data...), nil
		}
		if n > 0xFF {
			return dst, ErrDataExceedsPage
		}
		dst = append(dst, c.prefix(0x06), key[0], byte(n))
		return append(dst, data...), nil

	case c.Opcode >= 0x09 && c.Opcode <= 0x0D:
		if op, ok := familyOpcode(0x09, n); ok {
			dst = append(dst, c.prefix(op))
			dst = append(dst, key...)
			return append(dst, data...), nil
		}
		if n > 0xFF {
			return dst, ErrDataExceedsPage
		}
		// The 0x0E shape reads its key as a plain big-endian u16;
		// re-encode the decoded key rather than copying the marker form.
		dst = append(dst, c.prefix(0x0E))
		dst = binary.BigEndian.AppendUint16(dst, c.Key)
		dst = append(dst, byte(n))
		return append(dst, data...), nil

	case c.Opcode == 0x0E:
		if n > 0xFF {
			return dst, ErrDataExceedsPage
		}
		dst = append(dst, c.prefix(0x0E))
		dst = append(dst, key...)
		dst = append(dst, byte(n))
		return append(dst, data...), nil
	}
	return dst, fmt.Errorf("simple-ref chunk with opcode 0x%02x", c.Opcode)
}

func (c *Chunk) appendLongRef(dst []byte, stg *staging.Buffer) ([]byte, error) {
	data := c.Data(stg)
	n := len(data)
	key := c.KeyBytes()
	if n > 0xFFFF {
		return dst, ErrDataExceedsPage
	}

	switch c.Opcode {
	case 0x16, 0x17:
		if c.Opcode == 0x16 && n <= 0xFF {
			dst = append(dst, c.prefix(0x16))
			dst = append(dst, key...)
			dst = append(dst, byte(n))
			return append(dst, data...), nil
		}
		dst = append(dst, c.prefix(0x17))
		dst = append(dst, key...)
		dst = binary.BigEndian.AppendUint16(dst, uint16(n))
		return append(dst, data...), nil
	case 0x1E, 0x1F:
		if c.Opcode == 0x1E && n <= 0xFF {
			dst = append(dst, c.prefix(0x1E), byte(len(key)))
			dst = append(dst, key...)
			dst = append(dst, byte(n))
			return append(dst, data...), nil
		}
		dst = append(dst, c.prefix(0x1F), byte(len(key)))
		dst = append(dst, key...)
		dst = binary.BigEndian.AppendUint16(dst, uint16(n))
		return append(dst, data...), nil
	}
	return dst, fmt.Errorf("long-ref chunk with opcode 0x%02x", c.Opcode)
}

// familyOpcode returns the opcode of a fixed-length family (base encodes
// one payload byte, each following opcode two more) for the given length.
func familyOpcode(base byte, n int) (byte, bool) {
	if n == 1 {
		return base, true
	}
	if n >= 2 && n <= 8 && n%2 == 0 {
		return base + byte(n/2), true
	}
	return 0, false
}
