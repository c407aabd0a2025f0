// Package staging implements the byte buffer that holds pending edits
// between a mutation and the commit that writes them out.
//
// Edited chunk payloads are appended to a single growable buffer and
// addressed by (offset, length) tokens. The buffer grows monotonically
// during a session and is cleared only after a successful commit, so a
// token handed out for a mutation stays valid until then.
package staging

// Ref addresses a byte range, either inside a staging buffer or inside a
// page image, depending on who hands it out.
type Ref struct {
	Off uint32
	Len uint32
}

// Slice resolves the ref against a backing buffer.
func (r Ref) Slice(buf []byte) []byte {
	return buf[r.Off : r.Off+r.Len]
}

// Buffer is an append-only edit buffer.
// The zero value is ready to use.
type Buffer struct {
	buf []byte
}

// Store appends data and returns a token addressing it.
func (b *Buffer) Store(data []byte) Ref {
	ref := Ref{Off: uint32(len(b.buf)), Len: uint32(len(data))}
	b.buf = append(b.buf, data...)
	return ref
}

// Load resolves a token previously returned by Store. The returned slice
// aliases the buffer and must not be modified.
func (b *Buffer) Load(ref Ref) []byte {
	return ref.Slice(b.buf)
}

// Len returns the number of staged bytes.
func (b *Buffer) Len() int {
	return len(b.buf)
}

// Reset discards all staged bytes. Outstanding tokens become invalid;
// callers reset only after the chunks holding them have been rewritten.
func (b *Buffer) Reset() {
	b.buf = b.buf[:0]
}
