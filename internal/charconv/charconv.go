// Package charconv converts the double-byte text encoding used for
// human-readable names inside the database file.
//
// The mapping is a hardcoded lookup of the pairs observed in real files;
// characters outside it decode to '?' and encode to the zero pair.
package charconv

var mapping = []struct {
	high, low byte
	ch        rune
}{
	{0x00, 0x00, '\x00'}, {0x02, 0x0a, ' '}, {0x02, 0x1d, '_'},
	{0x12, 0x0f, 'a'}, {0x12, 0x25, 'b'}, {0x12, 0x3d, 'c'},
	{0x12, 0x50, 'd'}, {0x12, 0x6b, 'e'}, {0x12, 0xa3, 'f'},
	{0x12, 0xb0, 'g'}, {0x12, 0xd3, 'h'}, {0x12, 0xec, 'i'},
	{0x13, 0x05, 'j'}, {0x13, 0x1e, 'k'}, {0x13, 0x30, 'l'},
	{0x13, 0x5f, 'm'}, {0x13, 0x6d, 'n'}, {0x13, 0x8e, 'o'},
	{0x13, 0xb3, 'p'}, {0x13, 0xc8, 'q'}, {0x13, 0xda, 'r'},
	{0x14, 0x10, 's'}, {0x14, 0x33, 't'}, {0x14, 0x53, 'u'},
	{0x14, 0x7b, 'v'}, {0x14, 0x8d, 'w'}, {0x14, 0x97, 'x'},
	{0x14, 0x9c, 'y'}, {0x14, 0xad, 'z'},
}

// DecodeChar maps one encoded pair to its character, '?' when unknown.
func DecodeChar(high, low byte) rune {
	for _, m := range mapping {
		if m.high == high && m.low == low {
			return m.ch
		}
	}
	return '?'
}

// DecodeBytes decodes a sequence of pairs, dropping a trailing NUL.
// A trailing odd byte is ignored.
func DecodeBytes(b []byte) string {
	out := make([]rune, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		out = append(out, DecodeChar(b[i], b[i+1]))
	}
	for len(out) > 0 && out[len(out)-1] == '\x00' {
		out = out[:len(out)-1]
	}
	return string(out)
}

// EncodeChar maps a character (case-insensitively) to its encoded pair,
// (0, 0) when unknown.
func EncodeChar(ch rune) (byte, byte) {
	if ch >= 'A' && ch <= 'Z' {
		ch += 'a' - 'A'
	}
	for _, m := range mapping {
		if m.ch == ch {
			return m.high, m.low
		}
	}
	return 0, 0
}

// EncodeText encodes a string as a pair sequence.
func EncodeText(text string) []byte {
	out := make([]byte, 0, 2*len(text))
	for _, ch := range text {
		high, low := EncodeChar(ch)
		out = append(out, high, low)
	}
	return out
}
