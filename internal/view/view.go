// Package view implements the read cursor over a directory of the store's
// namespace.
//
// A View owns the ordered chunks that live strictly inside its path: the
// values and data chunks directly under it, plus the Push/Pop structure of
// every nested sub-directory. The directory's own boundary chunks are not
// part of the list, so a depth counter starting at zero classifies each
// chunk: depth 0 means directly under the view's path, deeper means inside
// a sub-directory.
package view

import (
	"bytes"

	"treedb/internal/chunk"
	"treedb/keypath"
	"treedb/internal/staging"
)

// View is a read-only cursor anchored at a path.
type View struct {
	Path   keypath.Path
	Chunks []chunk.Chunk

	stg *staging.Buffer
}

// New builds a view over the chunks strictly inside path.
func New(path keypath.Path, chunks []chunk.Chunk, stg *staging.Buffer) *View {
	return &View{Path: path, Chunks: chunks, stg: stg}
}

// KV is one keyed value directly under a view's path.
type KV struct {
	Key  uint16
	Data []byte
}

// depthAfter applies a chunk's path effect (including a delayed pop) to the
// running depth counter.
func depthAfter(depth int, c *chunk.Chunk) int {
	switch c.Kind {
	case chunk.Push:
		depth++
	case chunk.Pop:
		depth--
	}
	if c.Delayed {
		depth--
	}
	return depth
}

// Value returns the payload of the first simple-keyed value with the given
// key directly under the view's path.
func (v *View) Value(key uint16) ([]byte, bool) {
	depth := 0
	for i := range v.Chunks {
		c := &v.Chunks[i]
		if depth == 0 && c.Kind == chunk.SimpleRef && c.Key == key {
			return c.Data(v.stg), true
		}
		if depth = depthAfter(depth, c); depth < 0 {
			break
		}
	}
	return nil, false
}

// AllValues returns every simple-keyed value directly under the view's
// path, in chunk order.
func (v *View) AllValues() []KV {
	var out []KV
	depth := 0
	for i := range v.Chunks {
		c := &v.Chunks[i]
		if depth == 0 && c.Kind == chunk.SimpleRef {
			out = append(out, KV{Key: c.Key, Data: c.Data(v.stg)})
		}
		if depth = depthAfter(depth, c); depth < 0 {
			break
		}
	}
	return out
}

// SimpleData returns every plain data payload directly under the view's
// path, in chunk order.
func (v *View) SimpleData() [][]byte {
	var out [][]byte
	depth := 0
	for i := range v.Chunks {
		c := &v.Chunks[i]
		if depth == 0 && c.Kind == chunk.SimpleData {
			out = append(out, c.Data(v.stg))
		}
		if depth = depthAfter(depth, c); depth < 0 {
			break
		}
	}
	return out
}

// LongKV is one long-keyed value directly under a view's path.
type LongKV struct {
	Key  []byte
	Data []byte
}

// AllLongValues returns every long-keyed value directly under the view's
// path, in chunk order.
func (v *View) AllLongValues() []LongKV {
	var out []LongKV
	depth := 0
	for i := range v.Chunks {
		c := &v.Chunks[i]
		if depth == 0 && c.Kind == chunk.LongRef {
			out = append(out, LongKV{Key: c.KeyBytes(), Data: c.Data(v.stg)})
		}
		if depth = depthAfter(depth, c); depth < 0 {
			break
		}
	}
	return out
}

// LongValue returns the payload of the long-keyed value with the given key
// directly under the view's path.
func (v *View) LongValue(key []byte) ([]byte, bool) {
	depth := 0
	for i := range v.Chunks {
		c := &v.Chunks[i]
		if depth == 0 && c.Kind == chunk.LongRef && bytes.Equal(c.KeyBytes(), key) {
			return c.Data(v.stg), true
		}
		if depth = depthAfter(depth, c); depth < 0 {
			break
		}
	}
	return nil, false
}

// Subdirs returns one sub-view per direct child directory, in the order
// they appear. A child's chunk list spans its opening Push to its matching
// Pop, exclusive, so nested directories stay contained.
func (v *View) Subdirs() []*View {
	var out []*View
	var cur *View
	depth := 0
	for i := range v.Chunks {
		c := &v.Chunks[i]
		opening := depth == 0 && c.Kind == chunk.Push
		post := depthAfter(depth, c)

		switch {
		case opening:
			sub := v.Path.Clone()
			sub.Push(bytes.Clone(c.KeyBytes()))
			cur = New(sub, nil, v.stg)
			if post == 0 {
				// Delayed pop on the Push itself: an empty directory.
				out = append(out, cur)
				cur = nil
			}
		case cur != nil:
			closing := post <= 0
			if !(c.Kind == chunk.Pop && closing) {
				cur.Chunks = append(cur.Chunks, *c)
			}
			if closing {
				out = append(out, cur)
				cur = nil
			}
		}
		if post < 0 {
			break
		}
		depth = post
	}
	return out
}

// Subdir resolves a nested directory by its path relative to the view.
func (v *View) Subdir(rel keypath.Path) (*View, bool) {
	cur := v
	for _, component := range rel {
		var next *View
		for _, sub := range cur.Subdirs() {
			if bytes.Equal(sub.Path.Last(), component) {
				next = sub
				break
			}
		}
		if next == nil {
			return nil, false
		}
		cur = next
	}
	return cur, true
}
