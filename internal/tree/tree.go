// Package tree implements B+ traversal over the page store: descending the
// routing levels to the leaf whose key range holds a path, scanning leaf
// chunk streams with the running path stack, and following the sibling
// chain when a directory or lookup spans a leaf boundary.
package tree

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"treedb/internal/chunk"
	"treedb/keypath"
	"treedb/internal/page"
	"treedb/internal/staging"
	"treedb/internal/store"
	"treedb/internal/view"
)

// RootIndex is the fixed page index of the B+ tree root.
const RootIndex = 1

var (
	// ErrPathNotFound reports a traversal that ended without matching
	// the requested path.
	ErrPathNotFound = errors.New("path not found")
	// ErrKeyNotFound reports a directory that exists but holds no value
	// under the requested key.
	ErrKeyNotFound = errors.New("key not found")
	// ErrBadInvariant reports a structurally unsound file: a page cycle
	// or out-of-order chunks.
	ErrBadInvariant = errors.New("bad invariant")
)

// walker iterates one page's chunks, maintaining the path stack. The label
// returned for each chunk is the chunk's logical path: the path a Push
// creates, the path a Pop closes, the current directory for anything else.
// Labels share the walker's backing array and are only valid until the next
// step; clone before retaining.
type walker struct {
	p     *page.Page
	i     int
	stack keypath.Path
}

func newWalker(p *page.Page) *walker {
	return &walker{p: p}
}

func (w *walker) next() (*chunk.Chunk, keypath.Path, bool) {
	if w.i >= len(w.p.Chunks) {
		return nil, nil, false
	}
	c := &w.p.Chunks[w.i]
	w.i++

	var label keypath.Path
	switch c.Kind {
	case chunk.Push:
		w.stack.Push(c.KeyBytes())
		label = w.stack
	case chunk.Pop:
		label = w.stack
		w.stack.Pop()
	default:
		label = w.stack
	}
	if c.Delayed {
		w.stack.Pop()
	}
	return c, label, true
}

// structural reports chunks that only move the path stack.
func structural(c *chunk.Chunk) bool {
	return c.Kind == chunk.Push || c.Kind == chunk.Pop || c.Kind == chunk.Noop
}

// FindLeaf descends from the root page to the leaf whose key range contains
// target. Internal levels route by path: the first routing chunk whose key
// is >= target names the child to descend into; a routing level that ends
// before such a chunk continues on its own sibling. The returned leaf is
// pinned; the caller unpins it.
func FindLeaf(st *store.Store, f store.FileID, target keypath.Path) (*page.Page, error) {
	idx := store.PageIndex(RootIndex)
	seen := make(map[store.PageIndex]bool)
	for {
		if seen[idx] {
			return nil, fmt.Errorf("%w: page cycle at %d", ErrBadInvariant, idx)
		}
		seen[idx] = true

		p, err := st.Get(f, idx)
		if err != nil {
			return nil, err
		}
		if p.Level == 0 {
			return p, nil
		}

		child, ok, err := routeChild(p, target)
		next := p.Next
		st.Unpin(f, idx)
		if err != nil {
			return nil, err
		}
		if !ok {
			if next == 0 {
				return nil, fmt.Errorf("%w: %v", ErrPathNotFound, target)
			}
			idx = store.PageIndex(next)
			continue
		}
		idx = child
	}
}

// routeChild scans an internal page for the first routing entry whose key
// is >= target and decodes the child page index from its payload.
func routeChild(p *page.Page, target keypath.Path) (store.PageIndex, bool, error) {
	w := newWalker(p)
	for {
		c, label, ok := w.next()
		if !ok {
			return 0, false, nil
		}
		if structural(c) {
			continue
		}
		if keypath.Compare(label, target) < 0 {
			continue
		}
		data := c.Data(nil)
		if len(data) < 4 {
			return 0, false, fmt.Errorf("%w: page %d: short routing entry", page.ErrCorrupted, p.Index)
		}
		child := binary.BigEndian.Uint32(data[len(data)-4:])
		if child == 0 {
			return 0, false, fmt.Errorf("%w: page %d: zero child index", page.ErrCorrupted, p.Index)
		}
		return store.PageIndex(child), true, nil
	}
}

// ViewAt materializes the view anchored at target: the chunks strictly
// inside the directory, collected across sibling leaves when the directory
// spans a boundary. The empty path yields a view over the whole namespace.
func ViewAt(st *store.Store, f store.FileID, stg *staging.Buffer, target keypath.Path) (*view.View, error) {
	leaf, err := FindLeaf(st, f, target)
	if err != nil {
		return nil, err
	}

	collecting := len(target) == 0
	var chunks []chunk.Chunk
	var resume keypath.Path // stack depth reached when the previous leaf ended
	seen := make(map[store.PageIndex]bool)
	done := false

	for {
		if seen[store.PageIndex(leaf.Index)] {
			st.Unpin(f, store.PageIndex(leaf.Index))
			return nil, fmt.Errorf("%w: leaf cycle at %d", ErrBadInvariant, leaf.Index)
		}
		seen[store.PageIndex(leaf.Index)] = true

		w := newWalker(leaf)
		resync := resume != nil
		for !done {
			c, label, ok := w.next()
			if !ok {
				break
			}

			if !collecting {
				if c.Kind == chunk.Push && label.Equal(target) {
					collecting = true
					continue
				}
				if !structural(c) && keypath.Compare(label, target) > 0 && !target.Contains(label) {
					st.Unpin(f, store.PageIndex(leaf.Index))
					return nil, fmt.Errorf("%w: %v", ErrPathNotFound, target)
				}
				continue
			}

			// A leaf seam restarts the chunk stream with pushes that
			// rebuild the directory context in effect when the
			// previous leaf ended; those are not new content.
			if resync {
				if c.Kind == chunk.Push && len(label) <= len(resume) && label.Equal(resume[:len(label)]) {
					continue
				}
				resync = false
			}

			switch {
			case c.Kind == chunk.Pop && label.Equal(target):
				done = true // the directory's closing pop
			case c.Kind == chunk.Push && label.Equal(target):
				// Re-established context after a leaf seam.
			case target.Contains(label) && len(label) > len(target):
				chunks = append(chunks, *c)
			case label.Equal(target) && !structural(c):
				chunks = append(chunks, *c)
			case c.Kind == chunk.Pop || c.Kind == chunk.Noop:
				// Context pops beneath the target at a seam.
			case keypath.Compare(label, target) > 0:
				done = true
			}
		}

		next := leaf.Next
		resume = w.stack.Clone()
		st.Unpin(f, store.PageIndex(leaf.Index))
		if done || next == 0 {
			break
		}
		leaf, err = st.Get(f, store.PageIndex(next))
		if err != nil {
			return nil, err
		}
	}

	if !collecting {
		return nil, fmt.Errorf("%w: %v", ErrPathNotFound, target)
	}
	return view.New(target.Clone(), chunks, stg), nil
}

// Mutate locates the simple-keyed value at (path, key) and replaces its
// payload with fn(old), staging the new bytes and marking the leaf dirty.
func Mutate(st *store.Store, f store.FileID, stg *staging.Buffer, path keypath.Path, key uint16, fn func(old []byte) ([]byte, error)) error {
	match := func(c *chunk.Chunk, label keypath.Path) bool {
		return c.Kind == chunk.SimpleRef && c.Key == key && label.Equal(path)
	}
	return mutate(st, f, stg, path, match, fn)
}

// MutateLong is Mutate for long-keyed values.
func MutateLong(st *store.Store, f store.FileID, stg *staging.Buffer, path keypath.Path, key []byte, fn func(old []byte) ([]byte, error)) error {
	match := func(c *chunk.Chunk, label keypath.Path) bool {
		return c.Kind == chunk.LongRef && bytes.Equal(c.KeyBytes(), key) && label.Equal(path)
	}
	return mutate(st, f, stg, path, match, fn)
}

func mutate(st *store.Store, f store.FileID, stg *staging.Buffer, path keypath.Path, match func(*chunk.Chunk, keypath.Path) bool, fn func(old []byte) ([]byte, error)) error {
	leaf, err := FindLeaf(st, f, path)
	if err != nil {
		return err
	}

	sawDir := false
	seen := make(map[store.PageIndex]bool)
	for {
		if seen[store.PageIndex(leaf.Index)] {
			st.Unpin(f, store.PageIndex(leaf.Index))
			return fmt.Errorf("%w: leaf cycle at %d", ErrBadInvariant, leaf.Index)
		}
		seen[store.PageIndex(leaf.Index)] = true

		w := newWalker(leaf)
		for {
			c, label, ok := w.next()
			if !ok {
				break
			}
			if path.Contains(label) || label.Equal(path) {
				sawDir = true
			}
			if match(c, label) {
				data, err := fn(c.Data(stg))
				if err != nil {
					st.Unpin(f, store.PageIndex(leaf.Index))
					return err
				}
				c.SetData(stg, data)
				leaf.MarkDirty()
				st.Unpin(f, store.PageIndex(leaf.Index))
				return nil
			}
			if !structural(c) && keypath.Compare(label, path) > 0 && !path.Contains(label) {
				st.Unpin(f, store.PageIndex(leaf.Index))
				if sawDir {
					return fmt.Errorf("%w: key in %v", ErrKeyNotFound, path)
				}
				return fmt.Errorf("%w: %v", ErrPathNotFound, path)
			}
		}

		next := leaf.Next
		st.Unpin(f, store.PageIndex(leaf.Index))
		if next == 0 {
			if sawDir {
				return fmt.Errorf("%w: key in %v", ErrKeyNotFound, path)
			}
			return fmt.Errorf("%w: %v", ErrPathNotFound, path)
		}
		leaf, err = st.Get(f, store.PageIndex(next))
		if err != nil {
			return err
		}
	}
}

// Walk visits every chunk of every leaf in sibling order, leftmost first.
// The label passed to fn shares the walker's backing array; clone before
// retaining. fn returning false stops the walk.
func Walk(st *store.Store, f store.FileID, fn func(label keypath.Path, c *chunk.Chunk) bool) error {
	leaf, err := FindLeaf(st, f, nil)
	if err != nil {
		return err
	}
	seen := make(map[store.PageIndex]bool)
	for {
		if seen[store.PageIndex(leaf.Index)] {
			st.Unpin(f, store.PageIndex(leaf.Index))
			return fmt.Errorf("%w: leaf cycle at %d", ErrBadInvariant, leaf.Index)
		}
		seen[store.PageIndex(leaf.Index)] = true

		w := newWalker(leaf)
		for {
			c, label, ok := w.next()
			if !ok {
				break
			}
			if !fn(label, c) {
				st.Unpin(f, store.PageIndex(leaf.Index))
				return nil
			}
		}

		next := leaf.Next
		st.Unpin(f, store.PageIndex(leaf.Index))
		if next == 0 {
			return nil
		}
		leaf, err = st.Get(f, store.PageIndex(next))
		if err != nil {
			return err
		}
	}
}

// VerifyOrder walks the leaf chain checking that the logical paths of data
// chunks are non-decreasing, within each leaf and across the sibling links.
// Structural chunks are skipped: context pushes after a leaf seam dip below
// the preceding data path by construction.
func VerifyOrder(st *store.Store, f store.FileID) error {
	var last keypath.Path
	have := false
	var fail error
	err := Walk(st, f, func(label keypath.Path, c *chunk.Chunk) bool {
		if structural(c) {
			return true
		}
		if have && keypath.Compare(label, last) < 0 {
			fail = fmt.Errorf("%w: out-of-order path %v after %v", ErrBadInvariant, label.Clone(), last)
			return false
		}
		last = label.Clone()
		have = true
		return true
	})
	if err != nil {
		return err
	}
	return fail
}
