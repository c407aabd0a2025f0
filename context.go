package treedb

import (
	"encoding/binary"
	"fmt"

	"treedb/internal/tree"
	"treedb/internal/view"
	"treedb/keypath"
)

// counterKey is the simple key under which a directory stores its
// length-prefixed consistency counter.
const counterKey = 252

// View is a read-only cursor anchored at a path. Returned payload slices
// reference cached page images (or the staging buffer for uncommitted
// edits); copy them before holding across a Commit.
type View struct {
	v *view.View
}

// Path returns the path the view is anchored at.
func (v *View) Path() keypath.Path { return v.v.Path }

// Value returns the payload of the first simple-keyed value with the given
// key directly under the view's path.
func (v *View) Value(key uint16) ([]byte, bool) { return v.v.Value(key) }

// AllValues returns every simple-keyed value directly under the view's
// path, preserving chunk order.
func (v *View) AllValues() []KV {
	inner := v.v.AllValues()
	out := make([]KV, len(inner))
	for i, kv := range inner {
		out[i] = KV{Key: kv.Key, Data: kv.Data}
	}
	return out
}

// KV is one keyed value directly under a view's path.
type KV struct {
	Key  uint16
	Data []byte
}

// SimpleData returns every plain data payload directly under the view's
// path, preserving chunk order.
func (v *View) SimpleData() [][]byte { return v.v.SimpleData() }

// LongValue returns the payload of the long-keyed value with the given key
// directly under the view's path.
func (v *View) LongValue(key []byte) ([]byte, bool) { return v.v.LongValue(key) }

// Subdirs returns one sub-view per direct child directory, in tree order.
func (v *View) Subdirs() []*View {
	inner := v.v.Subdirs()
	out := make([]*View, len(inner))
	for i, sub := range inner {
		out[i] = &View{v: sub}
	}
	return out
}

// Subdir resolves a nested directory by its path relative to the view.
func (v *View) Subdir(rel keypath.Path) (*View, bool) {
	sub, ok := v.v.Subdir(rel)
	if !ok {
		return nil, false
	}
	return &View{v: sub}, true
}

// ViewAt resolves a path to a view over the directory it names.
func (c *Context) ViewAt(path keypath.Path) (*View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.resolveView(path)
}

// GetValue is the shorthand for the common read: the simple-keyed value at
// (path, key).
func (c *Context) GetValue(path keypath.Path, key uint16) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	v, err := c.resolveView(path)
	if err != nil {
		return nil, err
	}
	data, ok := v.Value(key)
	if !ok {
		return nil, fmt.Errorf("%w: key %d in %v", ErrKeyNotFound, key, path)
	}
	return data, nil
}

// GetLongValue reads the long-keyed value at (path, key).
func (c *Context) GetLongValue(path keypath.Path, key []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	v, err := c.resolveView(path)
	if err != nil {
		return nil, err
	}
	data, ok := v.LongValue(key)
	if !ok {
		return nil, fmt.Errorf("%w: long key %x in %v", ErrKeyNotFound, key, path)
	}
	return data, nil
}

// SetValue records a replacement payload for the simple-keyed value at
// (path, key). The edit lives in the staging buffer until Commit; reads
// through this context observe it immediately.
func (c *Context) SetValue(path keypath.Path, key uint16, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	return tree.Mutate(c.store, c.file, &c.stg, path, key, func([]byte) ([]byte, error) {
		return data, nil
	})
}

// SetLongValue records a replacement payload for the long-keyed value at
// (path, key).
func (c *Context) SetLongValue(path keypath.Path, key, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	return tree.MutateLong(c.store, c.file, &c.stg, path, key, func([]byte) ([]byte, error) {
		return data, nil
	})
}

// BumpCounter increments the length-prefixed big-endian consistency
// counter stored under key 252 of the directory at path.
func (c *Context) BumpCounter(path keypath.Path) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	return tree.Mutate(c.store, c.file, &c.stg, path, counterKey, func(old []byte) ([]byte, error) {
		if len(old) == 0 || 1+int(old[0]) > len(old) {
			return nil, fmt.Errorf("%w: malformed counter in %v", ErrBadInvariant, path)
		}
		n := int(old[0])
		var v uint64
		for _, b := range old[1 : 1+n] {
			v = v<<8 | uint64(b)
		}
		v++

		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], v)
		enc := buf[:]
		for len(enc) > 1 && enc[0] == 0 {
			enc = enc[1:]
		}
		out := make([]byte, 0, 1+len(enc))
		out = append(out, byte(len(enc)))
		return append(out, enc...), nil
	})
}
