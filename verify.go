package treedb

import (
	"github.com/cespare/xxhash/v2"

	"treedb/internal/page"
	"treedb/internal/store"
	"treedb/internal/tree"
)

// PageInfo describes one page of the file as seen by VerifyPages.
type PageInfo struct {
	Index    uint32
	Level    uint32
	Deleted  bool
	Previous uint32
	Next     uint32
	Chunks   int
	Digest   uint64 // xxhash of the on-disk image
}

// VerifyPages audits the file: every page past the fixed sector must parse,
// and the logical paths along the leaf chain must be non-decreasing within
// and across leaves. It returns one entry per page with its image digest.
// The first structural problem is returned as an error wrapping
// ErrCorruptedPage or ErrBadInvariant.
func (c *Context) VerifyPages() ([]PageInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	count, err := c.store.PageCount(c.file)
	if err != nil {
		return nil, err
	}

	infos := make([]PageInfo, 0, count-1)
	for idx := uint32(1); idx < count; idx++ {
		img, err := c.store.ReadRaw(c.file, store.PageIndex(idx))
		if err != nil {
			return infos, err
		}
		p, err := page.Parse(img, idx)
		if err != nil {
			return infos, err
		}
		infos = append(infos, PageInfo{
			Index:    idx,
			Level:    p.Level,
			Deleted:  p.Deleted,
			Previous: p.Previous,
			Next:     p.Next,
			Chunks:   len(p.Chunks),
			Digest:   xxhash.Sum64(img),
		})
	}

	if err := tree.VerifyOrder(c.store, c.file); err != nil {
		return infos, err
	}
	return infos, nil
}
