package treedb

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"

	"treedb/internal/chunk"
	"treedb/internal/tree"
	"treedb/keypath"
)

// Glob returns the paths of every directory whose rendered form matches the
// doublestar pattern, in tree order. Components render the way
// keypath.Path.String does: decoded integers where the marker-bit encoding
// applies, hex otherwise. A directory that spans a leaf seam is reported
// once.
func (c *Context) Glob(pattern string) ([]keypath.Path, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, doublestar.ErrBadPattern)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	var out []keypath.Path
	seen := make(map[string]bool)
	err := tree.Walk(c.store, c.file, func(label keypath.Path, ch *chunk.Chunk) bool {
		if ch.Kind != chunk.Push {
			return true
		}
		rendered := label.String()
		if seen[rendered] {
			return true
		}
		seen[rendered] = true
		if doublestar.MatchUnvalidated(pattern, rendered) {
			out = append(out, label.Clone())
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
