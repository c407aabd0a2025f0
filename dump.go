package treedb

import (
	"bufio"
	"fmt"
	"io"

	"treedb/internal/chunk"
	"treedb/internal/tree"
	"treedb/keypath"
)

// DumpTree walks every leaf in sibling order and writes one line per chunk:
// the logical path, the variant, the key when there is one, and the payload
// size. A debugging aid built on the leaf-chain walk (tree.Walk).
func (c *Context) DumpTree(w io.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	var writeErr error
	err := tree.Walk(c.store, c.file, func(label keypath.Path, ch *chunk.Chunk) bool {
		switch ch.Kind {
		case chunk.SimpleRef:
			_, writeErr = fmt.Fprintf(bw, "%s %s key=%d len=%d\n",
				label, ch.Kind, ch.Key, ch.DataRef.Len)
		case chunk.LongRef:
			_, writeErr = fmt.Fprintf(bw, "%s %s key=%x len=%d\n",
				label, ch.Kind, ch.KeyBytes(), ch.DataRef.Len)
		case chunk.Segment:
			_, writeErr = fmt.Fprintf(bw, "%s %s index=%d len=%d\n",
				label, ch.Kind, ch.Segment, ch.DataRef.Len)
		case chunk.SimpleData:
			_, writeErr = fmt.Fprintf(bw, "%s %s len=%d\n",
				label, ch.Kind, ch.DataRef.Len)
		default:
			_, writeErr = fmt.Fprintf(bw, "%s %s\n", label, ch.Kind)
		}
		return writeErr == nil
	})
	if err != nil {
		return err
	}
	if writeErr != nil {
		return writeErr
	}
	return bw.Flush()
}
