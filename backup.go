package treedb

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"treedb/internal/page"
)

// Backup writes a zstd-compressed snapshot of the on-disk file to w. The
// snapshot reflects committed state only; staged edits are not included.
// Together with RestoreBackup this is the safe-copy companion to in-place
// commits: snapshot, commit, and fall back to the snapshot on a failure.
func (c *Context) Backup(w io.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}

	src, err := os.Open(c.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer src.Close()

	enc, err := zstd.NewWriter(w,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return fmt.Errorf("create zstd encoder: %w", err)
	}
	n, err := io.Copy(enc, src)
	if err != nil {
		enc.Close()
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	c.logger.Info("wrote backup", "bytes", n)
	return nil
}

// RestoreBackup decompresses a snapshot produced by Backup into a new file
// at path. The restored file is validated to be a whole number of pages.
func RestoreBackup(r io.Reader, path string) error {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	n, err := io.Copy(dst, dec.IOReadCloser())
	if err != nil {
		dst.Close()
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if n%page.Size != 0 {
		return fmt.Errorf("%w: restored file length %d is not a page multiple", ErrCorruptedPage, n)
	}
	return nil
}
