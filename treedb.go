// Package treedb reads, navigates, and selectively edits database files
// organized as a B+ tree of fixed-size 4 KiB pages.
//
// Each page holds a stream of typed chunks that, interpreted with a running
// directory-path stack, populate a hierarchical key/value namespace. The
// package exposes that namespace as a directory tree: callers navigate by
// path (an ordered sequence of byte-string components, see package
// keypath), enumerate sub-directories, read keyed values, and commit
// in-place edits back to disk.
//
// A Context owns everything for one open file: the bounded page cache with
// its LRU-K replacer, and the staging buffer that holds pending edits until
// Commit. The core is single-threaded cooperative; the Context serializes
// its public surface with a mutex so it is safe to embed from multiple
// goroutines.
package treedb

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"treedb/internal/logging"
	"treedb/internal/page"
	"treedb/internal/staging"
	"treedb/internal/store"
	"treedb/internal/tree"
	"treedb/keypath"
)

// Error kinds surfaced to callers. All errors wrap one of these; nothing is
// retried inside the core.
var (
	// ErrCorruptedPage reports a parse failure: unrecognized opcode,
	// payload crossing the page boundary, impossible header.
	ErrCorruptedPage = page.ErrCorrupted
	// ErrPathNotFound reports a traversal that ended without matching.
	ErrPathNotFound = tree.ErrPathNotFound
	// ErrKeyNotFound reports a directory that exists without the key.
	ErrKeyNotFound = tree.ErrKeyNotFound
	// ErrBadInvariant reports a structurally unsound file.
	ErrBadInvariant = tree.ErrBadInvariant
	// ErrIO wraps an underlying read or write failure.
	ErrIO = store.ErrIO
	// ErrClosed reports use of a closed context.
	ErrClosed = errors.New("context is closed")
)

// Config controls an open database file.
type Config struct {
	// CacheSize is the maximum number of cached pages. Defaults to 64.
	CacheSize int
	// K is the replacer history depth. Defaults to 2.
	K int
	// Logger for structured logging. If nil, logging is disabled.
	// The context scopes it with its session id at construction time.
	Logger *slog.Logger
}

// Context is an open database file: page cache, staging buffer, and the
// cursor API over the namespace inside the file. There is no process-wide
// state beyond what a Context owns.
type Context struct {
	mu     sync.Mutex
	id     uuid.UUID
	path   string
	store  *store.Store
	file   store.FileID
	stg    staging.Buffer
	logger *slog.Logger
	closed bool
}

// Open opens a database file for reading and writing and initializes the
// page store. The file must be a whole number of pages and hold at least
// the fixed sector and the root page.
func Open(path string, cfg Config) (*Context, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if info.Size()%page.Size != 0 || info.Size() < 2*page.Size {
		return nil, fmt.Errorf("%w: file length %d is not a page multiple of at least two pages", ErrCorruptedPage, info.Size())
	}

	st := store.New(store.Config{
		Capacity: cfg.CacheSize,
		K:        cfg.K,
		Logger:   cfg.Logger,
	})
	fid, err := st.Register(path)
	if err != nil {
		st.Close()
		return nil, err
	}

	id := uuid.Must(uuid.NewV7())
	ctx := &Context{
		id:     id,
		path:   path,
		store:  st,
		file:   fid,
		logger: logging.Default(cfg.Logger).With("component", "context", "session", id.String()),
	}
	ctx.logger.Info("opened database file", "path", path, "pages", info.Size()/page.Size)
	return ctx, nil
}

// ID returns the session id minted for this context.
func (c *Context) ID() uuid.UUID { return c.id }

// Path returns the file path the context was opened on.
func (c *Context) Path() string { return c.path }

// Pending returns the number of staged edit bytes awaiting commit.
func (c *Context) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stg.Len()
}

// Close releases the file handle. Uncommitted edits are discarded; callers
// commit first if they mean to keep them.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if n := c.store.DirtyCount(c.file); n > 0 {
		c.logger.Warn("closing with uncommitted edits", "dirty_pages", n)
	}
	c.logger.Info("closed database file", "path", c.path)
	return c.store.Close()
}

// Commit serializes every dirty page and writes each 4 KiB image back to
// the file at its original offset, then clears the staging buffer. Pages
// are written in index order; partial-failure recovery is the caller's
// concern (Backup provides the safe-copy companion).
func (c *Context) Commit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	written, err := c.store.Commit(c.file, &c.stg)
	if err != nil {
		return err
	}
	c.stg.Reset()
	if written > 0 {
		c.logger.Info("commit complete", "pages_written", written)
	}
	return nil
}

func (c *Context) checkOpen() error {
	if c.closed {
		return ErrClosed
	}
	return nil
}

// resolveView materializes the view at path with the caller holding c.mu.
func (c *Context) resolveView(path keypath.Path) (*View, error) {
	v, err := tree.ViewAt(c.store, c.file, &c.stg, path)
	if err != nil {
		return nil, err
	}
	return &View{v: v}, nil
}
