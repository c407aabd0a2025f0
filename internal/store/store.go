// Package store implements the bounded page cache over one or more database
// files.
//
// Pages are read on demand (one 4 KiB transfer at index*4096), parsed once,
// and cached. Callers pin a page while walking it and unpin when done; only
// unpinned, unmodified pages are eviction candidates. Victim selection is
// delegated to the LRU-K replacer. Dirty pages stay cached until Commit
// re-serializes them and writes each image back at its original offset.
package store

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/cespare/xxhash/v2"

	"treedb/internal/logging"
	"treedb/internal/lruk"
	"treedb/internal/page"
	"treedb/internal/staging"
)

// FileID identifies a registered file within the store.
type FileID uint8

// PageIndex addresses a page within a file.
type PageIndex uint32

var (
	// ErrIO wraps an underlying read or write failure.
	ErrIO = errors.New("io failed")
	// ErrUnknownFile reports a FileID that was never registered.
	ErrUnknownFile = errors.New("unknown file")
)

// Config controls the cache.
type Config struct {
	// Capacity is the maximum number of cached pages. Defaults to 64.
	Capacity int
	// K is the replacer's history depth. Defaults to 2.
	K int
	// Logger for structured logging. If nil, logging is disabled.
	// The store scopes it with component="page-store".
	Logger *slog.Logger
}

type frameKey struct {
	file FileID
	page PageIndex
}

type frame struct {
	id   lruk.FrameID
	page *page.Page
	pins int
	hash uint64 // xxhash of the image currently on disk
}

// Store is the page cache. It is single-threaded cooperative: callers pin a
// page, do bounded work, and unpin; the store never yields during a borrow.
type Store struct {
	cfg    Config
	files  []*os.File
	frames map[frameKey]*frame
	keys   map[lruk.FrameID]frameKey
	nextID lruk.FrameID
	repl   *lruk.Replacer
	logger *slog.Logger
}

// New returns an empty store.
func New(cfg Config) *Store {
	cfg.Capacity = cmp.Or(cfg.Capacity, 64)
	cfg.K = cmp.Or(cfg.K, 2)
	return &Store{
		cfg:    cfg,
		frames: make(map[frameKey]*frame),
		keys:   make(map[lruk.FrameID]frameKey),
		repl:   lruk.New(cfg.K),
		logger: logging.Default(cfg.Logger).With("component", "page-store"),
	}
}

// Register opens a database file for paging and returns its id.
func (s *Store) Register(path string) (FileID, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIO, err)
	}
	s.files = append(s.files, f)
	return FileID(len(s.files) - 1), nil
}

func (s *Store) file(id FileID) (*os.File, error) {
	if int(id) >= len(s.files) || s.files[id] == nil {
		return nil, ErrUnknownFile
	}
	return s.files[id], nil
}

// PageCount returns the number of pages in a registered file.
func (s *Store) PageCount(id FileID) (uint32, error) {
	f, err := s.file(id)
	if err != nil {
		return 0, err
	}
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return uint32(info.Size() / page.Size), nil
}

// Get returns the page, reading and parsing it on a miss, and pins it.
// Every Get must be paired with an Unpin.
func (s *Store) Get(id FileID, idx PageIndex) (*page.Page, error) {
	key := frameKey{file: id, page: idx}
	if fr, ok := s.frames[key]; ok {
		s.repl.RecordAccess(fr.id)
		s.repl.SetEvictable(fr.id, false)
		fr.pins++
		return fr.page, nil
	}

	if len(s.frames) >= s.cfg.Capacity {
		s.evictOne()
	}

	f, err := s.file(id)
	if err != nil {
		return nil, err
	}
	img := make([]byte, page.Size)
	if _, err := f.ReadAt(img, int64(idx)*page.Size); err != nil {
		return nil, fmt.Errorf("%w: page %d: %v", ErrIO, idx, err)
	}
	p, err := page.Parse(img, uint32(idx))
	if err != nil {
		return nil, err
	}

	fr := &frame{id: s.nextID, page: p, pins: 1, hash: xxhash.Sum64(img)}
	s.nextID++
	s.frames[key] = fr
	s.keys[fr.id] = key
	s.repl.RecordAccess(fr.id)
	return p, nil
}

// Unpin releases a borrow obtained with Get. When the pin count reaches
// zero and the page carries no unflushed mutation, the frame becomes an
// eviction candidate.
func (s *Store) Unpin(id FileID, idx PageIndex) {
	fr, ok := s.frames[frameKey{file: id, page: idx}]
	if !ok || fr.pins == 0 {
		return
	}
	fr.pins--
	if fr.pins == 0 && !fr.page.Dirty() {
		s.repl.SetEvictable(fr.id, true)
	}
}

func (s *Store) evictOne() {
	id, ok := s.repl.Evict()
	if !ok {
		// Every frame is pinned or dirty; let the cache run over
		// capacity rather than fail the read.
		s.logger.Warn("page cache over capacity, no evictable frame",
			"frames", len(s.frames), "capacity", s.cfg.Capacity)
		return
	}
	key := s.keys[id]
	delete(s.keys, id)
	delete(s.frames, key)
}

// Cached returns the number of cached pages.
func (s *Store) Cached() int { return len(s.frames) }

// Digest returns the xxhash of the on-disk image of a cached page, or false
// when the page is not cached.
func (s *Store) Digest(id FileID, idx PageIndex) (uint64, bool) {
	fr, ok := s.frames[frameKey{file: id, page: idx}]
	if !ok {
		return 0, false
	}
	return fr.hash, true
}

// Commit serializes every dirty page of the file and writes each image back
// at its original offset (index*4096). Pages whose serialized image hashes
// identically to the on-disk image are skipped. Returns the number of pages
// written. The staging buffer stays valid until the caller resets it.
func (s *Store) Commit(id FileID, stg *staging.Buffer) (int, error) {
	f, err := s.file(id)
	if err != nil {
		return 0, err
	}

	var dirty []frameKey
	for key, fr := range s.frames {
		if key.file == id && fr.page.Dirty() {
			dirty = append(dirty, key)
		}
	}
	slices.SortFunc(dirty, func(a, b frameKey) int {
		return cmp.Compare(a.page, b.page)
	})

	written := 0
	for _, key := range dirty {
		fr := s.frames[key]
		img, err := fr.page.ToBytes(stg)
		if err != nil {
			return written, err
		}
		hash := xxhash.Sum64(img)
		if hash != fr.hash {
			if _, err := f.WriteAt(img, int64(key.page)*page.Size); err != nil {
				return written, fmt.Errorf("%w: page %d: %v", ErrIO, key.page, err)
			}
			written++
		}
		// Reparse so the cached page references the committed image and
		// no chunk keeps a staging token past the caller's reset.
		np, err := page.Parse(img, uint32(key.page))
		if err != nil {
			return written, err
		}
		fr.page = np
		fr.hash = hash
		if fr.pins == 0 {
			s.repl.SetEvictable(fr.id, true)
		}
	}
	if written > 0 {
		s.logger.Info("committed dirty pages", "pages", written)
	}
	return written, nil
}

// DirtyCount returns the number of cached pages with unflushed mutations.
func (s *Store) DirtyCount(id FileID) int {
	n := 0
	for key, fr := range s.frames {
		if key.file == id && fr.page.Dirty() {
			n++
		}
	}
	return n
}

// InvalidateClean drops every unpinned, unmodified cached page of the file.
// Used when the file changes underneath the store.
func (s *Store) InvalidateClean(id FileID) int {
	dropped := 0
	for key, fr := range s.frames {
		if key.file != id || fr.pins > 0 || fr.page.Dirty() {
			continue
		}
		s.repl.Remove(fr.id)
		delete(s.keys, fr.id)
		delete(s.frames, key)
		dropped++
	}
	if dropped > 0 {
		s.logger.Debug("invalidated clean pages", "pages", dropped)
	}
	return dropped
}

// ReadRaw reads a page image without caching or parsing it.
func (s *Store) ReadRaw(id FileID, idx PageIndex) ([]byte, error) {
	f, err := s.file(id)
	if err != nil {
		return nil, err
	}
	img := make([]byte, page.Size)
	if _, err := f.ReadAt(img, int64(idx)*page.Size); err != nil {
		return nil, fmt.Errorf("%w: page %d: %v", ErrIO, idx, err)
	}
	return img, nil
}

// Close releases every file handle. Cached state is discarded; dirty pages
// are not flushed.
func (s *Store) Close() error {
	var err error
	for i, f := range s.files {
		if f == nil {
			continue
		}
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		s.files[i] = nil
	}
	return err
}
