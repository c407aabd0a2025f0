package treedb

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// Watch subscribes to filesystem events on the database file and drops
// clean cached pages whenever the file changes underneath the store, so
// that subsequent reads observe what an external writer (the schema
// compile step rewrites files in place after a rename) left behind. Pinned
// and dirty pages are never dropped.
//
// The returned stop function cancels the subscription and waits for the
// watch goroutine to exit.
func (c *Context) Watch() (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(c.path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", c.path, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				c.mu.Lock()
				dropped := 0
				if !c.closed {
					dropped = c.store.InvalidateClean(c.file)
				}
				c.mu.Unlock()
				if dropped > 0 {
					c.logger.Info("file changed externally, cache invalidated",
						"event", ev.Op.String(), "pages", dropped)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Warn("watch error", "error", err)
			}
		}
	}()

	c.logger.Info("watching database file", "path", c.path)
	return func() {
		watcher.Close()
		<-done
	}, nil
}
