// ABOUTME: Core state machine: activate, deactivate, terminate, flush, close
// ABOUTME: Closed and activated are independent flags; terminated lives in the header

package index

import (
	"go.uber.org/multierr"

	"github.com/nainya/timeindex/pkg/item"
)

// Activate makes the core accept appends. File layouts take an exclusive
// write lock; a lock held elsewhere yields ErrWriteLocked, which callers may
// retry.
func (c *Core) Activate() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.closed:
		return c.fail("activate", ErrClosed)
	case c.activated:
		return nil
	case c.readOnlyLocked():
		return c.fail("activate", ErrReadOnly)
	}

	if err := c.backend.Lock(); err != nil {
		return c.fail("activate", storageError(err, ErrActivation))
	}
	c.activated = true

	if c.set.flushInterval > 0 && c.typ.Persistent() && c.flusher == nil {
		c.flusher = newFlusher(c.set.flushInterval, c.Flush, c.log)
		c.flusher.Start()
	}
	c.log.Info().Bool("terminated", c.hdr.Terminated).Msg("Index activated")
	return nil
}

// Deactivate flushes and stops accepting appends, releasing the write lock
func (c *Core) Deactivate() error {
	c.mu.Lock()
	if !c.activated || c.closed {
		c.mu.Unlock()
		return nil
	}
	c.activated = false
	f := c.flusher
	c.flusher = nil

	c.hdr.EndTime = c.clock()
	err := c.backend.Flush(c.hdr)
	if uerr := c.backend.Unlock(); uerr != nil {
		err = multierr.Append(err, uerr)
	}
	c.mu.Unlock()

	// the flusher calls Flush, which needs the lock released
	if f != nil {
		f.Stop()
	}
	if err != nil {
		return c.fail("deactivate", storageError(err, ErrFlush))
	}
	c.log.Info().Msg("Index deactivated")
	return nil
}

// Terminate permanently refuses further appends. The flag is persisted for
// file layouts so reopening does not revive the index.
func (c *Core) Terminate() error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return c.fail("terminate", ErrClosed)
	case c.hdr.Terminated:
		c.mu.Unlock()
		return nil
	case c.readOnlyLocked():
		c.mu.Unlock()
		return c.fail("terminate", ErrReadOnly)
	}
	c.hdr.Terminate()
	c.hdr.EndTime = c.clock()
	err := c.backend.Flush(c.hdr)
	c.mu.Unlock()

	if err != nil {
		return c.fail("terminate", storageError(err, ErrFlush))
	}
	c.log.Info().Int64("length", c.Length()).Msg("Index terminated")
	if c.events.active() {
		c.events.fire(Event{Kind: Terminated, Index: c.name, IndexID: c.id, Position: item.NoPosition})
	}
	return nil
}

// Flush persists buffered records and the header
func (c *Core) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.fail("flush", ErrClosed)
	}
	if c.activated {
		c.hdr.EndTime = c.clock()
	}
	if err := c.backend.Flush(c.hdr); err != nil {
		return c.fail("flush", storageError(err, ErrFlush))
	}
	return nil
}

// commit persists pending changes of a writing core; readers have nothing
// to commit
func (c *Core) commit() error {
	if !c.IsActivated() {
		return nil
	}
	return c.Flush()
}

// reallyClose tears the core down. It runs with the directory gate for the
// core's URI held, once the handle count has reached zero. Every step runs
// even if an earlier one fails.
func (c *Core) reallyClose() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	f := c.flusher
	c.flusher = nil
	c.mu.Unlock()
	if f != nil {
		f.Stop()
	}

	var err error
	c.mu.Lock()
	if c.activated {
		c.hdr.EndTime = c.clock()
		if ferr := c.backend.Flush(c.hdr); ferr != nil {
			err = multierr.Append(err, ferr)
		}
		if uerr := c.backend.Unlock(); uerr != nil {
			err = multierr.Append(err, uerr)
		}
	}
	if cerr := c.backend.Close(); cerr != nil {
		err = multierr.Append(err, cerr)
	}
	c.closed = true
	c.activated = false
	length := c.hdr.Length
	c.mu.Unlock()

	c.cache.Close()
	c.memo.clear()
	if c.events.active() {
		c.events.fire(Event{Kind: Closed, Index: c.name, IndexID: c.id, Position: item.NoPosition})
	}
	c.events.closeSubscribers()
	if c.dir != nil {
		c.dir.Unregister(c)
	}
	c.metrics.RecordRealClose()

	if err != nil {
		c.log.Error().Err(err).Msg("Index closed with errors")
		return c.fail("close", storageError(err, ErrClose))
	}
	c.log.Info().Int64("length", length).Msg("Index closed")
	return nil
}
