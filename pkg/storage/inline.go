package storage

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/multierr"

	"github.com/nainya/timeindex/pkg/header"
	"github.com/nainya/timeindex/pkg/item"
)

// Inline stores each record together with its payload in the index file.
// Record start offsets are kept in memory and rebuilt by scanning on open.
type Inline struct {
	fileBase

	mu      sync.RWMutex
	offsets []int64
}

func newInline(opts Options) (*Inline, error) {
	return &Inline{fileBase: newFileBase(header.Inline, opts)}, nil
}

func (b *Inline) Create(h *header.Header) error {
	b.dataPath = ""
	b.prepareHeader(h)
	idx, err := openAppendFile(b.indexPath, true, false)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCreate, err)
	}
	b.index = idx
	if err := WriteHeaderFile(b.headerPath, h); err != nil {
		idx.Close()
		b.index = nil
		removeFiles(b.indexPath)
		return fmt.Errorf("%w: %v", ErrCreate, err)
	}
	return nil
}

func (b *Inline) Open() (*header.Header, error) {
	b.dataPath = ""
	h, err := b.openHeader()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}
	idx, err := openAppendFile(b.indexPath, false, b.opts.ReadOnly)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}
	b.index = idx

	if err := b.scan(); err != nil {
		idx.Close()
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}
	count := int64(len(b.offsets))
	if err := b.repair(h, count, func(p item.Position) (*item.Item, error) { return b.ReadItem(p, false) }); err != nil {
		idx.Close()
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}
	b.logOpened(count, h)
	return h, nil
}

// scan walks record headers to rebuild the offsets table. A torn record at
// the tail is dropped, and cut off when the file is writable.
func (b *Inline) scan() error {
	size := b.index.Size()
	hdr := make([]byte, InlineHeaderSize)
	var off int64
	for off+InlineHeaderSize <= size {
		if err := b.index.ReadAt(hdr, off); err != nil {
			return err
		}
		r, err := DecodeInlineHeader(hdr, off)
		if err != nil {
			return err
		}
		next := off + InlineRecordSize(r.Stored)
		if next > size {
			break
		}
		b.offsets = append(b.offsets, off)
		off = next
	}
	if off < size {
		b.log.Warn().Int64("offset", off).Int64("size", size).Msg("Discarding torn tail record")
		if !b.opts.ReadOnly {
			return b.index.Truncate(off)
		}
	}
	return nil
}

func (b *Inline) WriteItem(it *item.Item) error {
	if b.opts.ReadOnly {
		return ErrReadOnly
	}
	if it.Ref != nil && it.Data == nil {
		return fmt.Errorf("%w: inline index cannot store data references", ErrUnsupported)
	}
	stored, compressed := b.encodePayload(it.Data)
	r := RecordOf(it)
	r.Compressed = compressed
	off, err := b.index.Append(r.EncodeInline(stored))
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.offsets = append(b.offsets, off)
	b.mu.Unlock()

	it.Ref = &item.DataReference{Offset: off + InlineHeaderSize, Size: int64(len(stored)), Compressed: compressed}
	return nil
}

func (b *Inline) offset(pos item.Position) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if pos < 0 || int64(pos) >= int64(len(b.offsets)) {
		return 0, fmt.Errorf("%w: %d", ErrOutOfRange, pos)
	}
	return b.offsets[pos], nil
}

func (b *Inline) ReadItem(pos item.Position, full bool) (*item.Item, error) {
	off, err := b.offset(pos)
	if err != nil {
		return nil, err
	}
	hdr := make([]byte, InlineHeaderSize)
	if err := b.index.ReadAt(hdr, off); err != nil {
		return nil, err
	}
	r, err := DecodeInlineHeader(hdr, off)
	if err != nil {
		return nil, err
	}
	if !full {
		return r.Item(pos), nil
	}

	rec := make([]byte, InlineRecordSize(r.Stored))
	if err := b.index.ReadAt(rec, off); err != nil {
		return nil, err
	}
	r, stored, err := DecodeInline(rec, off)
	if err != nil {
		return nil, fmt.Errorf("record %d: %w", pos, err)
	}
	it := r.Item(pos)
	if it.Data, err = decodePayload(stored, it.Ref); err != nil {
		return nil, err
	}
	return it, nil
}

func (b *Inline) Load(style LoadStyle, fn func(*item.Item) error) error {
	if style == LoadNone {
		return nil
	}
	b.mu.RLock()
	n := len(b.offsets)
	b.mu.RUnlock()
	for pos := 0; pos < n; pos++ {
		it, err := b.ReadItem(item.Position(pos), style == LoadAll)
		if err != nil {
			return err
		}
		if err := fn(it); err != nil {
			return err
		}
	}
	return nil
}

func (b *Inline) ReadData(ref *item.DataReference) ([]byte, error) {
	buf := make([]byte, ref.Size)
	if err := b.index.ReadAt(buf, ref.Offset); err != nil {
		return nil, err
	}
	return decodePayload(buf, ref)
}

func (b *Inline) Flush(h *header.Header) error {
	if b.opts.ReadOnly {
		return nil
	}
	if err := b.index.Sync(); err != nil {
		return fmt.Errorf("%w: %v", ErrFlush, err)
	}
	return b.flushHeader(h)
}

func (b *Inline) Close() error {
	if b.index == nil {
		return nil
	}
	err := multierr.Append(b.Unlock(), b.index.Close())
	b.index = nil
	if err != nil {
		return fmt.Errorf("%w: %v", ErrClose, err)
	}
	return nil
}

// removeFiles deletes the files of a layout; used when creation fails half way
func removeFiles(paths ...string) {
	for _, p := range paths {
		if p != "" {
			os.Remove(p)
		}
	}
}
