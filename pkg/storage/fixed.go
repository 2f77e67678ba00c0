// ABOUTME: Layouts with fixed-size index records and a separate payload file
// ABOUTME: External owns its data file; Shadow reads a file it does not own

package storage

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/nainya/timeindex/pkg/header"
	"github.com/nainya/timeindex/pkg/item"
)

// fixed implements the index file of the external and shadow layouts. The
// record count is the index file size divided by FixedRecordSize.
type fixed struct {
	fileBase
	data *appendFile
}

// External keeps records in the index file and payloads in a data file
type External struct {
	fixed
}

// Shadow keeps records that reference byte ranges of an existing file. The
// data file is opened read only and never modified.
type Shadow struct {
	fixed
}

func newExternal(opts Options) (*External, error) {
	return &External{fixed{fileBase: newFileBase(header.External, opts)}}, nil
}

func newShadow(opts Options) (*Shadow, error) {
	opts.Compression = ""
	return &Shadow{fixed{fileBase: newFileBase(header.Shadow, opts)}}, nil
}

func (b *fixed) shadow() bool { return b.typ == header.Shadow }

func (b *fixed) Create(h *header.Header) error {
	// an opened shadow index takes its data path from the header
	if b.shadow() && b.opts.DataPath == "" {
		return fmt.Errorf("%w: shadow index needs a data path", ErrCreate)
	}
	b.prepareHeader(h)

	if b.shadow() {
		data, err := openAppendFile(b.dataPath, false, true)
		if err != nil {
			return fmt.Errorf("%w: shadowed file: %v", ErrCreate, err)
		}
		b.data = data
	} else {
		data, err := openAppendFile(b.dataPath, true, false)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCreate, err)
		}
		b.data = data
	}

	idx, err := openAppendFile(b.indexPath, true, false)
	if err != nil {
		b.closeData()
		return fmt.Errorf("%w: %v", ErrCreate, err)
	}
	b.index = idx

	if err := WriteHeaderFile(b.headerPath, h); err != nil {
		b.Close()
		removeFiles(b.indexPath)
		if !b.shadow() {
			removeFiles(b.dataPath)
		}
		return fmt.Errorf("%w: %v", ErrCreate, err)
	}
	return nil
}

func (b *fixed) closeData() {
	if b.data != nil {
		b.data.Close()
		b.data = nil
	}
}

func (b *fixed) Open() (*header.Header, error) {
	h, err := b.openHeader()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}

	data, err := openAppendFile(b.dataPath, false, b.opts.ReadOnly || b.shadow())
	if err != nil {
		return nil, fmt.Errorf("%w: data file: %v", ErrOpen, err)
	}
	b.data = data

	idx, err := openAppendFile(b.indexPath, false, b.opts.ReadOnly)
	if err != nil {
		b.closeData()
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}
	b.index = idx

	size := idx.Size()
	if tail := size % FixedRecordSize; tail != 0 {
		b.log.Warn().Int64("size", size).Int64("tail", tail).Msg("Discarding torn tail record")
		if !b.opts.ReadOnly {
			if err := idx.Truncate(size - tail); err != nil {
				b.Close()
				return nil, fmt.Errorf("%w: %v", ErrOpen, err)
			}
		}
	}

	count := b.count()
	if err := b.repair(h, count, func(p item.Position) (*item.Item, error) { return b.ReadItem(p, false) }); err != nil {
		b.Close()
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}
	b.logOpened(count, h)
	return h, nil
}

func (b *fixed) count() int64 {
	return b.index.Size() / FixedRecordSize
}

func (b *fixed) WriteItem(it *item.Item) error {
	if b.opts.ReadOnly {
		return ErrReadOnly
	}

	if b.shadow() {
		if it.Ref == nil {
			return fmt.Errorf("%w: shadow index only stores data references", ErrUnsupported)
		}
		// resolving the range proves it exists in the shadowed file
		probe := make([]byte, 1)
		if it.Ref.Size > 0 {
			if err := b.data.ReadAt(probe, it.Ref.Offset+it.Ref.Size-1); err != nil {
				return fmt.Errorf("data reference %d+%d: %w", it.Ref.Offset, it.Ref.Size, err)
			}
		}
		it.Data = nil
	} else {
		if it.Ref != nil && it.Data == nil {
			return fmt.Errorf("%w: external index cannot store data references", ErrUnsupported)
		}
		stored, compressed := b.encodePayload(it.Data)
		off, err := b.data.Append(stored)
		if err != nil {
			return err
		}
		it.Ref = &item.DataReference{Offset: off, Size: int64(len(stored)), Compressed: compressed}
	}

	_, err := b.index.Append(RecordOf(it).EncodeFixed())
	return err
}

func (b *fixed) ReadItem(pos item.Position, full bool) (*item.Item, error) {
	if pos < 0 || int64(pos) >= b.count() {
		return nil, fmt.Errorf("%w: %d", ErrOutOfRange, pos)
	}
	buf := make([]byte, FixedRecordSize)
	if err := b.index.ReadAt(buf, int64(pos)*FixedRecordSize); err != nil {
		return nil, err
	}
	r, err := DecodeFixed(buf)
	if err != nil {
		return nil, fmt.Errorf("record %d: %w", pos, err)
	}
	it := r.Item(pos)
	if full {
		if it.Data, err = b.ReadData(it.Ref); err != nil {
			return nil, fmt.Errorf("record %d: %w", pos, err)
		}
	}
	return it, nil
}

func (b *fixed) Load(style LoadStyle, fn func(*item.Item) error) error {
	if style == LoadNone {
		return nil
	}
	n := b.count()
	for pos := int64(0); pos < n; pos++ {
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

func (b *fixed) ReadData(ref *item.DataReference) ([]byte, error) {
	buf := make([]byte, ref.Size)
	if err := b.data.ReadAt(buf, ref.Offset); err != nil {
		return nil, err
	}
	return decodePayload(buf, ref)
}

func (b *fixed) Flush(h *header.Header) error {
	if b.opts.ReadOnly {
		return nil
	}
	var err error
	if !b.shadow() {
		err = multierr.Append(err, b.data.Sync())
	}
	err = multierr.Append(err, b.index.Sync())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFlush, err)
	}
	return b.flushHeader(h)
}

func (b *fixed) Close() error {
	var err error
	if b.index != nil {
		err = multierr.Combine(b.Unlock(), b.index.Close())
		b.index = nil
	}
	if b.data != nil {
		err = multierr.Append(err, b.data.Close())
		b.data = nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrClose, err)
	}
	return nil
}
