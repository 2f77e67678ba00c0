// ABOUTME: Shared machinery of the file layouts: buffered append files,
// ABOUTME: advisory write lock, header persistence, payload compression

package storage

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/golang/snappy"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/nainya/timeindex/pkg/header"
	"github.com/nainya/timeindex/pkg/item"
)

const appendBufferSize = 64 << 10

// appendFile is a file that only grows. Appends are buffered; reads of
// bytes still in the buffer flush it first.
type appendFile struct {
	mu      sync.Mutex
	path    string
	f       *os.File
	w       *bufio.Writer // nil when read only
	size    int64         // logical size including buffered bytes
	flushed int64         // bytes known to be in the file
}

func openAppendFile(path string, create, readOnly bool) (*appendFile, error) {
	flag := os.O_RDWR | os.O_APPEND
	if readOnly {
		flag = os.O_RDONLY
	}
	if create {
		flag |= os.O_CREATE | os.O_EXCL
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	a := &appendFile{path: path, f: f, size: st.Size(), flushed: st.Size()}
	if !readOnly {
		a.w = bufio.NewWriterSize(f, appendBufferSize)
	}
	return a, nil
}

// Append writes b at the end and returns the offset it was written at
func (a *appendFile) Append(b []byte) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.w == nil {
		return 0, ErrReadOnly
	}
	off := a.size
	if _, err := a.w.Write(b); err != nil {
		return 0, err
	}
	a.size += int64(len(b))
	return off, nil
}

// ReadAt fills p from off
func (a *appendFile) ReadAt(p []byte, off int64) error {
	end := off + int64(len(p))
	a.mu.Lock()
	if end > a.size && a.w == nil {
		// files we never write to may still grow underneath us
		if st, err := a.f.Stat(); err == nil {
			a.size, a.flushed = st.Size(), st.Size()
		}
	}
	if end > a.size {
		a.mu.Unlock()
		return ErrTruncated
	}
	if end > a.flushed {
		if err := a.flushLocked(); err != nil {
			a.mu.Unlock()
			return err
		}
	}
	a.mu.Unlock()

	if _, err := a.f.ReadAt(p, off); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrTruncated
		}
		return err
	}
	return nil
}

func (a *appendFile) flushLocked() error {
	if a.w == nil {
		return nil
	}
	if err := a.w.Flush(); err != nil {
		return err
	}
	a.flushed = a.size
	return nil
}

// Sync flushes buffered bytes and fsyncs the file
func (a *appendFile) Sync() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.w == nil {
		return nil
	}
	if err := a.flushLocked(); err != nil {
		return err
	}
	return a.f.Sync()
}

// Truncate drops everything past size; used to discard a torn tail record
func (a *appendFile) Truncate(size int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.w == nil {
		return ErrReadOnly
	}
	if err := a.flushLocked(); err != nil {
		return err
	}
	if err := a.f.Truncate(size); err != nil {
		return err
	}
	a.size, a.flushed = size, size
	return nil
}

func (a *appendFile) Size() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}

func (a *appendFile) Fd() int {
	return int(a.f.Fd())
}

func (a *appendFile) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var err error
	if a.w != nil {
		err = a.flushLocked()
	}
	if cerr := a.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// fileBase holds what the inline, external and shadow layouts share
type fileBase struct {
	opts       Options
	log        zerolog.Logger
	typ        header.Type
	headerPath string
	indexPath  string
	dataPath   string

	index    *appendFile
	compress bool

	lockMu sync.Mutex
	locked bool
}

func newFileBase(typ header.Type, opts Options) fileBase {
	hp, ip, dp := Paths(opts.Path)
	if opts.DataPath != "" {
		dp = opts.DataPath
	}
	log := opts.logger().With().Str("layout", typ.String()).Str("index_path", ip).Logger()
	return fileBase{
		opts:       opts,
		log:        log,
		typ:        typ,
		headerPath: hp,
		indexPath:  ip,
		dataPath:   dp,
		compress:   opts.Compression == "snappy",
	}
}

func (b *fileBase) Type() header.Type { return b.typ }

// prepareHeader records layout details in a new header
func (b *fileBase) prepareHeader(h *header.Header) {
	h.Type = b.typ
	h.HeaderPath = b.headerPath
	h.IndexPath = b.indexPath
	h.DataPath = b.dataPath
	if b.compress {
		h.SetOption(header.OptionCompression, "snappy")
	}
}

// openHeader reads the header and applies its persisted options
func (b *fileBase) openHeader() (*header.Header, error) {
	h, err := ReadHeaderFile(b.headerPath)
	if err != nil {
		return nil, err
	}
	if h.Type != b.typ {
		return nil, fmt.Errorf("header of %s describes a %s index, not %s", b.headerPath, h.Type, b.typ)
	}
	if c, ok := h.Option(header.OptionCompression); ok {
		b.compress = c == "snappy"
	}
	if b.typ == header.Shadow && h.DataPath != "" && b.opts.DataPath == "" {
		b.dataPath = h.DataPath
	}
	h.HeaderPath = b.headerPath
	h.IndexPath = b.indexPath
	h.DataPath = b.dataPath
	return h, nil
}

// repair makes h agree with the count records actually stored
func (b *fileBase) repair(h *header.Header, count int64, read func(item.Position) (*item.Item, error)) error {
	if h.Length == count {
		return nil
	}
	b.log.Warn().
		Int64("header_length", h.Length).
		Int64("stored", count).
		Msg("Header disagrees with index file, repairing")

	h.Length = count
	if count == 0 {
		h.FirstIndexTime, h.LastIndexTime = 0, 0
		h.FirstDataTime, h.LastDataTime = 0, 0
		return nil
	}
	first, err := read(0)
	if err != nil {
		return err
	}
	last, err := read(item.Position(count - 1))
	if err != nil {
		return err
	}
	h.FirstIndexTime, h.FirstDataTime = first.IndexTime, first.DataTime
	h.LastIndexTime, h.LastDataTime = last.IndexTime, last.DataTime
	return nil
}

func (b *fileBase) encodePayload(data []byte) ([]byte, bool) {
	if !b.compress || len(data) == 0 {
		return data, false
	}
	return snappy.Encode(nil, data), true
}

func decodePayload(stored []byte, ref *item.DataReference) ([]byte, error) {
	if !ref.Compressed {
		return stored, nil
	}
	out, err := snappy.Decode(nil, stored)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return out, nil
}

func (b *fileBase) flushHeader(h *header.Header) error {
	if b.opts.ReadOnly {
		return nil
	}
	if err := WriteHeaderFile(b.headerPath, h); err != nil {
		return fmt.Errorf("%w: %v", ErrFlush, err)
	}
	return nil
}

// Lock takes an exclusive advisory lock on the index file
func (b *fileBase) Lock() error {
	if b.opts.ReadOnly {
		return ErrReadOnly
	}
	b.lockMu.Lock()
	defer b.lockMu.Unlock()
	if b.locked {
		return nil
	}
	if b.index == nil {
		return fmt.Errorf("%w: index file not open", ErrOpen)
	}
	if err := unix.Flock(b.index.Fd(), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return fmt.Errorf("%w: %s", ErrWriteLocked, b.indexPath)
		}
		return fmt.Errorf("lock %s: %w", b.indexPath, err)
	}
	b.locked = true
	return nil
}

func (b *fileBase) Unlock() error {
	b.lockMu.Lock()
	defer b.lockMu.Unlock()
	if !b.locked || b.index == nil {
		return nil
	}
	b.locked = false
	return unix.Flock(b.index.Fd(), unix.LOCK_UN)
}

func (b *fileBase) logOpened(count int64, h *header.Header) {
	b.log.Debug().
		Str("name", h.Name).
		Int64("items", count).
		Str("index_size", humanize.Bytes(uint64(b.index.Size()))).
		Bool("read_only", b.opts.ReadOnly).
		Msg("Opened index files")
}
