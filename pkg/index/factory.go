// ABOUTME: Factory is the only way to create, open and copy indexes
// ABOUTME: Every index it hands out is registered in its directory

package index

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nainya/timeindex/internal/logger"
	"github.com/nainya/timeindex/internal/metrics"
	"github.com/nainya/timeindex/pkg/header"
	"github.com/nainya/timeindex/pkg/item"
	"github.com/nainya/timeindex/pkg/reader"
	"github.com/nainya/timeindex/pkg/storage"
)

const (
	fileScheme   = "file://"
	memoryScheme = "memory://"
)

// FactoryOptions configure a Factory. Zero values get a private directory,
// a no-op logger, no metrics and the wall clock.
type FactoryOptions struct {
	Directory *Directory
	Logger    *logger.Logger
	Metrics   *metrics.Metrics
	Clock     Clock
}

// Factory creates and opens indexes
type Factory struct {
	dir     *Directory
	log     *logger.Logger
	metrics *metrics.Metrics
	clock   Clock
}

// NewFactory creates a factory
func NewFactory(opts FactoryOptions) *Factory {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Directory == nil {
		opts.Directory = NewDirectory(opts.Metrics)
	}
	return &Factory{
		dir:     opts.Directory,
		log:     opts.Logger,
		metrics: opts.Metrics,
		clock:   opts.Clock,
	}
}

// Directory returns the registry shared by every index of the factory
func (f *Factory) Directory() *Directory { return f.dir }

func (f *Factory) indexLog(name string) zerolog.Logger {
	return *f.log.IndexLogger(name).GetZerolog()
}

func (f *Factory) coreConfig(set settings, log zerolog.Logger) coreConfig {
	return coreConfig{
		settings: set,
		clock:    f.clock,
		log:      log,
		metrics:  f.metrics,
		resolve:  f.openURI,
	}
}

// basePath strips a layout extension so any of the three file names works
func basePath(p string) string {
	hp, _, _ := storage.Paths(p)
	return strings.TrimSuffix(hp, storage.HeaderExt)
}

func fileURI(base string) (string, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}
	return fileScheme + abs, nil
}

func specError(op, name, format string, args ...interface{}) error {
	return &Error{Op: op, Index: name, Err: fmt.Errorf("%w: "+format, append([]interface{}{ErrSpecification}, args...)...)}
}

// Create makes a new index of type typ and returns an activated view of it.
// Properties name the index and, for file layouts, its path.
func (f *Factory) Create(typ header.Type, props Properties) (*View, error) {
	start := time.Now()
	name, ok := props.Get(PropName)
	if !ok {
		return nil, specError("create", "", "%s is required", PropName)
	}
	set, err := parseSettings(props)
	if err != nil {
		return nil, &Error{Op: "create", Index: name, Err: err}
	}

	id := uuid.NewString()
	uri := memoryScheme + id
	base := ""
	if typ.Persistent() {
		path, ok := props.Get(PropIndexPath)
		if !ok {
			return nil, specError("create", name, "%s index needs %s", typ, PropIndexPath)
		}
		base = basePath(path)
		if uri, err = fileURI(base); err != nil {
			return nil, specError("create", name, "%v", err)
		}
	}

	h := header.New(name, id, uri, typ)
	h.Description = props.String(PropDescription, "")
	h.SetOption(header.OptionLoadStyle, set.loadStyle.String())
	if set.policyName != "none" {
		h.SetOption(header.OptionCachePolicy, set.policyName)
	}

	log := f.indexLog(name)
	backend, err := storage.New(typ, storage.Options{
		Path:        base,
		DataPath:    props.String(PropDataPath, ""),
		Compression: set.compression,
		Logger:      &log,
	})
	if err != nil {
		return nil, &Error{Op: "create", Index: name, URI: uri, Err: storageError(err, ErrCreate)}
	}

	gate := f.dir.Gate(uri)
	gate.Lock()
	defer gate.Unlock()

	if _, open := f.dir.LookupURI(uri); open {
		return nil, &Error{Op: "create", Index: name, URI: uri, Err: fmt.Errorf("%w: index is open", ErrCreate)}
	}
	if err := backend.Create(h); err != nil {
		return nil, &Error{Op: "create", Index: name, URI: uri, Err: storageError(err, ErrCreate)}
	}

	c := newCore(h, backend, f.coreConfig(set, log))
	if err := f.dir.Register(c); err != nil {
		backend.Close()
		return nil, c.fail("create", err)
	}
	v, err := c.newRootViewLocked()
	if err != nil {
		c.reallyClose()
		return nil, err
	}
	if !set.readOnly {
		if err := c.Activate(); err != nil {
			f.dir.RemoveHandle(c)
			c.reallyClose()
			return nil, err
		}
	}

	f.log.IndexLogger(name).LogIndexOperation("create", time.Since(start), 0, nil)
	return v, nil
}

// Open returns a view of an existing index. With indexpath the index is read
// from disk unless it is already open in this process; with only a name an
// open index is looked up in the directory.
func (f *Factory) Open(props Properties) (*View, error) {
	start := time.Now()
	name := props.String(PropName, "")
	path, hasPath := props.Get(PropIndexPath)
	if !hasPath {
		if name == "" {
			return nil, specError("open", "", "%s or %s is required", PropName, PropIndexPath)
		}
		c, ok := f.dir.LookupName(name)
		if !ok {
			return nil, &Error{Op: "open", Index: name, Err: fmt.Errorf("%w: no open index named %q", ErrNotFound, name)}
		}
		return c.AsView()
	}

	set, err := parseSettings(props)
	if err != nil {
		return nil, &Error{Op: "open", Index: name, Err: err}
	}
	base := basePath(path)
	uri, err := fileURI(base)
	if err != nil {
		return nil, specError("open", name, "%v", err)
	}

	gate := f.dir.Gate(uri)
	gate.Lock()
	defer gate.Unlock()

	if c, ok := f.dir.LookupURI(uri); ok {
		return c.newRootViewLocked()
	}

	found, err := storage.Detect(base)
	if err != nil {
		return nil, &Error{Op: "open", Index: name, URI: uri, Err: storageError(err, ErrOpen)}
	}
	if want, ok := props.Get(PropType); ok {
		typ, err := header.ParseType(want)
		if err != nil {
			return nil, specError("open", name, "%v", err)
		}
		if typ != found.Type {
			return nil, specError("open", name, "%s is a %s index, not %s", base, found.Type, typ)
		}
	}
	if name == "" {
		name = found.Name
	}

	log := f.indexLog(name)
	backend, err := storage.New(found.Type, storage.Options{
		Path:     base,
		DataPath: props.String(PropDataPath, found.DataPath),
		ReadOnly: set.readOnly,
		Logger:   &log,
	})
	if err != nil {
		return nil, &Error{Op: "open", Index: name, URI: uri, Err: storageError(err, ErrOpen)}
	}
	h, err := backend.Open()
	if err != nil {
		return nil, &Error{Op: "open", Index: name, URI: uri, Err: storageError(err, ErrOpen)}
	}
	h.URI = uri

	c := newCore(h, backend, f.coreConfig(set, log))
	if err := c.preload(set.loadStyle); err != nil {
		backend.Close()
		return nil, c.fail("open", storageError(err, ErrOpen))
	}
	if err := f.dir.Register(c); err != nil {
		backend.Close()
		return nil, c.fail("open", err)
	}
	v, err := c.newRootViewLocked()
	if err != nil {
		c.reallyClose()
		return nil, err
	}

	f.log.IndexLogger(h.Name).LogIndexOperation("open", time.Since(start), h.Length, nil)
	return v, nil
}

// Append opens an index and activates it for writing. A write lock held by
// another process fails with an error IsRetryable accepts.
func (f *Factory) Append(props Properties) (*View, error) {
	v, err := f.Open(props)
	if err != nil {
		return nil, err
	}
	if err := v.Core().Activate(); err != nil {
		v.Close()
		return nil, err
	}
	return v, nil
}

// Close releases v
func (f *Factory) Close(v *View) error {
	return v.Close()
}

// Save copies the items of v into a new index of type typ, keeping their
// timestamps. Shadow copies are only possible from shadow indexes, since a
// shadow index cannot own payload bytes.
func (f *Factory) Save(v *View, typ header.Type, props Properties) (*View, error) {
	start := time.Now()
	src := v.Core()
	if typ == header.Shadow {
		if src.Type() != header.Shadow {
			return nil, &Error{Op: "save", Index: src.Name(), URI: src.URI(),
				Err: fmt.Errorf("%w: shadow copy of a %s index", storage.ErrUnsupported, src.Type())}
		}
		if _, ok := props.Get(PropDataPath); !ok {
			props = props.Clone()
			props[PropDataPath] = src.Header().DataPath
		}
	}

	dst, err := f.Create(typ, props)
	if err != nil {
		return nil, err
	}
	out := dst.Core()

	var n int64
	err = v.Each(func(it *item.Item) error {
		if _, err := out.appendPreserving(it); err != nil {
			return err
		}
		n++
		return nil
	})
	if err == nil {
		for tag, name := range src.Header().Table(header.OptionTypeNames) {
			out.setTableEntry(header.OptionTypeNames, tag, name)
		}
		err = out.Flush()
	}
	if err != nil {
		dst.Close()
		return nil, err
	}

	f.log.IndexLogger(out.Name()).LogIndexOperation("save", time.Since(start), n, nil)
	return dst, nil
}

// Load appends everything r produces to the index behind v and returns the
// number of items appended
func (f *Factory) Load(v *View, r reader.Reader) (int64, error) {
	start := time.Now()
	c := v.Core()
	var n int64
	for {
		res, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			f.log.IndexLogger(c.Name()).LogIndexOperation("load", time.Since(start), n, err)
			return n, c.fail("load", err)
		}
		e := item.Entry{Data: res.Data, DataRef: res.Ref, DataTime: res.DataTime, Type: res.Type}
		if _, err := c.Append(e); err != nil {
			f.log.IndexLogger(c.Name()).LogIndexOperation("load", time.Since(start), n, err)
			return n, err
		}
		n++
	}
	f.log.IndexLogger(c.Name()).LogIndexOperation("load", time.Since(start), n, nil)
	return n, nil
}

// openURI resolves cross-index references. File indexes not yet open are
// opened read only.
func (f *Factory) openURI(uri string) (*View, error) {
	if path, ok := strings.CutPrefix(uri, fileScheme); ok {
		return f.Open(Properties{PropIndexPath: path, PropReadOnly: "true"})
	}
	if c, ok := f.dir.LookupURI(uri); ok {
		return c.AsView()
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
}
