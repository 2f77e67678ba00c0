package index

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nainya/timeindex/pkg/cache"
	"github.com/nainya/timeindex/pkg/storage"
)

// Property keys understood by the factory
const (
	PropName          = "name"
	PropIndexPath     = "indexpath"
	PropDataPath      = "datapath"
	PropLoadStyle     = "loadstyle"
	PropReadOnly      = "readonly"
	PropDescription   = "description"
	PropCompression   = "compression"
	PropCachePolicy   = "cachepolicy"
	PropCacheBytes    = "cachebytes"
	PropCacheTimeout  = "cachetimeout"
	PropFlushInterval = "flushinterval"
	PropType          = "type"
)

// Properties is the string-keyed configuration of an index
type Properties map[string]string

// Get returns a trimmed property value
func (p Properties) Get(key string) (string, bool) {
	v, ok := p[key]
	return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
}

// String returns a property or def
func (p Properties) String(key, def string) string {
	if v, ok := p.Get(key); ok {
		return v
	}
	return def
}

// Bool parses a boolean property; absent means false
func (p Properties) Bool(key string) (bool, error) {
	v, ok := p.Get(key)
	if !ok {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q is not a boolean", ErrSpecification, key, v)
	}
	return b, nil
}

// Duration parses a duration property; absent means zero
func (p Properties) Duration(key string) (time.Duration, error) {
	v, ok := p.Get(key)
	if !ok {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not a duration", ErrSpecification, key, v)
	}
	return d, nil
}

// Bytes parses a size such as "64MB" or "4096"; absent means zero
func (p Properties) Bytes(key string) (int64, error) {
	v, ok := p.Get(key)
	if !ok {
		return 0, nil
	}
	n, err := humanize.ParseBytes(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not a size", ErrSpecification, key, v)
	}
	return int64(n), nil
}

// Clone returns a copy that can be modified independently
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// settings are the per-core knobs derived from properties
type settings struct {
	readOnly      bool
	loadStyle     storage.LoadStyle
	policyName    string
	policyBytes   int64
	policyTimeout time.Duration
	flushInterval time.Duration
	compression   string
}

func parseSettings(p Properties) (settings, error) {
	var s settings
	var err error

	if s.readOnly, err = p.Bool(PropReadOnly); err != nil {
		return s, err
	}
	if s.loadStyle, err = storage.ParseLoadStyle(p.String(PropLoadStyle, "")); err != nil {
		return s, fmt.Errorf("%w: %v", ErrSpecification, err)
	}
	if s.flushInterval, err = p.Duration(PropFlushInterval); err != nil {
		return s, err
	}

	s.compression = strings.ToLower(p.String(PropCompression, ""))
	switch s.compression {
	case "", "none", "snappy":
	default:
		return s, fmt.Errorf("%w: unknown compression %q", ErrSpecification, s.compression)
	}

	if s.policyBytes, err = p.Bytes(PropCacheBytes); err != nil {
		return s, err
	}
	if s.policyTimeout, err = p.Duration(PropCacheTimeout); err != nil {
		return s, err
	}
	s.policyName = p.String(PropCachePolicy, "none")
	if err := cache.CheckPolicy(s.policyName, s.policyBytes, s.policyTimeout); err != nil {
		return s, fmt.Errorf("%w: %v", ErrSpecification, err)
	}
	return s, nil
}

// newPolicy builds the validated cache policy. Timeout policies start a
// janitor goroutine, so this runs only for a core that is being created.
func (s settings) newPolicy() cache.Policy {
	p, err := cache.ParsePolicy(s.policyName, s.policyBytes, s.policyTimeout)
	if err != nil {
		return cache.NoEviction{}
	}
	return p
}
