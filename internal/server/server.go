// Package server implements the gRPC TimeIndexService
package server

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/nainya/timeindex/internal/logger"
	"github.com/nainya/timeindex/internal/metrics"
	"github.com/nainya/timeindex/pkg/header"
	"github.com/nainya/timeindex/pkg/index"
	"github.com/nainya/timeindex/pkg/item"
	"github.com/nainya/timeindex/pkg/storage"
	"github.com/nainya/timeindex/pkg/timestamp"
)

// Options configure a Server
type Options struct {
	// DataDir anchors relative index paths
	DataDir string
	// Defaults fill properties a request leaves unset
	Defaults index.Properties
	Logger   *logger.Logger
	Metrics  *metrics.Metrics
	Factory  *index.Factory
}

// Server implements TimeIndexServer over one factory. Clients hold views
// through opaque handles.
type Server struct {
	factory  *index.Factory
	dataDir  string
	defaults index.Properties
	log      *logger.Logger
	metrics  *metrics.Metrics

	mu    sync.Mutex
	views map[string]*index.View

	startTime time.Time
}

// NewServer creates a server. A nil factory gets one sharing the server's
// logger and metrics.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Factory == nil {
		opts.Factory = index.NewFactory(index.FactoryOptions{Logger: opts.Logger, Metrics: opts.Metrics})
	}
	return &Server{
		factory:   opts.Factory,
		dataDir:   opts.DataDir,
		defaults:  opts.Defaults.Clone(),
		log:       opts.Logger.Component("server"),
		metrics:   opts.Metrics,
		views:     make(map[string]*index.View),
		startTime: time.Now(),
	}
}

// Factory returns the factory serving requests
func (s *Server) Factory() *index.Factory { return s.factory }

// Handles returns the number of views held for clients
func (s *Server) Handles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.views)
}

// Shutdown releases every client view, then closes whatever the directory
// still holds
func (s *Server) Shutdown() error {
	s.mu.Lock()
	views := s.views
	s.views = make(map[string]*index.View)
	s.mu.Unlock()

	var err error
	for _, v := range views {
		err = multierr.Append(err, v.Close())
	}
	return multierr.Append(err, s.factory.Directory().CloseAll())
}

// ========== Handle bookkeeping ==========

func (s *Server) track(v *index.View) string {
	h := uuid.NewString()
	s.mu.Lock()
	s.views[h] = v
	s.mu.Unlock()
	s.log.WithFields(map[string]interface{}{"handle": h, "index": v.Name()}).
		Debug("View tracked").Send()
	return h
}

func (s *Server) view(handle string) (*index.View, error) {
	if handle == "" {
		return nil, status.Error(codes.InvalidArgument, "handle is required")
	}
	s.mu.Lock()
	v, ok := s.views[handle]
	s.mu.Unlock()
	if !ok {
		return nil, status.Errorf(codes.NotFound, "no view with handle %s", handle)
	}
	return v, nil
}

func (s *Server) release(handle string) (*index.View, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[handle]
	delete(s.views, handle)
	return v, ok
}

// statusError maps index error kinds onto gRPC codes
func statusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	code := codes.Internal
	switch {
	case errors.Is(err, index.ErrSpecification):
		code = codes.InvalidArgument
	case errors.Is(err, index.ErrNotFound), errors.Is(err, index.ErrGetItem):
		code = codes.NotFound
	case errors.Is(err, index.ErrWriteLocked):
		code = codes.Unavailable
	case errors.Is(err, index.ErrReadOnly), errors.Is(err, index.ErrTerminated),
		errors.Is(err, index.ErrActivation), errors.Is(err, index.ErrClosed):
		code = codes.FailedPrecondition
	case errors.Is(err, storage.ErrUnsupported):
		code = codes.Unimplemented
	case errors.Is(err, index.ErrCreate):
		code = codes.AlreadyExists
	case errors.Is(err, index.ErrOpen):
		code = codes.NotFound
	}
	return status.Error(code, err.Error())
}

// ========== Request decoding ==========

func str(req *structpb.Struct, key string) string {
	if v, ok := req.GetFields()[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

// properties turns the scalar fields of req, except skip, into index
// properties, with relative paths anchored at the data directory
func (s *Server) properties(req *structpb.Struct, skip ...string) index.Properties {
	props := s.defaults.Clone()
	omit := make(map[string]bool, len(skip))
	for _, k := range skip {
		omit[k] = true
	}
	for k, v := range req.GetFields() {
		if omit[k] {
			continue
		}
		switch x := v.GetKind().(type) {
		case *structpb.Value_StringValue:
			props[k] = x.StringValue
		case *structpb.Value_NumberValue:
			props[k] = strconv.FormatFloat(x.NumberValue, 'f', -1, 64)
		case *structpb.Value_BoolValue:
			props[k] = strconv.FormatBool(x.BoolValue)
		}
	}
	for _, key := range []string{index.PropIndexPath, index.PropDataPath} {
		if p, ok := props.Get(key); ok && !filepath.IsAbs(p) && s.dataDir != "" {
			props[key] = filepath.Join(s.dataDir, p)
		}
	}
	return props
}

func position(req *structpb.Struct, key string) (item.Position, error) {
	v, ok := req.GetFields()[key]
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "%s is required", key)
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be a number", key)
	}
	return item.Position(n.NumberValue), nil
}

func timeField(req *structpb.Struct, key string) (timestamp.Timestamp, error) {
	t, err := timestamp.Parse(str(req, key))
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "%s: %v", key, err)
	}
	return t, nil
}

// point reads a number as a position and a string as a time
func point(v *structpb.Value) (index.Point, error) {
	switch x := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		return index.AbsolutePosition(x.NumberValue), nil
	case *structpb.Value_StringValue:
		t, err := timestamp.Parse(x.StringValue)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "%v", err)
		}
		return index.AbsoluteTime(t), nil
	}
	return nil, status.Error(codes.InvalidArgument, "points are positions or times")
}

// span reads a number as a count and a string as a duration
func span(v *structpb.Value) (index.Span, error) {
	switch x := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		return index.Count(x.NumberValue), nil
	case *structpb.Value_StringValue:
		d, err := time.ParseDuration(x.StringValue)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "%v", err)
		}
		return index.Elapsed(d), nil
	}
	return nil, status.Error(codes.InvalidArgument, "spans are counts or durations")
}

func interval(req *structpb.Struct) (index.Interval, error) {
	f := req.GetFields()
	if mid, ok := f["mid"]; ok {
		m, err := point(mid)
		if err != nil {
			return nil, err
		}
		iv := index.MidPointInterval{Mid: m}
		if b, ok := f["before"]; ok {
			if iv.Before, err = span(b); err != nil {
				return nil, err
			}
		}
		if a, ok := f["after"]; ok {
			if iv.After, err = span(a); err != nil {
				return nil, err
			}
		}
		return iv, nil
	}
	start, okStart := f["start"]
	end, okEnd := f["end"]
	if !okStart || !okEnd {
		return nil, status.Error(codes.InvalidArgument, "start and end, or mid, are required")
	}
	sp, err := point(start)
	if err != nil {
		return nil, err
	}
	ep, err := point(end)
	if err != nil {
		return nil, err
	}
	return index.EndPointInterval{Start: sp, End: ep}, nil
}

func searchMode(req *structpb.Struct) (timestamp.Selector, timestamp.Lifetime, error) {
	sel, err := timestamp.ParseSelector(str(req, "selector"))
	if err != nil {
		return 0, 0, status.Error(codes.InvalidArgument, err.Error())
	}
	life, err := timestamp.ParseLifetime(str(req, "lifetime"))
	if err != nil {
		return 0, 0, status.Error(codes.InvalidArgument, err.Error())
	}
	return sel, life, nil
}

// ========== Response encoding ==========

func viewInfo(handle string, v *index.View) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"handle": structpb.NewStringValue(handle),
		"name":   structpb.NewStringValue(v.Name()),
		"uri":    structpb.NewStringValue(v.Core().URI()),
		"type":   structpb.NewStringValue(v.Core().Type().String()),
		"length": structpb.NewNumberValue(float64(v.Length())),
		"start":  structpb.NewNumberValue(float64(v.Start())),
	}}
}

func itemInfo(it *item.Item) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"position":   structpb.NewNumberValue(float64(it.Position)),
		"index_time": structpb.NewStringValue(it.IndexTime.String()),
		"data_time":  structpb.NewStringValue(it.DataTime.String()),
		"kind":       structpb.NewStringValue(it.Kind.String()),
		"type":       structpb.NewNumberValue(float64(it.Type)),
		"size":       structpb.NewNumberValue(float64(it.Size)),
		"data":       structpb.NewStringValue(base64.StdEncoding.EncodeToString(it.Data)),
	}}
}

func headerInfo(h *header.Header, v *index.View, handles int) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"name":             structpb.NewStringValue(h.Name),
		"id":               structpb.NewStringValue(h.ID),
		"uri":              structpb.NewStringValue(h.URI),
		"type":             structpb.NewStringValue(h.Type.String()),
		"length":           structpb.NewNumberValue(float64(h.Length)),
		"terminated":       structpb.NewBoolValue(h.Terminated),
		"read_only":        structpb.NewBoolValue(v.Core().IsReadOnly()),
		"activated":        structpb.NewBoolValue(v.Core().IsActivated()),
		"start_time":       structpb.NewStringValue(h.StartTime.String()),
		"end_time":         structpb.NewStringValue(h.EndTime.String()),
		"first_index_time": structpb.NewStringValue(h.FirstIndexTime.String()),
		"last_index_time":  structpb.NewStringValue(h.LastIndexTime.String()),
		"first_data_time":  structpb.NewStringValue(h.FirstDataTime.String()),
		"last_data_time":   structpb.NewStringValue(h.LastDataTime.String()),
		"view_length":      structpb.NewNumberValue(float64(v.Length())),
		"view_start":       structpb.NewNumberValue(float64(v.Start())),
		"handles":          structpb.NewNumberValue(float64(handles)),
	}
	for key, val := range map[string]string{
		"description": h.Description,
		"index_path":  h.IndexPath,
		"data_path":   h.DataPath,
	} {
		if val != "" {
			fields[key] = structpb.NewStringValue(val)
		}
	}
	return &structpb.Struct{Fields: fields}
}

// ========== Service methods ==========

// Open opens an index named by properties. With "append": true the index is
// also activated for writing.
func (s *Server) Open(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	props := s.properties(req, "append")
	open := s.factory.Open
	if v, ok := req.GetFields()["append"]; ok && v.GetBoolValue() {
		open = s.factory.Append
	}
	v, err := open(props)
	if err != nil {
		return nil, statusError(err)
	}
	return viewInfo(s.track(v), v), nil
}

// Create creates an index of the layout named by "type"
func (s *Server) Create(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	typ, err := header.ParseType(str(req, "type"))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	props := s.properties(req, "type")
	if _, ok := props.Get(index.PropIndexPath); !ok && typ.Persistent() && s.dataDir != "" {
		if name, ok := props.Get(index.PropName); ok {
			props[index.PropIndexPath] = filepath.Join(s.dataDir, name)
		}
	}
	v, err := s.factory.Create(typ, props)
	if err != nil {
		return nil, statusError(err)
	}
	s.log.Info("Index created").
		Str("index", v.Name()).
		Str("type", typ.String()).
		Send()
	return viewInfo(s.track(v), v), nil
}

// Append adds one item. "data" is base64 unless "text" is set; "data_time"
// is optional.
func (s *Server) Append(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	v, err := s.view(str(req, "handle"))
	if err != nil {
		return nil, err
	}
	e := item.Entry{}
	if text, ok := req.GetFields()["text"]; ok {
		e.Data = []byte(text.GetStringValue())
	} else if e.Data, err = base64.StdEncoding.DecodeString(str(req, "data")); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "data: %v", err)
	}
	if e.DataTime, err = timeField(req, "data_time"); err != nil {
		return nil, err
	}
	if t, ok := req.GetFields()["type"]; ok {
		e.Type = uint32(t.GetNumberValue())
	}
	pos, err := v.Append(e)
	if err != nil {
		return nil, statusError(err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"position": structpb.NewNumberValue(float64(pos)),
	}}, nil
}

// Get reads the item at a view-relative position
func (s *Server) Get(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	v, err := s.view(str(req, "handle"))
	if err != nil {
		return nil, err
	}
	pos, err := position(req, "position")
	if err != nil {
		return nil, err
	}
	it, err := v.GetItemAt(pos)
	if err != nil {
		return nil, statusError(err)
	}
	return itemInfo(it), nil
}

// Locate finds the view-relative position owning "time"
func (s *Server) Locate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	v, err := s.view(str(req, "handle"))
	if err != nil {
		return nil, err
	}
	t, err := timeField(req, "time")
	if err != nil {
		return nil, err
	}
	sel, life, err := searchMode(req)
	if err != nil {
		return nil, err
	}
	loc, err := v.Locate(t, sel, life)
	if err != nil {
		return nil, statusError(err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"outcome":  structpb.NewStringValue(loc.Outcome.String()),
		"position": structpb.NewNumberValue(float64(loc.Position)),
		"time":     structpb.NewStringValue(loc.Time.String()),
	}}, nil
}

// Select creates a selection of a view and returns its handle
func (s *Server) Select(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	v, err := s.view(str(req, "handle"))
	if err != nil {
		return nil, err
	}
	iv, err := interval(req)
	if err != nil {
		return nil, err
	}
	sel, life, err := searchMode(req)
	if err != nil {
		return nil, err
	}
	overlap, err := index.ParseOverlap(str(req, "overlap"))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	out, err := v.Select(iv, sel, overlap, life)
	if err != nil {
		return nil, statusError(err)
	}
	return viewInfo(s.track(out), out), nil
}

// Info describes the index behind a handle
func (s *Server) Info(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	v, err := s.view(req.GetValue())
	if err != nil {
		return nil, err
	}
	return headerInfo(v.Header(), v, s.factory.Directory().Count(v.Core())), nil
}

// Close releases a handle
func (s *Server) Close(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	v, ok := s.release(req.GetValue())
	if !ok {
		return nil, status.Errorf(codes.NotFound, "no view with handle %s", req.GetValue())
	}
	if err := v.Close(); err != nil {
		return nil, statusError(err)
	}
	return &emptypb.Empty{}, nil
}

// Cat streams every item of a view in order
func (s *Server) Cat(req *wrapperspb.StringValue, stream grpc.ServerStream) error {
	v, err := s.view(req.GetValue())
	if err != nil {
		return err
	}
	ctx := stream.Context()
	err = v.Each(func(it *item.Item) error {
		if err := ctx.Err(); err != nil {
			return status.FromContextError(err).Err()
		}
		return stream.SendMsg(itemInfo(it))
	})
	if err != nil {
		s.log.GrpcLogger("Cat").Warn("Stream ended early").
			Str("handle", req.GetValue()).Err(err).Send()
		return statusError(err)
	}
	return nil
}

// String summarizes the server for logs
func (s *Server) String() string {
	return fmt.Sprintf("timeindex server (%d handles, up %s)", s.Handles(), time.Since(s.startTime).Round(time.Second))
}
