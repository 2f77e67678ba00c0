package server

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/nainya/timeindex/pkg/index"
	"github.com/nainya/timeindex/pkg/item"
	"github.com/nainya/timeindex/pkg/timestamp"
)

// ViewInfo identifies a view held by the server
type ViewInfo struct {
	Handle string
	Name   string
	URI    string
	Type   string
	Length int64
	Start  int64
}

// ItemInfo is an item as the service reports it
type ItemInfo struct {
	Position  item.Position
	IndexTime timestamp.Timestamp
	DataTime  timestamp.Timestamp
	Kind      string
	Type      uint32
	Size      int64
	Data      []byte
}

// LocateResult is the answer to Locate
type LocateResult struct {
	Outcome  string
	Position item.Position
	Time     timestamp.Timestamp
}

// Client calls TimeIndexService
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps an established connection
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) call(ctx context.Context, method string, in, out interface{}) error {
	return c.conn.Invoke(ctx, fullMethod(method), in, out)
}

func num(s *structpb.Struct, key string) float64 {
	return s.GetFields()[key].GetNumberValue()
}

func text(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func decodeView(s *structpb.Struct) *ViewInfo {
	return &ViewInfo{
		Handle: text(s, "handle"),
		Name:   text(s, "name"),
		URI:    text(s, "uri"),
		Type:   text(s, "type"),
		Length: int64(num(s, "length")),
		Start:  int64(num(s, "start")),
	}
}

func decodeItem(s *structpb.Struct) (*ItemInfo, error) {
	it := &ItemInfo{
		Position: item.Position(num(s, "position")),
		Kind:     text(s, "kind"),
		Type:     uint32(num(s, "type")),
		Size:     int64(num(s, "size")),
	}
	var err error
	if it.IndexTime, err = timestamp.Parse(text(s, "index_time")); err != nil {
		return nil, err
	}
	if it.DataTime, err = timestamp.Parse(text(s, "data_time")); err != nil {
		return nil, err
	}
	if it.Data, err = base64.StdEncoding.DecodeString(text(s, "data")); err != nil {
		return nil, fmt.Errorf("item %d data: %w", it.Position, err)
	}
	return it, nil
}

func propsStruct(props map[string]string) *structpb.Struct {
	s := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(props)+1)}
	for k, v := range props {
		s.Fields[k] = structpb.NewStringValue(v)
	}
	return s
}

// Open opens an index; with forAppend it is activated for writing
func (c *Client) Open(ctx context.Context, props map[string]string, forAppend bool) (*ViewInfo, error) {
	req := propsStruct(props)
	if forAppend {
		req.Fields["append"] = structpb.NewBoolValue(true)
	}
	out := new(structpb.Struct)
	if err := c.call(ctx, "Open", req, out); err != nil {
		return nil, err
	}
	return decodeView(out), nil
}

// Create creates an index of layout typ
func (c *Client) Create(ctx context.Context, typ string, props map[string]string) (*ViewInfo, error) {
	req := propsStruct(props)
	req.Fields["type"] = structpb.NewStringValue(typ)
	out := new(structpb.Struct)
	if err := c.call(ctx, "Create", req, out); err != nil {
		return nil, err
	}
	return decodeView(out), nil
}

// Append adds data to the view behind handle
func (c *Client) Append(ctx context.Context, handle string, data []byte, dataTime timestamp.Timestamp) (item.Position, error) {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"handle":    structpb.NewStringValue(handle),
		"data":      structpb.NewStringValue(base64.StdEncoding.EncodeToString(data)),
		"data_time": structpb.NewStringValue(dataTime.String()),
	}}
	out := new(structpb.Struct)
	if err := c.call(ctx, "Append", req, out); err != nil {
		return item.NoPosition, err
	}
	return item.Position(num(out, "position")), nil
}

// Get reads the item at a view-relative position
func (c *Client) Get(ctx context.Context, handle string, pos item.Position) (*ItemInfo, error) {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"handle":   structpb.NewStringValue(handle),
		"position": structpb.NewNumberValue(float64(pos)),
	}}
	out := new(structpb.Struct)
	if err := c.call(ctx, "Get", req, out); err != nil {
		return nil, err
	}
	return decodeItem(out)
}

// Locate finds the view-relative position owning t
func (c *Client) Locate(ctx context.Context, handle string, t timestamp.Timestamp, sel timestamp.Selector, life timestamp.Lifetime) (*LocateResult, error) {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"handle":   structpb.NewStringValue(handle),
		"time":     structpb.NewStringValue(t.String()),
		"selector": structpb.NewStringValue(sel.String()),
		"lifetime": structpb.NewStringValue(life.String()),
	}}
	out := new(structpb.Struct)
	if err := c.call(ctx, "Locate", req, out); err != nil {
		return nil, err
	}
	at, err := timestamp.Parse(text(out, "time"))
	if err != nil {
		return nil, err
	}
	return &LocateResult{
		Outcome:  text(out, "outcome"),
		Position: item.Position(num(out, "position")),
		Time:     at,
	}, nil
}

func pointValue(p index.Point) (*structpb.Value, error) {
	switch x := p.(type) {
	case index.AbsolutePosition:
		return structpb.NewNumberValue(float64(x)), nil
	case index.AbsoluteTime:
		return structpb.NewStringValue(timestamp.Timestamp(x).String()), nil
	}
	return nil, fmt.Errorf("%w: unsupported point %v", index.ErrSpecification, p)
}

func spanValue(s index.Span) (*structpb.Value, error) {
	switch x := s.(type) {
	case index.Count:
		return structpb.NewNumberValue(float64(x)), nil
	case index.Elapsed:
		return structpb.NewStringValue(time.Duration(x).String()), nil
	}
	return nil, fmt.Errorf("%w: unsupported span %v", index.ErrSpecification, s)
}

func intervalFields(iv index.Interval, fields map[string]*structpb.Value) error {
	var err error
	switch x := iv.(type) {
	case index.EndPointInterval:
		if fields["start"], err = pointValue(x.Start); err != nil {
			return err
		}
		fields["end"], err = pointValue(x.End)
		return err
	case index.MidPointInterval:
		if fields["mid"], err = pointValue(x.Mid); err != nil {
			return err
		}
		if x.Before != nil {
			if fields["before"], err = spanValue(x.Before); err != nil {
				return err
			}
		}
		if x.After != nil {
			fields["after"], err = spanValue(x.After)
		}
		return err
	}
	return fmt.Errorf("%w: unsupported interval %v", index.ErrSpecification, iv)
}

// Select creates a selection of the view behind handle
func (c *Client) Select(ctx context.Context, handle string, iv index.Interval, sel timestamp.Selector, overlap index.Overlap, life timestamp.Lifetime) (*ViewInfo, error) {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"handle":   structpb.NewStringValue(handle),
		"selector": structpb.NewStringValue(sel.String()),
		"overlap":  structpb.NewStringValue(overlap.String()),
		"lifetime": structpb.NewStringValue(life.String()),
	}}
	if err := intervalFields(iv, req.Fields); err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.call(ctx, "Select", req, out); err != nil {
		return nil, err
	}
	return decodeView(out), nil
}

// Info describes the index behind handle
func (c *Client) Info(ctx context.Context, handle string) (map[string]interface{}, error) {
	out := new(structpb.Struct)
	if err := c.call(ctx, "Info", wrapperspb.String(handle), out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// Close releases handle
func (c *Client) Close(ctx context.Context, handle string) error {
	return c.call(ctx, "Close", wrapperspb.String(handle), new(emptypb.Empty))
}

// Cat calls fn for every item of the view behind handle, in order
func (c *Client) Cat(ctx context.Context, handle string, fn func(*ItemInfo) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], fullMethod("Cat"))
	if err != nil {
		return err
	}
	if err := stream.SendMsg(wrapperspb.String(handle)); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		out := new(structpb.Struct)
		err := stream.RecvMsg(out)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		it, err := decodeItem(out)
		if err != nil {
			return err
		}
		if err := fn(it); err != nil {
			return err
		}
	}
}
