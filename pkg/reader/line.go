package reader

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/nainya/timeindex/pkg/item"
	"github.com/nainya/timeindex/pkg/timestamp"
)

const defaultMaxLine = 1 << 20

// Line yields one result per line, without the line terminator
type Line struct {
	sc *bufio.Scanner
}

// NewLine accepts the option "maxline" (bytes, default 1MiB)
func NewLine(r io.Reader, opts Options) (Reader, error) {
	maxLine, err := opts.Int("maxline", defaultMaxLine)
	if err != nil {
		return nil, err
	}
	initial := 64 << 10
	if maxLine < initial {
		initial = maxLine
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, initial), maxLine)
	return &Line{sc: sc}, nil
}

func (l *Line) Read() (Result, error) {
	if !l.sc.Scan() {
		if err := l.sc.Err(); err != nil {
			return Result{}, fmt.Errorf("reader: line: %w", err)
		}
		return Result{}, io.EOF
	}
	line := l.sc.Bytes()
	data := make([]byte, len(line))
	copy(data, line)
	return Result{Data: data}, nil
}

// LineRef yields a data reference per line of the source, for shadow
// indexes over that same file. Offsets count from the start of the stream.
type LineRef struct {
	br     *bufio.Reader
	offset int64
	eof    bool
}

func NewLineRef(r io.Reader, _ Options) (Reader, error) {
	return &LineRef{br: bufio.NewReaderSize(r, 64<<10)}, nil
}

func (l *LineRef) Read() (Result, error) {
	for !l.eof {
		raw, err := l.br.ReadBytes('\n')
		if err == io.EOF {
			l.eof = true
		} else if err != nil {
			return Result{}, fmt.Errorf("reader: lineref: %w", err)
		}
		if len(raw) == 0 {
			continue
		}
		start := l.offset
		l.offset += int64(len(raw))
		line := bytes.TrimRight(raw, "\r\n")
		if len(line) == 0 {
			continue
		}
		return Result{Ref: &item.DataReference{Offset: start, Size: int64(len(line))}}, nil
	}
	return Result{}, io.EOF
}

// Timestamped reads lines that start with a time followed by a space or a
// tab. The time becomes the data timestamp and the rest of the line the
// payload.
type Timestamped struct {
	line Reader
	keep bool
}

// NewTimestamped accepts "maxline" and "keep" (payload is the whole line)
func NewTimestamped(r io.Reader, opts Options) (Reader, error) {
	line, err := NewLine(r, opts)
	if err != nil {
		return nil, err
	}
	keep, err := opts.Bool("keep")
	if err != nil {
		return nil, err
	}
	return &Timestamped{line: line, keep: keep}, nil
}

func (t *Timestamped) Read() (Result, error) {
	res, err := t.line.Read()
	if err != nil {
		return Result{}, err
	}
	field, rest := res.Data, []byte(nil)
	if i := bytes.IndexAny(res.Data, " \t"); i >= 0 {
		field, rest = res.Data[:i], bytes.TrimLeft(res.Data[i+1:], " \t")
	}
	ts, err := timestamp.Parse(string(field))
	if err != nil {
		return Result{}, fmt.Errorf("reader: timestamped: %w", err)
	}
	if t.keep {
		return Result{Data: res.Data, DataTime: ts}, nil
	}
	if rest == nil {
		rest = []byte{}
	}
	return Result{Data: rest, DataTime: ts}, nil
}
