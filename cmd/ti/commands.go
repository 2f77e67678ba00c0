package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nainya/timeindex/pkg/header"
	"github.com/nainya/timeindex/pkg/index"
	"github.com/nainya/timeindex/pkg/item"
	"github.com/nainya/timeindex/pkg/reader"
	"github.com/nainya/timeindex/pkg/storage"
	"github.com/nainya/timeindex/pkg/timestamp"
)

func (a *app) createCommand() *cobra.Command {
	var name, dataPath, description, compression string
	cmd := &cobra.Command{
		Use:   "create TYPE PATH",
		Short: "Create an empty index (inline, external or shadow)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := header.ParseType(args[0])
			if err != nil {
				return err
			}
			if !typ.Persistent() {
				return fmt.Errorf("memory indexes do not outlive the process")
			}
			props, err := a.properties(args[1])
			if err != nil {
				return err
			}
			for key, val := range map[string]string{
				index.PropName:        name,
				index.PropDataPath:    dataPath,
				index.PropDescription: description,
				index.PropCompression: compression,
			} {
				if val != "" {
					props[key] = val
				}
			}
			if _, ok := props.Get(index.PropName); !ok {
				props[index.PropName] = baseName(args[1])
			}
			v, err := a.factory.Create(typ, props)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "created %s index %s (%s)\n", typ, v.Name(), v.Core().ID())
			return v.Close()
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "index name (defaults to the file name)")
	cmd.Flags().StringVar(&dataPath, "datapath", "", "file a shadow index reads from")
	cmd.Flags().StringVar(&description, "description", "", "free text description")
	cmd.Flags().StringVar(&compression, "compression", "", "payload compression: none or snappy")
	return cmd
}

func baseName(path string) string {
	hp, _, _ := storage.Paths(path)
	return strings.TrimSuffix(filepath.Base(hp), storage.HeaderExt)
}

func (a *app) appendCommand() *cobra.Command {
	var format string
	var retries int
	var wait time.Duration
	var readerOpts []string
	cmd := &cobra.Command{
		Use:   "append PATH [FILE]",
		Short: "Append one item per record of FILE (or stdin)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			props, err := a.properties(args[0])
			if err != nil {
				return err
			}
			v, err := a.appendWithRetry(props, retries, wait)
			if err != nil {
				return err
			}
			defer v.Close()

			src := a.in
			if len(args) == 2 {
				f, err := os.Open(args[1])
				if err != nil {
					return err
				}
				defer f.Close()
				src = f
			}
			opts := reader.Options{}
			for _, kv := range readerOpts {
				k, val, ok := strings.Cut(kv, "=")
				if !ok {
					val = "true"
				}
				opts[k] = val
			}
			r, err := reader.New(format, src, opts)
			if err != nil {
				return err
			}
			n, err := a.factory.Load(v, r)
			fmt.Fprintf(a.out, "appended %s items to %s\n", humanize.Comma(n), v.Name())
			return err
		},
	}
	cmd.Flags().StringVarP(&format, "reader", "r", "line", "record reader: line, lineref or timestamped")
	cmd.Flags().StringArrayVar(&readerOpts, "reader-opt", nil, "reader option key=value (repeatable)")
	cmd.Flags().IntVar(&retries, "retries", 5, "attempts while another writer holds the index")
	cmd.Flags().DurationVar(&wait, "retry-wait", 200*time.Millisecond, "pause between attempts")
	return cmd
}

// appendWithRetry opens for writing, retrying while the write lock is held
// elsewhere
func (a *app) appendWithRetry(props index.Properties, retries int, wait time.Duration) (*index.View, error) {
	for attempt := 1; ; attempt++ {
		v, err := a.factory.Append(props)
		if err == nil || !index.IsRetryable(err) || attempt >= retries {
			return v, err
		}
		time.Sleep(wait)
	}
}

func (a *app) catCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cat PATH",
		Short: "Print every payload, one per line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer v.Close()
			return v.Each(func(it *item.Item) error {
				_, err := fmt.Fprintf(a.out, "%s\n", it.Data)
				return err
			})
		},
	}
}

func (a *app) printItems(v *index.View) error {
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "POS\tINDEX TIME\tDATA TIME\tKIND\tTYPE\tSIZE\tDATA")
	err := v.Each(func(it *item.Item) error {
		typ := strconv.FormatUint(uint64(it.Type), 10)
		if name, ok := v.Core().TypeName(it.Type); ok {
			typ = name
		}
		data := fmt.Sprintf("%q", it.Data)
		if it.Kind == item.KindIndexReference {
			if ref, err := it.Reference(); err == nil {
				data = fmt.Sprintf("-> %s#%d", ref.URI, ref.Position)
			}
		}
		_, err := fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			it.Position, it.IndexTime, it.DataTime, it.Kind, typ,
			humanize.Bytes(uint64(it.Size)), data)
		return err
	})
	if err != nil {
		return err
	}
	return w.Flush()
}

func (a *app) dumpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dump PATH",
		Short: "Print every item with its timestamps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer v.Close()
			return a.printItems(v)
		},
	}
}

func (a *app) selectCommand() *cobra.Command {
	var start, end, mid, before, after string
	var selName, lifeName, overlapName string
	cmd := &cobra.Command{
		Use:   "select PATH",
		Short: "Print the items of an interval",
		Long: "Points are positions when they are integers and RFC3339 times otherwise.\n" +
			"Spans are counts when they are integers and durations otherwise.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := timestamp.ParseSelector(selName)
			if err != nil {
				return err
			}
			life, err := timestamp.ParseLifetime(lifeName)
			if err != nil {
				return err
			}
			overlap, err := index.ParseOverlap(overlapName)
			if err != nil {
				return err
			}
			iv, err := selectInterval(start, end, mid, before, after)
			if err != nil {
				return err
			}

			v, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer v.Close()
			out, err := v.Select(iv, sel, overlap, life)
			if err != nil {
				return err
			}
			defer out.Close()
			return a.printItems(out)
		},
	}
	f := cmd.Flags()
	f.StringVar(&start, "start", "", "first point")
	f.StringVar(&end, "end", "", "last point")
	f.StringVar(&mid, "mid", "", "midpoint, instead of start and end")
	f.StringVar(&before, "before", "", "span before the midpoint")
	f.StringVar(&after, "after", "", "span after the midpoint")
	f.StringVar(&selName, "selector", "data", "timestamp to compare: index or data")
	f.StringVar(&lifeName, "lifetime", "discrete", "discrete or continuous")
	f.StringVar(&overlapName, "overlap", "free", "free or strict")
	return cmd
}

func selectInterval(start, end, mid, before, after string) (index.Interval, error) {
	if mid != "" {
		m, err := parsePoint(mid)
		if err != nil {
			return nil, err
		}
		b, err := parseSpan(before)
		if err != nil {
			return nil, err
		}
		af, err := parseSpan(after)
		if err != nil {
			return nil, err
		}
		return index.MidPointInterval{Mid: m, Before: b, After: af}, nil
	}
	if start == "" || end == "" {
		return nil, errors.New("select needs --start and --end, or --mid")
	}
	s, err := parsePoint(start)
	if err != nil {
		return nil, err
	}
	e, err := parsePoint(end)
	if err != nil {
		return nil, err
	}
	return index.EndPointInterval{Start: s, End: e}, nil
}

func when(t timestamp.Timestamp) string {
	if t.IsZero() {
		return "-"
	}
	return fmt.Sprintf("%s (%s)", t, humanize.Time(t.Time()))
}

func fileSize(path string) string {
	if path == "" {
		return "-"
	}
	st, err := os.Stat(path)
	if err != nil {
		return "missing"
	}
	return humanize.Bytes(uint64(st.Size()))
}

func (a *app) printHeader(w io.Writer, h *header.Header) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "name\t%s\n", h.Name)
	fmt.Fprintf(tw, "id\t%s\n", h.ID)
	fmt.Fprintf(tw, "uri\t%s\n", h.URI)
	fmt.Fprintf(tw, "type\t%s\n", h.Type)
	if h.Description != "" {
		fmt.Fprintf(tw, "description\t%s\n", h.Description)
	}
	fmt.Fprintf(tw, "items\t%s\n", humanize.Comma(h.Length))
	fmt.Fprintf(tw, "terminated\t%t\n", h.Terminated)
	fmt.Fprintf(tw, "created\t%s\n", when(h.StartTime))
	fmt.Fprintf(tw, "last flush\t%s\n", when(h.EndTime))
	fmt.Fprintf(tw, "index times\t%s .. %s\n", h.FirstIndexTime, h.LastIndexTime)
	fmt.Fprintf(tw, "data times\t%s .. %s\n", h.FirstDataTime, h.LastDataTime)
	fmt.Fprintf(tw, "header file\t%s (%s)\n", h.HeaderPath, fileSize(h.HeaderPath))
	fmt.Fprintf(tw, "index file\t%s (%s)\n", h.IndexPath, fileSize(h.IndexPath))
	if h.DataPath != "" {
		fmt.Fprintf(tw, "data file\t%s (%s)\n", h.DataPath, fileSize(h.DataPath))
	}
	for _, o := range h.Options() {
		if v, ok := h.Option(o); ok {
			fmt.Fprintf(tw, "option %s\t%s\n", o, v)
			continue
		}
		table := h.Table(o)
		keys := make([]string, 0, len(table))
		for k := range table {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(tw, "option %s[%s]\t%s\n", o, k, table[k])
		}
	}
	tw.Flush()
}

func (a *app) infoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info PATH",
		Short: "Describe an index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer v.Close()
			a.printHeader(a.out, v.Header())
			return nil
		},
	}
}

func (a *app) terminateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "terminate PATH",
		Short: "Mark an index as finished; later appends fail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			props, err := a.properties(args[0])
			if err != nil {
				return err
			}
			v, err := a.appendWithRetry(props, 1, 0)
			if err != nil {
				return err
			}
			defer v.Close()
			if err := v.Core().Terminate(); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "terminated %s at %s items\n", v.Name(), humanize.Comma(v.Length()))
			return nil
		},
	}
}
