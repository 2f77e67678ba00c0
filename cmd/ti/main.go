// ti creates, fills and inspects time indexes
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nainya/timeindex/internal/config"
	"github.com/nainya/timeindex/internal/logger"
	"github.com/nainya/timeindex/pkg/index"
	"github.com/nainya/timeindex/pkg/timestamp"
)

func main() {
	if err := newRootCommand(os.Stdin, os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is the state shared by every subcommand
type app struct {
	in       io.Reader
	out      io.Writer
	logLevel string
	propFile string
	props    []string

	factory *index.Factory
}

func newRootCommand(in io.Reader, out io.Writer) *cobra.Command {
	a := &app{in: in, out: out}
	root := &cobra.Command{
		Use:          "ti",
		Short:        "Work with time indexes on disk",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			log := logger.NewLogger(logger.Config{Level: a.logLevel, Pretty: true, Output: cmd.ErrOrStderr()})
			a.factory = index.NewFactory(index.FactoryOptions{Logger: log})
			return nil
		},
	}
	root.SetIn(in)
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVar(&a.logLevel, "log-level", "warn", "debug, info, warn or error")
	pf.StringVar(&a.propFile, "properties", "", "YAML file of index properties")
	pf.StringArrayVarP(&a.props, "set", "p", nil, "index property key=value (repeatable)")

	root.AddCommand(
		a.createCommand(),
		a.appendCommand(),
		a.catCommand(),
		a.dumpCommand(),
		a.selectCommand(),
		a.infoCommand(),
		a.terminateCommand(),
		a.remoteCommand(),
	)
	return root
}

// properties merges the property file, -p flags and the index path
func (a *app) properties(path string) (index.Properties, error) {
	props := index.Properties{}
	if a.propFile != "" {
		loaded, err := config.LoadProperties(a.propFile)
		if err != nil {
			return nil, err
		}
		for k, v := range loaded {
			props[k] = v
		}
	}
	for _, kv := range a.props {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("property %q is not key=value", kv)
		}
		props[strings.ToLower(strings.TrimSpace(k))] = v
	}
	if path != "" {
		props[index.PropIndexPath] = path
	}
	return props, nil
}

// open opens an index read only
func (a *app) open(path string) (*index.View, error) {
	props, err := a.properties(path)
	if err != nil {
		return nil, err
	}
	props[index.PropReadOnly] = "true"
	return a.factory.Open(props)
}

// parsePoint reads an integer as a position and anything else as a time
func parsePoint(s string) (index.Point, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return index.AbsolutePosition(n), nil
	}
	t, err := timestamp.Parse(s)
	if err != nil {
		return nil, err
	}
	return index.AbsoluteTime(t), nil
}

// parseSpan reads an integer as a count and anything else as a duration
func parseSpan(s string) (index.Span, error) {
	if s == "" {
		return nil, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return index.Count(n), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return nil, fmt.Errorf("%q is neither a count nor a duration", s)
	}
	return index.Elapsed(d), nil
}
