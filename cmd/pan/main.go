// Command pan runs one transformation definition to completion.
//
//	pan -f orders.jsonc
//	pan -f orders.yaml --validate
//	pan -f orders.yaml --metrics-backend datadog --statsd-addr 127.0.0.1:8125
//
// The exit code is 0 when every step finished, 1 when the run failed or was
// stopped, and 2 for usage or configuration errors.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"kettle/internal/config"
	"kettle/internal/engine"
	"kettle/internal/metrics"
	"kettle/internal/metrics/datadog"
	"kettle/internal/metrics/prompush"
	"kettle/internal/steps"

	// register every storage backend; the definition picks one per connection.
	_ "kettle/internal/storage/all"
)

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

type options struct {
	file           string
	validate       bool
	metricsBackend string
	pushgatewayURL string
	statsdAddr     string
	logLevel       string
	logFormat      string
	rowSetSize     int
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := pflag.NewFlagSet("pan", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&o.file, "file", "f", "", "transformation definition (.json, .jsonc, .yaml)")
	fs.BoolVar(&o.validate, "validate", false, "validate the definition and exit")
	fs.StringVar(&o.metricsBackend, "metrics-backend", "", "metrics backend: none, pushgateway or datadog (env METRICS_BACKEND)")
	fs.StringVar(&o.pushgatewayURL, "pushgateway-url", "", "Pushgateway base URL (env PUSHGATEWAY_URL)")
	fs.StringVar(&o.statsdAddr, "statsd-addr", "", "DogStatsD address (env DD_AGENT_ADDR)")
	fs.StringVar(&o.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	fs.StringVar(&o.logFormat, "log-format", "text", "log format: text or json")
	fs.IntVar(&o.rowSetSize, "rowset-size", 0, "row set capacity, overrides the definition")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.file == "" && fs.NArg() > 0 {
		o.file = fs.Arg(0)
	}
	if o.file == "" {
		return o, errors.New("a definition file is required (-f)")
	}
	return o, nil
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	hopts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, hopts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", format)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "pan: %v\n", err)
		return exitUsage
	}
	log, err := newLogger(stderr, o.logLevel, o.logFormat)
	if err != nil {
		fmt.Fprintf(stderr, "pan: %v\n", err)
		return exitUsage
	}

	t, err := config.Load(o.file)
	if err != nil {
		log.Error("load definition", "err", err)
		return exitUsage
	}
	t.ApplyEnv()
	if o.rowSetSize > 0 {
		t.Runtime.RowSetSize = o.rowSetSize
	}

	issues := config.ValidateTransformation(t)
	for _, iss := range issues {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		log.Error("definition is invalid", "file", o.file)
		return exitUsage
	}
	g, err := engine.GraphFromConfig(t)
	if err == nil {
		err = g.Validate()
	}
	if err != nil {
		log.Error("definition is invalid", "file", o.file, "err", err)
		return exitUsage
	}
	if o.validate {
		fmt.Fprintf(stdout, "definition is valid: %s\n", o.file)
		return exitOK
	}

	flush := setupMetrics(log, o, t.Name)
	defer flush()

	reg := steps.NewRegistry(steps.Env{Connections: config.NewConnections(t.Connections...)})
	tr := engine.New(g, reg, engine.WithLogger(log), engine.WithReporter(metrics.Reporter{}))
	res, err := tr.Execute(ctx)
	printSummary(stdout, res)
	if err != nil {
		log.Error("transformation failed", "run_id", res.RunID, "err", err)
		return exitFailed
	}
	if !res.Success() {
		return exitFailed
	}
	return exitOK
}

// setupMetrics installs the selected backend and returns its flush func.
// Backend errors are logged and leave metrics disabled.
func setupMetrics(log *slog.Logger, o options, job string) func() {
	name := o.metricsBackend
	if name == "" {
		name = os.Getenv("METRICS_BACKEND")
	}
	var b metrics.Backend
	switch name {
	case "", "none":
		return func() {}
	case "pushgateway":
		url := firstNonEmpty(o.pushgatewayURL, os.Getenv("PUSHGATEWAY_URL"), "http://localhost:9091")
		pb, err := prompush.NewBackend(job, url)
		if err != nil {
			log.Warn("metrics disabled", "backend", name, "err", err)
			return func() {}
		}
		b = pb
	case "datadog":
		addr := firstNonEmpty(o.statsdAddr, os.Getenv("DD_AGENT_ADDR"), "127.0.0.1:8125")
		db, err := datadog.NewBackend(datadog.Config{Addr: addr, Namespace: "kettle.", GlobalTags: []string{"trans:" + job}})
		if err != nil {
			log.Warn("metrics disabled", "backend", name, "err", err)
			return func() {}
		}
		b = db
	default:
		log.Warn("unknown metrics backend; metrics disabled", "backend", name)
		return func() {}
	}
	metrics.SetBackend(b)
	log.Debug("metrics enabled", "backend", name)
	return func() {
		if err := metrics.Close(); err != nil {
			log.Warn("metrics close", "err", err)
		}
	}
}

func printSummary(w io.Writer, res engine.Result) {
	fmt.Fprintf(w, "%s run %s: %s in %s\n", res.Name, res.RunID, res.Status, res.Duration.Truncate(time.Millisecond))
	fmt.Fprintf(w, "%-24s %4s %-9s %10s %10s %10s %10s %10s\n", "STEP", "COPY", "STATE", "READ", "WRITTEN", "INPUT", "OUTPUT", "REJECTED")
	for _, s := range res.Steps {
		fmt.Fprintf(w, "%-24s %4d %-9s %10d %10d %10d %10d %10d\n",
			s.Step, s.Copy, s.State, s.LinesRead, s.LinesWritten, s.LinesInput, s.LinesOutput, s.LinesRejected)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
