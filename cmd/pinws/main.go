// Command pinws sends events to a pinws server and prints the replies.
//
// Each positional argument, or each stdin line when there are none, is a JSON
// event. Its reply body is printed on its own line.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/sonirico/pinws"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type flags struct {
	configPath   string
	endpoint     string
	headers      []string
	replyTimeout time.Duration
	sendRate     float64
	logLevel     string
	sync         bool
	listen       bool
}

func (f *flags) addFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&f.configPath, "config", "c", "", "YAML config file")
	flagSet.StringVarP(&f.endpoint, "endpoint", "e", "", "ws:// or wss:// endpoint, overrides the config file")
	flagSet.StringArrayVarP(&f.headers, "header", "H", nil, `dial header as "Key: Value", repeatable`)
	flagSet.DurationVar(&f.replyTimeout, "reply-timeout", 0, "give up on a reply after this long (0 waits forever)")
	flagSet.Float64Var(&f.sendRate, "rate", 0, "max events per second (0 is unlimited)")
	flagSet.StringVar(&f.logLevel, "log-level", "warn", "debug, info, warn or error")
	flagSet.BoolVar(&f.sync, "sync", false, "ask the server for its latest model first")
	flagSet.BoolVar(&f.listen, "listen", false, "print every model frame until interrupted")
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var f flags

	flagSet := pflag.NewFlagSet("pinws", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	f.addFlags(flagSet)

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := f.config(flagSet)
	if err != nil {
		return err
	}

	level, err := pinws.ParseLogLevel(f.logLevel)
	if err != nil {
		return err
	}

	client, err := pinws.NewFromConfig(cfg, pinws.WithLogWriter(stderr, level))
	if err != nil {
		return err
	}
	defer client.Close()

	out := &syncWriter{w: stdout}

	if f.listen {
		client.Subscribe(func(pin string, body json.RawMessage) {
			out.printf("model(%s) %s\n", pin, body)
		})
	}

	if f.sync {
		if err := client.Sync(ctx); err != nil {
			return errors.Wrap(err, "sync")
		}
	}

	events := flagSet.Args()
	if len(events) == 0 && !f.listen {
		if events, err = readLines(stdin); err != nil {
			return err
		}
	}

	for _, event := range events {
		body, err := client.Send(ctx, json.RawMessage(event))
		if err != nil {
			return errors.Wrapf(err, "send %s", event)
		}
		if !f.listen {
			out.printf("%s\n", body)
		}
	}

	if f.listen {
		<-ctx.Done()
	}

	return nil
}

// config reads the config file, if any, and applies flag overrides. The result
// is validated by NewFromConfig, so flags may fill what the file leaves out.
func (f *flags) config(flagSet *pflag.FlagSet) (pinws.Config, error) {
	cfg := pinws.DefaultConfig()
	if f.configPath != "" {
		loaded, err := pinws.ReadConfig(f.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	if flagSet.Changed("endpoint") {
		cfg.Endpoint = f.endpoint
	}
	if flagSet.Changed("reply-timeout") {
		cfg.ReplyTimeout = f.replyTimeout
	}
	if flagSet.Changed("rate") {
		cfg.SendRate = f.sendRate
	}

	for _, header := range f.headers {
		key, value, err := parseHeader(header)
		if err != nil {
			return cfg, err
		}
		if cfg.Headers == nil {
			cfg.Headers = make(map[string]string)
		}
		cfg.Headers[key] = value
	}

	return cfg, nil
}

func parseHeader(header string) (string, string, error) {
	key, value, ok := strings.Cut(header, ":")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", "", errors.Errorf("header %q is not \"Key: Value\"", header)
	}
	return key, strings.TrimSpace(value), nil
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}

	return lines, errors.Wrap(scanner.Err(), "read events")
}

// syncWriter serializes writes from listeners and the send loop.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format, args...)
}
