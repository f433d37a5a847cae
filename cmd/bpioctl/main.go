// bpioctl talks BPIO2 to a Bus Pirate over its binary serial interface, and
// inspects recorded or dumped BPIO2 traffic offline.
//
// Global flags come before the command:
//
//	bpioctl [--config file] [--port dev] [--timeout d] [--capture db] [--wirelog dir] [-v] <command> [args]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/spf13/pflag"
)

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, e *env, args []string) error
}

var commands []*command

func register(c *command) {
	commands = append(commands, c)
}

func lookup(name string) *command {
	for _, c := range commands {
		if c.name == name {
			return c
		}
	}
	return nil
}

// env is what every command gets to work with.
type env struct {
	cfg    *Config
	logger *slog.Logger
	stdout io.Writer
	stderr io.Writer
}

type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{fmt.Sprintf(format, args...)}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var ue *usageError
		if errors.As(err, &ue) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var configPath string
	var verbose bool
	var ov overrides

	fs := pflag.NewFlagSet("bpioctl", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SetInterspersed(false)
	fs.StringVar(&configPath, "config", "", "YAML config file (default $"+configEnv+")")
	fs.BoolVarP(&verbose, "verbose", "v", false, "log debug messages")
	ov.addFlags(fs)
	fs.Usage = func() { printUsage(stderr, fs) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return &usageError{err.Error()}
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	ov.apply(fs, cfg)
	if verbose {
		cfg.LogLevel = "debug"
	}
	logger, err := newLogger(stderr, cfg.LogLevel)
	if err != nil {
		return err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		printUsage(stderr, fs)
		return usagef("no command given")
	}
	c := lookup(rest[0])
	if c == nil {
		return usagef("unknown command %q", rest[0])
	}
	e := &env{cfg: cfg, logger: logger.With("command", c.name), stdout: stdout, stderr: stderr}
	err = c.run(ctx, e, rest[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	return err
}

func printUsage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintf(w, "Usage: bpioctl [flags] <command> [args]\n\nCommands:\n")
	sorted := append([]*command(nil), commands...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].name < sorted[j].name })
	for _, c := range sorted {
		fmt.Fprintf(w, "  %-10s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(w, "\nFlags:\n%s", fs.FlagUsages())
}

// newFlagSet builds a command's flag set; a parse error is a usage error.
func newFlagSet(e *env, name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("bpioctl "+name, pflag.ContinueOnError)
	fs.SetOutput(e.stderr)
	return fs
}

func parseFlags(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return err
		}
		return &usageError{err.Error()}
	}
	return nil
}

func label(name string, args []string) string {
	return strings.TrimSpace(name + " " + strings.Join(args, " "))
}
