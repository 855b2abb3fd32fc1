// Command xdao-chan manages storage channels: funding them, publishing
// pages into them, and storing encrypted shards.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"xdao.co/channels/directory"
	"xdao.co/channels/directory/grpcdir"
	"xdao.co/channels/fault"
	"xdao.co/channels/identity"
	"xdao.co/channels/internal/config"
	"xdao.co/channels/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runContext(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	return runContext(context.Background(), args, out, errOut)
}

// dialDirectory opens the directory client for cfg. Tests replace it.
var dialDirectory = func(cfg config.Config, log *zap.Logger) (directory.Client, func() error, error) {
	target, err := cfg.Target()
	if err != nil {
		return nil, nil, err
	}
	c, err := grpcdir.Dial(target, grpcdir.DialOptions{Logger: log})
	if err != nil {
		return nil, nil, err
	}
	return c, c.Close, nil
}

// usageError marks failures that exit with status 2.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return usageError{fmt.Errorf(format, args...)}
}

// app carries what every command needs once flags are parsed.
type app struct {
	out    io.Writer
	errOut io.Writer
	getenv func(string) string

	configPath string
	server     string
	grpcTarget string
	verbose    bool

	cfg  config.Config
	log  *zap.Logger
	keys *identity.KeyStore
}

func runContext(ctx context.Context, args []string, out, errOut io.Writer) int {
	a := &app{out: out, errOut: errOut, getenv: os.Getenv}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)

	err := root.ExecuteContext(ctx)
	if a.log != nil {
		_ = a.log.Sync()
	}
	return a.report(err)
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "xdao-chan",
		Short:         "Fund channels, publish pages and store shards",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usagef("unknown command %q", args[0])
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SetOut(a.errOut)
			_ = cmd.Help()
			return usagef("a command is required")
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default ~/.xdao/channels.toml)")
	pf.StringVar(&a.server, "server", "", "channel server base URL")
	pf.StringVar(&a.grpcTarget, "grpc-target", "", "directory gRPC endpoint")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		a.authorizeCommand(),
		a.publishCommand(),
		a.shardCommand(),
		a.shardifyCommand(),
		a.channelCommand(),
		a.tokenCommand(),
		a.identityCommand(),
	)
	return root
}

func (a *app) setup() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	path, required := a.configPath, a.configPath != ""
	if path == "" {
		if env := a.getenv(config.EnvConfig); env != "" {
			path, required = env, true
		} else {
			path = config.DefaultPath(home)
		}
	}
	cfg, err := config.Load(path, home, required, a.getenv)
	if err != nil {
		return err
	}
	if a.server != "" {
		cfg.Server = a.server
	}
	if a.grpcTarget != "" {
		cfg.GRPCTarget = a.grpcTarget
	}
	a.cfg = cfg

	log, err := logging.New(logging.Options{Verbose: a.verbose, Level: cfg.LogLevel, Console: true, Output: a.errOut})
	if err != nil {
		return err
	}
	a.log = log
	a.keys, err = identity.OpenKeyStore(cfg.KeysDir)
	return err
}

// connect dials the directory; the returned func closes it.
func (a *app) connect() (directory.Client, func(), error) {
	dir, closeFn, err := dialDirectory(a.cfg, a.log)
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	return dir, func() {
		if err := closeFn(); err != nil {
			a.log.Debug("close directory", zap.Error(err))
		}
	}, nil
}

// key resolves a -k style reference: key text or @name.
func (a *app) key(flag, ref string) (*identity.Identity, error) {
	if ref == "" {
		return nil, usagef("--%s is required", flag)
	}
	id, err := a.keys.Resolve(ref)
	if err != nil {
		return nil, usagef("--%s: %v", flag, err)
	}
	return id, nil
}

// budget resolves the budget key from the flag or the config. A nil
// identity means none was given.
func (a *app) budget(ref string) (*identity.Identity, error) {
	if ref == "" {
		ref = a.cfg.BudgetKey
	}
	if ref == "" {
		return nil, nil
	}
	return a.key("budget-key", ref)
}

func (a *app) report(err error) int {
	if err == nil {
		return 0
	}
	var ue usageError
	if errors.As(err, &ue) || errors.Is(err, pflag.ErrHelp) {
		fmt.Fprintf(a.errOut, "error: %v\nRun 'xdao-chan --help' for usage.\n", err)
		return 2
	}
	var fe *fault.Error
	switch {
	case errors.As(err, &fe):
		fmt.Fprintln(a.errOut, fe.Error())
	case fault.Classify(err) != fault.Other:
		fmt.Fprintln(a.errOut, fault.Wrap("", err).Error())
	default:
		fmt.Fprintf(a.errOut, "error: %v\n", err)
	}
	if hint := hintFor(err); hint != "" {
		fmt.Fprintln(a.errOut, hint)
	}
	return 1
}

// hinted adds a follow-up line to a failure report.
type hinted struct {
	error
	hint string
}

func (h hinted) Unwrap() error { return h.error }

func hintFor(err error) string {
	var h hinted
	if errors.As(err, &h) {
		return h.hint
	}
	return ""
}

func withHint(err error, hint string) error {
	if err == nil {
		return nil
	}
	return hinted{error: err, hint: hint}
}

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return usagef("%s takes no arguments, got %q", cmd.CommandPath(), args[0])
	}
	return nil
}
