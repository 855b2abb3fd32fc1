// Command xdao-chand runs a self-contained channel directory for local
// development: the gRPC directory service plus the HTTP page endpoint,
// with shard bytes kept on the local filesystem.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"xdao.co/channels/directory/grpcdir"
	"xdao.co/channels/directory/memdir"
	"xdao.co/channels/identity"
	"xdao.co/channels/internal/config"
	"xdao.co/channels/internal/logging"
	"xdao.co/channels/storage"
	"xdao.co/channels/storage/localfs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	listen           string
	httpListen       string
	dataDir          string
	publicURL        string
	budgetKey        string
	budget           string
	multiplier       uint64
	replicationDelay time.Duration
	verbose          bool
}

func parseOptions(args []string, errOut io.Writer) (options, error) {
	var o options
	fs := pflag.NewFlagSet("xdao-chand", pflag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.StringVar(&o.listen, "listen", "127.0.0.1:3846", "gRPC listen address")
	fs.StringVar(&o.httpListen, "http", "127.0.0.1:3845", "page HTTP listen address")
	fs.StringVar(&o.dataDir, "data", "", "directory for shard bytes (default: in memory)")
	fs.StringVar(&o.publicURL, "storage-server", "", "storage server URL reported in shard receipts")
	fs.StringVar(&o.budgetKey, "budget-key", "", "seed a budget channel for this key")
	fs.StringVar(&o.budget, "budget", "1GiB", "storage of the seeded budget channel")
	fs.Uint64Var(&o.multiplier, "storage-multiplier", 1, "quota charged per stored byte")
	fs.DurationVar(&o.replicationDelay, "replication-delay", 0, "delay before shards become durable")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	if o.multiplier < 1 {
		return options{}, errors.New("--storage-multiplier must be at least 1")
	}
	return o, nil
}

func run(ctx context.Context, args []string, errOut io.Writer) int {
	o, err := parseOptions(args, errOut)
	if err != nil {
		if !errors.Is(err, pflag.ErrHelp) {
			fmt.Fprintln(errOut, err)
		}
		return 2
	}
	log, err := logging.New(logging.Options{Verbose: o.verbose, Level: os.Getenv(config.EnvLogLevel), Output: errOut})
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	defer func() { _ = log.Sync() }()

	backend, err := newBackend(o, log)
	if err != nil {
		log.Error("backend", zap.Error(err))
		return 1
	}
	defer backend.Close()

	grpcLis, err := net.Listen("tcp", o.listen)
	if err != nil {
		log.Error("listen", zap.Error(err))
		return 1
	}
	httpLis, err := net.Listen("tcp", o.httpListen)
	if err != nil {
		grpcLis.Close()
		log.Error("listen", zap.Error(err))
		return 1
	}
	if err := serve(ctx, grpcLis, httpLis, backend, log); err != nil {
		log.Error("serve", zap.Error(err))
		return 1
	}
	return 0
}

// newBackend builds the in-memory directory, with shard bytes on disk
// when a data directory is set.
func newBackend(o options, log *zap.Logger) (*memdir.Directory, error) {
	cfg := memdir.Config{
		StorageMultiplier: o.multiplier,
		StorageServer:     o.publicURL,
		ReplicationDelay:  o.replicationDelay,
		Logger:            log,
	}
	if o.dataDir != "" {
		primary, err := localfs.Open(filepath.Join(o.dataDir, "primary"))
		if err != nil {
			return nil, err
		}
		cfg.Primary = primary
		for _, name := range []string{"replica-a", "replica-b"} {
			r, err := localfs.Open(filepath.Join(o.dataDir, name))
			if err != nil {
				return nil, err
			}
			cfg.Replicas = append(cfg.Replicas, storage.Replica{Name: name, CAS: r})
		}
		log.Info("shards on disk", zap.String("primary", primary.Root()), zap.Int("replicas", len(cfg.Replicas)))
	}
	d := memdir.New(cfg)

	if o.budgetKey != "" {
		id, err := identity.Parse(o.budgetKey)
		if err != nil {
			return nil, fmt.Errorf("--budget-key: %w", err)
		}
		size, err := config.ParseSize(o.budget)
		if err != nil {
			return nil, fmt.Errorf("--budget: %w", err)
		}
		d.SeedChannel(id, size)
		log.Info("budget channel seeded", zap.Stringer("channel", id.Handle()), zap.String("storage", humanize.IBytes(size)))
	}
	return d, nil
}

// serve runs both listeners until ctx ends or one of them fails.
func serve(ctx context.Context, grpcLis, httpLis net.Listener, backend *memdir.Directory, log *zap.Logger) error {
	gs := grpc.NewServer(grpcdir.ServerOptions()...)
	grpcdir.RegisterDirectoryServer(gs, &grpcdir.Server{Backend: backend, Logger: log.Named("grpcdir")})
	hs := &http.Server{Handler: backend.Handler(), ReadHeaderTimeout: 10 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("directory listening", zap.String("addr", grpcLis.Addr().String()))
		return gs.Serve(grpcLis)
	})
	g.Go(func() error {
		log.Info("pages listening", zap.String("addr", httpLis.Addr().String()))
		if err := hs.Serve(httpLis); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		gs.GracefulStop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return hs.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
