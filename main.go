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
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/cacheproxy/internal/admin"
	"github.com/die-net/cacheproxy/internal/cache/backend"
	"github.com/die-net/cacheproxy/internal/config"
	"github.com/die-net/cacheproxy/internal/dialer"
	"github.com/die-net/cacheproxy/internal/proxy"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("cacheproxy", pflag.ContinueOnError)
	cfg, err := config.Load(fs, args)
	if err != nil {
		return err
	}

	logger, closeLog, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	ka, err := cfg.KeepAlive()
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	d, err := dialer.New(dialer.Config{
		DialTimeout:        cfg.DialTimeout,
		NegotiationTimeout: cfg.NegotiationTimeout,
		KeepAlive:          ka,
		SSHKey:             cfg.SSHKey,
		SSHKnownHosts:      cfg.SSHKnownHosts,
		Logger:             logger.With().Str("component", "dialer").Logger(),
	}, cfg.Upstream)
	if err != nil {
		return fmt.Errorf("invalid --upstream: %w", err)
	}
	if c, ok := d.(io.Closer); ok {
		defer c.Close()
	}

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := backend.Open(ctx, cfg.CacheStore)
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing cache store")
		}
	}()

	if cfg.AdminListen != "" {
		adminSrv := &http.Server{
			Handler:           admin.NewRouter(store, logger.With().Str("server", "admin").Logger()),
			ReadHeaderTimeout: 10 * time.Second,
		}
		lc := net.ListenConfig{KeepAliveConfig: ka}
		adminLn, err := lc.Listen(ctx, "tcp", cfg.AdminListen)
		if err != nil {
			return fmt.Errorf("admin listen: %w", err)
		}
		context.AfterFunc(ctx, func() {
			_ = adminSrv.Close()
			_ = adminLn.Close()
		})

		g.Go(func() error {
			if err := adminSrv.Serve(adminLn); err != nil {
				return fmt.Errorf("admin serve: %w", err)
			}
			return nil
		})
		logger.Info().Str("addr", adminLn.Addr().String()).Msg("admin listening")
	}

	ln, err := proxy.ListenTCP("tcp", cfg.Listen, ka, cfg.ReusePort)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	srv := proxy.NewServer(ctx, proxy.Config{
		Store:             store,
		Dialer:            d,
		IOTimeout:         cfg.IOTimeout,
		TunnelIdleTimeout: cfg.TunnelIdleTimeout,
		Logger:            logger,
	})
	context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil {
			return fmt.Errorf("proxy serve: %w", err)
		}
		return nil
	})
	logger.Info().
		Str("addr", ln.Addr().String()).
		Str("upstream", cfg.Upstream).
		Str("cache_store", cfg.CacheStore).
		Msg("caching proxy listening")

	err = g.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	logger.Info().Msg("shutting down")
	return err
}

// newLogger builds the process logger from cfg, writing to w and, when
// configured, appending to a log file as well.
func newLogger(cfg config.Config, w io.Writer) (zerolog.Logger, func(), error) {
	level, err := cfg.Level()
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("invalid --log-level: %w", err)
	}

	out := w
	if cfg.LogFormat == "console" {
		out = zerolog.ConsoleWriter{Out: w}
	}

	outputs := []io.Writer{out}
	closeLog := func() {}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
		}
		outputs = append(outputs, f)
		closeLog = func() { _ = f.Close() }
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(outputs...)).
		Level(level).
		With().Timestamp().
		Logger()
	return logger, closeLog, nil
}
