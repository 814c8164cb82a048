package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/cybre/deskbridge/internal/config"
	"github.com/cybre/deskbridge/internal/errors"
	"github.com/cybre/deskbridge/internal/homekit"
	"github.com/cybre/deskbridge/internal/lamp"
	"github.com/cybre/deskbridge/internal/miio"
	"golang.org/x/sync/errgroup"
)

const discoverTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	var loggerOpts *slog.HandlerOptions = nil
	if cfg.Debug {
		loggerOpts = &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, loggerOpts))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	command := "serve"
	if len(cfg.Args) > 0 {
		command = cfg.Args[0]
	}

	switch command {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "discover":
		err = discover(ctx)
	default:
		err = errors.Errorf("unknown command %q, want serve or discover", command)
	}

	if err != nil {
		slog.Error("deskbridge failed", slog.String("command", command), slog.String("stack", errors.Stack(err)))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := cfg.LoadFile(); err != nil {
		return errors.Wrapf(err, "load %s", cfg.AccessoriesPath)
	}

	registry := homekit.NewRegistry()
	registry.RegisterAccessory(lamp.PluginIdentifier, lamp.AccessoryIdentifier, lamp.Factory)

	plugins := registry.Build(ctx, logger, cfg.Accessories)
	if len(plugins) == 0 {
		slog.Warn("no accessories configured", slog.String("file", cfg.AccessoriesPath))
	}

	errGroup, groupCtx := errgroup.WithContext(ctx)
	errGroup.Go(func() error {
		return homekit.Serve(groupCtx, cfg.Bridge, plugins)
	})
	errGroup.Go(func() error {
		<-groupCtx.Done()
		slog.Info("shutting down")
		return nil
	})

	return errGroup.Wait()
}

func discover(ctx context.Context) error {
	slog.Info("looking for miio devices", slog.Duration("timeout", discoverTimeout))

	devices, err := miio.Discover(ctx, discoverTimeout)
	if err != nil {
		return errors.Wrapf(err, "discover devices")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tDEVICE ID\tTOKEN")
	for _, d := range devices {
		token := d.Token
		if token == "" {
			token = "-"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", d.Addr, d.DeviceID, token)
	}

	return w.Flush()
}
