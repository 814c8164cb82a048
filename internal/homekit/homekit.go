package homekit

import (
	"context"
	"log/slog"

	"github.com/brutella/hap"
	hapaccessory "github.com/brutella/hap/accessory"
	"github.com/cybre/deskbridge/internal/config"
	"github.com/cybre/deskbridge/internal/errors"
	"github.com/cybre/deskbridge/internal/homekit/accessory"
	"github.com/cybre/deskbridge/internal/homekit/store"
)

// Accessories wraps every plugin in a bridged light bulb accessory, in order.
func Accessories(plugins []Plugin) []*hapaccessory.A {
	as := make([]*hapaccessory.A, 0, len(plugins))
	for _, p := range plugins {
		as = append(as, accessory.NewLightbulb(p.Info(), p.Services()...))
	}

	return as
}

// Serve publishes the bridge and its plugins and blocks until ctx is done.
func Serve(ctx context.Context, cfg config.Bridge, plugins []Plugin) error {
	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Warn("failed to close pairing store", slog.Any("error", err))
		}
	}()

	bridge := accessory.NewBridge(hapaccessory.Info{
		Name:         cfg.Name,
		SerialNumber: "0000001",
		Manufacturer: "Stefan Ric",
		Model:        "DESKBRIDGE-1",
		Firmware:     "0.1.0",
	})

	server, err := hap.NewServer(st, bridge, Accessories(plugins)...)
	if err != nil {
		return errors.Wrapf(err, "create hap server")
	}

	server.Pin = cfg.Pin
	if cfg.Addr != "" {
		server.Addr = cfg.Addr
	}

	slog.Info("starting hap server", slog.String("bridge", cfg.Name), slog.Int("accessories", len(plugins)))

	if err := server.ListenAndServe(ctx); err != nil && ctx.Err() == nil {
		return errors.Wrapf(err, "hap server")
	}

	return nil
}
