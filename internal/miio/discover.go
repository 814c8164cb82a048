package miio

import (
	"context"
	"encoding/hex"
	"log/slog"
	"net"
	"time"

	"github.com/cybre/deskbridge/internal/errors"
)

// broadcast address for hello discovery
const broadcastAddress = "255.255.255.255:" + defaultPort

// Discover broadcasts a hello and collects the devices that answer before
// wait elapses or ctx is done.
func Discover(ctx context.Context, wait time.Duration) ([]Info, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", broadcastAddress)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve broadcast address")
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, errors.Wrapf(err, "listen for hello replies")
	}
	defer conn.Close()

	return discover(ctx, conn, udpAddr, wait)
}

// discover sends a hello to target and reads replies on conn. Cancelling ctx
// unblocks the pending read right away.
func discover(ctx context.Context, conn *net.UDPConn, target *net.UDPAddr, wait time.Duration) ([]Info, error) {
	if _, err := conn.WriteToUDP(helloPacket(), target); err != nil {
		return nil, errors.Wrapf(err, "write hello to %s", target)
	}

	deadline := time.Now().Add(wait)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, errors.Wrapf(err, "set read deadline for discovery")
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	seen := make(map[string]bool)
	devices := make([]Info, 0)

	buf := make([]byte, 1024)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if ctx.Err() != nil {
			return devices, nil
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return devices, nil
			}

			return devices, errors.Wrapf(err, "read hello reply")
		}

		h, err := decodeHeader(buf[:n])
		if err != nil {
			slog.Debug("ignoring discovery reply", slog.String("from", from.String()), slog.Any("error", err))
			continue
		}

		addr := from.IP.String()
		if seen[addr] {
			continue
		}
		seen[addr] = true

		devices = append(devices, Info{
			Addr:     addr,
			DeviceID: h.deviceID,
			Stamp:    h.stamp,
			Token:    exposedToken(h.checksum),
		})
	}
}

// exposedToken returns the token an unprovisioned device puts in the checksum
// field of its hello reply. Provisioned devices send all 0x00 or all 0xff.
func exposedToken(checksum [16]byte) string {
	zeros, ones := true, true
	for _, b := range checksum {
		zeros = zeros && b == 0x00
		ones = ones && b == 0xff
	}

	if zeros || ones {
		return ""
	}

	return hex.EncodeToString(checksum[:])
}
