// internal/discovery/probe.go
package discovery

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"modem-service/internal/protocol"
	"modem-service/internal/transport"
)

// Opener opens a link; transport.Open in production.
type Opener func(ctx context.Context, cfg transport.LinkConfig, logger *zap.Logger) (*transport.StreamHardware, error)

// ProbeResult is what a short AT conversation revealed.
type ProbeResult struct {
	Responds bool
	Firmware []string
}

// Probe opens cfg, says AT and asks for the firmware version, then closes
// the link again. A peer that never answers is not an error; failing to
// open the link is.
func Probe(ctx context.Context, open Opener, cfg transport.LinkConfig, timeout time.Duration, logger *zap.Logger) (*ProbeResult, error) {
	if open == nil {
		open = transport.Open
	}

	hw, err := open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s link: %w", cfg.Type, err)
	}
	defer hw.Close()

	ch, err := transport.NewChannel(hw, transport.Options{
		TxSize: 64,
		RxSize: 1024,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	if err := hw.Start(ch); err != nil {
		return nil, err
	}

	opts := protocol.DefaultOptions()
	opts.Timeouts = protocol.Timeouts{
		Basic:       timeout,
		Network:     timeout,
		Inbound:     timeout,
		Association: timeout,
		Transmit:    timeout,
	}
	opts.Logger = logger
	engine := protocol.New(ch, opts)

	result := &ProbeResult{}
	// Two tries: the first AT after power-up is often eaten by autobaud.
	for attempt := 0; attempt < 2 && !result.Responds; attempt++ {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Responds = engine.Ping() == nil
	}
	if !result.Responds {
		return result, nil
	}

	// Pin echo off so the version reply is not mistaken for an echo.
	if err := engine.SetEcho(false); err != nil {
		logger.Debug("Peer refused ATE0", zap.Error(err))
	}
	if version, err := engine.Version(); err == nil {
		result.Firmware = version
	} else {
		logger.Debug("Peer answered AT but not AT+GMR", zap.Error(err))
	}
	return result, nil
}
